package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/pedidoflow/pkg/api"
)

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestPublisher_PublishesAppendedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewGoChannel(watermill.NopLogger{})
	defer bus.Close()

	messages, err := bus.Subscribe(ctx, DefaultTopic)
	require.NoError(t, err)

	p := NewPublisher(bus, "", nil)
	assert.Equal(t, DefaultTopic, p.Topic())

	started := api.ExecutionStarted("i-1", "orders", json.RawMessage(`{"id":1}`))
	scheduled := api.TaskScheduled("i-1", 1, "check", json.RawMessage(`1`))
	scheduled.Seq = 1

	p.OnEventAppended(ctx, started)
	p.OnEventAppended(ctx, scheduled)

	// gochannel delivers concurrent publishes in no particular order.
	bySeq := map[string]*message.Message{}
	for range 2 {
		msg := receive(t, messages)
		bySeq[msg.Metadata.Get(SeqMetadataKey)] = msg
	}
	first, second := bySeq["0"], bySeq["1"]
	require.NotNil(t, first)
	require.NotNil(t, second)

	assert.Equal(t, "i-1", first.Metadata.Get(InstanceIDMetadataKey))
	assert.Equal(t, string(api.EventExecutionStarted), first.Metadata.Get(EventTypeMetadataKey))

	ev, err := Decode(second)
	require.NoError(t, err)
	assert.Equal(t, api.EventTaskScheduled, ev.Type)
	assert.Equal(t, 1, ev.TaskID)
	assert.Equal(t, "check", ev.Name)
	assert.JSONEq(t, `1`, string(ev.Payload))
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(topic string, msgs ...*message.Message) error {
	f.calls++
	return errors.New("broker down")
}

func (f *failingPublisher) Close() error { return nil }

func TestPublisher_FailureIsNotPropagated(t *testing.T) {
	fp := &failingPublisher{}
	p := NewPublisher(fp, "custom", nil)

	require.NotPanics(t, func() {
		p.OnEventAppended(context.Background(), api.ExecutionStarted("i-1", "orders", nil))
	})
	assert.Equal(t, 1, fp.calls)

	err := p.Publish(context.Background(), api.ExecutionStarted("i-1", "orders", nil))
	require.Error(t, err)
}

func TestDecode_RejectsForeignMessages(t *testing.T) {
	_, err := Decode(message.NewMessage("m-1", []byte("not json")))
	require.Error(t, err)

	_, err = Decode(message.NewMessage("m-2", []byte(`{"hello":"world"}`)))
	require.Error(t, err)
}

func TestOpen(t *testing.T) {
	p, err := Open(Config{Provider: ProviderNone}, nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = Open(Config{Provider: ProviderGoChannel, Topic: "t"}, nil)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "t", p.Topic())
	require.NoError(t, p.Close())

	_, err = Open(Config{Provider: ProviderKafka}, nil)
	require.Error(t, err)

	_, err = Open(Config{Provider: "nats"}, nil)
	require.Error(t, err)
}
