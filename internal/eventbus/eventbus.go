// Package eventbus publishes appended history events to a Watermill
// message bus so other services can follow instance progress.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/petrijr/pedidoflow/pkg/api"
)

const (
	// DefaultTopic receives every history event.
	DefaultTopic = "pedidoflow.history"

	InstanceIDMetadataKey = "instance_id"
	EventTypeMetadataKey  = "event_type"
	SeqMetadataKey        = "seq"
)

// Publisher is an api.Observer that forwards OnEventAppended callbacks to
// a Watermill publisher. Other callbacks are ignored.
type Publisher struct {
	api.NoopObserver

	publisher message.Publisher
	topic     string
	logger    *slog.Logger
}

var _ api.Observer = (*Publisher)(nil)

// NewPublisher wraps pub. An empty topic selects DefaultTopic.
func NewPublisher(pub message.Publisher, topic string, logger *slog.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{publisher: pub, topic: topic, logger: logger}
}

// Topic returns the topic events are published to.
func (p *Publisher) Topic() string { return p.topic }

// Publish sends ev as a JSON message keyed by instance id.
func (p *Publisher) Publish(ctx context.Context, ev api.HistoryEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(InstanceIDMetadataKey, ev.InstanceID)
	msg.Metadata.Set(EventTypeMetadataKey, string(ev.Type))
	msg.Metadata.Set(SeqMetadataKey, strconv.Itoa(ev.Seq))
	msg.SetContext(ctx)

	return p.publisher.Publish(p.topic, msg)
}

// OnEventAppended publishes ev. The event is already durable, so a publish
// failure is logged and otherwise ignored.
func (p *Publisher) OnEventAppended(ctx context.Context, ev api.HistoryEvent) {
	if err := p.Publish(ctx, ev); err != nil {
		p.logger.WarnContext(ctx, "failed to publish history event",
			"instance_id", ev.InstanceID,
			"seq", ev.Seq,
			"type", ev.Type,
			"error", err,
		)
	}
}

// Close closes the underlying publisher.
func (p *Publisher) Close() error {
	return p.publisher.Close()
}

// Decode turns a message produced by Publish back into a history event.
func Decode(msg *message.Message) (api.HistoryEvent, error) {
	var ev api.HistoryEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return api.HistoryEvent{}, fmt.Errorf("decode message %s: %w", msg.UUID, err)
	}
	if ev.InstanceID == "" || ev.Type == "" {
		return api.HistoryEvent{}, errors.New("message " + msg.UUID + " is not a history event")
	}
	return ev, nil
}
