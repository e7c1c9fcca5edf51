package eventbus

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	ProviderNone      = "none"
	ProviderGoChannel = "gochannel"
	ProviderKafka     = "kafka"
)

// Config selects and configures the message bus.
type Config struct {
	Provider string
	Brokers  []string
	Topic    string
}

// Open builds the publisher selected by cfg.Provider. It returns a nil
// Publisher for ProviderNone or an empty provider.
func Open(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	wlogger := watermill.NewSlogLogger(logger)

	var pub message.Publisher
	switch cfg.Provider {
	case "", ProviderNone:
		return nil, nil
	case ProviderGoChannel:
		pub = NewGoChannel(wlogger)
	case ProviderKafka:
		kp, err := NewKafkaPublisher(cfg.Brokers, wlogger)
		if err != nil {
			return nil, err
		}
		pub = kp
	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", cfg.Provider)
	}
	return NewPublisher(pub, cfg.Topic, logger), nil
}

// NewGoChannel returns an in-process pub/sub. It implements both
// message.Publisher and message.Subscriber.
func NewGoChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            1000,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)
}

// NewKafkaPublisher returns a synchronous Kafka publisher for brokers.
func NewKafkaPublisher(brokers []string, logger watermill.LoggerAdapter) (*kafka.Publisher, error) {
	if len(brokers) == 0 || brokers[0] == "" {
		return nil, errors.New("kafka event bus requires at least one broker")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true

	return kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaConfig,
		},
		logger,
	)
}

// NewKafkaSubscriber returns a subscriber in consumer group "cg-<group>"
// reading from the oldest offset.
func NewKafkaSubscriber(brokers []string, group string, logger watermill.LoggerAdapter) (*kafka.Subscriber, error) {
	if len(brokers) == 0 || brokers[0] == "" {
		return nil, errors.New("kafka event bus requires at least one broker")
	}

	saramaConfig := kafka.DefaultSaramaSubscriberConfig()
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	return kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaConfig,
			ConsumerGroup:         "cg-" + group,
		},
		logger,
	)
}
