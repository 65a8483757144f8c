package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/afikmenashe/orderflow-pipeline/pkg/events"

	"github.com/segmentio/kafka-go"
)

// EventConsumer reads canonical events as a member of a consumer group. Offsets move only
// through CommitMessage.
type EventConsumer struct {
	reader *kafka.Reader
	topic  string
}

// NewEventConsumer creates a consumer in groupID for topic.
func NewEventConsumer(brokers, topic, groupID string) (*EventConsumer, error) {
	if err := ValidateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}

	brokerList := ParseBrokers(brokers)

	slog.Info("Initializing Kafka consumer",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	cfg := NewReaderConfig(brokerList, topic, groupID)
	LogReaderConfig(cfg)

	return &EventConsumer{
		reader: kafka.NewReader(cfg),
		topic:  topic,
	}, nil
}

// ReadMessage fetches the next message and decodes it. When decoding fails the raw message
// is still returned, together with an error wrapping events.ErrDecode, so the caller can
// commit past it.
func (c *EventConsumer) ReadMessage(ctx context.Context) (*events.NormalizedEvent, *kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch message from Kafka: %w", err)
	}

	ev, err := events.DecodeNormalizedEvent(msg.Value)
	if err != nil {
		return nil, &msg, fmt.Errorf("partition %d offset %d: %w", msg.Partition, msg.Offset, err)
	}
	return ev, &msg, nil
}

// CommitMessage commits the offset for the given message.
func (c *EventConsumer) CommitMessage(ctx context.Context, msg *kafka.Message) error {
	return c.reader.CommitMessages(ctx, *msg)
}

// Close gracefully closes the Kafka reader and releases resources.
func (c *EventConsumer) Close() error {
	slog.Info("Closing Kafka consumer", "topic", c.topic)
	if err := c.reader.Close(); err != nil {
		slog.Error("Error closing Kafka consumer", "error", err)
		return err
	}
	slog.Info("Kafka consumer closed successfully")
	return nil
}
