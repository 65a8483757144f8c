// Package producer publishes normalized events to the events topic.
package producer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/afikmenashe/orderflow-pipeline/pkg/events"
	kafkautil "github.com/afikmenashe/orderflow-pipeline/pkg/kafka"
	"github.com/afikmenashe/orderflow-pipeline/pkg/retry"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes events keyed by offer_id so each offer's events stay on one partition, in order.
type Producer struct {
	writer messageWriter
	topic  string
	retry  retry.Config
}

// NewProducer creates a producer that tries each publish up to attempts times, giving every
// attempt at most attemptTimeout.
func NewProducer(brokers, topic string, attempts int, attemptTimeout time.Duration) (*Producer, error) {
	if err := kafkautil.ValidateProducerParams(brokers, topic); err != nil {
		return nil, err
	}
	if attempts < 1 {
		return nil, fmt.Errorf("attempts must be >= 1")
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka producer",
		"brokers", brokerList,
		"topic", topic,
		"attempts", attempts,
		"attempt_timeout", attemptTimeout,
		"partition_key", "offer_id (hashed)",
	)

	return newProducer(kafkautil.NewKeyedWriter(brokerList, topic), topic, attempts, attemptTimeout), nil
}

func newProducer(w messageWriter, topic string, attempts int, attemptTimeout time.Duration) *Producer {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = attempts - 1
	cfg.AttemptTimeout = attemptTimeout
	return &Producer{writer: w, topic: topic, retry: cfg}
}

// buildMessage creates a Kafka message keyed by offer_id.
func buildMessage(ev *events.NormalizedEvent) (kafka.Message, error) {
	payload, err := events.EncodeNormalizedEvent(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.OfferID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.EventID)},
			{Key: "event_kind", Value: []byte(ev.EventKind)},
		},
		Time: time.Now(),
	}, nil
}

// Publish writes ev within the retry budget. It returns the last error once the budget is
// spent; it never blocks past the budget.
func (p *Producer) Publish(ctx context.Context, ev *events.NormalizedEvent) error {
	msg, err := buildMessage(ev)
	if err != nil {
		return err
	}

	err = retry.WithRetry(ctx, p.retry, "publish_event", func(ctx context.Context) error {
		return p.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event %s to %s: %w", ev.EventID, p.topic, err)
	}

	slog.Debug("Published event",
		"event_id", ev.EventID,
		"offer_id", ev.OfferID,
		"event_kind", ev.EventKind,
	)
	return nil
}

// Close gracefully closes the Kafka writer and releases resources.
func (p *Producer) Close() error {
	slog.Info("Closing Kafka producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		slog.Error("Error closing Kafka producer", "error", err)
		return err
	}
	slog.Info("Kafka producer closed successfully")
	return nil
}
