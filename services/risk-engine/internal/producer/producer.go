// Package producer publishes alerts to the alerts topic.
package producer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/afikmenashe/orderflow-pipeline/pkg/events"
	kafkautil "github.com/afikmenashe/orderflow-pipeline/pkg/kafka"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
)

// Breaker defaults: trip after consecutiveFailures in a row, probe again after openTimeout.
const (
	consecutiveFailures = 5
	openTimeout         = 30 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes alerts keyed by subject so each maker's alerts stay in order. Publishing is
// a single attempt behind a circuit breaker; while the breaker is open publishes fail fast.
type Producer struct {
	writer  messageWriter
	topic   string
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewProducer creates a producer for the alerts topic.
func NewProducer(brokers, topic string) (*Producer, error) {
	if err := kafkautil.ValidateProducerParams(brokers, topic); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka producer",
		"brokers", brokerList,
		"topic", topic,
		"partition_key", "subject (hashed)",
	)

	return newProducer(kafkautil.NewKeyedWriter(brokerList, topic), topic, openTimeout), nil
}

func newProducer(w messageWriter, topic string, timeout time.Duration) *Producer {
	settings := gobreaker.Settings{
		Name:        "alerts-publisher",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
	return &Producer{
		writer:  w,
		topic:   topic,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

func buildMessage(alert *events.AlertEvent) (kafka.Message, error) {
	payload, err := events.EncodeAlertEvent(alert)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(alert.Subject),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "alert_id", Value: []byte(alert.AlertID)},
			{Key: "rule_id", Value: []byte(alert.RuleID)},
		},
		Time: time.Now(),
	}, nil
}

// Publish makes one attempt to write alert.
func (p *Producer) Publish(ctx context.Context, alert *events.AlertEvent) error {
	msg, err := buildMessage(alert)
	if err != nil {
		return err
	}

	_, err = p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to publish alert %s to %s: %w", alert.AlertID, p.topic, err)
	}
	return nil
}

// State reports the breaker state for logging.
func (p *Producer) State() string {
	return p.breaker.State().String()
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
