// Package processor runs the risk engine loop: events in, de-duplicated alerts out.
package processor

import (
	"context"

	"github.com/afikmenashe/orderflow-pipeline/pkg/events"

	"github.com/segmentio/kafka-go"
)

// MessageReader reads canonical events from the events topic.
type MessageReader interface {
	// ReadMessage reads the next event. On a decode failure it returns the raw message with
	// an error wrapping events.ErrDecode.
	ReadMessage(ctx context.Context) (*events.NormalizedEvent, *kafka.Message, error)

	// CommitMessage commits the offset for the given message.
	CommitMessage(ctx context.Context, msg *kafka.Message) error

	// Close closes the reader and releases resources.
	Close() error
}

// RuleEvaluator returns the candidate alerts for an event.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, ev *events.NormalizedEvent) ([]events.AlertEvent, error)
}

// AlertDedup remembers emitted alert ids.
type AlertDedup interface {
	// MarkIfNew records alertID and reports whether it had not been recorded before.
	MarkIfNew(ctx context.Context, alertID string) (bool, error)
}

// AlertPublisher publishes alerts to the alerts topic.
type AlertPublisher interface {
	Publish(ctx context.Context, alert *events.AlertEvent) error
	Close() error
}
