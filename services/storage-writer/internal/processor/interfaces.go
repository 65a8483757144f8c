// Package processor runs the storage writer loop: events in, audit rows and projections out.
package processor

import (
	"context"

	"github.com/afikmenashe/orderflow-pipeline/pkg/events"
	"github.com/afikmenashe/orderflow-pipeline/services/storage-writer/internal/database"

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

// EventStorage applies events to durable storage. ApplyEvent must be idempotent.
type EventStorage interface {
	ApplyEvent(ctx context.Context, ev *events.NormalizedEvent) (database.ApplyResult, error)
}
