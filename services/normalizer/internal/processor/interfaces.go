// Package processor drives the normalizer: ledger notifications in, canonical events out.
package processor

import (
	"context"

	"github.com/afikmenashe/orderflow-pipeline/pkg/events"
	"github.com/afikmenashe/orderflow-pipeline/services/normalizer/internal/ledger"
)

// LogSource delivers ledger log notifications for the contract.
type LogSource interface {
	// Subscribe establishes the subscription. The channel is closed when ctx is done.
	Subscribe(ctx context.Context) (<-chan ledger.Notification, error)
}

// EventNormalizer extracts canonical events from one notification.
type EventNormalizer interface {
	Normalize(n ledger.Notification) []events.NormalizedEvent
}

// EventPublisher publishes normalized events to the events topic.
type EventPublisher interface {
	// Publish returns an error once its own retry budget is spent.
	Publish(ctx context.Context, ev *events.NormalizedEvent) error

	// Close closes the publisher and releases resources.
	Close() error
}
