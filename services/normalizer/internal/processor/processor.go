package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/afikmenashe/orderflow-pipeline/services/normalizer/internal/ledger"
)

// Processor forwards every event found in the ledger feed to the events topic.
type Processor struct {
	source     LogSource
	normalizer EventNormalizer
	publisher  EventPublisher
	metrics    MetricsRecorder
}

// NewProcessor creates a processor with no-op metrics.
func NewProcessor(source LogSource, normalizer EventNormalizer, publisher EventPublisher) *Processor {
	return NewProcessorWithMetrics(source, normalizer, publisher, nil)
}

// NewProcessorWithMetrics creates a processor with the provided metrics recorder.
// If m is nil, a no-op implementation is used.
func NewProcessorWithMetrics(source LogSource, normalizer EventNormalizer, publisher EventPublisher, m MetricsRecorder) *Processor {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &Processor{
		source:     source,
		normalizer: normalizer,
		publisher:  publisher,
		metrics:    m,
	}
}

// Run subscribes to the ledger and publishes events until ctx is cancelled or the feed ends.
// Only a failure to establish the subscription is returned.
func (p *Processor) Run(ctx context.Context) error {
	feed, err := p.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to ledger logs: %w", err)
	}

	slog.Info("Starting normalization loop")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Normalization loop stopped")
			return nil
		case n, ok := <-feed:
			if !ok {
				slog.Info("Ledger feed closed, normalization loop stopped")
				return nil
			}
			// A notification is finished even if shutdown starts midway; the publish budget bounds it.
			p.handleNotification(context.WithoutCancel(ctx), n)
		}
	}
}

func (p *Processor) handleNotification(ctx context.Context, n ledger.Notification) {
	start := time.Now()
	p.metrics.RecordReceived()

	if n.Failed {
		p.metrics.IncrementCustom("failed_transactions_skipped")
	}

	evs := p.normalizer.Normalize(n)
	for i := range evs {
		ev := &evs[i]
		p.metrics.IncrementCustom("events_normalized")

		if err := p.publisher.Publish(ctx, ev); err != nil {
			slog.Error("Dropping event after exhausting publish attempts",
				"event_id", ev.EventID,
				"offer_id", ev.OfferID,
				"sequence", ev.Sequence,
				"error", err,
			)
			p.metrics.RecordError()
			p.metrics.IncrementCustom("events_dropped")
			continue
		}
		p.metrics.RecordPublished()
	}

	if len(evs) > 0 {
		slog.Info("Processed ledger transaction",
			"signature", n.Signature,
			"sequence", n.Sequence,
			"events", len(evs),
		)
	}
	p.metrics.RecordProcessed(time.Since(start))
}
