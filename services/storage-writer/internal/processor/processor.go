package processor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/afikmenashe/orderflow-pipeline/pkg/events"
	"github.com/afikmenashe/orderflow-pipeline/pkg/retry"

	"github.com/segmentio/kafka-go"
)

const (
	// attemptTimeout bounds one storage transaction.
	attemptTimeout = 30 * time.Second
	// commitTimeout bounds an offset commit.
	commitTimeout = 10 * time.Second
)

// Processor persists each event, committing its offset only once storage has accepted it.
type Processor struct {
	reader  MessageReader
	storage EventStorage
	metrics MetricsRecorder
	retry   retry.Config
}

// NewProcessor creates a processor with no-op metrics.
func NewProcessor(reader MessageReader, storage EventStorage) *Processor {
	return NewProcessorWithMetrics(reader, storage, nil)
}

// NewProcessorWithMetrics creates a processor with the provided metrics recorder.
// If m is nil, a no-op implementation is used.
func NewProcessorWithMetrics(reader MessageReader, storage EventStorage, m MetricsRecorder) *Processor {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &Processor{
		reader:  reader,
		storage: storage,
		metrics: m,
		retry: retry.Config{
			MaxRetries:     retry.Unlimited,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			BackoffFactor:  2.0,
		},
	}
}

// SetRetryBackoff overrides the wait between storage attempts.
func (p *Processor) SetRetryBackoff(initial, max time.Duration) {
	p.retry.InitialBackoff = initial
	p.retry.MaxBackoff = max
}

// ProcessEvents runs until ctx is cancelled. An event whose transaction is in flight when
// shutdown starts is finished and committed, or left uncommitted for redelivery.
func (p *Processor) ProcessEvents(ctx context.Context) error {
	slog.Info("Starting storage loop")

	failures := 0
	for {
		select {
		case <-ctx.Done():
			slog.Info("Storage loop stopped")
			return nil
		default:
		}

		ev, msg, err := p.reader.ReadMessage(ctx)
		if ctx.Err() != nil {
			slog.Info("Storage loop stopped")
			return nil
		}
		if err != nil {
			if msg != nil && errors.Is(err, events.ErrDecode) {
				// Content can never become valid, so move past it.
				slog.Error("Skipping malformed event", "error", err)
				p.metrics.RecordReceived()
				p.metrics.RecordError()
				p.metrics.IncrementCustom("events_malformed")
				p.commit(ctx, msg, "")
				continue
			}
			slog.Error("Failed to read event", "error", err)
			p.metrics.RecordError()
			if !sleep(ctx, retry.Backoff(p.retry, failures)) {
				slog.Info("Storage loop stopped")
				return nil
			}
			failures++
			continue
		}
		failures = 0

		p.handle(ctx, ev, msg)
	}
}

func (p *Processor) handle(ctx context.Context, ev *events.NormalizedEvent, msg *kafka.Message) {
	start := time.Now()
	p.metrics.RecordReceived()

	work := context.WithoutCancel(ctx)
	var result struct {
		audit, projection bool
	}
	err := retry.WithRetry(ctx, p.retry, "apply_event", func(context.Context) error {
		attemptCtx, cancel := context.WithTimeout(work, attemptTimeout)
		defer cancel()
		res, err := p.storage.ApplyEvent(attemptCtx, ev)
		if err != nil {
			p.metrics.RecordError()
			if errors.Is(err, events.ErrDecode) {
				return retry.Permanent(err)
			}
			return err
		}
		result.audit, result.projection = res.AuditInserted, res.ProjectionApplied
		return nil
	})
	if err != nil {
		if retry.IsPermanent(err) {
			slog.Error("Skipping event rejected by storage",
				"event_id", ev.EventID,
				"offer_id", ev.OfferID,
				"error", err,
			)
			p.metrics.IncrementCustom("events_malformed")
			p.commit(ctx, msg, ev.EventID)
			return
		}
		slog.Warn("Stopped before event was stored, leaving it uncommitted",
			"event_id", ev.EventID,
			"error", err,
		)
		return
	}

	if result.audit {
		p.metrics.IncrementCustom("audit_rows_inserted")
	} else {
		p.metrics.IncrementCustom("audit_rows_duplicate")
	}
	if result.projection {
		p.metrics.IncrementCustom("projection_updates")
	}
	slog.Debug("Stored event",
		"event_id", ev.EventID,
		"offer_id", ev.OfferID,
		"sequence", ev.Sequence,
		"audit_inserted", result.audit,
		"projection_applied", result.projection,
	)

	p.commit(ctx, msg, ev.EventID)
	p.metrics.RecordProcessed(time.Since(start))
	p.metrics.RecordPublished()
}

func (p *Processor) commit(ctx context.Context, msg *kafka.Message, eventID string) {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := p.reader.CommitMessage(commitCtx, msg); err != nil {
		slog.Error("Failed to commit offset",
			"event_id", eventID,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
