package processor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/afikmenashe/orderflow-pipeline/pkg/events"
	"github.com/afikmenashe/orderflow-pipeline/pkg/retry"

	"github.com/segmentio/kafka-go"
)

const (
	// fetchBuffer bounds how far the fetcher may run ahead of evaluation.
	fetchBuffer = 64
	// attemptTimeout bounds one evaluation attempt, including state store calls and publishes.
	attemptTimeout = 30 * time.Second
	// commitTimeout bounds an offset commit.
	commitTimeout = 10 * time.Second
)

// fetched is one message handed from the fetcher to the evaluation loop.
type fetched struct {
	ev  *events.NormalizedEvent
	msg *kafka.Message
	err error
}

// Processor evaluates rules for each event. Rule state is touched only by the goroutine
// running ProcessEvents; a separate fetcher feeds it over a bounded channel.
type Processor struct {
	reader    MessageReader
	evaluator RuleEvaluator
	dedup     AlertDedup
	publisher AlertPublisher
	metrics   MetricsRecorder
	retry     retry.Config
}

// NewProcessor creates a processor with no-op metrics.
func NewProcessor(reader MessageReader, evaluator RuleEvaluator, dedup AlertDedup, publisher AlertPublisher) *Processor {
	return NewProcessorWithMetrics(reader, evaluator, dedup, publisher, nil)
}

// NewProcessorWithMetrics creates a processor with the provided metrics recorder.
// If m is nil, a no-op implementation is used.
func NewProcessorWithMetrics(reader MessageReader, evaluator RuleEvaluator, dedup AlertDedup, publisher AlertPublisher, m MetricsRecorder) *Processor {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &Processor{
		reader:    reader,
		evaluator: evaluator,
		dedup:     dedup,
		publisher: publisher,
		metrics:   m,
		retry: retry.Config{
			MaxRetries:     retry.Unlimited,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			BackoffFactor:  2.0,
		},
	}
}

// SetRetryBackoff overrides the wait between attempts when the state store fails.
func (p *Processor) SetRetryBackoff(initial, max time.Duration) {
	p.retry.InitialBackoff = initial
	p.retry.MaxBackoff = max
}

// ProcessEvents runs until ctx is cancelled. The event being evaluated when shutdown starts
// is finished (or left uncommitted) before it returns.
func (p *Processor) ProcessEvents(ctx context.Context) error {
	slog.Info("Starting risk evaluation loop")

	inbox := make(chan fetched, fetchBuffer)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.fetch(ctx, inbox)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Risk evaluation loop stopped")
			return nil
		case item, ok := <-inbox:
			// Buffered items left after shutdown starts stay uncommitted for redelivery.
			if !ok || ctx.Err() != nil {
				slog.Info("Risk evaluation loop stopped")
				return nil
			}
			if !p.handle(ctx, item) {
				// Committing anything after an unfinished event would skip it.
				slog.Info("Risk evaluation loop stopped")
				return nil
			}
		}
	}
}

// fetch reads messages into inbox until ctx is done, then closes it.
func (p *Processor) fetch(ctx context.Context, inbox chan<- fetched) {
	defer close(inbox)

	failures := 0
	for {
		ev, msg, err := p.reader.ReadMessage(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil && (msg == nil || !errors.Is(err, events.ErrDecode)) {
			slog.Error("Failed to read event", "error", err)
			p.metrics.RecordError()
			if !sleep(ctx, retry.Backoff(p.retry, failures)) {
				return
			}
			failures++
			continue
		}
		failures = 0

		select {
		case inbox <- fetched{ev: ev, msg: msg, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

// handle processes one item and reports whether it was committed.
func (p *Processor) handle(ctx context.Context, item fetched) bool {
	start := time.Now()
	p.metrics.RecordReceived()

	if item.err != nil {
		// Content can never become valid, so move past it.
		slog.Error("Skipping malformed event", "error", item.err)
		p.metrics.RecordError()
		p.metrics.IncrementCustom("events_malformed")
		p.commit(ctx, item.msg, "")
		return true
	}

	ev := item.ev
	work := context.WithoutCancel(ctx)
	err := retry.WithRetry(ctx, p.retry, "evaluate_event", func(context.Context) error {
		attemptCtx, cancel := context.WithTimeout(work, attemptTimeout)
		defer cancel()
		return p.evaluate(attemptCtx, ev)
	})
	if err != nil {
		slog.Warn("Stopped before event was evaluated, leaving it uncommitted",
			"event_id", ev.EventID,
			"error", err,
		)
		return false
	}

	p.commit(ctx, item.msg, ev.EventID)
	p.metrics.RecordProcessed(time.Since(start))
	return true
}

// evaluate runs the rules for ev and emits every alert not emitted before. A failed attempt
// may be repeated: windows ignore an already counted event and marked alerts stay suppressed.
func (p *Processor) evaluate(ctx context.Context, ev *events.NormalizedEvent) error {
	alerts, err := p.evaluator.Evaluate(ctx, ev)
	if err != nil {
		p.metrics.RecordError()
		return err
	}

	for i := range alerts {
		alert := &alerts[i]
		isNew, err := p.dedup.MarkIfNew(ctx, alert.AlertID)
		if err != nil {
			p.metrics.RecordError()
			return err
		}
		if !isNew {
			p.metrics.IncrementCustom("alerts_suppressed")
			slog.Debug("Suppressing duplicate alert",
				"alert_id", alert.AlertID,
				"event_id", ev.EventID,
			)
			continue
		}

		slog.Info("ALERT",
			"alert_id", alert.AlertID,
			"rule_id", alert.RuleID,
			"severity", alert.Severity,
			"subject", alert.Subject,
			"event_id", ev.EventID,
		)
		p.metrics.IncrementCustom("alerts_" + alert.RuleID)

		if err := p.publisher.Publish(ctx, alert); err != nil {
			// Alerts are best effort; the audit log is the record of truth.
			slog.Error("Failed to publish alert",
				"alert_id", alert.AlertID,
				"error", err,
			)
			p.metrics.RecordError()
			p.metrics.IncrementCustom("alerts_publish_failed")
			continue
		}
		p.metrics.RecordPublished()
	}
	return nil
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
