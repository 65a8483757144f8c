// Package rules evaluates the risk rules against canonical escrow events.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/afikmenashe/orderflow-pipeline/pkg/events"
	"github.com/afikmenashe/orderflow-pipeline/services/risk-engine/internal/state"
)

// Defaults for Config.
const (
	DefaultCancelWindow         = 10 * time.Minute
	DefaultCancelThreshold      = 5
	DefaultLargeAmountThreshold = uint64(1_000_000_000)
)

// Config holds the rule thresholds.
type Config struct {
	// CancelWindow is how far back cancellations count toward freq_cancel.
	CancelWindow time.Duration
	// CancelThreshold is the number of cancellations within CancelWindow that fires freq_cancel.
	CancelThreshold int
	// LargeAmountThreshold fires large_amount when either amount reaches it.
	LargeAmountThreshold uint64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		CancelWindow:         DefaultCancelWindow,
		CancelThreshold:      DefaultCancelThreshold,
		LargeAmountThreshold: DefaultLargeAmountThreshold,
	}
}

// Engine evaluates every rule for an event. It updates the per-maker cancellation windows
// but does not de-duplicate the alerts it returns.
type Engine struct {
	cfg     Config
	windows *state.Windows
	now     func() uint64
}

// NewEngine creates an engine over windows.
func NewEngine(cfg Config, windows *state.Windows) *Engine {
	return &Engine{cfg: cfg, windows: windows, now: events.NowMillis}
}

// SetClock overrides the clock used for emitted_at_ms and for events without an ingest time.
func (e *Engine) SetClock(now func() uint64) {
	e.now = now
}

// Evaluate returns the alerts ev triggers. Alert ids depend only on event content, so
// evaluating a redelivered event yields the same ids.
func (e *Engine) Evaluate(ctx context.Context, ev *events.NormalizedEvent) ([]events.AlertEvent, error) {
	var alerts []events.AlertEvent

	if alert, ok := e.largeAmount(ev); ok {
		alerts = append(alerts, alert)
	}

	if ev.EventKind == events.KindCancelled {
		alert, ok, err := e.freqCancel(ctx, ev)
		if err != nil {
			return nil, err
		}
		if ok {
			alerts = append(alerts, alert)
		}
	}

	return alerts, nil
}

func (e *Engine) largeAmount(ev *events.NormalizedEvent) (events.AlertEvent, bool) {
	amountA := events.AmountOrZero(ev.AmountA)
	amountB := events.AmountOrZero(ev.AmountB)
	if amountA < e.cfg.LargeAmountThreshold && amountB < e.cfg.LargeAmountThreshold {
		return events.AlertEvent{}, false
	}

	return events.AlertEvent{
		AlertID:     LargeAmountAlertID(ev.OfferID, ev.TransactionSignature, ev.Sequence),
		RuleID:      events.RuleLargeAmount,
		Severity:    events.SeverityHigh,
		Subject:     ev.Maker,
		OfferID:     events.StringPtr(ev.OfferID),
		EmittedAtMs: e.now(),
		Details: map[string]any{
			"amount_a":   ev.AmountA,
			"amount_b":   ev.AmountB,
			"threshold":  events.FormatAmount(e.cfg.LargeAmountThreshold),
			"event_kind": string(ev.EventKind),
		},
	}, true
}

func (e *Engine) freqCancel(ctx context.Context, ev *events.NormalizedEvent) (events.AlertEvent, bool, error) {
	win, err := e.windows.Load(ctx, ev.Maker)
	if err != nil {
		return events.AlertEvent{}, false, err
	}

	at := ev.IngestedAtMs
	if at == 0 {
		at = e.now()
	}
	if !win.Insert(state.CancelEntry{EventID: ev.EventID, AtMs: at}) {
		slog.Debug("Cancellation already counted", "event_id", ev.EventID, "maker", ev.Maker)
	}

	windowMs := uint64(e.cfg.CancelWindow.Milliseconds())
	if newest := win.NewestMs(); newest > windowMs {
		win.EvictBefore(newest - windowMs)
	}

	if err := e.windows.Save(ctx, ev.Maker, win); err != nil {
		return events.AlertEvent{}, false, err
	}

	if win.Len() < e.cfg.CancelThreshold {
		return events.AlertEvent{}, false, nil
	}

	start := win.StartMs()
	return events.AlertEvent{
		AlertID:     FreqCancelAlertID(ev.Maker, start, e.cfg.CancelThreshold),
		RuleID:      events.RuleFreqCancel,
		Severity:    events.SeverityMedium,
		Subject:     ev.Maker,
		OfferID:     events.StringPtr(ev.OfferID),
		EmittedAtMs: e.now(),
		Details: map[string]any{
			"window_ms":       windowMs,
			"window_start_ms": start,
			"cancel_count":    win.Len(),
			"threshold":       e.cfg.CancelThreshold,
		},
	}, true, nil
}

// LargeAmountAlertID identifies the large_amount alert for one triggering event.
func LargeAmountAlertID(offerID, signature string, sequence uint64) string {
	return fmt.Sprintf("%s:%s:%s:%d", events.RuleLargeAmount, offerID, signature, sequence)
}

// FreqCancelAlertID identifies the freq_cancel alert for one window anchor.
func FreqCancelAlertID(maker string, windowStartMs uint64, threshold int) string {
	return fmt.Sprintf("%s:%s:%d:%d", events.RuleFreqCancel, maker, windowStartMs, threshold)
}
