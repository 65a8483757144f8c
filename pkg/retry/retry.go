// Package retry provides retry logic with exponential backoff for transient failures.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Unlimited makes WithRetry keep trying until the operation succeeds, returns a
// permanent error, or the context is cancelled.
const Unlimited = -1

// Config defines retry behavior.
type Config struct {
	MaxRetries     int           // Maximum number of retry attempts (0 = no retries, Unlimited = no cap)
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	BackoffFactor  float64       // Multiplier for exponential backoff
	AttemptTimeout time.Duration // Per-attempt deadline (0 = inherit the caller's context)
}

// DefaultConfig returns sensible default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. WithRetry returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// WithRetry executes fn until it succeeds, the retry budget is spent, fn returns a
// permanent error, or ctx is done. Waits between attempts back off exponentially with jitter.
func WithRetry(ctx context.Context, cfg Config, operation string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; cfg.MaxRetries == Unlimited || attempt <= cfg.MaxRetries; attempt++ {
		err := runAttempt(ctx, cfg, fn)
		if err == nil {
			if attempt > 0 {
				slog.Info("Operation succeeded after retry",
					"operation", operation,
					"attempt", attempt+1,
				)
			}
			return nil
		}

		lastErr = err

		if IsPermanent(err) {
			slog.Debug("Error is not retryable, failing immediately",
				"operation", operation,
				"error", err,
			)
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if cfg.MaxRetries != Unlimited && attempt >= cfg.MaxRetries {
			slog.Warn("Max retries exceeded",
				"operation", operation,
				"attempts", attempt+1,
				"error", err,
			)
			return err
		}

		backoff := Backoff(cfg, attempt)

		slog.Warn("Operation failed, retrying",
			"operation", operation,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

func runAttempt(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

// Backoff calculates the wait before the retry following the given zero-based attempt,
// capped at MaxBackoff and spread by ±25% jitter.
func Backoff(cfg Config, attempt int) time.Duration {
	factor := cfg.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	backoff := float64(cfg.InitialBackoff) * math.Pow(factor, float64(attempt))

	if cfg.MaxBackoff > 0 && backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}

	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	backoff += jitter

	return time.Duration(backoff)
}
