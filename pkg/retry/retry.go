// Package retry wraps fallible operations in bounded exponential backoff.
package retry

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/edgeprov/edge-installer/pkg/errors"
)

// Policy configures Do.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Multiplier scales the delay after each failure. Zero means 2; 1 gives a constant interval.
	Multiplier float64

	// Retryable decides whether a failure is retried. Nil means DefaultRetryable.
	// Cancellation is never retried regardless of this predicate.
	Retryable func(error) bool

	// Sleep waits between attempts. Nil means SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryable retries everything except cancellation.
func DefaultRetryable(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	m := p.Multiplier
	if m == 0 {
		m = 2
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(m, float64(attempt-1)))
}

// Do invokes op up to MaxAttempts times, waiting Delay(i) between attempt i and i+1.
// The last failure is returned unchanged. Cancellation during a wait stops retrying
// and returns the context error.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		result, err := op(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == attempts || errors.Is(err, context.Canceled) || ctx.Err() != nil || !retryable(err) {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		} else {
			slog.Warn("retry_scheduled", "attempt", attempt, "max_attempts", attempts, "delay", delay, "error", err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// Retry runs op with exponential backoff starting at baseDelay.
func Retry[T any](ctx context.Context, op func(context.Context) (T, error), maxAttempts int, baseDelay time.Duration) (T, error) {
	return Do(ctx, Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay},
		func(ctx context.Context, _ int) (T, error) { return op(ctx) })
}
