// Package retry provides the single retry policy shared by every
// platform adapter call site and the fleet sync path.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// BackoffFunc returns the delay before the given attempt (1-based, so
// attempt 1 is the delay after the first failure).
type BackoffFunc func(attempt int) time.Duration

// Policy retries an operation while its failures classify as retryable.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt, so a
	// policy with MaxRetries 3 calls the operation up to 4 times.
	MaxRetries int
	// Backoff computes the wait between attempts.
	Backoff BackoffFunc
	// Retryable decides whether a failure is worth another attempt.
	// A nil predicate retries everything.
	Retryable func(error) bool
	// Sleep is swapped in tests; defaults to a context-aware wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ExponentialJitter doubles the base each attempt, capped at max, and
// adds random jitter on an attempt-scaled floor. The floor grows by
// half the base every attempt while the random span stays below it, so
// consecutive delays are strictly increasing even after the doubled
// base has hit the cap.
func ExponentialJitter(base, max time.Duration) BackoffFunc {
	step := base / 2
	if step <= 0 {
		step = 1
	}
	return func(attempt int) time.Duration {
		d := base << uint(attempt-1)
		if d > max {
			d = max
		}
		return d + time.Duration(attempt)*step + time.Duration(rand.Int64N(int64(step)))
	}
}

// Default returns the standard policy: 3 retries with exponential
// jittered backoff starting at 500ms.
func Default(retryable func(error) bool) Policy {
	return Policy{
		MaxRetries: 3,
		Backoff:    ExponentialJitter(500*time.Millisecond, 8*time.Second),
		Retryable:  retryable,
	}
}

// Do runs fn until it succeeds, fails terminally, or attempts run out.
// The last error is returned unwrapped so callers keep its
// classification.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = waitCtx
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		var d time.Duration
		if p.Backoff != nil {
			d = p.Backoff(attempt)
		}
		if err := sleep(ctx, d); err != nil {
			return err
		}
	}
	return lastErr
}

func waitCtx(ctx context.Context, d time.Duration) error {
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
