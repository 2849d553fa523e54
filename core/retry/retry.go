package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

// BackoffFunc returns the delay before the given retry attempt (1-based: the
// delay after the first failure is Backoff(1)).
type BackoffFunc func(attempt int) time.Duration

// Policy centralizes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first. Values below 1 mean 1.
	MaxAttempts int
	// Backoff computes the wait between attempts. Nil means no wait.
	Backoff BackoffFunc
	// Retryable reports whether a failure is worth another attempt. Nil retries every error.
	Retryable func(error) bool
	// Sleep waits for d or until ctx is done. Nil uses a timer; tests inject a recorder.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Exponential returns initial*multiplier^(attempt-1), capped at max.
func Exponential(initial, ceiling time.Duration, multiplier float64) BackoffFunc {
	if multiplier < 1 {
		multiplier = 1
	}
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		delay := time.Duration(float64(initial) * math.Pow(multiplier, float64(attempt-1)))
		if delay > ceiling || delay < 0 {
			return ceiling
		}
		return delay
	}
}

// Do runs fn until it succeeds, fails with a non-retryable error, the attempts
// are exhausted, or ctx is done. It returns the number of attempts made and the
// last error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := max(p.MaxAttempts, 1)

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return attempt, nil
		}
		if attempt == maxAttempts || !p.ShouldRetry(err) {
			return attempt, err
		}
		if p.Backoff != nil {
			if serr := p.sleep(ctx, p.Backoff(attempt)); serr != nil {
				return attempt, errors.Join(err, serr)
			}
		} else if cerr := ctx.Err(); cerr != nil {
			return attempt, errors.Join(err, cerr)
		}
	}
	return maxAttempts, err
}

// ShouldRetry applies the Retryable predicate. Context cancellation is never retried.
func (p Policy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
