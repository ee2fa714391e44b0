package storage

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds exponential backoff for transient failures.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy returns 5 attempts with backoff from 1s capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 5, Base: time.Second, Max: 30 * time.Second}
}

func (p RetryPolicy) backoff() retry.Backoff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	b := retry.NewExponential(base)
	if p.Max > 0 {
		b = retry.WithCappedDuration(p.Max, b)
	}
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// Do runs fn until it succeeds, returns a non-transient error, or the
// attempts are exhausted. onRetry, when set, is called before every retry.
func (p RetryPolicy) Do(ctx context.Context, onRetry func(attempt int, err error), fn func(ctx context.Context) error) error {
	attempt := 0
	var last error
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		if attempt > 1 && onRetry != nil {
			onRetry(attempt, last)
		}
		err := fn(ctx)
		if err != nil && IsTransient(err) {
			last = err
			return retry.RetryableError(err)
		}
		return err
	})
}
