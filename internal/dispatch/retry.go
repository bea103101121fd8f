package dispatch

import (
	"context"
	"time"
)

// RetryPolicy bounds how hard the send step tries before giving up and
// leaving the lead for a human. It is a plain value, independent of any
// task runner's retry mechanics.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the delivery contract: about five tries
// with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 2 * time.Second, MaxDelay: time.Minute}
}

// Backoff returns the delay before the given attempt (1-based). The
// first attempt has no delay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := p.BaseDelay
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs fn up to MaxAttempts times, sleeping the backoff between
// tries. It returns the number of attempts made and the last error, or
// nil once fn succeeds. Context cancellation cuts the loop short.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if wait := p.Backoff(attempt); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt - 1, ctx.Err()
			case <-timer.C:
			}
		}

		if err = fn(ctx); err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, err
		}
	}
	return attempts, err
}
