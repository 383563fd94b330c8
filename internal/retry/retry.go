// Package retry holds the fixed-delay retry policy shared by the reconnection
// loop and the worker's store retries.
package retry

import (
	"context"
	"time"
)

// Policy retries after a constant Delay. MaxAttempts of zero means no limit.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Unlimited returns a policy that never gives up.
func Unlimited(delay time.Duration) Policy {
	return Policy{Delay: delay}
}

// Exhausted reports whether attempt, counted from 1, was the last one allowed.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// Wait sleeps for Delay or until ctx is done, whichever comes first.
func (p Policy) Wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(p.Delay)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do calls fn until it succeeds, retryable reports false, the attempts run
// out or ctx is done. It returns the last error from fn, or ctx.Err().
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func(attempt int) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil || !retryable(err) || p.Exhausted(attempt) {
			return err
		}
		if werr := p.Wait(ctx); werr != nil {
			return werr
		}
	}
}
