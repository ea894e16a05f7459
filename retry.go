package reqpipe

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultMaxAttempts counts the first attempt
	DefaultMaxAttempts = 3
	// DefaultRetryDelay is fixed; there is no backoff or jitter
	DefaultRetryDelay = time.Second
)

// RetryPolicy decides whether a failed attempt is tried again and after how
// long. It does not dispatch anything itself.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy returns 3 attempts with a fixed 1s delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Delay: DefaultRetryDelay}
}

// NoRetry makes every request a single attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// ShouldRetry reports whether attempt (1-based) may be followed by another.
// Only failures without a response and HTTP 5xx qualify.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Kind {
	case KindNetwork, KindTimeout:
		return !errors.Is(e.Cause, context.Canceled)
	case KindHTTP:
		return e.Status >= 500 && e.Status <= 599
	default:
		return false
	}
}

// DelayFor returns the wait before the attempt after attempt.
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	return p.Delay
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
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
