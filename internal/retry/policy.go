package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Default backoff parameters for provider calls.
const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 3
)

// Policy holds the backoff schedule for one provider. Immutable after
// construction.
type Policy struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps exponential growth.
	MaxDelay time.Duration

	// MaxAttempts is the total number of tries against one provider,
	// including the first.
	MaxAttempts int

	// Jitter adds up to 25% random slack to each delay when true.
	Jitter bool
}

// DefaultPolicy returns the standard provider policy: exponential backoff
// from 1s capped at 30s with jitter, three attempts total.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		MaxAttempts: DefaultMaxAttempts,
		Jitter:      true,
	}
}

// Delay returns the backoff delay before the given retry (1-based: the
// first retry is 1). Non-positive retries yield zero.
func (p Policy) Delay(retryN int) time.Duration {
	if retryN <= 0 {
		return 0
	}

	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}

	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	delay := base << (retryN - 1)
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	if p.Jitter {
		delay += time.Duration(rand.Int64N(int64(delay)/4 + 1))
	}

	if delay > maxDelay {
		delay = maxDelay
	}

	return delay
}

// Do runs fn under the policy, retrying retryable failures with backoff.
// It returns nil on the first success, the last error once attempts are
// exhausted, and immediately on permanent failures or context cancellation.
// onRetry, when non-nil, is invoked before each sleep with the upcoming
// attempt number and the error that triggered the retry.
func Do(ctx context.Context, p Policy, fn func(attempt int) error, onRetry func(next int, err error)) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return ctxErr
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}

		if !Retryable(lastErr) {
			return lastErr
		}

		if attempt == attempts {
			break
		}

		if onRetry != nil {
			onRetry(attempt+1, lastErr)
		}

		sleepErr := sleep(ctx, p.Delay(attempt))
		if sleepErr != nil {
			return sleepErr
		}
	}

	return lastErr
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
