// Package retry provides failure classification and bounded exponential
// backoff for provider calls. Providers wrap their errors with Transient,
// RateLimited, or Permanent; Do retries the retryable classes and stops
// immediately on permanent failures or context cancellation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Classification sentinels. Provider errors wrap exactly one of these.
var (
	// ErrTransient marks failures worth retrying in place (timeouts, 5xx).
	ErrTransient = errors.New("transient failure")

	// ErrRateLimited marks provider throttling (HTTP 429 and equivalents).
	// Retryable, but callers may apply a longer delay.
	ErrRateLimited = errors.New("rate limited")

	// ErrPermanent marks failures that cannot succeed on retry
	// (auth, 4xx other than 429, malformed requests).
	ErrPermanent = errors.New("permanent failure")
)

// Transient wraps err as a retryable transient failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// RateLimited wraps err as a retryable rate-limit failure.
func RateLimited(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrRateLimited, err)
}

// Permanent wraps err as a terminal failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsTransient reports whether err is retryable in place. Unwrapped network
// timeouts and deadline expiry classify as transient even without an
// explicit wrap.
func IsTransient(err error) bool {
	if errors.Is(err, ErrTransient) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// IsRateLimited reports whether err is a provider throttling failure.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsPermanent reports whether err is terminal for the current provider.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Retryable reports whether err may succeed on a later attempt against the
// same provider. Context cancellation is never retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	return IsTransient(err) || IsRateLimited(err)
}
