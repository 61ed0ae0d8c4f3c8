package search

import (
	"context"
	"sync"
	"time"
)

// Adaptive limiter tuning.
const (
	limiterWindow   = 60 * time.Second
	limiterMaxDelay = 30 * time.Second
	limiterRaise    = 0.30
	limiterLower    = 0.10
	limiterFactor   = 1.5

	// limiterMinSamples is how many outcomes the window needs before the
	// delay adapts at all.
	limiterMinSamples = 4
)

type limiterOutcome struct {
	at time.Time
	ok bool
}

// Limiter enforces a minimum delay between calls to one provider and adapts
// that delay to the provider's recent error rate: above 30% errors in the
// sliding window the delay grows by half, below 10% it shrinks back toward
// the configured base.
type Limiter struct {
	mu sync.Mutex

	base     time.Duration
	delay    time.Duration
	lastCall time.Time
	window   []limiterOutcome

	now func() time.Time
}

// NewLimiter creates a limiter with the given base inter-call delay.
func NewLimiter(base time.Duration) *Limiter {
	if base < 0 {
		base = 0
	}

	return &Limiter{base: base, delay: base, now: time.Now}
}

// Wait blocks until the inter-call delay since the previous call has
// elapsed, or ctx is done. It reserves the call slot before sleeping so
// concurrent callers space out instead of stampeding.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()

	now := l.now()
	next := l.lastCall.Add(l.delay)

	if next.Before(now) {
		next = now
	}

	l.lastCall = next
	wait := next.Sub(now)

	l.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Record feeds one call outcome into the sliding window and adapts the
// delay.
func (l *Limiter) Record(success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.window = append(l.window, limiterOutcome{at: now, ok: success})
	l.pruneLocked(now)

	if len(l.window) < limiterMinSamples {
		return
	}

	failures := 0
	for _, o := range l.window {
		if !o.ok {
			failures++
		}
	}

	rate := float64(failures) / float64(len(l.window))

	switch {
	case rate > limiterRaise:
		next := time.Duration(float64(l.delay) * limiterFactor)
		if l.delay == 0 {
			next = time.Second
		}

		if next > limiterMaxDelay {
			next = limiterMaxDelay
		}

		l.delay = next
	case rate < limiterLower && l.delay > l.base:
		next := time.Duration(float64(l.delay) / limiterFactor)
		if next < l.base {
			next = l.base
		}

		l.delay = next
	}
}

// Delay returns the current inter-call delay.
func (l *Limiter) Delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.delay
}

func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-limiterWindow)

	i := 0
	for i < len(l.window) && l.window[i].at.Before(cutoff) {
		i++
	}

	if i > 0 {
		l.window = append([]limiterOutcome(nil), l.window[i:]...)
	}
}
