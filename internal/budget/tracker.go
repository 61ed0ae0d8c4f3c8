// Package budget tracks run spend against a hard USD cap and drives the
// degradation tier machine. The tracker owns monotone totals and
// per-provider subtotals; the controller maps budget pressure and provider
// health onto service tiers.
package budget

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrBudgetExceeded reports a model call denied because the run budget is
// spent. Synthesis is exempt so a partial report can still be produced.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Budget thresholds as fractions of the per-run cap.
const (
	DefaultMaxPerRunUSD = 2.00
	DefaultWarnFraction = 0.80

	reduceFraction  = 0.80
	cacheFraction   = 0.95
	partialFraction = 1.00
	recoverFraction = 0.75

	// emaAlpha weights the most recent subtopic spend in the forecast.
	emaAlpha = 0.5
)

// ProviderUsage accumulates spend attributed to one provider.
type ProviderUsage struct {
	Calls   int
	Tokens  int64
	CostUSD float64
}

// Tracker accumulates run spend. Safe for concurrent use.
type Tracker struct {
	mu sync.Mutex

	maxUSD       float64
	warnFraction float64

	totalUSD    float64
	totalTokens int64
	byProvider  map[string]ProviderUsage

	carriedUSD    float64
	carriedTokens int64

	warned bool

	emaSpend float64
	emaSet   bool
}

// NewTracker creates a tracker with the given cap and warn fraction.
// Non-positive arguments fall back to the defaults.
func NewTracker(maxUSD, warnFraction float64) *Tracker {
	if maxUSD <= 0 {
		maxUSD = DefaultMaxPerRunUSD
	}

	if warnFraction <= 0 {
		warnFraction = DefaultWarnFraction
	}

	return &Tracker{
		maxUSD:       maxUSD,
		warnFraction: warnFraction,
		byProvider:   map[string]ProviderUsage{},
	}
}

// MaxUSD returns the per-run cap.
func (t *Tracker) MaxUSD() float64 {
	return t.maxUSD
}

// Add records one call's cost and token usage under a provider.
func (t *Tracker) Add(costUSD float64, tokens int64, provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalUSD += costUSD
	t.totalTokens += tokens

	usage := t.byProvider[provider]
	usage.Calls++
	usage.Tokens += tokens
	usage.CostUSD += costUSD
	t.byProvider[provider] = usage
}

// Seed restores totals from a checkpointed state after resume. Carried
// spend counts against the cap but is not attributed to any provider.
func (t *Tracker) Seed(costUSD float64, tokens int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.carriedUSD = costUSD
	t.carriedTokens = tokens
}

// Total returns the run spend in USD, carried spend included.
func (t *Tracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.totalUSD + t.carriedUSD
}

// TotalTokens returns the run token count, carried tokens included.
func (t *Tracker) TotalTokens() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.totalTokens + t.carriedTokens
}

// Carried returns the spend restored from a previous process of this run.
func (t *Tracker) Carried() (float64, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.carriedUSD, t.carriedTokens
}

// FractionUsed returns spend divided by the cap, unclamped.
func (t *Tracker) FractionUsed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.fractionLocked()
}

func (t *Tracker) fractionLocked() float64 {
	if t.maxUSD <= 0 {
		return 0
	}

	return (t.totalUSD + t.carriedUSD) / t.maxUSD
}

// ShouldWarn reports whether the warn threshold has just been crossed. It
// returns true at most once per tracker.
func (t *Tracker) ShouldWarn() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.warned || t.fractionLocked() < t.warnFraction {
		return false
	}

	t.warned = true

	return true
}

// Gate denies further model calls once the budget is spent. The synthesize
// intent stays open so a degraded run can still deliver its report.
func (t *Tracker) Gate(intent string) error {
	if intent == "synthesize" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.fractionLocked() >= partialFraction {
		return fmt.Errorf("%w: %.2f of %.2f USD spent", ErrBudgetExceeded, t.totalUSD+t.carriedUSD, t.maxUSD)
	}

	return nil
}

// RecordSubtopicSpend folds one completed subtopic's spend into the
// exponential moving average used for forecasting.
func (t *Tracker) RecordSubtopicSpend(costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.emaSet {
		t.emaSpend = costUSD
		t.emaSet = true

		return
	}

	t.emaSpend = emaAlpha*costUSD + (1-emaAlpha)*t.emaSpend
}

// FitsAnother forecasts whether the remaining budget plausibly covers one
// more subtopic loop. With no spend history it optimistically returns true.
func (t *Tracker) FitsAnother() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.emaSet {
		return true
	}

	remaining := t.maxUSD - (t.totalUSD + t.carriedUSD)

	return remaining >= t.emaSpend
}

// ByProvider returns a copy of the per-provider subtotals.
func (t *Tracker) ByProvider() map[string]ProviderUsage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]ProviderUsage, len(t.byProvider))
	for name, usage := range t.byProvider {
		out[name] = usage
	}

	return out
}

// Providers returns provider names with recorded usage, sorted.
func (t *Tracker) Providers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.byProvider))
	for name := range t.byProvider {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
