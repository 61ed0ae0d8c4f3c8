package budget

import (
	"fmt"
	"sync"

	"github.com/Sumatoshi-tech/scout/internal/state"
)

// exhaustionTrip is how many consecutive router chain exhaustions force the
// CACHED tier regardless of budget.
const exhaustionTrip = 5

// TierSuggestion maps the current budget fraction onto the tier the run
// should be operating at, ignoring provider health.
func (t *Tracker) TierSuggestion() state.Tier {
	frac := t.FractionUsed()

	switch {
	case frac >= partialFraction:
		return state.TierPartial
	case frac >= cacheFraction:
		return state.TierCached
	case frac >= reduceFraction:
		return state.TierReduced
	default:
		return state.TierFull
	}
}

// Transition is one tier change with its operator-facing reason.
type Transition struct {
	From   state.Tier
	To     state.Tier
	Reason string
}

// Controller is the degradation tier machine. Downward moves jump straight
// to the pressured tier; recovery climbs one step at a time and only on
// fresh success. PARTIAL is terminal.
type Controller struct {
	mu sync.Mutex

	tracker *Tracker
	tier    state.Tier

	consecutiveExhaustions int
	recentSuccess          bool
	allProvidersDown       bool
}

// NewController starts the machine at the given tier, which on resume is
// the checkpointed one.
func NewController(tracker *Tracker, start state.Tier) *Controller {
	if start == "" {
		start = state.TierFull
	}

	return &Controller{tracker: tracker, tier: start}
}

// Tier returns the current tier.
func (c *Controller) Tier() state.Tier {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.tier
}

// RecordExhaustion notes a model call that ran its whole provider chain dry.
func (c *Controller) RecordExhaustion() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveExhaustions++
	c.recentSuccess = false
}

// RecordSuccess notes a completed model call and clears exhaustion pressure.
func (c *Controller) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveExhaustions = 0
	c.recentSuccess = true
}

// RecordAllProvidersDown marks total provider failure, forcing PARTIAL on
// the next evaluation.
func (c *Controller) RecordAllProvidersDown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.allProvidersDown = true
}

// Evaluate recomputes the tier. It returns the transition and true when the
// tier changed.
func (c *Controller) Evaluate() (Transition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frac := c.tracker.FractionUsed()
	target, reason := c.targetLocked(frac)

	if target.Rank() > c.tier.Rank() {
		tr := Transition{From: c.tier, To: target, Reason: reason}
		c.tier = target

		return tr, true
	}

	// Recovery climbs one step, never out of PARTIAL.
	if target.Rank() < c.tier.Rank() && c.tier != state.TierPartial && frac < recoverFraction && c.recentSuccess {
		up := c.stepUpLocked()
		tr := Transition{
			From:   c.tier,
			To:     up,
			Reason: fmt.Sprintf("recovered: budget at %.0f%% with recent success", frac*100),
		}
		c.tier = up
		c.recentSuccess = false

		return tr, true
	}

	return Transition{From: c.tier, To: c.tier}, false
}

func (c *Controller) targetLocked(frac float64) (state.Tier, string) {
	switch {
	case c.allProvidersDown:
		return state.TierPartial, "all providers failing"
	case frac >= partialFraction:
		return state.TierPartial, fmt.Sprintf("budget spent: %.0f%% of cap", frac*100)
	case c.consecutiveExhaustions >= exhaustionTrip:
		return state.TierCached, fmt.Sprintf("%d consecutive model call exhaustions", c.consecutiveExhaustions)
	case frac >= cacheFraction:
		return state.TierCached, fmt.Sprintf("budget at %.0f%% of cap", frac*100)
	case frac >= reduceFraction:
		return state.TierReduced, fmt.Sprintf("budget at %.0f%% of cap", frac*100)
	default:
		return state.TierFull, ""
	}
}

func (c *Controller) stepUpLocked() state.Tier {
	switch c.tier {
	case state.TierCached:
		return state.TierReduced
	case state.TierReduced:
		return state.TierFull
	default:
		return c.tier
	}
}

// Effects are the operating parameters a tier imposes on the pipeline.
type Effects struct {
	ExpansionK       int
	MaxResults       int
	ShortSummaries   bool
	AllowSearch      bool
	AllowScrape      bool
	SkipToSynthesize bool
}

// EffectsFor returns the tier's operating parameters. maxResults is the
// configured FULL-tier result count.
func EffectsFor(tier state.Tier, maxResults int) Effects {
	switch tier {
	case state.TierReduced:
		return Effects{
			ExpansionK:     2,
			MaxResults:     min(5, maxResults),
			ShortSummaries: true,
			AllowSearch:    true,
			AllowScrape:    true,
		}
	case state.TierCached:
		return Effects{ShortSummaries: true}
	case state.TierPartial:
		return Effects{SkipToSynthesize: true}
	default:
		return Effects{
			ExpansionK:  3,
			MaxResults:  maxResults,
			AllowSearch: true,
			AllowScrape: true,
		}
	}
}
