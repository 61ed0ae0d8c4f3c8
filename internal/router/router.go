// Package router routes model calls across a provider chain with retries,
// fallback, budget accounting, and a degradation-aware response cache. One
// router serves one run; calls are serialized so token spend and tier
// decisions stay ordered.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/scout/internal/budget"
	"github.com/Sumatoshi-tech/scout/internal/eventlog"
	"github.com/Sumatoshi-tech/scout/internal/observability"
	"github.com/Sumatoshi-tech/scout/internal/retry"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// tracerName is the OTel tracer for model call spans. Per-attempt spans
// are suppressed by the default trace filter; only verbose traces keep them.
const tracerName = "scout.router"

// Routing sentinels.
var (
	// ErrProviderExhausted reports one provider's retry budget spent.
	ErrProviderExhausted = errors.New("provider exhausted")

	// ErrModelCallExhausted reports the whole chain failing for one call.
	ErrModelCallExhausted = errors.New("model call exhausted")
)

// DefaultTimeout bounds a single model call attempt.
const DefaultTimeout = 120 * time.Second

// Intent names what a model call is for. The intent picks the chain.
type Intent string

// Call intents.
const (
	IntentPlan       Intent = "plan"
	IntentSummarize  Intent = "summarize"
	IntentSynthesize Intent = "synthesize"
	IntentJudge      Intent = "judge"
)

// ModelRole is a slot in the fallback chain.
type ModelRole string

// Chain roles, in preference order at full service.
const (
	ModelPrimary  ModelRole = "primary"
	ModelFallback ModelRole = "fallback"
	ModelBudget   ModelRole = "budget"
)

// Request is one model call. Messages must follow the cache-friendly order
// produced by BuildMessages. ParentStepID links the call's events into the
// emitting stage's provenance chain and never affects the cache key.
type Request struct {
	Intent       Intent
	Messages     []Message
	MaxTokens    int
	Temperature  float64
	ParentStepID string
}

// Result is one completed model call.
type Result struct {
	Text         string  `json:"text"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	CostUSD      float64 `json:"cost_usd"`
	LatencyMS    int64   `json:"latency_ms"`
	FromCache    bool    `json:"from_cache,omitempty"`
}

// Options configure the router's models and call behavior.
type Options struct {
	PrimaryModel  string
	FallbackModel string
	BudgetModel   string
	BaseURL       string
	APIKey        string
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration
	CacheDir      string
	CacheTTL      time.Duration
	Policy        retry.Policy
}

// Deps are the run-scoped collaborators.
type Deps struct {
	Tracker    *budget.Tracker
	Controller *budget.Controller
	Events     *eventlog.Writer
	Logger     *slog.Logger
}

// Router picks a provider chain per call and walks it until a provider
// answers. Safe for concurrent use; calls are serialized.
type Router struct {
	mu sync.Mutex

	providers   map[ModelRole]Provider
	temperature float64
	maxTokens   int
	timeout     time.Duration
	policy      retry.Policy
	cache       *Cache

	tracker    *budget.Tracker
	controller *budget.Controller
	events     *eventlog.Writer
	logger     *slog.Logger
}

// New creates a router from options. At least one model must be configured.
func New(opts Options, deps Deps) (*Router, error) {
	if deps.Tracker == nil {
		return nil, errors.New("router requires a budget tracker")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	providers := map[ModelRole]Provider{}
	for role, model := range map[ModelRole]string{
		ModelPrimary:  opts.PrimaryModel,
		ModelFallback: opts.FallbackModel,
		ModelBudget:   opts.BudgetModel,
	} {
		if model != "" {
			providers[role] = NewHTTPProvider(model, opts.BaseURL, opts.APIKey, timeout)
		}
	}

	if len(providers) == 0 {
		return nil, errors.New("no models configured")
	}

	policy := opts.Policy
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var cache *Cache
	if opts.CacheDir != "" {
		cache = NewCache(opts.CacheDir, opts.CacheTTL)
	}

	return &Router{
		providers:   providers,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		timeout:     timeout,
		policy:      policy,
		cache:       cache,
		tracker:     deps.Tracker,
		controller:  deps.Controller,
		events:      deps.Events,
		logger:      logger,
	}, nil
}

// SetProvider replaces the provider in a role. Intended for tests.
func (r *Router) SetProvider(role ModelRole, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p == nil {
		delete(r.providers, role)

		return
	}

	r.providers[role] = p
}

// Call executes one model call through the chain for (intent, tier). On
// success usage is booked against the budget before returning. All
// providers failing returns ErrModelCallExhausted; a spent budget returns
// ErrBudgetExceeded without touching the network.
func (r *Router) Call(ctx context.Context, req Request) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	gateErr := r.tracker.Gate(string(req.Intent))
	if gateErr != nil {
		return Result{}, gateErr
	}

	if req.MaxTokens == 0 {
		req.MaxTokens = r.maxTokens
	}

	if req.Temperature == 0 {
		req.Temperature = r.temperature
	}

	tier := state.TierFull
	if r.controller != nil {
		tier = r.controller.Tier()
	}

	key := ""
	if r.cache != nil {
		k, keyErr := CacheKey(req)
		if keyErr != nil {
			r.logger.Warn("cache key failed, continuing uncached", "error", keyErr)
		} else {
			key = k
		}
	}

	if key != "" && tier.Rank() >= state.TierCached.Rank() {
		if res, ok := r.cache.Get(key); ok {
			r.logger.Debug("cache hit", "intent", req.Intent, "key", key)

			return res, nil
		}
	}

	chain := r.chain(req.Intent, tier)
	if len(chain) == 0 {
		return Result{}, fmt.Errorf("%w: intent %s: no providers configured", ErrModelCallExhausted, req.Intent)
	}

	var lastErr error

	for _, p := range chain {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return Result{}, ctxErr
		}

		res, err := r.callProvider(ctx, p, req)
		if err == nil {
			res.CostUSD = budget.Estimate(res.Model, res.InputTokens, res.OutputTokens)
			r.tracker.Add(res.CostUSD, res.InputTokens+res.OutputTokens, res.Provider)

			if r.controller != nil {
				r.controller.RecordSuccess()
			}

			if r.cache != nil && key != "" {
				putErr := r.cache.Put(key, res)
				if putErr != nil {
					r.logger.Warn("cache write failed", "error", putErr)
				}
			}

			return res, nil
		}

		if errors.Is(err, context.Canceled) {
			return Result{}, err
		}

		lastErr = err
		r.logger.Warn("provider failed, advancing chain",
			"intent", req.Intent, "provider", p.Name(), "model", p.Model(), "error", err)
	}

	if r.controller != nil {
		r.controller.RecordExhaustion()
	}

	return Result{}, fmt.Errorf("%w: intent %s: %w", ErrModelCallExhausted, req.Intent, lastErr)
}

// chain resolves the role order for (intent, tier) to configured providers,
// skipping unconfigured roles and duplicate models.
func (r *Router) chain(intent Intent, tier state.Tier) []Provider {
	var roles []ModelRole

	switch {
	case tier.Rank() >= state.TierCached.Rank():
		roles = []ModelRole{ModelBudget, ModelFallback}
	case tier == state.TierReduced && intent == IntentSummarize:
		roles = []ModelRole{ModelBudget, ModelFallback}
	default:
		roles = []ModelRole{ModelPrimary, ModelFallback, ModelBudget}
	}

	seen := map[string]bool{}

	var chain []Provider

	for _, role := range roles {
		p, ok := r.providers[role]
		if !ok || seen[p.Model()] {
			continue
		}

		seen[p.Model()] = true
		chain = append(chain, p)
	}

	return chain
}

// callProvider runs one provider under the retry policy, emitting an
// enter/exit event pair per attempt. A retryable failure that survives all
// attempts is wrapped as ErrProviderExhausted; terminal failures return as
// classified so the caller advances the chain immediately.
func (r *Router) callProvider(ctx context.Context, p Provider, req Request) (Result, error) {
	node := "llm." + string(req.Intent)

	var res Result

	err := retry.Do(ctx, r.policy, func(attempt int) error {
		enterID := r.emit(eventlog.NodeEnter, node, req.ParentStepID, map[string]any{
			"provider": p.Name(),
			"model":    p.Model(),
			"attempt":  attempt,
		})

		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		spanCtx, span := otel.Tracer(tracerName).Start(attemptCtx, "scout.llm.attempt",
			trace.WithAttributes(
				attribute.String("provider", p.Name()),
				attribute.String("model", p.Model()),
				attribute.Int("attempt", attempt),
			))

		out, callErr := p.Complete(spanCtx, req)

		if callErr != nil {
			observability.RecordSpanError(span, callErr,
				observability.ErrTypeDependencyUnavailable, observability.ErrSourceDependency)
		}

		span.End()

		payload := map[string]any{
			"provider": p.Name(),
			"model":    p.Model(),
			"attempt":  attempt,
		}

		if callErr != nil {
			payload["status"] = "error"
			payload["error"] = callErr.Error()
			r.emit(eventlog.NodeExit, node, enterID, payload)

			return callErr
		}

		payload["status"] = "ok"
		payload["latency_ms"] = out.LatencyMS
		payload["input_tokens"] = out.InputTokens
		payload["output_tokens"] = out.OutputTokens
		r.emit(eventlog.NodeExit, node, enterID, payload)

		res = out

		return nil
	}, func(next int, retryErr error) {
		r.logger.Debug("retrying model call",
			"provider", p.Name(), "model", p.Model(), "attempt", next, "error", retryErr)
	})
	if err != nil {
		if retry.Retryable(err) {
			return Result{}, fmt.Errorf("%w: %s: %w", ErrProviderExhausted, p.Model(), err)
		}

		return Result{}, err
	}

	return res, nil
}

func (r *Router) emit(kind eventlog.Type, node, parent string, payload map[string]any) string {
	if r.events == nil {
		return ""
	}

	id, err := r.events.Emit(kind, node, parent, payload)
	if err != nil {
		r.logger.Warn("event append failed", "node", node, "error", err)

		return ""
	}

	return id
}
