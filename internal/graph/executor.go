package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/scout/internal/budget"
	"github.com/Sumatoshi-tech/scout/internal/checkpoint"
	"github.com/Sumatoshi-tech/scout/internal/eventlog"
	"github.com/Sumatoshi-tech/scout/internal/observability"
	"github.com/Sumatoshi-tech/scout/internal/report"
	"github.com/Sumatoshi-tech/scout/internal/stages"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// tracerName is the default OTel tracer name for the pipeline.
const tracerName = "scout.graph"

// ErrAborted reports that the run context was cancelled mid-stage, usually
// by a second interrupt. The last durable checkpoint remains the resume
// point.
var ErrAborted = errors.New("run aborted")

// DefaultStageTimeout bounds a single stage execution.
const DefaultStageTimeout = 300 * time.Second

// StageFunc runs one pipeline stage against the current state and returns
// its delta. A non-nil error is fatal to the run.
type StageFunc func(ctx context.Context, st *state.ResearchState, parentStepID string) (*state.Delta, error)

// StageSet binds each runnable node to its implementation. Func fields so
// callers can wrap individual stages, the plan approval hook in particular.
type StageSet struct {
	Plan       StageFunc
	Search     StageFunc
	Scrape     StageFunc
	Summarize  StageFunc
	Synthesize StageFunc
}

// Pipeline adapts the production stage implementations.
func Pipeline(s *stages.Stages) StageSet {
	return StageSet{
		Plan:       s.Plan,
		Search:     s.Search,
		Scrape:     s.Scrape,
		Summarize:  s.Summarize,
		Synthesize: s.Synthesize,
	}
}

// Options tune the executor.
type Options struct {
	// StageTimeout bounds each stage run. Zero means DefaultStageTimeout.
	StageTimeout time.Duration
}

// Deps are the executor's collaborators. Stages, Tracker, Controller, and
// Checkpoints are required; the rest may be nil.
type Deps struct {
	Stages      StageSet
	Tracker     *budget.Tracker
	Controller  *budget.Controller
	Checkpoints *checkpoint.Store
	Events      *eventlog.Writer
	Progress    *report.ProgressWriter
	Shutdown    *Coordinator
	Logger      *slog.Logger

	// Tracer creates one span per stage execution.
	// When nil, falls back to otel.Tracer("scout.graph").
	Tracer trace.Tracer

	// Metrics records per-stage RED metrics. Nil disables recording.
	Metrics *observability.REDMetrics
}

// Executor owns the node loop: run stage, apply delta, book budget,
// evaluate tier, checkpoint, pick the next edge. No recursion; the loop
// ends at END or on a fatal error.
type Executor struct {
	opts   Options
	deps   Deps
	logger *slog.Logger
}

// New validates the wiring and returns an executor.
func New(opts Options, deps Deps) (*Executor, error) {
	switch {
	case deps.Stages.Plan == nil || deps.Stages.Search == nil || deps.Stages.Scrape == nil ||
		deps.Stages.Summarize == nil || deps.Stages.Synthesize == nil:
		return nil, errors.New("executor requires a complete stage set")
	case deps.Tracker == nil:
		return nil, errors.New("executor requires a budget tracker")
	case deps.Controller == nil:
		return nil, errors.New("executor requires a tier controller")
	case deps.Checkpoints == nil:
		return nil, errors.New("executor requires a checkpoint store")
	}

	if opts.StageTimeout <= 0 {
		opts.StageTimeout = DefaultStageTimeout
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{opts: opts, deps: deps, logger: logger}, nil
}

// Outcome summarizes a run that reached END.
type Outcome struct {
	State       *state.ResearchState
	Steps       int
	Interrupted bool
	FinalTier   state.Tier
}

// Run drives a fresh query through the full pipeline.
func (e *Executor) Run(ctx context.Context, query string) (*Outcome, error) {
	return e.run(ctx, state.New(query), NodePlan, 0)
}

// Resume continues a run from a verified snapshot. Carried spend is seeded
// into the tracker and the entry node is recomputed from the restored state
// by the same routing a running process would use. The caller starts the
// tier controller at the snapshot's tier.
func (e *Executor) Resume(ctx context.Context, snap *checkpoint.Snapshot) (*Outcome, error) {
	st := snap.State

	e.deps.Tracker.Seed(st.TotalCost, st.TotalTokens)

	node := Next(snap.Node, st, e.deps.Controller.Tier(), e.deps.Tracker.FractionUsed(), e.stopRequested())

	e.logger.Info("resuming run",
		"from_step", snap.Step,
		"after", snap.Node,
		"next", node,
		"spent_usd", st.TotalCost,
		"tier", e.deps.Controller.Tier())

	return e.run(ctx, st, node, snap.Step)
}

func (e *Executor) run(ctx context.Context, st *state.ResearchState, node string, step int) (*Outcome, error) {
	if e.deps.Progress != nil {
		if err := e.deps.Progress.EnsureHeader(st.Query); err != nil {
			e.logger.Warn("progress header write failed", "err", err)
		}
	}

	var spendMark float64

	for node != NodeEnd {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
		}

		if e.stopRequested() && node != NodeSynthesize {
			e.logger.Info("stop requested, routing to synthesize", "from", node)
			node = NodeSynthesize
		}

		enterID := e.emit(eventlog.NodeEnter, node, "", map[string]any{
			"subtopic_index": st.CurrentSubtopicIndex,
			"tier":           string(e.deps.Controller.Tier()),
		})

		// The spend between entering search and leaving summarize is one
		// subtopic's cost, the unit the forecast EMA averages.
		if node == NodeSearch {
			spendMark = e.deps.Tracker.Total()
		}

		started := time.Now()

		stageCtx, cancel := context.WithTimeout(ctx, e.opts.StageTimeout)

		spanCtx, span := e.tracer().Start(stageCtx, "scout.stage",
			trace.WithAttributes(
				attribute.String("node", node),
				attribute.Int("step.index", step+1),
			))

		delta, stageErr := e.stageFor(node)(spanCtx, st, enterID)

		if stageErr != nil {
			errType, errSource := classifyStageError(stageErr)
			observability.RecordSpanError(span, stageErr, errType, errSource)
		}

		span.End()
		cancel()

		e.recordStage(ctx, node, stageErr, time.Since(started))

		if stageErr != nil {
			e.emit(eventlog.Error, node, enterID, map[string]any{"message": stageErr.Error()})
			e.emit(eventlog.NodeExit, node, enterID, map[string]any{"status": "error"})

			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: stage %s: %v", ErrAborted, node, stageErr)
			}

			return nil, fmt.Errorf("stage %s: %w", node, stageErr)
		}

		if applyErr := state.Apply(st, delta); applyErr != nil {
			return nil, fmt.Errorf("apply %s delta: %w", node, applyErr)
		}

		for _, entry := range delta.Errors {
			e.emit(eventlog.Error, entry.Node, enterID, map[string]any{
				"message":     entry.Message,
				"subtopic_id": entry.SubtopicID,
				"recoverable": entry.Recoverable,
			})
		}

		totals := &state.Delta{
			TotalCost:   state.Ptr(e.deps.Tracker.Total()),
			TotalTokens: state.Ptr(e.deps.Tracker.TotalTokens()),
		}
		if applyErr := state.Apply(st, totals); applyErr != nil {
			return nil, fmt.Errorf("apply totals after %s: %w", node, applyErr)
		}

		e.emit(eventlog.NodeExit, node, enterID, map[string]any{
			"status":      "ok",
			"duration_ms": time.Since(started).Milliseconds(),
		})

		e.emit(eventlog.BudgetTick, node, enterID, map[string]any{
			"spent_usd":    st.TotalCost,
			"fraction":     e.deps.Tracker.FractionUsed(),
			"total_tokens": st.TotalTokens,
			"max_usd":      e.deps.Tracker.MaxUSD(),
		})

		if e.deps.Tracker.ShouldWarn() {
			e.warnBudget(st)
		}

		if node == NodeSummarize {
			e.deps.Tracker.RecordSubtopicSpend(e.deps.Tracker.Total() - spendMark)

			if !e.deps.Tracker.FitsAnother() {
				e.logger.Info("forecast: remaining budget may not cover another subtopic",
					"spent_usd", st.TotalCost, "max_usd", e.deps.Tracker.MaxUSD())
			}
		}

		if tr, changed := e.deps.Controller.Evaluate(); changed {
			e.applyTierChange(st, node, enterID, tr)
		}

		step++

		path, saveErr := e.deps.Checkpoints.Save(st, step, node)
		if saveErr != nil {
			return nil, fmt.Errorf("checkpoint after %s: %w", node, saveErr)
		}

		e.emit(eventlog.CheckpointWritten, node, enterID, map[string]any{
			"step": step,
			"file": filepath.Base(path),
		})

		node = Next(node, st, e.deps.Controller.Tier(), e.deps.Tracker.FractionUsed(), e.stopRequested())
	}

	out := &Outcome{
		State:       st,
		Steps:       step,
		Interrupted: e.stopRequested(),
		FinalTier:   e.deps.Controller.Tier(),
	}

	e.logger.Info("run complete",
		"steps", out.Steps,
		"tier", out.FinalTier,
		"spent_usd", st.TotalCost,
		"interrupted", out.Interrupted)

	return out, nil
}

func (e *Executor) stageFor(node string) StageFunc {
	switch node {
	case NodePlan:
		return e.deps.Stages.Plan
	case NodeSearch:
		return e.deps.Stages.Search
	case NodeScrape:
		return e.deps.Stages.Scrape
	case NodeSummarize:
		return e.deps.Stages.Summarize
	default:
		return e.deps.Stages.Synthesize
	}
}

func (e *Executor) stopRequested() bool {
	return e.deps.Shutdown != nil && e.deps.Shutdown.Stopping()
}

// tracer returns the configured tracer, falling back to the global provider.
func (e *Executor) tracer() trace.Tracer {
	if e.deps.Tracer != nil {
		return e.deps.Tracer
	}

	return otel.Tracer(tracerName)
}

func (e *Executor) recordStage(ctx context.Context, node string, stageErr error, dur time.Duration) {
	status := "ok"
	if stageErr != nil {
		status = "error"
	}

	e.deps.Metrics.RecordRequest(ctx, "stage."+node, status, dur)
}

// classifyStageError maps a stage failure to the span error taxonomy.
func classifyStageError(err error) (errType, errSource string) {
	switch {
	case errors.Is(err, budget.ErrBudgetExceeded):
		return observability.ErrTypeBudget, observability.ErrSourceServer
	case errors.Is(err, stages.ErrPlanInvalid):
		return observability.ErrTypeValidation, observability.ErrSourceDependency
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return observability.ErrTypeInternal, observability.ErrSourceServer
	default:
		return observability.ErrTypeDependencyUnavailable, observability.ErrSourceDependency
	}
}

// emit appends an event, treating log failures as advisory: checkpoints
// carry the durability contract, not the event log.
func (e *Executor) emit(kind eventlog.Type, node, parentID string, payload map[string]any) string {
	if e.deps.Events == nil {
		return ""
	}

	id, err := e.deps.Events.Emit(kind, node, parentID, payload)
	if err != nil {
		e.logger.Warn("event append failed", "event", string(kind), "err", err)
	}

	return id
}

func (e *Executor) warnBudget(st *state.ResearchState) {
	e.logger.Warn("budget warning threshold crossed",
		"spent_usd", st.TotalCost,
		"max_usd", e.deps.Tracker.MaxUSD(),
		"fraction", e.deps.Tracker.FractionUsed())

	if e.deps.Progress == nil {
		return
	}

	msg := fmt.Sprintf("Budget warning: %.0f%% of $%.2f consumed.",
		e.deps.Tracker.FractionUsed()*100, e.deps.Tracker.MaxUSD())
	if err := e.deps.Progress.AppendStatus(msg); err != nil {
		e.logger.Warn("progress status write failed", "err", err)
	}
}

func (e *Executor) applyTierChange(st *state.ResearchState, node, enterID string, tr budget.Transition) {
	e.emit(eventlog.TierChange, node, enterID, map[string]any{
		"old":    string(tr.From),
		"new":    string(tr.To),
		"reason": tr.Reason,
	})

	if applyErr := state.Apply(st, &state.Delta{DegradationTier: state.Ptr(tr.To)}); applyErr != nil {
		e.logger.Warn("tier overwrite failed", "err", applyErr)
	}

	e.logger.Warn("degradation tier changed", "from", tr.From, "to", tr.To, "reason", tr.Reason)

	if e.deps.Progress != nil {
		msg := fmt.Sprintf("Budget tier %s -> %s: %s", tr.From, tr.To, tr.Reason)
		if err := e.deps.Progress.AppendStatus(msg); err != nil {
			e.logger.Warn("progress status write failed", "err", err)
		}
	}
}
