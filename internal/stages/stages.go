// Package stages implements the five research pipeline stages: plan,
// search, scrape, summarize, synthesize. A stage reads the current state
// and returns a delta; it never mutates state directly, so the executor
// checkpoints exactly what it applied. Stages absorb their own recoverable
// failures into error entries; a returned error means the run cannot
// continue.
package stages

import (
	"errors"
	"log/slog"

	"github.com/Sumatoshi-tech/scout/internal/budget"
	"github.com/Sumatoshi-tech/scout/internal/pagestore"
	"github.com/Sumatoshi-tech/scout/internal/report"
	"github.com/Sumatoshi-tech/scout/internal/router"
	"github.com/Sumatoshi-tech/scout/internal/scrape"
	"github.com/Sumatoshi-tech/scout/internal/search"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// ErrPlanInvalid reports a plan call that produced no usable subtopics and
// no fallback was possible. Fatal: the run has nothing to research.
var ErrPlanInvalid = errors.New("plan produced no usable subtopics")

// Default stage knobs.
const (
	defaultMaxResults = 10
	defaultMaxWords   = 10000
)

// Options are the stage-level knobs not owned by a collaborator.
type Options struct {
	// MaxResults caps search hits per subtopic at full service.
	MaxResults int
	// MaxWords is the synthesized report's word target.
	MaxWords int
}

// Deps are the run-scoped collaborators the stages operate through.
type Deps struct {
	Router     *router.Router
	Search     *search.Service
	Scraper    *scrape.Scraper
	Pages      *pagestore.Store
	Tracker    *budget.Tracker
	Controller *budget.Controller
	Progress   *report.ProgressWriter
	Logger     *slog.Logger
}

// Stages runs the pipeline nodes against a shared dependency set.
type Stages struct {
	opts   Options
	deps   Deps
	logger *slog.Logger
}

// New creates the stage set. Zero options fall back to full-service
// defaults.
func New(opts Options, deps Deps) *Stages {
	if opts.MaxResults <= 0 {
		opts.MaxResults = defaultMaxResults
	}

	if opts.MaxWords <= 0 {
		opts.MaxWords = defaultMaxWords
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Stages{opts: opts, deps: deps, logger: logger}
}

// effects resolves the operating parameters of the current tier.
func (s *Stages) effects() budget.Effects {
	return budget.EffectsFor(s.deps.Controller.Tier(), s.opts.MaxResults)
}

// errEntry builds a timestamped error record for the state error log.
func errEntry(node, subtopicID, message string, recoverable bool) state.ErrorEntry {
	return state.ErrorEntry{
		Node:        node,
		SubtopicID:  subtopicID,
		Message:     message,
		At:          state.NowUTC(),
		Recoverable: recoverable,
	}
}
