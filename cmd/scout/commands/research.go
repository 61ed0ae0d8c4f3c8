package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/scout/internal/budget"
	"github.com/Sumatoshi-tech/scout/internal/checkpoint"
	"github.com/Sumatoshi-tech/scout/internal/config"
	"github.com/Sumatoshi-tech/scout/internal/eventlog"
	"github.com/Sumatoshi-tech/scout/internal/graph"
	"github.com/Sumatoshi-tech/scout/internal/observability"
	"github.com/Sumatoshi-tech/scout/internal/pagestore"
	"github.com/Sumatoshi-tech/scout/internal/persist"
	"github.com/Sumatoshi-tech/scout/internal/plan"
	"github.com/Sumatoshi-tech/scout/internal/report"
	"github.com/Sumatoshi-tech/scout/internal/router"
	"github.com/Sumatoshi-tech/scout/internal/scrape"
	"github.com/Sumatoshi-tech/scout/internal/search"
	"github.com/Sumatoshi-tech/scout/internal/stages"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// pagesDirName is the page archive subdirectory inside a run directory.
const pagesDirName = "pages"

// ResearchCommand holds flag state for the research command.
type ResearchCommand struct {
	configPath  string
	resumeID    string
	maxCost     float64
	outputDir   string
	noApprove   bool
	model       string
	metricsAddr string
}

// NewResearchCommand creates the research command.
func NewResearchCommand() *cobra.Command {
	rc := &ResearchCommand{}

	cmd := &cobra.Command{
		Use:   "research [query]",
		Short: "Run or resume a deep research pipeline",
		Long: `Research a query end to end: plan subtopics, search, scrape,
summarize, and synthesize a cited Markdown report. Every stage is
checkpointed, so an interrupted run resumes with --resume from where
it stopped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: rc.run,
	}

	cmd.Flags().StringVar(&rc.configPath, "config", "", "Config file path (default .scout.yaml in CWD or $HOME)")
	cmd.Flags().StringVar(&rc.resumeID, "resume", "", "Resume an interrupted run by id")
	cmd.Flags().Float64Var(&rc.maxCost, "max-cost", 0, "Spend ceiling in USD for this run (0 = configured ceiling)")
	cmd.Flags().StringVarP(&rc.outputDir, "output", "o", "", "Report output directory")
	cmd.Flags().BoolVar(&rc.noApprove, "no-approve", false, "Skip the interactive plan review")
	cmd.Flags().StringVar(&rc.model, "model", "", "Primary model id override")
	cmd.Flags().StringVar(&rc.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

func (rc *ResearchCommand) run(cmd *cobra.Command, args []string) error {
	query := ""
	if len(args) > 0 {
		query = strings.TrimSpace(args[0])
	}

	if query == "" && rc.resumeID == "" {
		return fmt.Errorf("%w: a query argument or --resume is required", ErrConfig)
	}

	if rc.resumeID != "" && !checkpoint.ValidRunID(rc.resumeID) {
		return fmt.Errorf("%w: invalid run id %q", ErrConfig, rc.resumeID)
	}

	cfg, err := loadConfig(rc.configPath)
	if err != nil {
		return err
	}

	rc.applyOverrides(cfg)

	if err := cfg.RequireModel(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	providers, err := initObservability(cmd, cfg)
	if err != nil {
		return err
	}
	defer shutdownObservability(providers)

	red, err := observability.NewREDMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	research, err := observability.NewResearchMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	runCtx, coord := graph.NewCoordinator(cmd.Context(), providers.Logger)
	defer coord.Close()

	runID, snap, err := rc.resolveRun(cfg, query, providers.Logger)
	if err != nil {
		return err
	}

	maxCost := rc.maxCost
	if maxCost <= 0 {
		maxCost = cfg.Costs.MaxPerRun
	}

	startTier := state.TierFull
	if snap != nil {
		startTier = snap.State.DegradationTier
	}

	tracker := budget.NewTracker(maxCost, cfg.Costs.WarnFraction)
	controller := budget.NewController(tracker, startTier)

	pipe, err := rc.buildPipeline(runCtx, cfg, runID, tracker, controller, coord, providers, red)
	if err != nil {
		return err
	}
	defer pipe.close(providers.Logger)

	out := cmd.OutOrStdout()

	var outcome *graph.Outcome
	if snap != nil {
		fmt.Fprintf(out, "Resuming run %s from step %d (%s)\n", runID, snap.Step, snap.Node)
		outcome, err = pipe.executor.Resume(runCtx, snap)
	} else {
		fmt.Fprintf(out, "Starting run %s\n", runID)
		outcome, err = pipe.executor.Run(runCtx, query)
	}

	if err != nil {
		printResumeHint(cmd.ErrOrStderr(), runID)

		return fmt.Errorf("run %s: %w", runID, err)
	}

	reportOut, err := report.NewWriter(cfg.Report.OutputDir).Write(outcome.State.Query, outcome.State.FinalReport)
	if err != nil {
		printResumeHint(cmd.ErrOrStderr(), runID)

		return fmt.Errorf("write report: %w", err)
	}

	research.RecordRun(cmd.Context(), observability.RunStats{
		Tier:          string(outcome.FinalTier),
		Interrupted:   outcome.Interrupted,
		Steps:         outcome.Steps,
		Subtopics:     len(outcome.State.Subtopics),
		SearchResults: len(outcome.State.SearchResults),
		PagesScraped:  len(outcome.State.ScrapedPages),
		Tokens:        outcome.State.TotalTokens,
		CostUSD:       outcome.State.TotalCost,
	})

	printSummary(out, outcome, reportOut, tracker, runID)

	if outcome.Interrupted {
		printResumeHint(cmd.ErrOrStderr(), runID)

		return fmt.Errorf("%w: partial report written to %s", ErrInterrupted, reportOut.Path)
	}

	return nil
}

// applyOverrides copies flag values over the loaded configuration. Flags
// beat config file and environment.
func (rc *ResearchCommand) applyOverrides(cfg *config.Config) {
	if rc.maxCost > 0 {
		cfg.Costs.MaxPerRun = rc.maxCost
	}

	if rc.outputDir != "" {
		cfg.Report.OutputDir = rc.outputDir
	}

	if rc.model != "" {
		cfg.LLM.PrimaryModel = rc.model
	}

	if rc.metricsAddr != "" {
		cfg.Observability.MetricsAddr = rc.metricsAddr
	}
}

// resolveRun picks the run id and, when resuming, loads the latest verified
// snapshot. Fresh runs get a new id and an empty run directory. A resume
// that finds nothing intact restarts the run from scratch when the query is
// still at hand; corrupt snapshots are already quarantined by then.
func (rc *ResearchCommand) resolveRun(cfg *config.Config, query string, logger *slog.Logger) (string, *checkpoint.Snapshot, error) {
	if rc.resumeID != "" {
		runDir := filepath.Join(cfg.Checkpoints.Dir, rc.resumeID)

		snap, err := checkpoint.NewStore(runDir, cfg.Checkpoints.MaxKeep).Latest()

		switch {
		case err == nil:
			return rc.resumeID, snap, nil
		case errors.Is(err, checkpoint.ErrNoCheckpoint) && query != "":
			logger.Warn("no valid checkpoint, restarting run", "run_id", rc.resumeID)

			if mkErr := os.MkdirAll(runDir, persist.DirPerm); mkErr != nil {
				return "", nil, fmt.Errorf("create run dir: %w", mkErr)
			}

			return rc.resumeID, nil, nil
		default:
			return "", nil, fmt.Errorf("resume %s: %w", rc.resumeID, err)
		}
	}

	runID := checkpoint.NewRunID()

	runDir := filepath.Join(cfg.Checkpoints.Dir, runID)
	if err := os.MkdirAll(runDir, persist.DirPerm); err != nil {
		return "", nil, fmt.Errorf("create run dir: %w", err)
	}

	return runID, nil, nil
}

// pipeline bundles the per-run collaborators the command owns.
type pipeline struct {
	executor *graph.Executor
	events   *eventlog.Writer
}

func (p *pipeline) close(logger *slog.Logger) {
	if err := p.events.Close(); err != nil {
		logger.Warn("close event log", "error", err)
	}
}

// buildPipeline assembles the executor for one run. The run directory must
// exist before the checkpoint store or event log touch it.
func (rc *ResearchCommand) buildPipeline(
	runCtx context.Context,
	cfg *config.Config,
	runID string,
	tracker *budget.Tracker,
	controller *budget.Controller,
	coord *graph.Coordinator,
	providers observability.Providers,
	red *observability.REDMetrics,
) (*pipeline, error) {
	logger := providers.Logger
	runDir := filepath.Join(cfg.Checkpoints.Dir, runID)

	events, err := eventlog.OpenWriter(filepath.Join(runDir, eventlog.Filename))
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	rt, err := router.New(router.Options{
		PrimaryModel:  cfg.LLM.PrimaryModel,
		FallbackModel: cfg.LLM.FallbackModel,
		BudgetModel:   cfg.LLM.BudgetModel,
		BaseURL:       cfg.LLM.BaseURL,
		APIKey:        cfg.LLM.APIKey(),
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		Timeout:       cfg.LLM.Timeout(),
		CacheDir:      cfg.LLMCacheDir(),
		CacheTTL:      cfg.LLM.CacheTTL(),
	}, router.Deps{
		Tracker:    tracker,
		Controller: controller,
		Events:     events,
		Logger:     logger,
	})
	if err != nil {
		_ = events.Close()

		return nil, fmt.Errorf("build router: %w", err)
	}

	searchProviders := []search.Provider{
		search.NewWebProvider(cfg.Search.APIBaseURL, cfg.Search.APIKey(), cfg.Search.Depth, cfg.Search.Timeout()),
	}
	if cfg.Search.LocalDocsDir != "" {
		searchProviders = append(searchProviders, search.NewLocalDocsProvider(cfg.Search.LocalDocsDir))
	}

	searcher := search.New(searchProviders, rt, search.Options{
		MaxResults:     cfg.Search.MaxResults,
		MinScore:       cfg.Search.MinScore,
		MaxConcurrent:  cfg.Search.MaxConcurrent,
		InterCallDelay: cfg.Search.InterCallDelay(),
		Timeout:        cfg.Search.Timeout(),
	}, logger)

	scraper := scrape.New(scrape.Options{
		QualityReject:     cfg.Scrape.QualityReject,
		QualityAccept:     cfg.Scrape.QualityAccept,
		FallbackThreshold: cfg.Scrape.FallbackThreshold,
		Timeout:           cfg.Scrape.Timeout(),
		MaxConcurrent:     cfg.Scrape.MaxConcurrent,
		MaxContentBytes:   cfg.Scrape.MaxContentBytes,
		RenderEndpoint:    cfg.Scrape.RenderEndpoint,
	}, logger)

	pages, err := pagestore.New(filepath.Join(runDir, pagesDirName))
	if err != nil {
		_ = events.Close()

		return nil, fmt.Errorf("open page archive: %w", err)
	}

	progress := report.NewProgressWriter(runDir)

	stageSet := graph.Pipeline(stages.New(stages.Options{
		MaxResults: cfg.Search.MaxResults,
		MaxWords:   cfg.Report.MaxWords,
	}, stages.Deps{
		Router:     rt,
		Search:     searcher,
		Scraper:    scraper,
		Pages:      pages,
		Tracker:    tracker,
		Controller: controller,
		Progress:   progress,
		Logger:     logger,
	}))

	if !rc.noApprove {
		stageSet.Plan = approvedPlanStage(runCtx, stageSet.Plan, events, logger)
	}

	executor, err := graph.New(graph.Options{
		StageTimeout: cfg.Graph.StageTimeout(),
	}, graph.Deps{
		Stages:      stageSet,
		Tracker:     tracker,
		Controller:  controller,
		Checkpoints: checkpoint.NewStore(runDir, cfg.Checkpoints.MaxKeep),
		Events:      events,
		Progress:    progress,
		Shutdown:    coord,
		Logger:      logger,
		Tracer:      providers.Tracer,
		Metrics:     red,
	})
	if err != nil {
		_ = events.Close()

		return nil, fmt.Errorf("build executor: %w", err)
	}

	return &pipeline{executor: executor, events: events}, nil
}

// approvedPlanStage wraps the plan stage with the interactive review. The
// review runs under the coordinator's context rather than the stage context
// so a thinking human never trips the stage timeout.
func approvedPlanStage(runCtx context.Context, planStage graph.StageFunc, events *eventlog.Writer, logger *slog.Logger) graph.StageFunc {
	return func(ctx context.Context, st *state.ResearchState, parentStepID string) (*state.Delta, error) {
		delta, err := planStage(ctx, st, parentStepID)
		if err != nil {
			return nil, err
		}

		if delta.Subtopics == nil || len(*delta.Subtopics) == 0 {
			return delta, nil
		}

		res, err := plan.Review(runCtx, st.Query, *delta.Subtopics, plan.Options{})
		if err != nil {
			return nil, fmt.Errorf("plan review: %w", err)
		}

		if res.Decision != plan.DecisionEdited {
			return delta, nil
		}

		delta.Subtopics = state.Ptr(res.Subtopics)

		edit := eventlog.Event{
			TS:       state.NowUTC(),
			StepID:   eventlog.NewStepID(graph.NodePlan),
			ParentID: parentStepID,
			Event:    eventlog.PlanEdited,
			Node:     graph.NodePlan,
			Payload:  map[string]any{"diff": res.Diff, "subtopics": len(res.Subtopics)},
		}
		if appendErr := events.Append(edit); appendErr != nil {
			logger.Warn("record plan edit", "error", appendErr)
		}

		return delta, nil
	}
}

func printResumeHint(w io.Writer, runID string) {
	fmt.Fprintf(w, "\nRun %s can be resumed:\n  scout research --resume %s\n", runID, runID)
}

// printSummary reports where the result landed and what it cost.
func printSummary(w io.Writer, outcome *graph.Outcome, out *report.Output, tracker *budget.Tracker, runID string) {
	status := "complete"
	if outcome.Interrupted {
		status = "interrupted"
	}

	color.New(color.FgGreen, color.Bold).Fprintf(w, "\nReport written: %s\n", out.Path)
	fmt.Fprintf(w, "Run %s %s: %d steps, tier %s, %d subtopics\n",
		runID, status, outcome.Steps, outcome.FinalTier, len(outcome.State.Subtopics))
	fmt.Fprintf(w, "Spend: $%.4f of $%.2f, %s tokens\n",
		tracker.Total(), tracker.MaxUSD(), humanize.Comma(tracker.TotalTokens()))

	printCostTable(w, tracker)
}

// printCostTable renders per-model spend in the same light table style the
// checkpoints listing uses.
func printCostTable(w io.Writer, tracker *budget.Tracker) {
	names := tracker.Providers()
	if len(names) == 0 {
		return
	}

	usage := tracker.ByProvider()

	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"MODEL", "CALLS", "TOKENS", "COST"})

	for _, name := range names {
		u := usage[name]
		tbl.AppendRow(table.Row{name, u.Calls, humanize.Comma(u.Tokens), fmt.Sprintf("$%.4f", u.CostUSD)})
	}

	tbl.AppendFooter(table.Row{"TOTAL", "", humanize.Comma(tracker.TotalTokens()), fmt.Sprintf("$%.4f", tracker.Total())})
	tbl.Render()
}
