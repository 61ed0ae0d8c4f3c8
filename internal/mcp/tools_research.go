package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/scout/internal/budget"
	"github.com/Sumatoshi-tech/scout/internal/checkpoint"
	"github.com/Sumatoshi-tech/scout/internal/eventlog"
	"github.com/Sumatoshi-tech/scout/internal/graph"
	"github.com/Sumatoshi-tech/scout/internal/pagestore"
	"github.com/Sumatoshi-tech/scout/internal/persist"
	"github.com/Sumatoshi-tech/scout/internal/report"
	"github.com/Sumatoshi-tech/scout/internal/router"
	"github.com/Sumatoshi-tech/scout/internal/scrape"
	"github.com/Sumatoshi-tech/scout/internal/search"
	"github.com/Sumatoshi-tech/scout/internal/stages"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// pagesDirName is the page archive subdirectory inside a run directory.
const pagesDirName = "pages"

// ResearchOutput is the structured result of the scout_research tool.
type ResearchOutput struct {
	RunID       string  `json:"run_id"`
	ReportPath  string  `json:"report_path"`
	WordCount   int     `json:"word_count"`
	CostUSD     float64 `json:"cost_usd"`
	Tier        string  `json:"tier"`
	Subtopics   int     `json:"subtopics"`
	Interrupted bool    `json:"interrupted"`
}

// handleResearch runs the full pipeline for a query and returns the run id
// and report location.
func (s *Server) handleResearch(ctx context.Context, _ *mcpsdk.CallToolRequest, input ResearchInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if err := validateResearchInput(input.Query, input.MaxCost); err != nil {
		return errorResult(err)
	}

	if err := s.cfg.RequireModel(); err != nil {
		return errorResult(err)
	}

	runID := checkpoint.NewRunID()

	run, err := s.buildRun(runID, input.MaxCost)
	if err != nil {
		return errorResult(err)
	}
	defer run.close(s.logger)

	s.logger.Info("research started", "run_id", runID, "query", input.Query)

	outcome, err := run.executor.Run(ctx, input.Query)
	if err != nil {
		return errorResult(fmt.Errorf("run %s: %w", runID, err))
	}

	out, err := report.NewWriter(s.cfg.Report.OutputDir).Write(input.Query, outcome.State.FinalReport)
	if err != nil {
		return errorResult(fmt.Errorf("write report: %w", err))
	}

	s.logger.Info("research complete",
		"run_id", runID,
		"report", out.Path,
		"cost_usd", outcome.State.TotalCost,
		"tier", outcome.FinalTier)

	wordCount := 0
	if outcome.State.ReportMetadata != nil {
		wordCount = outcome.State.ReportMetadata.WordCount
	}

	return jsonResult(ResearchOutput{
		RunID:       runID,
		ReportPath:  out.Path,
		WordCount:   wordCount,
		CostUSD:     outcome.State.TotalCost,
		Tier:        string(outcome.FinalTier),
		Subtopics:   len(outcome.State.Subtopics),
		Interrupted: outcome.Interrupted,
	})
}

// researchRun bundles the per-run pipeline wiring whose lifetime ends with
// the tool call.
type researchRun struct {
	executor *graph.Executor
	events   *eventlog.Writer
}

func (r *researchRun) close(logger *slog.Logger) {
	if err := r.events.Close(); err != nil {
		logger.Warn("close event log", "error", err)
	}
}

// buildRun assembles the pipeline for one research run. The run directory
// must exist before the checkpoint store or event log touch it.
func (s *Server) buildRun(runID string, maxCost float64) (*researchRun, error) {
	cfg := s.cfg

	runDir := filepath.Join(cfg.Checkpoints.Dir, runID)
	if err := os.MkdirAll(runDir, persist.DirPerm); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	if maxCost <= 0 {
		maxCost = cfg.Costs.MaxPerRun
	}

	tracker := budget.NewTracker(maxCost, cfg.Costs.WarnFraction)
	controller := budget.NewController(tracker, state.TierFull)

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
		Logger:     s.logger,
	})
	if err != nil {
		_ = events.Close()

		return nil, fmt.Errorf("build router: %w", err)
	}

	providers := []search.Provider{
		search.NewWebProvider(cfg.Search.APIBaseURL, cfg.Search.APIKey(), cfg.Search.Depth, cfg.Search.Timeout()),
	}
	if cfg.Search.LocalDocsDir != "" {
		providers = append(providers, search.NewLocalDocsProvider(cfg.Search.LocalDocsDir))
	}

	searcher := search.New(providers, rt, search.Options{
		MaxResults:     cfg.Search.MaxResults,
		MinScore:       cfg.Search.MinScore,
		MaxConcurrent:  cfg.Search.MaxConcurrent,
		InterCallDelay: cfg.Search.InterCallDelay(),
		Timeout:        cfg.Search.Timeout(),
	}, s.logger)

	scraper := scrape.New(scrape.Options{
		QualityReject:     cfg.Scrape.QualityReject,
		QualityAccept:     cfg.Scrape.QualityAccept,
		FallbackThreshold: cfg.Scrape.FallbackThreshold,
		Timeout:           cfg.Scrape.Timeout(),
		MaxConcurrent:     cfg.Scrape.MaxConcurrent,
		MaxContentBytes:   cfg.Scrape.MaxContentBytes,
		RenderEndpoint:    cfg.Scrape.RenderEndpoint,
	}, s.logger)

	pages, err := pagestore.New(filepath.Join(runDir, pagesDirName))
	if err != nil {
		_ = events.Close()

		return nil, fmt.Errorf("open page archive: %w", err)
	}

	progress := report.NewProgressWriter(runDir)

	stageSet := stages.New(stages.Options{
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
		Logger:     s.logger,
	})

	executor, err := graph.New(graph.Options{
		StageTimeout: cfg.Graph.StageTimeout(),
	}, graph.Deps{
		Stages:      graph.Pipeline(stageSet),
		Tracker:     tracker,
		Controller:  controller,
		Checkpoints: checkpoint.NewStore(runDir, cfg.Checkpoints.MaxKeep),
		Events:      events,
		Progress:    progress,
		Logger:      s.logger,
		Tracer:      s.tracer,
		Metrics:     s.metrics,
	})
	if err != nil {
		_ = events.Close()

		return nil, fmt.Errorf("build executor: %w", err)
	}

	return &researchRun{executor: executor, events: events}, nil
}
