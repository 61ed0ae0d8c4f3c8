package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/scout/internal/budget"
	"github.com/Sumatoshi-tech/scout/internal/judge"
	"github.com/Sumatoshi-tech/scout/internal/router"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// handleEvaluate scores a report with the LLM judge and returns the verdict.
func (s *Server) handleEvaluate(ctx context.Context, _ *mcpsdk.CallToolRequest, input EvaluateInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if err := validateEvaluateInput(input.Query, input.Report); err != nil {
		return errorResult(err)
	}

	if err := s.cfg.RequireModel(); err != nil {
		return errorResult(err)
	}

	rt, err := s.buildJudgeRouter()
	if err != nil {
		return errorResult(err)
	}

	verdict, err := judge.New(rt, s.logger).Evaluate(ctx, input.Query, input.Report)
	if err != nil {
		return errorResult(fmt.Errorf("evaluate: %w", err))
	}

	return jsonResult(verdict)
}

// buildJudgeRouter wires a router for evaluation calls. The tracker uses the
// configured per-run ceiling; a judge call spends a tiny fraction of it.
func (s *Server) buildJudgeRouter() (*router.Router, error) {
	cfg := s.cfg

	tracker := budget.NewTracker(cfg.Costs.MaxPerRun, cfg.Costs.WarnFraction)

	rt, err := router.New(router.Options{
		PrimaryModel:  cfg.LLM.PrimaryModel,
		FallbackModel: cfg.LLM.FallbackModel,
		BudgetModel:   cfg.LLM.BudgetModel,
		BaseURL:       cfg.LLM.BaseURL,
		APIKey:        cfg.LLM.APIKey(),
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		Timeout:       cfg.LLM.Timeout(),
	}, router.Deps{
		Tracker:    tracker,
		Controller: budget.NewController(tracker, state.TierFull),
		Logger:     s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}

	return rt, nil
}
