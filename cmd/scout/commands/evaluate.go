package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/scout/internal/budget"
	"github.com/Sumatoshi-tech/scout/internal/config"
	"github.com/Sumatoshi-tech/scout/internal/judge"
	"github.com/Sumatoshi-tech/scout/internal/router"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// EvaluateCommand holds flag state for the evaluate command.
type EvaluateCommand struct {
	configPath string
	query      string
}

// NewEvaluateCommand creates the evaluate command.
func NewEvaluateCommand() *cobra.Command {
	ec := &EvaluateCommand{}

	cmd := &cobra.Command{
		Use:   "evaluate <report.md>",
		Short: "Score a research report with the LLM judge",
		Long: `Evaluate grades a Markdown report against its research query on
accuracy, completeness, source coverage, coherence, and bias, then
prints a scorecard with the weighted overall score.`,
		Args: cobra.ExactArgs(1),
		RunE: ec.run,
	}

	cmd.Flags().StringVar(&ec.configPath, "config", "", "Config file path (default .scout.yaml in CWD or $HOME)")
	cmd.Flags().StringVar(&ec.query, "query", "", "Research query the report answers (required)")

	return cmd
}

func (ec *EvaluateCommand) run(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(ec.query) == "" {
		return fmt.Errorf("%w: --query is required", ErrConfig)
	}

	body, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("%w: read report: %w", ErrConfig, err)
	}

	cfg, err := loadConfig(ec.configPath)
	if err != nil {
		return err
	}

	if err := cfg.RequireModel(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	providers, err := initObservability(cmd, cfg)
	if err != nil {
		return err
	}
	defer shutdownObservability(providers)

	rt, err := buildJudgeRouter(cfg, providers.Logger)
	if err != nil {
		return err
	}

	verdict, err := judge.New(rt, providers.Logger).Evaluate(cmd.Context(), ec.query, string(body))
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), judge.Scorecard(verdict))

	return nil
}

// buildJudgeRouter wires a standalone router for judge calls. The tracker
// uses the configured per-run ceiling; a judge call spends a tiny fraction
// of it.
func buildJudgeRouter(cfg *config.Config, logger *slog.Logger) (*router.Router, error) {
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
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}

	return rt, nil
}
