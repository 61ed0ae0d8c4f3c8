package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/scout/internal/checkpoint"
	"github.com/Sumatoshi-tech/scout/internal/config"
	"github.com/Sumatoshi-tech/scout/internal/eventlog"
	"github.com/Sumatoshi-tech/scout/internal/report"
)

// NewRenderCommand creates the render command. It charts a run's spend and
// degradation tier over time from the append-only event log.
func NewRenderCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "render <run_id>",
		Short: "Render a run's cost timeline as an HTML chart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			return runRender(cmd.OutOrStdout(), cfg, args[0])
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Config file path (default .scout.yaml in CWD or $HOME)")

	return cmd
}

func runRender(w io.Writer, cfg *config.Config, runID string) error {
	if !checkpoint.ValidRunID(runID) {
		return fmt.Errorf("%w: invalid run id %q", ErrConfig, runID)
	}

	runDir := filepath.Join(cfg.Checkpoints.Dir, runID)

	events, err := eventlog.ReadAll(filepath.Join(runDir, eventlog.Filename))
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}

	outPath := filepath.Join(runDir, report.CostsFilename)

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}

	if err := report.RenderCosts(events, f); err != nil {
		_ = f.Close()

		return fmt.Errorf("render costs: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", outPath, err)
	}

	fmt.Fprintf(w, "Cost chart written: %s\n", outPath)

	return nil
}
