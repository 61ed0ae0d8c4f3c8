package commands

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/scout/internal/checkpoint"
	"github.com/Sumatoshi-tech/scout/internal/config"
)

// CheckpointsCommand holds flag state for the checkpoints subcommands.
type CheckpointsCommand struct {
	configPath string
	all        bool
}

// NewCheckpointsCommand creates the checkpoints command group.
func NewCheckpointsCommand() *cobra.Command {
	cc := &CheckpointsCommand{}

	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "Inspect and clean run checkpoints",
	}
	cmd.PersistentFlags().StringVar(&cc.configPath, "config", "", "Config file path (default .scout.yaml in CWD or $HOME)")

	listCmd := &cobra.Command{
		Use:   "list [run_id]",
		Short: "List checkpointed runs, or one run's latest snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE:  cc.list,
	}

	cleanCmd := &cobra.Command{
		Use:   "clean [run_id]",
		Short: "Delete one run's checkpoints, or all of them with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE:  cc.clean,
	}
	cleanCmd.Flags().BoolVar(&cc.all, "all", false, "Delete every run under the checkpoints directory")

	cmd.AddCommand(listCmd, cleanCmd)

	return cmd
}

func (cc *CheckpointsCommand) list(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cc.configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if len(args) == 1 {
		return listRunDetail(out, cfg, args[0])
	}

	runs, err := checkpoint.ListRuns(cfg.Checkpoints.Dir)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No checkpointed runs.")

		return nil
	}

	tbl := newTable(out)
	tbl.AppendHeader(table.Row{"RUN", "SNAPSHOTS", "LATEST STEP", "UPDATED"})

	for _, run := range runs {
		updated := "-"
		if !run.UpdatedAt.IsZero() {
			updated = humanize.Time(run.UpdatedAt)
		}

		tbl.AppendRow(table.Row{run.RunID, run.Snapshots, run.LatestStep, updated})
	}

	tbl.Render()

	return nil
}

// listRunDetail prints the latest snapshot of one run: where it stopped,
// what it spent, and how far each subtopic got.
func listRunDetail(w io.Writer, cfg *config.Config, runID string) error {
	if !checkpoint.ValidRunID(runID) {
		return fmt.Errorf("%w: invalid run id %q", ErrConfig, runID)
	}

	store := checkpoint.NewStore(filepath.Join(cfg.Checkpoints.Dir, runID), cfg.Checkpoints.MaxKeep)

	snap, err := store.Latest()
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}

	st := snap.State

	fmt.Fprintf(w, "Run %s\n", runID)
	fmt.Fprintf(w, "  Query:  %s\n", st.Query)
	fmt.Fprintf(w, "  Step:   %d after %s, saved %s\n", snap.Step, snap.Node, snap.SavedAt)
	fmt.Fprintf(w, "  Tier:   %s\n", st.DegradationTier)
	fmt.Fprintf(w, "  Spend:  $%.4f, %s tokens\n", st.TotalCost, humanize.Comma(st.TotalTokens))

	if len(st.Subtopics) == 0 {
		return nil
	}

	fmt.Fprintln(w)

	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"#", "SUBTOPIC", "STATUS"})

	for _, sub := range st.Subtopics {
		tbl.AppendRow(table.Row{sub.ID, sub.Title, string(sub.Status)})
	}

	tbl.Render()

	return nil
}

func (cc *CheckpointsCommand) clean(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cc.configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if cc.all {
		runs, listErr := checkpoint.ListRuns(cfg.Checkpoints.Dir)
		if listErr != nil {
			return listErr
		}

		for _, run := range runs {
			if removeErr := checkpoint.RemoveRun(cfg.Checkpoints.Dir, run.RunID); removeErr != nil {
				return removeErr
			}
		}

		fmt.Fprintf(out, "Removed %d runs.\n", len(runs))

		return nil
	}

	if len(args) != 1 {
		return fmt.Errorf("%w: a run id or --all is required", ErrConfig)
	}

	if !checkpoint.ValidRunID(args[0]) {
		return fmt.Errorf("%w: invalid run id %q", ErrConfig, args[0])
	}

	if err := checkpoint.RemoveRun(cfg.Checkpoints.Dir, args[0]); err != nil {
		return err
	}

	fmt.Fprintf(out, "Removed run %s.\n", args[0])

	return nil
}
