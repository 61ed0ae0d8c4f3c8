// Package main provides the entry point for the scout CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/scout/cmd/scout/commands"
	"github.com/Sumatoshi-tech/scout/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "scout",
		Short: "Scout Deep Research - crash-resilient research agent",
		Long: `Scout plans, searches, scrapes, and synthesizes cited research
reports, checkpointing after every stage so an interrupted run can resume
where it stopped.

Commands:
  research     Run or resume a research pipeline for a query`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress output")

	// Add commands.
	rootCmd.AddCommand(commands.NewResearchCommand())
	rootCmd.AddCommand(commands.NewCheckpointsCommand())
	rootCmd.AddCommand(commands.NewRenderCommand())
	rootCmd.AddCommand(commands.NewEvaluateCommand())
	rootCmd.AddCommand(commands.NewMCPCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(commands.ExitCode(err))
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "scout %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
