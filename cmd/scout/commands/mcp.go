package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/scout/internal/mcp"
	"github.com/Sumatoshi-tech/scout/internal/observability"
	"github.com/Sumatoshi-tech/scout/pkg/version"
)

// NewMCPCommand creates the MCP server command.
func NewMCPCommand() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for AI agent integration",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

The MCP server exposes scout's research pipeline as tools that AI agents
can discover and invoke:
  - scout_research: Run a full research pipeline for a query
  - scout_status: Inspect an interrupted or finished run
  - scout_report: Fetch a run's synthesized report
  - scout_evaluate: Grade a report with the LLM judge`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			providers, err := initMCPObservability(cfg.Observability.OTLPEndpoint, debug)
			if err != nil {
				return err
			}
			defer shutdownObservability(providers)

			red, redErr := observability.NewREDMetrics(providers.Meter)
			if redErr != nil {
				return redErr
			}

			deps := mcp.ServerDeps{Config: cfg, Logger: providers.Logger, Metrics: red, Tracer: providers.Tracer}

			srv := mcp.NewServer(deps)

			return srv.Run(cobraCmd.Context())
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Config file path (default .scout.yaml in CWD or $HOME)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging to stderr")

	return cmd
}

// initMCPObservability configures telemetry for stdio serving: JSON logs on
// stderr so stdout stays a clean protocol channel, OTLP export from the
// standard environment variables.
func initMCPObservability(configEndpoint string, debug bool) (observability.Providers, error) {
	cfg := observability.DefaultConfig()
	cfg.ServiceVersion = version.Version
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.OTLPHeaders = observability.ParseOTLPHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	cfg.OTLPInsecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
	cfg.Mode = observability.ModeMCP
	cfg.LogJSON = true

	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = configEndpoint
	}

	if debug {
		cfg.LogLevel = slog.LevelDebug
		cfg.DebugTrace = true
	}

	return observability.Init(cfg)
}
