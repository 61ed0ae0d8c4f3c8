package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/scout/internal/config"
	"github.com/Sumatoshi-tech/scout/internal/observability"
	"github.com/Sumatoshi-tech/scout/pkg/version"
)

// loadConfig reads the layered configuration. Load failures are invocation
// problems, so they carry the config exit code.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	return cfg, nil
}

// initObservability builds telemetry providers from the configuration plus
// the root command's verbosity flags. The returned providers must be shut
// down by the caller.
func initObservability(cmd *cobra.Command, cfg *config.Config) (observability.Providers, error) {
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Mode = observability.ModeCLI
	obsCfg.LogLevel = observability.ParseLogLevel(cfg.Observability.LogLevel)
	obsCfg.LogJSON = cfg.Observability.LogJSON
	obsCfg.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	obsCfg.MetricsAddr = cfg.Observability.MetricsAddr

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		obsCfg.LogLevel = slog.LevelDebug
		obsCfg.DebugTrace = true
	}

	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		obsCfg.LogLevel = slog.LevelError
	}

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return observability.Providers{}, fmt.Errorf("init observability: %w", err)
	}

	return providers, nil
}

// shutdownObservability flushes telemetry. Flush failures are logged, not
// returned: the run result already stands.
func shutdownObservability(providers observability.Providers) {
	if err := providers.Shutdown(context.Background()); err != nil {
		providers.Logger.Warn("observability shutdown", "error", err)
	}
}
