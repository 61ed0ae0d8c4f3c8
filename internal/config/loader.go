package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".scout"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for scout settings.
const envPrefix = "SCOUT"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads configuration from file, env vars, and defaults.
// A .env file in the working directory is applied to the process
// environment first, without overriding variables already set.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	// Best-effort: a missing .env is the common case.
	_ = godotenv.Load()

	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("llm.primary_model", DefaultLLMPrimaryModel)
	viperCfg.SetDefault("llm.fallback_model", DefaultLLMFallbackModel)
	viperCfg.SetDefault("llm.budget_model", DefaultLLMBudgetModel)
	viperCfg.SetDefault("llm.temperature", DefaultLLMTemperature)
	viperCfg.SetDefault("llm.max_tokens", DefaultLLMMaxTokens)
	viperCfg.SetDefault("llm.timeout_s", DefaultLLMTimeoutS)
	viperCfg.SetDefault("llm.base_url", DefaultLLMBaseURL)
	viperCfg.SetDefault("llm.api_key_env", DefaultLLMAPIKeyEnv)
	viperCfg.SetDefault("llm.cache_dir", DefaultLLMCacheDir)
	viperCfg.SetDefault("llm.cache_ttl_h", DefaultLLMCacheTTLH)

	viperCfg.SetDefault("search.max_results", DefaultSearchMaxResults)
	viperCfg.SetDefault("search.depth", DefaultSearchDepth)
	viperCfg.SetDefault("search.min_score", DefaultSearchMinScore)
	viperCfg.SetDefault("search.max_concurrent", DefaultSearchMaxConcurrent)
	viperCfg.SetDefault("search.inter_call_delay_ms", DefaultSearchInterCallDelayMS)
	viperCfg.SetDefault("search.timeout_s", DefaultSearchTimeoutS)
	viperCfg.SetDefault("search.api_base_url", DefaultSearchAPIBaseURL)
	viperCfg.SetDefault("search.api_key_env", DefaultSearchAPIKeyEnv)
	viperCfg.SetDefault("search.local_docs_dir", DefaultSearchLocalDocsDir)

	viperCfg.SetDefault("scrape.quality_reject", DefaultScrapeQualityReject)
	viperCfg.SetDefault("scrape.quality_accept", DefaultScrapeQualityAccept)
	viperCfg.SetDefault("scrape.fallback_threshold", DefaultScrapeFallbackThreshold)
	viperCfg.SetDefault("scrape.timeout_s", DefaultScrapeTimeoutS)
	viperCfg.SetDefault("scrape.max_concurrent", DefaultScrapeMaxConcurrent)
	viperCfg.SetDefault("scrape.render_endpoint", DefaultScrapeRenderEndpoint)
	viperCfg.SetDefault("scrape.max_content_bytes", DefaultScrapeMaxContentBytes)

	viperCfg.SetDefault("costs.max_per_run", DefaultCostsMaxPerRun)
	viperCfg.SetDefault("costs.warn_fraction", DefaultCostsWarnFraction)

	viperCfg.SetDefault("checkpoints.dir", DefaultCheckpointsDir)
	viperCfg.SetDefault("checkpoints.max_keep", DefaultCheckpointsMaxKeep)

	viperCfg.SetDefault("report.max_words", DefaultReportMaxWords)
	viperCfg.SetDefault("report.output_dir", DefaultReportOutputDir)

	viperCfg.SetDefault("graph.stage_timeout_s", DefaultGraphStageTimeoutS)

	viperCfg.SetDefault("observability.log_level", DefaultObservabilityLogLevel)
	viperCfg.SetDefault("observability.log_json", DefaultObservabilityLogJSON)
	viperCfg.SetDefault("observability.otlp_endpoint", DefaultObservabilityOTLPEndpoint)
	viperCfg.SetDefault("observability.metrics_addr", DefaultObservabilityMetricsAddr)
}
