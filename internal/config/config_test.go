package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/scout/internal/config"
)

// validConfig returns a Config populated with the package defaults.
func validConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	emptyPath := filepath.Join(dir, "empty.yaml")
	writeFile(t, emptyPath, "")

	cfg, err := config.LoadConfig(emptyPath)
	require.NoError(t, err)

	return cfg
}

func TestValidate_Defaults_OK(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)

	require.NoError(t, cfg.Validate())
}

func TestValidate_Sentinels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr error
	}{
		{
			name:    "zero max cost",
			mutate:  func(cfg *config.Config) { cfg.Costs.MaxPerRun = 0 },
			wantErr: config.ErrInvalidMaxCost,
		},
		{
			name:    "negative max cost",
			mutate:  func(cfg *config.Config) { cfg.Costs.MaxPerRun = -1 },
			wantErr: config.ErrInvalidMaxCost,
		},
		{
			name:    "warn fraction above one",
			mutate:  func(cfg *config.Config) { cfg.Costs.WarnFraction = 1.5 },
			wantErr: config.ErrInvalidWarnFraction,
		},
		{
			name:    "warn fraction zero",
			mutate:  func(cfg *config.Config) { cfg.Costs.WarnFraction = 0 },
			wantErr: config.ErrInvalidWarnFraction,
		},
		{
			name:    "temperature out of range",
			mutate:  func(cfg *config.Config) { cfg.LLM.Temperature = 3 },
			wantErr: config.ErrInvalidTemperature,
		},
		{
			name:    "zero max tokens",
			mutate:  func(cfg *config.Config) { cfg.LLM.MaxTokens = 0 },
			wantErr: config.ErrInvalidMaxTokens,
		},
		{
			name:    "zero llm timeout",
			mutate:  func(cfg *config.Config) { cfg.LLM.TimeoutS = 0 },
			wantErr: config.ErrInvalidLLMTimeout,
		},
		{
			name:    "negative cache ttl",
			mutate:  func(cfg *config.Config) { cfg.LLM.CacheTTLH = -1 },
			wantErr: config.ErrInvalidCacheTTL,
		},
		{
			name:    "zero search results",
			mutate:  func(cfg *config.Config) { cfg.Search.MaxResults = 0 },
			wantErr: config.ErrInvalidMaxResults,
		},
		{
			name:    "unknown search depth",
			mutate:  func(cfg *config.Config) { cfg.Search.Depth = "exhaustive" },
			wantErr: config.ErrInvalidSearchDepth,
		},
		{
			name:    "min score above one",
			mutate:  func(cfg *config.Config) { cfg.Search.MinScore = 1.2 },
			wantErr: config.ErrInvalidMinScore,
		},
		{
			name:    "zero search concurrency",
			mutate:  func(cfg *config.Config) { cfg.Search.MaxConcurrent = 0 },
			wantErr: config.ErrInvalidSearchConcurrency,
		},
		{
			name:    "negative inter-call delay",
			mutate:  func(cfg *config.Config) { cfg.Search.InterCallDelayMS = -1 },
			wantErr: config.ErrInvalidInterCallDelay,
		},
		{
			name:    "zero search timeout",
			mutate:  func(cfg *config.Config) { cfg.Search.TimeoutS = 0 },
			wantErr: config.ErrInvalidSearchTimeout,
		},
		{
			name: "reject above accept",
			mutate: func(cfg *config.Config) {
				cfg.Scrape.QualityReject = 0.8
				cfg.Scrape.QualityAccept = 0.5
			},
			wantErr: config.ErrInvalidQualityBand,
		},
		{
			name:    "accept above one",
			mutate:  func(cfg *config.Config) { cfg.Scrape.QualityAccept = 1.1 },
			wantErr: config.ErrInvalidQualityBand,
		},
		{
			name:    "fallback threshold out of range",
			mutate:  func(cfg *config.Config) { cfg.Scrape.FallbackThreshold = -0.1 },
			wantErr: config.ErrInvalidFallbackThreshold,
		},
		{
			name:    "zero scrape timeout",
			mutate:  func(cfg *config.Config) { cfg.Scrape.TimeoutS = 0 },
			wantErr: config.ErrInvalidScrapeTimeout,
		},
		{
			name:    "zero scrape concurrency",
			mutate:  func(cfg *config.Config) { cfg.Scrape.MaxConcurrent = 0 },
			wantErr: config.ErrInvalidScrapeConcurrency,
		},
		{
			name:    "zero content cap",
			mutate:  func(cfg *config.Config) { cfg.Scrape.MaxContentBytes = 0 },
			wantErr: config.ErrInvalidMaxContentBytes,
		},
		{
			name:    "negative max keep",
			mutate:  func(cfg *config.Config) { cfg.Checkpoints.MaxKeep = -1 },
			wantErr: config.ErrInvalidMaxKeep,
		},
		{
			name:    "zero max words",
			mutate:  func(cfg *config.Config) { cfg.Report.MaxWords = 0 },
			wantErr: config.ErrInvalidMaxWords,
		},
		{
			name:    "zero stage timeout",
			mutate:  func(cfg *config.Config) { cfg.Graph.StageTimeoutS = 0 },
			wantErr: config.ErrInvalidStageTimeout,
		},
		{
			name:    "unknown log level",
			mutate:  func(cfg *config.Config) { cfg.Observability.LogLevel = "trace" },
			wantErr: config.ErrInvalidLogLevel,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig(t)
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestRequireModel(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)

	err := cfg.RequireModel()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrNoModelConfigured)

	cfg.LLM.BudgetModel = "test/budget-1"

	require.NoError(t, cfg.RequireModel())
}

func TestLLMCacheDir_DerivedFromCheckpoints(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Checkpoints.Dir = "/var/lib/scout/checkpoints"

	assert.Equal(t, filepath.Join("/var/lib/scout/checkpoints", "llm_cache"), cfg.LLMCacheDir())

	cfg.LLM.CacheDir = "/tmp/llm"

	assert.Equal(t, "/tmp/llm", cfg.LLMCacheDir())
}

func TestDurationHelpers(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)

	assert.Equal(t, 120*time.Second, cfg.LLM.Timeout())
	assert.Equal(t, 24*time.Hour, cfg.LLM.CacheTTL())
	assert.Equal(t, 15*time.Second, cfg.Search.Timeout())
	assert.Equal(t, 500*time.Millisecond, cfg.Search.InterCallDelay())
	assert.Equal(t, 30*time.Second, cfg.Scrape.Timeout())
	assert.Equal(t, 300*time.Second, cfg.Graph.StageTimeout())
}

func TestAPIKey_ResolvesFromEnv(t *testing.T) {
	cfg := validConfig(t)
	cfg.LLM.APIKeyEnv = "SCOUT_TEST_LLM_KEY"
	cfg.Search.APIKeyEnv = "SCOUT_TEST_SEARCH_KEY"

	t.Setenv("SCOUT_TEST_LLM_KEY", "sk-llm")
	t.Setenv("SCOUT_TEST_SEARCH_KEY", "sk-search")

	assert.Equal(t, "sk-llm", cfg.LLM.APIKey())
	assert.Equal(t, "sk-search", cfg.Search.APIKey())

	cfg.LLM.APIKeyEnv = ""

	assert.Empty(t, cfg.LLM.APIKey())
}
