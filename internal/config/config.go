package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level configuration struct for scout.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	LLM           LLMConfig           `mapstructure:"llm"`
	Search        SearchConfig        `mapstructure:"search"`
	Scrape        ScrapeConfig        `mapstructure:"scrape"`
	Costs         CostsConfig         `mapstructure:"costs"`
	Checkpoints   CheckpointsConfig   `mapstructure:"checkpoints"`
	Report        ReportConfig        `mapstructure:"report"`
	Graph         GraphConfig         `mapstructure:"graph"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// LLMConfig holds model routing and client settings.
type LLMConfig struct {
	PrimaryModel  string  `mapstructure:"primary_model"`
	FallbackModel string  `mapstructure:"fallback_model"`
	BudgetModel   string  `mapstructure:"budget_model"`
	Temperature   float64 `mapstructure:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	TimeoutS      int     `mapstructure:"timeout_s"`
	BaseURL       string  `mapstructure:"base_url"`
	APIKeyEnv     string  `mapstructure:"api_key_env"`
	CacheDir      string  `mapstructure:"cache_dir"`
	CacheTTLH     int     `mapstructure:"cache_ttl_h"`
}

// SearchConfig holds web and local search settings.
type SearchConfig struct {
	MaxResults       int     `mapstructure:"max_results"`
	Depth            string  `mapstructure:"depth"`
	MinScore         float64 `mapstructure:"min_score"`
	MaxConcurrent    int     `mapstructure:"max_concurrent"`
	InterCallDelayMS int     `mapstructure:"inter_call_delay_ms"`
	TimeoutS         int     `mapstructure:"timeout_s"`
	APIBaseURL       string  `mapstructure:"api_base_url"`
	APIKeyEnv        string  `mapstructure:"api_key_env"`
	LocalDocsDir     string  `mapstructure:"local_docs_dir"`
}

// ScrapeConfig holds content extraction settings.
type ScrapeConfig struct {
	QualityReject     float64 `mapstructure:"quality_reject"`
	QualityAccept     float64 `mapstructure:"quality_accept"`
	FallbackThreshold float64 `mapstructure:"fallback_threshold"`
	TimeoutS          int     `mapstructure:"timeout_s"`
	MaxConcurrent     int     `mapstructure:"max_concurrent"`
	RenderEndpoint    string  `mapstructure:"render_endpoint"`
	MaxContentBytes   int     `mapstructure:"max_content_bytes"`
}

// CostsConfig holds run budget settings.
type CostsConfig struct {
	MaxPerRun    float64 `mapstructure:"max_per_run"`
	WarnFraction float64 `mapstructure:"warn_fraction"`
}

// CheckpointsConfig holds checkpoint persistence settings.
type CheckpointsConfig struct {
	Dir     string `mapstructure:"dir"`
	MaxKeep int    `mapstructure:"max_keep"`
}

// ReportConfig holds report rendering settings.
type ReportConfig struct {
	MaxWords  int    `mapstructure:"max_words"`
	OutputDir string `mapstructure:"output_dir"`
}

// GraphConfig holds pipeline execution settings.
type GraphConfig struct {
	StageTimeoutS int `mapstructure:"stage_timeout_s"`
}

// ObservabilityConfig holds logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel     string `mapstructure:"log_level"`
	LogJSON      bool   `mapstructure:"log_json"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
}

// Search depth levels accepted by the web provider.
const (
	SearchDepthBasic    = "basic"
	SearchDepthAdvanced = "advanced"
)

// llmCacheSubdir is the directory under checkpoints.dir used when
// llm.cache_dir is left empty.
const llmCacheSubdir = "llm_cache"

// fractionMax is the upper bound for ratio-valued settings.
const fractionMax = 1.0

// Sentinel errors for configuration validation.
var (
	// ErrInvalidMaxCost indicates the per-run budget is not positive.
	ErrInvalidMaxCost = errors.New("costs.max_per_run must be positive")
	// ErrInvalidWarnFraction indicates the warn fraction is out of (0, 1].
	ErrInvalidWarnFraction = errors.New("costs.warn_fraction must be in (0, 1]")
	// ErrInvalidTemperature indicates the sampling temperature is out of [0, 2].
	ErrInvalidTemperature = errors.New("llm.temperature must be between 0 and 2")
	// ErrInvalidMaxTokens indicates the completion token cap is not positive.
	ErrInvalidMaxTokens = errors.New("llm.max_tokens must be positive")
	// ErrInvalidLLMTimeout indicates the LLM request timeout is not positive.
	ErrInvalidLLMTimeout = errors.New("llm.timeout_s must be positive")
	// ErrInvalidCacheTTL indicates the LLM cache TTL is negative.
	ErrInvalidCacheTTL = errors.New("llm.cache_ttl_h must be non-negative")
	// ErrInvalidMaxResults indicates the search result cap is not positive.
	ErrInvalidMaxResults = errors.New("search.max_results must be positive")
	// ErrInvalidSearchDepth indicates an unknown search depth level.
	ErrInvalidSearchDepth = errors.New(`search.depth must be "basic" or "advanced"`)
	// ErrInvalidMinScore indicates the relevance floor is out of [0, 1].
	ErrInvalidMinScore = errors.New("search.min_score must be between 0 and 1")
	// ErrInvalidSearchConcurrency indicates the search concurrency is not positive.
	ErrInvalidSearchConcurrency = errors.New("search.max_concurrent must be positive")
	// ErrInvalidInterCallDelay indicates the inter-call delay is negative.
	ErrInvalidInterCallDelay = errors.New("search.inter_call_delay_ms must be non-negative")
	// ErrInvalidSearchTimeout indicates the search timeout is not positive.
	ErrInvalidSearchTimeout = errors.New("search.timeout_s must be positive")
	// ErrInvalidQualityBand indicates the scrape quality thresholds are out of
	// order or out of [0, 1].
	ErrInvalidQualityBand = errors.New("scrape quality thresholds must satisfy 0 <= reject <= accept <= 1")
	// ErrInvalidFallbackThreshold indicates the render fallback threshold is out of [0, 1].
	ErrInvalidFallbackThreshold = errors.New("scrape.fallback_threshold must be between 0 and 1")
	// ErrInvalidScrapeTimeout indicates the scrape timeout is not positive.
	ErrInvalidScrapeTimeout = errors.New("scrape.timeout_s must be positive")
	// ErrInvalidScrapeConcurrency indicates the scrape concurrency is not positive.
	ErrInvalidScrapeConcurrency = errors.New("scrape.max_concurrent must be positive")
	// ErrInvalidMaxContentBytes indicates the per-page content cap is not positive.
	ErrInvalidMaxContentBytes = errors.New("scrape.max_content_bytes must be positive")
	// ErrInvalidMaxKeep indicates the checkpoint retention count is negative.
	ErrInvalidMaxKeep = errors.New("checkpoints.max_keep must be non-negative")
	// ErrInvalidMaxWords indicates the report word cap is not positive.
	ErrInvalidMaxWords = errors.New("report.max_words must be positive")
	// ErrInvalidStageTimeout indicates the per-stage timeout is not positive.
	ErrInvalidStageTimeout = errors.New("graph.stage_timeout_s must be positive")
	// ErrInvalidLogLevel indicates an unknown log level name.
	ErrInvalidLogLevel = errors.New(`observability.log_level must be one of "debug", "info", "warn", "error"`)
	// ErrNoModelConfigured indicates no model id is configured for any role.
	ErrNoModelConfigured = errors.New("llm.primary_model, llm.fallback_model, or llm.budget_model must be set")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if err := c.validateLLM(); err != nil {
		return err
	}

	if err := c.validateSearch(); err != nil {
		return err
	}

	if err := c.validateScrape(); err != nil {
		return err
	}

	return c.validateRun()
}

func (c *Config) validateLLM() error {
	const temperatureMax = 2.0

	if c.LLM.Temperature < 0 || c.LLM.Temperature > temperatureMax {
		return ErrInvalidTemperature
	}

	if c.LLM.MaxTokens <= 0 {
		return ErrInvalidMaxTokens
	}

	if c.LLM.TimeoutS <= 0 {
		return ErrInvalidLLMTimeout
	}

	if c.LLM.CacheTTLH < 0 {
		return ErrInvalidCacheTTL
	}

	return nil
}

func (c *Config) validateSearch() error {
	if c.Search.MaxResults <= 0 {
		return ErrInvalidMaxResults
	}

	if c.Search.Depth != SearchDepthBasic && c.Search.Depth != SearchDepthAdvanced {
		return ErrInvalidSearchDepth
	}

	if c.Search.MinScore < 0 || c.Search.MinScore > fractionMax {
		return ErrInvalidMinScore
	}

	if c.Search.MaxConcurrent <= 0 {
		return ErrInvalidSearchConcurrency
	}

	if c.Search.InterCallDelayMS < 0 {
		return ErrInvalidInterCallDelay
	}

	if c.Search.TimeoutS <= 0 {
		return ErrInvalidSearchTimeout
	}

	return nil
}

func (c *Config) validateScrape() error {
	reject, accept := c.Scrape.QualityReject, c.Scrape.QualityAccept
	if reject < 0 || accept > fractionMax || reject > accept {
		return ErrInvalidQualityBand
	}

	if c.Scrape.FallbackThreshold < 0 || c.Scrape.FallbackThreshold > fractionMax {
		return ErrInvalidFallbackThreshold
	}

	if c.Scrape.TimeoutS <= 0 {
		return ErrInvalidScrapeTimeout
	}

	if c.Scrape.MaxConcurrent <= 0 {
		return ErrInvalidScrapeConcurrency
	}

	if c.Scrape.MaxContentBytes <= 0 {
		return ErrInvalidMaxContentBytes
	}

	return nil
}

func (c *Config) validateRun() error {
	if c.Costs.MaxPerRun <= 0 {
		return ErrInvalidMaxCost
	}

	if c.Costs.WarnFraction <= 0 || c.Costs.WarnFraction > fractionMax {
		return ErrInvalidWarnFraction
	}

	if c.Checkpoints.MaxKeep < 0 {
		return ErrInvalidMaxKeep
	}

	if c.Report.MaxWords <= 0 {
		return ErrInvalidMaxWords
	}

	if c.Graph.StageTimeoutS <= 0 {
		return ErrInvalidStageTimeout
	}

	switch c.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}

	return nil
}

// RequireModel checks that at least one model role is configured.
// Commands that call a model invoke this before wiring the router.
func (c *Config) RequireModel() error {
	if c.LLM.PrimaryModel == "" && c.LLM.FallbackModel == "" && c.LLM.BudgetModel == "" {
		return ErrNoModelConfigured
	}

	return nil
}

// APIKey resolves the LLM API key from the configured environment variable.
func (l *LLMConfig) APIKey() string {
	if l.APIKeyEnv == "" {
		return ""
	}

	return os.Getenv(l.APIKeyEnv)
}

// Timeout returns the per-request LLM timeout as a duration.
func (l *LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutS) * time.Second
}

// CacheTTL returns the response cache lifetime as a duration.
func (l *LLMConfig) CacheTTL() time.Duration {
	return time.Duration(l.CacheTTLH) * time.Hour
}

// APIKey resolves the search API key from the configured environment variable.
func (s *SearchConfig) APIKey() string {
	if s.APIKeyEnv == "" {
		return ""
	}

	return os.Getenv(s.APIKeyEnv)
}

// Timeout returns the per-query search timeout as a duration.
func (s *SearchConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutS) * time.Second
}

// InterCallDelay returns the pacing delay between provider calls.
func (s *SearchConfig) InterCallDelay() time.Duration {
	return time.Duration(s.InterCallDelayMS) * time.Millisecond
}

// Timeout returns the per-page scrape timeout as a duration.
func (s *ScrapeConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutS) * time.Second
}

// StageTimeout returns the per-stage execution timeout as a duration.
func (g *GraphConfig) StageTimeout() time.Duration {
	return time.Duration(g.StageTimeoutS) * time.Second
}

// LLMCacheDir returns the effective LLM cache directory, defaulting to a
// subdirectory of the checkpoint dir when unset.
func (c *Config) LLMCacheDir() string {
	if c.LLM.CacheDir != "" {
		return c.LLM.CacheDir
	}

	return filepath.Join(c.Checkpoints.Dir, llmCacheSubdir)
}
