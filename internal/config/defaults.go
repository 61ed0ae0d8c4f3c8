package config

// LLM defaults.
const (
	DefaultLLMPrimaryModel  = ""
	DefaultLLMFallbackModel = ""
	DefaultLLMBudgetModel   = ""
	DefaultLLMTemperature   = 0.1
	DefaultLLMMaxTokens     = 4096
	DefaultLLMTimeoutS      = 120
	DefaultLLMBaseURL       = ""
	DefaultLLMAPIKeyEnv     = "SCOUT_LLM_API_KEY"
	DefaultLLMCacheDir      = ""
	DefaultLLMCacheTTLH     = 24
)

// Search defaults.
const (
	DefaultSearchMaxResults       = 10
	DefaultSearchDepth            = "advanced"
	DefaultSearchMinScore         = 0.3
	DefaultSearchMaxConcurrent    = 3
	DefaultSearchInterCallDelayMS = 500
	DefaultSearchTimeoutS         = 15
	DefaultSearchAPIBaseURL       = ""
	DefaultSearchAPIKeyEnv        = "SCOUT_SEARCH_API_KEY"
	DefaultSearchLocalDocsDir     = ""
)

// Scrape defaults.
const (
	DefaultScrapeQualityReject     = 0.3
	DefaultScrapeQualityAccept     = 0.7
	DefaultScrapeFallbackThreshold = 0.5
	DefaultScrapeTimeoutS          = 30
	DefaultScrapeMaxConcurrent     = 4
	DefaultScrapeRenderEndpoint    = ""
	DefaultScrapeMaxContentBytes   = 500000
)

// Cost defaults.
const (
	DefaultCostsMaxPerRun    = 2.00
	DefaultCostsWarnFraction = 0.80
)

// Checkpoint defaults.
const (
	DefaultCheckpointsDir     = "./checkpoints"
	DefaultCheckpointsMaxKeep = 5
)

// Report defaults.
const (
	DefaultReportMaxWords  = 10000
	DefaultReportOutputDir = "./reports"
)

// Graph defaults.
const (
	DefaultGraphStageTimeoutS = 300
)

// Observability defaults.
const (
	DefaultObservabilityLogLevel     = "info"
	DefaultObservabilityLogJSON      = false
	DefaultObservabilityOTLPEndpoint = ""
	DefaultObservabilityMetricsAddr  = ""
)
