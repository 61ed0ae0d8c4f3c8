package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRunsTotal          = "scout.research.runs.total"
	metricStepsTotal         = "scout.research.steps.total"
	metricSubtopicsTotal     = "scout.research.subtopics.total"
	metricSearchResultsTotal = "scout.research.search.results.total"
	metricPagesTotal         = "scout.research.pages.total"
	metricTokensTotal        = "scout.research.tokens.total"
	metricCostTotal          = "scout.research.cost.usd.total"

	attrTier = "tier"

	statusCompleted   = "completed"
	statusInterrupted = "interrupted"
)

// ResearchMetrics holds OTel instruments for research run metrics.
type ResearchMetrics struct {
	runsTotal          metric.Int64Counter
	stepsTotal         metric.Int64Counter
	subtopicsTotal     metric.Int64Counter
	searchResultsTotal metric.Int64Counter
	pagesTotal         metric.Int64Counter
	tokensTotal        metric.Int64Counter
	costTotal          metric.Float64Counter
}

// RunStats holds the statistics for a single research run,
// decoupled from pipeline types.
type RunStats struct {
	Tier          string
	Interrupted   bool
	Steps         int
	Subtopics     int
	SearchResults int
	PagesScraped  int
	Tokens        int64
	CostUSD       float64
}

// NewResearchMetrics creates research metric instruments from the given meter.
func NewResearchMetrics(mt metric.Meter) (*ResearchMetrics, error) {
	b := newMetricBuilder(mt)

	rm := &ResearchMetrics{
		runsTotal:          b.counter(metricRunsTotal, "Total research runs by final tier and status", "{run}"),
		stepsTotal:         b.counter(metricStepsTotal, "Total pipeline steps executed", "{step}"),
		subtopicsTotal:     b.counter(metricSubtopicsTotal, "Total subtopics planned", "{subtopic}"),
		searchResultsTotal: b.counter(metricSearchResultsTotal, "Total search results accepted", "{result}"),
		pagesTotal:         b.counter(metricPagesTotal, "Total pages scraped", "{page}"),
		tokensTotal:        b.counter(metricTokensTotal, "Total model tokens consumed", "{token}"),
		costTotal:          b.float64Counter(metricCostTotal, "Total model spend in USD", "USD"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return rm, nil
}

// RecordRun records statistics for a completed or interrupted research run.
// Safe to call on a nil receiver (no-op).
func (rm *ResearchMetrics) RecordRun(ctx context.Context, stats RunStats) {
	if rm == nil {
		return
	}

	status := statusCompleted
	if stats.Interrupted {
		status = statusInterrupted
	}

	rm.runsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrTier, stats.Tier),
		attribute.String(attrStatus, status),
	))

	rm.stepsTotal.Add(ctx, int64(stats.Steps))
	rm.subtopicsTotal.Add(ctx, int64(stats.Subtopics))
	rm.searchResultsTotal.Add(ctx, int64(stats.SearchResults))
	rm.pagesTotal.Add(ctx, int64(stats.PagesScraped))
	rm.tokensTotal.Add(ctx, stats.Tokens)
	rm.costTotal.Add(ctx, stats.CostUSD)
}
