// Package search finds sources for subtopics: LLM query expansion, bounded
// concurrent provider calls behind adaptive rate limiting, score filtering,
// and URL-normalized deduplication against everything the run has already
// seen.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/scout/internal/observability"
	"github.com/Sumatoshi-tech/scout/internal/retry"
	"github.com/Sumatoshi-tech/scout/internal/router"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// ErrAllQueriesFailed reports that every query for a subtopic failed on
// every provider. The subtopic is marked failed; the run continues.
var ErrAllQueriesFailed = errors.New("all search queries failed")

// tracerName is the OTel tracer for per-query spans. The default trace
// filter drops this tracer's spans unless verbose tracing is on.
const tracerName = "scout.search"

// Service defaults.
const (
	DefaultMaxResults     = 10
	DefaultMinScore       = 0.3
	DefaultMaxConcurrent  = 3
	DefaultInterCallDelay = 500 * time.Millisecond
	DefaultTimeout        = 15 * time.Second
)

// Options configure the search service.
type Options struct {
	MaxResults     int
	MinScore       float64
	MaxConcurrent  int
	InterCallDelay time.Duration
	Timeout        time.Duration
	Policy         retry.Policy
}

func (o Options) withDefaults() Options {
	if o.MaxResults <= 0 {
		o.MaxResults = DefaultMaxResults
	}

	if o.MinScore <= 0 {
		o.MinScore = DefaultMinScore
	}

	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}

	if o.InterCallDelay <= 0 {
		o.InterCallDelay = DefaultInterCallDelay
	}

	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}

	if o.Policy.MaxAttempts == 0 {
		o.Policy = retry.DefaultPolicy()
	}

	return o
}

// Service runs subtopic searches. Safe for concurrent use.
type Service struct {
	providers []Provider
	rt        *router.Router
	opts      Options
	sem       chan struct{}
	logger    *slog.Logger

	mu       sync.Mutex
	limiters map[string]*Limiter
}

// New creates a search service over a provider fallback chain. rt may be
// nil, which disables query expansion.
func New(providers []Provider, rt *router.Router, opts Options, logger *slog.Logger) *Service {
	opts = opts.withDefaults()

	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		providers: providers,
		rt:        rt,
		opts:      opts,
		sem:       make(chan struct{}, opts.MaxConcurrent),
		logger:    logger,
		limiters:  map[string]*Limiter{},
	}
}

// Batch is the outcome of searching one subtopic.
type Batch struct {
	// Results are new, deduplicated hits sorted by score descending,
	// attributed to the subtopic.
	Results []state.SearchResult

	// SeenURLs are the normalized URLs of Results, for the seen set.
	SeenURLs []string

	// Queries are the query strings actually executed.
	Queries []string

	// Failed counts queries that failed on every provider.
	Failed int
}

// SearchSubtopic expands the subtopic into k query variations (falling back
// to its stored queries), runs them concurrently, and returns the
// deduplicated batch. ErrAllQueriesFailed is returned when nothing could be
// searched at all; the batch is still valid (empty).
func (s *Service) SearchSubtopic(ctx context.Context, sub *state.Subtopic, seenURLs []string, k, maxResults int, parentStepID string) (*Batch, error) {
	if maxResults <= 0 {
		maxResults = s.opts.MaxResults
	}

	queries := s.expandOrFallback(ctx, sub, k, parentStepID)

	perQuery := make([][]state.SearchResult, len(queries))
	queryErrs := make([]error, len(queries))

	var wg sync.WaitGroup

	for i, q := range queries {
		wg.Add(1)

		go func() {
			defer wg.Done()

			s.sem <- struct{}{}
			defer func() { <-s.sem }()

			perQuery[i], queryErrs[i] = s.searchOne(ctx, q, maxResults)
		}()
	}

	wg.Wait()

	batch := &Batch{Queries: queries}

	var all []state.SearchResult

	for i := range queries {
		if queryErrs[i] != nil {
			batch.Failed++

			s.logger.Warn("search query failed",
				"subtopic", sub.ID, "query", queries[i], "error", queryErrs[i])

			continue
		}

		all = append(all, perQuery[i]...)
	}

	if batch.Failed == len(queries) {
		return batch, fmt.Errorf("%w: subtopic %s", ErrAllQueriesFailed, sub.ID)
	}

	kept := all[:0]
	for _, r := range all {
		if r.Score >= s.opts.MinScore {
			kept = append(kept, r)
		}
	}

	sortResultsByScore(kept)

	seen := make(map[string]bool, len(seenURLs))
	for _, u := range seenURLs {
		norm, _ := NormalizeURL(u)
		seen[norm] = true
	}

	for _, r := range kept {
		norm, _ := NormalizeURL(r.URL)
		if seen[norm] {
			continue
		}

		seen[norm] = true
		r.SubtopicID = sub.ID
		batch.Results = append(batch.Results, r)
		batch.SeenURLs = append(batch.SeenURLs, norm)
	}

	s.logger.Info("search complete",
		"subtopic", sub.ID,
		"queries", len(queries),
		"failed", batch.Failed,
		"raw", len(all),
		"new", len(batch.Results))

	return batch, nil
}

// expandOrFallback returns the query set for a subtopic: LLM expansion when
// available, otherwise the stored queries, otherwise the title itself.
func (s *Service) expandOrFallback(ctx context.Context, sub *state.Subtopic, k int, parentStepID string) []string {
	if s.rt != nil && k > 0 {
		variations, err := ExpandQueries(ctx, s.rt, sub.Title, k, parentStepID)
		if err == nil && len(variations) > 0 {
			return variations
		}

		s.logger.Warn("query expansion failed, using stored queries",
			"subtopic", sub.ID, "error", err)
	}

	if len(sub.SearchQueries) > 0 {
		return append([]string(nil), sub.SearchQueries...)
	}

	return []string{sub.Title}
}

// searchOne runs a single query through the provider chain, retrying each
// provider under the policy before advancing.
func (s *Service) searchOne(ctx context.Context, query string, maxResults int) ([]state.SearchResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "scout.search.query",
		trace.WithAttributes(
			attribute.String("search.query", query),
			attribute.Int("search.max_results", maxResults),
		))
	defer span.End()

	var lastErr error

	for _, p := range s.providers {
		limiter := s.limiterFor(p.Name())

		var results []state.SearchResult

		err := retry.Do(ctx, s.opts.Policy, func(int) error {
			waitErr := limiter.Wait(ctx)
			if waitErr != nil {
				return waitErr
			}

			attemptCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
			defer cancel()

			out, searchErr := p.Search(attemptCtx, query, maxResults)
			limiter.Record(searchErr == nil)

			if searchErr != nil {
				return searchErr
			}

			results = out

			return nil
		}, nil)
		if err == nil {
			span.SetAttributes(
				attribute.String("provider", p.Name()),
				attribute.Int("search.results", len(results)),
			)

			return results, nil
		}

		if errors.Is(err, context.Canceled) {
			return nil, err
		}

		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("no search providers configured")
	}

	observability.RecordSpanError(span, lastErr,
		observability.ErrTypeDependencyUnavailable, observability.ErrSourceDependency)

	return nil, lastErr
}

func (s *Service) limiterFor(provider string) *Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limiters[provider]
	if !ok {
		l = NewLimiter(s.opts.InterCallDelay)
		s.limiters[provider] = l
	}

	return l
}

// sortResultsByScore orders results by score descending with URL as the
// deterministic tie-break.
func sortResultsByScore(results []state.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}

		return results[i].URL < results[j].URL
	})
}
