// Package scrape turns search result URLs into clean, quality-scored page
// content: static HTML extraction first, an optional JS-capable rendering
// fallback for pages that extract poorly, injection-safe sanitization, and
// a weighted quality gate that drops junk and flags the marginal.
package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/scout/internal/observability"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// ErrScrapeFailed wraps every per-URL failure: fetch errors, empty
// extractions, and quality rejections.
var ErrScrapeFailed = errors.New("scrape failed")

// tracerName is the OTel tracer for per-page spans. The default trace
// filter drops this tracer's spans unless verbose tracing is on.
const tracerName = "scout.scrape"

// Service defaults, matching the config file defaults.
const (
	DefaultQualityReject     = 0.3
	DefaultQualityAccept     = 0.7
	DefaultFallbackThreshold = 0.5
	DefaultTimeout           = 30 * time.Second
	DefaultMaxConcurrent     = 4
	DefaultMaxContentBytes   = 500_000
)

// maxFetchBytes caps how much raw HTML is read per page.
const maxFetchBytes = 5 << 20

const userAgent = "Mozilla/5.0 (compatible; scout-research/1.0)"

// Options configure the scraper.
type Options struct {
	QualityReject     float64
	QualityAccept     float64
	FallbackThreshold float64
	Timeout           time.Duration
	MaxConcurrent     int
	MaxContentBytes   int

	// RenderEndpoint is a JS-capable rendering service consulted when the
	// static extraction scores below FallbackThreshold. Empty disables it.
	RenderEndpoint string
}

func (o Options) withDefaults() Options {
	if o.QualityReject <= 0 {
		o.QualityReject = DefaultQualityReject
	}

	if o.QualityAccept <= 0 {
		o.QualityAccept = DefaultQualityAccept
	}

	if o.FallbackThreshold <= 0 {
		o.FallbackThreshold = DefaultFallbackThreshold
	}

	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}

	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}

	if o.MaxContentBytes <= 0 {
		o.MaxContentBytes = DefaultMaxContentBytes
	}

	return o
}

// Scraper fetches and scores pages. Safe for concurrent use.
type Scraper struct {
	opts   Options
	client *http.Client
	sem    chan struct{}
	logger *slog.Logger
	now    func() time.Time
}

// New creates a scraper.
func New(opts Options, logger *slog.Logger) *Scraper {
	opts = opts.withDefaults()

	if logger == nil {
		logger = slog.Default()
	}

	return &Scraper{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		sem:    make(chan struct{}, opts.MaxConcurrent),
		logger: logger,
		now:    time.Now,
	}
}

// Failure records one URL that could not be scraped.
type Failure struct {
	URL string
	Err error
}

// Batch is the outcome of scraping one set of search results.
type Batch struct {
	// Pages are accepted pages in input order; marginal quality is flagged.
	Pages []state.ScrapedPage

	// Rejected counts pages dropped below the quality floor.
	Rejected int

	// Failures are fetch or extraction errors, never fatal to the run.
	Failures []Failure
}

// ScrapeAll fetches every result concurrently (bounded) and returns the
// accepted pages. Failures and rejections are reported in the batch, not as
// an error; the returned error is only the context's, when cancelled.
func (s *Scraper) ScrapeAll(ctx context.Context, results []state.SearchResult) (*Batch, error) {
	pages := make([]*state.ScrapedPage, len(results))
	errs := make([]error, len(results))

	var wg sync.WaitGroup

	for i, r := range results {
		wg.Add(1)

		go func() {
			defer wg.Done()

			s.sem <- struct{}{}
			defer func() { <-s.sem }()

			pages[i], errs[i] = s.scrapeOne(ctx, r)
		}()
	}

	wg.Wait()

	batch := &Batch{}

	for i := range results {
		switch {
		case errs[i] == nil:
			batch.Pages = append(batch.Pages, *pages[i])
		case errors.Is(errs[i], errQualityRejected):
			batch.Rejected++

			s.logger.Info("page rejected", "url", results[i].URL, "error", errs[i])
		default:
			batch.Failures = append(batch.Failures, Failure{URL: results[i].URL, Err: errs[i]})

			s.logger.Warn("scrape failed", "url", results[i].URL, "error", errs[i])
		}
	}

	s.logger.Info("scrape complete",
		"urls", len(results),
		"accepted", len(batch.Pages),
		"rejected", batch.Rejected,
		"failed", len(batch.Failures))

	if ctx.Err() != nil {
		return batch, ctx.Err()
	}

	return batch, nil
}

// errQualityRejected distinguishes quality drops from fetch failures inside
// a batch. Both wrap ErrScrapeFailed for callers.
var errQualityRejected = fmt.Errorf("%w: quality below floor", ErrScrapeFailed)

func (s *Scraper) scrapeOne(ctx context.Context, result state.SearchResult) (*state.ScrapedPage, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "scout.scrape.fetch",
		trace.WithAttributes(attribute.String("http.url", result.URL)))
	defer span.End()

	rawHTML, err := s.fetch(ctx, result.URL)
	if err != nil {
		observability.RecordSpanError(span, err,
			observability.ErrTypeDependencyUnavailable, observability.ErrSourceDependency)

		return nil, err
	}

	page, quality, buildErr := s.buildPage(result, rawHTML)

	// A low static score often means a JS-rendered shell. Ask the rendering
	// service for the hydrated document and keep whichever scores higher.
	if s.opts.RenderEndpoint != "" && (buildErr != nil || quality < s.opts.FallbackThreshold) {
		rendered, renderErr := s.fetchRendered(ctx, result.URL)
		if renderErr != nil {
			s.logger.Debug("render fallback failed", "url", result.URL, "error", renderErr)
		} else {
			renderedPage, renderedQuality, renderedErr := s.buildPage(result, rendered)
			if renderedErr == nil && (buildErr != nil || renderedQuality > quality) {
				page, quality, buildErr = renderedPage, renderedQuality, nil
			}
		}
	}

	if buildErr != nil {
		observability.RecordSpanError(span, buildErr,
			observability.ErrTypeValidation, observability.ErrSourceDependency)

		return nil, buildErr
	}

	if quality < s.opts.QualityReject {
		rejectErr := fmt.Errorf("%w: %s scored %.3f", errQualityRejected, result.URL, quality)
		observability.RecordSpanError(span, rejectErr,
			observability.ErrTypeValidation, observability.ErrSourceDependency)

		return nil, rejectErr
	}

	span.SetAttributes(
		attribute.Float64("scrape.quality", quality),
		attribute.Int("scrape.words", page.WordCount),
	)

	page.Flagged = quality < s.opts.QualityAccept

	s.logger.Info("page scraped",
		"url", result.URL,
		"quality", quality,
		"words", page.WordCount,
		"flagged", page.Flagged)

	return page, nil
}

// buildPage extracts, sanitizes, and scores one document.
func (s *Scraper) buildPage(result state.SearchResult, rawHTML string) (*state.ScrapedPage, float64, error) {
	ex, err := ExtractContent(rawHTML)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrScrapeFailed, result.URL, err)
	}

	content, markers := Sanitize(ex.Text, s.opts.MaxContentBytes)
	if content == "" {
		return nil, 0, fmt.Errorf("%w: %s: no extractable content", ErrScrapeFailed, result.URL)
	}

	if markers > 0 {
		s.logger.Warn("injection markers neutralized", "url", result.URL, "count", markers)
	}

	metrics := ScoreQuality(content, ex.LinkText, ex.HTMLLen)
	freshness := ScoreFreshness(ex, s.now())
	paywall := DetectPaywall(strings.ToLower(rawHTML))

	quality := foldMultipliers(metrics.Overall, freshness, paywall)

	title := ex.Title
	if title == "" {
		title = result.Title
	}

	page := &state.ScrapedPage{
		URL:          result.URL,
		Title:        title,
		Content:      content,
		QualityScore: quality,
		WordCount:    metrics.WordCount,
		SubtopicID:   result.SubtopicID,
		FetchedAt:    state.FormatTime(s.now()),
	}

	return page, quality, nil
}

// foldMultipliers folds freshness and paywall likelihood into the heuristic
// score. Staleness costs up to 30%, tombstone pages are crushed, and a
// confident paywall halves the score since the visible text is likely a
// teaser.
func foldMultipliers(base float64, fr Freshness, pw Paywall) float64 {
	fm := 0.7 + 0.3*fr.Score
	if fr.Archived {
		fm = 0.25
	}

	pm := 1 - 0.5*pw.Confidence

	q := base * fm * pm

	return math.Round(min(1, max(0, q))*1000) / 1000
}

func (s *Scraper) fetch(ctx context.Context, url string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrScrapeFailed, url, err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, doErr := s.client.Do(req)
	if doErr != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrScrapeFailed, url, doErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s: http %d", ErrScrapeFailed, url, resp.StatusCode)
	}

	if !acceptableContentType(resp.Header.Get("Content-Type")) {
		return "", fmt.Errorf("%w: %s: unsupported content type %q", ErrScrapeFailed, url, resp.Header.Get("Content-Type"))
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if readErr != nil {
		return "", fmt.Errorf("%w: %s: read body: %v", ErrScrapeFailed, url, readErr)
	}

	return string(body), nil
}

func acceptableContentType(header string) bool {
	if header == "" {
		return true
	}

	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}

	return strings.HasPrefix(mediaType, "text/") || mediaType == "application/xhtml+xml"
}

type renderRequest struct {
	URL string `json:"url"`
}

type renderResponse struct {
	HTML  string `json:"html"`
	Error string `json:"error,omitempty"`
}

// fetchRendered asks the rendering service for the JS-hydrated document.
func (s *Scraper) fetchRendered(ctx context.Context, url string) (string, error) {
	body, err := json.Marshal(renderRequest{URL: url})
	if err != nil {
		return "", fmt.Errorf("marshal render request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	req, reqErr := http.NewRequestWithContext(reqCtx, http.MethodPost, s.opts.RenderEndpoint, bytes.NewReader(body))
	if reqErr != nil {
		return "", fmt.Errorf("create render request: %w", reqErr)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, doErr := s.client.Do(req)
	if doErr != nil {
		return "", fmt.Errorf("render request: %w", doErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("render http %d", resp.StatusCode)
	}

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if readErr != nil {
		return "", fmt.Errorf("read render response: %w", readErr)
	}

	var parsed renderResponse

	unmarshalErr := json.Unmarshal(respBody, &parsed)
	if unmarshalErr != nil {
		return "", fmt.Errorf("parse render response: %w", unmarshalErr)
	}

	if parsed.Error != "" {
		return "", fmt.Errorf("render service: %s", parsed.Error)
	}

	if strings.TrimSpace(parsed.HTML) == "" {
		return "", errors.New("render service returned empty document")
	}

	return parsed.HTML, nil
}
