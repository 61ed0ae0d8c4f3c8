package stages_test

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/scout/internal/budget"
	"github.com/Sumatoshi-tech/scout/internal/pagestore"
	"github.com/Sumatoshi-tech/scout/internal/report"
	"github.com/Sumatoshi-tech/scout/internal/retry"
	"github.com/Sumatoshi-tech/scout/internal/router"
	"github.com/Sumatoshi-tech/scout/internal/scrape"
	"github.com/Sumatoshi-tech/scout/internal/search"
	"github.com/Sumatoshi-tech/scout/internal/stages"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// fastPolicy keeps test retries in the microsecond range.
var fastPolicy = retry.Policy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, MaxAttempts: 2}

func chatOK(text string, in, out int) string {
	return fmt.Sprintf(
		`{"choices":[{"message":{"content":%q}}],"usage":{"prompt_tokens":%d,"completion_tokens":%d,"total_tokens":%d}}`,
		text, in, out, in+out)
}

// rig bundles a stage set with the collaborators tests poke at.
type rig struct {
	stages     *stages.Stages
	tracker    *budget.Tracker
	controller *budget.Controller
	pages      *pagestore.Store
	progress   *report.ProgressWriter
}

type rigConfig struct {
	tier      state.Tier
	providers []search.Provider
	scrape    scrape.Options
}

func newRig(t *testing.T, chatURL string, cfg rigConfig) *rig {
	t.Helper()

	if cfg.tier == "" {
		cfg.tier = state.TierFull
	}

	tracker := budget.NewTracker(2.00, 0.80)
	controller := budget.NewController(tracker, cfg.tier)

	rt, err := router.New(router.Options{
		PrimaryModel: "anthropic/claude-sonnet-4-5",
		BaseURL:      chatURL,
		APIKey:       "sk-test",
		Timeout:      time.Second,
		Policy:       fastPolicy,
	}, router.Deps{Tracker: tracker, Controller: controller})
	require.NoError(t, err)

	svc := search.New(cfg.providers, rt, search.Options{
		MinScore:       0.3,
		InterCallDelay: time.Millisecond,
		Timeout:        time.Second,
		Policy:         fastPolicy,
	}, nil)

	if cfg.scrape.Timeout == 0 {
		cfg.scrape.Timeout = time.Second
	}

	if cfg.scrape.MaxConcurrent == 0 {
		cfg.scrape.MaxConcurrent = 2
	}

	scraper := scrape.New(cfg.scrape, nil)

	dir := t.TempDir()

	pages, err := pagestore.New(filepath.Join(dir, "pages"))
	require.NoError(t, err)

	progress := report.NewProgressWriter(dir)

	st := stages.New(
		stages.Options{MaxResults: 5, MaxWords: 2000},
		stages.Deps{
			Router:     rt,
			Search:     svc,
			Scraper:    scraper,
			Pages:      pages,
			Tracker:    tracker,
			Controller: controller,
			Progress:   progress,
		})

	return &rig{stages: st, tracker: tracker, controller: controller, pages: pages, progress: progress}
}

// stubProvider returns canned hits per query string.
type stubProvider struct {
	name    string
	results map[string][]state.SearchResult
	err     error
	calls   atomic.Int32
}

func (p *stubProvider) Name() string {
	return p.name
}

func (p *stubProvider) Search(_ context.Context, query string, _ int) ([]state.SearchResult, error) {
	p.calls.Add(1)

	if p.err != nil {
		return nil, p.err
	}

	return p.results[query], nil
}

// articleHTML builds a page of n twenty-word sentences that scores well on
// every quality dimension, dated now so freshness does not drag it down.
func articleHTML(n int) string {
	var b strings.Builder

	b.WriteString("<html><head><title>Storage Outlook</title>")
	fmt.Fprintf(&b, `<meta property="article:published_time" content="%s">`, time.Now().UTC().Format(time.RFC3339))
	b.WriteString("</head><body>")

	for range n {
		b.WriteString("<p>grid storage capacity grew rapidly as utilities procured batteries to offset peak demand and integrate renewable generation during review.</p>")
	}

	b.WriteString("</body></html>")

	return b.String()
}

// singleSubtopicState builds a minimal state positioned at one subtopic.
func singleSubtopicState(query string, sub state.Subtopic) *state.ResearchState {
	st := state.New(query)
	st.Subtopics = []state.Subtopic{sub}

	return st
}
