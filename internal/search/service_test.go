package search_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/scout/internal/budget"
	"github.com/Sumatoshi-tech/scout/internal/retry"
	"github.com/Sumatoshi-tech/scout/internal/router"
	"github.com/Sumatoshi-tech/scout/internal/search"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// fastOpts keeps test retries and delays negligible.
var fastOpts = search.Options{
	MinScore:       0.3,
	InterCallDelay: time.Millisecond,
	Timeout:        time.Second,
	Policy:         retry.Policy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 2},
}

// stubProvider serves canned results per query.
type stubProvider struct {
	name    string
	results map[string][]state.SearchResult
	err     error
	calls   atomic.Int32
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Search(_ context.Context, query string, _ int) ([]state.SearchResult, error) {
	p.calls.Add(1)

	if p.err != nil {
		return nil, p.err
	}

	return p.results[query], nil
}

func subtopic(id, title string, queries ...string) *state.Subtopic {
	return &state.Subtopic{ID: id, Title: title, SearchQueries: queries, Status: state.StatusPending}
}

func TestSearchSubtopicFiltersSortsAndDedupes(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{
		name: "stub",
		results: map[string][]state.SearchResult{
			"q1": {
				{URL: "https://a.example/one", Title: "one", Score: 0.9},
				{URL: "https://b.example/low", Title: "low", Score: 0.1},
			},
			"q2": {
				// Same page as q1's best hit, reached through tracking params.
				{URL: "https://A.example/one/?utm_source=feed", Title: "dup", Score: 0.7},
				{URL: "https://c.example/two", Title: "two", Score: 0.5},
			},
		},
	}

	svc := search.New([]search.Provider{provider}, nil, fastOpts, nil)

	batch, err := svc.SearchSubtopic(context.Background(), subtopic("st-1", "t", "q1", "q2"), nil, 0, 10, "")
	require.NoError(t, err)

	require.Len(t, batch.Results, 2)
	assert.Equal(t, "https://a.example/one", batch.Results[0].URL, "highest score first")
	assert.Equal(t, "https://c.example/two", batch.Results[1].URL)

	for _, r := range batch.Results {
		assert.Equal(t, "st-1", r.SubtopicID)
		assert.GreaterOrEqual(t, r.Score, 0.3)
	}

	assert.Equal(t, []string{"https://a.example/one", "https://c.example/two"}, batch.SeenURLs)
	assert.Zero(t, batch.Failed)
}

func TestSearchSubtopicSkipsAlreadySeenURLs(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{
		name: "stub",
		results: map[string][]state.SearchResult{
			"q1": {
				{URL: "https://a.example/one", Score: 0.9},
				{URL: "https://b.example/fresh", Score: 0.8},
			},
		},
	}

	svc := search.New([]search.Provider{provider}, nil, fastOpts, nil)

	seen := []string{"https://a.example/one"}

	batch, err := svc.SearchSubtopic(context.Background(), subtopic("st-1", "t", "q1"), seen, 0, 10, "")
	require.NoError(t, err)

	require.Len(t, batch.Results, 1)
	assert.Equal(t, "https://b.example/fresh", batch.Results[0].URL)
}

func TestSearchSubtopicProviderFallback(t *testing.T) {
	t.Parallel()

	broken := &stubProvider{name: "broken", err: retry.Permanent(fmt.Errorf("api key revoked"))}
	working := &stubProvider{
		name: "backup",
		results: map[string][]state.SearchResult{
			"q1": {{URL: "https://a.example/one", Score: 0.9}},
		},
	}

	svc := search.New([]search.Provider{broken, working}, nil, fastOpts, nil)

	batch, err := svc.SearchSubtopic(context.Background(), subtopic("st-1", "t", "q1"), nil, 0, 10, "")
	require.NoError(t, err)
	require.Len(t, batch.Results, 1)

	// Permanent errors advance the chain without retrying.
	assert.Equal(t, int32(1), broken.calls.Load())
	assert.Equal(t, int32(1), working.calls.Load())
}

func TestSearchSubtopicAllQueriesFailed(t *testing.T) {
	t.Parallel()

	broken := &stubProvider{name: "broken", err: retry.Permanent(fmt.Errorf("down"))}

	svc := search.New([]search.Provider{broken}, nil, fastOpts, nil)

	batch, err := svc.SearchSubtopic(context.Background(), subtopic("st-1", "t", "q1", "q2"), nil, 0, 10, "")
	require.ErrorIs(t, err, search.ErrAllQueriesFailed)
	assert.Equal(t, 2, batch.Failed)
	assert.Empty(t, batch.Results)
}

func TestSearchSubtopicFallsBackToTitleWithoutQueries(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{
		name: "stub",
		results: map[string][]state.SearchResult{
			"quantum error correction": {{URL: "https://a.example/q", Score: 0.8}},
		},
	}

	svc := search.New([]search.Provider{provider}, nil, fastOpts, nil)

	batch, err := svc.SearchSubtopic(context.Background(), subtopic("st-1", "quantum error correction"), nil, 0, 10, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"quantum error correction"}, batch.Queries)
	require.Len(t, batch.Results, 1)
}

func TestSearchSubtopicExpandsQueriesViaRouter(t *testing.T) {
	t.Parallel()

	expansion := `{"original":"solar panels","variations":["solar panel efficiency 2026","photovoltaic market overview"]}`

	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w,
			`{"choices":[{"message":{"content":%q}}],"usage":{"prompt_tokens":10,"completion_tokens":20,"total_tokens":30}}`,
			expansion)
	}))
	defer llm.Close()

	tracker := budget.NewTracker(2.00, 0.80)

	rt, err := router.New(router.Options{
		PrimaryModel: "openai/gpt-4o-mini",
		BaseURL:      llm.URL,
		APIKey:       "k",
		Policy:       retry.Policy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 1},
	}, router.Deps{Tracker: tracker})
	require.NoError(t, err)

	provider := &stubProvider{
		name: "stub",
		results: map[string][]state.SearchResult{
			"solar panel efficiency 2026":  {{URL: "https://a.example/eff", Score: 0.9}},
			"photovoltaic market overview": {{URL: "https://b.example/market", Score: 0.8}},
		},
	}

	svc := search.New([]search.Provider{provider}, rt, fastOpts, nil)

	batch, err := svc.SearchSubtopic(context.Background(), subtopic("st-1", "solar panels", "stored query"), nil, 2, 10, "search-0001")
	require.NoError(t, err)

	assert.Equal(t, []string{"solar panel efficiency 2026", "photovoltaic market overview"}, batch.Queries)
	assert.Len(t, batch.Results, 2)
}

func TestSearchSubtopicExpansionFailureFallsBackToStoredQueries(t *testing.T) {
	t.Parallel()

	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer llm.Close()

	tracker := budget.NewTracker(2.00, 0.80)

	rt, err := router.New(router.Options{
		PrimaryModel: "openai/gpt-4o-mini",
		BaseURL:      llm.URL,
		APIKey:       "k",
		Policy:       retry.Policy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 1},
	}, router.Deps{Tracker: tracker})
	require.NoError(t, err)

	provider := &stubProvider{
		name: "stub",
		results: map[string][]state.SearchResult{
			"stored query": {{URL: "https://a.example/s", Score: 0.9}},
		},
	}

	svc := search.New([]search.Provider{provider}, rt, fastOpts, nil)

	batch, err := svc.SearchSubtopic(context.Background(), subtopic("st-1", "title", "stored query"), nil, 3, 10, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"stored query"}, batch.Queries)
	require.Len(t, batch.Results, 1)
}

func TestWebProviderParsesResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer sk-search", r.Header.Get("Authorization"))

		fmt.Fprint(w, `{"results":[
			{"title":"Doc","url":"https://a.example/doc","content":"snippet text","score":0.92},
			{"title":"Blog","url":"https://b.example/blog","content":"other","score":0.41}
		]}`)
	}))
	defer srv.Close()

	p := search.NewWebProvider(srv.URL, "sk-search", "advanced", time.Second)
	assert.Equal(t, "web", p.Name())

	results, err := p.Search(context.Background(), "query", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://a.example/doc", results[0].URL)
	assert.Equal(t, "Doc", results[0].Title)
	assert.Equal(t, "snippet text", results[0].Snippet)
	assert.InDelta(t, 0.92, results[0].Score, 1e-9)
}

func TestWebProviderClassifiesErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusTooManyRequests, retry.IsRateLimited},
		{http.StatusBadGateway, retry.IsTransient},
		{http.StatusForbidden, retry.IsPermanent},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			p := search.NewWebProvider(srv.URL, "k", "", time.Second)

			_, err := p.Search(context.Background(), "q", 5)
			require.Error(t, err)
			assert.True(t, tc.check(err), "status %d misclassified: %v", tc.status, err)
		})
	}
}

func TestLocalDocsProviderScoresCorpus(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "fusion.md"),
		[]byte("# Fusion energy\nTokamak reactors confine plasma with magnetic fields. Fusion energy output exceeded input in 2025."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"),
		[]byte("Grocery list and weekend plans."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.bin"),
		[]byte{0x00, 0x01}, 0o600))

	p := search.NewLocalDocsProvider(dir)
	assert.Equal(t, "localdocs", p.Name())

	results, err := p.Search(context.Background(), "fusion energy tokamak", 10)
	require.NoError(t, err)
	require.Len(t, results, 1, "only the fusion doc matches")

	hit := results[0]
	assert.Equal(t, "fusion.md", hit.Title)
	assert.True(t, len(hit.URL) > 7 && hit.URL[:7] == "file://", "url %q", hit.URL)
	assert.Greater(t, hit.Score, 0.5)
	assert.NotEmpty(t, hit.Snippet)
}

func TestLocalDocsProviderCapsResults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	for i := range 5 {
		name := filepath.Join(dir, fmt.Sprintf("doc%d.txt", i))
		require.NoError(t, os.WriteFile(name, []byte("go concurrency patterns with channels"), 0o600))
	}

	p := search.NewLocalDocsProvider(dir)

	results, err := p.Search(context.Background(), "go concurrency channels", 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}
