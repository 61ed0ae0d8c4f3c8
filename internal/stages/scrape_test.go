package stages_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/scout/internal/state"
)

// contentServer serves a scrapeable article at /good and 404s everything
// else, counting hits.
func contentServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		if r.URL.Path != "/good" {
			http.NotFound(w, r)

			return
		}

		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articleHTML(12)))
	}))
	t.Cleanup(srv.Close)

	return srv, &hits
}

func scrapeState(t *testing.T, contentURL string) *state.ResearchState {
	t.Helper()

	st := singleSubtopicState("battery trends", state.Subtopic{
		ID:     "st-1",
		Title:  "Battery deployment trends",
		Status: state.StatusScraping,
	})
	st.SearchResults = []state.SearchResult{
		{URL: contentURL + "/good", Title: "Good", Score: 0.9, SubtopicID: "st-1"},
		{URL: contentURL + "/missing", Title: "Missing", Score: 0.8, SubtopicID: "st-1"},
	}

	return st
}

func TestScrapeArchivesAndAppends(t *testing.T) {
	t.Parallel()

	chat := chatServer(t, "unused")
	content, _ := contentServer(t)

	r := newRig(t, chat.URL, rigConfig{})

	st := scrapeState(t, content.URL)

	delta, err := r.stages.Scrape(context.Background(), st, "step-2")
	require.NoError(t, err)

	assert.Equal(t, state.StatusSummarizing, delta.SubtopicStatus["st-1"])

	require.Len(t, delta.ScrapedPages, 1)
	page := delta.ScrapedPages[0]
	assert.Equal(t, content.URL+"/good", page.URL)
	assert.Equal(t, "st-1", page.SubtopicID)
	assert.Contains(t, page.Content, "grid storage capacity")
	assert.False(t, page.Flagged)
	assert.Positive(t, page.WordCount)

	// The raw text lands in the archive before masking can blank it.
	assert.True(t, r.pages.Has(content.URL+"/good"))

	archived, err := r.pages.Get(content.URL + "/good")
	require.NoError(t, err)
	assert.Equal(t, page.Content, archived)

	require.Len(t, delta.Errors, 1)
	assert.Equal(t, "scrape", delta.Errors[0].Node)
	assert.True(t, delta.Errors[0].Recoverable)
	assert.Contains(t, delta.Errors[0].Message, "/missing")
}

func TestScrapeSkipsAlreadyScrapedURLs(t *testing.T) {
	t.Parallel()

	chat := chatServer(t, "unused")
	content, hits := contentServer(t)

	r := newRig(t, chat.URL, rigConfig{})

	st := singleSubtopicState("battery trends", state.Subtopic{
		ID:     "st-1",
		Title:  "Battery deployment trends",
		Status: state.StatusScraping,
	})
	st.SearchResults = []state.SearchResult{
		{URL: content.URL + "/good", Title: "Good", Score: 0.9, SubtopicID: "st-1"},
	}
	st.ScrapedPages = []state.ScrapedPage{
		{URL: content.URL + "/good", Content: "already here", SubtopicID: "st-1"},
	}

	delta, err := r.stages.Scrape(context.Background(), st, "step-2")
	require.NoError(t, err)

	assert.Equal(t, state.StatusSummarizing, delta.SubtopicStatus["st-1"])
	assert.Empty(t, delta.ScrapedPages)
	assert.Zero(t, hits.Load())
}

func TestScrapeSkippedAtCachedTier(t *testing.T) {
	t.Parallel()

	chat := chatServer(t, "unused")
	content, hits := contentServer(t)

	r := newRig(t, chat.URL, rigConfig{tier: state.TierCached})

	st := scrapeState(t, content.URL)

	delta, err := r.stages.Scrape(context.Background(), st, "step-2")
	require.NoError(t, err)

	assert.Equal(t, state.StatusSummarizing, delta.SubtopicStatus["st-1"])
	assert.Empty(t, delta.ScrapedPages)
	assert.Zero(t, hits.Load())
}
