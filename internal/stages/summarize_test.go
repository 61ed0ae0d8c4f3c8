package stages_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/scout/internal/state"
)

const summaryJSON = `{"summary": "Battery deployments doubled year over year.", ` +
	`"key_findings": ["Costs fell 30%"], "disagreements": "Source B expects slower growth."}`

func summarizeState(pages ...state.ScrapedPage) *state.ResearchState {
	st := singleSubtopicState("battery trends", state.Subtopic{
		ID:          "st-1",
		Title:       "Battery deployment trends",
		Description: "How fast is grid storage growing.",
		Status:      state.StatusSummarizing,
	})
	st.ScrapedPages = pages

	return st
}

func TestSummarizeProducesSummaryAndMasksContent(t *testing.T) {
	t.Parallel()

	srv := chatServer(t, summaryJSON)
	r := newRig(t, srv.URL, rigConfig{})

	st := summarizeState(
		state.ScrapedPage{URL: "https://example.com/a", Title: "A", Content: "text a", SubtopicID: "st-1"},
		state.ScrapedPage{URL: "https://example.com/b", Title: "B", Content: "text b", SubtopicID: "st-1"},
	)

	delta, err := r.stages.Summarize(context.Background(), st, "step-3")
	require.NoError(t, err)

	require.Len(t, delta.SubtopicSummaries, 1)
	sum := delta.SubtopicSummaries[0]
	assert.Equal(t, "st-1", sum.SubtopicID)
	assert.Equal(t, "Battery deployment trends", sum.Title)
	assert.Equal(t, "Battery deployments doubled year over year.\n\nDisagreements and gaps: Source B expects slower growth.", sum.Summary)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, sum.Citations)
	assert.Equal(t, []string{"Costs fell 30%"}, sum.KeyFindings)
	assert.Equal(t, 80, sum.TokenCount)

	assert.Equal(t, state.StatusDone, delta.SubtopicStatus["st-1"])
	require.NotNil(t, delta.CurrentSubtopicIndex)
	assert.Equal(t, 1, *delta.CurrentSubtopicIndex)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, delta.EvictContentURLs)

	// The summary also lands in the progress transcript.
	count, err := r.progress.SubtopicCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	transcript, err := os.ReadFile(r.progress.Path())
	require.NoError(t, err)
	assert.Contains(t, string(transcript), "## Battery deployment trends")
	assert.Contains(t, string(transcript), "**Key Findings:**")
}

func TestSummarizeOrdersSourcesByQuality(t *testing.T) {
	t.Parallel()

	srv := chatServer(t, summaryJSON)
	r := newRig(t, srv.URL, rigConfig{})

	// Listed in scrape-completion order; citations must come out highest
	// quality first, URL breaking the tie.
	st := summarizeState(
		state.ScrapedPage{URL: "https://example.com/c", Title: "C", Content: "text c", QualityScore: 0.55, SubtopicID: "st-1"},
		state.ScrapedPage{URL: "https://example.com/b", Title: "B", Content: "text b", QualityScore: 0.90, SubtopicID: "st-1"},
		state.ScrapedPage{URL: "https://example.com/a", Title: "A", Content: "text a", QualityScore: 0.55, SubtopicID: "st-1"},
	)

	delta, err := r.stages.Summarize(context.Background(), st, "step-3")
	require.NoError(t, err)

	want := []string{"https://example.com/b", "https://example.com/a", "https://example.com/c"}

	require.Len(t, delta.SubtopicSummaries, 1)
	assert.Equal(t, want, delta.SubtopicSummaries[0].Citations)
	assert.Equal(t, want, delta.EvictContentURLs)
}

func TestSummarizeNoPagesFailsSubtopicAndAdvances(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, chatOK("unused", 1, 1))
	}))
	t.Cleanup(srv.Close)

	r := newRig(t, srv.URL, rigConfig{})

	st := summarizeState()

	delta, err := r.stages.Summarize(context.Background(), st, "step-3")
	require.NoError(t, err)

	assert.Equal(t, state.StatusFailed, delta.SubtopicStatus["st-1"])
	require.NotNil(t, delta.CurrentSubtopicIndex)
	assert.Equal(t, 1, *delta.CurrentSubtopicIndex)
	require.Len(t, delta.Errors, 1)
	assert.Equal(t, "summarize", delta.Errors[0].Node)
	assert.Equal(t, "no scraped content to summarize", delta.Errors[0].Message)
	assert.True(t, delta.Errors[0].Recoverable)

	// No material means no model call to pay for.
	assert.Zero(t, calls.Load())

	transcript, err := os.ReadFile(r.progress.Path())
	require.NoError(t, err)
	assert.Contains(t, string(transcript), "> **Note:** Error in *summarize* step: no scraped content to summarize")
}

func TestSummarizeReadsMaskedContentFromArchive(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		captured []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, readErr := io.ReadAll(req.Body)
		assert.NoError(t, readErr)

		mu.Lock()
		captured = body
		mu.Unlock()

		fmt.Fprint(w, chatOK(summaryJSON, 120, 80))
	}))
	t.Cleanup(srv.Close)

	r := newRig(t, srv.URL, rigConfig{})
	require.NoError(t, r.pages.Put("https://example.com/a", "archived battery text"))

	st := summarizeState(
		state.ScrapedPage{URL: "https://example.com/a", Title: "A", Content: "", SubtopicID: "st-1"},
	)

	delta, err := r.stages.Summarize(context.Background(), st, "step-3")
	require.NoError(t, err)
	require.Len(t, delta.SubtopicSummaries, 1)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, string(captured), "archived battery text")
}

func TestSummarizeDropsMaskedPagesMissingFromArchive(t *testing.T) {
	t.Parallel()

	srv := chatServer(t, summaryJSON)
	r := newRig(t, srv.URL, rigConfig{})

	// Content masked and never archived: nothing left to summarize.
	st := summarizeState(
		state.ScrapedPage{URL: "https://example.com/gone", Content: "", SubtopicID: "st-1"},
	)

	delta, err := r.stages.Summarize(context.Background(), st, "step-3")
	require.NoError(t, err)

	assert.Equal(t, state.StatusFailed, delta.SubtopicStatus["st-1"])
	require.Len(t, delta.Errors, 1)
	assert.Equal(t, "no scraped content to summarize", delta.Errors[0].Message)
}

func TestSummarizeKeepsProseSummary(t *testing.T) {
	t.Parallel()

	srv := chatServer(t, "Grid batteries are growing fast, mostly in Texas and California.")
	r := newRig(t, srv.URL, rigConfig{})

	st := summarizeState(
		state.ScrapedPage{URL: "https://example.com/a", Title: "A", Content: "text a", SubtopicID: "st-1"},
	)

	delta, err := r.stages.Summarize(context.Background(), st, "step-3")
	require.NoError(t, err)

	require.Len(t, delta.SubtopicSummaries, 1)
	assert.Equal(t, "Grid batteries are growing fast, mostly in Texas and California.", delta.SubtopicSummaries[0].Summary)
	assert.Empty(t, delta.SubtopicSummaries[0].KeyFindings)
	assert.Equal(t, state.StatusDone, delta.SubtopicStatus["st-1"])
}

func TestSummarizeShortTierCapsTokens(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		captured []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, readErr := io.ReadAll(req.Body)
		assert.NoError(t, readErr)

		mu.Lock()
		captured = body
		mu.Unlock()

		fmt.Fprint(w, chatOK(summaryJSON, 120, 80))
	}))
	t.Cleanup(srv.Close)

	r := newRig(t, srv.URL, rigConfig{tier: state.TierCached})

	st := summarizeState(
		state.ScrapedPage{URL: "https://example.com/a", Title: "A", Content: "text a", SubtopicID: "st-1"},
	)

	_, err := r.stages.Summarize(context.Background(), st, "step-3")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, string(captured), `"max_tokens":1024`)
	assert.Contains(t, string(captured), "100-200 word summary")
}
