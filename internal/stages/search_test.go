package stages_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/scout/internal/search"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

const expansionJSON = `{"original": "Battery deployment trends", "variations": ["battery storage growth", "grid energy economics"]}`

func TestSearchAppendsResultsAndAdvancesStatus(t *testing.T) {
	t.Parallel()

	srv := chatServer(t, expansionJSON)

	provider := &stubProvider{
		name: "stub",
		results: map[string][]state.SearchResult{
			"battery storage growth": {
				{URL: "https://example.com/a", Title: "A", Score: 0.9},
				{URL: "https://example.com/b", Title: "B", Score: 0.5},
			},
			"grid energy economics": {
				{URL: "https://example.com/b", Title: "B again", Score: 0.8},
				{URL: "https://example.com/c", Title: "C", Score: 0.2},
			},
		},
	}

	r := newRig(t, srv.URL, rigConfig{providers: []search.Provider{provider}})

	st := singleSubtopicState("battery trends", state.Subtopic{
		ID:            "st-1",
		Title:         "Battery deployment trends",
		SearchQueries: []string{"stored query"},
		Status:        state.StatusSearching,
	})

	delta, err := r.stages.Search(context.Background(), st, "step-1")
	require.NoError(t, err)

	// /b deduplicates across queries, /c falls below the score floor.
	require.Len(t, delta.SearchResults, 2)
	assert.Equal(t, "https://example.com/a", delta.SearchResults[0].URL)
	assert.Equal(t, "https://example.com/b", delta.SearchResults[1].URL)
	assert.Equal(t, "st-1", delta.SearchResults[0].SubtopicID)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, delta.SeenURLs)

	assert.Equal(t, state.StatusScraping, delta.SubtopicStatus["st-1"])

	// The expanded queries replace the stored ones for resume.
	require.NotNil(t, delta.Subtopics)
	require.Len(t, *delta.Subtopics, 1)
	assert.Equal(t, []string{"battery storage growth", "grid energy economics"}, (*delta.Subtopics)[0].SearchQueries)
}

func TestSearchKeepsStoredQueriesWhenExpansionFails(t *testing.T) {
	t.Parallel()

	// Prose instead of JSON fails schema validation, so the stage falls
	// back to the queries already on the subtopic.
	srv := chatServer(t, "I cannot produce JSON today.")

	provider := &stubProvider{
		name: "stub",
		results: map[string][]state.SearchResult{
			"stored query": {{URL: "https://example.com/a", Title: "A", Score: 0.9}},
		},
	}

	r := newRig(t, srv.URL, rigConfig{providers: []search.Provider{provider}})

	st := singleSubtopicState("battery trends", state.Subtopic{
		ID:            "st-1",
		Title:         "Battery deployment trends",
		SearchQueries: []string{"stored query"},
		Status:        state.StatusSearching,
	})

	delta, err := r.stages.Search(context.Background(), st, "step-1")
	require.NoError(t, err)

	require.Len(t, delta.SearchResults, 1)
	assert.Equal(t, "https://example.com/a", delta.SearchResults[0].URL)

	// Executed queries match the stored ones, so no subtopic rewrite.
	assert.Nil(t, delta.Subtopics)
}

func TestSearchAllQueriesFailedMarksSubtopicFailed(t *testing.T) {
	t.Parallel()

	srv := chatServer(t, "not json")

	provider := &stubProvider{name: "stub", err: errors.New("upstream down")}

	r := newRig(t, srv.URL, rigConfig{providers: []search.Provider{provider}})

	st := singleSubtopicState("battery trends", state.Subtopic{
		ID:            "st-1",
		Title:         "Battery deployment trends",
		SearchQueries: []string{"stored query"},
		Status:        state.StatusSearching,
	})

	delta, err := r.stages.Search(context.Background(), st, "step-1")
	require.NoError(t, err)

	assert.Equal(t, state.StatusFailed, delta.SubtopicStatus["st-1"])
	require.Len(t, delta.Errors, 1)
	assert.Equal(t, "search", delta.Errors[0].Node)
	assert.Equal(t, "st-1", delta.Errors[0].SubtopicID)
	assert.True(t, delta.Errors[0].Recoverable)
	assert.Empty(t, delta.SearchResults)
}

func TestSearchSkippedAtCachedTier(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no model call expected at cached tier")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	provider := &stubProvider{name: "stub"}

	r := newRig(t, srv.URL, rigConfig{tier: state.TierCached, providers: []search.Provider{provider}})

	st := singleSubtopicState("battery trends", state.Subtopic{
		ID:     "st-1",
		Title:  "Battery deployment trends",
		Status: state.StatusSearching,
	})

	delta, err := r.stages.Search(context.Background(), st, "step-1")
	require.NoError(t, err)

	assert.Equal(t, state.StatusScraping, delta.SubtopicStatus["st-1"])
	assert.Empty(t, delta.SearchResults)
	assert.Zero(t, provider.calls.Load())
}
