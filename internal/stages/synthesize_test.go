package stages_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/scout/internal/state"
)

func synthesizeState() *state.ResearchState {
	st := state.New("battery trends")
	st.Subtopics = []state.Subtopic{
		{ID: "st-1", Title: "Deployment growth", Status: state.StatusDone},
		{ID: "st-2", Title: "Cost curves", Status: state.StatusDone},
	}
	st.CurrentSubtopicIndex = 2
	st.SubtopicSummaries = []state.SubtopicSummary{
		{
			SubtopicID:  "st-1",
			Title:       "Deployment growth",
			Summary:     "Deployments doubled.",
			Citations:   []string{"https://example.com/a", "https://example.com/b"},
			KeyFindings: []string{"Texas leads installations"},
		},
		{
			SubtopicID: "st-2",
			Title:      "Cost curves",
			Summary:    "Pack prices fell.",
			Citations:  []string{"https://example.com/b", "https://example.com/c"},
		},
	}

	return st
}

func TestSynthesizeBuildsReportWithSourcesAndMeta(t *testing.T) {
	t.Parallel()

	reportBody := "# Battery Trends\n\n## Executive Summary\n\nStorage is scaling [1].\n\n## Key Findings\n\nCosts dropped [2][3]."

	srv := chatServer(t, reportBody)
	r := newRig(t, srv.URL, rigConfig{})

	st := synthesizeState()

	delta, err := r.stages.Synthesize(context.Background(), st, "step-4")
	require.NoError(t, err)
	require.NotNil(t, delta.FinalReport)

	final := *delta.FinalReport
	assert.Contains(t, final, "Storage is scaling [1].")
	assert.Contains(t, final, "## Sources")
	assert.Contains(t, final, "[1] https://example.com/a")
	assert.Contains(t, final, "[2] https://example.com/b")
	assert.Contains(t, final, "[3] https://example.com/c")
	assert.NotContains(t, final, "## Coverage Gaps")

	require.NotNil(t, delta.ReportMetadata)
	meta := delta.ReportMetadata
	assert.Equal(t, 3, meta.CitationCount)
	assert.Positive(t, meta.WordCount)
	assert.Empty(t, meta.Unreferenced)
	assert.Empty(t, meta.CoverageGaps)
	assert.Equal(t, []string{"anthropic/claude-sonnet-4-5"}, meta.Models)

	assert.Empty(t, delta.Errors)
}

func TestSynthesizeFlagsOutOfRangeAndCoverageGaps(t *testing.T) {
	t.Parallel()

	// [9] resolves to no indexed source; /c is indexed but never cited.
	srv := chatServer(t, "# Battery Trends\n\nScaling fast [1][9].")
	r := newRig(t, srv.URL, rigConfig{})

	st := synthesizeState()
	st.Subtopics = append(st.Subtopics, state.Subtopic{
		ID: "st-3", Title: "Recycling capacity", Status: state.StatusFailed,
	})

	delta, err := r.stages.Synthesize(context.Background(), st, "step-4")
	require.NoError(t, err)

	require.Len(t, delta.Errors, 1)
	assert.Equal(t, "synthesize", delta.Errors[0].Node)
	assert.Contains(t, delta.Errors[0].Message, "[9]")
	assert.True(t, delta.Errors[0].Recoverable)

	final := *delta.FinalReport
	assert.Contains(t, final, "## Coverage Gaps")
	assert.Contains(t, final, "- Recycling capacity (failed)")

	require.NotNil(t, delta.ReportMetadata)
	assert.Equal(t, []string{"st-3"}, delta.ReportMetadata.CoverageGaps)
	assert.NotEmpty(t, delta.ReportMetadata.Unreferenced)
}

func TestSynthesizeEmptySummariesWritesStub(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, chatOK("unused", 1, 1))
	}))
	t.Cleanup(srv.Close)

	r := newRig(t, srv.URL, rigConfig{})

	st := state.New("battery trends")
	st.Subtopics = []state.Subtopic{
		{ID: "st-1", Title: "Deployment growth", Status: state.StatusFailed},
	}
	st.CurrentSubtopicIndex = 1

	delta, err := r.stages.Synthesize(context.Background(), st, "step-4")
	require.NoError(t, err)
	require.NotNil(t, delta.FinalReport)

	final := *delta.FinalReport
	assert.Contains(t, final, "# battery trends")
	assert.Contains(t, final, "No subtopic research completed before synthesis.")
	assert.Contains(t, final, "## Coverage Gaps")
	assert.Contains(t, final, "- Deployment growth (failed)")
	assert.NotContains(t, final, "## Sources")

	require.NotNil(t, delta.ReportMetadata)
	assert.Zero(t, delta.ReportMetadata.CitationCount)
	assert.Empty(t, delta.ReportMetadata.Models)

	assert.Zero(t, calls.Load())
}
