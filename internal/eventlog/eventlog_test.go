package eventlog_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/scout/internal/eventlog"
)

func TestAppendAndReadAll(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), eventlog.Filename)

	w, err := eventlog.OpenWriter(path)
	require.NoError(t, err)

	planStep, err := w.Emit(eventlog.NodeEnter, "plan", "", map[string]any{"query": "vector databases"})
	require.NoError(t, err)

	_, err = w.Emit(eventlog.NodeExit, "plan", planStep, map[string]any{"subtopics": 3})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	events, err := eventlog.ReadAll(path)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, eventlog.NodeEnter, events[0].Event)
	assert.Equal(t, "plan", events[0].Node)
	assert.NotEmpty(t, events[0].TS)
	assert.Equal(t, planStep, events[1].ParentID)
}

func TestStepIDFormat(t *testing.T) {
	t.Parallel()

	id := eventlog.NewStepID("search")

	require.True(t, strings.HasPrefix(id, "search-"))
	assert.Len(t, strings.TrimPrefix(id, "search-"), 8)
	assert.NotEqual(t, id, eventlog.NewStepID("search"))
}

func TestAppendIsDurableAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), eventlog.Filename)

	w, err := eventlog.OpenWriter(path)
	require.NoError(t, err)
	_, err = w.Emit(eventlog.NodeEnter, "plan", "", nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := eventlog.OpenWriter(path)
	require.NoError(t, err)
	_, err = w2.Emit(eventlog.NodeExit, "plan", "", nil)
	require.NoError(t, err)
	require.NoError(t, w2.Close())

	events, err := eventlog.ReadAll(path)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestReadAllDropsTruncatedFinalLine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), eventlog.Filename)

	w, err := eventlog.OpenWriter(path)
	require.NoError(t, err)
	_, err = w.Emit(eventlog.NodeEnter, "scrape", "", nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Simulate a crash mid-append.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"ts":"2026-01-01T00:00:00Z","step_id":"scr`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, readErr := eventlog.ReadAll(path)
	require.NoError(t, readErr)
	assert.Len(t, events, 1)
}

func TestProvenanceChain(t *testing.T) {
	t.Parallel()

	events := []eventlog.Event{
		{StepID: "plan-aaaaaaaa", Event: eventlog.NodeEnter, Node: "plan"},
		{StepID: "search-bbbbbbbb", ParentID: "plan-aaaaaaaa", Event: eventlog.NodeEnter, Node: "search"},
		{StepID: "search-cccccccc", ParentID: "search-bbbbbbbb", Event: eventlog.NodeExit, Node: "search"},
		{StepID: "scrape-dddddddd", Event: eventlog.NodeEnter, Node: "scrape"},
	}

	chain := eventlog.ProvenanceChain(events, "search-cccccccc")

	require.Len(t, chain, 3)
	assert.Equal(t, "plan-aaaaaaaa", chain[0].StepID)
	assert.Equal(t, "search-bbbbbbbb", chain[1].StepID)
	assert.Equal(t, "search-cccccccc", chain[2].StepID)
}

func TestProvenanceChainSurvivesCycles(t *testing.T) {
	t.Parallel()

	events := []eventlog.Event{
		{StepID: "a", ParentID: "b"},
		{StepID: "b", ParentID: "a"},
	}

	chain := eventlog.ProvenanceChain(events, "a")
	assert.Len(t, chain, 2)
}
