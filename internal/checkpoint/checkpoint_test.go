package checkpoint_test

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/scout/internal/checkpoint"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

func TestNewRunID(t *testing.T) {
	t.Parallel()

	id := checkpoint.NewRunID()
	assert.True(t, checkpoint.ValidRunID(id), "id %q should validate", id)
	assert.Len(t, id, len("run-")+12)

	other := checkpoint.NewRunID()
	assert.NotEqual(t, id, other)
}

func TestValidRunIDRejectsPathTricks(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"", "run-", "run-XYZ", "../etc", "run-0123456789ab/..", "run-0123456789abcd"} {
		assert.False(t, checkpoint.ValidRunID(id), "id %q should not validate", id)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := checkpoint.NewStore(dir, 5)

	s := state.New("impact of solar storms on satellites")
	s.Subtopics = []state.Subtopic{{ID: "st-1", Title: "Satellite hardening", Status: state.StatusPending}}
	s.SeenURLs = []string{"https://example.com/a"}
	s.TotalCost = 0.25

	path, err := store.Save(s, 3, "search")
	require.NoError(t, err)
	assert.Equal(t, store.DataPath(3), path)
	assert.FileExists(t, path+".sha256")

	snap, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Step)
	assert.Equal(t, "search", snap.Node)
	assert.NotEmpty(t, snap.SavedAt)
	assert.Equal(t, s.Query, snap.State.Query)
	assert.Equal(t, s.SeenURLs, snap.State.SeenURLs)
	assert.InDelta(t, 0.25, snap.State.TotalCost, 1e-9)
}

func TestLatestQuarantinesCorruptAndFallsBack(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := checkpoint.NewStore(dir, 5)

	older := state.New("q")
	older.TotalTokens = 100
	_, err := store.Save(older, 1, "plan")
	require.NoError(t, err)

	newer := state.New("q")
	newer.TotalTokens = 200
	newest, err := store.Save(newer, 2, "search")
	require.NoError(t, err)

	// Flip 50 bytes in the middle of the newest snapshot without touching
	// its sidecar.
	data, err := os.ReadFile(newest)
	require.NoError(t, err)
	require.Greater(t, len(data), 100)

	for i := 25; i < 75; i++ {
		data[i] = 'x'
	}

	require.NoError(t, os.WriteFile(newest, data, 0o600))

	snap, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Step)
	assert.Equal(t, int64(100), snap.State.TotalTokens)

	qdir := filepath.Join(dir, checkpoint.QuarantineDirName)
	assert.FileExists(t, filepath.Join(qdir, filepath.Base(newest)))
	assert.FileExists(t, filepath.Join(qdir, filepath.Base(newest)+".sha256"))
	assert.NoFileExists(t, newest)
}

func TestLatestTreatsMissingSidecarAsCorrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := checkpoint.NewStore(dir, 5)

	_, err := store.Save(state.New("q"), 1, "plan")
	require.NoError(t, err)

	path, err := store.Save(state.New("q"), 2, "search")
	require.NoError(t, err)
	require.NoError(t, os.Remove(path+".sha256"))

	snap, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Step)
}

func TestLatestNoCheckpoint(t *testing.T) {
	t.Parallel()

	store := checkpoint.NewStore(t.TempDir(), 5)

	_, err := store.Latest()
	require.ErrorIs(t, err, checkpoint.ErrNoCheckpoint)
}

func TestLatestAllCorruptReturnsNoCheckpoint(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := checkpoint.NewStore(dir, 5)

	path, err := store.Save(state.New("q"), 1, "plan")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	_, err = store.Latest()
	require.ErrorIs(t, err, checkpoint.ErrNoCheckpoint)
}

func TestRotationKeepsNewest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := checkpoint.NewStore(dir, 3)

	for step := 1; step <= 5; step++ {
		_, err := store.Save(state.New("q"), step, "search")
		require.NoError(t, err)
	}

	steps, err := store.Steps()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5}, steps)

	assert.NoFileExists(t, store.DataPath(1))
	assert.NoFileExists(t, store.DataPath(1)+".sha256")
	assert.NoFileExists(t, store.DataPath(2))
}

func TestRotationFloorIsTwo(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := checkpoint.NewStore(dir, 0)

	for step := 1; step <= 4; step++ {
		_, err := store.Save(state.New("q"), step, "search")
		require.NoError(t, err)
	}

	steps, err := store.Steps()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, steps)
}

func TestLoadMigratesUnversionedState(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := checkpoint.NewStore(dir, 5)

	// A snapshot written before states carried a schema version: no
	// _schema_version and no seen_urls in the state document.
	raw := []byte(`{"step":1,"node":"plan","saved_at":"2026-01-02T03:04:05Z","state":{"query":"old run","subtopics":[],"current_subtopic_index":0}}`)
	path := store.DataPath(1)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	digest := sha256.Sum256(raw)
	require.NoError(t, os.WriteFile(path+".sha256", []byte(hex.EncodeToString(digest[:])+"\n"), 0o600))

	snap, err := store.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "old run", snap.State.Query)
	assert.Equal(t, state.CurrentSchemaVersion, snap.State.SchemaVersion)
	assert.NotNil(t, snap.State.SeenURLs)
	assert.Empty(t, snap.State.SeenURLs)
}

func TestListRunsAndRemoveRun(t *testing.T) {
	t.Parallel()

	base := t.TempDir()

	runA := checkpoint.NewRunID()
	storeA := checkpoint.NewStore(filepath.Join(base, runA), 5)
	_, err := storeA.Save(state.New("q"), 1, "plan")
	require.NoError(t, err)
	_, err = storeA.Save(state.New("q"), 2, "search")
	require.NoError(t, err)

	runB := checkpoint.NewRunID()
	require.NoError(t, os.MkdirAll(filepath.Join(base, runB), 0o750))

	// Directories that are not run ids are skipped.
	require.NoError(t, os.MkdirAll(filepath.Join(base, "scratch"), 0o750))

	runs, err := checkpoint.ListRuns(base)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	byID := map[string]checkpoint.RunInfo{}
	for _, r := range runs {
		byID[r.RunID] = r
	}

	assert.Equal(t, 2, byID[runA].Snapshots)
	assert.Equal(t, 2, byID[runA].LatestStep)
	assert.Equal(t, 0, byID[runB].Snapshots)

	require.NoError(t, checkpoint.RemoveRun(base, runA))
	assert.NoDirExists(t, filepath.Join(base, runA))

	require.Error(t, checkpoint.RemoveRun(base, "../escape"))
}
