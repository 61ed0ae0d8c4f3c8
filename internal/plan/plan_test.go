package plan_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/scout/internal/plan"
)

// reviewOpts wires the review session to an input script and a capture
// buffer, with the editor defaulting to a no-op.
func reviewOpts(input string, out *bytes.Buffer) plan.Options {
	return plan.Options{
		In:     io.NopCloser(strings.NewReader(input)),
		Out:    out,
		Editor: "true",
	}
}

// writeEditorScript creates a shell script standing in for $EDITOR. The
// plan file path arrives as $1.
func writeEditorScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "editor.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))

	return path
}

func TestReview_Accept(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	res, err := plan.Review(context.Background(), "vector databases", samplePlan(), reviewOpts("a\n", &out))
	require.NoError(t, err)

	assert.Equal(t, plan.DecisionAccepted, res.Decision)
	assert.Empty(t, res.Diff)
	require.Len(t, res.Subtopics, 2)
	assert.Equal(t, "Vector index structures", res.Subtopics[0].Title)

	assert.Contains(t, out.String(), "Research plan: vector databases")
	assert.Contains(t, out.String(), "st-1")
	assert.Contains(t, out.String(), "2 subtopics")
}

func TestReview_EnterAccepts(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	res, err := plan.Review(context.Background(), "q", samplePlan(), reviewOpts("\n", &out))
	require.NoError(t, err)
	assert.Equal(t, plan.DecisionAccepted, res.Decision)
}

func TestReview_Abort(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	_, err := plan.Review(context.Background(), "q", samplePlan(), reviewOpts("q\n", &out))
	assert.ErrorIs(t, err, plan.ErrReviewAborted)
}

func TestReview_ClosedInputAborts(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	_, err := plan.Review(context.Background(), "q", samplePlan(), reviewOpts("", &out))
	assert.ErrorIs(t, err, plan.ErrReviewAborted)
}

func TestReview_UnknownChoiceReprompts(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	res, err := plan.Review(context.Background(), "q", samplePlan(), reviewOpts("x\na\n", &out))
	require.NoError(t, err)

	assert.Equal(t, plan.DecisionAccepted, res.Decision)
	assert.Contains(t, out.String(), `unrecognized choice "x"`)
}

func TestReview_EditReplacesPlan(t *testing.T) {
	t.Parallel()

	editor := writeEditorScript(t, `cat > "$1" <<'EOF'
subtopics:
  - title: Rewritten first
  - title: Rewritten second
  - title: Rewritten third
EOF`)

	var out bytes.Buffer

	opts := plan.Options{
		In:     io.NopCloser(strings.NewReader("e\na\n")),
		Out:    &out,
		Editor: editor,
	}

	res, err := plan.Review(context.Background(), "q", samplePlan(), opts)
	require.NoError(t, err)

	assert.Equal(t, plan.DecisionEdited, res.Decision)
	assert.Equal(t, "2 -> 3 subtopics, +3/-2 lines", res.Diff)

	require.Len(t, res.Subtopics, 3)
	assert.Equal(t, "st-1", res.Subtopics[0].ID)
	assert.Equal(t, "Rewritten first", res.Subtopics[0].Title)
	assert.Equal(t, "st-3", res.Subtopics[2].ID)

	// The edited plan is re-rendered for a second look before accepting.
	assert.Contains(t, out.String(), "Rewritten third")
	assert.Contains(t, out.String(), "3 subtopics")
}

func TestReview_CancelledEditKeepsPlan(t *testing.T) {
	t.Parallel()

	editor := writeEditorScript(t, `: > "$1"`)

	var out bytes.Buffer

	opts := plan.Options{
		In:     io.NopCloser(strings.NewReader("e\na\n")),
		Out:    &out,
		Editor: editor,
	}

	res, err := plan.Review(context.Background(), "q", samplePlan(), opts)
	require.NoError(t, err)

	assert.Equal(t, plan.DecisionAccepted, res.Decision)
	require.Len(t, res.Subtopics, 2)
	assert.Contains(t, out.String(), "plan unchanged")
}

func TestReview_FailingEditorKeepsPlan(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	opts := plan.Options{
		In:     io.NopCloser(strings.NewReader("e\na\n")),
		Out:    &out,
		Editor: "false",
	}

	res, err := plan.Review(context.Background(), "q", samplePlan(), opts)
	require.NoError(t, err)

	assert.Equal(t, plan.DecisionAccepted, res.Decision)
	assert.Contains(t, out.String(), "plan edit cancelled")
}

func TestReview_UnchangedEditStaysAccepted(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	// The no-op editor leaves the file as rendered; parsing it back yields
	// the same plan, which must not count as an edit.
	res, err := plan.Review(context.Background(), "q", samplePlan(), reviewOpts("e\na\n", &out))
	require.NoError(t, err)

	assert.Equal(t, plan.DecisionAccepted, res.Decision)
	assert.Empty(t, res.Diff)
	assert.Contains(t, out.String(), "no changes, plan unchanged")
}

func TestReview_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer

	_, err := plan.Review(ctx, "q", samplePlan(), reviewOpts("a\n", &out))
	assert.ErrorIs(t, err, plan.ErrReviewAborted)
}
