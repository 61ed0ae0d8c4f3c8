package commands

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeEvaluate(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewEvaluateCommand()

	var buf bytes.Buffer

	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return buf.String(), err
}

func TestEvaluateCommand_PrintsScorecard(t *testing.T) {
	t.Parallel()

	verdict := `{
	  "dimensions": [
	    {"dimension": "accuracy", "score": 5, "reasoning": "All claims cited."},
	    {"dimension": "completeness", "score": 4, "reasoning": "One gap."},
	    {"dimension": "coverage", "score": 4, "reasoning": "Two sources."},
	    {"dimension": "coherence", "score": 5, "reasoning": "Clear flow."},
	    {"dimension": "bias", "score": 4, "reasoning": "Balanced."}
	  ],
	  "overall_reasoning": "Strong report."
	}`

	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w,
			`{"choices":[{"message":{"content":%q}}],"usage":{"prompt_tokens":400,"completion_tokens":150,"total_tokens":550}}`,
			verdict)
	}))
	t.Cleanup(llm.Close)

	base := t.TempDir()
	cfgPath := writeConfigFile(t, base, llm.URL)

	reportPath := filepath.Join(base, "report.md")
	require.NoError(t, os.WriteFile(reportPath, []byte("# Vector Indexes\n\nHNSW dominates [1]."), 0o600))

	out, err := executeEvaluate(t, reportPath, "--query", "how do vector databases index embeddings", "--config", cfgPath)
	require.NoError(t, err)

	assert.Contains(t, out, "Evaluation Scorecard")
	assert.Contains(t, out, "accuracy")
	assert.Contains(t, out, "bias")
	assert.Contains(t, out, "pass")
}

func TestEvaluateCommand_RequiresQuery(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	cfgPath := writeConfigFile(t, base, "http://127.0.0.1:1")

	reportPath := filepath.Join(base, "report.md")
	require.NoError(t, os.WriteFile(reportPath, []byte("# Report"), 0o600))

	_, err := executeEvaluate(t, reportPath, "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
}

func TestEvaluateCommand_MissingReportFile(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfigFile(t, t.TempDir(), "http://127.0.0.1:1")

	_, err := executeEvaluate(t, "/nonexistent/report.md", "--query", "anything", "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
}
