package mcp

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/scout/internal/checkpoint"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// ReportOutput is the structured result of the scout_report tool.
type ReportOutput struct {
	RunID       string `json:"run_id"`
	Report      string `json:"report"`
	WordCount   int    `json:"word_count"`
	GeneratedAt string `json:"generated_at,omitempty"`
}

// handleReport fetches the final report of a run from its latest checkpoint.
func (s *Server) handleReport(_ context.Context, _ *mcpsdk.CallToolRequest, input ReportInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if err := validateRunID(input.RunID); err != nil {
		return errorResult(err)
	}

	runDir := filepath.Join(s.cfg.Checkpoints.Dir, input.RunID)

	snap, err := checkpoint.NewStore(runDir, s.cfg.Checkpoints.MaxKeep).Latest()
	if err != nil {
		return errorResult(fmt.Errorf("run %s: %w", input.RunID, err))
	}

	if snap.State.FinalReport == "" {
		return errorResult(fmt.Errorf("%w: %s is at node %s", ErrNoReport, input.RunID, snap.Node))
	}

	out := ReportOutput{
		RunID:     input.RunID,
		Report:    snap.State.FinalReport,
		WordCount: wordCountOf(snap.State),
	}

	if snap.State.ReportMetadata != nil {
		out.GeneratedAt = snap.State.ReportMetadata.GeneratedAt
	}

	return jsonResult(out)
}

// wordCountOf prefers the synthesized metadata count and falls back to a
// direct count of the report body.
func wordCountOf(st *state.ResearchState) int {
	if st.ReportMetadata != nil {
		return st.ReportMetadata.WordCount
	}

	return len(strings.Fields(st.FinalReport))
}
