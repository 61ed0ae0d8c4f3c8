package mcp

import (
	"context"
	"fmt"
	"path/filepath"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/scout/internal/checkpoint"
	"github.com/Sumatoshi-tech/scout/internal/eventlog"
)

// StatusOutput is the structured result of the scout_status tool.
type StatusOutput struct {
	RunID       string            `json:"run_id"`
	Step        int               `json:"step"`
	Node        string            `json:"node"`
	SavedAt     string            `json:"saved_at"`
	Tier        string            `json:"tier"`
	CostUSD     float64           `json:"cost_usd"`
	TotalTokens int64             `json:"total_tokens"`
	Subtopics   []SubtopicStatus  `json:"subtopics"`
	Provenance  []ProvenanceEntry `json:"provenance,omitempty"`
}

// SubtopicStatus summarizes one subtopic's progress.
type SubtopicStatus struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// ProvenanceEntry is one link in a step's provenance chain, oldest first.
type ProvenanceEntry struct {
	StepID   string `json:"step_id"`
	ParentID string `json:"parent_id,omitempty"`
	Event    string `json:"event"`
	Node     string `json:"node"`
	TS       string `json:"ts"`
}

// handleStatus reports the latest checkpoint of a run and, optionally, the
// provenance chain of a step id from the run's event log.
func (s *Server) handleStatus(_ context.Context, _ *mcpsdk.CallToolRequest, input StatusInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if err := validateRunID(input.RunID); err != nil {
		return errorResult(err)
	}

	runDir := filepath.Join(s.cfg.Checkpoints.Dir, input.RunID)

	snap, err := checkpoint.NewStore(runDir, s.cfg.Checkpoints.MaxKeep).Latest()
	if err != nil {
		return errorResult(fmt.Errorf("run %s: %w", input.RunID, err))
	}

	out := StatusOutput{
		RunID:       input.RunID,
		Step:        snap.Step,
		Node:        snap.Node,
		SavedAt:     snap.SavedAt,
		Tier:        string(snap.State.DegradationTier),
		CostUSD:     snap.State.TotalCost,
		TotalTokens: snap.State.TotalTokens,
		Subtopics:   make([]SubtopicStatus, 0, len(snap.State.Subtopics)),
	}

	for _, sub := range snap.State.Subtopics {
		out.Subtopics = append(out.Subtopics, SubtopicStatus{
			ID:     sub.ID,
			Title:  sub.Title,
			Status: string(sub.Status),
		})
	}

	if input.StepID != "" {
		events, readErr := eventlog.ReadAll(filepath.Join(runDir, eventlog.Filename))
		if readErr != nil {
			return errorResult(fmt.Errorf("run %s: %w", input.RunID, readErr))
		}

		for _, ev := range eventlog.ProvenanceChain(events, input.StepID) {
			out.Provenance = append(out.Provenance, ProvenanceEntry{
				StepID:   ev.StepID,
				ParentID: ev.ParentID,
				Event:    string(ev.Event),
				Node:     ev.Node,
				TS:       ev.TS,
			})
		}
	}

	return jsonResult(out)
}
