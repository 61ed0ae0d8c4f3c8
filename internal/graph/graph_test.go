package graph_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sumatoshi-tech/scout/internal/graph"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

func routingState(subtopics, index int) *state.ResearchState {
	st := state.New("q")
	for i := range subtopics {
		st.Subtopics = append(st.Subtopics, state.Subtopic{ID: fmt.Sprintf("st-%d", i+1)})
	}

	st.CurrentSubtopicIndex = index

	return st
}

func TestNextRouting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		current  string
		st       *state.ResearchState
		tier     state.Tier
		fraction float64
		stopping bool
		want     string
	}{
		{name: "start to plan", current: graph.NodeStart, st: routingState(0, 0), tier: state.TierFull, want: graph.NodePlan},
		{name: "plan to search", current: graph.NodePlan, st: routingState(2, 0), tier: state.TierFull, want: graph.NodeSearch},
		{name: "empty plan to synthesize", current: graph.NodePlan, st: routingState(0, 0), tier: state.TierFull, want: graph.NodeSynthesize},
		{name: "spent budget after plan", current: graph.NodePlan, st: routingState(2, 0), tier: state.TierFull, fraction: 1.1, want: graph.NodeSynthesize},
		{name: "search to scrape", current: graph.NodeSearch, st: routingState(2, 0), tier: state.TierFull, want: graph.NodeScrape},
		{name: "scrape to summarize", current: graph.NodeScrape, st: routingState(2, 0), tier: state.TierFull, want: graph.NodeSummarize},
		{name: "summarize loops while subtopics remain", current: graph.NodeSummarize, st: routingState(2, 1), tier: state.TierFull, fraction: 0.4, want: graph.NodeSearch},
		{name: "summarize exits when loop done", current: graph.NodeSummarize, st: routingState(2, 2), tier: state.TierFull, want: graph.NodeSynthesize},
		{name: "summarize exits on spent budget", current: graph.NodeSummarize, st: routingState(3, 1), tier: state.TierFull, fraction: 1.0, want: graph.NodeSynthesize},
		{name: "stop drains mid-loop", current: graph.NodeScrape, st: routingState(3, 0), tier: state.TierFull, stopping: true, want: graph.NodeSynthesize},
		{name: "partial tier drains mid-loop", current: graph.NodeSearch, st: routingState(3, 0), tier: state.TierPartial, want: graph.NodeSynthesize},
		{name: "partial tier drains plan too", current: graph.NodePlan, st: routingState(3, 0), tier: state.TierPartial, want: graph.NodeSynthesize},
		{name: "synthesize to end", current: graph.NodeSynthesize, st: routingState(2, 2), tier: state.TierFull, want: graph.NodeEnd},
		{name: "synthesize ends even when stopping", current: graph.NodeSynthesize, st: routingState(2, 2), tier: state.TierFull, stopping: true, want: graph.NodeEnd},
		{name: "end is terminal", current: graph.NodeEnd, st: routingState(2, 2), tier: state.TierFull, want: graph.NodeEnd},
		{name: "unknown node falls to synthesize", current: "mystery", st: routingState(2, 0), tier: state.TierFull, want: graph.NodeSynthesize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := graph.Next(tt.current, tt.st, tt.tier, tt.fraction, tt.stopping)
			assert.Equal(t, tt.want, got)
		})
	}
}
