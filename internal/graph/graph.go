// Package graph drives the research pipeline: an explicit next-node loop
// over the plan, search, scrape, summarize, and synthesize stages, with a
// checkpoint after every stage, budget and tier bookkeeping between stages,
// and a two-stage shutdown that still delivers a report.
package graph

import (
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// Pipeline node names as they appear in checkpoints and the event log.
const (
	NodeStart      = "START"
	NodePlan       = "plan"
	NodeSearch     = "search"
	NodeScrape     = "scrape"
	NodeSummarize  = "summarize"
	NodeSynthesize = "synthesize"
	NodeEnd        = "END"
)

// Next returns the node scheduled after current. Routing is a pure function
// of the restored state and the pressure inputs, so a resumed process takes
// the same edge the crashed one would have.
func Next(current string, st *state.ResearchState, tier state.Tier, fraction float64, stopping bool) string {
	switch current {
	case NodeSynthesize, NodeEnd:
		return NodeEnd
	}

	// A stop request or the terminal tier drains the loop into synthesis so
	// the run still ends with a report over whatever was gathered.
	if stopping || tier == state.TierPartial {
		return NodeSynthesize
	}

	switch current {
	case NodeStart:
		return NodePlan
	case NodePlan:
		if len(st.Subtopics) == 0 || fraction >= 1.0 {
			return NodeSynthesize
		}

		return NodeSearch
	case NodeSearch:
		return NodeScrape
	case NodeScrape:
		return NodeSummarize
	case NodeSummarize:
		if st.CurrentSubtopicIndex < len(st.Subtopics) && fraction < 1.0 {
			return NodeSearch
		}

		return NodeSynthesize
	default:
		// Unknown node names (a checkpoint from a newer build, say) fall
		// through to synthesis rather than stalling the loop.
		return NodeSynthesize
	}
}
