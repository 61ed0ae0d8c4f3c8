package stages

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Sumatoshi-tech/scout/internal/search"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// Search runs the current subtopic through query expansion and the provider
// chain. It never fails the run: a subtopic whose every query fails is
// marked failed and the loop moves on.
func (s *Stages) Search(ctx context.Context, st *state.ResearchState, parentStepID string) (*state.Delta, error) {
	sub := st.CurrentSubtopic()
	if sub == nil {
		return &state.Delta{}, nil
	}

	eff := s.effects()
	if !eff.AllowSearch {
		s.logger.Info("search skipped by tier",
			"tier", s.deps.Controller.Tier(), "subtopic", sub.ID)

		return &state.Delta{
			SubtopicStatus: map[string]state.SubtopicStatus{sub.ID: state.StatusScraping},
		}, nil
	}

	batch, err := s.deps.Search.SearchSubtopic(ctx, sub, st.SeenURLs, eff.ExpansionK, eff.MaxResults, parentStepID)
	if err != nil {
		if errors.Is(err, search.ErrAllQueriesFailed) {
			return &state.Delta{
				Errors:         []state.ErrorEntry{errEntry("search", sub.ID, err.Error(), true)},
				SubtopicStatus: map[string]state.SubtopicStatus{sub.ID: state.StatusFailed},
			}, nil
		}

		return nil, fmt.Errorf("search subtopic %s: %w", sub.ID, err)
	}

	s.logger.Info("search complete",
		"subtopic", sub.ID, "results", len(batch.Results), "failed_queries", batch.Failed)

	delta := &state.Delta{
		SearchResults:  batch.Results,
		SeenURLs:       batch.SeenURLs,
		SubtopicStatus: map[string]state.SubtopicStatus{sub.ID: state.StatusScraping},
	}

	// Persist the expanded queries so a resumed run reuses them instead of
	// paying for another expansion call.
	if !slices.Equal(sub.SearchQueries, batch.Queries) && len(batch.Queries) > 0 {
		subs := slices.Clone(st.Subtopics)

		for i := range subs {
			if subs[i].ID == sub.ID {
				subs[i].SearchQueries = batch.Queries
			}
		}

		delta.Subtopics = state.Ptr(subs)
	}

	return delta, nil
}
