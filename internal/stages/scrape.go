package stages

import (
	"context"
	"fmt"

	"github.com/Sumatoshi-tech/scout/internal/state"
)

// Scrape fetches the current subtopic's search hits. Accepted pages are
// archived to the page store before the summarizer can mask their content
// out of state. Individual fetch failures become error entries; only a
// cancelled context fails the stage.
func (s *Stages) Scrape(ctx context.Context, st *state.ResearchState, _ string) (*state.Delta, error) {
	sub := st.CurrentSubtopic()
	if sub == nil {
		return &state.Delta{}, nil
	}

	advance := &state.Delta{
		SubtopicStatus: map[string]state.SubtopicStatus{sub.ID: state.StatusSummarizing},
	}

	eff := s.effects()
	if !eff.AllowScrape {
		s.logger.Info("scrape skipped by tier",
			"tier", s.deps.Controller.Tier(), "subtopic", sub.ID)

		return advance, nil
	}

	targets := s.unscrapedResults(st, sub.ID)
	if len(targets) == 0 {
		return advance, nil
	}

	batch, err := s.deps.Scraper.ScrapeAll(ctx, targets)
	if err != nil {
		return nil, fmt.Errorf("scrape subtopic %s: %w", sub.ID, err)
	}

	for _, p := range batch.Pages {
		if archiveErr := s.deps.Pages.Put(p.URL, p.Content); archiveErr != nil {
			s.logger.Warn("page archive write failed", "url", p.URL, "err", archiveErr)
		}
	}

	delta := advance
	delta.ScrapedPages = batch.Pages

	for _, f := range batch.Failures {
		delta.Errors = append(delta.Errors, errEntry("scrape", sub.ID, fmt.Sprintf("%s: %v", f.URL, f.Err), true))
	}

	s.logger.Info("scrape complete",
		"subtopic", sub.ID, "pages", len(batch.Pages),
		"rejected", batch.Rejected, "failed", len(batch.Failures))

	return delta, nil
}

// unscrapedResults returns the subtopic's search hits that have no scraped
// page yet, preserving score order. Keeps a resumed run from re-fetching
// pages it already holds.
func (s *Stages) unscrapedResults(st *state.ResearchState, subtopicID string) []state.SearchResult {
	have := make(map[string]bool, len(st.ScrapedPages))
	for _, p := range st.ScrapedPages {
		have[p.URL] = true
	}

	var targets []state.SearchResult

	for _, r := range st.ResultsForSubtopic(subtopicID) {
		if !have[r.URL] {
			targets = append(targets, r)
		}
	}

	return targets
}
