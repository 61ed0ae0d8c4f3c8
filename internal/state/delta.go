package state

import (
	"errors"
	"fmt"
	"slices"
)

// Reducer violation sentinels.
var (
	// ErrIndexOutOfRange reports a delta that would move
	// current_subtopic_index outside [0, len(subtopics)].
	ErrIndexOutOfRange = errors.New("current_subtopic_index out of range")

	// ErrCostDecrease reports a delta that would lower total_cost.
	ErrCostDecrease = errors.New("total_cost must be monotonically non-decreasing")

	// ErrTokensDecrease reports a delta that would lower total_tokens.
	ErrTokensDecrease = errors.New("total_tokens must be monotonically non-decreasing")
)

// Delta is a partial state update produced by one stage. nil pointer fields
// mean "no change"; slice fields append; SeenURLs unions. The zero Delta is
// a no-op.
type Delta struct {
	// Append-only collections.
	SearchResults     []SearchResult
	ScrapedPages      []ScrapedPage
	SubtopicSummaries []SubtopicSummary
	Errors            []ErrorEntry

	// Set-union.
	SeenURLs []string

	// Scalar overwrites.
	Query                *string
	Subtopics            *[]Subtopic
	CurrentSubtopicIndex *int
	FinalReport          *string
	ReportMetadata       *ReportMetadata
	TotalCost            *float64
	TotalTokens          *int64
	DegradationTier      *Tier

	// SubtopicStatus applies targeted status overwrites by subtopic id,
	// sugar over replacing the whole subtopics slice.
	SubtopicStatus map[string]SubtopicStatus

	// EvictContentURLs blanks the content field of already-appended pages
	// (observation masking). Membership never shrinks.
	EvictContentURLs []string
}

// IsZero reports whether applying the delta would change nothing.
func (d *Delta) IsZero() bool {
	return len(d.SearchResults) == 0 &&
		len(d.ScrapedPages) == 0 &&
		len(d.SubtopicSummaries) == 0 &&
		len(d.Errors) == 0 &&
		len(d.SeenURLs) == 0 &&
		d.Query == nil &&
		d.Subtopics == nil &&
		d.CurrentSubtopicIndex == nil &&
		d.FinalReport == nil &&
		d.ReportMetadata == nil &&
		d.TotalCost == nil &&
		d.TotalTokens == nil &&
		d.DegradationTier == nil &&
		len(d.SubtopicStatus) == 0 &&
		len(d.EvictContentURLs) == 0
}

// Apply merges the delta into s. Append fields extend their lists, SeenURLs
// unions into the sorted set, scalars overwrite. Invariant violations
// (index bounds, monotone totals) return an error and leave s unchanged
// except for appends already validated.
func Apply(s *ResearchState, d *Delta) error {
	if d == nil || d.IsZero() {
		return nil
	}

	err := validate(s, d)
	if err != nil {
		return err
	}

	applyScalars(s, d)

	s.SearchResults = append(s.SearchResults, d.SearchResults...)
	s.ScrapedPages = append(s.ScrapedPages, d.ScrapedPages...)
	s.SubtopicSummaries = append(s.SubtopicSummaries, d.SubtopicSummaries...)
	s.Errors = append(s.Errors, d.Errors...)

	for _, u := range d.SeenURLs {
		s.SeenURLs = insertSorted(s.SeenURLs, u)
	}

	for id, status := range d.SubtopicStatus {
		st := s.SubtopicByID(id)
		if st != nil {
			st.Status = status
		}
	}

	for _, u := range d.EvictContentURLs {
		for i := range s.ScrapedPages {
			if s.ScrapedPages[i].URL == u {
				s.ScrapedPages[i].Content = ""
			}
		}
	}

	return nil
}

// validate checks delta invariants against the post-apply state.
func validate(s *ResearchState, d *Delta) error {
	subtopicCount := len(s.Subtopics)
	if d.Subtopics != nil {
		subtopicCount = len(*d.Subtopics)
	}

	if d.CurrentSubtopicIndex != nil {
		idx := *d.CurrentSubtopicIndex
		if idx < 0 || idx > subtopicCount {
			return fmt.Errorf("%w: %d with %d subtopics", ErrIndexOutOfRange, idx, subtopicCount)
		}
	}

	if d.TotalCost != nil && *d.TotalCost < s.TotalCost {
		return fmt.Errorf("%w: %.6f -> %.6f", ErrCostDecrease, s.TotalCost, *d.TotalCost)
	}

	if d.TotalTokens != nil && *d.TotalTokens < s.TotalTokens {
		return fmt.Errorf("%w: %d -> %d", ErrTokensDecrease, s.TotalTokens, *d.TotalTokens)
	}

	return nil
}

func applyScalars(s *ResearchState, d *Delta) {
	if d.Query != nil {
		s.Query = *d.Query
	}

	if d.Subtopics != nil {
		s.Subtopics = *d.Subtopics
	}

	if d.CurrentSubtopicIndex != nil {
		s.CurrentSubtopicIndex = *d.CurrentSubtopicIndex
	}

	if d.FinalReport != nil {
		s.FinalReport = *d.FinalReport
	}

	if d.ReportMetadata != nil {
		s.ReportMetadata = d.ReportMetadata
	}

	if d.TotalCost != nil {
		s.TotalCost = *d.TotalCost
	}

	if d.TotalTokens != nil {
		s.TotalTokens = *d.TotalTokens
	}

	if d.DegradationTier != nil {
		s.DegradationTier = *d.DegradationTier
	}
}

// insertSorted inserts v into sorted unique slice set, keeping order and
// uniqueness. Returns the (possibly grown) slice.
func insertSorted(set []string, v string) []string {
	i, found := slices.BinarySearch(set, v)
	if found {
		return set
	}

	return slices.Insert(set, i, v)
}

// Ptr returns a pointer to v. Helper for building scalar delta fields.
func Ptr[T any](v T) *T {
	return &v
}
