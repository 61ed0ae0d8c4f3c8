// Package state defines the research run state document, the stage delta
// type, and the reducers that merge deltas into state. The document is what
// checkpoints persist; every field is JSON-stable: map keys sorted, sets
// serialized as sorted arrays, timestamps ISO 8601 UTC.
package state

import "time"

// CurrentSchemaVersion is the schema version written by this build.
// Migrations are additive-only and bump the version by exactly one.
const CurrentSchemaVersion = 1

// Tier is the degradation level the run operates under.
type Tier string

// Degradation tiers, ordered from full service to partial delivery.
const (
	TierFull    Tier = "FULL"
	TierReduced Tier = "REDUCED"
	TierCached  Tier = "CACHED"
	TierPartial Tier = "PARTIAL"
)

// Rank orders tiers for comparisons: FULL < REDUCED < CACHED < PARTIAL.
func (t Tier) Rank() int {
	switch t {
	case TierFull:
		return 0
	case TierReduced:
		return 1
	case TierCached:
		return 2
	case TierPartial:
		return 3
	default:
		return 0
	}
}

// SubtopicStatus tracks a subtopic through its research lifecycle.
type SubtopicStatus string

// Subtopic lifecycle states.
const (
	StatusPending     SubtopicStatus = "pending"
	StatusSearching   SubtopicStatus = "searching"
	StatusScraping    SubtopicStatus = "scraping"
	StatusSummarizing SubtopicStatus = "summarizing"
	StatusDone        SubtopicStatus = "done"
	StatusFailed      SubtopicStatus = "failed"
)

// Subtopic is one branch of the research plan.
type Subtopic struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	SearchQueries []string       `json:"search_queries,omitempty"`
	Status        SubtopicStatus `json:"status"`
}

// SearchResult is one provider hit attributed to a subtopic.
type SearchResult struct {
	URL        string  `json:"url"`
	Title      string  `json:"title"`
	Snippet    string  `json:"snippet,omitempty"`
	Score      float64 `json:"score"`
	SubtopicID string  `json:"subtopic_id"`
}

// ScrapedPage is extracted page content with its quality assessment.
// Content may be blanked later by observation masking; the page archive
// keeps the raw text.
type ScrapedPage struct {
	URL          string  `json:"url"`
	Title        string  `json:"title,omitempty"`
	Content      string  `json:"content"`
	QualityScore float64 `json:"quality_score"`
	WordCount    int     `json:"word_count"`
	SubtopicID   string  `json:"subtopic_id"`
	Flagged      bool    `json:"flagged,omitempty"`
	FetchedAt    string  `json:"fetched_at,omitempty"`
}

// SubtopicSummary is the single summary produced for a summarized subtopic.
// Citations is an ordered set of source URLs.
type SubtopicSummary struct {
	SubtopicID  string   `json:"subtopic_id"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Citations   []string `json:"citations"`
	KeyFindings []string `json:"key_findings,omitempty"`
	TokenCount  int      `json:"token_count"`
}

// ErrorEntry records a non-fatal failure for the final error log.
type ErrorEntry struct {
	Node        string `json:"node"`
	SubtopicID  string `json:"subtopic_id,omitempty"`
	Message     string `json:"message"`
	At          string `json:"at"`
	Recoverable bool   `json:"recoverable"`
}

// ReportMetadata describes the synthesized report.
type ReportMetadata struct {
	GeneratedAt   string   `json:"generated_at"`
	WordCount     int      `json:"word_count"`
	CitationCount int      `json:"citation_count"`
	Unreferenced  []string `json:"unreferenced,omitempty"`
	CoverageGaps  []string `json:"coverage_gaps,omitempty"`
	Models        []string `json:"models,omitempty"`
}

// ResearchState is the complete run state. Checkpoints serialize it; stages
// read it and emit deltas against it.
type ResearchState struct {
	SchemaVersion        int               `json:"_schema_version"`
	Query                string            `json:"query"`
	Subtopics            []Subtopic        `json:"subtopics"`
	CurrentSubtopicIndex int               `json:"current_subtopic_index"`
	SearchResults        []SearchResult    `json:"search_results"`
	ScrapedPages         []ScrapedPage     `json:"scraped_pages"`
	SubtopicSummaries    []SubtopicSummary `json:"subtopic_summaries"`
	Errors               []ErrorEntry      `json:"errors"`
	SeenURLs             []string          `json:"seen_urls"`
	FinalReport          string            `json:"final_report,omitempty"`
	ReportMetadata       *ReportMetadata   `json:"report_metadata,omitempty"`
	TotalCost            float64           `json:"total_cost"`
	TotalTokens          int64             `json:"total_tokens"`
	DegradationTier      Tier              `json:"degradation_tier"`
}

// New returns a fresh state for the given query. Collection fields are
// non-nil so serialization is stable from the first checkpoint on.
func New(query string) *ResearchState {
	return &ResearchState{
		SchemaVersion:     CurrentSchemaVersion,
		Query:             query,
		Subtopics:         []Subtopic{},
		SearchResults:     []SearchResult{},
		ScrapedPages:      []ScrapedPage{},
		SubtopicSummaries: []SubtopicSummary{},
		Errors:            []ErrorEntry{},
		SeenURLs:          []string{},
		DegradationTier:   TierFull,
	}
}

// SubtopicByID returns a pointer to the subtopic with the given id, or nil.
func (s *ResearchState) SubtopicByID(id string) *Subtopic {
	for i := range s.Subtopics {
		if s.Subtopics[i].ID == id {
			return &s.Subtopics[i]
		}
	}

	return nil
}

// CurrentSubtopic returns the subtopic at the loop index, or nil when the
// index has run past the plan.
func (s *ResearchState) CurrentSubtopic() *Subtopic {
	if s.CurrentSubtopicIndex < 0 || s.CurrentSubtopicIndex >= len(s.Subtopics) {
		return nil
	}

	return &s.Subtopics[s.CurrentSubtopicIndex]
}

// PagesForSubtopic returns the scraped pages attributed to a subtopic, in
// append order.
func (s *ResearchState) PagesForSubtopic(id string) []ScrapedPage {
	var pages []ScrapedPage

	for _, p := range s.ScrapedPages {
		if p.SubtopicID == id {
			pages = append(pages, p)
		}
	}

	return pages
}

// ResultsForSubtopic returns the search results attributed to a subtopic.
func (s *ResearchState) ResultsForSubtopic(id string) []SearchResult {
	var results []SearchResult

	for _, r := range s.SearchResults {
		if r.SubtopicID == id {
			results = append(results, r)
		}
	}

	return results
}

// UnfinishedSubtopicIDs returns ids of subtopics that never reached done,
// in plan order. Feeds the coverage-gaps section.
func (s *ResearchState) UnfinishedSubtopicIDs() []string {
	var ids []string

	for _, st := range s.Subtopics {
		if st.Status != StatusDone {
			ids = append(ids, st.ID)
		}
	}

	return ids
}

// timeLayout is the ISO 8601 UTC layout for all persisted timestamps.
const timeLayout = time.RFC3339Nano

// FormatTime renders t as ISO 8601 UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// NowUTC returns the current instant as ISO 8601 UTC.
func NowUTC() string {
	return FormatTime(time.Now())
}
