package report

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/Sumatoshi-tech/scout/internal/state"
)

// requiredSections must each appear in a report heading (levels 1-3,
// case-insensitive substring match).
var requiredSections = []string{
	"Executive Summary",
	"Findings",
	"Sources",
}

const (
	// minSubtopicCoverage is the fraction of subtopics a report must touch.
	minSubtopicCoverage = 0.8
	// coverageWordFraction of a subtopic title's significant words must
	// appear in the body for the subtopic to count as covered.
	coverageWordFraction = 0.4
	// significantWordLen filters out stop-word noise when checking coverage.
	significantWordLen = 3
	// maxHeadingLevel bounds which headings count as section markers.
	maxHeadingLevel = 3
)

// QualityResult is the outcome of the structural report check.
type QualityResult struct {
	Passed              bool     `json:"passed"`
	WordCount           int      `json:"word_count"`
	HasExecutiveSummary bool     `json:"has_executive_summary"`
	HasFindings         bool     `json:"has_findings"`
	HasSources          bool     `json:"has_sources"`
	CitationCount       int      `json:"citation_count"`
	HasCitations        bool     `json:"has_citations"`
	SubtopicCoverage    float64  `json:"subtopic_coverage"`
	SubtopicCoverageOK  bool     `json:"subtopic_coverage_ok"`
	Warnings            []string `json:"warnings,omitempty"`
}

// CheckQuality validates a finished report: required sections present,
// at least one citation reference, and enough subtopics mentioned in the
// body. The result is advisory; a failed check never discards the report.
func CheckQuality(body string, subtopics []state.Subtopic) QualityResult {
	if strings.TrimSpace(body) == "" {
		return QualityResult{Warnings: []string{"Report is empty"}}
	}

	res := QualityResult{WordCount: len(strings.Fields(body))}

	headings := headingSet(body)
	res.HasExecutiveSummary = hasSection(headings, requiredSections[0])
	res.HasFindings = hasSection(headings, requiredSections[1])
	res.HasSources = hasSection(headings, requiredSections[2])

	for i, have := range []bool{res.HasExecutiveSummary, res.HasFindings, res.HasSources} {
		if !have {
			res.Warnings = append(res.Warnings, fmt.Sprintf("Missing '%s' section", requiredSections[i]))
		}
	}

	res.CitationCount = countCitations(body)
	res.HasCitations = res.CitationCount > 0

	if !res.HasCitations {
		res.Warnings = append(res.Warnings, "No citation references found in report")
	}

	res.SubtopicCoverage = subtopicCoverage(body, subtopics)
	res.SubtopicCoverageOK = res.SubtopicCoverage >= minSubtopicCoverage

	if !res.SubtopicCoverageOK && len(subtopics) > 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("Subtopic coverage %.0f%% is below %.0f%% threshold",
				res.SubtopicCoverage*100, minSubtopicCoverage*100))
	}

	res.Passed = res.HasExecutiveSummary && res.HasFindings && res.HasSources &&
		res.HasCitations && res.SubtopicCoverageOK

	return res
}

// headingSet parses the body and collects the lowercased text of every
// heading up to level 3.
func headingSet(body string) []string {
	source := []byte(body)
	md := goldmark.New()
	root := md.Parser().Parse(text.NewReader(source))

	var headings []string

	_ = gmast.Walk(root, func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if !entering {
			return gmast.WalkContinue, nil
		}

		h, ok := n.(*gmast.Heading)
		if !ok || h.Level > maxHeadingLevel {
			return gmast.WalkContinue, nil
		}

		t := strings.ToLower(strings.TrimSpace(nodeText(h, source)))
		if t != "" {
			headings = append(headings, t)
		}

		return gmast.WalkSkipChildren, nil
	})

	return headings
}

// nodeText flattens the literal text under a node.
func nodeText(n gmast.Node, source []byte) string {
	var b strings.Builder

	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *gmast.Text:
			b.Write(t.Segment.Value(source))
		case *gmast.String:
			b.Write(t.Value)
		default:
			b.WriteString(nodeText(c, source))
		}
	}

	return b.String()
}

func hasSection(headings []string, name string) bool {
	want := strings.ToLower(name)

	for _, h := range headings {
		if strings.Contains(h, want) {
			return true
		}
	}

	return false
}

// countCitations counts distinct citation numbers referenced anywhere in
// the report, Sources section included.
func countCitations(body string) int {
	seen := make(map[string]bool)

	for _, m := range citationRE.FindAllStringSubmatch(body, -1) {
		seen[m[1]] = true
	}

	return len(seen)
}

// subtopicCoverage measures the fraction of subtopics whose title words
// show up in the body. A subtopic counts as covered when at least 40% of
// its significant title words appear (case-insensitive).
func subtopicCoverage(body string, subtopics []state.Subtopic) float64 {
	if len(subtopics) == 0 {
		return 1.0
	}

	lower := strings.ToLower(body)
	covered := 0

	for _, sub := range subtopics {
		var words []string

		for _, w := range strings.Fields(sub.Title) {
			if len(w) >= significantWordLen {
				words = append(words, strings.ToLower(w))
			}
		}

		if len(words) == 0 {
			covered++

			continue
		}

		matches := 0

		for _, w := range words {
			if strings.Contains(lower, w) {
				matches++
			}
		}

		if float64(matches)/float64(len(words)) >= coverageWordFraction {
			covered++
		}
	}

	return float64(covered) / float64(len(subtopics))
}
