package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sumatoshi-tech/scout/internal/report"
	"github.com/Sumatoshi-tech/scout/internal/router"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

const synthesizeSystemPrompt = `You are a research synthesis specialist. Write the final research report
from the per-subtopic summaries.

Requirements:
- Markdown with an H1 title, an "## Executive Summary" section, a
  "## Key Findings" section organized by theme, and a closing analysis.
- Cite sources inline with bracketed numbers like [1], using ONLY the
  numbered source list provided. Never invent a number.
- Do not write a Sources section; it is appended automatically.
- Where sources disagree, present both positions.`

// Synthesize produces the final report in one model call over all
// summaries. The citation index is built first so every [n] marker in the
// body can be validated against it; the canonical Sources section and any
// coverage gaps are appended after the call.
func (s *Stages) Synthesize(ctx context.Context, st *state.ResearchState, parentStepID string) (*state.Delta, error) {
	ix := report.BuildIndex(st.SubtopicSummaries)

	var (
		body   string
		models []string
	)

	if len(st.SubtopicSummaries) == 0 {
		// Nothing was researched; deliver a stub instead of paying for a
		// model call that has no material to work from.
		body = emptyReportBody(st.Query)
	} else {
		system := fmt.Sprintf("%s\n\nKeep the report under %d words.", synthesizeSystemPrompt, s.opts.MaxWords)

		res, err := s.deps.Router.Call(ctx, router.Request{
			Intent:       router.IntentSynthesize,
			Messages:     router.BuildMessages(system, nil, synthesizeUserPrompt(st.Query, st.SubtopicSummaries, ix)),
			ParentStepID: parentStepID,
		})
		if err != nil {
			return nil, fmt.Errorf("synthesize call: %w", err)
		}

		body = strings.TrimSpace(router.StripFences(res.Text))
		models = append(models, res.Model)
	}

	check := report.ValidateReferences(body, ix)

	var errsList []state.ErrorEntry

	if !check.OK() {
		msg := fmt.Sprintf("report cites unknown sources: %v", check.OutOfRange)
		s.logger.Warn("citation validation failed", "out_of_range", check.OutOfRange)
		errsList = append(errsList, errEntry("synthesize", "", msg, true))
	}

	if len(check.Unreferenced) > 0 {
		s.logger.Info("indexed sources never cited in body", "count", len(check.Unreferenced))
	}

	final := body + report.CoverageGapsSection(st) + ix.SourcesSection()

	meta := &state.ReportMetadata{
		GeneratedAt:   state.NowUTC(),
		WordCount:     len(strings.Fields(final)),
		CitationCount: ix.Len(),
		Unreferenced:  check.Unreferenced,
		CoverageGaps:  st.UnfinishedSubtopicIDs(),
		Models:        models,
	}

	s.logger.Info("synthesize complete",
		"words", meta.WordCount, "citations", meta.CitationCount,
		"coverage_gaps", len(meta.CoverageGaps))

	return &state.Delta{
		FinalReport:    state.Ptr(final),
		ReportMetadata: meta,
		Errors:         errsList,
	}, nil
}

// synthesizeUserPrompt lays out the query, the numbered source list, and
// every summary with its citation numbers resolved through the index.
func synthesizeUserPrompt(query string, summaries []state.SubtopicSummary, ix *report.Index) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Research query: %s\n\nNumbered sources:\n%s", query, ix.SourceList())

	for _, sum := range summaries {
		fmt.Fprintf(&b, "\n---\n\n## %s\n\n%s\n", sum.Title, sum.Summary)

		if len(sum.KeyFindings) > 0 {
			b.WriteString("\nKey findings:\n")

			for _, f := range sum.KeyFindings {
				fmt.Fprintf(&b, "- %s\n", f)
			}
		}

		if nums := citationNumbers(sum.Citations, ix); nums != "" {
			fmt.Fprintf(&b, "\nCite this material as: %s\n", nums)
		}
	}

	return b.String()
}

func citationNumbers(urls []string, ix *report.Index) string {
	var parts []string

	for _, u := range urls {
		if n, ok := ix.NumberFor(u); ok {
			parts = append(parts, fmt.Sprintf("[%d]", n))
		}
	}

	return strings.Join(parts, " ")
}

// emptyReportBody is the degenerate report for a run that reached
// synthesis with no summaries at all.
func emptyReportBody(query string) string {
	return fmt.Sprintf(`# %s

## Executive Summary

No subtopic research completed before synthesis. The coverage gaps below
list what remains uninvestigated.

## Key Findings

None gathered.`, query)
}
