package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Sumatoshi-tech/scout/internal/router"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// shortSummaryTokens caps summary output under reduced tiers.
const shortSummaryTokens = 1024

const summarizeSystemPrompt = `You are a research summarization specialist. Compress the provided source
material into a dense, factual summary answering the sub-question.

Guidelines:
- Preserve concrete facts, figures, and dates.
- Name the source when sources disagree.
- Note gaps where the material does not answer the sub-question.`

// summarizeSchema validates the model's summary output.
const summarizeSchema = `{
  "type": "object",
  "required": ["summary"],
  "properties": {
    "summary": {"type": "string", "minLength": 1},
    "key_findings": {"type": "array", "items": {"type": "string"}},
    "disagreements": {"type": "string"}
  }
}`

type summarizerOutput struct {
	Summary       string   `json:"summary"`
	KeyFindings   []string `json:"key_findings"`
	Disagreements string   `json:"disagreements"`
}

// Summarize compresses the current subtopic's pages into exactly one
// summary, appends the progress section, and masks the page content out of
// state (the archive keeps it). The index advances on failure too, so the
// loop cannot stall on one bad subtopic.
func (s *Stages) Summarize(ctx context.Context, st *state.ResearchState, parentStepID string) (*state.Delta, error) {
	sub := st.CurrentSubtopic()
	if sub == nil {
		return &state.Delta{}, nil
	}

	next := st.CurrentSubtopicIndex + 1

	pages := s.readablePages(st.PagesForSubtopic(sub.ID))
	if len(pages) == 0 {
		return s.subtopicFailed(sub, next, "no scraped content to summarize"), nil
	}

	sortPagesByQuality(pages)

	eff := s.effects()

	wordTarget := "200-500"
	maxTokens := 0

	if eff.ShortSummaries {
		wordTarget = "100-200"
		maxTokens = shortSummaryTokens
	}

	system := fmt.Sprintf("%s\n\nWrite a %s word summary. Respond with ONLY a JSON object matching this schema:\n%s",
		summarizeSystemPrompt, wordTarget, summarizeSchema)

	res, err := s.deps.Router.Call(ctx, router.Request{
		Intent:       router.IntentSummarize,
		Messages:     router.BuildMessages(system, nil, summarizeUserPrompt(sub, pages)),
		MaxTokens:    maxTokens,
		ParentStepID: parentStepID,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return s.subtopicFailed(sub, next, fmt.Sprintf("summarize call: %v", err)), nil
	}

	out, parseErr := parseSummary(res.Text)
	if parseErr != nil {
		// Prose instead of JSON still carries the information; keep it.
		raw := strings.TrimSpace(router.StripFences(res.Text))
		if raw == "" {
			return s.subtopicFailed(sub, next, fmt.Sprintf("summary unusable: %v", parseErr)), nil
		}

		s.logger.Warn("summary output not schema-valid, keeping raw text",
			"subtopic", sub.ID, "err", parseErr)

		out = &summarizerOutput{Summary: raw}
	}

	if out.Disagreements != "" {
		out.Summary += "\n\nDisagreements and gaps: " + out.Disagreements
	}

	urls := make([]string, 0, len(pages))
	for _, p := range pages {
		urls = append(urls, p.URL)
	}

	sum := state.SubtopicSummary{
		SubtopicID:  sub.ID,
		Title:       sub.Title,
		Summary:     out.Summary,
		Citations:   urls,
		KeyFindings: out.KeyFindings,
		TokenCount:  int(res.OutputTokens),
	}

	if progressErr := s.deps.Progress.AppendSubtopic(sum); progressErr != nil {
		s.logger.Warn("progress append failed", "err", progressErr)
	}

	s.logger.Info("summarize complete",
		"subtopic", sub.ID, "sources", len(urls), "findings", len(out.KeyFindings))

	return &state.Delta{
		SubtopicSummaries:    []state.SubtopicSummary{sum},
		SubtopicStatus:       map[string]state.SubtopicStatus{sub.ID: state.StatusDone},
		CurrentSubtopicIndex: state.Ptr(next),
		EvictContentURLs:     urls,
	}, nil
}

// sortPagesByQuality orders pages by quality descending with URL as the
// deterministic tie-break. Parallel scraping and resume can both leave the
// subtopic's pages out of order; the prompt and the citation numbering must
// not depend on which order pages landed in.
func sortPagesByQuality(pages []state.ScrapedPage) {
	sort.SliceStable(pages, func(i, j int) bool {
		if pages[i].QualityScore != pages[j].QualityScore {
			return pages[i].QualityScore > pages[j].QualityScore
		}

		return pages[i].URL < pages[j].URL
	})
}

// readablePages resolves masked content through the page archive and drops
// pages whose content is gone entirely.
func (s *Stages) readablePages(pages []state.ScrapedPage) []state.ScrapedPage {
	usable := make([]state.ScrapedPage, 0, len(pages))

	for _, p := range pages {
		if p.Content == "" {
			restored, err := s.deps.Pages.Get(p.URL)
			if err != nil {
				s.logger.Warn("masked page not in archive", "url", p.URL, "err", err)

				continue
			}

			p.Content = restored
		}

		usable = append(usable, p)
	}

	return usable
}

// subtopicFailed marks the subtopic failed, records the error, notes it in
// the progress transcript, and advances the loop.
func (s *Stages) subtopicFailed(sub *state.Subtopic, next int, msg string) *state.Delta {
	s.logger.Warn("subtopic failed", "subtopic", sub.ID, "reason", msg)

	if err := s.deps.Progress.AppendErrorNote("summarize", msg); err != nil {
		s.logger.Warn("progress note failed", "err", err)
	}

	return &state.Delta{
		Errors:               []state.ErrorEntry{errEntry("summarize", sub.ID, msg, true)},
		SubtopicStatus:       map[string]state.SubtopicStatus{sub.ID: state.StatusFailed},
		CurrentSubtopicIndex: state.Ptr(next),
	}
}

// summarizeUserPrompt formats the subtopic's pages for the model, one
// source block per page.
func summarizeUserPrompt(sub *state.Subtopic, pages []state.ScrapedPage) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Sub-question: %s\n", sub.Title)

	if sub.Description != "" {
		fmt.Fprintf(&b, "Context: %s\n", sub.Description)
	}

	fmt.Fprintf(&b, "Sources: %d\n", len(pages))

	for _, p := range pages {
		fmt.Fprintf(&b, "\n---\n\nSource: %s (%s)\n\n%s\n", p.Title, p.URL, p.Content)
	}

	return b.String()
}

func parseSummary(text string) (*summarizerOutput, error) {
	cleaned := router.StripFences(text)

	validation, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(summarizeSchema),
		gojsonschema.NewStringLoader(cleaned),
	)
	if err != nil {
		return nil, fmt.Errorf("validate summary: %w", err)
	}

	if !validation.Valid() {
		issues := make([]string, 0, len(validation.Errors()))
		for _, e := range validation.Errors() {
			issues = append(issues, e.String())
		}

		return nil, fmt.Errorf("summary schema violation: %s", strings.Join(issues, "; "))
	}

	var parsed summarizerOutput

	unmarshalErr := json.Unmarshal([]byte(cleaned), &parsed)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("parse summary: %w", unmarshalErr)
	}

	return &parsed, nil
}
