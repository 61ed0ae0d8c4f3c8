package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Sumatoshi-tech/scout/internal/router"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// planMaxSubtopics bounds the plan regardless of what the model returns.
const planMaxSubtopics = 7

const planSystemPrompt = `You are a research planning specialist. Decompose the research query into
focused, independently searchable subtopics.

Guidelines:
- Produce between 3 and 7 subtopics, ordered from foundational to specific.
- Each subtopic needs a short title, a one-sentence description, and one or
  two seed search queries.
- Subtopics must not overlap; together they must cover the query.`

// planSchema validates the model's decomposition before it is trusted.
const planSchema = `{
  "type": "object",
  "required": ["subtopics"],
  "properties": {
    "subtopics": {
      "type": "array",
      "minItems": 1,
      "maxItems": 10,
      "items": {
        "type": "object",
        "required": ["title"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "search_queries": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "reasoning": {"type": "string"}
  }
}`

type plannedSubtopic struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	SearchQueries []string `json:"search_queries"`
}

type plannerOutput struct {
	Subtopics []plannedSubtopic `json:"subtopics"`
	Reasoning string            `json:"reasoning"`
}

// Plan decomposes the query into subtopics with stable 1-based ids. An
// unparseable model response falls back to a single subtopic wrapping the
// raw query; an empty query cannot fall back and fails with ErrPlanInvalid.
func (s *Stages) Plan(ctx context.Context, st *state.ResearchState, parentStepID string) (*state.Delta, error) {
	system := fmt.Sprintf("%s\n\nRespond with ONLY a JSON object matching this schema:\n%s",
		planSystemPrompt, planSchema)

	res, err := s.deps.Router.Call(ctx, router.Request{
		Intent:       router.IntentPlan,
		Messages:     router.BuildMessages(system, nil, "Research query: "+st.Query),
		ParentStepID: parentStepID,
	})
	if err != nil {
		return nil, fmt.Errorf("plan call: %w", err)
	}

	subs, parseErr := parsePlan(res.Text)
	if parseErr != nil {
		s.logger.Warn("plan output unusable, falling back to single subtopic", "err", parseErr)

		subs = fallbackPlan(st.Query)
	}

	if len(subs) == 0 {
		return nil, ErrPlanInvalid
	}

	s.logger.Info("plan complete", "subtopics", len(subs), "model", res.Model)

	return &state.Delta{
		Subtopics:            state.Ptr(subs),
		CurrentSubtopicIndex: state.Ptr(0),
	}, nil
}

// parsePlan validates and converts the model output. Ids are renumbered
// sequentially so retried plans stay stable.
func parsePlan(text string) ([]state.Subtopic, error) {
	cleaned := router.StripFences(text)

	validation, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(planSchema),
		gojsonschema.NewStringLoader(cleaned),
	)
	if err != nil {
		return nil, fmt.Errorf("validate plan: %w", err)
	}

	if !validation.Valid() {
		issues := make([]string, 0, len(validation.Errors()))
		for _, e := range validation.Errors() {
			issues = append(issues, e.String())
		}

		return nil, fmt.Errorf("plan schema violation: %s", strings.Join(issues, "; "))
	}

	var parsed plannerOutput

	unmarshalErr := json.Unmarshal([]byte(cleaned), &parsed)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("parse plan: %w", unmarshalErr)
	}

	subs := make([]state.Subtopic, 0, len(parsed.Subtopics))

	for _, p := range parsed.Subtopics {
		title := strings.TrimSpace(p.Title)
		if title == "" {
			continue
		}

		subs = append(subs, state.Subtopic{
			ID:            fmt.Sprintf("st-%d", len(subs)+1),
			Title:         title,
			Description:   strings.TrimSpace(p.Description),
			SearchQueries: p.SearchQueries,
			Status:        state.StatusPending,
		})

		if len(subs) == planMaxSubtopics {
			break
		}
	}

	if len(subs) == 0 {
		return nil, errors.New("plan held no usable subtopics")
	}

	return subs, nil
}

// fallbackPlan wraps the raw query as the only subtopic. Returns nil when
// the query is blank.
func fallbackPlan(query string) []state.Subtopic {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil
	}

	return []state.Subtopic{{
		ID:          "st-1",
		Title:       q,
		Description: "Direct investigation of the original query.",
		Status:      state.StatusPending,
	}}
}
