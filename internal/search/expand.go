package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Sumatoshi-tech/scout/internal/router"
)

// expansionAngles are the reformulation strategies, in the order they are
// requested. The tier's k picks a prefix.
var expansionAngles = []string{
	"Direct: a focused, keyword-rich reformulation of the question.",
	"Broader: a query that captures the wider topic or background.",
	"Narrower: a query targeting specific facts, data, or examples.",
}

const expandSystemPrompt = `You are a search query expansion specialist. Given a research sub-question,
generate diverse search query reformulations optimized for web search.

Guidelines:
- Keep queries concise (under 15 words each).
- Use different vocabulary across variations to maximize result diversity.
- Do NOT include the original question verbatim as a variation.`

// expandedSchema validates the model's expansion output before it is
// trusted. Kept as a raw document so serialization stays byte-stable in
// prompts and validation alike.
const expandedSchema = `{
  "type": "object",
  "required": ["original", "variations"],
  "properties": {
    "original": {"type": "string"},
    "variations": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "minItems": 1,
      "maxItems": 5
    }
  }
}`

// expandedQueries is the parsed expansion result.
type expandedQueries struct {
	Original   string   `json:"original"`
	Variations []string `json:"variations"`
}

// ExpandQueries asks the router for k query reformulations of question.
// The response must validate against the expansion schema; any failure
// returns an error so the caller can fall back to stored queries.
func ExpandQueries(ctx context.Context, rt *router.Router, question string, k int, parentStepID string) ([]string, error) {
	if k < 1 {
		k = 1
	}

	if k > len(expansionAngles) {
		k = len(expansionAngles)
	}

	var angles strings.Builder
	for i, a := range expansionAngles[:k] {
		fmt.Fprintf(&angles, "%d. %s\n", i+1, a)
	}

	system := fmt.Sprintf("%s\n\nStrategy for the %d variations:\n%s\nRespond with ONLY a JSON object matching this schema:\n%s",
		expandSystemPrompt, k, angles.String(), expandedSchema)

	res, err := rt.Call(ctx, router.Request{
		Intent:       router.IntentPlan,
		Messages:     router.BuildMessages(system, nil, question),
		MaxTokens:    256,
		Temperature:  0.7,
		ParentStepID: parentStepID,
	})
	if err != nil {
		return nil, fmt.Errorf("expand queries: %w", err)
	}

	parsed, parseErr := parseExpanded(res.Text)
	if parseErr != nil {
		return nil, parseErr
	}

	variations := parsed.Variations
	if len(variations) > k {
		variations = variations[:k]
	}

	return variations, nil
}

func parseExpanded(text string) (*expandedQueries, error) {
	cleaned := router.StripFences(text)

	validation, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(expandedSchema),
		gojsonschema.NewStringLoader(cleaned),
	)
	if err != nil {
		return nil, fmt.Errorf("validate expansion: %w", err)
	}

	if !validation.Valid() {
		issues := make([]string, 0, len(validation.Errors()))
		for _, e := range validation.Errors() {
			issues = append(issues, e.String())
		}

		return nil, fmt.Errorf("expansion schema violation: %s", strings.Join(issues, "; "))
	}

	var parsed expandedQueries

	unmarshalErr := json.Unmarshal([]byte(cleaned), &parsed)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("parse expansion: %w", unmarshalErr)
	}

	return &parsed, nil
}
