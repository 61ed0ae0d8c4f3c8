// Package judge scores a finished research report with an LLM judge: five
// weighted dimensions rated on a 1-5 scale, folded into a normalized
// overall verdict in [0,1].
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Sumatoshi-tech/scout/internal/router"
)

// ErrVerdictUnusable reports a judge response that failed schema
// validation. The evaluation has no fallback; the caller surfaces it.
var ErrVerdictUnusable = errors.New("judge verdict unusable")

// Dimension names as they appear in the verdict.
const (
	DimensionAccuracy     = "accuracy"
	DimensionCompleteness = "completeness"
	DimensionCoverage     = "coverage"
	DimensionCoherence    = "coherence"
	DimensionBias         = "bias"
)

// Judge scale bounds. Out-of-range scores are clamped, not rejected.
const (
	scoreMin = 1.0
	scoreMax = 5.0
)

// PassThreshold is the minimum normalized overall score for a report to
// pass: 3.5 on the judge's 1-5 scale.
const PassThreshold = 0.625

// dimensions fixes the scored dimensions and their weights, which sum to
// 1.0. Order is the scorecard order.
var dimensions = []struct {
	name   string
	weight float64
}{
	{DimensionAccuracy, 0.30},
	{DimensionCompleteness, 0.25},
	{DimensionCoverage, 0.20},
	{DimensionCoherence, 0.15},
	{DimensionBias, 0.10},
}

const judgeSystemPrompt = `You are an expert research report evaluator. Score the report on each
dimension using a 1-5 scale where 1 is very poor, 3 is adequate, and 5 is
excellent.

Dimensions:
- accuracy (weight 30%): are claims supported by the cited sources, with no
  unsupported assertions or factual errors?
- completeness (weight 25%): does the report address every aspect of the
  research query, without significant gaps?
- coverage (weight 20%): does the report draw on a sufficient breadth of
  sources, with multiple perspectives represented?
- coherence (weight 15%): is the report well organized, with clear logical
  flow and well-structured arguments?
- bias (weight 10%): is the perspective balanced, with opposing viewpoints
  fairly represented?`

// verdictSchema validates the judge's structure. Score bounds are
// deliberately absent; out-of-range values are clamped instead.
const verdictSchema = `{
  "type": "object",
  "required": ["dimensions"],
  "properties": {
    "dimensions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["dimension", "score"],
        "properties": {
          "dimension": {"type": "string", "minLength": 1},
          "score": {"type": "number"},
          "reasoning": {"type": "string"}
        }
      }
    },
    "overall_reasoning": {"type": "string"},
    "recommendations": {"type": "array", "items": {"type": "string"}}
  }
}`

// DimensionScore is one scored dimension of the verdict.
type DimensionScore struct {
	Dimension string  `json:"dimension"`
	Score     float64 `json:"score"`
	Weight    float64 `json:"weight"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// Normalized maps the 1-5 score onto [0,1].
func (d DimensionScore) Normalized() float64 {
	return (d.Score - scoreMin) / (scoreMax - scoreMin)
}

// Weighted is this dimension's contribution to the overall score.
func (d DimensionScore) Weighted() float64 {
	return d.Normalized() * d.Weight
}

// Verdict is the full evaluation outcome.
type Verdict struct {
	Query           string           `json:"query"`
	Dimensions      []DimensionScore `json:"dimensions"`
	Overall         float64          `json:"overall"`
	Passed          bool             `json:"passed"`
	Assessment      string           `json:"assessment,omitempty"`
	Recommendations []string         `json:"recommendations,omitempty"`
}

// Judge evaluates reports through the model router.
type Judge struct {
	rt     *router.Router
	logger *slog.Logger
}

// New creates a judge. The router's judge intent picks the model.
func New(rt *router.Router, logger *slog.Logger) *Judge {
	if logger == nil {
		logger = slog.Default()
	}

	return &Judge{rt: rt, logger: logger}
}

// Evaluate sends the report to the judge model and parses the verdict.
func (j *Judge) Evaluate(ctx context.Context, query, reportText string) (*Verdict, error) {
	system := fmt.Sprintf("%s\n\nRespond with ONLY a JSON object matching this schema:\n%s",
		judgeSystemPrompt, verdictSchema)

	user := fmt.Sprintf("Research query:\n%s\n\nReport:\n%s", query, reportText)

	res, err := j.rt.Call(ctx, router.Request{
		Intent:   router.IntentJudge,
		Messages: router.BuildMessages(system, nil, user),
	})
	if err != nil {
		return nil, fmt.Errorf("judge call: %w", err)
	}

	verdict, parseErr := j.parseVerdict(res.Text, query)
	if parseErr != nil {
		return nil, parseErr
	}

	j.logger.Info("evaluation complete",
		"overall", verdict.Overall, "passed", verdict.Passed, "model", res.Model)

	return verdict, nil
}

type rawDimension struct {
	Dimension string  `json:"dimension"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

type rawVerdict struct {
	Dimensions       []rawDimension `json:"dimensions"`
	OverallReasoning string         `json:"overall_reasoning"`
	Recommendations  []string       `json:"recommendations"`
}

// parseVerdict validates and scores the judge output. Every configured
// dimension appears in the result: unscored ones default to the minimum,
// unknown ones are dropped.
func (j *Judge) parseVerdict(text, query string) (*Verdict, error) {
	cleaned := router.StripFences(router.StripThinkBlocks(text))

	validation, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(verdictSchema),
		gojsonschema.NewStringLoader(cleaned),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerdictUnusable, err)
	}

	if !validation.Valid() {
		issues := make([]string, 0, len(validation.Errors()))
		for _, e := range validation.Errors() {
			issues = append(issues, e.String())
		}

		return nil, fmt.Errorf("%w: %s", ErrVerdictUnusable, strings.Join(issues, "; "))
	}

	var raw rawVerdict

	if unmarshalErr := json.Unmarshal([]byte(cleaned), &raw); unmarshalErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerdictUnusable, unmarshalErr)
	}

	scored := make(map[string]rawDimension, len(raw.Dimensions))

	for _, d := range raw.Dimensions {
		name := strings.ToLower(strings.TrimSpace(d.Dimension))
		if !knownDimension(name) {
			j.logger.Warn("judge returned unknown dimension", "dimension", d.Dimension)

			continue
		}

		scored[name] = d
	}

	verdict := &Verdict{Query: query}

	for _, dim := range dimensions {
		entry, ok := scored[dim.name]

		score := clampScore(entry.Score)
		reasoning := strings.TrimSpace(entry.Reasoning)

		if !ok {
			j.logger.Warn("judge omitted dimension", "dimension", dim.name)

			score = scoreMin
			reasoning = "not scored by the judge; defaulted to the minimum"
		}

		verdict.Dimensions = append(verdict.Dimensions, DimensionScore{
			Dimension: dim.name,
			Score:     score,
			Weight:    dim.weight,
			Reasoning: reasoning,
		})
	}

	var overall float64
	for _, d := range verdict.Dimensions {
		overall += d.Weighted()
	}

	verdict.Overall = math.Round(overall*1000) / 1000
	verdict.Passed = verdict.Overall >= PassThreshold
	verdict.Assessment = strings.TrimSpace(raw.OverallReasoning)
	verdict.Recommendations = raw.Recommendations

	return verdict, nil
}

func knownDimension(name string) bool {
	for _, dim := range dimensions {
		if dim.name == name {
			return true
		}
	}

	return false
}

func clampScore(score float64) float64 {
	return math.Min(scoreMax, math.Max(scoreMin, score))
}
