package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/scout/internal/checkpoint"
)

// Tool name constants.
const (
	ToolNameResearch = "scout_research"
	ToolNameStatus   = "scout_status"
	ToolNameReport   = "scout_report"
	ToolNameEvaluate = "scout_evaluate"
)

// Input size limits.
const (
	// MaxReportInputBytes is the maximum allowed size for inline report input (1 MB).
	MaxReportInputBytes = 1 << 20
)

// Sentinel errors for tool input validation.
var (
	// ErrEmptyQuery indicates the query parameter is empty.
	ErrEmptyQuery = errors.New("query parameter is required and must not be empty")
	// ErrNegativeMaxCost indicates the max_cost parameter is negative.
	ErrNegativeMaxCost = errors.New("max_cost must not be negative")
	// ErrInvalidRunID indicates the run_id parameter is not a valid run identifier.
	ErrInvalidRunID = errors.New("run_id must match run-<12 hex digits>")
	// ErrEmptyReport indicates the report parameter is empty.
	ErrEmptyReport = errors.New("report parameter is required and must not be empty")
	// ErrReportTooLarge indicates the report input exceeds the size limit.
	ErrReportTooLarge = errors.New("report input exceeds maximum size")
	// ErrNoReport indicates the run has not produced a final report yet.
	ErrNoReport = errors.New("run has no final report")
)

// Input types (auto-generate JSON schemas via struct tags).

// ResearchInput is the input schema for the scout_research tool.
type ResearchInput struct {
	MaxCost float64 `json:"max_cost,omitempty" jsonschema:"optional spend ceiling in USD for this run (default: configured budget)"`
	Query   string  `json:"query"              jsonschema:"research question to investigate"`
}

// StatusInput is the input schema for the scout_status tool.
type StatusInput struct {
	RunID  string `json:"run_id"            jsonschema:"run identifier (run-<12 hex digits>)"`
	StepID string `json:"step_id,omitempty" jsonschema:"optional step id to resolve the provenance chain for"`
}

// ReportInput is the input schema for the scout_report tool.
type ReportInput struct {
	RunID string `json:"run_id" jsonschema:"run identifier (run-<12 hex digits>)"`
}

// EvaluateInput is the input schema for the scout_evaluate tool.
type EvaluateInput struct {
	Query  string `json:"query"  jsonschema:"research question the report answers"`
	Report string `json:"report" jsonschema:"Markdown report to score"`
}

// Output type (used as structured output for generic AddTool).

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

// Result helpers.

// errorResult builds a CallToolResult with isError set.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: err.Error()},
		},
		IsError: true,
	}, ToolOutput{}, nil
}

// jsonResult builds a CallToolResult with JSON-encoded content.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Data: value}, nil
}

// validateResearchInput checks scout_research input constraints.
func validateResearchInput(query string, maxCost float64) error {
	if query == "" {
		return ErrEmptyQuery
	}

	if maxCost < 0 {
		return fmt.Errorf("%w: %.2f", ErrNegativeMaxCost, maxCost)
	}

	return nil
}

// validateRunID checks that a run identifier has the canonical shape.
func validateRunID(runID string) error {
	if !checkpoint.ValidRunID(runID) {
		return fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}

	return nil
}

// validateEvaluateInput checks scout_evaluate input constraints.
func validateEvaluateInput(query, report string) error {
	if query == "" {
		return ErrEmptyQuery
	}

	if report == "" {
		return ErrEmptyReport
	}

	if len(report) > MaxReportInputBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrReportTooLarge, len(report), MaxReportInputBytes)
	}

	return nil
}
