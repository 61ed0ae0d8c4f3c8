// Package eventlog provides the append-only JSONL event log that records
// every step of a research run. One log per run; appends flush to the OS
// buffer before returning, with no fsync on the hot path. Durability of the
// log is best-effort; checkpoints are the recovery source of truth.
package eventlog

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Filename is the event log file name inside a run directory.
const Filename = "events.jsonl"

// Type enumerates the recorded event kinds.
type Type string

// Event kinds.
const (
	NodeEnter         Type = "node_enter"
	NodeExit          Type = "node_exit"
	Error             Type = "error"
	BudgetTick        Type = "budget_tick"
	TierChange        Type = "tier_change"
	CheckpointWritten Type = "checkpoint_written"
	PlanEdited        Type = "plan_edited"
)

// Event is one log line. Payload keys serialize in sorted order.
type Event struct {
	TS       string         `json:"ts"`
	StepID   string         `json:"step_id"`
	ParentID string         `json:"parent_id,omitempty"`
	Event    Type           `json:"event"`
	Node     string         `json:"node"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// NewStepID returns a fresh step id of the form "{node}-{8 hex}".
func NewStepID(node string) string {
	u := uuid.New()

	return node + "-" + hex.EncodeToString(u[:4])
}

// filePerm is the permission for the event log file.
const filePerm = 0o600

// Writer appends events to a run's log file. Safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	f  *os.File
}

// OpenWriter opens (creating if needed) the event log at path for appending.
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	return &Writer{f: f}, nil
}

// Append serializes ev as one JSON line and writes it. An empty TS is
// stamped with the current instant. The single write call hands the line to
// the OS buffer; a crash can truncate at most the final line.
func (w *Writer) Append(ev Event) error {
	if ev.TS == "" {
		ev.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	_, writeErr := w.f.Write(line)
	if writeErr != nil {
		return fmt.Errorf("append event: %w", writeErr)
	}

	return nil
}

// Emit builds and appends an event, returning its step id for chaining.
func (w *Writer) Emit(kind Type, node, parentID string, payload map[string]any) (string, error) {
	stepID := NewStepID(node)

	err := w.Append(Event{
		StepID:   stepID,
		ParentID: parentID,
		Event:    kind,
		Node:     node,
		Payload:  payload,
	})
	if err != nil {
		return "", err
	}

	return stepID, nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.f.Close()
	if err != nil {
		return fmt.Errorf("close event log: %w", err)
	}

	return nil
}
