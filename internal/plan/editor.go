package plan

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/scout/internal/state"
)

// maxEditedSubtopics bounds a hand-written plan. Looser than the model
// path, which never proposes more than seven.
const maxEditedSubtopics = 20

// editHeader is prepended to the editable YAML so the operator knows the
// contract without reading documentation.
const editHeader = `# Research plan editor.
# Edit the subtopics below: reorder, reword, remove, or add entries.
# Ids are reassigned in order on save, so leave them alone or delete them.
# Delete all entries or save an empty file to cancel the edit.

`

// editableSubtopic is the YAML shape shown to the operator.
type editableSubtopic struct {
	ID          string   `yaml:"id,omitempty"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description,omitempty"`
	Queries     []string `yaml:"queries,omitempty"`
}

// editablePlan wraps the list so the file round-trips as a mapping.
type editablePlan struct {
	Subtopics []editableSubtopic `yaml:"subtopics"`
}

// MarshalEditable renders subtopics as commented YAML for hand editing.
func MarshalEditable(subs []state.Subtopic) ([]byte, error) {
	doc := editablePlan{Subtopics: make([]editableSubtopic, 0, len(subs))}

	for _, sub := range subs {
		doc.Subtopics = append(doc.Subtopics, editableSubtopic{
			ID:          sub.ID,
			Title:       sub.Title,
			Description: sub.Description,
			Queries:     sub.SearchQueries,
		})
	}

	body, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}

	return append([]byte(editHeader), body...), nil
}

// UnmarshalEdited parses the operator's YAML back into subtopics. Entries
// are renumbered st-1..st-N in file order with status reset to pending.
// An empty file is a cancellation; unusable content is ErrEditInvalid.
func UnmarshalEdited(content []byte) ([]state.Subtopic, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, ErrEditCancelled
	}

	var doc editablePlan

	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEditInvalid, err)
	}

	if len(doc.Subtopics) == 0 {
		return nil, ErrEditCancelled
	}

	if len(doc.Subtopics) > maxEditedSubtopics {
		return nil, fmt.Errorf("%w: %d subtopics, max %d",
			ErrEditInvalid, len(doc.Subtopics), maxEditedSubtopics)
	}

	subs := make([]state.Subtopic, 0, len(doc.Subtopics))

	for _, entry := range doc.Subtopics {
		title := strings.TrimSpace(entry.Title)
		if title == "" {
			continue
		}

		subs = append(subs, state.Subtopic{
			ID:            fmt.Sprintf("st-%d", len(subs)+1),
			Title:         title,
			Description:   strings.TrimSpace(entry.Description),
			SearchQueries: cleanQueries(entry.Queries),
			Status:        state.StatusPending,
		})
	}

	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: no usable subtopics", ErrEditInvalid)
	}

	return subs, nil
}

// cleanQueries trims query strings and drops blanks.
func cleanQueries(queries []string) []string {
	var kept []string

	for _, q := range queries {
		if trimmed := strings.TrimSpace(q); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}

	return kept
}

// editInEditor round-trips the plan through the operator's editor: render
// to a temp file, run the editor against it, parse what was saved.
func editInEditor(ctx context.Context, subs []state.Subtopic, opts Options) ([]state.Subtopic, error) {
	content, err := MarshalEditable(subs)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp("", "scout-plan-*.yaml")
	if err != nil {
		return nil, fmt.Errorf("create plan file: %w", err)
	}

	path := tmp.Name()
	defer os.Remove(path)

	if _, err = tmp.Write(content); err != nil {
		tmp.Close()

		return nil, fmt.Errorf("write plan file: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return nil, fmt.Errorf("close plan file: %w", err)
	}

	if err = runEditor(ctx, opts.editor(), path); err != nil {
		return nil, err
	}

	edited, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read edited plan: %w", err)
	}

	return UnmarshalEdited(edited)
}

// runEditor executes the editor command with the plan file appended. The
// editor talks to the real terminal, not the injected review streams.
func runEditor(ctx context.Context, editor, path string) error {
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("%w: no editor configured", ErrEditCancelled)
	}

	cmd := exec.CommandContext(ctx, parts[0], append(parts[1:], path)...) //nolint:gosec // operator-chosen editor
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: editor: %v", ErrEditCancelled, err)
	}

	return nil
}

// editor resolves the editor command: option, $VISUAL, $EDITOR, vi.
func (o Options) editor() string {
	if o.Editor != "" {
		return o.Editor
	}

	if v := os.Getenv("VISUAL"); v != "" {
		return v
	}

	if e := os.Getenv("EDITOR"); e != "" {
		return e
	}

	return "vi"
}
