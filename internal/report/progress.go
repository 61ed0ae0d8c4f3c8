// Package report renders the human-facing artifacts of a research run: the
// live progress.md transcript, the final Markdown report with its citation
// index, the metadata sidecar, structural quality checks, and the cost
// timeline chart.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/scout/internal/persist"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// ProgressFilename is the progress transcript file name inside a run directory.
const ProgressFilename = "progress.md"

// startedLayout formats the header timestamp at minute resolution.
const startedLayout = "2006-01-02 15:04"

// ProgressWriter appends to a run's progress.md. The file is append-only:
// sections accumulate as subtopics finish, so a human tailing the file (or a
// resumed run inspecting it) always sees everything written so far. Appends
// are best-effort; a failed write never fails the run.
type ProgressWriter struct {
	path string
	now  func() time.Time
}

// NewProgressWriter returns a writer for the progress file in dir.
func NewProgressWriter(dir string) *ProgressWriter {
	return &ProgressWriter{
		path: filepath.Join(dir, ProgressFilename),
		now:  time.Now,
	}
}

// Path returns the progress file location.
func (p *ProgressWriter) Path() string {
	return p.path
}

// EnsureHeader writes the title block if the file does not exist yet.
// Resumed runs keep their original header and the sections below it.
func (p *ProgressWriter) EnsureHeader(query string) error {
	info, err := os.Stat(p.path)
	if err == nil && info.Size() > 0 {
		return nil
	}

	started := p.now().UTC().Format(startedLayout)
	header := fmt.Sprintf("# %s\n\n*Research in progress. Started %s UTC.*\n\n", query, started)

	return p.appendString(header)
}

// AppendSubtopic writes one finished subtopic as a section: the summary
// text, key findings as bullets, cited sources as bullets, and a rule.
func (p *ProgressWriter) AppendSubtopic(sum state.SubtopicSummary) error {
	var b strings.Builder

	fmt.Fprintf(&b, "\n## %s\n\n%s\n", sum.Title, sum.Summary)

	if len(sum.KeyFindings) > 0 {
		b.WriteString("\n**Key Findings:**\n")

		for _, f := range sum.KeyFindings {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	if len(sum.Citations) > 0 {
		b.WriteString("\n**Sources:**\n")

		for _, c := range sum.Citations {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	b.WriteString("\n---\n")

	return p.appendString(b.String())
}

// AppendErrorNote records a non-fatal failure as a blockquote so the
// transcript shows where the run degraded.
func (p *ProgressWriter) AppendErrorNote(node, message string) error {
	return p.appendString(fmt.Sprintf("\n> **Note:** Error in *%s* step: %s\n\n", node, message))
}

// AppendStatus writes a one-line italic status marker (run finished,
// budget exhausted, shutdown requested).
func (p *ProgressWriter) AppendStatus(message string) error {
	return p.appendString(fmt.Sprintf("\n*%s*\n", message))
}

// SubtopicCount reports how many subtopic sections the file holds. A
// resumed run uses it to avoid re-appending sections it already wrote.
func (p *ProgressWriter) SubtopicCount() (int, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("read progress file: %w", err)
	}

	count := 0

	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "## ") {
			count++
		}
	}

	return count, nil
}

func (p *ProgressWriter) appendString(s string) error {
	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, persist.FilePerm)
	if err != nil {
		return fmt.Errorf("open progress file: %w", err)
	}

	_, writeErr := f.WriteString(s)

	closeErr := f.Close()

	if writeErr != nil {
		return fmt.Errorf("append progress: %w", writeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close progress file: %w", closeErr)
	}

	return nil
}
