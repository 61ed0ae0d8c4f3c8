package report

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/scout/internal/persist"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

const (
	// maxSlugLen caps the query-derived part of a report filename.
	maxSlugLen = 80
	// fallbackSlug names reports whose query sanitizes to nothing.
	fallbackSlug = "report"
	// timestampLayout disambiguates repeated runs of the same query.
	timestampLayout = "20060102_150405"
	// metaSuffix is appended to the report filename for the sidecar.
	metaSuffix = ".meta.json"
)

var (
	slugDropRE = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	slugGapRE  = regexp.MustCompile(`\s+`)
)

// SanitizeFilename turns a research query into a filesystem-safe slug:
// lowercased, punctuation stripped, whitespace collapsed to hyphens,
// truncated to 80 runes.
func SanitizeFilename(query string) string {
	s := strings.ToLower(query)
	s = slugDropRE.ReplaceAllString(s, "")
	s = slugGapRE.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")

	if r := []rune(s); len(r) > maxSlugLen {
		s = strings.TrimRight(string(r[:maxSlugLen]), "-")
	}

	if s == "" {
		return fallbackSlug
	}

	return s
}

// Meta is the sidecar written next to a report file.
type Meta struct {
	Query       string `json:"query"`
	GeneratedAt string `json:"generated_at"`
	WordCount   int    `json:"word_count"`
	Filename    string `json:"filename"`
}

// Output locates a written report and its sidecar.
type Output struct {
	Path     string
	MetaPath string
	Filename string
}

// Writer persists synthesized reports into an output directory.
type Writer struct {
	dir string
	now func() time.Time
}

// NewWriter returns a report writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, now: time.Now}
}

// Write stores the report body as {slug}_{timestamp}.md plus a
// {name}.md.meta.json sidecar. Both writes are atomic; the sidecar is
// written second so its presence implies a complete report.
func (w *Writer) Write(query, body string) (*Output, error) {
	if err := os.MkdirAll(w.dir, persist.DirPerm); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}

	now := w.now().UTC()
	name := fmt.Sprintf("%s_%s.md", SanitizeFilename(query), now.Format(timestampLayout))
	path := filepath.Join(w.dir, name)

	if err := persist.WriteFileAtomic(path, []byte(body), persist.FilePerm); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}

	meta := Meta{
		Query:       query,
		GeneratedAt: state.FormatTime(now),
		WordCount:   len(strings.Fields(body)),
		Filename:    name,
	}

	data, err := persist.MarshalStable(meta)
	if err != nil {
		return nil, fmt.Errorf("encode report meta: %w", err)
	}

	metaPath := path + metaSuffix

	if err := persist.WriteFileAtomic(metaPath, data, persist.FilePerm); err != nil {
		return nil, fmt.Errorf("write report meta: %w", err)
	}

	return &Output{Path: path, MetaPath: metaPath, Filename: name}, nil
}
