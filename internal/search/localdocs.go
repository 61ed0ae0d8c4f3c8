package search

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/Sumatoshi-tech/scout/internal/retry"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// localMaxFileBytes skips corpus files larger than this.
const localMaxFileBytes = 10 << 20

// xmlTags strips markup from extracted docx XML.
var xmlTags = regexp.MustCompile(`<[^>]+>`)

// LocalDocsProvider searches a directory corpus of md, txt, pdf, docx, and
// xlsx files by term overlap. It exists for air-gapped runs and for
// grounding research in private material.
type LocalDocsProvider struct {
	dir string
}

// NewLocalDocsProvider creates a provider over the given corpus directory.
func NewLocalDocsProvider(dir string) *LocalDocsProvider {
	return &LocalDocsProvider{dir: dir}
}

// Name implements Provider.
func (p *LocalDocsProvider) Name() string { return "localdocs" }

// Search implements Provider. Files that cannot be parsed are skipped.
func (p *LocalDocsProvider) Search(ctx context.Context, query string, maxResults int) ([]state.SearchResult, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var results []state.SearchResult

	walkErr := filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		ctxErr := ctx.Err()
		if ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil || info.Size() > localMaxFileBytes {
			return nil
		}

		text, extractErr := extractLocalFile(path)
		if extractErr != nil || strings.TrimSpace(text) == "" {
			return nil
		}

		score, snippet := scoreText(text, terms)
		if score <= 0 {
			return nil
		}

		abs, absErr := filepath.Abs(path)
		if absErr != nil {
			abs = path
		}

		results = append(results, state.SearchResult{
			URL:     "file://" + filepath.ToSlash(abs),
			Title:   d.Name(),
			Snippet: snippet,
			Score:   score,
		})

		return nil
	})
	if walkErr != nil {
		if os.IsNotExist(walkErr) {
			return nil, retry.Permanent(fmt.Errorf("local docs dir: %w", walkErr))
		}

		return nil, retry.Transient(fmt.Errorf("walk local docs: %w", walkErr))
	}

	sortResultsByScore(results)

	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}

	return results, nil
}

// extractLocalFile pulls plain text out of one corpus file by extension.
func extractLocalFile(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}

		return string(data), nil
	case ".pdf":
		return extractPDF(path)
	case ".docx":
		return extractDocx(path)
	case ".xlsx":
		return extractXlsx(path)
	default:
		return "", nil
	}
}

func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	reader, textErr := r.GetPlainText()
	if textErr != nil {
		return "", fmt.Errorf("extract pdf text: %w", textErr)
	}

	data, readErr := io.ReadAll(reader)
	if readErr != nil {
		return "", fmt.Errorf("read pdf text: %w", readErr)
	}

	return string(data), nil
}

func extractDocx(path string) (string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	content := r.Editable().GetContent()

	return xmlTags.ReplaceAllString(content, " "), nil
}

func extractXlsx(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var sb strings.Builder

	for _, sheet := range f.GetSheetList() {
		rows, rowsErr := f.GetRows(sheet)
		if rowsErr != nil {
			continue
		}

		for _, row := range rows {
			sb.WriteString(strings.Join(row, " "))
			sb.WriteByte('\n')
		}
	}

	return sb.String(), nil
}

// queryTerms lowercases and tokenizes a query, dropping short stopword-ish
// tokens.
func queryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})

	var terms []string

	for _, f := range fields {
		if len(f) >= 3 {
			terms = append(terms, f)
		}
	}

	return terms
}

// scoreText rates how well the text covers the query terms: the covered
// fraction dominates, with a small bonus for repeated hits. Returns a score
// in [0,1] and a snippet around the first match.
func scoreText(text string, terms []string) (float64, string) {
	lower := strings.ToLower(text)

	matched := 0
	totalHits := 0
	firstIdx := -1

	for _, term := range terms {
		idx := strings.Index(lower, term)
		if idx < 0 {
			continue
		}

		matched++
		totalHits += strings.Count(lower, term)

		if firstIdx < 0 || idx < firstIdx {
			firstIdx = idx
		}
	}

	if matched == 0 {
		return 0, ""
	}

	coverage := float64(matched) / float64(len(terms))

	bonus := float64(totalHits) / 100.0
	if bonus > 0.2 {
		bonus = 0.2
	}

	score := coverage*0.8 + bonus
	if score > 1 {
		score = 1
	}

	return score, snippetAround(text, firstIdx)
}

func snippetAround(text string, idx int) string {
	const radius = 120

	start := idx - radius
	if start < 0 {
		start = 0
	}

	end := idx + radius
	if end > len(text) {
		end = len(text)
	}

	snippet := strings.Join(strings.Fields(text[start:end]), " ")

	return snippet
}
