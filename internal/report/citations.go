package report

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Sumatoshi-tech/scout/internal/state"
)

// citationRE matches inline references in a report body: [3] or [Source 3].
var citationRE = regexp.MustCompile(`\[(?:Source\s+)?(\d+)\]`)

// Citation is one numbered entry in the report's source index.
type Citation struct {
	Number int
	URL    string
}

// Index maps every cited URL to a stable 1-based number. Numbers follow
// first appearance across summaries, so the same URL cited by two subtopics
// gets one entry.
type Index struct {
	list  []Citation
	byURL map[string]int
}

// BuildIndex collects the citations of all summaries, in order, deduplicated.
func BuildIndex(summaries []state.SubtopicSummary) *Index {
	ix := &Index{byURL: make(map[string]int)}

	for _, sum := range summaries {
		for _, url := range sum.Citations {
			if url == "" {
				continue
			}

			if _, seen := ix.byURL[url]; seen {
				continue
			}

			n := len(ix.list) + 1
			ix.list = append(ix.list, Citation{Number: n, URL: url})
			ix.byURL[url] = n
		}
	}

	return ix
}

// Citations returns the indexed entries in numbering order.
func (ix *Index) Citations() []Citation {
	return ix.list
}

// Len reports how many sources the index holds.
func (ix *Index) Len() int {
	return len(ix.list)
}

// NumberFor returns the number assigned to url.
func (ix *Index) NumberFor(url string) (int, bool) {
	n, ok := ix.byURL[url]

	return n, ok
}

// URLFor returns the URL behind a citation number.
func (ix *Index) URLFor(n int) (string, bool) {
	if n < 1 || n > len(ix.list) {
		return "", false
	}

	return ix.list[n-1].URL, true
}

// SourceList renders the numbered sources for a synthesis prompt, one
// "[n] url" per line.
func (ix *Index) SourceList() string {
	var b strings.Builder

	for _, c := range ix.list {
		fmt.Fprintf(&b, "[%d] %s\n", c.Number, c.URL)
	}

	return b.String()
}

// SourcesSection renders the Sources section appended to the final report.
func (ix *Index) SourcesSection() string {
	if len(ix.list) == 0 {
		return ""
	}

	return "\n\n## Sources\n\n" + ix.SourceList()
}

// ReferenceCheck describes how a report body uses the citation index.
type ReferenceCheck struct {
	// Referenced holds the distinct citation numbers found in the body,
	// ascending.
	Referenced []int
	// OutOfRange holds referenced numbers with no index entry. These are
	// model hallucinations and fail validation.
	OutOfRange []int
	// Unreferenced holds indexed URLs the body never cites. Flagged but
	// not fatal; the source still appears in the Sources section.
	Unreferenced []string
}

// OK reports whether every reference resolves to an index entry.
func (rc ReferenceCheck) OK() bool {
	return len(rc.OutOfRange) == 0
}

// ValidateReferences scans body (before the Sources section is appended)
// for [n] markers and checks each against the index.
func ValidateReferences(body string, ix *Index) ReferenceCheck {
	seen := make(map[int]bool)

	for _, m := range citationRE.FindAllStringSubmatch(body, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		seen[n] = true
	}

	check := ReferenceCheck{}

	for n := range seen {
		check.Referenced = append(check.Referenced, n)

		if _, ok := ix.URLFor(n); !ok {
			check.OutOfRange = append(check.OutOfRange, n)
		}
	}

	sort.Ints(check.Referenced)
	sort.Ints(check.OutOfRange)

	for _, c := range ix.Citations() {
		if !seen[c.Number] {
			check.Unreferenced = append(check.Unreferenced, c.URL)
		}
	}

	return check
}

// CoverageGapsSection renders a section naming subtopics that never reached
// done status, so a degraded report states what it does not cover. Returns
// "" when every subtopic finished.
func CoverageGapsSection(st *state.ResearchState) string {
	unfinished := st.UnfinishedSubtopicIDs()
	if len(unfinished) == 0 {
		return ""
	}

	var b strings.Builder

	b.WriteString("\n\n## Coverage Gaps\n\nThe following subtopics could not be fully researched:\n\n")

	for _, id := range unfinished {
		sub := st.SubtopicByID(id)
		if sub == nil {
			continue
		}

		fmt.Fprintf(&b, "- %s (%s)\n", sub.Title, sub.Status)
	}

	return b.String()
}
