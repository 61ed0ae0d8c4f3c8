package plan

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/Sumatoshi-tech/scout/internal/state"
)

// DiffSummary compares two plans line-by-line and returns a compact
// description suitable for an event payload, like
// "3 -> 4 subtopics, +2/-1 lines".
func DiffSummary(before, after []state.Subtopic) string {
	dmp := diffmatchpatch.New()

	src, dst, lines := dmp.DiffLinesToChars(listing(before), listing(after))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(src, dst, false), lines)

	var added, removed int

	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")

		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		case diffmatchpatch.DiffEqual:
		}
	}

	return fmt.Sprintf("%d -> %d subtopics, +%d/-%d lines",
		len(before), len(after), added, removed)
}
