package plan

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/Sumatoshi-tech/scout/internal/state"
)

// Display widths. Titles and descriptions are truncated so one subtopic
// stays readable on a standard terminal.
const (
	queryWidth       = 70
	titleWidth       = 64
	descriptionWidth = 70
)

// render writes the plan for review.
func render(w io.Writer, query string, subs []state.Subtopic) {
	color.New(color.FgCyan, color.Bold).Fprintf(w, "\nResearch plan: %s\n",
		runewidth.Truncate(query, queryWidth, "…"))
	fmt.Fprintf(w, "%d subtopics\n\n", len(subs))

	for _, sub := range subs {
		color.New(color.FgGreen).Fprintf(w, "  %-6s", sub.ID)
		fmt.Fprintf(w, "%s\n", runewidth.Truncate(sub.Title, titleWidth, "…"))

		if sub.Description != "" {
			fmt.Fprintf(w, "        %s\n", runewidth.Truncate(sub.Description, descriptionWidth, "…"))
		}

		if len(sub.SearchQueries) > 0 {
			color.New(color.Faint).Fprintf(w, "        queries: %s\n",
				runewidth.Truncate(strings.Join(sub.SearchQueries, " | "), descriptionWidth, "…"))
		}
	}

	fmt.Fprintln(w)
}

// notice writes a one-line status message between prompts.
func notice(w io.Writer, format string, args ...any) {
	color.New(color.FgYellow).Fprintf(w, format+"\n", args...)
}

// listing is the canonical one-line-per-subtopic text form used for
// change detection and diff summaries.
func listing(subs []state.Subtopic) string {
	var b strings.Builder

	for _, sub := range subs {
		b.WriteString(sub.ID)
		b.WriteString(": ")
		b.WriteString(sub.Title)

		if len(sub.SearchQueries) > 0 {
			b.WriteString(" [")
			b.WriteString(strings.Join(sub.SearchQueries, " | "))
			b.WriteString("]")
		}

		b.WriteString("\n")
	}

	return b.String()
}

// out resolves the review output stream.
func (o Options) out() io.Writer {
	if o.Out != nil {
		return o.Out
	}

	return os.Stdout
}
