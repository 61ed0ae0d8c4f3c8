package commands

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

// newTable returns a writer in the house style: light rules, no border,
// no column separators.
func newTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false

	return tbl
}
