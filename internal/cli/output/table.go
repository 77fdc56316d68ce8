package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// Tabular is implemented by results that have a table form.
type Tabular interface {
	Headers() []string
	Rows() [][]string
}

// Table is an ad-hoc Tabular.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable creates a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// Add appends a row.
func (t *Table) Add(cells ...string) *Table {
	t.rows = append(t.rows, cells)
	return t
}

func (t *Table) Headers() []string { return t.headers }
func (t *Table) Rows() [][]string  { return t.rows }

// Fields is a two-column key/value listing rendered without headers.
type Fields [][2]string

func (f Fields) Headers() []string { return nil }

func (f Fields) Rows() [][]string {
	rows := make([][]string, len(f))
	for i, kv := range f {
		rows[i] = []string{kv[0] + ":", kv[1]}
	}
	return rows
}

// renderTable prints t borderless with left-aligned columns.
func renderTable(w io.Writer, t Tabular) {
	tw := tablewriter.NewWriter(w)
	if h := t.Headers(); len(h) > 0 {
		tw.SetHeader(h)
		tw.SetAutoFormatHeaders(true)
		tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		tw.SetHeaderLine(false)
	}
	tw.SetAutoWrapText(false)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetBorder(false)
	tw.SetCenterSeparator("")
	tw.SetColumnSeparator("")
	tw.SetRowSeparator("")
	tw.SetTablePadding("  ")
	tw.SetNoWhiteSpace(true)
	tw.AppendBulk(t.Rows())
	tw.Render()
}
