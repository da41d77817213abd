package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// Table is an ad-hoc Tabular.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable creates a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// Append adds a row.
func (t *Table) Append(cells ...string) { t.rows = append(t.rows, cells) }

func (t *Table) Headers() []string { return t.headers }
func (t *Table) Rows() [][]string  { return t.rows }

// WriteTable renders t as borderless, left-aligned columns.
func WriteTable(w io.Writer, t Tabular) error {
	tw := newWriter(w, "")
	tw.SetHeader(t.Headers())
	tw.SetAutoFormatHeaders(true)
	tw.AppendBulk(t.Rows())
	tw.Render()
	return nil
}

// WriteFields renders label/value pairs as "label:value" lines.
func WriteFields(w io.Writer, fields [][2]string) error {
	tw := newWriter(w, ":")
	tw.SetAutoFormatHeaders(false)
	for _, f := range fields {
		tw.Append([]string{f[0], f[1]})
	}
	tw.Render()
	return nil
}

func newWriter(w io.Writer, colSep string) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetAutoWrapText(false)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetCenterSeparator("")
	tw.SetColumnSeparator(colSep)
	tw.SetRowSeparator("")
	tw.SetHeaderLine(false)
	tw.SetBorder(false)
	tw.SetTablePadding("  ")
	tw.SetNoWhiteSpace(true)
	return tw
}
