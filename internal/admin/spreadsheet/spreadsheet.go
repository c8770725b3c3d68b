// Package spreadsheet reads and writes the single-sheet xlsx workbooks used
// for bulk import and export. Columns are located by header name, so column
// order in uploaded files does not matter.
package spreadsheet

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	dErrors "lagerkoll/pkg/domain-errors"
)

// ContentType is the MIME type of an xlsx workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Column names a field and the header spellings accepted for it. Name is
// also the header written on export.
type Column struct {
	Name     string
	Aliases  []string
	Required bool
}

func (c Column) matches(header string) bool {
	h := normalizeHeader(header)
	if h == normalizeHeader(c.Name) {
		return true
	}
	for _, a := range c.Aliases {
		if h == normalizeHeader(a) {
			return true
		}
	}
	return false
}

func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}

// Table is the data of the first worksheet with its header row resolved.
type Table struct {
	index map[string]int
	rows  [][]string
}

// Read parses the first worksheet of an xlsx workbook. Blank rows are
// skipped; every required column must be present in the header row.
func Read(r io.Reader, columns []Column) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "file is not a valid xlsx workbook")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "workbook has no sheets")
	}
	raw, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "failed to read worksheet")
	}
	if len(raw) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "worksheet is empty")
	}

	t := &Table{index: make(map[string]int, len(columns))}
	for _, col := range columns {
		for i, h := range raw[0] {
			if col.matches(h) {
				t.index[col.Name] = i
				break
			}
		}
		if _, ok := t.index[col.Name]; !ok && col.Required {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("missing column %q", col.Name))
		}
	}
	for _, row := range raw[1:] {
		if blank(row) {
			continue
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Len is the number of data rows.
func (t *Table) Len() int { return len(t.rows) }

// Cell returns the trimmed value of column name in data row i, or "" when
// the column is absent or the row is short.
func (t *Table) Cell(i int, name string) string {
	col, ok := t.index[name]
	if !ok || col >= len(t.rows[i]) {
		return ""
	}
	return strings.TrimSpace(t.rows[i][col])
}

// Write renders a workbook with one sheet: a header row from columns followed
// by rows, then writes it to w.
func Write(w io.Writer, sheet string, columns []Column, rows [][]any) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}
	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c.Name
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	return f.Write(w)
}
