// Package xlsxio reads XLSX workbooks into plain string grids for the
// sniffer and the layout engine.
package xlsxio

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Sheet is one worksheet flattened to a string grid.
type Sheet struct {
	Name string
	Rows [][]string
}

// Workbook is an uploaded spreadsheet, fully read into memory. Vendor
// exports are small enough (thousands of rows) that streaming buys nothing.
type Workbook struct {
	Filename string
	Sheets   []Sheet
}

// Open reads a workbook from disk.
func Open(path string) (*Workbook, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "xlsxio: open %s", filepath.Base(path))
	}
	return fromFile(f, filepath.Base(path))
}

// OpenBytes reads a workbook from an in-memory buffer.
func OpenBytes(data []byte, filename string) (*Workbook, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrapf(err, "xlsxio: open %s", filename)
	}
	return fromFile(f, filename)
}

func fromFile(f *xlsx.File, filename string) (*Workbook, error) {
	wb := &Workbook{Filename: filename}
	for _, sh := range f.Sheets {
		sheet := Sheet{Name: sh.Name}
		for _, row := range sh.Rows {
			cells := make([]string, len(row.Cells))
			for j, cell := range row.Cells {
				cells[j] = strings.TrimSpace(cell.String())
			}
			sheet.Rows = append(sheet.Rows, cells)
		}
		wb.Sheets = append(wb.Sheets, sheet)
	}
	if len(wb.Sheets) == 0 {
		return nil, eris.Errorf("xlsxio: %s has no sheets", filename)
	}
	return wb, nil
}

// SheetNames returns all worksheet names in order.
func (w *Workbook) SheetNames() []string {
	names := make([]string, len(w.Sheets))
	for i, s := range w.Sheets {
		names[i] = s.Name
	}
	return names
}

// Sheet returns the named worksheet, or nil.
func (w *Workbook) Sheet(name string) *Sheet {
	for i := range w.Sheets {
		if w.Sheets[i].Name == name {
			return &w.Sheets[i]
		}
	}
	return nil
}

// First returns the first worksheet.
func (w *Workbook) First() *Sheet {
	return &w.Sheets[0]
}

// Empty reports whether the sheet holds no non-blank cell.
func (s *Sheet) Empty() bool {
	for _, row := range s.Rows {
		for _, cell := range row {
			if cell != "" {
				return false
			}
		}
	}
	return true
}

// Cell returns the cell at (row, col), empty when out of range. Vendor files
// routinely have ragged rows.
func (s *Sheet) Cell(row, col int) string {
	if row < 0 || row >= len(s.Rows) {
		return ""
	}
	r := s.Rows[row]
	if col < 0 || col >= len(r) {
		return ""
	}
	return r[col]
}
