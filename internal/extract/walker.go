package extract

import (
	"strings"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/vendorspec"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/xlsxio"
)

// walker iterates the data region of one sheet under one format.
type walker struct {
	sheet  *xlsxio.Sheet
	format *vendorspec.Format
	cols   map[string]int
	stores []vendorspec.StoreBlock
}

// walkRows handles the one-row-per-record shape.
func (w *walker) walkRows() []model.RawRecord {
	var out []model.RawRecord
	for i := w.format.Layout.HeaderRows; i < len(w.sheet.Rows); i++ {
		if w.skipRow(i) {
			continue
		}
		out = append(out, w.emit(i, i, "")...)
	}
	return out
}

// walkPairs handles the metadata-row + data-row shape. The pair's fields
// listed in PairMetaFields are read from the first row, everything else from
// the second. An unpaired trailing metadata row is a row-level failure, not
// a file failure.
func (w *walker) walkPairs() []model.RawRecord {
	meta := make(map[string]bool, len(w.format.Layout.PairMetaFields))
	for _, name := range w.format.Layout.PairMetaFields {
		meta[name] = true
	}

	var out []model.RawRecord
	i := w.format.Layout.HeaderRows
	for i < len(w.sheet.Rows) {
		if w.skipRow(i) {
			i++
			continue
		}
		if i+1 >= len(w.sheet.Rows) {
			out = append(out, model.RawRecord{
				Row: i + 1,
				Err: "metadata row has no matching data row",
			})
			break
		}

		fields := make(map[string]string, len(w.cols))
		for name, col := range w.cols {
			src := i + 1
			if meta[name] {
				src = i
			}
			fields[name] = w.sheet.Cell(src, col)
		}
		out = append(out, model.RawRecord{Fields: fields, Row: i + 1})
		i += 2
	}
	return out
}

// walkStacked handles vertically stacked sections. A row whose key cell
// starts with the section prefix names the store for the rows below it.
func (w *walker) walkStacked() []model.RawRecord {
	keyCol := w.keyColumn()
	prefix := w.format.Layout.SectionPrefix

	var out []model.RawRecord
	store := ""
	for i := w.format.Layout.HeaderRows; i < len(w.sheet.Rows); i++ {
		key := w.sheet.Cell(i, keyCol)
		if strings.HasPrefix(key, prefix) {
			store = strings.TrimSpace(strings.TrimPrefix(key, prefix))
			continue
		}
		// Sections may repeat the header row; drop an exact label repeat.
		if w.isHeaderEcho(i) {
			continue
		}
		if w.skipRow(i) {
			continue
		}
		out = append(out, w.emit(i, i, store)...)
	}
	return out
}

// emit produces the record(s) for one qualified data row: a single record
// for single-block layouts, one per store block otherwise.
func (w *walker) emit(row, dataRow int, store string) []model.RawRecord {
	base := make(map[string]string, len(w.cols))
	for name, col := range w.cols {
		base[name] = w.sheet.Cell(dataRow, col)
	}

	if len(w.stores) == 0 {
		return []model.RawRecord{{Fields: base, Row: row + 1, Store: store}}
	}

	var out []model.RawRecord
	for _, b := range w.stores {
		qty := w.sheet.Cell(dataRow, b.QuantityCol)
		amt := ""
		if b.AmountCol >= 0 {
			amt = w.sheet.Cell(dataRow, b.AmountCol)
		}
		if qty == "" && amt == "" {
			// This store sold nothing on this product row.
			continue
		}

		fields := make(map[string]string, len(base)+2)
		for k, v := range base {
			fields[k] = v
		}
		fields[vendorspec.FieldQuantity] = qty
		fields[vendorspec.FieldAmount] = amt

		out = append(out, model.RawRecord{Fields: fields, Row: row + 1, Store: b.Name})
	}
	return out
}

func (w *walker) keyColumn() int {
	if w.format.Layout.KeyField == "" {
		return 0
	}
	if col, ok := w.cols[w.format.Layout.KeyField]; ok {
		return col
	}
	return 0
}

// skipRow evaluates the format's row-qualification predicates: blank key
// cell, summary markers, and all-zero numeric rows are noise.
func (w *walker) skipRow(row int) bool {
	skip := w.format.Skip
	keyCol := w.keyColumn()
	key := w.sheet.Cell(row, keyCol)

	if skip.EmptyKey && key == "" {
		return true
	}

	upperKey := strings.ToUpper(strings.TrimSpace(key))
	for _, marker := range skip.Markers {
		if upperKey == strings.ToUpper(marker) || strings.HasPrefix(upperKey, strings.ToUpper(marker)) {
			return true
		}
	}

	if skip.AllZeroNumeric && w.allNumericZero(row) {
		return true
	}
	return false
}

// allNumericZero reports whether every quantity/amount cell on the row is
// empty or zero.
func (w *walker) allNumericZero(row int) bool {
	cells := w.numericCells(row)
	if len(cells) == 0 {
		return false
	}
	for _, v := range cells {
		if !zeroish(v) {
			return false
		}
	}
	return true
}

func (w *walker) numericCells(row int) []string {
	var cells []string
	if len(w.stores) > 0 {
		for _, b := range w.stores {
			cells = append(cells, w.sheet.Cell(row, b.QuantityCol))
			if b.AmountCol >= 0 {
				cells = append(cells, w.sheet.Cell(row, b.AmountCol))
			}
		}
		return cells
	}
	for _, name := range []string{vendorspec.FieldQuantity, vendorspec.FieldAmount} {
		if col, ok := w.cols[name]; ok {
			cells = append(cells, w.sheet.Cell(row, col))
		}
	}
	return cells
}

func zeroish(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	for _, r := range s {
		switch r {
		case '0', '.', ',', '-', ' ':
		default:
			return false
		}
	}
	return true
}

// isHeaderEcho reports whether the row repeats the column labels, which
// stacked layouts do at the top of each section.
func (w *walker) isHeaderEcho(row int) bool {
	matches := 0
	for _, rule := range w.format.Fields {
		if rule.Header == "" {
			continue
		}
		col := w.cols[rule.Name]
		if strings.EqualFold(w.sheet.Cell(row, col), strings.TrimSpace(rule.Header)) {
			matches++
		}
	}
	return matches >= 2
}
