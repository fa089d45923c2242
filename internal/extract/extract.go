// Package extract walks a workbook according to a vendor format's
// declarative layout rules and yields raw records. One generalized engine
// serves the whole vendor library; there are no per-vendor code paths.
package extract

import (
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/vendorspec"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/xlsxio"
)

// ErrNoData marks a workbook whose target sheet carries nothing to extract.
// Callers can tell it apart from a format that does not fit the file.
var ErrNoData = eris.New("extract: no data rows")

// Extract yields one RawRecord per logical record (per product row × store
// for multi-store layouts). A failure on one row is emitted as a record with
// Err set and never aborts the file; only input-level problems (missing
// sheet, empty sheet, a spec that does not fit the file) return an error.
func Extract(wb *xlsxio.Workbook, f *vendorspec.Format) ([]model.RawRecord, error) {
	sheet := wb.First()
	if f.Layout.Sheet != "" {
		sheet = wb.Sheet(f.Layout.Sheet)
		if sheet == nil {
			return nil, eris.Errorf("extract: sheet %q not found in %s", f.Layout.Sheet, wb.Filename)
		}
	}
	if sheet.Empty() {
		return nil, eris.Wrapf(ErrNoData, "sheet %q is empty", sheet.Name)
	}
	if len(sheet.Rows) <= f.Layout.HeaderRows {
		return nil, eris.Wrapf(ErrNoData, "sheet %q has no data rows below the header", sheet.Name)
	}

	headers := composeHeaders(sheet, f)

	cols, err := resolveColumns(f, headers)
	if err != nil {
		return nil, err
	}

	stores, err := resolveStores(f, headers)
	if err != nil {
		return nil, err
	}

	w := walker{sheet: sheet, format: f, cols: cols, stores: stores}

	var records []model.RawRecord
	switch f.Layout.Shape {
	case vendorspec.ShapeRowPair:
		records = w.walkPairs()
	case vendorspec.ShapeStacked:
		records = w.walkStacked()
	default:
		records = w.walkRows()
	}

	zap.L().Debug("extract: done",
		zap.String("format", f.ID),
		zap.String("sheet", sheet.Name),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// composeHeaders returns the header grid with merged-cell propagation
// applied: a blank header cell inherits the last non-blank value seen to its
// left in the same row, which is how merged groups surface in the raw grid.
func composeHeaders(sheet *xlsxio.Sheet, f *vendorspec.Format) [][]string {
	width := 0
	scan := len(sheet.Rows)
	if scan > f.Layout.HeaderRows+16 {
		scan = f.Layout.HeaderRows + 16
	}
	for _, row := range sheet.Rows[:scan] {
		if len(row) > width {
			width = len(row)
		}
	}

	headers := make([][]string, f.Layout.HeaderRows)
	for i := 0; i < f.Layout.HeaderRows; i++ {
		headers[i] = make([]string, width)
		last := ""
		for c := 0; c < width; c++ {
			v := sheet.Cell(i, c)
			if v != "" {
				last = v
			} else if f.Layout.MergedCarry {
				v = last
			}
			headers[i][c] = v
		}
	}
	return headers
}

// resolveColumns maps every field rule to a concrete column index. A rule
// that cannot be resolved is a contract error on the format, not a data
// error.
func resolveColumns(f *vendorspec.Format, headers [][]string) (map[string]int, error) {
	labels := headers[f.Layout.LabelRow]
	cols := make(map[string]int, len(f.Fields))

	for _, rule := range f.Fields {
		if rule.Column >= 0 {
			cols[rule.Name] = rule.Column
			continue
		}
		idx := findHeader(labels, rule.Header)
		if idx < 0 {
			return nil, eris.Errorf("extract: format %s: header %q for field %q not found", f.ID, rule.Header, rule.Name)
		}
		cols[rule.Name] = idx
	}
	return cols, nil
}

func findHeader(labels []string, want string) int {
	w := strings.ToLower(strings.TrimSpace(want))
	// Exact match wins over substring so "Qty" cannot shadow "Budget Qty".
	for i, l := range labels {
		if strings.ToLower(strings.TrimSpace(l)) == w {
			return i
		}
	}
	for i, l := range labels {
		if strings.Contains(strings.ToLower(l), w) {
			return i
		}
	}
	return -1
}

// resolveStores returns the per-store quantity/amount column blocks, either
// declared explicitly or discovered from the header grid by section label.
func resolveStores(f *vendorspec.Format, headers [][]string) ([]vendorspec.StoreBlock, error) {
	if f.Stores == nil {
		return nil, nil
	}
	if len(f.Stores.Blocks) > 0 {
		return f.Stores.Blocks, nil
	}

	storeRow := headers[f.Stores.StoreRow]
	labelRow := headers[f.Stores.LabelRow]
	keep := strings.ToLower(f.Stores.KeepLabel)
	qtyLabel := strings.ToLower(f.Stores.QuantityLabel)
	amtLabel := strings.ToLower(f.Stores.AmountLabel)

	blocks := make(map[string]*vendorspec.StoreBlock)
	var order []string

	for c := 0; c < len(labelRow); c++ {
		label := strings.ToLower(labelRow[c])
		if !strings.Contains(label, keep) {
			continue
		}
		store := strings.TrimSpace(storeRow[c])
		if store == "" {
			continue
		}
		b, ok := blocks[store]
		if !ok {
			b = &vendorspec.StoreBlock{Name: store, QuantityCol: -1, AmountCol: -1}
			blocks[store] = b
			order = append(order, store)
		}
		switch {
		case strings.Contains(label, qtyLabel):
			b.QuantityCol = c
		case amtLabel != "" && strings.Contains(label, amtLabel):
			b.AmountCol = c
		}
	}

	if len(order) == 0 {
		return nil, eris.Errorf("extract: format %s: no %q store columns found in header", f.ID, f.Stores.KeepLabel)
	}

	out := make([]vendorspec.StoreBlock, 0, len(order))
	for _, name := range order {
		b := blocks[name]
		if b.QuantityCol < 0 {
			return nil, eris.Errorf("extract: format %s: store %q has no %q column", f.ID, name, f.Stores.QuantityLabel)
		}
		out = append(out, *b)
	}
	return out, nil
}
