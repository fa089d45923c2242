package vendorspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFormat() *Format {
	return &Format{
		ID:       "acme",
		Version:  "1",
		Reseller: "ACME",
		Currency: "EUR",
		Detect:   DetectSpec{FilenameTokens: []string{"acme"}},
		Layout: LayoutSpec{
			HeaderRows: 1,
			LabelRow:   0,
			Shape:      ShapeRow,
			KeyField:   FieldProductEAN,
		},
		Fields: []FieldRule{
			{Name: FieldProductEAN, Column: 0},
			{Name: FieldQuantity, Column: 1},
			{Name: FieldAmount, Column: 2},
		},
		Date: DateSpec{UseUploadDate: true},
	}
}

func TestCheck_AcceptsValidFormat(t *testing.T) {
	require.NoError(t, Check(validFormat()))
}

func TestCheck_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Format)
		want   string
	}{
		{"missing id", func(f *Format) { f.ID = "" }, "id is required"},
		{"missing currency", func(f *Format) { f.Currency = "" }, "currency is required"},
		{"no detection signals", func(f *Format) { f.Detect = DetectSpec{} }, "detection signals"},
		{"header rows out of range", func(f *Format) { f.Layout.HeaderRows = 4 }, "header_rows"},
		{"label row outside headers", func(f *Format) { f.Layout.LabelRow = 1 }, "label_row"},
		{"unknown shape", func(f *Format) { f.Layout.Shape = "grid" }, "unknown shape"},
		{"row_pair without meta fields", func(f *Format) { f.Layout.Shape = ShapeRowPair }, "pair_meta_fields"},
		{"stacked without prefix", func(f *Format) { f.Layout.Shape = ShapeStacked }, "section_prefix"},
		{"duplicate field", func(f *Format) {
			f.Fields = append(f.Fields, FieldRule{Name: FieldQuantity, Column: 5})
		}, "duplicate field"},
		{"field without source", func(f *Format) {
			f.Fields[0] = FieldRule{Name: FieldProductEAN, Column: -1}
		}, "neither column nor header"},
		{"default policy without default", func(f *Format) {
			f.Fields[0].OnMissing = NullDefault
		}, "without a default"},
		{"no product rule", func(f *Format) {
			f.Fields = f.Fields[1:]
			f.Layout.KeyField = ""
		}, "product_ean or product_name"},
		{"no quantity or amount", func(f *Format) {
			f.Fields = f.Fields[:1]
		}, "quantity or amount"},
		{"key field without rule", func(f *Format) { f.Layout.KeyField = FieldStore }, "key_field"},
		{"discovery without quantity label", func(f *Format) {
			f.Layout.HeaderRows = 2
			f.Stores = &StoreSpec{KeepLabel: "Actual", StoreRow: 0, LabelRow: 1}
		}, "quantity_label"},
		{"no date source", func(f *Format) { f.Date = DateSpec{} }, "no date source"},
		{"day of month out of range", func(f *Format) { f.Date.DayOfMonth = 30 }, "day_of_month"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := validFormat()
			tc.mutate(f)
			err := Check(f)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestCheck_StoreBlocksSatisfyQuantitySource(t *testing.T) {
	f := validFormat()
	f.Fields = []FieldRule{{Name: FieldProductEAN, Column: 0}}
	f.Stores = &StoreSpec{Blocks: []StoreBlock{{Name: "Flagship", QuantityCol: 1, AmountCol: 2}}}
	require.NoError(t, Check(f))
}
