// Package vendorspec defines the declarative description of one vendor's
// spreadsheet layout. New vendors are onboarded by adding a catalog entry,
// not by writing extraction code.
package vendorspec

// Logical field names the extraction engine emits and the normalizer
// understands. A format's field rules map workbook columns onto these.
const (
	FieldProductEAN  = "product_ean"
	FieldProductName = "product_name"
	FieldQuantity    = "quantity"
	FieldAmount      = "amount"
	FieldDate        = "date"
	FieldMonth       = "month"
	FieldYear        = "year"
	FieldStore       = "store"
	FieldReturnFlag  = "return_flag"
)

// RecordShape describes how logical records map onto sheet rows.
type RecordShape string

const (
	// ShapeRow is one row per record.
	ShapeRow RecordShape = "row"
	// ShapeRowPair is a metadata row followed by a data row per record.
	ShapeRowPair RecordShape = "row_pair"
	// ShapeStacked is vertically stacked sections, each introduced by a
	// section header row naming the store/channel.
	ShapeStacked RecordShape = "stacked"
)

// NullPolicy names what happens when a field's cell is empty.
type NullPolicy string

const (
	// NullReject rejects the row.
	NullReject NullPolicy = "reject"
	// NullDefault substitutes the rule's default value.
	NullDefault NullPolicy = "default"
	// NullZero substitutes zero (numeric fields only).
	NullZero NullPolicy = "zero"
)

// Format is the immutable runtime description of one vendor layout.
type Format struct {
	ID       string `yaml:"id"`
	Version  string `yaml:"version"`
	Reseller string `yaml:"reseller"`
	Currency string `yaml:"currency"` // vendor-local currency code

	Detect DetectSpec  `yaml:"detect"`
	Layout LayoutSpec  `yaml:"layout"`
	Fields []FieldRule `yaml:"fields"`
	Stores *StoreSpec  `yaml:"stores,omitempty"`
	Date   DateSpec    `yaml:"date"`
	Skip   SkipSpec    `yaml:"skip"`
}

// DetectSpec holds the identifying signals the sniffer scores.
type DetectSpec struct {
	FilenameTokens []string `yaml:"filename_tokens"` // case-insensitive substrings
	SheetNames     []string `yaml:"sheet_names"`     // any present counts as a match
	HeaderKeywords []string `yaml:"header_keywords"` // minimum-overlap set
}

// LayoutSpec describes header geometry and record shape.
type LayoutSpec struct {
	Sheet       string      `yaml:"sheet"`        // empty = first sheet
	HeaderRows  int         `yaml:"header_rows"`  // 1..3
	LabelRow    int         `yaml:"label_row"`    // 0-based row (within headers) holding final column labels
	MergedCarry bool        `yaml:"merged_carry"` // propagate last-seen header value across blank cells
	Shape       RecordShape `yaml:"shape"`
	KeyField    string      `yaml:"key_field"` // logical field whose emptiness disqualifies a row
	// Row-pair shapes only: logical fields read from the metadata (first)
	// row; all other fields come from the data (second) row.
	PairMetaFields []string `yaml:"pair_meta_fields,omitempty"`
	// Stacked shapes only: marker identifying a section header row whose key
	// cell carries the store/channel name (e.g. a "Store:" prefix).
	SectionPrefix string `yaml:"section_prefix,omitempty"`
}

// FieldRule maps one logical field to a workbook column. Exactly one of
// Column (>=0) or Header must be set; Header is matched case-insensitively
// against the composed header labels.
type FieldRule struct {
	Name      string     `yaml:"name"`
	Column    int        `yaml:"column"` // -1 = resolve by header
	Header    string     `yaml:"header,omitempty"`
	OnMissing NullPolicy `yaml:"on_missing,omitempty"` // default: reject for key fields, zero for numeric
	Default   string     `yaml:"default,omitempty"`
}

// StoreSpec describes multi-store side-by-side column blocks. Either the
// explicit Blocks list or the discovery rule (StoreRow/KeepLabel) is used.
type StoreSpec struct {
	// Explicit per-store column offsets.
	Blocks []StoreBlock `yaml:"blocks,omitempty"`
	// Discovery: StoreRow is the header row (0-based) holding store names
	// (merged cells carried left-to-right); LabelRow holds the repeating
	// section label; only sub-columns under KeepLabel are kept (e.g.
	// "Actual" kept, "Budget" dropped). QuantityLabel/AmountLabel identify
	// the sub-columns within a kept section.
	StoreRow      int    `yaml:"store_row"`
	LabelRow      int    `yaml:"label_row"`
	KeepLabel     string `yaml:"keep_label,omitempty"`
	QuantityLabel string `yaml:"quantity_label,omitempty"`
	AmountLabel   string `yaml:"amount_label,omitempty"`
}

// StoreBlock is one store's quantity/amount column pair.
type StoreBlock struct {
	Name        string `yaml:"name"`
	QuantityCol int    `yaml:"quantity_col"`
	AmountCol   int    `yaml:"amount_col"`
}

// DateSpec describes how the sale date is resolved, in priority order:
// explicit date column, month+year columns, filename pattern. Defaulting to
// the upload date never happens unless UseUploadDate opts in explicitly.
type DateSpec struct {
	Layout          string `yaml:"layout,omitempty"`           // Go layout for the date column
	FilenamePattern string `yaml:"filename_pattern,omitempty"` // Go layout matched inside the filename
	DayOfMonth      int    `yaml:"day_of_month,omitempty"`     // for month+year resolution; default 1
	UseUploadDate   bool   `yaml:"use_upload_date,omitempty"`  // explicit opt-in fallback
}

// SkipSpec holds row-qualification predicates: rows matching any are noise,
// not data.
type SkipSpec struct {
	EmptyKey       bool     `yaml:"empty_key"`
	Markers        []string `yaml:"markers,omitempty"` // e.g. "TOTAL", case-insensitive, matched in the key column
	AllZeroNumeric bool     `yaml:"all_zero_numeric,omitempty"`
}

// Field returns the rule for a logical field name, or nil.
func (f *Format) Field(name string) *FieldRule {
	for i := range f.Fields {
		if f.Fields[i].Name == name {
			return &f.Fields[i]
		}
	}
	return nil
}

// MultiStore reports whether this format extracts side-by-side store blocks.
func (f *Format) MultiStore() bool {
	return f.Stores != nil && (len(f.Stores.Blocks) > 0 || f.Stores.KeepLabel != "")
}
