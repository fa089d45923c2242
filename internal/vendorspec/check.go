package vendorspec

import (
	"github.com/rotisserie/eris"
)

// Check verifies a format's internal consistency. An inconsistent spec is a
// contract error: it must fail loudly here, never silently corrupt data at
// extraction time.
func Check(f *Format) error {
	if f.ID == "" {
		return eris.New("format id is required")
	}
	if f.Version == "" {
		return eris.Errorf("format %s: version is required", f.ID)
	}
	if f.Reseller == "" {
		return eris.Errorf("format %s: reseller is required", f.ID)
	}
	if f.Currency == "" {
		return eris.Errorf("format %s: currency is required", f.ID)
	}

	if len(f.Detect.FilenameTokens) == 0 && len(f.Detect.SheetNames) == 0 && len(f.Detect.HeaderKeywords) == 0 {
		return eris.Errorf("format %s: no detection signals declared", f.ID)
	}

	if f.Layout.HeaderRows < 1 || f.Layout.HeaderRows > 3 {
		return eris.Errorf("format %s: header_rows must be 1..3, got %d", f.ID, f.Layout.HeaderRows)
	}
	if f.Layout.LabelRow < 0 || f.Layout.LabelRow >= f.Layout.HeaderRows {
		return eris.Errorf("format %s: label_row %d outside header rows", f.ID, f.Layout.LabelRow)
	}

	switch f.Layout.Shape {
	case ShapeRow:
	case ShapeRowPair:
		if len(f.Layout.PairMetaFields) == 0 {
			return eris.Errorf("format %s: row_pair shape requires pair_meta_fields", f.ID)
		}
	case ShapeStacked:
		if f.Layout.SectionPrefix == "" {
			return eris.Errorf("format %s: stacked shape requires section_prefix", f.ID)
		}
	default:
		return eris.Errorf("format %s: unknown shape %q", f.ID, f.Layout.Shape)
	}

	seen := make(map[string]bool, len(f.Fields))
	for _, rule := range f.Fields {
		if rule.Name == "" {
			return eris.Errorf("format %s: field rule with empty name", f.ID)
		}
		if seen[rule.Name] {
			return eris.Errorf("format %s: duplicate field rule %q", f.ID, rule.Name)
		}
		seen[rule.Name] = true

		if rule.Column < 0 && rule.Header == "" {
			return eris.Errorf("format %s: field %q has neither column nor header", f.ID, rule.Name)
		}
		if rule.OnMissing == NullDefault && rule.Default == "" {
			return eris.Errorf("format %s: field %q uses default policy without a default", f.ID, rule.Name)
		}
		switch rule.OnMissing {
		case "", NullReject, NullDefault, NullZero:
		default:
			return eris.Errorf("format %s: field %q has unknown null policy %q", f.ID, rule.Name, rule.OnMissing)
		}
	}

	if !seen[FieldProductEAN] && !seen[FieldProductName] {
		return eris.Errorf("format %s: needs a product_ean or product_name rule", f.ID)
	}

	hasQty := seen[FieldQuantity] || f.MultiStore()
	hasAmt := seen[FieldAmount] || f.MultiStore()
	if !hasQty && !hasAmt {
		return eris.Errorf("format %s: needs a quantity or amount source", f.ID)
	}

	if f.Layout.KeyField != "" && !seen[f.Layout.KeyField] {
		return eris.Errorf("format %s: key_field %q has no field rule", f.ID, f.Layout.KeyField)
	}
	for _, name := range f.Layout.PairMetaFields {
		if !seen[name] {
			return eris.Errorf("format %s: pair_meta_field %q has no field rule", f.ID, name)
		}
	}

	if f.Stores != nil {
		if len(f.Stores.Blocks) == 0 && f.Stores.KeepLabel == "" {
			return eris.Errorf("format %s: stores declared with neither blocks nor discovery labels", f.ID)
		}
		if f.Stores.KeepLabel != "" {
			if f.Stores.StoreRow >= f.Layout.HeaderRows || f.Stores.LabelRow >= f.Layout.HeaderRows {
				return eris.Errorf("format %s: store discovery rows outside header rows", f.ID)
			}
			if f.Stores.QuantityLabel == "" {
				return eris.Errorf("format %s: store discovery requires quantity_label", f.ID)
			}
		}
		for _, b := range f.Stores.Blocks {
			if b.Name == "" {
				return eris.Errorf("format %s: store block with empty name", f.ID)
			}
			if b.QuantityCol < 0 {
				return eris.Errorf("format %s: store %q has negative quantity_col", f.ID, b.Name)
			}
		}
	}

	// Some date source must exist unless the format explicitly opts in to
	// defaulting to the upload date.
	hasDate := seen[FieldDate] || (seen[FieldMonth] && seen[FieldYear]) ||
		f.Date.FilenamePattern != "" || f.Date.UseUploadDate
	if !hasDate {
		return eris.Errorf("format %s: no date source (date column, month+year, filename pattern, or explicit upload-date opt-in)", f.ID)
	}
	if f.Date.DayOfMonth < 0 || f.Date.DayOfMonth > 28 {
		return eris.Errorf("format %s: day_of_month must be 0..28, got %d", f.ID, f.Date.DayOfMonth)
	}

	return nil
}
