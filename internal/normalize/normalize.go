// Package normalize converts raw extracted field values into typed,
// currency-unified records. Every fallback (default value, synthesized
// identifier, upload-date) is an explicit policy from the vendor format
// spec, never a silent code-level default.
package normalize

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/vendorspec"
)

// TempIDPrefix marks synthesized product identifiers. The prefix is
// non-numeric, so a synthesized id can never collide with a real EAN.
const TempIDPrefix = "TMP-"

// ProductResolver looks up a vendor-local product name in the
// reseller-specific mapping table.
type ProductResolver interface {
	LookupEAN(ctx context.Context, reseller, productName string) (string, bool, error)
}

// RateProvider supplies a conversion rate from one currency to another for a
// given date. Rate sourcing is an external concern; conversion here is the
// pure amount × rate contract.
type RateProvider interface {
	Rate(ctx context.Context, from, to string, on time.Time) (decimal.Decimal, error)
}

// Config holds normalization policy knobs.
type Config struct {
	ReportingCurrency string
	DecimalPlaces     int32 // rounding applied once, at conversion time, half-even
}

// Normalizer converts RawRecords for one format into NormalizedRecords.
type Normalizer struct {
	cfg      Config
	products ProductResolver
	rates    RateProvider
}

// New creates a Normalizer. products and rates may be nil for formats whose
// files always carry EANs and report in the tenant currency.
func New(cfg Config, products ProductResolver, rates RateProvider) *Normalizer {
	if cfg.DecimalPlaces == 0 {
		cfg.DecimalPlaces = 2
	}
	return &Normalizer{cfg: cfg, products: products, rates: rates}
}

// Normalize converts one raw record. Record-level failures come back as a
// rejected Outcome; only product resolver infrastructure failures are
// returned as errors. A failed rate lookup rejects the row as missing_rate
// rather than failing the job, since one unmapped currency pair should not
// sink an otherwise good file.
func (n *Normalizer) Normalize(ctx context.Context, raw model.RawRecord, f *vendorspec.Format, uploadTime time.Time) (model.Outcome, error) {
	if raw.Err != "" {
		return model.Reject(raw.Row, raw.Store, model.ReasonExtractionError, raw.Err), nil
	}

	fields, rowErr := applyNullPolicies(raw, f)
	if rowErr != nil {
		return model.Outcome{Err: rowErr}, nil
	}

	qty, ok := parseInt(fields[vendorspec.FieldQuantity])
	if !ok {
		return model.Reject(raw.Row, raw.Store, model.ReasonBadNumber,
			fmt.Sprintf("quantity %q", fields[vendorspec.FieldQuantity])), nil
	}

	amount, ok := parseDecimal(fields[vendorspec.FieldAmount])
	if !ok {
		return model.Reject(raw.Row, raw.Store, model.ReasonBadNumber,
			fmt.Sprintf("amount %q", fields[vendorspec.FieldAmount])), nil
	}

	saleDate, reason := n.resolveDate(fields, f, uploadTime)
	if reason != "" {
		return model.Reject(raw.Row, raw.Store, reason, fields[vendorspec.FieldDate]), nil
	}

	ean, err := n.resolveProduct(ctx, f.Reseller, fields)
	if err != nil {
		return model.Outcome{}, err
	}

	// Vendor-local currency to the tenant reporting currency.
	if !strings.EqualFold(f.Currency, n.cfg.ReportingCurrency) {
		if n.rates == nil {
			return model.Reject(raw.Row, raw.Store, model.ReasonMissingRate, f.Currency), nil
		}
		rate, err := n.rates.Rate(ctx, f.Currency, n.cfg.ReportingCurrency, saleDate)
		if err != nil {
			return model.Reject(raw.Row, raw.Store, model.ReasonMissingRate,
				fmt.Sprintf("%s->%s", f.Currency, n.cfg.ReportingCurrency)), nil
		}
		amount = amount.Mul(rate).RoundBank(n.cfg.DecimalPlaces)
	} else {
		amount = amount.RoundBank(n.cfg.DecimalPlaces)
	}

	// Returns: a declared flag or an already-negative quantity forces both
	// values negative. Never absolute-value coercion; net sums must hold.
	if isReturn(fields[vendorspec.FieldReturnFlag]) || qty < 0 {
		if qty > 0 {
			qty = -qty
		}
		amount = amount.Abs().Neg()
	}

	store := raw.Store
	if store == "" {
		store = fields[vendorspec.FieldStore]
	}

	return model.Accept(model.NormalizedRecord{
		ProductEAN:  ean,
		ProductName: fields[vendorspec.FieldProductName],
		Quantity:    qty,
		Amount:      amount,
		Currency:    n.cfg.ReportingCurrency,
		SaleDate:    saleDate,
		Store:       store,
		Reseller:    f.Reseller,
		Row:         raw.Row,
	}), nil
}

// applyNullPolicies fills or rejects empty cells per each field's policy.
func applyNullPolicies(raw model.RawRecord, f *vendorspec.Format) (map[string]string, *model.RowError) {
	fields := make(map[string]string, len(raw.Fields))
	for k, v := range raw.Fields {
		fields[k] = strings.TrimSpace(v)
	}

	for _, rule := range f.Fields {
		if fields[rule.Name] != "" {
			continue
		}
		switch rule.OnMissing {
		case vendorspec.NullDefault:
			fields[rule.Name] = rule.Default
		case vendorspec.NullZero:
			fields[rule.Name] = "0"
		case vendorspec.NullReject, "":
			// Key identity fields reject when empty; everything else is
			// allowed to stay blank and face the validator.
			if rule.Name == vendorspec.FieldProductEAN && f.Field(vendorspec.FieldProductName) == nil ||
				rule.OnMissing == vendorspec.NullReject {
				return nil, &model.RowError{
					Row:    raw.Row,
					Store:  raw.Store,
					Reason: model.ReasonMissingRequired,
					Detail: rule.Name,
				}
			}
		}
	}

	// Multi-store layouts inject quantity/amount outside the field rules.
	if fields[vendorspec.FieldQuantity] == "" {
		fields[vendorspec.FieldQuantity] = "0"
	}
	if fields[vendorspec.FieldAmount] == "" {
		fields[vendorspec.FieldAmount] = "0"
	}
	return fields, nil
}

// resolveProduct prefers a vendor-supplied EAN, then the reseller mapping
// table, then synthesizes a clearly-marked temporary identifier so a row is
// never dropped for lack of a catalog match.
func (n *Normalizer) resolveProduct(ctx context.Context, reseller string, fields map[string]string) (string, error) {
	if ean := cleanEAN(fields[vendorspec.FieldProductEAN]); ean != "" {
		return ean, nil
	}

	name := fields[vendorspec.FieldProductName]
	if n.products != nil && name != "" {
		ean, found, err := n.products.LookupEAN(ctx, reseller, name)
		if err != nil {
			return "", err
		}
		if found {
			return ean, nil
		}
	}
	return SynthesizeID(reseller, name), nil
}

// SynthesizeID builds a stable temporary product identifier for an unmapped
// product name.
func SynthesizeID(reseller, productName string) string {
	h := fnv.New32a()
	h.Write([]byte(strings.ToUpper(strings.TrimSpace(productName))))
	return fmt.Sprintf("%s%s-%08X", TempIDPrefix, strings.ToUpper(reseller), h.Sum32())
}

// IsSynthesized reports whether an identifier was synthesized rather than
// vendor-supplied.
func IsSynthesized(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// cleanEAN strips formatting noise and returns the digits, or empty if the
// cell is not a plausible EAN carrier.
func cleanEAN(s string) string {
	s = strings.TrimSpace(s)
	// Excel loves turning long numbers into floats.
	s = strings.TrimSuffix(s, ".0")
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r != ' ' && r != '-' {
			return ""
		}
	}
	return b.String()
}

func isReturn(flag string) bool {
	switch strings.ToLower(strings.TrimSpace(flag)) {
	case "y", "yes", "true", "1", "r", "return":
		return true
	default:
		return false
	}
}
