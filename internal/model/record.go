package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawRecord is one logical sale (or return) as extracted from the workbook,
// before any normalization. Fields maps logical field name -> raw cell value.
// A non-empty Err marks an extraction failure on this row; the normalizer
// converts it into a rejection so one bad row never aborts the file.
type RawRecord struct {
	Fields map[string]string
	Row    int    // source row index, 1-based as shown in a spreadsheet UI
	Store  string // store/channel identifier for multi-store layouts
	Err    string
}

// Get returns the raw value for a logical field, empty if absent.
func (r RawRecord) Get(field string) string {
	return r.Fields[field]
}

// NormalizedRecord is a typed, currency-unified record ready for validation.
// Invariant: Quantity and Amount share the same sign (both negative for a
// return); mixed-sign records are rejected, never coerced.
type NormalizedRecord struct {
	ProductEAN  string          // real EAN or a synthesized TMP- identifier
	ProductName string
	Quantity    int64
	Amount      decimal.Decimal // in the tenant reporting currency
	Currency    string          // reporting currency code
	SaleDate    time.Time
	Store       string
	Reseller    string
	Row         int // original source row index for error reporting
}

// FactRow is the canonical persisted sales row: a NormalizedRecord plus
// tenant and job ownership. The natural key
// (tenant, reseller, product_ean, sale_date, store, quantity) is enforced as
// a storage-level unique index.
type FactRow struct {
	TenantID string
	JobID    string
	NormalizedRecord
}

// CandidateFormat is one sniffer result: a vendor format the file may match.
type CandidateFormat struct {
	FormatID   string  `json:"format_id"`
	Version    string  `json:"version"`
	Confidence float64 `json:"confidence"`
}
