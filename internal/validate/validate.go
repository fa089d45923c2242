// Package validate checks normalized records against structural and
// business rules. Rules run in a fixed order and the first failure wins;
// results are values, never errors, so partial-success reporting stays
// structural.
package validate

import (
	"fmt"
	"time"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/normalize"
)

// Config bounds the plausible-date window.
type Config struct {
	MinYear int
	MaxYear int
}

// DefaultConfig allows dates from 2015 through next year; vendor files
// occasionally report the closing days of a period dated into January.
func DefaultConfig(now time.Time) Config {
	return Config{MinYear: 2015, MaxYear: now.Year() + 1}
}

// Validator applies the rule chain.
type Validator struct {
	cfg Config
}

// New creates a Validator.
func New(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate classifies one normalized record.
func (v *Validator) Validate(rec model.NormalizedRecord) model.Outcome {
	for _, rule := range rules {
		if reason, detail := rule(v, rec); reason != "" {
			return model.Reject(rec.Row, rec.Store, reason, detail)
		}
	}
	return model.Accept(rec)
}

type ruleFn func(*Validator, model.NormalizedRecord) (model.ReasonCode, string)

// Order matters: identity first, shape second, ranges third, business
// invariants last.
var rules = []ruleFn{
	checkRequired,
	checkEANShape,
	checkDateRange,
	checkSignConsistency,
}

func checkRequired(_ *Validator, rec model.NormalizedRecord) (model.ReasonCode, string) {
	switch {
	case rec.ProductEAN == "":
		return model.ReasonMissingRequired, "product identifier"
	case rec.Reseller == "":
		return model.ReasonMissingRequired, "reseller"
	case rec.SaleDate.IsZero():
		return model.ReasonMissingRequired, "sale date"
	case rec.Quantity == 0 && rec.Amount.IsZero():
		return model.ReasonMissingRequired, "quantity or amount"
	}
	return "", ""
}

// checkEANShape applies only to identifiers claimed to be real EANs;
// synthesized temporary ids skip it by construction.
func checkEANShape(_ *Validator, rec model.NormalizedRecord) (model.ReasonCode, string) {
	if normalize.IsSynthesized(rec.ProductEAN) {
		return "", ""
	}
	if len(rec.ProductEAN) != 13 {
		return model.ReasonBadEAN, fmt.Sprintf("%q is not 13 digits", rec.ProductEAN)
	}
	for _, r := range rec.ProductEAN {
		if r < '0' || r > '9' {
			return model.ReasonBadEAN, fmt.Sprintf("%q is not numeric", rec.ProductEAN)
		}
	}
	return "", ""
}

func checkDateRange(v *Validator, rec model.NormalizedRecord) (model.ReasonCode, string) {
	y := rec.SaleDate.Year()
	if y < v.cfg.MinYear || y > v.cfg.MaxYear {
		return model.ReasonDateOutOfRange, rec.SaleDate.Format("2006-01-02")
	}
	return "", ""
}

// checkSignConsistency enforces the sales-vs-returns invariant: quantity and
// amount must share a sign. A zero on either side is compatible with both.
func checkSignConsistency(_ *Validator, rec model.NormalizedRecord) (model.ReasonCode, string) {
	if rec.Quantity == 0 || rec.Amount.IsZero() {
		return "", ""
	}
	qtyNeg := rec.Quantity < 0
	amtNeg := rec.Amount.IsNegative()
	if qtyNeg != amtNeg {
		return model.ReasonSignMismatch,
			fmt.Sprintf("quantity %d vs amount %s", rec.Quantity, rec.Amount.String())
	}
	return "", ""
}
