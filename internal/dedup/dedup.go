// Package dedup plans which accepted rows actually get written. In append
// mode it drops rows whose natural key already exists, in-file or in
// storage. In replace mode storage lookups are pointless because the purge
// removes the competing rows, so only in-file duplicates are dropped and a
// purge boundary is computed from the batch itself.
package dedup

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/store"
)

// FactChecker is the slice of store.Store the deduplicator needs.
type FactChecker interface {
	FactExists(ctx context.Context, key store.FactKey) (bool, error)
}

// PurgeRange bounds a replace-mode delete, inclusive on both ends.
type PurgeRange struct {
	From time.Time
	To   time.Time
}

// Plan is the writer's work order for one job.
type Plan struct {
	Insert     []model.FactRow
	Duplicates int
	// Purge is set only for replace mode.
	Purge *PurgeRange
}

type Deduplicator struct {
	checker FactChecker
}

func New(checker FactChecker) *Deduplicator {
	return &Deduplicator{checker: checker}
}

// Build turns accepted records into a write plan. Records are assumed to
// have passed validation; rows dropped here are counted, not rejected.
func (d *Deduplicator) Build(ctx context.Context, tenantID, jobID string, mode model.UploadMode, recs []model.NormalizedRecord) (*Plan, error) {
	plan := &Plan{Insert: make([]model.FactRow, 0, len(recs))}
	seen := make(map[store.FactKey]struct{}, len(recs))

	for _, rec := range recs {
		row := model.FactRow{TenantID: tenantID, JobID: jobID, NormalizedRecord: rec}
		key := store.Key(row)

		if _, dup := seen[key]; dup {
			plan.Duplicates++
			continue
		}
		seen[key] = struct{}{}

		if mode == model.ModeAppend {
			exists, err := d.checker.FactExists(ctx, key)
			if err != nil {
				return nil, eris.Wrapf(err, "dedup: lookup row %d", rec.Row)
			}
			if exists {
				plan.Duplicates++
				continue
			}
		}

		plan.Insert = append(plan.Insert, row)
	}

	if mode == model.ModeReplace {
		plan.Purge = purgeRange(recs)
	}
	return plan, nil
}

// purgeRange spans the min and max sale dates in the batch, so a replace
// upload supersedes exactly the period it covers.
func purgeRange(recs []model.NormalizedRecord) *PurgeRange {
	if len(recs) == 0 {
		return nil
	}
	r := &PurgeRange{From: recs[0].SaleDate, To: recs[0].SaleDate}
	for _, rec := range recs[1:] {
		if rec.SaleDate.Before(r.From) {
			r.From = rec.SaleDate
		}
		if rec.SaleDate.After(r.To) {
			r.To = rec.SaleDate
		}
	}
	return r
}
