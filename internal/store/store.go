// Package store persists upload jobs and sellout fact rows. Two backends
// implement the same interface: Postgres (pgx, COPY fast path) for
// production and SQLite (modernc) for local single-binary use. The fact
// natural key is enforced as a storage-level unique index in both, so
// correctness holds under concurrent writers.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
)

// FactKey is the natural uniqueness key of one fact row. Store and quantity
// belong in the key: one (product, date) pair can legitimately recur across
// stores or with correction quantities.
type FactKey struct {
	TenantID   string
	Reseller   string
	ProductEAN string
	SaleDate   time.Time
	Store      string
	Quantity   int64
}

// Key returns the natural key of a fact row.
func Key(r model.FactRow) FactKey {
	return FactKey{
		TenantID:   r.TenantID,
		Reseller:   r.Reseller,
		ProductEAN: r.ProductEAN,
		SaleDate:   r.SaleDate,
		Store:      r.Store,
		Quantity:   r.Quantity,
	}
}

// FactTx scopes fact writes to one transaction, so a replace-mode purge and
// the inserts that follow commit or roll back together.
type FactTx interface {
	// DeleteFacts purges a reseller's rows within a date boundary.
	DeleteFacts(ctx context.Context, tenantID, reseller string, from, to time.Time) (int64, error)
	// InsertBatch bulk-inserts rows; any failure poisons the whole batch.
	InsertBatch(ctx context.Context, rows []model.FactRow) (int64, error)
	// InsertOne inserts a single row, ignoring a natural-key conflict.
	// Returns false when the row already existed.
	InsertOne(ctx context.Context, row model.FactRow) (bool, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the persistence interface for the ingestion pipeline.
type Store interface {
	// Jobs. Job rows are the externally visible status surface; every
	// mutation is persisted immediately so polling survives restarts.
	CreateJob(ctx context.Context, job *model.UploadJob) error
	StartAttempt(ctx context.Context, jobID string) (int, error)
	SetJobState(ctx context.Context, jobID string, state model.JobState, counts model.Counts) error
	SetJobFormat(ctx context.Context, jobID, formatID, version string, confidence float64) error
	FinishJob(ctx context.Context, jobID string, state model.JobState, counts model.Counts, summary []model.RowError, lastError string) error
	GetJob(ctx context.Context, jobID string) (*model.UploadJob, error)
	ListJobs(ctx context.Context, filter model.JobFilter) ([]model.UploadJob, error)

	// Facts.
	BeginFactTx(ctx context.Context) (FactTx, error)
	FactExists(ctx context.Context, key FactKey) (bool, error)

	// Reseller-specific product name -> EAN mappings.
	LookupEAN(ctx context.Context, reseller, productName string) (string, bool, error)
	UpsertProductMapping(ctx context.Context, reseller, productName, ean string) error

	// Supplied currency rates (sourcing is external; this is only a table).
	Rate(ctx context.Context, from, to string, on time.Time) (decimal.Decimal, error)
	UpsertRate(ctx context.Context, from, to string, rate decimal.Decimal, validOn time.Time) error

	Migrate(ctx context.Context) error
	Close() error
}

// NotFoundError is returned by GetJob and Rate when no row matches.
type NotFoundError struct {
	What string
	ID   string
}

func (e *NotFoundError) Error() string {
	return e.What + " not found: " + e.ID
}
