package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "sellout.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testFactRow(jobID, ean string, qty int64, date time.Time) model.FactRow {
	return model.FactRow{
		TenantID: "tenant-a",
		JobID:    jobID,
		NormalizedRecord: model.NormalizedRecord{
			ProductEAN:  ean,
			ProductName: "Test Product",
			Quantity:    qty,
			Amount:      decimal.RequireFromString("99.99"),
			Currency:    "EUR",
			SaleDate:    date,
			Reseller:    "boxnox",
		},
	}
}

func createTestJob(t *testing.T, s *SQLiteStore, id string) {
	t.Helper()
	err := s.CreateJob(context.Background(), &model.UploadJob{
		ID:          id,
		TenantID:    "tenant-a",
		UploaderID:  "uploader-1",
		Filename:    "boxnox_jan.xlsx",
		FileRef:     "/spool/" + id + ".xlsx",
		Mode:        model.ModeAppend,
		State:       model.JobStatePending,
		SubmittedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestSQLiteStore_JobLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	createTestJob(t, s, "job-1")

	attempts, err := s.StartAttempt(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	require.NoError(t, s.SetJobState(ctx, "job-1", model.JobStateExtracting, model.Counts{Total: 100}))
	require.NoError(t, s.SetJobFormat(ctx, "job-1", "boxnox", "1", 0.87))

	summary := []model.RowError{{Row: 7, Reason: model.ReasonBadDate, Detail: "unparseable month"}}
	counts := model.Counts{Total: 100, Accepted: 99, Rejected: 1, Inserted: 99}
	require.NoError(t, s.FinishJob(ctx, "job-1", model.JobStatePartial, counts, summary, ""))

	job, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatePartial, job.State)
	assert.Equal(t, "boxnox", job.FormatID)
	assert.InDelta(t, 0.87, job.Confidence, 1e-9)
	assert.Equal(t, counts, job.Counts)
	require.Len(t, job.ErrorSummary, 1)
	assert.Equal(t, 7, job.ErrorSummary[0].Row)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.FinishedAt)
}

func TestSQLiteStore_GetJob_NotFound(t *testing.T) {
	s := newTestSQLite(t)

	_, err := s.GetJob(context.Background(), "nope")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "job", nf.What)
}

func TestSQLiteStore_ListJobs_Filtered(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	createTestJob(t, s, "job-a")
	createTestJob(t, s, "job-b")
	require.NoError(t, s.SetJobState(ctx, "job-b", model.JobStateCompleted, model.Counts{}))

	jobs, err := s.ListJobs(ctx, model.JobFilter{TenantID: "tenant-a", State: model.JobStateCompleted})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-b", jobs[0].ID)

	jobs, err = s.ListJobs(ctx, model.JobFilter{TenantID: "tenant-a"})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestSQLiteStore_NaturalKeyDedup(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	createTestJob(t, s, "job-1")

	date := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	row := testFactRow("job-1", "1234567890123", 10, date)

	tx, err := s.BeginFactTx(ctx)
	require.NoError(t, err)
	inserted, err := tx.InsertOne(ctx, row)
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, tx.Commit(ctx))

	// Same natural key again is silently skipped.
	tx, err = s.BeginFactTx(ctx)
	require.NoError(t, err)
	inserted, err = tx.InsertOne(ctx, row)
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, tx.Commit(ctx))

	exists, err := s.FactExists(ctx, Key(row))
	require.NoError(t, err)
	assert.True(t, exists)

	// Different quantity makes a new key.
	other := Key(testFactRow("job-1", "1234567890123", 11, date))
	exists, err = s.FactExists(ctx, other)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLiteStore_ReplacePurgeIsTransactional(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	createTestJob(t, s, "job-1")
	createTestJob(t, s, "job-2")

	jan := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)

	tx, err := s.BeginFactTx(ctx)
	require.NoError(t, err)
	_, err = tx.InsertBatch(ctx, []model.FactRow{
		testFactRow("job-1", "1234567890123", 5, jan),
		testFactRow("job-1", "1234567890124", 3, jan),
		testFactRow("job-1", "1234567890125", 8, feb),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	// Replace January: purge and reload inside one transaction.
	tx, err = s.BeginFactTx(ctx)
	require.NoError(t, err)
	deleted, err := tx.DeleteFacts(ctx, "tenant-a", "boxnox",
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	_, err = tx.InsertBatch(ctx, []model.FactRow{
		testFactRow("job-2", "1234567890123", 6, jan),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	// February row survives; old January rows gone, new one present.
	exists, err := s.FactExists(ctx, Key(testFactRow("job-1", "1234567890125", 8, feb)))
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.FactExists(ctx, Key(testFactRow("job-1", "1234567890123", 5, jan)))
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = s.FactExists(ctx, Key(testFactRow("job-2", "1234567890123", 6, jan)))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSQLiteStore_RollbackDiscardsWrites(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	createTestJob(t, s, "job-1")

	date := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	tx, err := s.BeginFactTx(ctx)
	require.NoError(t, err)
	_, err = tx.InsertBatch(ctx, []model.FactRow{testFactRow("job-1", "1234567890123", 2, date)})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	exists, err := s.FactExists(ctx, Key(testFactRow("job-1", "1234567890123", 2, date)))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLiteStore_ProductMappings(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, found, err := s.LookupEAN(ctx, "galilu", "Rose Cream 50ml")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.UpsertProductMapping(ctx, "galilu", "Rose Cream 50ml", "5901234567890"))

	// Lookup is case-insensitive on the product name.
	ean, found, err := s.LookupEAN(ctx, "galilu", "rose cream 50ML")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "5901234567890", ean)

	require.NoError(t, s.UpsertProductMapping(ctx, "galilu", "Rose Cream 50ml", "5900000000017"))
	ean, found, err = s.LookupEAN(ctx, "galilu", "Rose Cream 50ml")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "5900000000017", ean)
}

func TestSQLiteStore_Rates(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	feb1 := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertRate(ctx, "GBP", "EUR", decimal.RequireFromString("1.15"), jan1))
	require.NoError(t, s.UpsertRate(ctx, "GBP", "EUR", decimal.RequireFromString("1.17"), feb1))

	// Latest rate on or before the sale date wins.
	rate, err := s.Rate(ctx, "GBP", "EUR", time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("1.15")), "got %s", rate)

	rate, err = s.Rate(ctx, "GBP", "EUR", time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("1.17")))

	_, err = s.Rate(ctx, "PLN", "EUR", feb1)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}
