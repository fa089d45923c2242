package writer

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/dedup"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/store"
)

// fakeTx records operations and fails on demand.
type fakeTx struct {
	parent     *fakeStore
	pending    []model.FactRow
	deleted    bool
	rolledBack bool
}

type fakeStore struct {
	committed  []model.FactRow
	purges     int
	beginCount int

	// poisonEAN makes bulk inserts fail for any batch containing it, and
	// single inserts fail for the row itself.
	poisonEAN string
	// conflictEAN makes InsertOne report an existing natural key.
	conflictEAN string
}

func (s *fakeStore) BeginFactTx(context.Context) (store.FactTx, error) {
	s.beginCount++
	return &fakeTx{parent: s}, nil
}

func (t *fakeTx) DeleteFacts(context.Context, string, string, time.Time, time.Time) (int64, error) {
	t.deleted = true
	return 3, nil
}

func (t *fakeTx) InsertBatch(_ context.Context, rows []model.FactRow) (int64, error) {
	for _, r := range rows {
		if r.ProductEAN == t.parent.poisonEAN {
			return 0, eris.New("bulk insert rejected")
		}
	}
	t.pending = append(t.pending, rows...)
	return int64(len(rows)), nil
}

func (t *fakeTx) InsertOne(_ context.Context, row model.FactRow) (bool, error) {
	if row.ProductEAN == t.parent.poisonEAN {
		return false, eris.New("row rejected")
	}
	if row.ProductEAN == t.parent.conflictEAN {
		return false, nil
	}
	t.pending = append(t.pending, row)
	return true, nil
}

func (t *fakeTx) Commit(context.Context) error {
	if t.deleted {
		t.parent.purges++
	}
	t.parent.committed = append(t.parent.committed, t.pending...)
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

func factRow(ean string, row int) model.FactRow {
	return model.FactRow{
		TenantID: "tenant-a",
		JobID:    "job-1",
		NormalizedRecord: model.NormalizedRecord{
			ProductEAN: ean,
			Quantity:   1,
			Amount:     decimal.RequireFromString("10.00"),
			Currency:   "EUR",
			SaleDate:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			Reseller:   "boxnox",
			Row:        row,
		},
	}
}

func TestWriteAppend_BulkPath(t *testing.T) {
	s := &fakeStore{}
	rows := []model.FactRow{factRow("1000000000001", 2), factRow("1000000000002", 3), factRow("1000000000003", 4)}

	res, err := New(s, 2).WriteAppend(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)
	assert.Empty(t, res.Failed)
	assert.Len(t, s.committed, 3)
	// Two batches of size 2 and 1.
	assert.Equal(t, 2, s.beginCount)
}

func TestWriteAppend_PoisonedRowCostsOneRow(t *testing.T) {
	s := &fakeStore{poisonEAN: "9999999999999"}
	rows := make([]model.FactRow, 0, 10)
	for i := 0; i < 10; i++ {
		rows = append(rows, factRow("100000000000"+string(rune('0'+i)), i+2))
	}
	rows[6] = factRow("9999999999999", 8)

	res, err := New(s, 10).WriteAppend(context.Background(), rows)
	require.NoError(t, err)

	assert.Equal(t, 9, res.Inserted)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 8, res.Failed[0].Row)
	assert.Equal(t, model.ReasonInsertFailed, res.Failed[0].Reason)
	assert.Len(t, s.committed, 9)
}

func TestWriteAppend_FallbackCountsLateConflictsAsDuplicates(t *testing.T) {
	// The bulk path fails because of the poisoned row; during replay one
	// other row turns out to exist already.
	s := &fakeStore{poisonEAN: "9999999999999", conflictEAN: "1000000000001"}
	rows := []model.FactRow{
		factRow("1000000000001", 2),
		factRow("9999999999999", 3),
		factRow("1000000000003", 4),
	}

	res, err := New(s, 10).WriteAppend(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Duplicates)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 3, res.Failed[0].Row)
}

func TestWriteReplace_PurgeAndInsertCommitTogether(t *testing.T) {
	s := &fakeStore{}
	purge := &dedup.PurgeRange{
		From: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	rows := []model.FactRow{factRow("1000000000001", 2), factRow("1000000000002", 3)}

	res, err := New(s, 1).WriteReplace(context.Background(), "tenant-a", "boxnox", purge, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, s.purges)
	assert.Len(t, s.committed, 2)
	// Purge and both batches share one transaction.
	assert.Equal(t, 1, s.beginCount)
}

func TestWriteReplace_FailureRollsBackEverything(t *testing.T) {
	s := &fakeStore{poisonEAN: "9999999999999"}
	purge := &dedup.PurgeRange{
		From: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	rows := []model.FactRow{factRow("1000000000001", 2), factRow("9999999999999", 3)}

	_, err := New(s, 10).WriteReplace(context.Background(), "tenant-a", "boxnox", purge, rows)
	require.Error(t, err)
	assert.Empty(t, s.committed)
	assert.Equal(t, 0, s.purges)
}
