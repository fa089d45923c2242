// Package writer lands planned fact rows in storage. Append mode is
// two-tier: each batch goes down the bulk path in its own transaction, and
// a failed batch is replayed row by row so one poisoned row costs one row,
// not the batch. Replace mode instead wraps the purge and every insert in a
// single transaction; a failure there rolls the whole replace back and is
// surfaced to the caller for a job-level retry.
package writer

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/dedup"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/store"
)

// DefaultBatchSize bounds rows per bulk transaction.
const DefaultBatchSize = 1000

// TxBeginner is the slice of store.Store the writer needs.
type TxBeginner interface {
	BeginFactTx(ctx context.Context) (store.FactTx, error)
}

// Result reports what one write pass did.
type Result struct {
	Inserted   int
	Duplicates int
	// Failed holds per-row storage failures from the append fallback path.
	Failed []model.RowError
}

type BatchWriter struct {
	store     TxBeginner
	batchSize int
	log       *zap.Logger
}

func New(s TxBeginner, batchSize int) *BatchWriter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &BatchWriter{store: s, batchSize: batchSize, log: zap.L()}
}

// WriteAppend lands rows batch by batch. Batches that fail on the bulk path
// are retried per row; rows that still fail are reported, never dropped
// silently.
func (w *BatchWriter) WriteAppend(ctx context.Context, rows []model.FactRow) (Result, error) {
	var res Result
	for start := 0; start < len(rows); start += w.batchSize {
		end := start + w.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		if err := w.writeBulk(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return res, eris.Wrap(ctx.Err(), "writer: canceled")
			}
			w.log.Warn("bulk insert failed, replaying batch per row",
				zap.Int("batch_start", start), zap.Int("batch_size", len(batch)), zap.Error(err))
			if err := w.fallback(ctx, batch, &res); err != nil {
				return res, err
			}
			continue
		}
		res.Inserted += len(batch)
	}
	return res, nil
}

func (w *BatchWriter) writeBulk(ctx context.Context, batch []model.FactRow) error {
	tx, err := w.store.BeginFactTx(ctx)
	if err != nil {
		return eris.Wrap(err, "writer: begin batch tx")
	}
	if _, err := tx.InsertBatch(ctx, batch); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// fallback replays a failed batch one row per transaction, so an abort from
// one bad row cannot taint its neighbors.
func (w *BatchWriter) fallback(ctx context.Context, batch []model.FactRow, res *Result) error {
	for _, row := range batch {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "writer: canceled")
		}
		tx, err := w.store.BeginFactTx(ctx)
		if err != nil {
			return eris.Wrap(err, "writer: begin fallback tx")
		}
		inserted, err := tx.InsertOne(ctx, row)
		if err != nil {
			_ = tx.Rollback(ctx)
			res.Failed = append(res.Failed, model.RowError{
				Row:    row.Row,
				Store:  row.Store,
				Reason: model.ReasonInsertFailed,
				Detail: eris.ToString(err, false),
			})
			continue
		}
		if err := tx.Commit(ctx); err != nil {
			res.Failed = append(res.Failed, model.RowError{
				Row:    row.Row,
				Store:  row.Store,
				Reason: model.ReasonInsertFailed,
				Detail: eris.ToString(err, false),
			})
			continue
		}
		if inserted {
			res.Inserted++
		} else {
			res.Duplicates++
		}
	}
	return nil
}

// WriteReplace purges the covered period and inserts everything in one
// transaction. Any failure rolls the replace back whole; the caller retries
// the job, and re-running the purge plus inserts converges on the same
// state.
func (w *BatchWriter) WriteReplace(ctx context.Context, tenantID, reseller string, purge *dedup.PurgeRange, rows []model.FactRow) (Result, error) {
	var res Result
	tx, err := w.store.BeginFactTx(ctx)
	if err != nil {
		return res, eris.Wrap(err, "writer: begin replace tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if purge != nil {
		deleted, err := tx.DeleteFacts(ctx, tenantID, reseller, purge.From, purge.To)
		if err != nil {
			return res, err
		}
		w.log.Info("purged superseded rows",
			zap.String("reseller", reseller),
			zap.Time("from", purge.From), zap.Time("to", purge.To),
			zap.Int64("deleted", deleted))
	}

	for start := 0; start < len(rows); start += w.batchSize {
		end := start + w.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if _, err := tx.InsertBatch(ctx, rows[start:end]); err != nil {
			return res, eris.Wrap(err, "writer: replace insert")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return res, err
	}
	res.Inserted = len(rows)
	return res, nil
}
