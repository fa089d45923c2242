package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS upload_jobs (
  id             TEXT PRIMARY KEY,
  tenant_id      TEXT NOT NULL,
  uploader_id    TEXT NOT NULL,
  filename       TEXT NOT NULL,
  file_ref       TEXT NOT NULL,
  mode           TEXT NOT NULL,
  state          TEXT NOT NULL,
  format_id      TEXT,
  format_version TEXT,
  confidence     REAL,
  counts         TEXT NOT NULL DEFAULT '{}',
  error_summary  TEXT,
  last_error     TEXT,
  attempts       INTEGER NOT NULL DEFAULT 0,
  submitted_at   TIMESTAMP NOT NULL,
  started_at     TIMESTAMP,
  finished_at    TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_upload_jobs_tenant_state ON upload_jobs (tenant_id, state);

CREATE TABLE IF NOT EXISTS sellout_entries (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  tenant_id    TEXT NOT NULL,
  job_id       TEXT NOT NULL REFERENCES upload_jobs (id),
  reseller     TEXT NOT NULL,
  product_ean  TEXT NOT NULL,
  product_name TEXT NOT NULL DEFAULT '',
  quantity     INTEGER NOT NULL,
  amount       TEXT NOT NULL,
  currency     TEXT NOT NULL,
  sale_date    TEXT NOT NULL,
  store        TEXT NOT NULL DEFAULT '',
  created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_sellout_entries_natural_key
  ON sellout_entries (tenant_id, reseller, product_ean, sale_date, store, quantity);
CREATE INDEX IF NOT EXISTS idx_sellout_entries_job ON sellout_entries (job_id);

CREATE TABLE IF NOT EXISTS product_mappings (
  reseller     TEXT NOT NULL,
  product_name TEXT NOT NULL,
  ean          TEXT NOT NULL,
  updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (reseller, product_name)
);

CREATE TABLE IF NOT EXISTS currency_rates (
  from_currency TEXT NOT NULL,
  to_currency   TEXT NOT NULL,
  rate          TEXT NOT NULL,
  valid_on      TEXT NOT NULL,
  PRIMARY KEY (from_currency, to_currency, valid_on)
);
`

const sqliteDateLayout = "2006-01-02"

// SQLiteStore implements Store on an embedded database. It serves local
// one-shot runs and tests; production deployments use PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent workers.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---- jobs ----

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.UploadJob) error {
	countsJSON, err := json.Marshal(job.Counts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counts")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO upload_jobs
		   (id, tenant_id, uploader_id, filename, file_ref, mode, state, counts, attempts, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TenantID, job.UploaderID, job.Filename, job.FileRef,
		string(job.Mode), string(job.State), string(countsJSON), job.Attempts, job.SubmittedAt,
	)
	return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
}

func (s *SQLiteStore) StartAttempt(ctx context.Context, jobID string) (int, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE upload_jobs SET started_at = ?, attempts = attempts + 1 WHERE id = ?`,
		time.Now().UTC(), jobID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: start attempt %s", jobID)
	}
	var attempts int
	err = s.db.QueryRowContext(ctx, `SELECT attempts FROM upload_jobs WHERE id = ?`, jobID).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &NotFoundError{What: "job", ID: jobID}
	}
	return attempts, eris.Wrapf(err, "sqlite: read attempts %s", jobID)
}

func (s *SQLiteStore) SetJobState(ctx context.Context, jobID string, state model.JobState, counts model.Counts) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counts")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE upload_jobs SET state = ?, counts = ? WHERE id = ?`,
		string(state), string(countsJSON), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set state %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{What: "job", ID: jobID}
	}
	return nil
}

func (s *SQLiteStore) SetJobFormat(ctx context.Context, jobID, formatID, version string, confidence float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE upload_jobs SET format_id = ?, format_version = ?, confidence = ? WHERE id = ?`,
		formatID, version, confidence, jobID,
	)
	return eris.Wrapf(err, "sqlite: set format %s", jobID)
}

func (s *SQLiteStore) FinishJob(ctx context.Context, jobID string, state model.JobState, counts model.Counts, summary []model.RowError, lastError string) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counts")
	}
	var summaryStr sql.NullString
	if len(summary) > 0 {
		b, err := json.Marshal(summary)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal error summary")
		}
		summaryStr = sql.NullString{String: string(b), Valid: true}
	}
	var lastErr sql.NullString
	if lastError != "" {
		lastErr = sql.NullString{String: lastError, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE upload_jobs
		 SET state = ?, counts = ?, error_summary = ?, last_error = ?, finished_at = ?
		 WHERE id = ?`,
		string(state), string(countsJSON), summaryStr, lastErr, time.Now().UTC(), jobID,
	)
	return eris.Wrapf(err, "sqlite: finish job %s", jobID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.UploadJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, uploader_id, filename, file_ref, mode, state,
		        format_id, format_version, confidence, counts, error_summary,
		        last_error, attempts, submitted_at, started_at, finished_at
		 FROM upload_jobs WHERE id = ?`,
		jobID,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{What: "job", ID: jobID}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.UploadJob, error) {
	query := `SELECT id, tenant_id, uploader_id, filename, file_ref, mode, state,
	                 format_id, format_version, confidence, counts, error_summary,
	                 last_error, attempts, submitted_at, started_at, finished_at
	          FROM upload_jobs WHERE 1=1`
	var args []any
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY submitted_at DESC LIMIT ?`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.UploadJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

// ---- facts ----

func (s *SQLiteStore) FactExists(ctx context.Context, key FactKey) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sellout_entries
		 WHERE tenant_id = ? AND reseller = ? AND product_ean = ?
		   AND sale_date = ? AND store = ? AND quantity = ?`,
		key.TenantID, key.Reseller, key.ProductEAN,
		key.SaleDate.Format(sqliteDateLayout), key.Store, key.Quantity,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: fact exists")
	}
	return true, nil
}

func (s *SQLiteStore) BeginFactTx(ctx context.Context) (FactTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin fact tx")
	}
	return &sqliteFactTx{tx: tx}, nil
}

type sqliteFactTx struct {
	tx *sql.Tx
}

func (t *sqliteFactTx) DeleteFacts(ctx context.Context, tenantID, reseller string, from, to time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM sellout_entries
		 WHERE tenant_id = ? AND reseller = ? AND sale_date BETWEEN ? AND ?`,
		tenantID, reseller, from.Format(sqliteDateLayout), to.Format(sqliteDateLayout),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete facts for %s", reseller)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (t *sqliteFactTx) InsertBatch(ctx context.Context, rows []model.FactRow) (int64, error) {
	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT INTO sellout_entries
		   (tenant_id, job_id, reseller, product_ean, product_name, quantity, amount, currency, sale_date, store)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close()

	for i, r := range rows {
		if _, err := stmt.ExecContext(ctx, sqliteFactValues(r)...); err != nil {
			return int64(i), eris.Wrapf(err, "sqlite: insert entry row %d", r.Row)
		}
	}
	return int64(len(rows)), nil
}

func (t *sqliteFactTx) InsertOne(ctx context.Context, row model.FactRow) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sellout_entries
		   (tenant_id, job_id, reseller, product_ean, product_name, quantity, amount, currency, sale_date, store)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sqliteFactValues(row)...,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert sellout entry")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (t *sqliteFactTx) Commit(ctx context.Context) error {
	return eris.Wrap(t.tx.Commit(), "sqlite: commit fact tx")
}

func (t *sqliteFactTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return eris.Wrap(err, "sqlite: rollback fact tx")
	}
	return nil
}

func sqliteFactValues(r model.FactRow) []any {
	return []any{
		r.TenantID, r.JobID, r.Reseller, r.ProductEAN, r.ProductName,
		r.Quantity, r.Amount.String(), r.Currency,
		r.SaleDate.Format(sqliteDateLayout), r.Store,
	}
}

// ---- product mappings ----

func (s *SQLiteStore) LookupEAN(ctx context.Context, reseller, productName string) (string, bool, error) {
	var ean string
	err := s.db.QueryRowContext(ctx,
		`SELECT ean FROM product_mappings WHERE reseller = ? AND lower(product_name) = lower(?)`,
		reseller, productName,
	).Scan(&ean)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrap(err, "sqlite: lookup ean")
	}
	return ean, true, nil
}

func (s *SQLiteStore) UpsertProductMapping(ctx context.Context, reseller, productName, ean string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO product_mappings (reseller, product_name, ean, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (reseller, product_name) DO UPDATE SET ean = excluded.ean, updated_at = excluded.updated_at`,
		reseller, productName, ean, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: upsert product mapping")
}

// ---- currency rates ----

func (s *SQLiteStore) Rate(ctx context.Context, from, to string, on time.Time) (decimal.Decimal, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT rate FROM currency_rates
		 WHERE from_currency = ? AND to_currency = ? AND valid_on <= ?
		 ORDER BY valid_on DESC LIMIT 1`,
		from, to, on.Format(sqliteDateLayout),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, &NotFoundError{What: "rate", ID: from + "->" + to}
	}
	if err != nil {
		return decimal.Zero, eris.Wrap(err, "sqlite: get rate")
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "sqlite: parse stored rate %q", raw)
	}
	return rate, nil
}

func (s *SQLiteStore) UpsertRate(ctx context.Context, from, to string, rate decimal.Decimal, validOn time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO currency_rates (from_currency, to_currency, rate, valid_on)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (from_currency, to_currency, valid_on) DO UPDATE SET rate = excluded.rate`,
		from, to, rate.String(), validOn.Format(sqliteDateLayout),
	)
	return eris.Wrap(err, "sqlite: upsert rate")
}

