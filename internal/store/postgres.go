package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/db"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool. The connection
// string arrives already scoped to one tenant's database; tenant routing
// happens upstream.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// ---- jobs ----

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.UploadJob) error {
	countsJSON, err := json.Marshal(job.Counts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counts")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sellout.upload_jobs
		   (id, tenant_id, uploader_id, filename, file_ref, mode, state, counts, attempts, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.TenantID, job.UploaderID, job.Filename, job.FileRef,
		string(job.Mode), string(job.State), countsJSON, job.Attempts, job.SubmittedAt,
	)
	return eris.Wrapf(err, "postgres: insert job %s", job.ID)
}

// StartAttempt stamps started_at and bumps the attempt counter, returning
// the new attempt number.
func (s *PostgresStore) StartAttempt(ctx context.Context, jobID string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx,
		`UPDATE sellout.upload_jobs
		 SET started_at = now(), attempts = attempts + 1
		 WHERE id = $1 RETURNING attempts`,
		jobID,
	).Scan(&attempts)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: start attempt %s", jobID)
	}
	return attempts, nil
}

func (s *PostgresStore) SetJobState(ctx context.Context, jobID string, state model.JobState, counts model.Counts) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counts")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sellout.upload_jobs SET state = $1, counts = $2 WHERE id = $3`,
		string(state), countsJSON, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set state %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{What: "job", ID: jobID}
	}
	return nil
}

func (s *PostgresStore) SetJobFormat(ctx context.Context, jobID, formatID, version string, confidence float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sellout.upload_jobs SET format_id = $1, format_version = $2, confidence = $3 WHERE id = $4`,
		formatID, version, confidence, jobID,
	)
	return eris.Wrapf(err, "postgres: set format %s", jobID)
}

func (s *PostgresStore) FinishJob(ctx context.Context, jobID string, state model.JobState, counts model.Counts, summary []model.RowError, lastError string) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counts")
	}
	var summaryJSON []byte
	if len(summary) > 0 {
		summaryJSON, err = json.Marshal(summary)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal error summary")
		}
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE sellout.upload_jobs
		 SET state = $1, counts = $2, error_summary = $3, last_error = NULLIF($4, ''), finished_at = now()
		 WHERE id = $5`,
		string(state), countsJSON, summaryJSON, lastError, jobID,
	)
	return eris.Wrapf(err, "postgres: finish job %s", jobID)
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.UploadJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, uploader_id, filename, file_ref, mode, state,
		        format_id, format_version, confidence, counts, error_summary,
		        last_error, attempts, submitted_at, started_at, finished_at
		 FROM sellout.upload_jobs WHERE id = $1`,
		jobID,
	)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{What: "job", ID: jobID}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.UploadJob, error) {
	query := `SELECT id, tenant_id, uploader_id, filename, file_ref, mode, state,
	                 format_id, format_version, confidence, counts, error_summary,
	                 last_error, attempts, submitted_at, started_at, finished_at
	          FROM sellout.upload_jobs WHERE 1=1`
	var args []any

	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		query += ` AND tenant_id = $` + strconv.Itoa(len(args))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		query += ` AND state = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY submitted_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.UploadJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

// ---- facts ----

var factColumns = []string{
	"tenant_id", "job_id", "reseller", "product_ean", "product_name",
	"quantity", "amount", "currency", "sale_date", "store",
}

func factValues(r model.FactRow) []any {
	return []any{
		r.TenantID, r.JobID, r.Reseller, r.ProductEAN, r.ProductName,
		r.Quantity, r.Amount, r.Currency, r.SaleDate, r.Store,
	}
}

func (s *PostgresStore) FactExists(ctx context.Context, key FactKey) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM sellout.sellout_entries
		   WHERE tenant_id = $1 AND reseller = $2 AND product_ean = $3
		     AND sale_date = $4 AND store = $5 AND quantity = $6
		 )`,
		key.TenantID, key.Reseller, key.ProductEAN, key.SaleDate, key.Store, key.Quantity,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "postgres: fact exists")
	}
	return exists, nil
}

func (s *PostgresStore) BeginFactTx(ctx context.Context) (FactTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin fact tx")
	}
	return &pgFactTx{tx: tx}, nil
}

type pgFactTx struct {
	tx pgx.Tx
}

func (t *pgFactTx) DeleteFacts(ctx context.Context, tenantID, reseller string, from, to time.Time) (int64, error) {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM sellout.sellout_entries
		 WHERE tenant_id = $1 AND reseller = $2 AND sale_date BETWEEN $3 AND $4`,
		tenantID, reseller, from, to,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete facts for %s", reseller)
	}
	return tag.RowsAffected(), nil
}

func (t *pgFactTx) InsertBatch(ctx context.Context, rows []model.FactRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = factValues(r)
	}
	return db.CopyFromTx(ctx, t.tx, pgx.Identifier{"sellout", "sellout_entries"}, factColumns, values)
}

func (t *pgFactTx) InsertOne(ctx context.Context, row model.FactRow) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO sellout.sellout_entries
		   (tenant_id, job_id, reseller, product_ean, product_name, quantity, amount, currency, sale_date, store)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (tenant_id, reseller, product_ean, sale_date, store, quantity) DO NOTHING`,
		factValues(row)...,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert sellout entry")
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgFactTx) Commit(ctx context.Context) error {
	return eris.Wrap(t.tx.Commit(ctx), "postgres: commit fact tx")
}

func (t *pgFactTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return eris.Wrap(err, "postgres: rollback fact tx")
	}
	return nil
}

// ---- product mappings ----

func (s *PostgresStore) LookupEAN(ctx context.Context, reseller, productName string) (string, bool, error) {
	var ean string
	err := s.pool.QueryRow(ctx,
		`SELECT ean FROM sellout.product_mappings WHERE reseller = $1 AND lower(product_name) = lower($2)`,
		reseller, productName,
	).Scan(&ean)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrap(err, "postgres: lookup ean")
	}
	return ean, true, nil
}

func (s *PostgresStore) UpsertProductMapping(ctx context.Context, reseller, productName, ean string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sellout.product_mappings (reseller, product_name, ean, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (reseller, product_name) DO UPDATE SET ean = EXCLUDED.ean, updated_at = now()`,
		reseller, productName, ean,
	)
	return eris.Wrap(err, "postgres: upsert product mapping")
}

// ---- currency rates ----

func (s *PostgresStore) Rate(ctx context.Context, from, to string, on time.Time) (decimal.Decimal, error) {
	var rate decimal.Decimal
	err := s.pool.QueryRow(ctx,
		`SELECT rate FROM sellout.currency_rates
		 WHERE from_currency = $1 AND to_currency = $2 AND valid_on <= $3
		 ORDER BY valid_on DESC LIMIT 1`,
		from, to, on,
	).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, &NotFoundError{What: "rate", ID: from + "->" + to}
	}
	if err != nil {
		return decimal.Zero, eris.Wrap(err, "postgres: get rate")
	}
	return rate, nil
}

func (s *PostgresStore) UpsertRate(ctx context.Context, from, to string, rate decimal.Decimal, validOn time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sellout.currency_rates (from_currency, to_currency, rate, valid_on)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (from_currency, to_currency, valid_on) DO UPDATE SET rate = EXCLUDED.rate`,
		from, to, rate, validOn,
	)
	return eris.Wrap(err, "postgres: upsert rate")
}

// ---- scanning helpers ----

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.UploadJob, error) {
	var (
		j             model.UploadJob
		mode, state   string
		formatID      *string
		formatVersion *string
		confidence    *float64
		countsJSON    []byte
		summaryJSON   []byte
		lastError     *string
	)

	err := row.Scan(&j.ID, &j.TenantID, &j.UploaderID, &j.Filename, &j.FileRef,
		&mode, &state, &formatID, &formatVersion, &confidence, &countsJSON,
		&summaryJSON, &lastError, &j.Attempts, &j.SubmittedAt, &j.StartedAt, &j.FinishedAt)
	if err != nil {
		return nil, err
	}

	j.Mode = model.UploadMode(mode)
	j.State = model.JobState(state)
	if formatID != nil {
		j.FormatID = *formatID
	}
	if formatVersion != nil {
		j.FormatVersion = *formatVersion
	}
	if confidence != nil {
		j.Confidence = *confidence
	}
	if lastError != nil {
		j.LastError = *lastError
	}
	if len(countsJSON) > 0 {
		if err := json.Unmarshal(countsJSON, &j.Counts); err != nil {
			return nil, eris.Wrap(err, "unmarshal counts")
		}
	}
	if len(summaryJSON) > 0 {
		if err := json.Unmarshal(summaryJSON, &j.ErrorSummary); err != nil {
			return nil, eris.Wrap(err, "unmarshal error summary")
		}
	}
	return &j, nil
}

