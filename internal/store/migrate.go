package store

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID is the advisory lock key used to serialize schema
// migrations when several workers start at once.
const migrationLockID = 730021

// Migrate applies any pending schema migrations. Each .sql file under
// migrations/ runs at most once, tracked in sellout.schema_migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	names, err := migrationNames()
	if err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return eris.Wrap(err, "migrate: acquire advisory lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, `SELECT pg_advisory_unlock($1)`, migrationLockID); err != nil {
			zap.L().Warn("failed to release migration lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS sellout`); err != nil {
		return eris.Wrap(err, "migrate: create schema")
	}
	if _, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS sellout.schema_migrations (
		   name       TEXT PRIMARY KEY,
		   applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		 )`,
	); err != nil {
		return eris.Wrap(err, "migrate: create schema_migrations")
	}

	for _, name := range names {
		var applied bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM sellout.schema_migrations WHERE name = $1)`, name,
		).Scan(&applied)
		if err != nil {
			return eris.Wrapf(err, "migrate: check %s", name)
		}
		if applied {
			continue
		}

		sql, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "migrate: read %s", name)
		}
		if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
			return eris.Wrapf(err, "migrate: apply %s", name)
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO sellout.schema_migrations (name) VALUES ($1)`, name,
		); err != nil {
			return eris.Wrapf(err, "migrate: record %s", name)
		}
		zap.L().Info("applied migration", zap.String("name", name))
	}
	return nil
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, eris.Wrap(err, "migrate: read embedded migrations")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
