package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFromTx bulk-inserts rows inside an existing transaction using the
// PostgreSQL COPY protocol, so a purge and the insert that follows commit or
// roll back together. COPY is the fastest way to insert large volumes.
func CopyFromTx(ctx context.Context, tx pgx.Tx, table pgx.Identifier, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := tx.CopyFrom(ctx, table, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table.Sanitize())
	}
	return n, nil
}
