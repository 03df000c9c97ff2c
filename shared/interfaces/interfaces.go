package interfaces

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX abstracts over *pgxpool.Pool and pgx.Tx so repositories can run both
// inside and outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner runs a function within a database transaction, committing on
// success and rolling back on error.
//
//go:generate mockery --name TxRunner --output ./mocks --outpkg mocks --case=underscore
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(q DBTX) error) error
}
