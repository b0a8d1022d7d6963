// Package pgx holds the PostgreSQL plumbing shared by the pgx session
// backend and the schema cache: the Conn abstraction, named pools and
// LISTEN notifications.
package pgx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Conn is satisfied by *pgx.Conn, *pgxpool.Conn and *pgxpool.Pool.
// Sessions run every request in a transaction started with BeginTx.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	// BeginTx unlike database/sql does not roll back when ctx is canceled.
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

var (
	_ Conn = (*pgx.Conn)(nil)
	_ Conn = (*pgxpool.Conn)(nil)
	_ Conn = (*pgxpool.Pool)(nil)
)
