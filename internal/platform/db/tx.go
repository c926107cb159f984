package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const DBTxKey contextKey = "db_tx"

// Queryable is satisfied by *pgxpool.Pool and pgx.Tx so repositories can run
// the same statements inside or outside a transaction.
type Queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// TxFromContext retrieves the transaction started by a Transactor, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// Conn returns the transaction carried by ctx, falling back to the pool.
func Conn(ctx context.Context, pool *pgxpool.Pool) Queryable {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// PoolTransactor runs a function inside a single pgx transaction. The
// transaction travels in the context handed to fn; repositories pick it up
// through Conn.
type PoolTransactor struct {
	pool *pgxpool.Pool
}

func NewPoolTransactor(pool *pgxpool.Pool) *PoolTransactor {
	return &PoolTransactor{pool: pool}
}

// InTx commits when fn returns nil and rolls back otherwise. A context that
// is cancelled mid-way rolls the whole unit back.
func (t *PoolTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if t == nil || t.pool == nil {
		return fmt.Errorf("no database connection in context")
	}
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, DBTxKey, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
