// Package sqlitedb opens the single-file SQLite store used by the sqlite
// driver. Times are stored as unix nanoseconds so range filters compare
// integers.
package sqlitedb

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

//go:embed schema.sql
var schema string

type contextKey string

const txKey contextKey = "sqlite_tx"

// Queryable is satisfied by *sql.DB and *sql.Tx.
type Queryable interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Open creates (if needed) and opens the database at path and applies the
// schema. A single connection is used: SQLite serialises writers anyway and
// one connection keeps transactions free of SQLITE_BUSY.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		path = "pillara.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("migrate: db is nil")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: apply schema: %w", err)
	}
	return nil
}

// TxFromContext returns the transaction started by Transactor.InTx, if any.
func TxFromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey).(*sql.Tx)
	return tx
}

// Conn returns the transaction carried by ctx, falling back to db.
func Conn(ctx context.Context, db *sql.DB) Queryable {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return db
}

// Transactor runs a unit of work inside one sql.Tx.
type Transactor struct {
	db *sql.DB
}

func NewTransactor(db *sql.DB) *Transactor {
	return &Transactor{db: db}
}

func (t *Transactor) InTx(ctx context.Context, fn func(ctx context.Context) error) (retErr error) {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(context.WithValue(ctx, txKey, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ToUnix and FromUnix convert between time.Time and the stored column value.
func ToUnix(t time.Time) int64 { return t.UTC().UnixNano() }

func FromUnix(ns int64) time.Time { return time.Unix(0, ns).UTC() }
