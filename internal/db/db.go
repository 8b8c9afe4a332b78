// Package db is the project database: one embedded SQLite/GeoPackage file
// holding the spatial feature tables and the relational metadata of a
// riverscape project.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"golang.org/x/sync/semaphore"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/monitoring"
)

var logf = monitoring.Component("db")

// DB wraps the project connection pool.
type DB struct {
	*sql.DB

	path  string
	write *semaphore.Weighted
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// pragmas are applied to every pooled connection through the DSN.
var pragmas = []string{
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
}

func dsn(path string) string {
	var b strings.Builder
	b.WriteString("file:")
	b.WriteString(path)
	for i, p := range pragmas {
		if i == 0 {
			b.WriteString("?")
		} else {
			b.WriteString("&")
		}
		b.WriteString("_pragma=")
		b.WriteString(p)
	}
	return b.String()
}

// OpenDB opens an existing project database without touching its schema.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, errors.New(errors.KindIO, "open project database", err)
	}
	return &DB{
		DB:    sqlDB,
		path:  path,
		write: semaphore.NewWeighted(1),
	}, nil
}

// NewDB opens (creating if needed) a project database and applies the
// bundled schema migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Transaction runs fn inside a transaction. It commits when fn returns nil and
// rolls back on error or panic.
func (db *DB) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			// ErrTxDone means transaction was already committed
			logf("warning: failed to rollback transaction: %v", rbErr)
		}
	}()

	if err := fn(tx); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// WithWriteLock runs fn while holding the single project write slot. Only
// one background task writes at a time; reads are not gated.
func (db *DB) WithWriteLock(ctx context.Context, fn func() error) error {
	if err := db.write.Acquire(ctx, 1); err != nil {
		return errors.New(errors.KindCancelled, "acquire write lock", err)
	}
	defer db.write.Release(1)
	return fn()
}

// mapError converts SQLite constraint failures into kinded errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.KindOf(err) != errors.KindGeneric {
		return err
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return errors.New(errors.KindDuplicateName, "", err)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY, sqlite3.SQLITE_CONSTRAINT_NOTNULL,
			sqlite3.SQLITE_CONSTRAINT_CHECK, sqlite3.SQLITE_CONSTRAINT_TRIGGER:
			return errors.New(errors.KindSchema, "", err)
		}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return errors.New(errors.KindDuplicateName, "", err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"),
		strings.Contains(msg, "NOT NULL constraint failed"),
		strings.Contains(msg, "CHECK constraint failed"):
		return errors.New(errors.KindSchema, "", err)
	}
	return err
}

// writeErr wraps err for op after mapping constraint failures.
func writeErr(op string, err error) error {
	mapped := mapError(err)
	if k := errors.KindOf(mapped); k != errors.KindGeneric {
		return errors.New(k, op, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
