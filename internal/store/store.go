// Package store is the persistence layer: it owns the lifetime of every
// record in the system and exposes session-scoped transactions, CRUD, list
// queries, and bulk operations over them. No other package touches the
// database directly.
package store

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a sqlx.DB handle to the sqlite database backing every entity
// in §3: validations, recommendations, workflows, audit entries,
// performance samples, cache entries, maintenance flags, checkpoints.
type Store struct {
	db *sqlx.DB
}

// Open connects to the sqlite database at path and applies any pending
// goose migrations.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY under concurrent handlers

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive, backing the "database"
// component of get_system_status.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Session is a single database transaction, acquired for the duration of
// one handler invocation. WithSession ends every Session with a commit or
// a rollback; Session itself exposes no way to end the transaction.
type Session struct {
	tx *sqlx.Tx
}

// WithSession runs fn inside a single transaction. If fn returns an error,
// the transaction is rolled back and the error is returned; otherwise the
// transaction is committed. This is the only way callers acquire write
// access to the store, guaranteeing release on every exit path.
func (s *Store) WithSession(ctx context.Context, fn func(sess *Session) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	sess := &Session{tx: tx}
	if err := fn(sess); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// nowUTC returns the current instant formatted with millisecond precision,
// matching the UTC-with-millisecond-precision timestamp convention every
// entity uses.
func nowUTC() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
