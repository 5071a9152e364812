// Package store is the thin binding over the relational engine that every
// layer above it goes through: open/close, schema creation, a single
// transaction primitive, and the underlying *sql.DB for queries. It knows
// nothing about vertices, edges, or undo history — that vocabulary lives in
// internal/graph, internal/history, and internal/undo.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/corvid/vertexdb/internal/config"
)

// Store owns the single SQLite connection pool (and, for file-backed
// databases, the advisory lock guaranteeing the engine is the only writer)
// for one opened database.
type Store struct {
	db   *sql.DB
	lock *flock.Flock // nil for in-memory databases
	path string
	log  *slog.Logger
}

// Open creates (if needed) and opens the SQLite database at path, applies
// the idempotent schema, and takes an advisory file lock next to it so a
// second Open against the same path fails fast instead of corrupting state
// (spec §5: "the store connection is exclusively owned by the engine").
// path may be ":memory:" or a "file::memory:?..." DSN, in which case no
// file lock is taken. cfg supplies the journal mode, busy timeout,
// lock-acquire timeout, and WAL auto-checkpoint threshold; pass
// config.Default() for a caller with no config file or environment
// overrides of its own.
func Open(ctx context.Context, path string, cfg config.Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("vertexdb: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer embedded file: one connection, no pool contention

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("vertexdb: connect to database: %w", err)
	}

	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA journal_mode=%s", cfg.JournalMode),
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds()),
		fmt.Sprintf("PRAGMA wal_autocheckpoint=%d", cfg.WALCheckpointPages),
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("vertexdb: apply %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path, log: log}

	if isFileBacked(path) {
		lockCtx, cancel := context.WithTimeout(ctx, cfg.LockTimeout)
		defer cancel()

		s.lock = flock.New(path + ".lock")
		locked, err := s.lock.TryLockContext(lockCtx, lockPollInterval)
		if err != nil || !locked {
			_ = db.Close()
			return nil, fmt.Errorf("vertexdb: database %s is already open by another process", path)
		}
	}

	if err := applySchema(ctx, db); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the advisory lock (if any) and closes the connection
// pool.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}
	return err
}

// DB returns the underlying *sql.DB for packages that need direct query
// access (internal/graph, internal/history, internal/undo, internal/
// completion). Mirrors the escape hatch the store façade is documented to
// provide in spec §4.1: "Everything above uses it."
func (s *Store) DB() *sql.DB { return s.db }

// Logger returns the structured logger the store was opened with, shared
// by the layers above so every package logs through one sink.
func (s *Store) Logger() *slog.Logger { return s.log }

// WithTx runs fn inside a single database transaction: commits on nil
// return, rolls back on any error (including panics, which are re-raised
// after rollback). This is the one transaction primitive everything above
// the store façade uses (spec §6.1: "a transaction(block) primitive that
// commits on success and rolls back on any error").
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vertexdb: begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("vertexdb: rollback after %v: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vertexdb: commit transaction: %w", err)
	}
	return nil
}

// isFileBacked reports whether path names an on-disk database rather than
// an in-memory one (":memory:" or a "file::memory:?..." DSN), which is the
// only case the single-writer advisory lock applies to.
func isFileBacked(path string) bool {
	if path == ":memory:" {
		return false
	}
	return !strings.Contains(path, ":memory:")
}

// lockPollInterval is how often TryLockContext retries within whatever
// overall timeout cfg.LockTimeout establishes.
const lockPollInterval = 20 * time.Millisecond
