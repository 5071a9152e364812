package txn_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/corvid/vertexdb/internal/config"
	"github.com/corvid/vertexdb/internal/store"
	"github.com/corvid/vertexdb/internal/txn"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, t.TempDir()+"/test.db", config.Default(), nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
	return s
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func insertOperation(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO operations (operation_type, current, next_operation) VALUES ('update', 1, -1)`)
	return err
}

func TestBracketLinksOneTransactionPerTopLevelRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := txn.New(s)

	err := b.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return insertOperation(ctx, tx)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := countRows(t, s.DB(), "undo_transactions"); got != 1 {
		t.Fatalf("undo_transactions rows = %d, want 1", got)
	}
}

func TestBracketNestedRunParticipatesInOuter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := txn.New(s)

	err := b.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := insertOperation(ctx, tx); err != nil {
			return err
		}
		// A nested Run (as happens when a model's SaveRelated recursively
		// triggers another engine call) must not open a second bracket.
		return b.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
			return insertOperation(ctx, tx)
		})
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := countRows(t, s.DB(), "undo_transactions"); got != 1 {
		t.Fatalf("undo_transactions rows after a nested Run = %d, want 1 (nested call must not open its own bracket)", got)
	}
	if got := countRows(t, s.DB(), "operations"); got != 2 {
		t.Fatalf("operations rows = %d, want 2", got)
	}
}

func TestBracketRollsBackOnActionError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := txn.New(s)

	err := b.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := insertOperation(ctx, tx); err != nil {
			return err
		}
		return context.Canceled
	})
	if err == nil {
		t.Fatalf("Run with a failing action returned nil, want an error")
	}

	if got := countRows(t, s.DB(), "operations"); got != 0 {
		t.Fatalf("operations rows after a rolled-back Run = %d, want 0", got)
	}
	if got := countRows(t, s.DB(), "undo_transactions"); got != 0 {
		t.Fatalf("undo_transactions rows after a rolled-back Run = %d, want 0", got)
	}
}

func TestBracketNoOperationsProducesNoTransaction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := txn.New(s)

	err := b.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return nil // e.g. SaveAll over an empty tree
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := countRows(t, s.DB(), "undo_transactions"); got != 0 {
		t.Fatalf("undo_transactions rows after a no-op action = %d, want 0", got)
	}
}
