// Package txn is the transaction bracket of spec §4.4: it opens one store
// transaction per top-level engine call, tracks the span of operation ids
// the call produced, and links a new undo_transactions row over that span
// when the call commits. Nested engine calls made from within a user
// model's save_related/delete_related participate in the already-open
// bracket instead of opening their own (spec §5 "Reentrancy").
package txn

import (
	"context"
	"database/sql"
	"errors"

	"github.com/corvid/vertexdb/internal/history"
	"github.com/corvid/vertexdb/internal/model"
	"github.com/corvid/vertexdb/internal/store"
)

type ctxKey struct{}

// txFromContext returns the active transaction, and whether one is open,
// so Run can tell a fresh top-level call from a reentrant nested one.
func txFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(ctxKey{}).(*sql.Tx)
	return tx, ok
}

func withTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, ctxKey{}, tx)
}

// Bracket owns the store handle the transaction bracket runs against.
type Bracket struct {
	store *store.Store
}

// New returns a Bracket over s.
func New(s *store.Store) *Bracket {
	return &Bracket{store: s}
}

// Run executes action inside a transaction bracket. If ctx already carries
// an open transaction (a nested call from within a user model's
// save_related/delete_related/initialize), action runs directly against
// it and Run does not open or link anything of its own — the outer
// bracket owns the whole span. Otherwise Run opens a store transaction,
// runs action, and on success inserts a new undo_transactions row spanning
// every operation action produced, linked as the new current transaction.
//
// If action returns model.ErrIdempotentNoop (spec §4.4's idempotence
// guard), the store transaction is rolled back and Run returns nil: an
// idempotent no-op save is a successful call that simply left no trace.
func (b *Bracket) Run(ctx context.Context, action func(ctx context.Context, tx *sql.Tx) error) error {
	if tx, nested := txFromContext(ctx); nested {
		return action(ctx, tx)
	}

	err := b.store.WithTx(ctx, func(tx *sql.Tx) error {
		startOp, err := history.CurrentOperationID(ctx, tx)
		if err != nil {
			return err
		}

		if err := action(withTx(ctx, tx), tx); err != nil {
			return err
		}

		endOp, err := history.CurrentOperationID(ctx, tx)
		if err != nil {
			return err
		}
		if endOp == startOp {
			// action ran but produced no new operation (e.g. save_all over
			// an empty tree); nothing to link.
			return nil
		}
		return linkTransaction(ctx, tx, startOp, endOp)
	})

	if errors.Is(err, model.ErrIdempotentNoop) {
		return nil
	}
	return err
}

// linkTransaction inserts undo_transactions(start, end, next=-1, current=
// false), then performs spec §4.4 step 6: the prior current transaction's
// next_undo_transaction is pointed at the new row and it is demoted, and
// the new row becomes current.
func linkTransaction(ctx context.Context, tx *sql.Tx, startOp, endOp int64) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO undo_transactions (undo_operation_start, undo_operation_end, current, next_undo_transaction)
		VALUES (?, ?, 0, ?)
	`, startOp, endOp, model.NoNextTransaction)
	if err != nil {
		return &model.StoreError{Op: "insert undo transaction", Err: err}
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return &model.StoreError{Op: "read undo transaction id", Err: err}
	}

	var prevID sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT id FROM undo_transactions WHERE current = 1 AND id != ?`, newID).Scan(&prevID)
	switch {
	case err == sql.ErrNoRows:
		// first transaction ever recorded; nothing to relink.
	case err != nil:
		return &model.StoreError{Op: "find current undo transaction", Err: err}
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE undo_transactions SET next_undo_transaction = ?, current = 0 WHERE id = ?
		`, newID, prevID.Int64); err != nil {
			return &model.StoreError{Op: "relink prior undo transaction", Err: err}
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE undo_transactions SET current = 1 WHERE id = ?`, newID); err != nil {
		return &model.StoreError{Op: "mark undo transaction current", Err: err}
	}
	return nil
}

// TxFromContext exposes txFromContext to the root engine façade, which
// needs to tell whether a call is already inside a bracket-managed
// transaction.
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	return txFromContext(ctx)
}

// WithTx exposes withTx so a caller that opened its own store transaction
// outside Bracket.Run can attach it to ctx. Nothing in this module calls
// it; Engine.Undo/Redo run their store transaction without it.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return withTx(ctx, tx)
}
