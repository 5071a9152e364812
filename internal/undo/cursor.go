// Package undo is the undo/redo cursor of spec §4.3: it walks the
// next_operation and next_undo_transaction linked lists and replays stored
// before/after images to move the persisted state backward or forward by
// exactly one transaction.
package undo

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/corvid/vertexdb/internal/graph"
	"github.com/corvid/vertexdb/internal/model"
)

// Cursor replays history rows through a graph.Repository to move the undo
// position. It holds no state of its own — everything it needs to decide
// direction lives in the operations/undo_transactions tables.
type Cursor struct {
	repo *graph.Repository
	log  *slog.Logger
}

// New returns a Cursor over repo, logging failed replay steps to log.
func New(repo *graph.Repository, log *slog.Logger) *Cursor {
	if log == nil {
		log = slog.Default()
	}
	return &Cursor{repo: repo, log: log}
}

type operationRow struct {
	id            int64
	opType        model.OpType
	nextOperation int64
}

func getOperation(ctx context.Context, tx *sql.Tx, id int64) (operationRow, bool, error) {
	var row operationRow
	var opType string
	err := tx.QueryRowContext(ctx, `
		SELECT id, operation_type, next_operation FROM operations WHERE id = ?
	`, id).Scan(&row.id, &opType, &row.nextOperation)
	if err == sql.ErrNoRows {
		return operationRow{}, false, nil
	}
	if err != nil {
		return operationRow{}, false, &model.StoreError{Op: "read operation", Err: err}
	}
	row.opType = model.OpType(opType)
	return row, true, nil
}

// findPredecessor returns the operation whose next_operation equals opID,
// or (0, false) if none points to it (opID is the first row in the chain).
func findPredecessor(ctx context.Context, tx *sql.Tx, opID int64) (int64, bool, error) {
	var predID int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM operations WHERE next_operation = ?`, opID).Scan(&predID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &model.StoreError{Op: "find predecessor operation", Err: err}
	}
	return predID, true, nil
}

func firstOperationID(ctx context.Context, tx *sql.Tx) (int64, bool, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM operations ORDER BY id LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &model.StoreError{Op: "find first operation", Err: err}
	}
	return id, true, nil
}

type vertexImage struct {
	byTypeID int64
	typeName string
	before   string
	after    string
	before_  []model.Edge
	after_   []model.Edge
}

func loadImage(ctx context.Context, tx *sql.Tx, opID int64) (vertexImage, error) {
	var img vertexImage
	err := tx.QueryRowContext(ctx, `
		SELECT by_type_id, type_name, before_json, after_json FROM by_type_history WHERE operation_id = ?
	`, opID).Scan(&img.byTypeID, &img.typeName, &img.before, &img.after)
	if err != nil {
		return vertexImage{}, &model.StoreError{Op: "read vertex history", Err: err}
	}
	img.before_, err = loadEdges(ctx, tx, "relations_history_before", opID)
	if err != nil {
		return vertexImage{}, err
	}
	img.after_, err = loadEdges(ctx, tx, "relations_history_after", opID)
	if err != nil {
		return vertexImage{}, err
	}
	return img, nil
}

func loadEdges(ctx context.Context, tx *sql.Tx, table string, opID int64) ([]model.Edge, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT from_id, to_id, relation FROM %s WHERE operation_id = ?
	`, table), opID)
	if err != nil {
		return nil, &model.StoreError{Op: "read edge history", Err: err}
	}
	defer func() { _ = rows.Close() }()
	var edges []model.Edge
	for rows.Next() {
		var e model.Edge
		if err := rows.Scan(&e.FromID, &e.ToID, &e.Relation); err != nil {
			return nil, &model.StoreError{Op: "scan edge history", Err: err}
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StoreError{Op: "iterate edge history", Err: err}
	}
	return edges, nil
}

// apply replays one stored image against the vertex table, per spec §4.3
// apply(op_type, blob, edge_history_table).
func (c *Cursor) apply(ctx context.Context, tx *sql.Tx, opType model.OpType, img vertexImage, blob string, edges []model.Edge) error {
	switch opType {
	case model.OpCreate:
		if err := c.repo.InsertWithID(ctx, tx, img.byTypeID, img.typeName, blob); err != nil {
			return err
		}
		return c.repo.InsertEdges(ctx, tx, edges)
	case model.OpDelete:
		return c.repo.DeleteVertex(ctx, tx, img.byTypeID)
	default: // update
		if err := c.repo.UpdateBlob(ctx, tx, img.byTypeID, blob); err != nil {
			return err
		}
		if err := c.repo.DeleteAllEdgesFor(ctx, tx, img.byTypeID); err != nil {
			return err
		}
		return c.repo.InsertEdges(ctx, tx, edges)
	}
}

func currentTransaction(ctx context.Context, tx *sql.Tx) (model.UndoTransaction, bool, error) {
	var t model.UndoTransaction
	var current int
	err := tx.QueryRowContext(ctx, `
		SELECT id, undo_operation_start, undo_operation_end, current, next_undo_transaction
		FROM undo_transactions WHERE current = 1
	`).Scan(&t.ID, &t.UndoOperationStart, &t.UndoOperationEnd, &current, &t.NextUndoTransaction)
	if err == sql.ErrNoRows {
		return model.UndoTransaction{}, false, nil
	}
	if err != nil {
		return model.UndoTransaction{}, false, &model.StoreError{Op: "read current undo transaction", Err: err}
	}
	t.IsCurrent = current != 0
	return t, true, nil
}

func getTransaction(ctx context.Context, tx *sql.Tx, id int64) (model.UndoTransaction, bool, error) {
	var t model.UndoTransaction
	var current int
	err := tx.QueryRowContext(ctx, `
		SELECT id, undo_operation_start, undo_operation_end, current, next_undo_transaction
		FROM undo_transactions WHERE id = ?
	`, id).Scan(&t.ID, &t.UndoOperationStart, &t.UndoOperationEnd, &current, &t.NextUndoTransaction)
	if err == sql.ErrNoRows {
		return model.UndoTransaction{}, false, nil
	}
	if err != nil {
		return model.UndoTransaction{}, false, &model.StoreError{Op: "read undo transaction", Err: err}
	}
	t.IsCurrent = current != 0
	return t, true, nil
}

func firstTransactionID(ctx context.Context, tx *sql.Tx) (int64, bool, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM undo_transactions ORDER BY id LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &model.StoreError{Op: "find first undo transaction", Err: err}
	}
	return id, true, nil
}

// Undo replays the current transaction's operations in reverse, as their
// inverses, and moves the cursor back one transaction. It returns nil, nil
// if there is no current transaction (spec §4.3 "Tie-breaks").
func (c *Cursor) Undo(ctx context.Context, tx *sql.Tx) (*model.OperationSpan, error) {
	t, ok, err := currentTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	curID := t.UndoOperationEnd
	var lastOpType model.OpType
	for {
		op, ok, err := getOperation(ctx, tx, curID)
		if !ok || err != nil {
			if err != nil {
				c.log.Error("undo: replay step failed reading operation", "operation_id", curID, "error", err)
				return nil, err
			}
			return nil, fmt.Errorf("vertexdb: undo: operation %d not found", curID)
		}
		img, err := loadImage(ctx, tx, op.id)
		if err != nil {
			c.log.Error("undo: replay step failed loading image", "operation_id", op.id, "error", err)
			return nil, err
		}
		inverse := op.opType.Invert()
		lastOpType = inverse
		if err := c.apply(ctx, tx, inverse, img, img.before, img.before_); err != nil {
			c.log.Error("undo: replay step failed applying inverse", "operation_id", op.id, "error", err)
			return nil, err
		}

		predID, hasPred, err := findPredecessor(ctx, tx, curID)
		if err != nil {
			return nil, err
		}
		if !hasPred {
			predID = model.NoNextOperation
		}
		if predID == t.UndoOperationStart || predID == model.NoNextOperation {
			if err := setCurrentOperation(ctx, tx, predID); err != nil {
				return nil, err
			}
			break
		}
		curID = predID
	}

	predTxID, hasPredTx, err := findPredecessorTransaction(ctx, tx, t.ID)
	if err != nil {
		return nil, err
	}
	if !hasPredTx {
		predTxID = model.NoNextTransaction
	}
	if err := setCurrentTransaction(ctx, tx, predTxID); err != nil {
		return nil, err
	}

	return &model.OperationSpan{
		OpType:             lastOpType,
		TransactionID:      t.ID,
		UndoOperationStart: t.UndoOperationStart,
		UndoOperationEnd:   t.UndoOperationEnd,
	}, nil
}

// Redo replays the next transaction's operations forward, as originally
// recorded, and advances the cursor to it. It returns nil, nil if there is
// no next transaction (spec §4.3 "Tie-breaks").
func (c *Cursor) Redo(ctx context.Context, tx *sql.Tx) (*model.OperationSpan, error) {
	var target int64
	t, hasCurrent, err := currentTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	if hasCurrent {
		if t.NextUndoTransaction == model.NoNextTransaction {
			return nil, nil
		}
		target = t.NextUndoTransaction
	} else {
		id, any, err := firstTransactionID(ctx, tx)
		if err != nil {
			return nil, err
		}
		if !any {
			return nil, nil
		}
		target = id
	}

	n, ok, err := getTransaction(ctx, tx, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("vertexdb: redo: undo transaction %d not found", target)
	}

	var curID int64
	if n.UndoOperationStart == model.NoNextOperation || n.UndoOperationStart == 0 {
		id, any, err := firstOperationID(ctx, tx)
		if err != nil {
			return nil, err
		}
		if !any {
			return nil, nil
		}
		curID = id
	} else {
		startOp, ok, err := getOperation(ctx, tx, n.UndoOperationStart)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("vertexdb: redo: operation %d not found", n.UndoOperationStart)
		}
		curID = startOp.nextOperation
	}

	var lastOpType model.OpType
	for {
		op, ok, err := getOperation(ctx, tx, curID)
		if !ok || err != nil {
			if err != nil {
				c.log.Error("redo: replay step failed reading operation", "operation_id", curID, "error", err)
				return nil, err
			}
			return nil, fmt.Errorf("vertexdb: redo: operation %d not found", curID)
		}
		img, err := loadImage(ctx, tx, op.id)
		if err != nil {
			c.log.Error("redo: replay step failed loading image", "operation_id", op.id, "error", err)
			return nil, err
		}
		lastOpType = op.opType
		if err := c.apply(ctx, tx, op.opType, img, img.after, img.after_); err != nil {
			c.log.Error("redo: replay step failed applying", "operation_id", op.id, "error", err)
			return nil, err
		}
		if curID == n.UndoOperationEnd {
			break
		}
		curID = op.nextOperation
		if curID == model.NoNextOperation {
			break
		}
	}

	if err := setCurrentOperation(ctx, tx, n.UndoOperationEnd); err != nil {
		return nil, err
	}
	if err := setCurrentTransaction(ctx, tx, n.ID); err != nil {
		return nil, err
	}

	return &model.OperationSpan{
		OpType:             lastOpType,
		TransactionID:      n.ID,
		UndoOperationStart: n.UndoOperationStart,
		UndoOperationEnd:   n.UndoOperationEnd,
	}, nil
}

func findPredecessorTransaction(ctx context.Context, tx *sql.Tx, id int64) (int64, bool, error) {
	var predID int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM undo_transactions WHERE next_undo_transaction = ?`, id).Scan(&predID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &model.StoreError{Op: "find predecessor undo transaction", Err: err}
	}
	return predID, true, nil
}

func setCurrentOperation(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, `UPDATE operations SET current = 0 WHERE current = 1`); err != nil {
		return &model.StoreError{Op: "clear current operation", Err: err}
	}
	if id == model.NoNextOperation || id == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE operations SET current = 1 WHERE id = ?`, id); err != nil {
		return &model.StoreError{Op: "set current operation", Err: err}
	}
	return nil
}

func setCurrentTransaction(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, `UPDATE undo_transactions SET current = 0 WHERE current = 1`); err != nil {
		return &model.StoreError{Op: "clear current undo transaction", Err: err}
	}
	if id == model.NoNextTransaction || id == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE undo_transactions SET current = 1 WHERE id = ?`, id); err != nil {
		return &model.StoreError{Op: "set current undo transaction", Err: err}
	}
	return nil
}
