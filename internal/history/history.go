// Package history is the history writer of spec §4.2: it wraps
// internal/graph's repository so every mutation also appends a linked
// operations row and before/after snapshots, and it vetoes no-op updates
// before they reach the operations list.
package history

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/corvid/vertexdb/internal/graph"
	"github.com/corvid/vertexdb/internal/model"
)

// Writer records before/after images around a single mutation and links
// a new operations row into the next_operation chain. It holds no
// per-transaction state, so one Writer serves an Engine for its lifetime.
type Writer struct {
	repo *graph.Repository
}

// New returns a Writer over repo.
func New(repo *graph.Repository) *Writer {
	return &Writer{repo: repo}
}

// Snapshot captures a vertex's current blob and incident edge set, taken
// either before a mutation (to become before_json/relations_history_before)
// or after one (after_json/relations_history_after).
type Snapshot struct {
	TypeName string
	Blob     string // "" if the vertex doesn't exist (create's before, delete's after)
	Edges    []model.Edge
}

// CaptureBefore reads the current state of vertexID ahead of an update or
// delete. For a create, the caller passes a zero-value Snapshot instead
// (there is nothing to read: the row doesn't exist yet).
func (w *Writer) CaptureBefore(ctx context.Context, tx *sql.Tx, vertexID int64) (Snapshot, error) {
	typeName, blob, ok, err := w.repo.ReadBlob(ctx, tx, vertexID)
	if err != nil {
		return Snapshot{}, err
	}
	if !ok {
		return Snapshot{}, nil
	}
	edges, err := w.repo.IncidentEdges(ctx, tx, vertexID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{TypeName: typeName, Blob: blob, Edges: edges}, nil
}

// CaptureAfter reads the state of vertexID once a mutation has fully
// completed (after save_related for create/update, after edge deletion
// for delete).
func (w *Writer) CaptureAfter(ctx context.Context, tx *sql.Tx, vertexID int64) (Snapshot, error) {
	return w.CaptureBefore(ctx, tx, vertexID)
}

// RecordOperation appends one operations row for vertexID, links it as the
// new current operation (bootstrapping the chain if this is the first
// row), and writes the vertex-history and edge-history rows described by
// before/after. It returns the new operation's id.
//
// checkIdempotence gates the idempotence guard of spec §4.4, which only
// applies "in the single-op case": a plain, non-recursive Save. If
// checkIdempotence is true, opType is model.OpUpdate, and before/after
// describe no real change (identical blobs and edge sets as sets), it
// returns model.ErrIdempotentNoop instead of writing anything — the
// caller (internal/txn) rolls back the whole bracket on that sentinel.
// SaveAll/DeleteAll pass checkIdempotence=false: a no-op child save inside
// a larger multi-vertex transaction must not veto its siblings' writes.
func (w *Writer) RecordOperation(ctx context.Context, tx *sql.Tx, opType model.OpType, vertexID int64, before, after Snapshot, checkIdempotence bool) (int64, error) {
	if checkIdempotence && opType == model.OpUpdate && isNoop(before, after) {
		return 0, model.ErrIdempotentNoop
	}

	opID, err := w.insertOperation(ctx, tx, opType)
	if err != nil {
		return 0, err
	}

	typeName := before.TypeName
	if typeName == "" {
		typeName = after.TypeName
	}

	var beforeJSON, afterJSON string
	switch opType {
	case model.OpCreate:
		afterJSON = after.Blob
	case model.OpDelete:
		beforeJSON = before.Blob
	default: // update
		beforeJSON = before.Blob
		afterJSON = after.Blob
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO by_type_history (operation_id, by_type_id, type_name, before_json, after_json)
		VALUES (?, ?, ?, ?, ?)
	`, opID, vertexID, typeName, beforeJSON, afterJSON); err != nil {
		return 0, &model.StoreError{Op: "insert vertex history", Err: err}
	}

	if err := w.insertEdgeHistory(ctx, tx, "relations_history_before", opID, before.Edges); err != nil {
		return 0, err
	}
	if err := w.insertEdgeHistory(ctx, tx, "relations_history_after", opID, after.Edges); err != nil {
		return 0, err
	}

	return opID, nil
}

func (w *Writer) insertEdgeHistory(ctx context.Context, tx *sql.Tx, table string, opID int64, edges []model.Edge) error {
	for _, e := range edges {
		q := fmt.Sprintf(`INSERT INTO %s (operation_id, from_id, to_id, relation) VALUES (?, ?, ?, ?)`, table)
		if _, err := tx.ExecContext(ctx, q, opID, e.FromID, e.ToID, e.Relation); err != nil {
			return &model.StoreError{Op: "insert edge history into " + table, Err: err}
		}
	}
	return nil
}

// insertOperation inserts a new, not-yet-current operation row and links
// it per spec §4.2 steps 1-3: the previous current operation's
// next_operation is pointed at the new row (or, when rows exist but none
// is current, the chain is bootstrapped by patching the first row's
// next_operation; with no prior row at all the new row is the head),
// the previous current is demoted, and the new row becomes current.
func (w *Writer) insertOperation(ctx context.Context, tx *sql.Tx, opType model.OpType) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO operations (operation_type, current, next_operation) VALUES (?, 0, ?)
	`, string(opType), model.NoNextOperation)
	if err != nil {
		return 0, &model.StoreError{Op: "insert operation", Err: err}
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, &model.StoreError{Op: "read operation id", Err: err}
	}

	var prevID sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT id FROM operations WHERE current = 1`).Scan(&prevID)
	switch {
	case err == sql.ErrNoRows:
		// No current operation. If any row precedes the new one (can only
		// happen if a prior transaction was fully undone, leaving no row
		// "current" even though rows exist), bootstrap by patching the
		// first row in insertion order so the chain stays connected.
		var firstID sql.NullInt64
		ferr := tx.QueryRowContext(ctx, `
			SELECT id FROM operations WHERE id != ? ORDER BY id LIMIT 1
		`, newID).Scan(&firstID)
		if ferr == nil && firstID.Valid {
			if _, err := tx.ExecContext(ctx, `UPDATE operations SET next_operation = ? WHERE id = ?`, newID, firstID.Int64); err != nil {
				return 0, &model.StoreError{Op: "bootstrap operation chain", Err: err}
			}
		} else if ferr != nil && ferr != sql.ErrNoRows {
			return 0, &model.StoreError{Op: "find first operation", Err: ferr}
		}
	case err != nil:
		return 0, &model.StoreError{Op: "find current operation", Err: err}
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE operations SET next_operation = ?, current = 0 WHERE id = ?
		`, newID, prevID.Int64); err != nil {
			return 0, &model.StoreError{Op: "relink prior operation", Err: err}
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE operations SET current = 1 WHERE id = ?`, newID); err != nil {
		return 0, &model.StoreError{Op: "mark operation current", Err: err}
	}

	return newID, nil
}

// isNoop reports whether an update's before/after snapshots describe no
// real change: identical JSON blobs and equal edge sets. Edge order
// doesn't matter; the number of copies of each edge does.
func isNoop(before, after Snapshot) bool {
	if before.Blob != after.Blob {
		return false
	}
	return edgeSetsEqual(before.Edges, after.Edges)
}

func edgeSetsEqual(a, b []model.Edge) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[model.Edge]int, len(a))
	for _, e := range a {
		counts[e]++
	}
	for _, e := range b {
		counts[e]--
	}
	for _, n := range counts {
		if n != 0 {
			return false
		}
	}
	return true
}

// CurrentOperationID returns the id of the current operation, or 0 if
// none (spec §4.4 step 2: "tx_start_op = current_operation_id() or 0 if
// none").
func CurrentOperationID(ctx context.Context, tx *sql.Tx) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM operations WHERE current = 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, &model.StoreError{Op: "read current operation", Err: err}
	}
	return id, nil
}
