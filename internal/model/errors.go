package model

import "errors"

// Sentinel errors surfaced across package boundaries. Store and codec
// errors from the underlying driver are wrapped with fmt.Errorf("...: %w")
// at the call site rather than normalized into sentinels here — callers
// that need to distinguish them use errors.As against *StoreError /
// *CodecError below.

// ErrNoCurrentTransaction names the case where Undo finds no current
// undo_transactions row. Nothing returns it: Cursor.Undo reports that case
// directly as a nil, nil no-op.
var ErrNoCurrentTransaction = errors.New("vertexdb: no current undo transaction")

// ErrNoTransactions names the case where Redo finds the undo_transactions
// table empty. Nothing returns it: Cursor.Redo reports that case directly
// as a nil, nil no-op.
var ErrNoTransactions = errors.New("vertexdb: no undo transactions recorded")

// errIdempotentNoop is the internal sentinel the transaction bracket uses
// to roll back a save that would produce no observable change (spec §4.4,
// §7 kind 3). It never escapes internal/txn.
var errIdempotentNoop = errors.New("vertexdb: idempotent update, nothing to record")

// ErrIdempotentNoop is the exported form of errIdempotentNoop, for
// packages outside internal/txn that need to recognize it with errors.Is
// (the bracket itself swallows it before it reaches an Engine caller).
var ErrIdempotentNoop = errIdempotentNoop

// StoreError wraps a failure returned by the underlying relational store
// (I/O, constraint violation, closed connection). Spec §7 kind 1:
// propagated to the caller of every mutation. Engine.Undo/Redo are the
// exception: they log a replay failure and report it as a nil, nil no-op.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "vertexdb: store error during " + e.Op + ": " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

// CodecError wraps a JSON encode/decode failure. Spec §7 kind 2: fatal for
// the current call, bracket rolls back.
type CodecError struct {
	TypeName string
	Err      error
}

func (e *CodecError) Error() string {
	return "vertexdb: codec error for type " + e.TypeName + ": " + e.Err.Error()
}
func (e *CodecError) Unwrap() error { return e.Err }
