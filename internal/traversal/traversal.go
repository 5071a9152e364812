// Package traversal backs save_all/delete_all (spec §4.5): a recursive,
// transaction-bracketed walk over the edges a user model declares, guarded
// against cycles by a per-traversal visited set keyed on record identity.
package traversal

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/corvid/vertexdb/internal/record"
)

type ctxKey struct{}

// Walker tracks which records a single save_all/delete_all call has
// already visited, so a cycle in the user model's edges (A references B,
// B references A) terminates instead of recursing forever. Identity is
// the record's own interface value, which for the pointer-receiver
// Record implementations the engine requires is just pointer equality —
// no separate tagging scheme is needed once a Go value has an address.
type Walker struct {
	id      uuid.UUID
	log     *slog.Logger
	visited map[record.Record]bool
}

// NewWalker starts a fresh traversal with its own correlation id, logged
// on every step so a multi-vertex save_all/delete_all can be traced as one
// unit through structured logs.
func NewWalker(log *slog.Logger) *Walker {
	if log == nil {
		log = slog.Default()
	}
	id := uuid.New()
	w := &Walker{
		id:      id,
		log:     log.With("traversal_id", id.String()),
		visited: make(map[record.Record]bool),
	}
	w.log.Debug("traversal started")
	return w
}

// Visit marks rec visited and reports whether it was already visited
// before this call (in which case the caller must not descend into it
// again). Both outcomes are logged through the traversal-scoped logger so
// a cycle is visible in the trace, not just in the final result.
func (w *Walker) Visit(rec record.Record) (alreadyVisited bool) {
	if w.visited[rec] {
		w.log.Debug("cycle detected, skipping already-visited record",
			"type_name", rec.TypeName(), "id", rec.ID())
		return true
	}
	w.visited[rec] = true
	w.log.Debug("visiting record", "type_name", rec.TypeName(), "id", rec.ID())
	return false
}

// Logger returns the traversal-scoped logger.
func (w *Walker) Logger() *slog.Logger { return w.log }

// WithWalker attaches w to ctx so nested engine calls made from within a
// user model's SaveRelated/DeleteRelated callback (reached through
// record.RelationSaver) can find the active traversal.
func WithWalker(ctx context.Context, w *Walker) context.Context {
	return context.WithValue(ctx, ctxKey{}, w)
}

// FromContext returns the active Walker, if any. A plain (non-recursive)
// Save has none: its SaveRelations call never needs to descend.
func FromContext(ctx context.Context) (*Walker, bool) {
	w, ok := ctx.Value(ctxKey{}).(*Walker)
	return w, ok
}
