package graph

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/corvid/vertexdb/internal/model"
	"github.com/corvid/vertexdb/internal/record"
)

// Repository is the vertex/edge repository of spec §4.1: CRUD over
// by_type/relations, serialized through each Record's own codec. It talks
// directly to *sql.DB/*sql.Tx handed to it by the layer above (internal/
// history, internal/txn) rather than opening its own transactions — every
// write here must already be inside one from the caller.
type Repository struct {
	factories map[string]record.Factory
}

// New creates a Repository with no registered types; call Register for
// each Record type an application wants to load via Retrieve/Related.
func New() *Repository {
	return &Repository{factories: make(map[string]record.Factory)}
}

// Register associates a type name with a constructor so the repository
// can decode rows of that type into a concrete Go value.
func (r *Repository) Register(typeName string, f record.Factory) {
	r.factories[typeName] = f
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// decode builds a Record from a by_type row: unmarshal scalars, assign id,
// then call Initialize so the record can resolve its own edges lazily
// through the given resolver (spec §4.1 "writes back its id and a back-
// reference to the persister").
func (r *Repository) decode(ctx context.Context, q querier, resolver record.Resolver, typeName string, id int64, jsonBlob string) (record.Record, error) {
	factory, ok := r.factories[typeName]
	if !ok {
		return nil, &model.CodecError{TypeName: typeName, Err: fmt.Errorf("no factory registered for type %q", typeName)}
	}
	rec := factory()
	if err := rec.UnmarshalScalars([]byte(jsonBlob)); err != nil {
		return nil, &model.CodecError{TypeName: typeName, Err: err}
	}
	rec.SetID(id)
	if err := rec.Initialize(ctx, resolver); err != nil {
		return nil, fmt.Errorf("vertexdb: initialize %s#%d: %w", typeName, id, err)
	}
	return rec, nil
}

// Retrieve returns every vertex of typeName in insertion (id) order.
func (r *Repository) Retrieve(ctx context.Context, q querier, resolver record.Resolver, typeName string) ([]record.Record, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, json FROM by_type WHERE type_name = ? ORDER BY id
	`, typeName)
	if err != nil {
		return nil, &model.StoreError{Op: "retrieve", Err: err}
	}
	defer func() { _ = rows.Close() }()
	return r.scanAll(ctx, q, resolver, typeName, rows)
}

// RetrievePage returns vertices of typeName starting at offset start, at
// most limit of them, in insertion order.
func (r *Repository) RetrievePage(ctx context.Context, q querier, resolver record.Resolver, typeName string, start, limit int) ([]record.Record, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, json FROM by_type WHERE type_name = ? ORDER BY id LIMIT ? OFFSET ?
	`, typeName, limit, start)
	if err != nil {
		return nil, &model.StoreError{Op: "retrieve page", Err: err}
	}
	defer func() { _ = rows.Close() }()
	return r.scanAll(ctx, q, resolver, typeName, rows)
}

func (r *Repository) scanAll(ctx context.Context, q querier, resolver record.Resolver, typeName string, rows *sql.Rows) ([]record.Record, error) {
	var out []record.Record
	for rows.Next() {
		var id int64
		var blob string
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, &model.StoreError{Op: "scan vertex", Err: err}
		}
		rec, err := r.decode(ctx, q, resolver, typeName, id, blob)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StoreError{Op: "iterate vertices", Err: err}
	}
	return out, nil
}

// RetrieveByID returns the vertex with the given id, if it exists and its
// type_name matches typeName; a mismatched type yields no result (spec
// §4.1: "wrong type_name yields none").
func (r *Repository) RetrieveByID(ctx context.Context, q querier, resolver record.Resolver, typeName string, id int64) (record.Record, error) {
	var blob string
	err := q.QueryRowContext(ctx, `
		SELECT json FROM by_type WHERE id = ? AND type_name = ?
	`, id, typeName).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &model.StoreError{Op: "retrieve by id", Err: err}
	}
	return r.decode(ctx, q, resolver, typeName, id, blob)
}

// Related returns the vertices of toType reachable from fromID via edges
// labeled property, in edge-row insertion order.
func (r *Repository) Related(ctx context.Context, q querier, resolver record.Resolver, fromID int64, property, toType string) ([]record.Record, error) {
	if fromID == 0 {
		return nil, nil // spec §7 kind 5: unsaved object yields empty results, not an error
	}
	rows, err := q.QueryContext(ctx, `
		SELECT bt.id, bt.json
		FROM relations rel
		JOIN by_type bt ON bt.id = rel.to_id
		WHERE rel.from_id = ? AND rel.relation = ? AND bt.type_name = ?
		ORDER BY rel.rowid
	`, fromID, property, toType)
	if err != nil {
		return nil, &model.StoreError{Op: "related", Err: err}
	}
	defer func() { _ = rows.Close() }()
	return r.scanAll(ctx, q, resolver, toType, rows)
}

// RelatedItem is Related restricted to exactly one result; zero or more
// than one result yields none (spec §4.1).
func (r *Repository) RelatedItem(ctx context.Context, q querier, resolver record.Resolver, fromID int64, property, toType string) (record.Record, error) {
	items, err := r.Related(ctx, q, resolver, fromID, property, toType)
	if err != nil {
		return nil, err
	}
	if len(items) != 1 {
		return nil, nil
	}
	return items[0], nil
}

// SaveProperties inserts or updates the vertex row for rec. If rec.ID() is
// 0 it inserts and writes the assigned id back onto rec; otherwise it
// updates the existing row. Callers must follow this with SaveRelated on
// rec (spec §4.1: "The caller must then invoke save_related").
func (r *Repository) SaveProperties(ctx context.Context, tx *sql.Tx, rec record.Record) error {
	blob, err := rec.MarshalScalars()
	if err != nil {
		return &model.CodecError{TypeName: rec.TypeName(), Err: err}
	}

	if rec.ID() == 0 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO by_type (type_name, json) VALUES (?, ?)
		`, rec.TypeName(), string(blob))
		if err != nil {
			return &model.StoreError{Op: "insert vertex", Err: err}
		}
		id, err := res.LastInsertId()
		if err != nil {
			return &model.StoreError{Op: "read assigned id", Err: err}
		}
		rec.SetID(id)
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE by_type SET json = ? WHERE id = ? AND type_name = ?
	`, string(blob), rec.ID(), rec.TypeName())
	if err != nil {
		return &model.StoreError{Op: "update vertex", Err: err}
	}
	return nil
}

// InsertWithID re-inserts a vertex row using a caller-supplied id, used
// only by undo/redo replay to restore a vertex at its original id (spec
// §3.2 invariant 5).
func (r *Repository) InsertWithID(ctx context.Context, tx *sql.Tx, id int64, typeName, blob string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO by_type (id, type_name, json) VALUES (?, ?, ?)
	`, id, typeName, blob)
	if err != nil {
		return &model.StoreError{Op: "re-insert vertex", Err: err}
	}
	return nil
}

// UpdateBlob overwrites the json column of an existing vertex row, used by
// undo/redo replay of update operations.
func (r *Repository) UpdateBlob(ctx context.Context, tx *sql.Tx, id int64, blob string) error {
	_, err := tx.ExecContext(ctx, `UPDATE by_type SET json = ? WHERE id = ?`, blob, id)
	if err != nil {
		return &model.StoreError{Op: "update vertex blob", Err: err}
	}
	return nil
}

// ReadBlob returns the current json blob and type_name for a vertex id, or
// ("", "", false) if it doesn't exist. Used by the history writer to
// capture the "before" image ahead of an update.
func (r *Repository) ReadBlob(ctx context.Context, q querier, id int64) (typeName, blob string, ok bool, err error) {
	row := q.QueryRowContext(ctx, `SELECT type_name, json FROM by_type WHERE id = ?`, id)
	if scanErr := row.Scan(&typeName, &blob); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return "", "", false, nil
		}
		return "", "", false, &model.StoreError{Op: "read vertex blob", Err: scanErr}
	}
	return typeName, blob, true, nil
}

// SaveRelations replaces the edge set for (from=fromID, relation=property)
// with exactly one edge per id in toIDs, in the given order. It saves no
// items itself: the ids must already exist (Engine.SaveRelations saves
// the items first when asked to recurse).
func (r *Repository) SaveRelations(ctx context.Context, tx *sql.Tx, fromID int64, toIDs []int64, property string) error {
	if fromID == 0 {
		return nil // spec §7 kind 5: unsaved object, no-op
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM relations WHERE from_id = ? AND relation = ?
	`, fromID, property); err != nil {
		return &model.StoreError{Op: "clear relations", Err: err}
	}
	for _, toID := range toIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO relations (from_id, to_id, relation) VALUES (?, ?, ?)
		`, fromID, toID, property); err != nil {
			return &model.StoreError{Op: "insert relation", Err: err}
		}
	}
	return nil
}

// IncidentEdges returns every edge row where vertexID is either endpoint,
// used by the history writer to snapshot the full edge set touching a
// vertex (spec §4.2).
func (r *Repository) IncidentEdges(ctx context.Context, q querier, vertexID int64) ([]model.Edge, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT from_id, to_id, relation FROM relations WHERE from_id = ? OR to_id = ?
	`, vertexID, vertexID)
	if err != nil {
		return nil, &model.StoreError{Op: "incident edges", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var edges []model.Edge
	for rows.Next() {
		var e model.Edge
		if err := rows.Scan(&e.FromID, &e.ToID, &e.Relation); err != nil {
			return nil, &model.StoreError{Op: "scan edge", Err: err}
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StoreError{Op: "iterate edges", Err: err}
	}
	return edges, nil
}

// DeleteVertex removes the vertex row and every edge incident to it in
// either direction, leaving no dangling edges (spec §3.2 invariant 6).
func (r *Repository) DeleteVertex(ctx context.Context, tx *sql.Tx, vertexID int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM relations WHERE from_id = ? OR to_id = ?`, vertexID, vertexID); err != nil {
		return &model.StoreError{Op: "delete incident edges", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM by_type WHERE id = ?`, vertexID); err != nil {
		return &model.StoreError{Op: "delete vertex", Err: err}
	}
	return nil
}

// InsertEdges bulk-inserts edge rows, used by undo/redo replay to restore
// an edge-set snapshot verbatim.
func (r *Repository) InsertEdges(ctx context.Context, tx *sql.Tx, edges []model.Edge) error {
	for _, e := range edges {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO relations (from_id, to_id, relation) VALUES (?, ?, ?)
		`, e.FromID, e.ToID, e.Relation); err != nil {
			return &model.StoreError{Op: "restore relation", Err: err}
		}
	}
	return nil
}

// DeleteAllEdgesFor removes every edge incident to vertexID, used before
// restoring an edge-set snapshot during update replay.
func (r *Repository) DeleteAllEdgesFor(ctx context.Context, tx *sql.Tx, vertexID int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM relations WHERE from_id = ? OR to_id = ?`, vertexID, vertexID); err != nil {
		return &model.StoreError{Op: "clear incident edges", Err: err}
	}
	return nil
}
