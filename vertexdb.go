// Package vertexdb is an embeddable object-graph persistence layer: save
// user-defined record types as self-describing JSON vertices with typed
// edges between them, and undo/redo any sequence of saves and deletes
// through a durable, unbounded transaction history.
//
// A program defines its own types implementing Record, opens an Engine
// over a SQLite file, and calls Save/SaveAll/Delete/DeleteAll/Retrieve.
// Every mutation is recorded so Undo and Redo can move the whole database
// backward and forward one user-level transaction at a time.
package vertexdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/corvid/vertexdb/internal/completion"
	"github.com/corvid/vertexdb/internal/config"
	"github.com/corvid/vertexdb/internal/graph"
	"github.com/corvid/vertexdb/internal/history"
	"github.com/corvid/vertexdb/internal/model"
	"github.com/corvid/vertexdb/internal/record"
	"github.com/corvid/vertexdb/internal/store"
	"github.com/corvid/vertexdb/internal/traversal"
	"github.com/corvid/vertexdb/internal/txn"
	"github.com/corvid/vertexdb/internal/undo"
)

// Re-exported types from internal/record and internal/model, so an
// application depends only on the root package (mirrors the teacher's own
// root-package re-export façade).
type (
	Record         = record.Record
	EdgeDescriptor = record.EdgeDescriptor
	Cardinality    = record.Cardinality
	CascadeDeleter = record.CascadeDeleter
	Resolver       = record.Resolver
	RelationSaver  = record.RelationSaver
	Factory        = record.Factory
	Vertex         = model.Vertex
	Edge           = model.Edge
	OperationSpan  = model.OperationSpan
	Config         = config.Config
)

const (
	One  = record.One
	Many = record.Many
)

// Cents converts a money-like float field to integer cents for the
// stable, format-independent equality the idempotence guard (spec §4.4)
// and numeric-equality rule (spec §9) require. Record implementations
// should encode money fields through this rather than raw floats.
var Cents = model.Cents

// DateLayout is the wire format spec §6.4 pins date fields to; use
// FormatDate/ParseDate rather than formatting dates ad hoc so two codecs
// produce byte-identical JSON for the same instant.
const DateLayout = graph.DateLayout

// FormatDate renders t in the engine's pinned wire format.
var FormatDate = graph.FormatDate

// ParseDate parses a date string in the engine's pinned wire format.
var ParseDate = graph.ParseDate

// ErrIdempotentNoop is returned by neither Save nor SaveAll directly: an
// idempotent re-save simply succeeds with no new history. It is exported
// for tests and callers that want to assert a particular save produced no
// transaction.
var ErrIdempotentNoop = model.ErrIdempotentNoop

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	configFile string
	logger     *slog.Logger
	overrides  []func(*config.Config)
}

// WithConfigFile points Open at a YAML config file layering defaults <
// file < VERTEXDB_ environment variables (internal/config).
func WithConfigFile(path string) Option {
	return func(o *openOptions) { o.configFile = path }
}

// WithLogger overrides the engine's structured logger. The default logs
// to slog.Default() at the level internal/config resolves.
func WithLogger(log *slog.Logger) Option {
	return func(o *openOptions) { o.logger = log }
}

// The With* config options below are the third and highest-precedence
// tier over Load's default < file < environment layering: each is applied
// to the already-resolved Config immediately before Open touches the
// store, so a caller can pin one setting in code without having to carry
// a config file or set a process environment variable for it.

// WithBusyTimeout overrides the resolved Config's BusyTimeout.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *openOptions) {
		o.overrides = append(o.overrides, func(c *config.Config) { c.BusyTimeout = d })
	}
}

// WithJournalMode overrides the resolved Config's JournalMode.
func WithJournalMode(mode string) Option {
	return func(o *openOptions) {
		o.overrides = append(o.overrides, func(c *config.Config) { c.JournalMode = mode })
	}
}

// WithLockTimeout overrides the resolved Config's LockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(o *openOptions) {
		o.overrides = append(o.overrides, func(c *config.Config) { c.LockTimeout = d })
	}
}

// WithWALCheckpointPages overrides the resolved Config's WALCheckpointPages
// (SQLite's PRAGMA wal_autocheckpoint).
func WithWALCheckpointPages(pages int) Option {
	return func(o *openOptions) {
		o.overrides = append(o.overrides, func(c *config.Config) { c.WALCheckpointPages = pages })
	}
}

// WithCompletionCaseSensitive overrides the resolved Config's
// CompletionCaseSensitive, controlling whether Completions matches a
// prefix case-sensitively.
func WithCompletionCaseSensitive(caseSensitive bool) Option {
	return func(o *openOptions) {
		o.overrides = append(o.overrides, func(c *config.Config) { c.CompletionCaseSensitive = caseSensitive })
	}
}

// Engine is an opened database: every exported method runs one
// transaction-bracketed operation against it.
type Engine struct {
	store   *store.Store
	repo    *graph.Repository
	writer  *history.Writer
	bracket *txn.Bracket
	cursor  *undo.Cursor
	index   *completion.Index
	log     *slog.Logger
}

// Open opens (creating if needed) the database at path and returns a
// ready Engine. Register Record types on the returned Engine with
// Register before calling Retrieve/Related for them.
func Open(ctx context.Context, path string, opts ...Option) (*Engine, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	for _, override := range o.overrides {
		override(&cfg)
	}

	log := o.logger
	if log == nil {
		level := slog.LevelInfo
		_ = level.UnmarshalText([]byte(cfg.LogLevel))
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	s, err := store.Open(ctx, path, cfg, log)
	if err != nil {
		return nil, err
	}

	repo := graph.New()
	return &Engine{
		store:   s,
		repo:    repo,
		writer:  history.New(repo),
		bracket: txn.New(s),
		cursor:  undo.New(repo, log),
		index:   completion.New(cfg.CompletionCaseSensitive),
		log:     log,
	}, nil
}

// Close releases the engine's database connection and advisory lock.
func (e *Engine) Close() error { return e.store.Close() }

// Register associates a type name with a constructor so Retrieve/Related
// can decode rows of that type.
func (e *Engine) Register(typeName string, f Factory) { e.repo.Register(typeName, f) }

// queryHandle returns the transaction a reentrant call is already inside,
// or the store's *sql.DB when there is none — used by the read methods
// (Retrieve, RetrieveByID, Related, Completions...) that need a querier
// but may be invoked either top-level or from within a user model's
// callback.
func (e *Engine) queryHandle(ctx context.Context) interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
} {
	if tx, ok := txn.TxFromContext(ctx); ok {
		return tx
	}
	return e.store.DB()
}

// Retrieve returns every vertex of typeName in insertion order.
func (e *Engine) Retrieve(ctx context.Context, typeName string) ([]Record, error) {
	return e.repo.Retrieve(ctx, e.queryHandle(ctx), e, typeName)
}

// RetrievePage returns vertices of typeName starting at offset start, at
// most limit of them.
func (e *Engine) RetrievePage(ctx context.Context, typeName string, start, limit int) ([]Record, error) {
	return e.repo.RetrievePage(ctx, e.queryHandle(ctx), e, typeName, start, limit)
}

// RetrieveByID returns the vertex with the given id and type, or nil if
// it doesn't exist or its type doesn't match.
func (e *Engine) RetrieveByID(ctx context.Context, typeName string, id int64) (Record, error) {
	return e.repo.RetrieveByID(ctx, e.queryHandle(ctx), e, typeName, id)
}

// Related implements record.Resolver: vertices of toType reachable from
// fromID via edges labeled property.
func (e *Engine) Related(ctx context.Context, fromID int64, property, toType string) ([]Record, error) {
	return e.repo.Related(ctx, e.queryHandle(ctx), e, fromID, property, toType)
}

// RelatedItem implements record.Resolver: Related restricted to exactly
// one result.
func (e *Engine) RelatedItem(ctx context.Context, fromID int64, property, toType string) (Record, error) {
	return e.repo.RelatedItem(ctx, e.queryHandle(ctx), e, fromID, property, toType)
}

// IndexCompletion implements record.RelationSaver: it upserts a
// searchable label for (typeName, property). A Record's SaveRelated calls
// this only when it wants the property to be autocompletable.
func (e *Engine) IndexCompletion(ctx context.Context, typeName, property, label string) error {
	tx, ok := txn.TxFromContext(ctx)
	if !ok {
		return fmt.Errorf("vertexdb: IndexCompletion called outside a save")
	}
	return e.index.IndexCompletion(ctx, tx, typeName, property, label)
}

// Completions returns every label indexed under (typeName, property)
// starting with prefix.
func (e *Engine) Completions(ctx context.Context, typeName, property, prefix string) ([]string, error) {
	return e.index.Completions(ctx, e.queryHandle(ctx), typeName, property, prefix)
}

// Save persists rec: insert if unsaved, else update. rec's SaveRelated
// writes the edges its own EdgeDescriptors declare, but their targets are
// assumed already saved (use SaveAll to save a whole tree in one call). A
// no-op update (identical before/after image) commits nothing and rec
// keeps its existing id.
func (e *Engine) Save(ctx context.Context, rec Record) error {
	return e.bracket.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return e.saveOne(ctx, tx, rec, false, nil, true)
	})
}

// SaveAll is Save followed by a recursive save of every related record
// reachable through rec's EdgeDescriptors (via SaveRelated/SaveRelations),
// so a whole object tree is persisted (and its ids assigned) in one
// transaction. Cycles in the edge graph are visited once and not
// re-descended into.
func (e *Engine) SaveAll(ctx context.Context, rec Record) error {
	return e.bracket.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		w := traversal.NewWalker(e.log)
		return e.saveOne(ctx, tx, rec, true, w, false)
	})
}

// saveOne is the core of Save/SaveAll: save_properties, capture the
// before/after vertex and edge images around save_related, and record the
// operation (spec §4.2). When w is non-nil (SaveAll), already-visited
// records are skipped to break cycles. checkIdempotence is true only for
// a plain top-level Save, per spec §4.4's "single-op case".
func (e *Engine) saveOne(ctx context.Context, tx *sql.Tx, rec Record, recurse bool, w *traversal.Walker, checkIdempotence bool) error {
	if w != nil {
		if already := w.Visit(rec); already {
			return nil
		}
	}

	isNew := rec.ID() == 0
	var before history.Snapshot
	if !isNew {
		var err error
		before, err = e.writer.CaptureBefore(ctx, tx, rec.ID())
		if err != nil {
			return err
		}
	}

	if err := e.repo.SaveProperties(ctx, tx, rec); err != nil {
		return err
	}
	vertexID := rec.ID()

	edgesBefore, err := e.repo.IncidentEdges(ctx, tx, vertexID)
	if err != nil {
		return err
	}
	if isNew {
		before.Edges = edgesBefore
	}

	callCtx := ctx
	if w != nil {
		callCtx = traversal.WithWalker(ctx, w)
	}
	if err := rec.SaveRelated(callCtx, e, recurse); err != nil {
		return fmt.Errorf("vertexdb: save_related for %s#%d: %w", rec.TypeName(), vertexID, err)
	}

	after, err := e.writer.CaptureAfter(ctx, tx, vertexID)
	if err != nil {
		return err
	}
	if after.TypeName == "" {
		// CaptureAfter re-reads by_type_id; it always exists post-insert,
		// but guard the zero value so RecordOperation sees a type name.
		after.TypeName = rec.TypeName()
	}

	opType := model.OpUpdate
	if isNew {
		opType = model.OpCreate
		before.Blob = ""
	}

	_, err = e.writer.RecordOperation(ctx, tx, opType, vertexID, before, after, checkIdempotence)
	return err
}

// SaveRelations implements record.RelationSaver. If recurse, each item is
// saved (through the active traversal Walker, so shared subtrees and
// cycles are handled) before the edge set is written.
func (e *Engine) SaveRelations(ctx context.Context, fromID int64, items []Record, property, toType string, recurse bool) error {
	tx, ok := txn.TxFromContext(ctx)
	if !ok {
		return fmt.Errorf("vertexdb: SaveRelations called outside a save")
	}
	w, _ := traversal.FromContext(ctx)

	toIDs := make([]int64, len(items))
	for i, item := range items {
		if recurse {
			if err := e.saveOne(ctx, tx, item, true, w, false); err != nil {
				return err
			}
		}
		toIDs[i] = item.ID()
	}
	return e.repo.SaveRelations(ctx, tx, fromID, toIDs, property)
}

// SaveRelation implements record.RelationSaver for a single-cardinality
// edge: it is SaveRelations with at most one item.
func (e *Engine) SaveRelation(ctx context.Context, fromID int64, item Record, property, toType string, recurse bool) error {
	if item == nil {
		return e.SaveRelations(ctx, fromID, nil, property, toType, recurse)
	}
	return e.SaveRelations(ctx, fromID, []Record{item}, property, toType, recurse)
}

// Delete removes rec's vertex row and every edge incident to it. If
// recurse and rec implements CascadeDeleter, its DeleteRelated children
// (typically every record its own EdgeDescriptors enumerate) are collected
// before rec is deleted and then deleted after it, depth-first, via a
// single shared traversal Walker so a cyclic delete_related graph
// terminates.
func (e *Engine) Delete(ctx context.Context, rec Record, recurse bool) error {
	return e.bracket.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var w *traversal.Walker
		if recurse {
			w = traversal.NewWalker(e.log)
		}
		return e.deleteOne(ctx, tx, rec, recurse, w)
	})
}

// DeleteAll is Delete with recurse forced true: a transaction-bracketed
// cascade delete of rec and everything its model's DeleteRelated reports.
func (e *Engine) DeleteAll(ctx context.Context, rec Record) error {
	return e.bracket.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		w := traversal.NewWalker(e.log)
		return e.deleteOne(ctx, tx, rec, true, w)
	})
}

func (e *Engine) deleteOne(ctx context.Context, tx *sql.Tx, rec Record, recurse bool, w *traversal.Walker) error {
	if w != nil {
		if already := w.Visit(rec); already {
			return nil
		}
	}
	if rec.ID() == 0 {
		return nil // spec §7 kind 5: deleting an unsaved object is a no-op
	}

	var children []Record
	if recurse {
		if cascader, ok := rec.(CascadeDeleter); ok {
			var err error
			children, err = cascader.DeleteRelated(ctx)
			if err != nil {
				return fmt.Errorf("vertexdb: delete_related for %s#%d: %w", rec.TypeName(), rec.ID(), err)
			}
		}
	}

	before, err := e.writer.CaptureBefore(ctx, tx, rec.ID())
	if err != nil {
		return err
	}

	if err := e.repo.DeleteVertex(ctx, tx, rec.ID()); err != nil {
		return err
	}

	after, err := e.writer.CaptureAfter(ctx, tx, rec.ID())
	if err != nil {
		return err
	}
	after.TypeName = before.TypeName

	if _, err := e.writer.RecordOperation(ctx, tx, model.OpDelete, rec.ID(), before, after, false); err != nil {
		return err
	}

	for _, child := range children {
		if err := e.deleteOne(ctx, tx, child, recurse, w); err != nil {
			return err
		}
	}
	return nil
}

// Undo reverts the current transaction and moves the cursor to its
// predecessor. It returns (nil, nil) if there is nothing to undo. A failed
// replay is rolled back, logged at Warn level and also reported as
// (nil, nil), leaving the cursors where they were.
func (e *Engine) Undo(ctx context.Context) (*OperationSpan, error) {
	var span *OperationSpan
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		span, err = e.cursor.Undo(ctx, tx)
		return err
	})
	if err != nil {
		e.log.Warn("undo failed, nothing replayed", "error", err)
		return nil, nil
	}
	return span, nil
}

// Redo replays the next transaction forward and moves the cursor onto
// it. It returns (nil, nil) if there is nothing to redo. A failed replay
// is rolled back, logged at Warn level and also reported as (nil, nil),
// leaving the cursors where they were.
func (e *Engine) Redo(ctx context.Context) (*OperationSpan, error) {
	var span *OperationSpan
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		span, err = e.cursor.Redo(ctx, tx)
		return err
	})
	if err != nil {
		e.log.Warn("redo failed, nothing replayed", "error", err)
		return nil, nil
	}
	return span, nil
}
