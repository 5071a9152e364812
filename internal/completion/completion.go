// Package completion is the prefix-searchable label index of spec §4.6.
// Applications opt in from within a Record's SaveRelated by calling
// IndexCompletion for whichever property they want to autocomplete.
package completion

import (
	"context"
	"database/sql"

	"github.com/corvid/vertexdb/internal/model"
)

// Index upserts and queries the completions table.
type Index struct {
	caseSensitive bool
}

// New returns an Index. caseSensitive controls whether Completions matches
// a prefix case-sensitively; SQLite's own LIKE operator is case-insensitive
// for ASCII by default, so callers that want exact-case matching pass true.
func New(caseSensitive bool) *Index { return &Index{caseSensitive: caseSensitive} }

// IndexCompletion upserts (typeName, property, label) into completions;
// re-indexing the same triple is a no-op (insert-or-replace on the
// primary key).
func (x *Index) IndexCompletion(ctx context.Context, tx *sql.Tx, typeName, property, label string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO completions (type_name, property, label) VALUES (?, ?, ?)
	`, typeName, property, label)
	if err != nil {
		return &model.StoreError{Op: "index completion", Err: err}
	}
	return nil
}

// Completions returns every label indexed under (typeName, property) that
// starts with prefix, in lexical order.
func (x *Index) Completions(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, typeName, property, prefix string) ([]string, error) {
	query := `
		SELECT label FROM completions
		WHERE type_name = ? AND property = ? AND label LIKE ? ESCAPE '\'
		ORDER BY label
	`
	pattern := escapeLike(prefix) + "%"
	if x.caseSensitive {
		// SQLite's LIKE is case-insensitive for ASCII regardless of
		// collation; GLOB is case-sensitive and takes the role here.
		query = `
			SELECT label FROM completions
			WHERE type_name = ? AND property = ? AND label GLOB ?
			ORDER BY label
		`
		pattern = escapeGlob(prefix) + "*"
	}

	rows, err := q.QueryContext(ctx, query, typeName, property, pattern)
	if err != nil {
		return nil, &model.StoreError{Op: "query completions", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, &model.StoreError{Op: "scan completion", Err: err}
		}
		out = append(out, label)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StoreError{Op: "iterate completions", Err: err}
	}
	return out, nil
}

// escapeLike escapes LIKE metacharacters in prefix so an arbitrary label
// prefix containing '%' or '_' is matched literally.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '%', '_':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// escapeGlob escapes GLOB metacharacters in prefix so an arbitrary label
// prefix containing '*', '?', '[' or ']' is matched literally. GLOB has no
// ESCAPE clause, so metacharacters are neutralized with a single-character
// class instead of a backslash escape.
func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']':
			out = append(out, '[', s[i], ']')
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
