// Package graph is the vertex/edge repository: CRUD over the by_type and
// relations tables, serialized through each Record's own scalar codec; this
// file holds the shared date wire format. It has no notion of history or
// undo; internal/history wraps it to add that.
package graph

import "time"

// DateLayout is the literal wire format spec §6.4 requires for date
// fields: "yyyy-MM-dd HH:mm:ss ZZZZZ" with an explicit numeric timezone
// offset, rendered here as Go's reference-time layout. Any Record that
// encodes a date field must use FormatDate/ParseDate so two codecs produce
// byte-identical JSON for the same instant.
const DateLayout = "2006-01-02 15:04:05 -0700"

// FormatDate renders t in the spec's wire format.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a date string in the spec's wire format.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
