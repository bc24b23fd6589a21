package backend

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// Update is one coalesced change to apply against a single row: counter
// columns to increment and plain fields to overwrite. The row is located
// by Kind plus the exact Filters key/values.
type Update struct {
	Kind    string            // entity kind, e.g. "group"
	Filters map[string]string // row filter key/values
	Deltas  map[string]int64  // column name -> delta to add
	Extra   map[string]string // field name -> value to set
}

// Backend is the durable row store a buffer flushes into. Implementations
// must make Upsert atomic: either the row exists and every delta is added
// to it, or it is created with the deltas as initial values.
type Backend interface {
	// Upsert locates the row matching u.Kind and u.Filters, creating it if
	// absent. Deltas are added to the row's counters (or used as initial
	// values on create) and Extra fields are set. Reports whether the row
	// was newly created.
	Upsert(ctx context.Context, u Update) (created bool, err error)

	// Validate checks that the backend is usable (connectivity, schema).
	Validate(ctx context.Context) error

	// Close releases any resources held by the backend.
	Close() error
}

// Permanent wraps err to mark an Upsert failure that retrying cannot
// fix, such as a schema or constraint violation. The buffer fails such
// a dispatch immediately instead of retrying until its timeout.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with [Permanent].
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// rowKey returns a canonical representation of a filter set, independent
// of map iteration order.
func rowKey(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(filters[k])
	}
	return b.String()
}
