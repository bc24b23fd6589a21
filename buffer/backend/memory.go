package backend

import (
	"context"
	"sync"
)

type row struct {
	counters map[string]int64
	fields   map[string]string
}

// Compile-time interface check.
var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend is an in-memory Backend implementation, intended for
// tests and local development. It is safe for concurrent use.
type MemoryBackend struct {
	mu   sync.Mutex
	rows map[string]*row
}

// NewMemoryBackend creates a new in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{rows: make(map[string]*row)}
}

// Upsert applies u to the matching row, creating it if absent.
func (m *MemoryBackend) Upsert(_ context.Context, u Update) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := u.Kind + "\x00" + rowKey(u.Filters)
	r, ok := m.rows[key]
	if !ok {
		r = &row{
			counters: make(map[string]int64),
			fields:   make(map[string]string),
		}
		m.rows[key] = r
	}

	for col, d := range u.Deltas {
		r.counters[col] += d
	}
	for k, v := range u.Extra {
		r.fields[k] = v
	}
	return !ok, nil
}

// Lookup returns the counters and fields of the row matching kind and
// filters, and whether the row exists. The returned maps are copies.
func (m *MemoryBackend) Lookup(_ context.Context, kind string, filters map[string]string) (map[string]int64, map[string]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rows[kind+"\x00"+rowKey(filters)]
	if !ok {
		return nil, nil, false
	}

	counters := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		counters[k] = v
	}
	fields := make(map[string]string, len(r.fields))
	for k, v := range r.fields {
		fields[k] = v
	}
	return counters, fields, true
}

// Validate is a no-op for the in-memory backend.
func (m *MemoryBackend) Validate(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory backend.
func (m *MemoryBackend) Close() error {
	return nil
}
