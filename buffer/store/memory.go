package store

import (
	"context"
	"sync"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store implementation. It is safe for
// concurrent use. Pending updates are lost on process restart.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	callbacks map[string][]string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string]*Entry),
		callbacks: make(map[string][]string),
	}
}

// Add merges e into the pending entry for e.Key. The caller's maps are
// copied so they can be reused after Add returns.
func (m *MemoryStore) Add(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.entries[e.Key]
	if !ok {
		cur = &Entry{
			Key:     e.Key,
			Kind:    e.Kind,
			Filters: cloneStrings(e.Filters),
		}
		m.entries[e.Key] = cur
	}
	cur.Merge(e)
	return nil
}

// AddCallback appends values to the pending list for name.
func (m *MemoryStore) AddCallback(_ context.Context, name string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callbacks[name] = append(m.callbacks[name], values...)
	return nil
}

// Drain atomically returns all pending entries and resets the store.
func (m *MemoryStore) Drain(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	taken := m.entries
	m.entries = make(map[string]*Entry)
	m.mu.Unlock()

	out := make([]Entry, 0, len(taken))
	for _, e := range taken {
		out = append(out, *e)
	}
	return out, nil
}

// DrainCallbacks atomically returns all pending callback values and clears them.
func (m *MemoryStore) DrainCallbacks(_ context.Context) (map[string][]string, error) {
	m.mu.Lock()
	taken := m.callbacks
	m.callbacks = make(map[string][]string)
	m.mu.Unlock()

	return taken, nil
}

// Len reports the number of distinct identity keys currently pending.
func (m *MemoryStore) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries), nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

func cloneStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
