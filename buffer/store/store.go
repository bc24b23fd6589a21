package store

import "context"

// Entry is one pending coalesced update for a single identity key.
// Deltas accumulate additively across merges; Extra fields are plain
// overwrites where the most recent write wins.
type Entry struct {
	Key     string            // canonical identity key
	Kind    string            // entity kind, e.g. "group"
	Filters map[string]string // row filter key/values
	Deltas  map[string]int64  // column name -> pending delta
	Extra   map[string]string // non-counter field overwrites
}

// Merge folds other into e. Deltas sum per column; Extra values from
// other replace any existing value for the same field. A zero delta is
// still recorded so that an entry carrying only overwrites survives.
func (e *Entry) Merge(other Entry) {
	if e.Deltas == nil {
		e.Deltas = make(map[string]int64, len(other.Deltas))
	}
	for col, d := range other.Deltas {
		e.Deltas[col] += d
	}
	if len(other.Extra) > 0 && e.Extra == nil {
		e.Extra = make(map[string]string, len(other.Extra))
	}
	for k, v := range other.Extra {
		e.Extra[k] = v
	}
}

// Store defines the interface for pending update backends. Add merges an
// entry into the pending state for its key; Drain atomically returns
// everything pending and clears it, so no entry is ever handed out twice.
type Store interface {
	// Add merges e into the pending entry for e.Key, creating it if absent.
	Add(ctx context.Context, e Entry) error

	// AddCallback appends values to the pending list for a callback name.
	AddCallback(ctx context.Context, name string, values ...string) error

	// Drain atomically returns all pending entries and resets the store.
	// Entries added while a drain is in progress belong to the next drain.
	Drain(ctx context.Context) ([]Entry, error)

	// DrainCallbacks atomically returns all pending callback values keyed
	// by name and clears them.
	DrainCallbacks(ctx context.Context) (map[string][]string, error)

	// Len reports the number of distinct identity keys currently pending.
	Len(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}
