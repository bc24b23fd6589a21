package buffer

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// Identity names one logical counter row: an entity kind, the set of
// counter columns being touched, and the filter key/values that locate
// the row. Identities are immutable once constructed; updates sharing an
// Identity key coalesce into a single pending entry.
type Identity struct {
	kind      string
	columnSet string
	filters   map[string]string
	key       string
}

// NewIdentity constructs an Identity for the given entity kind, counter
// column names, and row filters. The filter map is copied.
func NewIdentity(kind string, columns []string, filters map[string]string) Identity {
	cols := make([]string, len(columns))
	copy(cols, columns)
	sort.Strings(cols)
	columnSet := strings.Join(cols, ",")

	f := make(map[string]string, len(filters))
	for k, v := range filters {
		f[k] = v
	}

	sum := md5.Sum([]byte(canonicalFilters(f)))
	key := kind + ":" + columnSet + ":" + hex.EncodeToString(sum[:])

	return Identity{
		kind:      kind,
		columnSet: columnSet,
		filters:   f,
		key:       key,
	}
}

// Kind returns the entity kind.
func (id Identity) Kind() string {
	return id.kind
}

// ColumnSet returns the sorted, comma-joined counter column names.
func (id Identity) ColumnSet() string {
	return id.columnSet
}

// Filters returns a copy of the row filter key/values.
func (id Identity) Filters() map[string]string {
	out := make(map[string]string, len(id.filters))
	for k, v := range id.filters {
		out[k] = v
	}
	return out
}

// Key returns the canonical identity key. It is stable across processes
// and independent of filter map iteration order.
func (id Identity) Key() string {
	return id.key
}

func canonicalFilters(filters map[string]string) string {
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
