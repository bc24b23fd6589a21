package backend

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryBackendCreateThenIncrement(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	filters := map[string]string{"id": "42"}

	created, err := b.Upsert(ctx, Update{
		Kind:    "project",
		Filters: filters,
		Deltas:  map[string]int64{"times_seen": 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("first upsert: created = false, want true")
	}

	created, err = b.Upsert(ctx, Update{
		Kind:    "project",
		Filters: filters,
		Deltas:  map[string]int64{"times_seen": 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second upsert: created = true, want false")
	}

	counters, _, ok := b.Lookup(ctx, "project", filters)
	if !ok {
		t.Fatal("row not found after upserts")
	}
	if got := counters["times_seen"]; got != 5 {
		t.Errorf("times_seen = %d, want 5", got)
	}
}

func TestMemoryBackendExtraOverwrites(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	filters := map[string]string{"id": "1"}

	b.Upsert(ctx, Update{Kind: "group", Filters: filters,
		Deltas: map[string]int64{"n": 1},
		Extra:  map[string]string{"last_seen": "100"},
	})
	b.Upsert(ctx, Update{Kind: "group", Filters: filters,
		Deltas: map[string]int64{"n": 1},
		Extra:  map[string]string{"last_seen": "200"},
	})

	_, fields, ok := b.Lookup(ctx, "group", filters)
	if !ok {
		t.Fatal("row not found")
	}
	if got := fields["last_seen"]; got != "200" {
		t.Errorf("last_seen = %q, want %q", got, "200")
	}
}

func TestMemoryBackendDistinguishesKindAndFilters(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	b.Upsert(ctx, Update{Kind: "project", Filters: map[string]string{"id": "1"},
		Deltas: map[string]int64{"n": 1}})
	b.Upsert(ctx, Update{Kind: "group", Filters: map[string]string{"id": "1"},
		Deltas: map[string]int64{"n": 5}})

	counters, _, ok := b.Lookup(ctx, "project", map[string]string{"id": "1"})
	if !ok {
		t.Fatal("project row not found")
	}
	if got := counters["n"]; got != 1 {
		t.Errorf("project n = %d, want 1", got)
	}
}

func TestMemoryBackendLookupMissing(t *testing.T) {
	b := NewMemoryBackend()

	_, _, ok := b.Lookup(context.Background(), "project", map[string]string{"id": "404"})
	if ok {
		t.Error("lookup of absent row: ok = true, want false")
	}
}

func TestRowKeyOrderIndependent(t *testing.T) {
	a := rowKey(map[string]string{"a": "1", "b": "2", "c": "3"})
	b := rowKey(map[string]string{"c": "3", "a": "1", "b": "2"})
	if a != b {
		t.Errorf("rowKey differs by insertion order: %q vs %q", a, b)
	}
}

func TestPermanentMarking(t *testing.T) {
	base := errors.New("schema mismatch")
	err := Permanent(base)

	if !IsPermanent(err) {
		t.Error("IsPermanent = false for a marked error")
	}
	if !errors.Is(err, base) {
		t.Error("marked error does not unwrap to its cause")
	}
	if IsPermanent(base) {
		t.Error("IsPermanent = true for an unmarked error")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) != nil")
	}
}
