package backend

import (
	"context"
	"testing"
)

func newTestSQLiteBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestSQLiteBackendCreateThenIncrement(t *testing.T) {
	b := newTestSQLiteBackend(t)
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

	counters, _, ok, err := b.Lookup(ctx, "project", filters)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("row not found after upserts")
	}
	if got := counters["times_seen"]; got != 5 {
		t.Errorf("times_seen = %d, want 5", got)
	}
}

func TestSQLiteBackendExtraOverwrites(t *testing.T) {
	b := newTestSQLiteBackend(t)
	ctx := context.Background()

	filters := map[string]string{"id": "1"}

	if _, err := b.Upsert(ctx, Update{Kind: "group", Filters: filters,
		Deltas: map[string]int64{"n": 1},
		Extra:  map[string]string{"last_seen": "100"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Upsert(ctx, Update{Kind: "group", Filters: filters,
		Deltas: map[string]int64{"n": 1},
		Extra:  map[string]string{"last_seen": "200"},
	}); err != nil {
		t.Fatal(err)
	}

	_, fields, ok, err := b.Lookup(ctx, "group", filters)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("row not found")
	}
	if got := fields["last_seen"]; got != "200" {
		t.Errorf("last_seen = %q, want %q", got, "200")
	}
}

func TestSQLiteBackendLookupMissing(t *testing.T) {
	b := newTestSQLiteBackend(t)

	_, _, ok, err := b.Lookup(context.Background(), "project", map[string]string{"id": "404"})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("lookup of absent row: ok = true, want false")
	}
}

func TestSQLiteBackendValidate(t *testing.T) {
	b := newTestSQLiteBackend(t)
	if err := b.Validate(context.Background()); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestSQLiteBackendNewFiltersNewRow(t *testing.T) {
	b := newTestSQLiteBackend(t)
	ctx := context.Background()

	created, err := b.Upsert(ctx, Update{Kind: "project",
		Filters: map[string]string{"id": "1"}, Deltas: map[string]int64{"n": 1}})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("first row: created = false, want true")
	}

	created, err = b.Upsert(ctx, Update{Kind: "project",
		Filters: map[string]string{"id": "2"}, Deltas: map[string]int64{"n": 1}})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("different filters: created = false, want true")
	}
}
