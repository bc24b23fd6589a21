package buffer

import "testing"

func TestIdentityKeyStableAcrossFilterOrder(t *testing.T) {
	a := NewIdentity("group", []string{"times_seen"},
		map[string]string{"project": "1", "checksum": "abc"})
	b := NewIdentity("group", []string{"times_seen"},
		map[string]string{"checksum": "abc", "project": "1"})

	if a.Key() != b.Key() {
		t.Errorf("keys differ for identical filters: %q vs %q", a.Key(), b.Key())
	}
}

func TestIdentityKeyStableAcrossColumnOrder(t *testing.T) {
	a := NewIdentity("group", []string{"times_seen", "events"}, map[string]string{"id": "1"})
	b := NewIdentity("group", []string{"events", "times_seen"}, map[string]string{"id": "1"})

	if a.Key() != b.Key() {
		t.Errorf("keys differ for identical column sets: %q vs %q", a.Key(), b.Key())
	}
	if a.ColumnSet() != "events,times_seen" {
		t.Errorf("column set = %q, want %q", a.ColumnSet(), "events,times_seen")
	}
}

func TestIdentityKeyDiffersByKindAndFilters(t *testing.T) {
	base := NewIdentity("group", []string{"n"}, map[string]string{"id": "1"})

	otherKind := NewIdentity("project", []string{"n"}, map[string]string{"id": "1"})
	if base.Key() == otherKind.Key() {
		t.Error("keys collide across kinds")
	}

	otherFilters := NewIdentity("group", []string{"n"}, map[string]string{"id": "2"})
	if base.Key() == otherFilters.Key() {
		t.Error("keys collide across filters")
	}
}

func TestIdentityIsImmutable(t *testing.T) {
	filters := map[string]string{"id": "1"}
	id := NewIdentity("group", []string{"n"}, filters)

	filters["id"] = "2"
	if id.Filters()["id"] != "1" {
		t.Error("mutating the source map changed the identity")
	}

	got := id.Filters()
	got["id"] = "3"
	if id.Filters()["id"] != "1" {
		t.Error("mutating a returned copy changed the identity")
	}
}
