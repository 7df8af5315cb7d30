package engine

import "testing"

func TestArenaInsertGetRemove(t *testing.T) {
	a := newArena[string]()
	h := a.Insert("hello")
	v, ok := a.Get(h)
	if !ok || v != "hello" {
		t.Fatalf("Get() = (%q, %v), want (hello, true)", v, ok)
	}
	removed, ok := a.Remove(h)
	if !ok || removed != "hello" {
		t.Fatalf("Remove() = (%q, %v), want (hello, true)", removed, ok)
	}
	if _, ok := a.Get(h); ok {
		t.Fatal("Get() succeeded after Remove()")
	}
}

func TestArenaRejectsStaleHandleAfterReuse(t *testing.T) {
	a := newArena[string]()
	h1 := a.Insert("first")
	a.Remove(h1)
	h2 := a.Insert("second")

	if h2.index != h1.index {
		t.Fatalf("expected the freed slot to be reused, got new index %d vs old %d", h2.index, h1.index)
	}
	if _, ok := a.Get(h1); ok {
		t.Fatal("stale handle from before slot reuse must be rejected")
	}
	v, ok := a.Get(h2)
	if !ok || v != "second" {
		t.Fatalf("Get(h2) = (%q, %v), want (second, true)", v, ok)
	}
}

func TestArenaDoubleRemoveFails(t *testing.T) {
	a := newArena[int]()
	h := a.Insert(42)
	if _, ok := a.Remove(h); !ok {
		t.Fatal("first Remove should succeed")
	}
	if _, ok := a.Remove(h); ok {
		t.Fatal("second Remove of the same handle should fail")
	}
}

func TestArenaEachVisitsOnlyOccupiedSlots(t *testing.T) {
	a := newArena[int]()
	h1 := a.Insert(1)
	a.Insert(2)
	a.Remove(h1)

	var seen []int
	a.Each(func(_ Handle, v int) { seen = append(seen, v) })
	if len(seen) != 1 || seen[0] != 2 {
		t.Fatalf("Each visited %v, want [2]", seen)
	}
}
