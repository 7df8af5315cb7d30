package engine

import "sync"

// Handle is the opaque value Subscribe returns and Unsubscribe consumes —
// the Go resolution of spec.md §9's "pointer or arena index" open
// question: a generation-checked arena index, so a stale handle from an
// already-unsubscribed slot is rejected instead of silently touching
// whatever subscription happens to occupy that slot now.
type Handle struct {
	index      uint32
	generation uint32
}

type slot[T any] struct {
	generation uint32
	occupied   bool
	value      T
}

// arena is a generation-indexed slot table generic over the per-subscription
// record type. Freed slots are recycled via freeList so the arena does not
// grow unboundedly under a subscribe/unsubscribe churn workload.
type arena[T any] struct {
	mu       sync.Mutex
	slots    []slot[T]
	freeList []uint32
}

func newArena[T any]() *arena[T] {
	return &arena[T]{}
}

// Insert stores value in a free slot (reusing one if available) and
// returns its Handle.
func (a *arena[T]) Insert(value T) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.freeList); n > 0 {
		idx := a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		s := &a.slots[idx]
		s.occupied = true
		s.value = value
		return Handle{index: idx, generation: s.generation}
	}

	idx := uint32(len(a.slots))
	a.slots = append(a.slots, slot[T]{generation: 0, occupied: true, value: value})
	return Handle{index: idx, generation: 0}
}

// Get returns the value stored at h, or false if h is stale or out of
// range.
func (a *arena[T]) Get(h Handle) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var zero T
	if int(h.index) >= len(a.slots) {
		return zero, false
	}
	s := &a.slots[h.index]
	if !s.occupied || s.generation != h.generation {
		return zero, false
	}
	return s.value, true
}

// Remove evicts the slot at h, bumping its generation so any copy of h
// still held elsewhere is rejected by future Get/Remove calls. Returns
// the removed value and whether h was valid.
func (a *arena[T]) Remove(h Handle) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var zero T
	if int(h.index) >= len(a.slots) {
		return zero, false
	}
	s := &a.slots[h.index]
	if !s.occupied || s.generation != h.generation {
		return zero, false
	}
	value := s.value
	s.occupied = false
	s.value = zero
	s.generation++
	a.freeList = append(a.freeList, h.index)
	return value, true
}

// Len returns the number of currently occupied slots.
func (a *arena[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots) - len(a.freeList)
}

// Each calls fn for every currently occupied slot. fn must not call back
// into the arena.
func (a *arena[T]) Each(fn func(Handle, T)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.slots {
		s := &a.slots[i]
		if s.occupied {
			fn(Handle{index: uint32(i), generation: s.generation}, s.value)
		}
	}
}
