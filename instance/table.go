package instance

import (
	"sync"

	cerr "github.com/canonabi/cabihost/errors"
)

// MaxTableLength is the maximum number of live slots any instance table
// may hold, per spec section 3.
const MaxTableLength = 1 << 30

// Index is a dense 1-based slot index into an InstanceTable. Index 0 is
// reserved as null and is never returned by Insert.
type Index uint32

// InstanceTable is a generic dense-slot table with free-list reuse,
// grounded on resource.LocalBackend's storage shape (slice + free list,
// mutex-guarded) generalized from "any" resource values to a single
// concrete element type per table - waitables, streams, futures, and
// error-contexts each get their own InstanceTable[T] rather than sharing
// one untyped table, since spec section 3 describes "a generic
// InstanceTable for waitables/streams/futures/error-contexts" as a
// family of same-shaped tables, not one heterogeneous table.
type InstanceTable[T any] struct {
	slots    []T
	valid    []bool
	freeList []Index
	mu       sync.Mutex
}

// NewInstanceTable creates an empty table.
func NewInstanceTable[T any]() *InstanceTable[T] {
	return &InstanceTable[T]{}
}

// Insert adds v and returns its 1-based index, reusing a freed slot when
// available. Traps (via TrapIf with PhaseTable/KindTableOverflow) if the
// table would grow past MaxTableLength.
func (t *InstanceTable[T]) Insert(trap cerr.TrapFunc, v T) Index {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.freeList); n > 0 {
		idx := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.slots[idx-1] = v
		t.valid[idx-1] = true
		return idx
	}

	cerr.TrapIf(trap, len(t.slots) >= MaxTableLength, cerr.PhaseTable, cerr.KindTableOverflow, "instance table exceeds maximum length")

	t.slots = append(t.slots, v)
	t.valid = append(t.valid, true)
	return Index(len(t.slots))
}

// Get returns the value at idx, or the zero value and false if idx is
// null, out of range, or has been removed.
func (t *InstanceTable[T]) Get(idx Index) (T, bool) {
	var zero T
	if idx == 0 {
		return zero, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	i := int(idx) - 1
	if i >= len(t.slots) || !t.valid[i] {
		return zero, false
	}
	return t.slots[i], true
}

// Remove clears the slot at idx and returns its former value. ok is
// false if idx was already invalid.
func (t *InstanceTable[T]) Remove(idx Index) (v T, ok bool) {
	if idx == 0 {
		return v, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	i := int(idx) - 1
	if i >= len(t.slots) || !t.valid[i] {
		return v, false
	}
	v = t.slots[i]
	var zero T
	t.slots[i] = zero
	t.valid[i] = false
	t.freeList = append(t.freeList, idx)
	return v, true
}

// Replace overwrites the value at an already-valid idx in place, e.g. to
// update a stream endpoint's copy-state without reallocating its slot.
func (t *InstanceTable[T]) Replace(idx Index, v T) bool {
	if idx == 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	i := int(idx) - 1
	if i >= len(t.slots) || !t.valid[i] {
		return false
	}
	t.slots[i] = v
	return true
}

// Len returns the number of live (non-removed) slots.
func (t *InstanceTable[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, ok := range t.valid {
		if ok {
			n++
		}
	}
	return n
}
