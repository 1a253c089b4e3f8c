package instance

import (
	"sync"

	"github.com/google/uuid"

	cerr "github.com/canonabi/cabihost/errors"
)

// Handle is a resource handle: an opaque 1-based index into a per-type,
// per-instance HandleTable. Handle 0 is reserved and always invalid,
// matching spec section 3 ("index 0 is reserved as a null").
type Handle uint32

// Scope tracks the borrow bookkeeping for a single lift/lower call
// (spec section 3: "a scope's borrow_count equals the number of borrows
// lifted into it that have not yet been dropped"). It is owned by the
// codec's call context, not by any one HandleElement, because several
// borrow handles lifted during the same call share one scope.
type Scope struct {
	mu          sync.Mutex
	borrowCount int32
}

// NewScope creates an empty borrow scope for one call.
func NewScope() *Scope { return &Scope{} }

// IncBorrow records that a new borrow was lifted into this scope.
func (s *Scope) IncBorrow() {
	s.mu.Lock()
	s.borrowCount++
	s.mu.Unlock()
}

// DecBorrow records that a borrow lifted into this scope was released.
// Traps on underflow - releasing more borrows than were ever lifted
// indicates a bookkeeping bug upstream, not a guest-triggerable state.
func (s *Scope) DecBorrow(trap cerr.TrapFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cerr.TrapIf(trap, s.borrowCount <= 0, cerr.PhaseHandle, cerr.KindScopeLeak, "borrow scope underflow")
	s.borrowCount--
}

// AssertEmpty traps if the scope still has outstanding borrows; called
// by exit_call on every lift/lower exit path (spec section 5).
func (s *Scope) AssertEmpty(trap cerr.TrapFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cerr.TrapIf(trap, s.borrowCount != 0, cerr.PhaseHandle, cerr.KindScopeLeak, "borrow scope exit with outstanding borrows")
}

// BorrowCount returns the current outstanding-borrow count, for tests
// and diagnostics.
func (s *Scope) BorrowCount() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.borrowCount
}

// ResourceType identifies a resource type: the instance that defines it
// (and therefore owns its destructor) plus a stable numeric id used to
// key HandleTables. A real pointer-identity comparison (as the upstream
// C++ uses) does not survive safely across Go's copy/escape semantics,
// so this module follows spec section 9's fallback literally: a stable
// id embedded in the struct, backed by a uuid.UUID for log correlation.
type ResourceType struct {
	ID         uuid.UUID
	Destructor func(rep uint32)
	Owner      *ComponentInstance
	TypeID     uint32
}

// NewResourceType registers a resource type defined by owner, with an
// optional destructor invoked by resource.drop.
func NewResourceType(owner *ComponentInstance, typeID uint32, dtor func(rep uint32)) *ResourceType {
	return &ResourceType{
		ID:         uuid.New(),
		TypeID:     typeID,
		Owner:      owner,
		Destructor: dtor,
	}
}

type handleEntry struct {
	scope     *Scope
	rep       uint32
	lendCount int32
	own       bool
	valid     bool
}

// HandleTable holds every live handle for one resource type within one
// ComponentInstance. Grounded on resource.LocalBackend: a dense slice
// plus a free list, mutex-guarded, generalized with the own/borrow/
// lend-count fields the Canonical ABI's handle discipline needs beyond
// the teacher's simpler ref-counted resource table.
type HandleTable struct {
	rt       *ResourceType
	entries  []handleEntry
	freeList []Handle
	mu       sync.Mutex
}

// NewHandleTable creates an empty table for resource type rt.
func NewHandleTable(rt *ResourceType) *HandleTable {
	return &HandleTable{rt: rt}
}

func (t *HandleTable) insert(e handleEntry) Handle {
	if n := len(t.freeList); n > 0 {
		h := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.entries[h-1] = e
		return h
	}
	t.entries = append(t.entries, e)
	return Handle(len(t.entries))
}

// NewOwn inserts a new own handle (resource.new / canon lower of an
// own<T> value) and returns its index.
func (t *HandleTable) NewOwn(rep uint32) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insert(handleEntry{rep: rep, own: true, valid: true})
}

// NewBorrow inserts a new borrow handle scoped to scope and returns its
// index. Used when lowering a borrow<T> value into a callee's table.
func (t *HandleTable) NewBorrow(rep uint32, scope *Scope) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insert(handleEntry{rep: rep, own: false, scope: scope, valid: true})
}

// Rep returns the representation value for h without modifying anything.
func (t *HandleTable) Rep(trap cerr.TrapFunc, h Handle) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.lookup(trap, h)
	return e.rep
}

func (t *HandleTable) lookup(trap cerr.TrapFunc, h Handle) *handleEntry {
	idx := int(h) - 1
	ok := h != 0 && idx < len(t.entries) && t.entries[idx].valid
	cerr.TrapIf(trap, !ok, cerr.PhaseHandle, cerr.KindNotFound, "use of freed or null handle")
	return &t.entries[idx]
}

// HandleElement identifies one lender: the table and handle a borrow
// was lifted from. Callers (the codec's call context) accumulate these
// across a lift and call Unlend on each at scope exit (spec.md section
// 4.5: "on call exit, every lender's lend_count is decremented").
type HandleElement struct {
	Table  *HandleTable
	Handle Handle
}

// Unlend decrements the lend count recorded by Lend.
func (e *HandleElement) Unlend(trap cerr.TrapFunc) {
	e.Table.unlend(trap, e.Handle)
}

// Lend increments the lend count of an own handle because a borrow is
// being lifted from it, and returns a HandleElement the caller keeps to
// unlend later. Traps if h is not an own handle.
func (t *HandleTable) Lend(trap cerr.TrapFunc, h Handle) *HandleElement {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.lookup(trap, h)
	cerr.TrapIf(trap, !e.own, cerr.PhaseHandle, cerr.KindInvalidInput, "cannot lend a non-own handle")
	e.lendCount++
	return &HandleElement{Table: t, Handle: h}
}

// unlend decrements the lend count of an own handle when a borrow lifted
// from it is released at call exit.
func (t *HandleTable) unlend(trap cerr.TrapFunc, h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.lookup(trap, h)
	cerr.TrapIf(trap, e.lendCount <= 0, cerr.PhaseHandle, cerr.KindScopeLeak, "lend count underflow")
	e.lendCount--
}

// RemoveOwn removes an own handle for ownership transfer (lifting an
// own<T> parameter): no destructor runs, the caller is expected to
// re-insert the returned rep into the callee's table. Traps if the
// handle is not own or still has outstanding lends.
func (t *HandleTable) RemoveOwn(trap cerr.TrapFunc, h Handle) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.lookup(trap, h)
	cerr.TrapIf(trap, !e.own, cerr.PhaseHandle, cerr.KindInvalidInput, "handle is not an own handle")
	cerr.TrapIf(trap, e.lendCount != 0, cerr.PhaseHandle, cerr.KindBorrowed, "cannot remove own handle with outstanding borrows")
	rep := e.rep
	*e = handleEntry{}
	t.freeList = append(t.freeList, h)
	return rep
}

// RemoveBorrow removes a borrow handle (resource.drop on a borrow) and
// returns its scope so the caller can decrement the scope's borrow
// count.
func (t *HandleTable) RemoveBorrow(trap cerr.TrapFunc, h Handle) *Scope {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.lookup(trap, h)
	cerr.TrapIf(trap, e.own, cerr.PhaseHandle, cerr.KindInvalidInput, "handle is not a borrow handle")
	scope := e.scope
	*e = handleEntry{}
	t.freeList = append(t.freeList, h)
	return scope
}

// DropOwn drops an own handle per spec section 4.5: traps if lend_count
// != 0; if the defining instance differs from current and may not
// enter, traps; otherwise runs the destructor (if any) exactly once with
// the handle's rep.
func (t *HandleTable) DropOwn(trap cerr.TrapFunc, current *ComponentInstance, h Handle) {
	t.mu.Lock()
	e := t.lookup(trap, h)
	cerr.TrapIf(trap, !e.own, cerr.PhaseHandle, cerr.KindInvalidInput, "resource.drop of a non-own handle")
	cerr.TrapIf(trap, e.lendCount != 0, cerr.PhaseHandle, cerr.KindBorrowed, "cannot drop own resource with outstanding borrows")
	rep := e.rep
	*e = handleEntry{}
	t.freeList = append(t.freeList, h)
	t.mu.Unlock()

	if t.rt.Owner != current {
		cerr.TrapIf(trap, !t.rt.Owner.MayEnter, cerr.PhaseHandle, cerr.KindMayNotEnter, "cross-instance resource drop while defining instance may not enter")
	}
	if t.rt.Destructor != nil {
		t.rt.Destructor(rep)
	}
}

// IsOwn reports whether h is currently a live own handle.
func (t *HandleTable) IsOwn(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := int(h) - 1
	if h == 0 || idx >= len(t.entries) || !t.entries[idx].valid {
		return false
	}
	return t.entries[idx].own
}

// Len returns the number of live handles, for diagnostics.
func (t *HandleTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entries {
		if e.valid {
			n++
		}
	}
	return n
}

// HandleTables is the per-instance map from resource TypeID to that
// type's HandleTable, created lazily (spec section 3: "tables are
// created lazily per resource type and persist for the instance's
// life").
type HandleTables struct {
	mu     sync.Mutex
	tables map[uint32]*HandleTable
}

func newHandleTables() *HandleTables {
	return &HandleTables{tables: make(map[uint32]*HandleTable)}
}

// Table returns (creating if needed) the HandleTable for rt within this
// instance.
func (h *HandleTables) Table(rt *ResourceType) *HandleTable {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.tables[rt.TypeID]; ok {
		return t
	}
	t := NewHandleTable(rt)
	h.tables[rt.TypeID] = t
	return t
}

// TableFor returns the existing table for typeID, or nil if none has
// been created yet.
func (h *HandleTables) TableFor(typeID uint32) *HandleTable {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tables[typeID]
}
