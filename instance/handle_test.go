package instance

import (
	"testing"

	cerr "github.com/canonabi/cabihost/errors"
)

func TestHandleTableNewOwnAndRep(t *testing.T) {
	rt := NewResourceType(NewComponentInstance(), 1, nil)
	tbl := NewHandleTable(rt)

	h := tbl.NewOwn(42)
	if h == 0 {
		t.Fatal("expected non-zero handle")
	}
	if rep := tbl.Rep(nil, h); rep != 42 {
		t.Fatalf("Rep = %d, want 42", rep)
	}
	if !tbl.IsOwn(h) {
		t.Fatal("handle should be own")
	}
}

func TestHandleTableDropOwnRunsDestructorOnce(t *testing.T) {
	owner := NewComponentInstance()
	var dropped []uint32
	rt := NewResourceType(owner, 1, func(rep uint32) { dropped = append(dropped, rep) })
	tbl := NewHandleTable(rt)

	h := tbl.NewOwn(7)
	tbl.DropOwn(nil, owner, h)

	if len(dropped) != 1 || dropped[0] != 7 {
		t.Fatalf("destructor calls = %v, want [7]", dropped)
	}
}

func TestHandleTableDropOwnTrapsWithOutstandingLend(t *testing.T) {
	owner := NewComponentInstance()
	rt := NewResourceType(owner, 1, nil)
	tbl := NewHandleTable(rt)

	h := tbl.NewOwn(1)
	tbl.Lend(nil, h)

	var trapped error
	tbl.DropOwn(func(tr *cerr.Trap) { trapped = tr }, owner, h)
	if trapped == nil {
		t.Fatal("expected drop with outstanding lend to trap")
	}
}

func TestHandleTableLendUnlendRoundTrip(t *testing.T) {
	owner := NewComponentInstance()
	rt := NewResourceType(owner, 1, nil)
	tbl := NewHandleTable(rt)

	h := tbl.NewOwn(1)
	el := tbl.Lend(nil, h)
	el.Unlend(nil)

	// A second unlend without a matching lend should underflow and trap.
	var trapped error
	el2 := tbl.Lend(nil, h)
	el2.Unlend(nil)
	el2.Unlend(func(tr *cerr.Trap) { trapped = tr })
	if trapped == nil {
		t.Fatal("expected unlend underflow to trap")
	}
}

func TestHandleTableCrossInstanceDropRespectsMayEnter(t *testing.T) {
	owner := NewComponentInstance()
	caller := NewComponentInstance()
	owner.MayEnter = false

	rt := NewResourceType(owner, 1, func(uint32) {})
	tbl := NewHandleTable(rt)
	h := tbl.NewOwn(1)

	var trapped error
	tbl.DropOwn(func(tr *cerr.Trap) { trapped = tr }, caller, h)
	if trapped == nil {
		t.Fatal("expected cross-instance drop while may_enter=false to trap")
	}
}

func TestHandleTableBorrowScopeLifecycle(t *testing.T) {
	owner := NewComponentInstance()
	rt := NewResourceType(owner, 1, nil)
	tbl := NewHandleTable(rt)

	scope := NewScope()
	h := tbl.NewBorrow(9, scope)
	scope.IncBorrow()

	if tbl.IsOwn(h) {
		t.Fatal("handle inserted via NewBorrow should not be own")
	}

	gotScope := tbl.RemoveBorrow(nil, h)
	if gotScope != scope {
		t.Fatal("RemoveBorrow returned the wrong scope")
	}
	gotScope.DecBorrow(nil)
	gotScope.AssertEmpty(nil)
}

func TestHandleTableRemoveOwnTransfersRep(t *testing.T) {
	owner := NewComponentInstance()
	rt := NewResourceType(owner, 1, nil)
	tbl := NewHandleTable(rt)

	h := tbl.NewOwn(55)
	rep := tbl.RemoveOwn(nil, h)
	if rep != 55 {
		t.Fatalf("RemoveOwn rep = %d, want 55", rep)
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len after RemoveOwn = %d, want 0", tbl.Len())
	}
}

func TestHandleTablesLazyCreation(t *testing.T) {
	tables := newHandleTables()
	owner := NewComponentInstance()
	rt := NewResourceType(owner, 3, nil)

	if tables.TableFor(3) != nil {
		t.Fatal("table should not exist before first use")
	}
	tbl := tables.Table(rt)
	if tables.TableFor(3) != tbl {
		t.Fatal("Table should lazily create and cache the table")
	}
}
