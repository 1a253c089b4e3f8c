// Package hostabi binds the Canonical ABI built-in functions spec.md
// section 6 tables (resource.*, task.*, yield, backpressure.*,
// waitable-set.*, waitable.join, stream.*, future.*, error-context.*,
// context.*) to Go closures over one ComponentInstance and its task
// scheduler.
//
// Builtins is engine-agnostic: it knows nothing about wazero, core WASM
// calling conventions, or linear memory layout. An embedding engine
// (this module's own engine package, or any other wazero/wasmtime
// adapter) is expected to decode core-function arguments, invoke the
// matching Builtins method, and encode the result back - mirroring how
// the teacher's linker/instance.go resolves a caller's Instance before
// dispatching to a bound host function, generalized here to the wider
// Canonical ABI built-in surface this runtime exposes instead of the
// teacher's narrower transcoder-only call path.
package hostabi

import (
	"sync"

	cerr "github.com/canonabi/cabihost/errors"
	"github.com/canonabi/cabihost/instance"
	"github.com/canonabi/cabihost/task"
)

// Builtins is the bound set of host functions for one ComponentInstance.
type Builtins struct {
	Instance *instance.ComponentInstance
	Tasks    *task.Store
	Trap     cerr.TrapFunc

	mu            sync.Mutex
	resourceTypes map[uint32]*instance.ResourceType
}

// New creates a Builtins bound to inst, with tasks scheduled on the
// supplied Store and traps routed through trap.
func New(inst *instance.ComponentInstance, tasks *task.Store, trap cerr.TrapFunc) *Builtins {
	return &Builtins{
		Instance:      inst,
		Tasks:         tasks,
		Trap:          trap,
		resourceTypes: make(map[uint32]*instance.ResourceType),
	}
}

// RegisterResourceType declares a resource type this instance defines,
// with an optional destructor run by resource.drop. Must be called
// before any resource.new/drop/rep for typeID.
func (b *Builtins) RegisterResourceType(typeID uint32, dtor func(rep uint32)) *instance.ResourceType {
	rt := instance.NewResourceType(b.Instance, typeID, dtor)
	b.mu.Lock()
	b.resourceTypes[typeID] = rt
	b.mu.Unlock()
	return rt
}

func (b *Builtins) tableFor(typeID uint32) *instance.HandleTable {
	b.mu.Lock()
	rt, ok := b.resourceTypes[typeID]
	b.mu.Unlock()
	cerr.TrapIf(b.Trap, !ok, cerr.PhaseHandle, cerr.KindNotFound, "resource builtin on an unregistered resource type")
	if !ok {
		// Reached only when the trap callback returns: operate on a
		// detached empty table rather than dereference a nil type.
		return instance.NewHandleTable(instance.NewResourceType(b.Instance, typeID, nil))
	}
	return b.Instance.HandleTables.Table(rt)
}

// ResourceNew implements resource.new: inserts rep as a fresh own
// handle in typeID's table.
func (b *Builtins) ResourceNew(typeID uint32, rep uint32) instance.Handle {
	return b.tableFor(typeID).NewOwn(rep)
}

// ResourceRep implements resource.rep: returns h's representation
// without consuming it.
func (b *Builtins) ResourceRep(typeID uint32, h instance.Handle) uint32 {
	return b.tableFor(typeID).Rep(b.Trap, h)
}

// ResourceDrop implements resource.drop. For an own handle it traps on
// outstanding borrows, otherwise removes the handle and runs the type's
// destructor. For a borrow handle it removes the handle and decrements
// its scope's borrow count.
func (b *Builtins) ResourceDrop(typeID uint32, h instance.Handle) {
	t := b.tableFor(typeID)
	if !t.IsOwn(h) {
		if scope := t.RemoveBorrow(b.Trap, h); scope != nil {
			scope.DecBorrow(b.Trap)
		}
		return
	}
	t.DropOwn(b.Trap, b.Instance, h)
}

// TaskReturn implements task.return.
func (b *Builtins) TaskReturn(t *task.Task, values []any) {
	t.Return(values)
}

// TaskCancel implements task.cancel.
func (b *Builtins) TaskCancel(t *task.Task) {
	t.Cancel()
}

// Yield implements the yield built-in: suspends the calling task's
// thread for one tick and reports whether a pending cancellation was
// delivered at this suspension.
func (b *Builtins) Yield(t *task.Task, cancellable bool, inEventLoopCallback bool) bool {
	return t.Yield(cancellable, inEventLoopCallback)
}

// BackpressureSet implements backpressure.set.
func (b *Builtins) BackpressureSet(on bool) {
	b.Instance.SetBackpressure(on)
}

// BackpressureInc implements backpressure.inc (spec.md section 9 Open
// Question 3: additive counter alongside backpressure.set).
func (b *Builtins) BackpressureInc() {
	b.Instance.IncBackpressure()
}

// BackpressureDec implements backpressure.dec.
func (b *Builtins) BackpressureDec() {
	b.Instance.DecBackpressure()
}

// WaitableSetNew implements waitable-set.new.
func (b *Builtins) WaitableSetNew() instance.Index {
	return b.Instance.WaitableSets.Insert(b.Trap, instance.NewWaitableSet())
}

func (b *Builtins) mustWaitableSet(idx instance.Index) *instance.WaitableSet {
	set, ok := b.Instance.WaitableSets.Get(idx)
	cerr.TrapIf(b.Trap, !ok, cerr.PhaseTable, cerr.KindNotFound, "use of invalid waitable-set handle")
	return set
}

func (b *Builtins) mustWaitable(idx instance.Index) *instance.Waitable {
	w, ok := b.Instance.Waitables.Get(idx)
	cerr.TrapIf(b.Trap, !ok, cerr.PhaseTable, cerr.KindNotFound, "use of invalid waitable handle")
	return w
}

// WaitableSetDrop implements waitable-set.drop: traps unless the set is
// empty of members and has no waiters.
func (b *Builtins) WaitableSetDrop(idx instance.Index) {
	set := b.mustWaitableSet(idx)
	cerr.TrapIf(b.Trap, !set.Empty(), cerr.PhaseTable, cerr.KindNonEmptySet, "waitable-set.drop on a set with members or waiters")
	b.Instance.WaitableSets.Remove(idx)
}

// WaitableJoin implements waitable.join: setIdx==0 unjoins w from
// whatever set it currently belongs to.
func (b *Builtins) WaitableJoin(wIdx instance.Index, setIdx instance.Index) {
	w := b.mustWaitable(wIdx)
	if setIdx == 0 {
		w.Join(nil)
		return
	}
	w.Join(b.mustWaitableSet(setIdx))
}

// WaitableSetPoll implements waitable-set.poll: returns the first
// member with a pending event without blocking.
func (b *Builtins) WaitableSetPoll(idx instance.Index) (instance.Event, bool) {
	_, ev, ok := b.mustWaitableSet(idx).Poll()
	return ev, ok
}

// WaitableSetWait begins waitable-set.wait: if a member already has a
// pending event it is returned immediately (ok=true). Otherwise the
// calling task's thread is parked at a cancellable suspension until one
// does, and the caller must invoke WaitableSetFinishWait once the
// thread becomes ready again (the same two-step shape task.Enter uses
// for entry-gating waits).
func (b *Builtins) WaitableSetWait(t *task.Task, idx instance.Index) (instance.Event, bool) {
	set := b.mustWaitableSet(idx)
	if _, ev, ok := set.Poll(); ok {
		return ev, true
	}
	set.EnterWait()
	t.Thread.SuspendUntil(func() bool {
		// Poll takes the event it finds; put it back so that
		// WaitableSetFinishWait can return it.
		w, ev, ok := set.Poll()
		if ok {
			w.SetEvent(ev)
		}
		return ok
	}, true)
	return instance.Event{}, false
}

// WaitableSetFinishWait completes a wait begun by WaitableSetWait once
// the thread's ready predicate has fired.
func (b *Builtins) WaitableSetFinishWait(idx instance.Index) (instance.Event, bool) {
	set := b.mustWaitableSet(idx)
	set.ExitWait()
	_, ev, ok := set.Poll()
	return ev, ok
}

// StreamNew implements stream.new: creates a fresh stream pair and
// inserts both endpoints into the instance's stream table.
func (b *Builtins) StreamNew(elemSize, elemAlign, typeID uint32) (readable, writable instance.Index) {
	shared := instance.NewStreamShared(elemSize, elemAlign, typeID)
	r, w := instance.NewStreamPair(shared)
	readable = b.Instance.Streams.Insert(b.Trap, r)
	writable = b.Instance.Streams.Insert(b.Trap, w)
	return readable, writable
}

func (b *Builtins) mustStream(idx instance.Index) *instance.StreamEndpoint {
	e, ok := b.Instance.Streams.Get(idx)
	cerr.TrapIf(b.Trap, !ok, cerr.PhaseTable, cerr.KindNotFound, "use of invalid stream handle")
	return e
}

// StreamRead implements stream.read.
func (b *Builtins) StreamRead(idx instance.Index, sync bool, n uint32, copyOut func(elems [][]byte)) (instance.Event, bool) {
	return b.mustStream(idx).Read(b.Trap, sync, n, copyOut)
}

// StreamWrite implements stream.write.
func (b *Builtins) StreamWrite(idx instance.Index, elems [][]byte) instance.Event {
	return b.mustStream(idx).Write(elems)
}

// StreamCancelRead implements stream.cancel-read.
func (b *Builtins) StreamCancelRead(idx instance.Index, sync bool) instance.Event {
	return b.mustStream(idx).CancelRead(b.Trap, sync)
}

// StreamCancelWrite implements stream.cancel-write. Stream writes
// complete synchronously and never leave an endpoint mid-copy, so this
// traps with no copy in progress.
func (b *Builtins) StreamCancelWrite(idx instance.Index, sync bool) instance.Event {
	return b.mustStream(idx).CancelWrite(b.Trap, sync)
}

// StreamDropReadable implements stream.drop-readable.
func (b *Builtins) StreamDropReadable(idx instance.Index) {
	b.mustStream(idx).DropReadable(b.Trap)
	b.Instance.Streams.Remove(idx)
}

// StreamDropWritable implements stream.drop-writable.
func (b *Builtins) StreamDropWritable(idx instance.Index) {
	b.mustStream(idx).DropWritable(b.Trap)
	b.Instance.Streams.Remove(idx)
}

// FutureNew implements future.new: creates a fresh future pair and
// inserts both endpoints into the instance's future table.
func (b *Builtins) FutureNew(elemSize, elemAlign, typeID uint32) (readable, writable instance.Index) {
	shared := instance.NewFutureShared(elemSize, elemAlign, typeID)
	r, w := instance.NewFuturePair(shared)
	readable = b.Instance.Futures.Insert(b.Trap, r)
	writable = b.Instance.Futures.Insert(b.Trap, w)
	return readable, writable
}

func (b *Builtins) mustFuture(idx instance.Index) *instance.FutureEndpoint {
	e, ok := b.Instance.Futures.Get(idx)
	cerr.TrapIf(b.Trap, !ok, cerr.PhaseTable, cerr.KindNotFound, "use of invalid future handle")
	return e
}

// FutureRead implements future.read.
func (b *Builtins) FutureRead(idx instance.Index, sync bool, copyOut func(elems [][]byte)) (instance.Event, bool) {
	return b.mustFuture(idx).Read(b.Trap, sync, copyOut)
}

// FutureWrite implements future.write: traps on a second write to the
// same future (spec.md section 4.7, KindDoubleWrite).
func (b *Builtins) FutureWrite(idx instance.Index, value []byte) instance.Event {
	return b.mustFuture(idx).Write(b.Trap, value)
}

// FutureCancelRead implements future.cancel-read.
func (b *Builtins) FutureCancelRead(idx instance.Index, sync bool) instance.Event {
	return b.mustFuture(idx).CancelRead(b.Trap, sync)
}

// FutureCancelWrite implements future.cancel-write.
func (b *Builtins) FutureCancelWrite(idx instance.Index, sync bool) instance.Event {
	return b.mustFuture(idx).CancelWrite(b.Trap, sync)
}

// FutureDropReadable implements future.drop-readable.
func (b *Builtins) FutureDropReadable(idx instance.Index) {
	b.mustFuture(idx).DropReadable(b.Trap)
	b.Instance.Futures.Remove(idx)
}

// FutureDropWritable implements future.drop-writable.
func (b *Builtins) FutureDropWritable(idx instance.Index) {
	b.mustFuture(idx).DropWritable(b.Trap)
	b.Instance.Futures.Remove(idx)
}

// ErrorContextNew implements error-context.new.
func (b *Builtins) ErrorContextNew(message string) instance.Index {
	return b.Instance.ErrorContexts.Insert(b.Trap, instance.NewErrorContext(message))
}

// ErrorContextDebugMessage implements error-context.debug-message.
func (b *Builtins) ErrorContextDebugMessage(idx instance.Index) string {
	ec, ok := b.Instance.ErrorContexts.Get(idx)
	cerr.TrapIf(b.Trap, !ok, cerr.PhaseTable, cerr.KindNotFound, "use of invalid error-context handle")
	return ec.Message
}

// ErrorContextDrop implements error-context.drop.
func (b *Builtins) ErrorContextDrop(idx instance.Index) {
	_, ok := b.Instance.ErrorContexts.Remove(idx)
	cerr.TrapIf(b.Trap, !ok, cerr.PhaseTable, cerr.KindNotFound, "use of invalid error-context handle")
}

// ContextGet implements context.get: reads one of the task's fixed
// context-local storage slots.
func (b *Builtins) ContextGet(t *task.Task, slot uint32) uint32 {
	cerr.TrapIf(b.Trap, slot >= uint32(len(t.ContextLocal)), cerr.PhaseTask, cerr.KindOutOfBounds, "context.get slot out of range")
	if slot >= uint32(len(t.ContextLocal)) {
		return 0
	}
	return t.ContextLocal[slot]
}

// ContextSet implements context.set.
func (b *Builtins) ContextSet(t *task.Task, slot uint32, value uint32) {
	cerr.TrapIf(b.Trap, slot >= uint32(len(t.ContextLocal)), cerr.PhaseTask, cerr.KindOutOfBounds, "context.set slot out of range")
	if slot >= uint32(len(t.ContextLocal)) {
		return
	}
	t.ContextLocal[slot] = value
}
