package instance

import (
	"sync"

	cerr "github.com/canonabi/cabihost/errors"
)

// FutureShared is the one-shot analog of StreamShared: a single value
// slot instead of a FIFO queue, written exactly once.
type FutureShared struct {
	mu              sync.Mutex
	ElemSize        uint32
	ElemAlign       uint32
	TypeID          uint32
	value           []byte
	valueReady      bool
	written         bool
	readableDropped bool
	writableDropped bool
	pending         *pendingRead
}

// NewFutureShared creates the shared state for a new future.
func NewFutureShared(elemSize, elemAlign, typeID uint32) *FutureShared {
	return &FutureShared{ElemSize: elemSize, ElemAlign: elemAlign, TypeID: typeID}
}

// FutureEndpoint is one side (readable or writable) of a future.
type FutureEndpoint struct {
	Shared   *FutureShared
	Waitable *Waitable
	State    CopyState
}

// NewFuturePair creates the readable and writable endpoints for a fresh
// future over shared.
func NewFuturePair(shared *FutureShared) (readable, writable *FutureEndpoint) {
	return &FutureEndpoint{Shared: shared, Waitable: NewWaitable()},
		&FutureEndpoint{Shared: shared, Waitable: NewWaitable()}
}

// Read returns Completed(1) once the value is available, Dropped(0) if
// the writer dropped before writing, or blocks (sync traps) otherwise.
func (e *FutureEndpoint) Read(trap cerr.TrapFunc, sync bool, copyOut func(elems [][]byte)) (Event, bool) {
	s := e.Shared
	s.mu.Lock()
	if s.valueReady {
		v := s.value
		s.valueReady = false
		s.mu.Unlock()
		if copyOut != nil {
			copyOut([][]byte{v})
		}
		e.State = CopyIdle
		return Event{Code: EventFutureRead, Payload: PackPayload(StatusCompleted, 1)}, false
	}
	if s.writableDropped {
		s.mu.Unlock()
		e.State = CopyDone
		return Event{Code: EventFutureRead, Payload: PackPayload(StatusDropped, 0)}, false
	}
	s.mu.Unlock()

	cerr.TrapIf(trap, sync, cerr.PhaseAsync, cerr.KindWouldBlock, "future.read would block in a synchronous call")

	s.mu.Lock()
	s.pending = &pendingRead{requested: 1, copyOut: copyOut, waitable: e.Waitable}
	s.mu.Unlock()
	e.State = CopyCopying
	return Event{}, true
}

// Write stores the one value, fulfilling a pending reader immediately
// if one is waiting. Traps on a second write.
func (e *FutureEndpoint) Write(trap cerr.TrapFunc, value []byte) Event {
	s := e.Shared
	s.mu.Lock()
	cerr.TrapIf(trap, s.written, cerr.PhaseAsync, cerr.KindDoubleWrite, "future.write called twice")
	s.written = true

	pr := s.pending
	s.pending = nil
	if pr == nil {
		s.value = value
		s.valueReady = true
	}
	s.mu.Unlock()

	if pr != nil {
		if pr.copyOut != nil {
			pr.copyOut([][]byte{value})
		}
		pr.waitable.SetEvent(Event{Code: EventFutureRead, Payload: PackPayload(StatusCompleted, 1)})
	}

	return Event{Code: EventFutureWrite, Payload: PackPayload(StatusCompleted, 1)}
}

// CancelRead is the future analog of StreamEndpoint.CancelRead: a
// future always has at most one pending read, so there is no progress
// count to report beyond 0 or 1.
func (e *FutureEndpoint) CancelRead(trap cerr.TrapFunc, sync bool) Event {
	s := e.Shared
	s.mu.Lock()
	pr := s.pending
	s.pending = nil
	s.mu.Unlock()

	cerr.TrapIf(trap, e.State != CopyCopying, cerr.PhaseAsync, cerr.KindInvalidInput, "future.cancel-read with no copy in progress")

	progress := uint32(0)
	if pr != nil {
		progress = pr.progress
	}
	e.State = CopyDone
	ev := Event{Code: EventFutureRead, Payload: PackPayload(StatusCancelled, progress)}
	if !sync {
		e.Waitable.SetEvent(ev)
	}
	return ev
}

// CancelWrite is the future analog of StreamEndpoint.CancelWrite: since
// Write always completes synchronously in this model, there is never an
// in-flight copy to cancel.
func (e *FutureEndpoint) CancelWrite(trap cerr.TrapFunc, sync bool) Event {
	cerr.TrapIf(trap, e.State != CopyCopying, cerr.PhaseAsync, cerr.KindInvalidInput, "future.cancel-write with no copy in progress")
	e.State = CopyDone
	ev := Event{Code: EventFutureWrite, Payload: PackPayload(StatusCancelled, 0)}
	if !sync {
		e.Waitable.SetEvent(ev)
	}
	return ev
}

// DropReadable marks the readable side dropped. Traps if mid-copy.
func (e *FutureEndpoint) DropReadable(trap cerr.TrapFunc) {
	cerr.TrapIf(trap, e.State == CopyCopying, cerr.PhaseAsync, cerr.KindInvalidInput, "drop of a future endpoint mid-copy")
	e.Shared.mu.Lock()
	e.Shared.readableDropped = true
	e.Shared.mu.Unlock()
}

// DropWritable marks the writable side dropped and, if a read is
// pending and no value was ever written, completes it with Dropped(0).
func (e *FutureEndpoint) DropWritable(trap cerr.TrapFunc) {
	cerr.TrapIf(trap, e.State == CopyCopying, cerr.PhaseAsync, cerr.KindInvalidInput, "drop of a future endpoint mid-copy")

	s := e.Shared
	s.mu.Lock()
	s.writableDropped = true
	pr := s.pending
	s.pending = nil
	s.mu.Unlock()

	if pr != nil {
		pr.waitable.SetEvent(Event{Code: EventFutureRead, Payload: PackPayload(StatusDropped, 0)})
	}
}
