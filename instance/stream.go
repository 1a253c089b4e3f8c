package instance

import (
	"sync"

	cerr "github.com/canonabi/cabihost/errors"
)

// CopyState is an endpoint's local view of an in-flight copy, distinct
// from the shared queue state (spec section 3: "carry their own local
// copy-state").
type CopyState int

const (
	CopyIdle CopyState = iota
	CopyCopying
	CopyDone
)

type pendingRead struct {
	requested uint32
	progress  uint32
	copyOut   func(elems [][]byte)
	waitable  *Waitable
}

// StreamShared is the queue and drop-flag state shared by a stream's
// readable and writable endpoints. ElemSize/ElemAlign/TypeID are fixed
// at creation.
type StreamShared struct {
	mu              sync.Mutex
	ElemSize        uint32
	ElemAlign       uint32
	TypeID          uint32
	queue           [][]byte
	readableDropped bool
	writableDropped bool
	pending         *pendingRead
}

// NewStreamShared creates the shared state for a new stream with the
// given element shape.
func NewStreamShared(elemSize, elemAlign, typeID uint32) *StreamShared {
	return &StreamShared{ElemSize: elemSize, ElemAlign: elemAlign, TypeID: typeID}
}

// StreamEndpoint is one side (readable or writable) of a stream.
type StreamEndpoint struct {
	Shared   *StreamShared
	Waitable *Waitable
	State    CopyState
	writable bool
}

// NewStreamPair creates the readable and writable endpoints for a fresh
// stream over shared.
func NewStreamPair(shared *StreamShared) (readable, writable *StreamEndpoint) {
	readable = &StreamEndpoint{Shared: shared, Waitable: NewWaitable()}
	writable = &StreamEndpoint{Shared: shared, Waitable: NewWaitable(), writable: true}
	return readable, writable
}

// Read attempts to copy up to n elements from the queue via copyOut.
// Returns the completed event and false when satisfied synchronously
// (including the writable-dropped case); returns true ("blocked") when
// the call must suspend - sync traps instead of blocking.
func (e *StreamEndpoint) Read(trap cerr.TrapFunc, sync bool, n uint32, copyOut func(elems [][]byte)) (Event, bool) {
	s := e.Shared
	s.mu.Lock()
	if len(s.queue) > 0 || n == 0 {
		take := n
		if uint32(len(s.queue)) < take {
			take = uint32(len(s.queue))
		}
		elems := s.queue[:take]
		s.queue = s.queue[take:]
		s.mu.Unlock()
		if copyOut != nil {
			copyOut(elems)
		}
		e.State = CopyIdle
		return Event{Code: EventStreamRead, Payload: PackPayload(StatusCompleted, take)}, false
	}
	if s.writableDropped {
		s.mu.Unlock()
		e.State = CopyDone
		return Event{Code: EventStreamRead, Payload: PackPayload(StatusDropped, 0)}, false
	}
	s.mu.Unlock()

	cerr.TrapIf(trap, sync, cerr.PhaseAsync, cerr.KindWouldBlock, "stream.read would block in a synchronous call")

	s.mu.Lock()
	s.pending = &pendingRead{requested: n, copyOut: copyOut, waitable: e.Waitable}
	s.mu.Unlock()
	e.State = CopyCopying
	return Event{}, true
}

// Write copies elems into the queue, then satisfies as much of the
// pending read as possible. Returns the writer's own Completed event.
func (e *StreamEndpoint) Write(elems [][]byte) Event {
	s := e.Shared
	s.mu.Lock()
	s.queue = append(s.queue, elems...)

	var fulfilled *pendingRead
	var deliverElems [][]byte
	if pr := s.pending; pr != nil {
		want := pr.requested - pr.progress
		take := want
		if uint32(len(s.queue)) < take {
			take = uint32(len(s.queue))
		}
		if take > 0 {
			deliverElems = s.queue[:take]
			s.queue = s.queue[take:]
			pr.progress += take
		}
		if pr.progress >= pr.requested {
			fulfilled = pr
			s.pending = nil
		}
	}
	s.mu.Unlock()

	if fulfilled != nil {
		if fulfilled.copyOut != nil {
			fulfilled.copyOut(deliverElems)
		}
		fulfilled.waitable.SetEvent(Event{Code: EventStreamRead, Payload: PackPayload(StatusCompleted, fulfilled.progress)})
	}

	e.State = CopyIdle
	return Event{Code: EventStreamWrite, Payload: PackPayload(StatusCompleted, uint32(len(elems)))}
}

// CancelRead moves a copying read to done and reports its progress.
// Sync callers use the returned event directly; async callers have
// already returned BLOCKED from Read and observe this via the
// waitable's pending event instead.
func (e *StreamEndpoint) CancelRead(trap cerr.TrapFunc, sync bool) Event {
	s := e.Shared
	s.mu.Lock()
	pr := s.pending
	s.pending = nil
	s.mu.Unlock()

	cerr.TrapIf(trap, e.State != CopyCopying, cerr.PhaseAsync, cerr.KindInvalidInput, "stream.cancel-read with no copy in progress")

	progress := uint32(0)
	if pr != nil {
		progress = pr.progress
	}
	e.State = CopyDone
	ev := Event{Code: EventStreamRead, Payload: PackPayload(StatusCancelled, progress)}
	if !sync {
		e.Waitable.SetEvent(ev)
	}
	return ev
}

// CancelWrite is the writer-side analog of CancelRead. A write is never
// recorded as pending in this model (writes complete synchronously),
// so cancellation only needs to flip an in-flight copying state.
func (e *StreamEndpoint) CancelWrite(trap cerr.TrapFunc, sync bool) Event {
	cerr.TrapIf(trap, e.State != CopyCopying, cerr.PhaseAsync, cerr.KindInvalidInput, "stream.cancel-write with no copy in progress")
	e.State = CopyDone
	ev := Event{Code: EventStreamWrite, Payload: PackPayload(StatusCancelled, 0)}
	if !sync {
		e.Waitable.SetEvent(ev)
	}
	return ev
}

// DropReadable marks the readable side dropped. Traps if this endpoint
// is mid-copy.
func (e *StreamEndpoint) DropReadable(trap cerr.TrapFunc) {
	cerr.TrapIf(trap, e.State == CopyCopying, cerr.PhaseAsync, cerr.KindInvalidInput, "drop of a stream endpoint mid-copy")
	e.Shared.mu.Lock()
	e.Shared.readableDropped = true
	e.Shared.mu.Unlock()
}

// DropWritable marks the writable side dropped and, if a read is
// pending, completes it with Dropped(progress).
func (e *StreamEndpoint) DropWritable(trap cerr.TrapFunc) {
	cerr.TrapIf(trap, e.State == CopyCopying, cerr.PhaseAsync, cerr.KindInvalidInput, "drop of a stream endpoint mid-copy")

	s := e.Shared
	s.mu.Lock()
	s.writableDropped = true
	pr := s.pending
	s.pending = nil
	s.mu.Unlock()

	if pr != nil {
		pr.waitable.SetEvent(Event{Code: EventStreamRead, Payload: PackPayload(StatusDropped, pr.progress)})
	}
}
