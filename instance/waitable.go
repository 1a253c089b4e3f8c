package instance

import "sync"

// EventCode names the kind of event delivered on a Waitable.
type EventCode uint32

const (
	EventNone EventCode = iota
	EventSubtask
	EventStreamRead
	EventStreamWrite
	EventFutureRead
	EventFutureWrite
	EventTaskCancelled
)

// CopyStatus is the low-4-bit status packed into a stream/future result
// payload alongside a 28-bit progress count (spec section 4.7).
type CopyStatus uint32

const (
	StatusCompleted CopyStatus = 0
	StatusDropped   CopyStatus = 1
	StatusCancelled CopyStatus = 2
	StatusBlocked   CopyStatus = 3
)

// PackPayload combines a status and progress count into the u32 payload
// format shared by stream and future events.
func PackPayload(status CopyStatus, progress uint32) uint32 {
	return uint32(status)&0xF | (progress << 4)
}

// UnpackPayload splits a packed stream/future payload back into its
// status and progress count.
func UnpackPayload(payload uint32) (CopyStatus, uint32) {
	return CopyStatus(payload & 0xF), payload >> 4
}

// Event is the single pending notification a Waitable may carry at a
// time. Index and Payload are guest-visible; Payload packs a Completed/
// Dropped/Cancelled status (low 4 bits) and a progress count (high 28
// bits) for stream/future events, per spec section 4.7.
type Event struct {
	Code    EventCode
	Index   uint32
	Payload uint32
}

// Waitable carries at most one pending Event and an optional joined
// WaitableSet. Events are single-producer: setting a pending event on a
// waitable that already has one is a caller bug, not a guest-triggerable
// trap, so it panics rather than routing through TrapFunc.
type Waitable struct {
	mu      sync.Mutex
	pending *Event
	set     *WaitableSet
}

// NewWaitable creates a waitable with no pending event and no set
// membership.
func NewWaitable() *Waitable {
	return &Waitable{}
}

// SetEvent records ev as the waitable's pending event and, if the
// waitable is joined to a set, notifies that set.
func (w *Waitable) SetEvent(ev Event) {
	w.mu.Lock()
	if w.pending != nil {
		w.mu.Unlock()
		panic("instance: waitable already has a pending event")
	}
	w.pending = &ev
	set := w.set
	w.mu.Unlock()

	if set != nil {
		set.notify()
	}
}

// TakePending removes and returns the waitable's pending event, if any.
func (w *Waitable) TakePending() (Event, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return Event{}, false
	}
	ev := *w.pending
	w.pending = nil
	return ev, true
}

// HasPending reports whether an event is waiting to be consumed.
func (w *Waitable) HasPending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending != nil
}

// Join moves w into set, unjoining it from any prior set first. A nil
// set unjoins w entirely, matching set=0 in the guest-visible ABI.
func (w *Waitable) Join(set *WaitableSet) {
	w.mu.Lock()
	prev := w.set
	w.set = set
	w.mu.Unlock()

	if prev != nil && prev != set {
		prev.removeMember(w)
	}
	if set != nil {
		set.addMember(w)
	}
}

// WaitableSet groups waitables so a task can block on the first one with
// a pending event. Must be empty of members and have no waiters to be
// dropped (spec section 4.6).
type WaitableSet struct {
	mu      sync.Mutex
	members map[*Waitable]struct{}
	waiters int
	woken   chan struct{}
}

// NewWaitableSet creates an empty waitable set.
func NewWaitableSet() *WaitableSet {
	return &WaitableSet{members: make(map[*Waitable]struct{})}
}

func (s *WaitableSet) addMember(w *Waitable) {
	s.mu.Lock()
	s.members[w] = struct{}{}
	s.mu.Unlock()
}

func (s *WaitableSet) removeMember(w *Waitable) {
	s.mu.Lock()
	delete(s.members, w)
	s.mu.Unlock()
}

func (s *WaitableSet) notify() {
	s.mu.Lock()
	ch := s.woken
	s.woken = nil
	s.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Len returns the current member count.
func (s *WaitableSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Waiters returns the number of tasks currently blocked in wait().
func (s *WaitableSet) Waiters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters
}

// Empty reports whether the set has no members and no waiters, the
// precondition for waitable-set.drop.
func (s *WaitableSet) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members) == 0 && s.waiters == 0
}

// Poll scans members for one with a pending event, in iteration order
// (documented non-deterministic across waitables, spec section 5) and
// returns it without blocking.
func (s *WaitableSet) Poll() (*Waitable, Event, bool) {
	s.mu.Lock()
	members := make([]*Waitable, 0, len(s.members))
	for w := range s.members {
		members = append(members, w)
	}
	s.mu.Unlock()

	for _, w := range members {
		if ev, ok := w.TakePending(); ok {
			return w, ev, true
		}
	}
	return nil, Event{}, false
}

// EnterWait registers the caller as a waiter, for Waiters()/Empty()
// bookkeeping; the scheduler, not WaitableSet, performs the actual
// suspend/resume via task.Store.
func (s *WaitableSet) EnterWait() {
	s.mu.Lock()
	s.waiters++
	s.mu.Unlock()
}

// ExitWait unregisters a waiter previously added by EnterWait.
func (s *WaitableSet) ExitWait() {
	s.mu.Lock()
	s.waiters--
	s.mu.Unlock()
}
