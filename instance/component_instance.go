package instance

import (
	"sync"

	"github.com/google/uuid"
)

// ComponentInstance is the host-resident state for one component
// instance: its resource handle tables, its waitable/stream/future/
// error-context tables, and the entry-gating flags the task scheduler
// consults on every task.enter (spec.md section 4.9).
type ComponentInstance struct {
	ID uuid.UUID

	mu                sync.Mutex
	MayLeave          bool
	MayEnter          bool
	Exclusive         bool
	Backpressure      int32
	NumWaitingToEnter int

	HandleTables *HandleTables

	Waitables     *InstanceTable[*Waitable]
	WaitableSets  *InstanceTable[*WaitableSet]
	Streams       *InstanceTable[*StreamEndpoint]
	Futures       *InstanceTable[*FutureEndpoint]
	ErrorContexts *InstanceTable[*ErrorContext]
}

// NewComponentInstance creates an instance with default gating flags
// (MayLeave and MayEnter both true, as a freshly instantiated component
// can both call out and be called into) and empty tables.
func NewComponentInstance() *ComponentInstance {
	return &ComponentInstance{
		ID:            uuid.New(),
		MayLeave:      true,
		MayEnter:      true,
		HandleTables:  newHandleTables(),
		Waitables:     NewInstanceTable[*Waitable](),
		WaitableSets:  NewInstanceTable[*WaitableSet](),
		Streams:       NewInstanceTable[*StreamEndpoint](),
		Futures:       NewInstanceTable[*FutureEndpoint](),
		ErrorContexts: NewInstanceTable[*ErrorContext](),
	}
}

// SetBackpressure implements backpressure.set: on sets the counter to
// at least 1, off clears it to 0. Per spec.md section 9's Open Question
// 3, set/inc/dec all adjust one additive counter rather than tracking a
// separate boolean flag.
func (c *ComponentInstance) SetBackpressure(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		if c.Backpressure == 0 {
			c.Backpressure = 1
		}
	} else {
		c.Backpressure = 0
	}
}

// IncBackpressure implements backpressure.inc.
func (c *ComponentInstance) IncBackpressure() {
	c.mu.Lock()
	c.Backpressure++
	c.mu.Unlock()
}

// DecBackpressure implements backpressure.dec.
func (c *ComponentInstance) DecBackpressure() {
	c.mu.Lock()
	if c.Backpressure > 0 {
		c.Backpressure--
	}
	c.mu.Unlock()
}

// CanEnter reports whether a task requiring exclusive use (sync, or an
// event-loop callback) may currently be admitted: backpressure must be
// clear and no other exclusive task may be running.
func (c *ComponentInstance) CanEnter(needsExclusive bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Backpressure > 0 {
		return false
	}
	if needsExclusive && c.Exclusive {
		return false
	}
	return true
}

// EnterWaiting increments num_waiting_to_enter while a task blocks on
// CanEnter; ExitWaiting reverses it once the task is admitted or its
// entry wait is cancelled.
func (c *ComponentInstance) EnterWaiting() {
	c.mu.Lock()
	c.NumWaitingToEnter++
	c.mu.Unlock()
}

func (c *ComponentInstance) ExitWaiting() {
	c.mu.Lock()
	c.NumWaitingToEnter--
	c.mu.Unlock()
}

// Admit marks the instance as running an exclusive task, once CanEnter
// has returned true for a task that needs exclusive use.
func (c *ComponentInstance) Admit(exclusive bool) {
	if !exclusive {
		return
	}
	c.mu.Lock()
	c.Exclusive = true
	c.mu.Unlock()
}

// Release clears exclusive use when an exclusive task finishes or
// suspends past its own event-loop turn.
func (c *ComponentInstance) Release(exclusive bool) {
	if !exclusive {
		return
	}
	c.mu.Lock()
	c.Exclusive = false
	c.mu.Unlock()
}
