package task

import (
	"sync"

	"github.com/canonabi/cabihost/codec"
	cerr "github.com/canonabi/cabihost/errors"
	"github.com/canonabi/cabihost/instance"
)

// State is one of the four states a Task moves through exactly once
// (spec.md section 3): initial, optionally pending-cancel, optionally
// cancel-delivered, and finally resolved.
type State int

const (
	StateInitial State = iota
	StatePendingCancel
	StateCancelDelivered
	StateResolved
)

// Resolve delivers a task's outcome: Some(values) on a normal return,
// None (values nil, cancelled true) when cancellation resolves it
// instead (spec.md section 3's "resolve callback").
type Resolve func(values []any, cancelled bool)

// Task is the per-guest-call unit spec.md section 3/4.9 describes: the
// canonical options it was entered with, the instance it belongs to, an
// optional supertask link, a resolve callback, borrow bookkeeping, the
// thread driving it, and its lifecycle state.
type Task struct {
	mu sync.Mutex

	Opts      codec.CanonicalOptions
	Instance  *instance.ComponentInstance
	Supertask *Task
	Thread    *Thread

	resolve Resolve
	trap    cerr.TrapFunc

	state         State
	borrows       int32
	exclusiveHeld bool

	// ContextLocal is the fixed-size context-local storage slot spec.md
	// section 9 Open Question 1 resolves to width 2 (see DESIGN.md).
	ContextLocal [2]uint32
}

// NewTask creates a task in the initial state, bound to a thread that
// will be driven by a Store.
func NewTask(opts codec.CanonicalOptions, inst *instance.ComponentInstance, supertask *Task, thread *Thread, resolve Resolve, trap cerr.TrapFunc) *Task {
	t := &Task{
		Opts:      opts,
		Instance:  inst,
		Supertask: supertask,
		Thread:    thread,
		resolve:   resolve,
		trap:      trap,
	}
	thread.OnCancel(func() {
		t.RequestCancellation()
	})
	return t
}

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IncBorrow records a borrow lifted on this task's behalf; task.return
// and task.cancel both trap while any remain outstanding.
func (t *Task) IncBorrow() {
	t.mu.Lock()
	t.borrows++
	t.mu.Unlock()
}

// DecBorrow releases a borrow previously recorded with IncBorrow.
func (t *Task) DecBorrow() {
	t.mu.Lock()
	defer t.mu.Unlock()
	cerr.TrapIf(t.trap, t.borrows <= 0, cerr.PhaseTask, cerr.KindScopeLeak, "task borrow count underflow")
	t.borrows--
}

// TryEnter attempts to admit the task for execution now (spec.md section
// 4.9: backpressure clear and, if the task needs exclusive use, no other
// exclusive task running). Returns whether admission succeeded; on
// success the instance's exclusive flag is set if needsExclusive.
func (t *Task) TryEnter(needsExclusive bool) bool {
	if !t.Instance.CanEnter(needsExclusive) {
		return false
	}
	t.Instance.Admit(needsExclusive)
	t.mu.Lock()
	t.exclusiveHeld = needsExclusive
	t.mu.Unlock()
	return true
}

// Enter attempts immediate admission; if the instance is not ready, it
// registers the task as waiting and suspends its thread until CanEnter
// holds, per spec.md section 4.9 ("increments num_waiting_to_enter and
// suspends until the condition clears"). Returns true if admitted
// without waiting.
func (t *Task) Enter(needsExclusive bool) bool {
	if t.TryEnter(needsExclusive) {
		return true
	}
	t.Instance.EnterWaiting()
	t.Thread.SuspendUntil(func() bool { return t.Instance.CanEnter(needsExclusive) }, true)
	return false
}

// FinishEntryWait completes a wait begun by Enter once the thread's
// ready predicate has fired: it stops counting the task as waiting and
// retries admission. Call this from the resume step that follows a
// suspended Enter.
func (t *Task) FinishEntryWait(needsExclusive bool) bool {
	t.Instance.ExitWaiting()
	return t.TryEnter(needsExclusive)
}

// exitExclusive releases the instance's exclusive flag if this task was
// holding it.
func (t *Task) exitExclusive() {
	t.mu.Lock()
	held := t.exclusiveHeld
	t.exclusiveHeld = false
	t.mu.Unlock()
	if held {
		t.Instance.Release(true)
	}
}

// Return implements task.return: trap if this is a sync task (sync tasks
// return through the core function result, not this builtin), trap if
// already resolved or borrows remain outstanding; otherwise delivers
// Some(values) and marks the task resolved.
func (t *Task) Return(values []any) {
	cerr.TrapIf(t.trap, !t.Opts.Async, cerr.PhaseTask, cerr.KindInvalidInput, "task.return called from a synchronous task")

	t.mu.Lock()
	cerr.TrapIf(t.trap, t.state == StateResolved, cerr.PhaseTask, cerr.KindAlreadyResolved, "task.return on an already-resolved task")
	cerr.TrapIf(t.trap, t.borrows != 0, cerr.PhaseTask, cerr.KindBorrowed, "task.return with outstanding borrows")
	t.state = StateResolved
	t.mu.Unlock()

	t.exitExclusive()
	t.resolve(values, false)
}

// Cancel implements task.cancel: trap if sync, trap unless the task is
// in cancel-delivered state, trap if borrows remain outstanding;
// otherwise delivers None and marks the task resolved.
func (t *Task) Cancel() {
	cerr.TrapIf(t.trap, !t.Opts.Async, cerr.PhaseTask, cerr.KindInvalidInput, "task.cancel called from a synchronous task")

	t.mu.Lock()
	cerr.TrapIf(t.trap, t.state != StateCancelDelivered, cerr.PhaseTask, cerr.KindNotCancellable, "task.cancel outside cancel-delivered state")
	cerr.TrapIf(t.trap, t.borrows != 0, cerr.PhaseTask, cerr.KindBorrowed, "task.cancel with outstanding borrows")
	t.state = StateResolved
	t.mu.Unlock()

	t.exitExclusive()
	t.resolve(nil, true)
}

// RequestCancellation puts the task into pending-cancel, the mirror of
// Thread.RequestCancellation but gated on the task not already being
// past that point (spec.md section 4.9: "a cancel request puts the task
// into pending-cancel").
func (t *Task) RequestCancellation() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateInitial {
		t.state = StatePendingCancel
	}
}

// DeliverCancelIfPending implements the cancellation delivery rule
// (spec.md section 4.9): a pending cancel transitions to cancel-
// delivered at the next cancellable suspension, but only if the task is
// cancellable and not simultaneously in an event-loop callback holding
// exclusive use. Returns whether delivery happened.
func (t *Task) DeliverCancelIfPending(cancellable bool, inEventLoopCallback bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StatePendingCancel {
		return false
	}
	if !cancellable {
		return false
	}
	if inEventLoopCallback && t.exclusiveHeld {
		return false
	}
	t.state = StateCancelDelivered
	return true
}

// Yield implements the yield builtin: it suspends the thread for exactly
// one tick and reports whether a pending cancellation was delivered at
// this suspension (spec.md section 4.9: "if cancellable and a cancel was
// requested, return 1 to signal cancellation; else 0").
func (t *Task) Yield(cancellable bool, inEventLoopCallback bool) bool {
	t.Thread.SuspendUntil(func() bool { return true }, cancellable)
	return t.DeliverCancelIfPending(cancellable, inEventLoopCallback)
}
