// Package task implements the cooperative scheduler: a Store holding an
// unordered pool of pending Threads, each ticked until its ready predicate
// holds, plus the Task state machine (task.return/task.cancel/yield) that
// sits on top of one guest call.
//
// This package does not itself run WASM. A Thread's Resume closure is
// supplied by whatever embeds this module (a wazero call via the engine
// package); suspend_until only updates the Thread's ready predicate and
// hands control back to Store.Tick, trusting the caller to re-drive the
// guest by whatever mechanism it has.
package task

// Resume is one step of a cooperative fiber: given whether cancellation
// was just observed, it runs until either the thread resolves (returns
// false) or reaches a suspension point, where it updates the owning
// Thread's ready predicate via SuspendUntil and returns true to be
// rescheduled.
type Resume func(wasCancelled bool) bool

// Thread is a single pending fiber in a Store, grounded on the teacher's
// resource.LocalBackend entry shape (a slot that is either live or free)
// generalized from a handle-table row to a schedulable unit of work.
type Thread struct {
	ready       func() bool
	resume      Resume
	cancellable bool
	cancelled   bool
	onCancel    func()
}

// NewThread creates a thread that is immediately ready to run its first
// resume step.
func NewThread(resume Resume) *Thread {
	return &Thread{resume: resume, ready: func() bool { return true }}
}

// SuspendUntil records the predicate a resume step must wait on before
// it is driven again, and whether this suspension is a point where a
// pending cancellation may be delivered (spec.md section 5's "only these
// calls may suspend" list, and the "cancellable suspension" wording in
// section 4.9's delivery rule).
func (t *Thread) SuspendUntil(predicate func() bool, cancellable bool) {
	t.ready = predicate
	t.cancellable = cancellable
}

// Ready reports whether this thread's resume step may run now.
func (t *Thread) Ready() bool {
	if t.ready == nil {
		return true
	}
	return t.ready()
}

// Cancellable reports whether the thread is currently parked at a point
// where a pending cancellation may be delivered.
func (t *Thread) Cancellable() bool {
	return t.cancellable
}

// OnCancel registers a hook fired exactly once by RequestCancellation,
// typically used to widen the ready predicate so a cancelled thread gets
// a chance to observe its own cancellation on the next tick.
func (t *Thread) OnCancel(fn func()) {
	t.onCancel = fn
}

// RequestCancellation marks the thread cancelled and fires its on_cancel
// hook (spec.md section 5: "cooperative only... marks the thread
// cancelled and fires its on_cancel hook, which may wake the ready
// predicate"). Idempotent.
func (t *Thread) RequestCancellation() {
	if t.cancelled {
		return
	}
	t.cancelled = true
	if t.onCancel != nil {
		t.onCancel()
	}
}

// Cancelled reports whether RequestCancellation has been called.
func (t *Thread) Cancelled() bool {
	return t.cancelled
}

// step invokes the resume closure, passing whether cancellation was
// requested, and returns whether the thread should be rescheduled.
func (t *Thread) step() bool {
	return t.resume(t.cancelled)
}
