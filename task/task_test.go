package task

import (
	"testing"

	"github.com/canonabi/cabihost/codec"
	cerr "github.com/canonabi/cabihost/errors"
	"github.com/canonabi/cabihost/instance"
)

func newTestTask(t *testing.T, async bool) (*Task, *[]any, *bool) {
	t.Helper()
	inst := instance.NewComponentInstance()
	th := NewThread(func(bool) bool { return false })

	var resolvedValues []any
	cancelled := false
	resolve := func(values []any, wasCancelled bool) {
		resolvedValues = values
		cancelled = wasCancelled
	}

	tsk := NewTask(codec.CanonicalOptions{Async: async}, inst, nil, th, resolve, nil)
	return tsk, &resolvedValues, &cancelled
}

func TestTaskReturnResolvesWithValues(t *testing.T) {
	tsk, values, cancelled := newTestTask(t, true)
	tsk.Return([]any{uint32(7)})

	if tsk.State() != StateResolved {
		t.Fatalf("state after Return = %v, want StateResolved", tsk.State())
	}
	if len(*values) != 1 || (*values)[0] != uint32(7) {
		t.Fatalf("resolved values = %v", *values)
	}
	if *cancelled {
		t.Fatal("Return should resolve with cancelled=false")
	}
}

func TestTaskReturnTrapsOnSyncTask(t *testing.T) {
	tsk, _, _ := newTestTask(t, false)
	var trapped *cerr.Trap
	tsk.trap = func(tr *cerr.Trap) { trapped = tr }

	tsk.Return(nil)
	if trapped == nil || trapped.Err.Kind != cerr.KindInvalidInput {
		t.Fatalf("expected invalid_input trap for sync task.return, got %v", trapped)
	}
}

func TestTaskReturnTrapsWhenAlreadyResolved(t *testing.T) {
	tsk, _, _ := newTestTask(t, true)
	tsk.Return(nil)

	var trapped *cerr.Trap
	tsk.trap = func(tr *cerr.Trap) { trapped = tr }
	tsk.Return(nil)

	if trapped == nil || trapped.Err.Kind != cerr.KindAlreadyResolved {
		t.Fatalf("expected already_resolved trap on second Return, got %v", trapped)
	}
}

func TestTaskReturnTrapsWithOutstandingBorrows(t *testing.T) {
	tsk, _, _ := newTestTask(t, true)
	tsk.IncBorrow()

	var trapped *cerr.Trap
	tsk.trap = func(tr *cerr.Trap) { trapped = tr }
	tsk.Return(nil)

	if trapped == nil || trapped.Err.Kind != cerr.KindBorrowed {
		t.Fatalf("expected borrowed trap with an outstanding borrow, got %v", trapped)
	}
}

func TestTaskCancelRequiresCancelDeliveredState(t *testing.T) {
	tsk, _, _ := newTestTask(t, true)
	var trapped *cerr.Trap
	tsk.trap = func(tr *cerr.Trap) { trapped = tr }

	tsk.Cancel()
	if trapped == nil || trapped.Err.Kind != cerr.KindNotCancellable {
		t.Fatalf("expected not_cancellable trap outside cancel-delivered state, got %v", trapped)
	}
}

func TestTaskCancelResolvesWithNoneAfterDelivery(t *testing.T) {
	tsk, values, cancelled := newTestTask(t, true)
	tsk.RequestCancellation()
	if delivered := tsk.DeliverCancelIfPending(true, false); !delivered {
		t.Fatal("cancellation should deliver at a cancellable suspension")
	}
	if tsk.State() != StateCancelDelivered {
		t.Fatalf("state after delivery = %v, want StateCancelDelivered", tsk.State())
	}

	tsk.Cancel()
	if tsk.State() != StateResolved {
		t.Fatalf("state after Cancel = %v, want StateResolved", tsk.State())
	}
	if !*cancelled {
		t.Fatal("Cancel should resolve with cancelled=true")
	}
	if *values != nil {
		t.Fatalf("Cancel should resolve with nil values, got %v", *values)
	}
}

func TestDeliverCancelIfPendingWithholdsWhenNotCancellable(t *testing.T) {
	tsk, _, _ := newTestTask(t, true)
	tsk.RequestCancellation()

	if tsk.DeliverCancelIfPending(false, false) {
		t.Fatal("delivery must not happen at a non-cancellable suspension")
	}
	if tsk.State() != StatePendingCancel {
		t.Fatalf("state = %v, want StatePendingCancel", tsk.State())
	}
}

func TestDeliverCancelIfPendingWithholdsDuringExclusiveEventLoopCallback(t *testing.T) {
	tsk, _, _ := newTestTask(t, true)
	tsk.RequestCancellation()
	tsk.exclusiveHeld = true

	if tsk.DeliverCancelIfPending(true, true) {
		t.Fatal("delivery must not happen while holding exclusive use inside an event-loop callback")
	}
	if tsk.State() != StatePendingCancel {
		t.Fatalf("state = %v, want StatePendingCancel", tsk.State())
	}
}

func TestTaskEnterAdmitsImmediatelyWhenClear(t *testing.T) {
	tsk, _, _ := newTestTask(t, true)
	if !tsk.Enter(true) {
		t.Fatal("Enter should admit immediately with no backpressure and no competing exclusive task")
	}
	if tsk.Instance.CanEnter(true) {
		t.Fatal("instance should be marked exclusive after an exclusive task is admitted")
	}
}

func TestTaskEnterWaitsUnderBackpressureThenAdmitsOnClear(t *testing.T) {
	tsk, _, _ := newTestTask(t, true)
	tsk.Instance.SetBackpressure(true)

	if tsk.Enter(false) {
		t.Fatal("Enter should not admit while backpressure is set")
	}
	if !tsk.Thread.Cancellable() {
		t.Fatal("a blocked Enter should park at a cancellable suspension")
	}
	if tsk.Thread.Ready() {
		t.Fatal("thread should not be ready while backpressure remains set")
	}

	tsk.Instance.SetBackpressure(false)
	if !tsk.Thread.Ready() {
		t.Fatal("thread should become ready once backpressure clears")
	}
	if !tsk.FinishEntryWait(false) {
		t.Fatal("FinishEntryWait should succeed once backpressure has cleared")
	}
}

func TestTaskReturnReleasesExclusiveUse(t *testing.T) {
	tsk, _, _ := newTestTask(t, true)
	tsk.Enter(true)
	if !tsk.Instance.Exclusive {
		t.Fatal("instance should be exclusive after admitting an exclusive task")
	}

	tsk.Return(nil)
	if tsk.Instance.Exclusive {
		t.Fatal("Return should release exclusive use")
	}
}
