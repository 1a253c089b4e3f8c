package instance

import (
	"bytes"
	"testing"

	cerr "github.com/canonabi/cabihost/errors"
)

func TestFutureWriteThenReadIsSynchronous(t *testing.T) {
	shared := NewFutureShared(4, 4, 0)
	readable, writable := NewFuturePair(shared)

	writable.Write(nil, []byte{1, 2, 3, 4})

	var got [][]byte
	ev, blocked := readable.Read(nil, true, func(elems [][]byte) { got = elems })
	if blocked {
		t.Fatal("read after write should not block")
	}
	status, progress := UnpackPayload(ev.Payload)
	if status != StatusCompleted || progress != 1 {
		t.Fatalf("event = %v/%d, want Completed/1", status, progress)
	}
	if len(got) != 1 || !bytes.Equal(got[0], []byte{1, 2, 3, 4}) {
		t.Fatalf("copied value = %v", got)
	}
}

func TestFutureSecondWriteTraps(t *testing.T) {
	shared := NewFutureShared(1, 1, 0)
	_, writable := NewFuturePair(shared)
	writable.Write(nil, []byte{1})

	var trapped error
	writable.Write(func(tr *cerr.Trap) { trapped = tr }, []byte{2})
	if trapped == nil {
		t.Fatal("expected second future.write to trap")
	}
}

func TestFutureSyncReadBeforeValueTraps(t *testing.T) {
	shared := NewFutureShared(1, 1, 0)
	readable, _ := NewFuturePair(shared)

	var trapped error
	readable.Read(func(tr *cerr.Trap) { trapped = tr }, true, nil)
	if trapped == nil {
		t.Fatal("expected synchronous read before the value is ready to trap")
	}
}

func TestFutureAsyncReadThenWriteDeliversEvent(t *testing.T) {
	shared := NewFutureShared(1, 1, 0)
	readable, writable := NewFuturePair(shared)

	var got [][]byte
	_, blocked := readable.Read(nil, false, func(elems [][]byte) { got = elems })
	if !blocked {
		t.Fatal("read before the value is written should block")
	}

	writable.Write(nil, []byte{9})

	if !readable.Waitable.HasPending() {
		t.Fatal("expected an event to be delivered to the waiting reader")
	}
	if len(got) != 1 || got[0][0] != 9 {
		t.Fatalf("copied value = %v", got)
	}
}

func TestFutureCancelReadMovesToDone(t *testing.T) {
	shared := NewFutureShared(1, 1, 0)
	readable, _ := NewFuturePair(shared)
	readable.Read(nil, false, nil)

	ev := readable.CancelRead(nil, true)
	status, _ := UnpackPayload(ev.Payload)
	if status != StatusCancelled {
		t.Fatalf("status = %v, want Cancelled", status)
	}
	if readable.State != CopyDone {
		t.Fatalf("state = %v, want CopyDone", readable.State)
	}
}

func TestFutureCancelWriteWithNoCopyInProgressTraps(t *testing.T) {
	shared := NewFutureShared(1, 1, 0)
	_, writable := NewFuturePair(shared)

	var trapped error
	writable.CancelWrite(func(tr *cerr.Trap) { trapped = tr }, true)
	if trapped == nil {
		t.Fatal("expected future.cancel-write with no copy in progress to trap")
	}
}

func TestFutureDropWritableBeforeWriteResolvesPendingReader(t *testing.T) {
	shared := NewFutureShared(1, 1, 0)
	readable, writable := NewFuturePair(shared)

	readable.Read(nil, false, nil)
	writable.DropWritable(nil)

	if !readable.Waitable.HasPending() {
		t.Fatal("expected dropped-writable to resolve the pending reader")
	}
	ev, _ := readable.Waitable.TakePending()
	status, _ := UnpackPayload(ev.Payload)
	if status != StatusDropped {
		t.Fatalf("status = %v, want Dropped", status)
	}
}
