package instance

import (
	"bytes"
	"testing"

	cerr "github.com/canonabi/cabihost/errors"
)

func elem(b byte) []byte { return []byte{b} }

func TestStreamReadFromNonEmptyQueueIsSynchronous(t *testing.T) {
	shared := NewStreamShared(1, 1, 0)
	readable, writable := NewStreamPair(shared)

	writable.Write([][]byte{elem(1), elem(2)})

	var got [][]byte
	ev, blocked := readable.Read(nil, true, 2, func(elems [][]byte) { got = elems })
	if blocked {
		t.Fatal("read with data already queued should not block")
	}
	status, progress := UnpackPayload(ev.Payload)
	if status != StatusCompleted || progress != 2 {
		t.Fatalf("event = %v/%d, want Completed/2", status, progress)
	}
	if len(got) != 2 || !bytes.Equal(got[0], elem(1)) || !bytes.Equal(got[1], elem(2)) {
		t.Fatalf("copied elements = %v", got)
	}
}

func TestStreamSyncReadOnEmptyQueueTraps(t *testing.T) {
	shared := NewStreamShared(1, 1, 0)
	readable, _ := NewStreamPair(shared)

	var trapped error
	readable.Read(func(tr *cerr.Trap) { trapped = tr }, true, 1, nil)
	if trapped == nil {
		t.Fatal("expected synchronous read on empty queue to trap")
	}
}

func TestStreamAsyncReadThenWriteDeliversEvent(t *testing.T) {
	shared := NewStreamShared(1, 1, 0)
	readable, writable := NewStreamPair(shared)

	var got [][]byte
	_, blocked := readable.Read(nil, false, 1, func(elems [][]byte) { got = elems })
	if !blocked {
		t.Fatal("read on empty queue should block asynchronously")
	}
	if readable.Waitable.HasPending() {
		t.Fatal("no event should be pending before the writer satisfies the read")
	}

	writable.Write([][]byte{elem(7)})

	if !readable.Waitable.HasPending() {
		t.Fatal("writer should have delivered a pending event to the reader's waitable")
	}
	ev, _ := readable.Waitable.TakePending()
	status, progress := UnpackPayload(ev.Payload)
	if status != StatusCompleted || progress != 1 {
		t.Fatalf("delivered event = %v/%d, want Completed/1", status, progress)
	}
	if len(got) != 1 || !bytes.Equal(got[0], elem(7)) {
		t.Fatalf("copied elements = %v", got)
	}
}

func TestStreamReadAfterWritableDropIsDropped(t *testing.T) {
	shared := NewStreamShared(1, 1, 0)
	readable, writable := NewStreamPair(shared)
	writable.DropWritable(nil)

	ev, blocked := readable.Read(nil, true, 1, nil)
	if blocked {
		t.Fatal("read after writable drop should resolve synchronously")
	}
	status, _ := UnpackPayload(ev.Payload)
	if status != StatusDropped {
		t.Fatalf("status = %v, want Dropped", status)
	}
}

func TestStreamCancelReadMovesToDone(t *testing.T) {
	shared := NewStreamShared(1, 1, 0)
	readable, _ := NewStreamPair(shared)
	readable.Read(nil, false, 1, nil)

	ev := readable.CancelRead(nil, true)
	status, _ := UnpackPayload(ev.Payload)
	if status != StatusCancelled {
		t.Fatalf("status = %v, want Cancelled", status)
	}
	if readable.State != CopyDone {
		t.Fatalf("state = %v, want CopyDone", readable.State)
	}
}

func TestStreamDropMidCopyTraps(t *testing.T) {
	shared := NewStreamShared(1, 1, 0)
	readable, _ := NewStreamPair(shared)
	readable.Read(nil, false, 1, nil)

	var trapped error
	readable.DropReadable(func(tr *cerr.Trap) { trapped = tr })
	if trapped == nil {
		t.Fatal("expected drop mid-copy to trap")
	}
}

func TestStreamDropWritableWithPendingReadCompletesWithDropped(t *testing.T) {
	shared := NewStreamShared(1, 1, 0)
	readable, writable := NewStreamPair(shared)
	readable.Read(nil, false, 3, nil)

	writable.Write([][]byte{elem(1)})
	writable.DropWritable(nil)

	if !readable.Waitable.HasPending() {
		t.Fatal("expected dropped-writable to deliver a pending event to the reader")
	}
	ev, _ := readable.Waitable.TakePending()
	status, progress := UnpackPayload(ev.Payload)
	if status != StatusDropped || progress != 1 {
		t.Fatalf("event = %v/%d, want Dropped/1 (partial progress before drop)", status, progress)
	}
}
