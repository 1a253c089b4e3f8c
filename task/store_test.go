package task

import "testing"

type recordingObserver struct {
	events []Event
}

func (r *recordingObserver) OnThreadEvent(e Event) {
	r.events = append(r.events, e)
}

func TestStoreSpawnAssignsHandlesAndReusesFreedSlots(t *testing.T) {
	s := NewStore()
	th1 := NewThread(func(bool) bool { return false })
	th2 := NewThread(func(bool) bool { return false })

	h1 := s.Spawn(th1)
	h2 := s.Spawn(th2)
	if h1 == 0 || h2 == 0 || h1 == h2 {
		t.Fatalf("expected two distinct nonzero handles, got %v %v", h1, h2)
	}
	if s.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", s.Pending())
	}

	if !s.Tick() {
		t.Fatal("Tick should advance a ready thread")
	}
	if s.Pending() != 1 {
		t.Fatalf("Pending() after completing one thread = %d, want 1", s.Pending())
	}

	th3 := NewThread(func(bool) bool { return false })
	h3 := s.Spawn(th3)
	if h3 != h1 {
		t.Fatalf("expected the freed slot %v to be reused, got %v", h1, h3)
	}
}

func TestStoreTickSkipsNotReadyThreads(t *testing.T) {
	s := NewStore()
	ran := false
	blocked := NewThread(func(bool) bool { return true })
	blocked.SuspendUntil(func() bool { return false }, false)
	s.Spawn(blocked)

	readyThread := NewThread(func(bool) bool {
		ran = true
		return false
	})
	s.Spawn(readyThread)

	if !s.Tick() {
		t.Fatal("Tick should have found the ready thread")
	}
	if !ran {
		t.Fatal("Tick should have run the ready thread, not the blocked one")
	}
}

func TestStoreTickReturnsFalseWhenNothingReady(t *testing.T) {
	s := NewStore()
	blocked := NewThread(func(bool) bool { return true })
	blocked.SuspendUntil(func() bool { return false }, false)
	s.Spawn(blocked)

	if s.Tick() {
		t.Fatal("Tick should return false when no thread is ready")
	}
}

func TestStoreNotifiesObserversOnLifecycleEvents(t *testing.T) {
	s := NewStore()
	obs := &recordingObserver{}
	s.Subscribe(obs)

	th := NewThread(func(bool) bool { return false })
	h := s.Spawn(th)
	s.Tick()
	s.RequestCancellation(h)

	var kinds []EventKind
	for _, e := range obs.events {
		kinds = append(kinds, e.Kind)
	}
	if len(kinds) < 2 || kinds[0] != EventSpawned || kinds[1] != EventCompleted {
		t.Fatalf("unexpected event sequence: %v", kinds)
	}

	s.Unsubscribe(obs)
	s.Spawn(NewThread(func(bool) bool { return false }))
	if len(obs.events) != len(kinds) {
		t.Fatal("observer should not receive events after Unsubscribe")
	}
}

func TestStoreRequestCancellationOnStaleHandleIsNoop(t *testing.T) {
	s := NewStore()
	s.RequestCancellation(ThreadHandle(999))
}
