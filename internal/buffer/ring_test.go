package buffer

import (
	"testing"

	"github.com/tohafrit/savegress-platform-sub002/internal/event"
)

func testEvent(pos event.Position) *event.Event {
	return event.NewInsert("s1", "t", map[string]any{"p": int(pos)}, pos)
}

func TestRingPushPopOrder(t *testing.T) {
	r := NewRing(8)
	for i := 1; i <= 5; i++ {
		if !r.Push(testEvent(event.Position(i))) {
			t.Fatalf("push %d failed", i)
		}
	}
	for i := 1; i <= 5; i++ {
		e := r.Pop()
		if e == nil || e.Position != event.Position(i) {
			t.Fatalf("pop %d = %+v, FIFO order broken", i, e)
		}
	}
	if r.Pop() != nil {
		t.Error("pop from empty ring returned an event")
	}
}

func TestRingFull(t *testing.T) {
	r := NewRing(4)
	for i := 0; i < 4; i++ {
		if !r.Push(testEvent(event.Position(i))) {
			t.Fatalf("push %d failed below capacity", i)
		}
	}
	if r.Push(testEvent(99)) {
		t.Error("push succeeded on a full ring")
	}
	if r.Len() != 4 {
		t.Errorf("Len = %d, expected 4", r.Len())
	}

	r.Pop()
	if !r.Push(testEvent(100)) {
		t.Error("push failed after a pop freed a slot")
	}
}

func TestRingOccupancy(t *testing.T) {
	r := NewRing(10)
	if r.Occupancy() != 0 {
		t.Errorf("empty occupancy = %v", r.Occupancy())
	}
	for i := 0; i < 8; i++ {
		r.Push(testEvent(event.Position(i)))
	}
	if occ := r.Occupancy(); occ != 0.8 {
		t.Errorf("occupancy = %v, expected 0.8", occ)
	}
}

func TestRingWraparound(t *testing.T) {
	r := NewRing(4)
	// Cycle through the ring several times its capacity.
	next := event.Position(0)
	for round := 0; round < 10; round++ {
		for i := 0; i < 3; i++ {
			if !r.Push(testEvent(next)) {
				t.Fatal("push failed")
			}
			next++
		}
		for i := 0; i < 3; i++ {
			e := r.Pop()
			if e == nil {
				t.Fatal("pop returned nil")
			}
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after balanced push/pop", r.Len())
	}
}

func TestRingConcurrentSPSC(t *testing.T) {
	const n = 100000
	r := NewRing(256)
	done := make(chan error, 1)

	go func() {
		var last event.Position
		seen := 0
		for seen < n {
			e := r.Pop()
			if e == nil {
				continue
			}
			if seen > 0 && e.Position <= last {
				done <- errOrder(last, e.Position)
				return
			}
			last = e.Position
			seen++
		}
		done <- nil
	}()

	for i := 1; i <= n; i++ {
		for !r.Push(testEvent(event.Position(i))) {
		}
	}

	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

type orderError struct {
	prev, got event.Position
}

func (e orderError) Error() string {
	return "ordering violated: " + e.got.String() + " after " + e.prev.String()
}

func errOrder(prev, got event.Position) error { return orderError{prev: prev, got: got} }
