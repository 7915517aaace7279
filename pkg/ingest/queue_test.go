package ingest //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"fmt"
	"testing"
	"time"

	"parley/pkg/convo"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 10; i++ {
		if !q.Push(convo.Message{ID: fmt.Sprintf("m%d", i)}) {
			t.Fatalf("push %d rejected", i)
		}
	}
	if q.Len() != 10 {
		t.Fatalf("Len = %d, want 10", q.Len())
	}
	for i := 0; i < 10; i++ {
		m, ok := q.Pop()
		if !ok {
			t.Fatalf("pop %d: queue closed early", i)
		}
		if want := fmt.Sprintf("m%d", i); m.ID != want {
			t.Errorf("pop %d = %s, want %s", i, m.ID, want)
		}
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := NewQueue()
	got := make(chan convo.Message, 1)
	go func() {
		m, ok := q.Pop()
		if ok {
			got <- m
		}
	}()

	// Give the consumer a moment to block, then push.
	time.Sleep(10 * time.Millisecond)
	q.Push(convo.Message{ID: "m1"})

	select {
	case m := <-got:
		if m.ID != "m1" {
			t.Errorf("got %s, want m1", m.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake after Push")
	}
}

func TestQueueCloseDrainsPending(t *testing.T) {
	q := NewQueue()
	q.Push(convo.Message{ID: "m1"})
	q.Push(convo.Message{ID: "m2"})
	q.Close()

	// Pending events survive the close.
	for _, want := range []string{"m1", "m2"} {
		m, ok := q.Pop()
		if !ok || m.ID != want {
			t.Fatalf("pop = (%s, %v), want (%s, true)", m.ID, ok, want)
		}
	}
	// Drained and closed: Pop reports done.
	if _, ok := q.Pop(); ok {
		t.Error("Pop on closed drained queue should return false")
	}
	// Pushes after close are rejected.
	if q.Push(convo.Message{ID: "m3"}) {
		t.Error("Push after Close should be rejected")
	}
	// Close is idempotent.
	q.Close()
}

func TestQueueCloseUnblocksWaiter(t *testing.T) {
	q := NewQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Pop on empty closed queue should return false")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Pop")
	}
}
