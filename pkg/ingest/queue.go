// Package ingest provides the inbound side of the pipeline: an ordered,
// unbounded event queue with a single consumer, and a file-spool transport
// adapter that feeds it.
package ingest

import (
	"sync"

	"parley/pkg/convo"
)

// Queue is an ordered, unbounded FIFO of inbound chat events. Producers
// push without blocking; the tracker's single consumer loop pops. No
// validation happens here; malformed events are rejected downstream so
// queue throughput never pays validation cost.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []convo.Message
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an event. Returns false if the queue has been closed.
func (q *Queue) Push(m convo.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.events = append(q.events, m)
	q.cond.Signal()
	return true
}

// Pop removes and returns the oldest event, blocking until one is
// available. The second return is false once the queue is closed and
// drained.
func (q *Queue) Pop() (convo.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.events) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.events) == 0 {
		return convo.Message{}, false
	}
	m := q.events[0]
	// Shift instead of reslice so the backing array does not pin
	// already-consumed events.
	copy(q.events, q.events[1:])
	q.events = q.events[:len(q.events)-1]
	return m, true
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops the queue. Pending events remain poppable; Pop returns
// false once drained. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}
