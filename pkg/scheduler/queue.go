package scheduler

import (
	"container/heap"
	"sync"

	"parley/pkg/convo"
)

// taskHeap orders tasks by (priority ascending, enqueue time ascending).
// Implements container/heap.Interface.
type taskHeap []convo.EvaluationTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(convo.EvaluationTask)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	*h = old[:n-1]
	return task
}

// taskQueue is the scheduler's shared priority queue. Workers block in
// popWait until a task arrives or the queue is closed.
type taskQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	heap   taskHeap
	queued map[string]int // key -> tasks currently in the heap
	closed bool
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{queued: make(map[string]int)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *taskQueue) push(task convo.EvaluationTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	heap.Push(&q.heap, task)
	q.queued[task.Key]++
	q.cond.Signal()
}

// popWait removes and returns the head task, blocking until one exists.
// Returns false once the queue is closed.
func (q *taskQueue) popWait() (convo.EvaluationTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.heap.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.heap.Len() == 0 {
		return convo.EvaluationTask{}, false
	}
	task := heap.Pop(&q.heap).(convo.EvaluationTask)
	if q.queued[task.Key] <= 1 {
		delete(q.queued, task.Key)
	} else {
		q.queued[task.Key]--
	}
	return task, true
}

// has reports whether any task for key is currently queued.
func (q *taskQueue) has(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued[key] > 0
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

func (q *taskQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}
