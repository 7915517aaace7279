package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"parley/pkg/classifier"
	"parley/pkg/convo"
	"parley/pkg/policy"

	"github.com/google/uuid"
)

// Store is the slice of the conversation store the scheduler needs.
type Store interface {
	Get(ctx context.Context, key string) (convo.Conversation, error)
	Transcript(ctx context.Context, key string) ([]convo.Message, error)
	RequestsFor(ctx context.Context, key string) ([]convo.Request, error)
	SaveEvaluation(ctx context.Context, key string, r convo.ScoreResult) error
	RecordFailure(ctx context.Context, f convo.FailureRecord) error
	LogEvent(ctx context.Context, evType, source, key, workerID, payload string) error
}

// contentionBackoff is how long a worker yields after losing a lock race,
// so a contended key does not pin a worker in a hot loop.
const contentionBackoff = 25 * time.Millisecond

// inflightRecord tracks one running evaluation for the timeout supervisor.
type inflightRecord struct {
	task      convo.EvaluationTask
	lockToken uint64
	workerID  string
	startedAt time.Time
}

// Scheduler drains the evaluation priority queue with a bounded worker
// pool. Per-conversation locks guarantee at most one evaluation in flight
// per key; failures are retried with exponential backoff up to the policy
// ceiling, then recorded as permanent.
type Scheduler struct {
	store Store
	cls   classifier.Classifier
	pol   policy.Policy

	queue *taskQueue
	locks *LockTable

	mu       sync.Mutex
	inflight map[string]inflightRecord

	wg sync.WaitGroup

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New creates a Scheduler. Call Run to start the worker pool.
func New(st Store, cls classifier.Classifier, pol policy.Policy) *Scheduler {
	return &Scheduler{
		store:    st,
		cls:      cls,
		pol:      pol,
		queue:    newTaskQueue(),
		locks:    NewLockTable(),
		inflight: make(map[string]inflightRecord),
		nowFunc:  time.Now,
	}
}

// SetNowFunc overrides the clock for the scheduler and its lock table
// (for testing).
func (s *Scheduler) SetNowFunc(f func() time.Time) {
	s.nowFunc = f
	s.locks.SetNowFunc(f)
}

// Locks exposes the lock table for the reconciler's eviction sweep.
func (s *Scheduler) Locks() *LockTable { return s.locks }

// Enqueue adds an evaluation task for key at the given priority. Safe to
// call from any goroutine; duplicate enqueues are harmless because the
// per-key lock serializes the actual work.
func (s *Scheduler) Enqueue(key string, p convo.Priority) {
	s.enqueueTask(convo.EvaluationTask{
		Key:        key,
		Priority:   p,
		EnqueuedAt: s.nowFunc(),
	})
}

func (s *Scheduler) enqueueTask(task convo.EvaluationTask) {
	s.queue.push(task)
}

// Run starts the worker pool and the timeout supervisor and blocks until
// ctx is cancelled and every worker has drained.
func (s *Scheduler) Run(ctx context.Context) {
	for i := 0; i < s.pol.Workers; i++ {
		id := fmt.Sprintf("eval-%d", i+1)
		s.wg.Add(1)
		go s.worker(ctx, id)
	}

	s.wg.Add(1)
	go s.runSupervisor(ctx)

	<-ctx.Done()
	s.queue.close()
	s.wg.Wait()
}

// worker is one pool member: pop, lock, evaluate, release, repeat.
func (s *Scheduler) worker(ctx context.Context, id string) {
	defer s.wg.Done()
	for {
		task, ok := s.queue.popWait()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}

		token, ok := s.locks.TryAcquire(task.Key)
		if !ok {
			// Another worker owns this conversation. Requeue unchanged and
			// yield; never block holding the slot.
			s.queue.push(task)
			time.Sleep(contentionBackoff)
			continue
		}

		s.markInflight(task, token, id)
		err := s.evaluate(ctx, task, id)
		s.clearInflight(task.Key)
		s.locks.Release(task.Key, token)

		if err != nil {
			s.handleFailure(ctx, task, id, err)
		}
	}
}

func (s *Scheduler) markInflight(task convo.EvaluationTask, token uint64, workerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[task.Key] = inflightRecord{
		task:      task,
		lockToken: token,
		workerID:  workerID,
		startedAt: s.nowFunc(),
	}
}

func (s *Scheduler) clearInflight(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, key)
}

// evaluate runs one scoring pass: load the conversation, hand the full
// transcript and detected requests to the classifier, persist the result.
func (s *Scheduler) evaluate(ctx context.Context, task convo.EvaluationTask, workerID string) error {
	conv, err := s.store.Get(ctx, task.Key)
	if err != nil {
		return convo.Retry(task.Key, fmt.Errorf("load conversation: %w", err))
	}

	transcript, err := s.store.Transcript(ctx, task.Key)
	if err != nil {
		return convo.Retry(task.Key, fmt.Errorf("load transcript: %w", err))
	}
	if len(transcript) == 0 {
		// Nothing to score. Permanent: retrying an empty conversation
		// cannot produce a transcript.
		return convo.Permanent(task.Key, fmt.Errorf("empty transcript"))
	}

	requests, err := s.store.RequestsFor(ctx, task.Key)
	if err != nil {
		return convo.Retry(task.Key, fmt.Errorf("load requests: %w", err))
	}

	result, err := s.cls.Score(ctx, conv, transcript, requests)
	if err != nil {
		return convo.Retry(task.Key, fmt.Errorf("score: %w", err))
	}
	result.ScoredAt = s.nowFunc()

	if err := s.store.SaveEvaluation(ctx, task.Key, result); err != nil {
		return convo.Retry(task.Key, fmt.Errorf("save evaluation: %w", err))
	}

	log.Printf("[scheduler] %s evaluated %s score=%d", workerID, task.Key, result.Score)
	_ = s.store.LogEvent(ctx, "evaluated", "scheduler", task.Key, workerID,
		fmt.Sprintf(`{"score":%d,"retries":%d}`, result.Score, task.Retries))
	return nil
}

// handleFailure applies the retry policy to a failed attempt: retryable
// failures below the ceiling are re-enqueued after exponential backoff,
// everything else becomes a permanent failure record.
func (s *Scheduler) handleFailure(ctx context.Context, task convo.EvaluationTask, workerID string, err error) {
	if convo.IsRetryable(err) && task.Retries < s.pol.RetryCeiling {
		task.Retries++
		delay := backoffDelay(s.pol.BackoffBase.Std(), task.Retries)
		log.Printf("[scheduler] %s retry %d/%d for %s in %s: %v",
			workerID, task.Retries, s.pol.RetryCeiling, task.Key, delay, err)
		_ = s.store.LogEvent(ctx, "evaluation_retry", "scheduler", task.Key, workerID,
			fmt.Sprintf(`{"retries":%d,"delay":%q}`, task.Retries, delay))
		s.scheduleRetry(task, delay)
		return
	}
	s.recordPermanent(ctx, task, workerID, err)
}

// scheduleRetry re-enqueues the task after the backoff delay. The enqueue
// time is refreshed when the timer fires so the task queues fairly among
// its band.
func (s *Scheduler) scheduleRetry(task convo.EvaluationTask, delay time.Duration) {
	time.AfterFunc(delay, func() {
		task.EnqueuedAt = s.nowFunc()
		s.queue.push(task)
	})
}

// recordPermanent persists a permanent failure. The conversation stays
// closed and unevaluated; the failure record is what keeps it from being
// silently dropped.
func (s *Scheduler) recordPermanent(ctx context.Context, task convo.EvaluationTask, workerID string, cause error) {
	rec := convo.FailureRecord{
		ID:              uuid.NewString(),
		ConversationKey: task.Key,
		Retries:         task.Retries,
		Reason:          cause.Error(),
		FailedAt:        s.nowFunc(),
	}
	if err := s.store.RecordFailure(ctx, rec); err != nil {
		log.Printf("[scheduler] record failure for %s: %v", task.Key, err)
	}
	log.Printf("[scheduler] %s permanent failure for %s after %d retries: %v",
		workerID, task.Key, task.Retries, cause)
	_ = s.store.LogEvent(ctx, "evaluation_failed_permanently", "scheduler", task.Key, workerID,
		fmt.Sprintf(`{"failure_id":%q,"retries":%d}`, rec.ID, task.Retries))
}

// backoffDelay computes base * 2^retries.
func backoffDelay(base time.Duration, retries int) time.Duration {
	d := base
	for i := 0; i < retries; i++ {
		d *= 2
	}
	return d
}

// InFlight returns the number of evaluations currently running.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// QueueLen returns the number of queued (not yet running) tasks.
func (s *Scheduler) QueueLen() int { return s.queue.len() }

// Queued reports whether any task for key is waiting in the queue.
func (s *Scheduler) Queued(key string) bool { return s.queue.has(key) }
