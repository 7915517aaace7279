// Package scheduler implements the evaluation scheduler: a priority queue
// of per-conversation evaluation tasks drained by a bounded worker pool,
// with per-key mutual exclusion, bounded retries, timeout reclaim, and the
// periodic reconciliation sweeps.
package scheduler

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// lockShardCount is the fixed number of lock-table shards. Keys hash to a
// shard; the shard mutex only guards bookkeeping, never an evaluation.
const lockShardCount = 16

// lockEntry is one conversation's mutual-exclusion handle. The token
// identifies the current holder so a stale release (a reclaimed worker
// finishing late) cannot free a lock that has since been re-acquired.
type lockEntry struct {
	held     bool
	token    uint64
	lastUsed time.Time
}

type lockShard struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

// LockTable provides non-blocking per-conversation locks. At most one
// holder per key at any time; this is the sole mechanism behind
// "exactly one evaluation in flight per conversation". Entries are
// created lazily and evicted once a conversation has been quiet past the
// eviction horizon, so the table does not grow with every dead
// conversation ever seen.
type LockTable struct {
	shards [lockShardCount]*lockShard
	tokens atomic.Uint64

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	t := &LockTable{nowFunc: time.Now}
	for i := range t.shards {
		t.shards[i] = &lockShard{entries: make(map[string]*lockEntry)}
	}
	return t
}

// SetNowFunc overrides the clock (for testing).
func (t *LockTable) SetNowFunc(f func() time.Time) { t.nowFunc = f }

func (t *LockTable) shard(key string) *lockShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return t.shards[h.Sum32()%lockShardCount]
}

// TryAcquire attempts to take the lock for key without blocking. On
// success it returns a holder token to pass back to Release; on
// contention it returns ok=false.
func (t *LockTable) TryAcquire(key string) (token uint64, ok bool) {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[key]
	if !exists {
		e = &lockEntry{}
		s.entries[key] = e
	}
	if e.held {
		return 0, false
	}
	e.held = true
	e.token = t.tokens.Add(1)
	e.lastUsed = t.nowFunc()
	return e.token, true
}

// Release frees the lock for key if token still identifies the holder.
// Releasing an unheld, unknown, or reclaimed lock is a no-op, never an
// error: the timeout supervisor may have force-released it (and another
// worker re-acquired it) first, and this idempotence is what keeps that
// race harmless.
func (t *LockTable) Release(key string, token uint64) {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !e.held || e.token != token {
		return
	}
	e.held = false
	e.lastUsed = t.nowFunc()
}

// ForceRelease unconditionally frees the lock for key. Only the timeout
// supervisor calls this, for locks whose holder exceeded the evaluation
// deadline. Idempotent.
func (t *LockTable) ForceRelease(key string) {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !e.held {
		return
	}
	e.held = false
	e.lastUsed = t.nowFunc()
}

// Held reports whether key's lock is currently held.
func (t *LockTable) Held(key string) bool {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return ok && e.held
}

// Evict removes unheld entries whose last use predates the horizon.
// Returns the number of evicted entries.
func (t *LockTable) Evict(horizon time.Duration) int {
	cutoff := t.nowFunc().Add(-horizon)
	evicted := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for key, e := range s.entries {
			if !e.held && e.lastUsed.Before(cutoff) {
				delete(s.entries, key)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// Len returns the number of tracked lock entries across all shards.
func (t *LockTable) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}
