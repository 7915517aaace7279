package scheduler //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLockTableExclusivity(t *testing.T) {
	lt := NewLockTable()

	token, ok := lt.TryAcquire("c1")
	if !ok {
		t.Fatal("first acquire should succeed")
	}
	if _, ok := lt.TryAcquire("c1"); ok {
		t.Fatal("second acquire on held lock should fail")
	}
	if !lt.Held("c1") {
		t.Error("Held should report true")
	}

	// Other keys are independent.
	if _, ok := lt.TryAcquire("c2"); !ok {
		t.Error("different key should acquire")
	}

	lt.Release("c1", token)
	if lt.Held("c1") {
		t.Error("lock should be free after release")
	}
	if _, ok := lt.TryAcquire("c1"); !ok {
		t.Error("re-acquire after release should succeed")
	}
}

func TestLockTableReleaseIdempotent(t *testing.T) {
	lt := NewLockTable()

	// Releasing unknown or unheld keys is a no-op.
	lt.Release("ghost", 1)
	lt.ForceRelease("ghost")

	token, _ := lt.TryAcquire("c1")
	lt.Release("c1", token)
	lt.Release("c1", token)
	if _, ok := lt.TryAcquire("c1"); !ok {
		t.Error("double release must not corrupt the entry")
	}
}

func TestLockTableStaleTokenCannotRelease(t *testing.T) {
	lt := NewLockTable()

	stale, _ := lt.TryAcquire("c1")
	// Supervisor reclaims, another worker re-acquires.
	lt.ForceRelease("c1")
	fresh, ok := lt.TryAcquire("c1")
	if !ok {
		t.Fatal("acquire after force-release should succeed")
	}

	// The reclaimed worker finishing late must not free the new holder.
	lt.Release("c1", stale)
	if !lt.Held("c1") {
		t.Fatal("stale-token release freed a re-acquired lock")
	}

	lt.Release("c1", fresh)
	if lt.Held("c1") {
		t.Error("current-token release should free the lock")
	}
}

func TestLockTableEvict(t *testing.T) {
	lt := NewLockTable()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	lt.SetNowFunc(func() time.Time { return now })

	token, _ := lt.TryAcquire("old-released")
	lt.Release("old-released", token)
	lt.TryAcquire("old-held")

	// A day later, a fresh lock appears.
	now = now.Add(25 * time.Hour)
	t2, _ := lt.TryAcquire("fresh")
	lt.Release("fresh", t2)

	evicted := lt.Evict(24 * time.Hour)
	if evicted != 1 {
		t.Fatalf("Evict = %d, want 1", evicted)
	}
	// Held entries survive no matter how old.
	if !lt.Held("old-held") {
		t.Error("held lock must never be evicted")
	}
	if lt.Len() != 2 {
		t.Errorf("Len = %d, want 2 (old-held and fresh)", lt.Len())
	}
}

func TestLockTableConcurrentSingleHolder(t *testing.T) {
	lt := NewLockTable()
	const goroutines = 32

	var wins int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := lt.TryAcquire("contended"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}
}

func TestLockTableShardsSpreadKeys(t *testing.T) {
	lt := NewLockTable()
	for i := 0; i < 200; i++ {
		lt.TryAcquire(fmt.Sprintf("conv-%d", i))
	}
	if lt.Len() != 200 {
		t.Fatalf("Len = %d, want 200", lt.Len())
	}
	// At least two shards should carry entries for 200 distinct keys.
	used := 0
	for _, s := range lt.shards {
		s.mu.Lock()
		if len(s.entries) > 0 {
			used++
		}
		s.mu.Unlock()
	}
	if used < 2 {
		t.Errorf("entries landed in %d shard(s), expected spreading", used)
	}
}
