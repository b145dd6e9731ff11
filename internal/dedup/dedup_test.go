package dedup

import (
	"context"
	"testing"
	"time"
)

// TestThreeSourceDedup is scenario S1 from spec.md §8: the same logical
// event arrives from file-watcher, then hook, then stream-json. Each should
// be admitted exactly once (higher priority supersedes lower), and the final
// entry should record all three sources with highest_priority=3.
func TestThreeSourceDedup(t *testing.T) {
	e := New()
	ctx := context.Background()
	sessionID := "S"
	var hash uint64 = 42

	admittedFW, err := e.ShouldIngest(ctx, sessionID, hash, SourceFileWatcher)
	if err != nil || !admittedFW {
		t.Fatalf("file-watcher should be admitted first: %v %v", admittedFW, err)
	}
	admittedFW2, _ := e.ShouldIngest(ctx, sessionID, hash, SourceFileWatcher)
	if admittedFW2 {
		t.Fatalf("file-watcher re-observation should not re-admit")
	}

	admittedHook, err := e.ShouldIngest(ctx, sessionID, hash, SourceHook)
	if err != nil || !admittedHook {
		t.Fatalf("hook (priority 2) should supersede file-watcher (priority 1): %v %v", admittedHook, err)
	}

	admittedStream, err := e.ShouldIngest(ctx, sessionID, hash, SourceStreamJSON)
	if err != nil || !admittedStream {
		t.Fatalf("stream-json (priority 3) should supersede hook: %v %v", admittedStream, err)
	}

	admittedStream2, _ := e.ShouldIngest(ctx, sessionID, hash, SourceStreamJSON)
	if admittedStream2 {
		t.Fatalf("stream-json re-observation should not re-admit")
	}

	entry, ok := e.Lookup(sessionID, hash)
	if !ok {
		t.Fatalf("expected entry to exist")
	}
	if entry.HighestPriority != 3 {
		t.Fatalf("expected highest_priority=3, got %d", entry.HighestPriority)
	}
	if len(entry.Sources) != 3 {
		t.Fatalf("expected 3 sources recorded, got %d (%v)", len(entry.Sources), entry.Sources)
	}
}

// TestDedupMonotonicity is invariant 1 from spec.md §8: in any interleaving,
// at most one emission per distinct priority observed, and final
// highest_priority equals the max observed.
func TestDedupMonotonicity(t *testing.T) {
	e := New()
	ctx := context.Background()
	order := []Source{SourceHook, SourceFileWatcher, SourceStreamJSON, SourceHook, SourceFileWatcher}
	admissions := 0
	for _, src := range order {
		ok, err := e.ShouldIngest(ctx, "S2", 7, src)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			admissions++
		}
	}
	// Distinct priorities observed: hook(2), file-watcher(1), stream-json(3) = 3
	if admissions != 3 {
		t.Fatalf("expected 3 admissions (one per distinct priority), got %d", admissions)
	}
	entry, _ := e.Lookup("S2", 7)
	if entry.HighestPriority != 3 {
		t.Fatalf("expected highest_priority=3, got %d", entry.HighestPriority)
	}
}

func TestIsDuplicateObservationOnly(t *testing.T) {
	e := New()
	if e.IsDuplicate("s", 1) {
		t.Fatalf("expected not duplicate before any admission")
	}
	_, _ = e.ShouldIngest(context.Background(), "s", 1, SourceHook)
	if !e.IsDuplicate("s", 1) {
		t.Fatalf("expected duplicate after admission")
	}
}

func TestTTLExpiry(t *testing.T) {
	now := time.Now()
	clock := now
	e := New(WithTTL(10*time.Millisecond), WithClock(func() time.Time { return clock }))
	ctx := context.Background()
	_, _ = e.ShouldIngest(ctx, "s", 1, SourceHook)
	clock = clock.Add(20 * time.Millisecond)
	admitted, _ := e.ShouldIngest(ctx, "s", 1, SourceHook)
	if !admitted {
		t.Fatalf("expected re-admission after TTL expiry (cold restart semantics)")
	}
}

func TestCapacityEviction(t *testing.T) {
	e := New(WithMaxEntries(stripeCount * 10))
	ctx := context.Background()
	for i := 0; i < stripeCount*20; i++ {
		_, _ = e.ShouldIngest(ctx, "s", uint64(i), SourceHook)
	}
	// Eviction is best-effort per-stripe; just assert it didn't panic and
	// some entries remain bounded roughly around the configured capacity.
	count := 0
	for i := 0; i < stripeCount*20; i++ {
		if e.IsDuplicate("s", uint64(i)) {
			count++
		}
	}
	if count == 0 {
		t.Fatalf("expected some entries to survive eviction")
	}
}

func TestStartCleanupEvictsExpiredEntries(t *testing.T) {
	now := time.Now()
	clock := now
	e := New(WithTTL(5*time.Millisecond), WithClock(func() time.Time { return clock }))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := e.ShouldIngest(ctx, "s", 1, SourceHook); err != nil {
		t.Fatalf("ShouldIngest: %v", err)
	}
	clock = clock.Add(10 * time.Millisecond)

	e.StartCleanup(ctx, time.Millisecond)
	deadline := time.Now().Add(500 * time.Millisecond)
	for e.IsDuplicate("s", 1) {
		if time.Now().After(deadline) {
			t.Fatalf("expected background sweep to evict expired entry")
		}
		time.Sleep(time.Millisecond)
	}
}
