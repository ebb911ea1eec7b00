package ratelimit

import (
	"testing"
	"time"

	"github.com/netn10/security-proxy/internal/clock"
)

func TestTryConsume_WithinCapacity(t *testing.T) {
	clk := clock.NewFrozen(time.Unix(0, 0))
	l := New(clk, 10, 5, time.Second)

	if !l.TryConsume("alice", 3) {
		t.Fatal("expected consume to succeed within capacity")
	}
	st := l.Status("alice")
	if st.Remaining != 7 {
		t.Fatalf("expected 7 remaining, got %f", st.Remaining)
	}
}

func TestTryConsume_RejectsOverCapacity(t *testing.T) {
	clk := clock.NewFrozen(time.Unix(0, 0))
	l := New(clk, 10, 5, time.Second)

	if !l.TryConsume("alice", 10) {
		t.Fatal("expected exact-capacity consume to succeed")
	}
	if l.TryConsume("alice", 1) {
		t.Fatal("expected consume to fail once bucket is empty")
	}
}

func TestTryConsume_RefillIsFloorBased(t *testing.T) {
	clk := clock.NewFrozen(time.Unix(0, 0))
	l := New(clk, 10, 5, time.Second)

	if !l.TryConsume("alice", 10) {
		t.Fatal("expected initial drain to succeed")
	}

	// Less than one full interval elapsed: no refill yet.
	clk.Advance(500 * time.Millisecond)
	if l.TryConsume("alice", 1) {
		t.Fatal("expected no refill before a full interval elapses")
	}

	// Crossing the interval boundary: exactly one refill_rate worth added.
	clk.Advance(600 * time.Millisecond)
	if !l.TryConsume("alice", 5) {
		t.Fatal("expected exactly one interval's worth of tokens to be available")
	}
	if l.TryConsume("alice", 1) {
		t.Fatal("expected no more tokens left after consuming the single refill")
	}
}

func TestTryConsume_NeverExceedsMaxTokens(t *testing.T) {
	clk := clock.NewFrozen(time.Unix(0, 0))
	l := New(clk, 10, 100, time.Second)

	clk.Advance(10 * time.Second)
	st := l.Status("alice")
	if st.Remaining > 10 {
		t.Fatalf("TB1 violated: remaining %f exceeds max_tokens", st.Remaining)
	}
}

func TestStatus_DoesNotMutateState(t *testing.T) {
	clk := clock.NewFrozen(time.Unix(0, 0))
	l := New(clk, 10, 5, time.Second)
	l.TryConsume("alice", 4)

	clk.Advance(2 * time.Second)
	_ = l.Status("alice")
	_ = l.Status("alice")

	// Status must be idempotent: consuming the same amount afterward
	// should reflect only the elapsed-time refill, not a double-apply.
	if !l.TryConsume("alice", 6) {
		t.Fatal("expected projected refill to be available exactly once")
	}
}

func TestReset_DeletesBucket(t *testing.T) {
	clk := clock.NewFrozen(time.Unix(0, 0))
	l := New(clk, 10, 5, time.Second)
	l.TryConsume("alice", 10)

	l.Reset("alice")

	if !l.TryConsume("alice", 10) {
		t.Fatal("expected a fresh bucket at full capacity after reset")
	}
}

func TestSweep_RemovesStaleBuckets(t *testing.T) {
	clk := clock.NewFrozen(time.Unix(0, 0))
	l := New(clk, 10, 5, time.Second)
	l.TryConsume("alice", 1)

	clk.Advance(25 * time.Hour)
	l.Sweep()

	if ids := l.Identities(); len(ids) != 0 {
		t.Fatalf("expected sweep to remove stale bucket, still tracking %v", ids)
	}

	// After sweep, alice is untracked and reports a fresh, full bucket.
	st := l.Status("alice")
	if st.Remaining != 10 {
		t.Fatalf("expected sweep to remove stale bucket, got remaining=%f", st.Remaining)
	}
}

func TestSweep_KeepsFreshBuckets(t *testing.T) {
	clk := clock.NewFrozen(time.Unix(0, 0))
	l := New(clk, 10, 5, time.Second)
	l.TryConsume("alice", 3)

	clk.Advance(1 * time.Hour)
	l.Sweep()

	if ids := l.Identities(); len(ids) != 1 || ids[0] != "alice" {
		t.Fatal("expected fresh bucket to survive sweep")
	}
}

func TestTryConsume_IndependentIdentities(t *testing.T) {
	clk := clock.NewFrozen(time.Unix(0, 0))
	l := New(clk, 10, 5, time.Second)

	l.TryConsume("alice", 10)
	if !l.TryConsume("bob", 10) {
		t.Fatal("expected bob's bucket to be independent of alice's")
	}
}
