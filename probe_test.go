package router

import (
	"context"
	"testing"
	"time"
)

func TestNextProbeDeadlineDoublesAndCaps(t *testing.T) {
	initial := 1 * time.Millisecond
	max := 5 * time.Millisecond

	d := initial
	seen := []time.Duration{d}
	for i := 0; i < 5; i++ {
		d = nextProbeDeadline(d, initial, max)
		seen = append(seen, d)
	}

	for i := 1; i < len(seen); i++ {
		prev, cur := seen[i-1], seen[i]
		if cur != prev*2 && cur != max {
			t.Fatalf("deadline sequence %v: step %d (%v -> %v) is neither 2x nor clamped to max", seen, i, prev, cur)
		}
		if cur > max {
			t.Fatalf("deadline sequence %v exceeded max %v at step %d", seen, max, i)
		}
	}
	if seen[len(seen)-1] != max {
		t.Fatalf("expected deadline to have reached max %v, got %v", max, seen[len(seen)-1])
	}
}

func TestNextProbeDeadlineMaxBelowInitialNeverEscalates(t *testing.T) {
	initial := 10 * time.Millisecond
	max := 5 * time.Millisecond

	d := nextProbeDeadline(initial, initial, max)
	if d != initial {
		t.Fatalf("expected deadline to stay at initial when max < initial, got %v", d)
	}
}

func TestProbeReplicaClassifiesOutcomes(t *testing.T) {
	ctx := context.Background()

	available := newFakeReplica("d", "r1", 10)
	available.setQueueLen(3)
	if res := probeReplica(ctx, available, 50*time.Millisecond); res.outcome != probeAvailable || res.queueLen != 3 {
		t.Fatalf("expected probeAvailable with queueLen 3, got %+v", res)
	}

	atCapacity := newFakeReplica("d", "r2", 5)
	atCapacity.setQueueLen(5)
	if res := probeReplica(ctx, atCapacity, 50*time.Millisecond); res.outcome != probeAtCapacity {
		t.Fatalf("expected probeAtCapacity, got %+v", res)
	}

	dead := newFakeReplica("d", "r3", 10)
	dead.setErr(ErrPermanentlyDead)
	if res := probeReplica(ctx, dead, 50*time.Millisecond); res.outcome != probePermanentlyDead {
		t.Fatalf("expected probePermanentlyDead, got %+v", res)
	}

	transient := newFakeReplica("d", "r4", 10)
	transient.setErr(ErrTransientUnavailable)
	if res := probeReplica(ctx, transient, 50*time.Millisecond); res.outcome != probeTransientUnavailable {
		t.Fatalf("expected probeTransientUnavailable, got %+v", res)
	}

	slow := newFakeReplica("d", "r5", 10)
	slow.setDelay(50 * time.Millisecond)
	start := time.Now()
	res := probeReplica(ctx, slow, 5*time.Millisecond)
	elapsed := time.Since(start)
	if res.outcome != probeTimedOut {
		t.Fatalf("expected probeTimedOut, got %+v", res)
	}
	if elapsed > 40*time.Millisecond {
		t.Fatalf("expected probeReplica to return promptly after its deadline, took %v", elapsed)
	}
}

func TestProbeLimiterAllowsThenThrottles(t *testing.T) {
	l := newProbeLimiter(1, 1)
	id := ReplicaID{DeploymentName: "d", UniqueID: "r1"}

	if !l.Allow(id) {
		t.Fatalf("expected first probe to be allowed (burst 1)")
	}
	if l.Allow(id) {
		t.Fatalf("expected second immediate probe to be throttled")
	}

	l.Forget(id)
	if !l.Allow(id) {
		t.Fatalf("expected a fresh limiter after Forget to allow again")
	}
}
