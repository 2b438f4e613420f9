package router

import "testing"

func TestDesiredPoolSizeCapZeroMeansNoRouting(t *testing.T) {
	if n := desiredPoolSize(10, 5, 0); n != 0 {
		t.Fatalf("expected cap=0 to yield 0 workers regardless of pending/replicas, got %d", n)
	}
}

func TestDesiredPoolSizeClampsToCap(t *testing.T) {
	if n := desiredPoolSize(10, 10, 3); n != 3 {
		t.Fatalf("expected the cap to win over pending/2*replicas, got %d", n)
	}
}

func TestDesiredPoolSizeNeverExceedsTwiceReplicas(t *testing.T) {
	if n := desiredPoolSize(10, 2, 50); n != 4 {
		t.Fatalf("expected 2*replicas=4 to win over pending=10 under a generous cap, got %d", n)
	}
}

func TestDesiredPoolSizeBoundedByPending(t *testing.T) {
	if n := desiredPoolSize(1, 10, 50); n != 1 {
		t.Fatalf("expected pending=1 to win when it is the smallest bound, got %d", n)
	}
}
