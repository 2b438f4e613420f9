package router

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// probeOutcome classifies the result of one get_queue_len call per
// spec.md §4.3/§7.
type probeOutcome int

const (
	probeAvailable probeOutcome = iota
	probeAtCapacity
	probeTransientUnavailable
	probePermanentlyDead
	probeTimedOut
)

type probeResult struct {
	outcome  probeOutcome
	queueLen int
}

// probeReplica calls h.GetQueueLen with a context bounded by deadline.
// The call is always cancelled before probeReplica returns — on
// success the deferred cancel fires immediately, on timeout it fires
// as soon as ctx's own deadline trips — satisfying spec.md §5's
// mandatory-cancellation rule ("the probe callable must be terminated,
// not left pending").
func probeReplica(ctx context.Context, h ReplicaHandle, deadline time.Duration) probeResult {
	probeCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	q, err := h.GetQueueLen(probeCtx)
	switch {
	case err == nil:
		if q < h.MaxOngoingRequests() {
			return probeResult{outcome: probeAvailable, queueLen: q}
		}
		return probeResult{outcome: probeAtCapacity, queueLen: q}
	case err == ErrPermanentlyDead:
		return probeResult{outcome: probePermanentlyDead}
	case err == ErrTransientUnavailable:
		return probeResult{outcome: probeTransientUnavailable}
	default:
		// ErrProbeTimeout, ctx.DeadlineExceeded, or any other error from
		// a handle that didn't return promptly: treated the same as a
		// timeout — never surfaced, the router just tries again.
		return probeResult{outcome: probeTimedOut}
	}
}

// nextProbeDeadline implements the doubling rule from spec.md §4.3: the
// deadline doubles after a timeout, capped at max. If max is smaller
// than initial, initial is used unconditionally (the doubling never
// engages) — callers should seed `current` with `initial` and never
// call this unless the previous probe timed out.
func nextProbeDeadline(current, initial, max time.Duration) time.Duration {
	if max < initial {
		return initial
	}
	next := current * 2
	if next > max {
		return max
	}
	if next < initial {
		// current was somehow below initial; never shrink below the floor.
		return initial
	}
	return next
}

// probeLimiter meters *background* probes (spec.md §4.3/§9's
// background-refresh path) per replica so a burst of simultaneously
// routed requests doesn't turn "fire a courtesy probe for the other
// candidate" into a thundering herd against one replica. It never
// gates a probe the router is blocking a bind on — only the
// fire-and-forget background ones. Shaped like the teacher's
// TokenBucketLimiter (map[key]*rate.Limiter behind one mutex).
type probeLimiter struct {
	mu       sync.Mutex
	limiters map[ReplicaID]*rate.Limiter
	r        rate.Limit
	b        int
}

func newProbeLimiter(perSecond float64, burst int) *probeLimiter {
	return &probeLimiter{
		limiters: make(map[ReplicaID]*rate.Limiter),
		r:        rate.Limit(perSecond),
		b:        burst,
	}
}

// Allow reports whether a background probe of id may proceed right now.
func (l *probeLimiter) Allow(id ReplicaID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[id]
	if !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.limiters[id] = lim
	}
	return lim.Allow()
}

// Forget drops the limiter for a replica that has left the active set,
// so the map doesn't grow without bound across churn.
func (l *probeLimiter) Forget(id ReplicaID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, id)
}
