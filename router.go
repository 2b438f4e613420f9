package router

import (
	"context"
	"log"
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// Router is the facade from spec.md §4.6: callers submit requests via
// ChooseReplicaForRequest and push replica-set changes via
// UpdateReplicas; everything else (probing, ranking, backoff, worker
// pool sizing) happens internally. One Router serves one deployment's
// replica pool — see RouterRegistry for routing across several.
type Router struct {
	cfg   RouterConfig
	queue *PendingQueue
	cache *QueueLengthCache

	bgLimiter *probeLimiter
	updated   *latch

	mu       sync.RWMutex
	replicas *ReplicaSet

	poolMu  sync.Mutex
	desired int32
	running int32
	wg      sync.WaitGroup

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	workerCtx context.Context
	started   bool
	closed    bool

	nextInternalID int64
}

// NewRouter builds a Router against cfg. Call Start before submitting
// any requests; an unstarted Router has no workers and
// ChooseReplicaForRequest calls simply queue until Start runs.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	return &Router{
		cfg:       cfg,
		queue:     NewPendingQueue(),
		cache:     NewQueueLengthCache(cfg.CacheBackend, cfg.QueueLenCacheStaleness.Seconds()),
		bgLimiter: newProbeLimiter(5, 2),
		updated:   newLatch(),
		replicas:  newReplicaSet(),
	}
}

// Start launches the router's background machinery: the worker pool
// (sized on demand by ChooseReplicaForRequest/UpdateReplicas) and nothing else runs
// until a request or a replica-set update asks for it. ctx governs the
// lifetime of every worker; cancelling it (or calling Close) stops them.
func (r *Router) Start(ctx context.Context) {
	r.lifecycle.Lock()
	if r.started {
		r.lifecycle.Unlock()
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.workerCtx = workerCtx
	r.started = true
	r.lifecycle.Unlock()

	r.resizePool(workerCtx)
}

// Close stops the worker pool and waits for in-flight binds to finish.
// Queued-but-unrouted requests are left exactly as they are; it is the
// caller's responsibility to cancel them if Close means shutdown.
func (r *Router) Close() {
	r.lifecycle.Lock()
	if !r.started || r.closed {
		r.lifecycle.Unlock()
		return
	}
	r.closed = true
	cancel := r.cancel
	r.lifecycle.Unlock()

	cancel()
	r.wg.Wait()
}

// ChooseReplicaForRequest is the single entry point from spec.md §4.6:
// enqueue req and block until a replica is bound or req.Cancel fires.
// The only error ever returned is ErrCancelled.
func (r *Router) ChooseReplicaForRequest(ctx context.Context, req *PendingRequest) (ReplicaHandle, error) {
	if req.CreatedAtWallSeconds == 0 {
		req.CreatedAtWallSeconds = r.cfg.Clock.NowSeconds()
	}
	req.InternalID = atomic.AddInt64(&r.nextInternalID, 1)
	entry := &pendingEntry{
		req:    req,
		result: make(chan routeResult, 1),
		state:  stateEnqueued,
	}
	r.queue.Push(entry)
	r.triggerResize()

	select {
	case res := <-entry.result:
		return res.replica, res.err
	case <-ctx.Done():
		// The caller's own ctx died (distinct from req.Cancel, which is
		// the cooperative signal workers watch). Best effort: try to
		// pull the entry back out of the queue before it's ever routed;
		// if a worker already has it, let the normal cancel path finish.
		if r.queue.Remove(entry) {
			return nil, ErrCancelled
		}
		return <-entry.result
	}
}

// UpdateReplicas swaps in a new active replica set, per spec.md §4.6.
// Newly-added replicas get an eager warm-up probe so their first real
// request doesn't pay a cold cache miss; removed replicas have their
// cache entries dropped and, if a worker is mid-bind against one,
// routeOneRequest's membership check before tryBind finds it missing
// from the new ReplicaSet, drops the probe result and re-ranks.
func (r *Router) UpdateReplicas(ctx context.Context, handles []ReplicaHandle) {
	next := buildReplicaSet(handles)

	r.mu.Lock()
	prev := r.replicas
	r.replicas = next
	r.mu.Unlock()

	added, removed := diffReplicaSets(prev, next)
	if len(added) > 0 || len(removed) > 0 {
		log.Printf("Router: replica set updated (+%d/-%d), now %d active", len(added), len(removed), next.Len())
	}

	active := make(map[ReplicaID]struct{}, len(handles))
	for _, h := range handles {
		active[h.ReplicaID()] = struct{}{}
	}
	r.cache.RemoveInactive(active)
	for _, id := range removed {
		r.bgLimiter.Forget(id)
	}

	for _, h := range added {
		h := h
		if !r.bgLimiter.Allow(h.ReplicaID()) {
			continue
		}
		go func() {
			res := probeReplica(ctx, h, r.cfg.QueueLenResponseDeadline)
			switch res.outcome {
			case probeAvailable, probeAtCapacity:
				r.cache.Update(h.ReplicaID(), res.queueLen, r.cfg.Clock.NowSeconds())
			case probePermanentlyDead:
				r.evictReplica(h.ReplicaID(), "permanently_dead")
			}
		}()
	}

	r.updated.Signal()
	r.triggerResize()
}

// evictReplica removes a replica observed dead mid-probe, ahead of the
// next UpdateReplicas call, per spec.md §5's PermanentlyDead handling.
func (r *Router) evictReplica(id ReplicaID, reason string) {
	r.mu.Lock()
	if !r.replicas.Has(id) {
		r.mu.Unlock()
		return
	}
	log.Printf("Router: evicting replica %s/%s (%s)", id.DeploymentName, id.UniqueID, reason)
	remaining := make([]ReplicaHandle, 0, r.replicas.Len())
	for _, h := range r.replicas.All() {
		if h.ReplicaID() != id {
			remaining = append(remaining, h)
		}
	}
	r.replicas = buildReplicaSet(remaining)
	r.mu.Unlock()

	r.cache.Remove(id)
	r.bgLimiter.Forget(id)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.IncEviction(reason)
	}
	r.updated.Signal()
}

// triggerResize asks the pool to resize if the router has been
// started; a call before Start is a harmless no-op (requests simply
// queue until Start runs).
func (r *Router) triggerResize() {
	r.lifecycle.Lock()
	ctx := r.workerCtx
	started := r.started && !r.closed
	r.lifecycle.Unlock()
	if started && ctx != nil {
		r.resizePool(ctx)
	}
}

// twoDistinctIndices draws two different indices in [0,n) uniformly,
// used by sampleAndProbeTier's power-of-two-choices step.
// math/rand/v2's top-level functions are safe for concurrent use, so
// no locking is needed here despite many workers calling it at once.
func (r *Router) twoDistinctIndices(n int) (int, int) {
	i := rand.N(n)
	j := rand.N(n - 1)
	if j >= i {
		j++
	}
	return i, j
}

// NumPendingRequests reports the queue depth (spec.md §4.6 introspection).
func (r *Router) NumPendingRequests() int {
	return r.queue.Len()
}

// CurrNumRoutingTasks reports how many worker goroutines are currently
// running.
func (r *Router) CurrNumRoutingTasks() int {
	return int(atomic.LoadInt32(&r.running))
}

// MaxNumRoutingTasks reports the current pool ceiling: twice the active
// replica count, capped by MaxNumRoutingTasksCap (spec.md §4.6: "=
// 2 × |replicas|, capped"). This is the same formula desiredPoolSize
// uses, minus the pending-queue term.
func (r *Router) MaxNumRoutingTasks() int {
	r.mu.RLock()
	n := 2 * r.replicas.Len()
	r.mu.RUnlock()
	if cap := r.cfg.MaxNumRoutingTasksCap; n > cap {
		n = cap
	}
	if n < 0 {
		n = 0
	}
	return n
}

// SelectAvailableReplicas implements spec.md §4.6's
// select_available_replicas: the subset of candidates (or, when
// candidates is nil, every active replica) whose cache entry reports
// queue_len < max_ongoing_requests. A replica with no cache entry is
// considered available — the ranker is what probes it, this is a pure
// cache-read filter, not a substitute for probing.
func (r *Router) SelectAvailableReplicas(candidates []ReplicaHandle) []ReplicaHandle {
	if candidates == nil {
		r.mu.RLock()
		candidates = r.replicas.All()
		r.mu.RUnlock()
	}

	now := r.cfg.Clock.NowSeconds()
	out := make([]ReplicaHandle, 0, len(candidates))
	for _, h := range candidates {
		q, ok := r.cache.Get(h.ReplicaID(), now)
		if !ok || q < h.MaxOngoingRequests() {
			out = append(out, h)
		}
	}
	return out
}

// RouterSnapshot is a point-in-time introspection dump (spec.md §4.6).
type RouterSnapshot struct {
	PendingRequests int
	ActiveWorkers   int
	ReplicaCount    int
	ReplicaIDs      []ReplicaID
}

// Snapshot returns a consistent-enough view of router state for
// debugging/dashboards; it is not synchronized with in-flight binds.
func (r *Router) Snapshot() RouterSnapshot {
	r.mu.RLock()
	ids := make([]ReplicaID, 0, r.replicas.Len())
	for _, h := range r.replicas.All() {
		ids = append(ids, h.ReplicaID())
	}
	count := r.replicas.Len()
	r.mu.RUnlock()

	return RouterSnapshot{
		PendingRequests: r.queue.Len(),
		ActiveWorkers:   r.CurrNumRoutingTasks(),
		ReplicaCount:    count,
		ReplicaIDs:      ids,
	}
}
