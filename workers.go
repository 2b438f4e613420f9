package router

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// desiredPoolSize implements spec.md §4.5's pool-sizing rule: enough
// workers to drain the queue, never more than twice the active replica
// count (more workers than that just contend over the same pool of
// two-choices samples), and never more than the operator-configured
// cap. Mirrors the teacher's fixed single-worker Scheduler.worker, but
// made elastic since this router's queue depth is caller-driven rather
// than poll-driven.
// cap == 0 means "no routing can occur" per spec.md §9's resolution of
// that Open Question: every submit waits until the cap is raised.
func desiredPoolSize(pending, replicas, cap int) int {
	n := pending
	if 2*replicas < n {
		n = 2 * replicas
	}
	if n > cap {
		n = cap
	}
	if n < 0 {
		n = 0
	}
	return n
}

// resizePool recomputes the target worker count and spawns workers up
// to it. Workers above target self-terminate the next time they go
// looking for work (see worker below) — there is no forced preemption,
// matching spec.md §4.5's "workers wind down, they are never killed
// mid-bind."
func (r *Router) resizePool(ctx context.Context) {
	r.poolMu.Lock()
	defer r.poolMu.Unlock()

	r.mu.RLock()
	numReplicas := r.replicas.Len()
	r.mu.RUnlock()
	pending := r.queue.Len()
	target := desiredPoolSize(pending, numReplicas, r.cfg.MaxNumRoutingTasksCap)
	atomic.StoreInt32(&r.desired, int32(target))

	for int(atomic.LoadInt32(&r.running)) < target {
		atomic.AddInt32(&r.running, 1)
		r.wg.Add(1)
		go r.worker(ctx)
	}

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.SetActiveWorkers(int(atomic.LoadInt32(&r.running)))
		r.cfg.Metrics.SetQueueDepth(pending)
		r.cfg.Metrics.SetReplicaCount(numReplicas)
	}
}

// worker is one member of the routing pool: pop the oldest ready
// request, try to bind it, repeat. A worker that finds the pool
// oversubscribed (running > desired, because replicas left or the
// queue drained) exits instead of looping, shrinking the pool back
// down without interrupting anyone mid-bind.
func (r *Router) worker(ctx context.Context) {
	defer func() {
		atomic.AddInt32(&r.running, -1)
		r.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if int(atomic.LoadInt32(&r.running)) > int(atomic.LoadInt32(&r.desired)) {
			return
		}

		entry := r.queue.PopOldestReady()
		if entry == nil {
			wasSet, wake := r.updated.Observe()
			if wasSet {
				continue
			}
			timer := time.NewTimer(50 * time.Millisecond)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-wake:
			case <-timer.C:
			}
			continue
		}

		r.routeOneRequest(ctx, entry)
	}
}

// routeOneRequest drives one pending request through repeated ranking
// attempts until it binds or its caller cancels. Each failed attempt
// (no candidate found available) backs off per spec.md §4.5's
// BackoffSequence, short-circuited early by the replicas_updated latch
// or the request's own cancel signal.
func (r *Router) routeOneRequest(ctx context.Context, e *pendingEntry) {
	e.state = stateRouting
	attempt := 0
	probeDeadline := r.cfg.QueueLenResponseDeadline
	attemptStart := r.cfg.Clock.NowSeconds()

	for {
		if isCancelled(e.req) {
			r.finishCancelled(e)
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.mu.RLock()
		rs := r.replicas
		r.mu.RUnlock()
		candidates := rs.All()

		if len(candidates) == 0 {
			if r.cfg.Metrics != nil {
				r.cfg.Metrics.IncNoCandidateRound()
			}
			if r.backoffOrCancelled(ctx, e, attempt) {
				return
			}
			attempt++
			continue
		}

		now := r.cfg.Clock.NowSeconds()
		var tiers []Tier
		multiplexExpired := e.req.MultiplexedModelID != "" &&
			now-attemptStart > r.cfg.MultiplexMatchingTimeout.Seconds()
		if multiplexExpired {
			tiers = RankReplicasViaLocality(candidates, r.cfg.PreferLocalNode, r.cfg.SelfNodeID, r.cfg.PreferLocalAZ, r.cfg.SelfAZ)
		} else {
			tiers = buildTiers(candidates, e.req, r.cfg)
		}

		bound, removed := false, false
		for _, tier := range tiers {
			h, ok := r.sampleAndProbeTier(ctx, tier, now, &probeDeadline)
			if !ok {
				continue
			}
			// h may have left the active set (UpdateReplicas or an
			// eviction) while it was being probed: drop the result and
			// re-rank against the current set without backing off.
			r.mu.RLock()
			removed = !r.replicas.Has(h.ReplicaID())
			r.mu.RUnlock()
			if removed {
				break
			}
			bound = r.tryBind(e, h)
			break
		}
		if bound {
			return
		}
		if removed {
			continue
		}

		if r.backoffOrCancelled(ctx, e, attempt) {
			return
		}
		attempt++
	}
}

// sampleAndProbeTier is the power-of-two-choices step from spec.md
// §4.2/§4.5: draw (up to) two distinct candidates from the tier,
// resolve each one's queue length (cache or live probe), and return
// whichever has room and the shorter queue. probeDeadline is threaded
// by pointer so a timeout anywhere in the tier escalates it for the
// rest of this request's attempts, per spec.md §4.3.
//
// Background refresh (spec.md §4.3/§9): if exactly one candidate has a
// fresh, usable cache entry and the other does not, the fresh one is
// bound immediately and the other is probed in a detached goroutine
// purely to warm the cache for a future request — it never delays this
// bind and its result is dropped if the replica has since left the
// active set.
func (r *Router) sampleAndProbeTier(ctx context.Context, tier Tier, now float64, probeDeadline *time.Duration) (ReplicaHandle, bool) {
	if len(tier) == 0 {
		return nil, false
	}

	var c1, c2 ReplicaHandle
	if len(tier) == 1 {
		c1 = tier[0]
	} else {
		i, j := r.twoDistinctIndices(len(tier))
		c1, c2 = tier[i], tier[j]
	}

	if c2 == nil {
		_, ok1 := r.queueLenFor(ctx, c1, now, probeDeadline)
		if ok1 {
			return c1, true
		}
		return nil, false
	}

	if r.cfg.UseQueueLenCache {
		_, fresh1 := r.freshAvailable(c1, now)
		_, fresh2 := r.freshAvailable(c2, now)
		switch {
		case fresh1 && !fresh2:
			r.fireBackgroundProbe(c2)
			return c1, true
		case fresh2 && !fresh1:
			r.fireBackgroundProbe(c1)
			return c2, true
		}
	}

	q1, ok1 := r.queueLenFor(ctx, c1, now, probeDeadline)
	q2, ok2 := r.queueLenFor(ctx, c2, now, probeDeadline)

	switch {
	case ok1 && ok2:
		if q2 < q1 {
			return c2, true
		}
		return c1, true
	case ok1:
		return c1, true
	case ok2:
		return c2, true
	default:
		return nil, false
	}
}

// freshAvailable reports whether h has a cache entry fresh enough and
// below capacity to be trusted without a live probe. An at-capacity
// cache entry is deliberately never "fresh" here — spec.md §4.3's
// cache-bypass-at-capacity rule means a reading at the limit must
// always be reconfirmed by probing, never just trusted.
func (r *Router) freshAvailable(h ReplicaHandle, now float64) (int, bool) {
	q, ok := r.cache.Get(h.ReplicaID(), now)
	if !ok || q >= h.MaxOngoingRequests() {
		return 0, false
	}
	return q, true
}

// fireBackgroundProbe warms the cache for a candidate that lost out to
// a fresher one without blocking the bind it lost to, per spec.md
// §4.3's background-refresh behavior. Bounded by bgLimiter so a run of
// requests doesn't turn every stale candidate into a probe storm, and
// harmless if the replica has left the active set by the time it runs.
func (r *Router) fireBackgroundProbe(h ReplicaHandle) {
	if !r.bgLimiter.Allow(h.ReplicaID()) {
		return
	}
	r.lifecycle.Lock()
	ctx := r.workerCtx
	r.lifecycle.Unlock()
	if ctx == nil {
		return
	}

	go func() {
		res := probeReplica(ctx, h, r.cfg.QueueLenResponseDeadline)
		switch res.outcome {
		case probeAvailable, probeAtCapacity:
			r.mu.RLock()
			stillActive := r.replicas.Has(h.ReplicaID())
			r.mu.RUnlock()
			if stillActive {
				r.cache.Update(h.ReplicaID(), res.queueLen, r.cfg.Clock.NowSeconds())
			}
		case probePermanentlyDead:
			r.evictReplica(h.ReplicaID(), "permanently_dead")
		}
	}()
}

// queueLenFor resolves one replica's current queue length, consulting
// the cache first when enabled. A cached value that shows the replica
// at capacity is not trusted — spec.md §4.1's cache-bypass-at-capacity
// rule — since a replica at its limit is exactly the case a stale
// reading is most likely to be wrong about.
func (r *Router) queueLenFor(ctx context.Context, h ReplicaHandle, now float64, probeDeadline *time.Duration) (int, bool) {
	id := h.ReplicaID()

	if r.cfg.UseQueueLenCache {
		if q, ok := r.cache.Get(id, now); ok && q < h.MaxOngoingRequests() {
			return q, true
		}
	}

	res := probeReplica(ctx, h, *probeDeadline)
	switch res.outcome {
	case probeAvailable, probeAtCapacity:
		if r.cfg.UseQueueLenCache {
			r.cache.Update(id, res.queueLen, now)
		}
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.ObserveProbeDeadline(probeDeadline.Seconds())
		}
		return res.queueLen, res.outcome == probeAvailable
	case probePermanentlyDead:
		r.evictReplica(id, "permanently_dead")
		return 0, false
	case probeTransientUnavailable:
		return 0, false
	case probeTimedOut:
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.IncProbeTimeout()
			r.cfg.Metrics.ObserveProbeDeadline(probeDeadline.Seconds())
		}
		next := nextProbeDeadline(*probeDeadline, r.cfg.QueueLenResponseDeadline, r.cfg.MaxQueueLenResponseDeadline)
		log.Printf("Router: probe of %s/%s timed out at %v, escalating deadline to %v", id.DeploymentName, id.UniqueID, *probeDeadline, next)
		*probeDeadline = next
		return 0, false
	default:
		return 0, false
	}
}

// tryBind commits a request to a replica, re-checking cancellation
// first: the probe round that selected h may have taken long enough
// for the caller to give up in the meantime, and a bind delivered to a
// channel nobody is listening on any more would leak.
func (r *Router) tryBind(e *pendingEntry, h ReplicaHandle) bool {
	if isCancelled(e.req) {
		r.finishCancelled(e)
		return true
	}

	e.state = stateBound
	e.result <- routeResult{replica: h}
	close(e.result)

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.IncBind(h.ReplicaID().UniqueID)
	}
	if r.cfg.BindingSink != nil {
		r.cfg.BindingSink.RecordBinding(BindingDecision{
			RequestID:   e.req.RequestID,
			ReplicaID:   h.ReplicaID(),
			Outcome:     "bound",
			DecidedAtUS: time.Now().UnixMicro(),
		})
	}
	return true
}

// finishCancelled delivers ErrCancelled, the only error
// choose_replica_for_request ever surfaces (spec.md §4.5/§7).
func (r *Router) finishCancelled(e *pendingEntry) {
	e.state = stateCancelled
	e.result <- routeResult{err: ErrCancelled}
	close(e.result)

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.IncCancelled()
	}
	if r.cfg.BindingSink != nil {
		r.cfg.BindingSink.RecordBinding(BindingDecision{
			RequestID:   e.req.RequestID,
			Outcome:     "cancelled",
			Reason:      "caller_cancelled",
			DecidedAtUS: time.Now().UnixMicro(),
		})
	}
}

// backoffOrCancelled sleeps for the attempt's backoff duration,
// waking early on a replicas_updated signal or the request's own
// cancellation, per spec.md §9's Open Question resolution (see
// DESIGN.md): backoff is always short-circuited by cancellation.
// Returns true if routeOneRequest should stop entirely.
func (r *Router) backoffOrCancelled(ctx context.Context, e *pendingEntry, attempt int) bool {
	d := r.cfg.backoffFor(attempt)
	if d <= 0 {
		if isCancelled(e.req) {
			r.finishCancelled(e)
			return true
		}
		return false
	}

	wasSet, wake := r.updated.Observe()
	if wasSet {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-e.req.Cancel:
		r.finishCancelled(e)
		return true
	case <-wake:
		return false
	case <-timer.C:
		return false
	}
}
