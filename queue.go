package router

import (
	"container/heap"
	"sync"
)

// pendingHeap implements heap.Interface ordered by CreatedAtWallSeconds,
// the same shape as the teacher's TaskQueue but without priority aging:
// spec.md §4.4 requires strict FIFO by creation time, nothing else.
type pendingHeap []*pendingEntry

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	if h[i].req.CreatedAtWallSeconds != h[j].req.CreatedAtWallSeconds {
		return h[i].req.CreatedAtWallSeconds < h[j].req.CreatedAtWallSeconds
	}
	// Tie-break on submission order so two requests created within the
	// same clock tick (common with an injected fake Clock in tests)
	// still pop in a stable, deterministic order.
	return h[i].req.InternalID < h[j].req.InternalID
}

func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x interface{}) {
	*h = append(*h, x.(*pendingEntry))
}

func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// PendingQueue is a FIFO-by-creation-time priority queue of pending
// requests, guarded by its own mutex the way the teacher's
// ThreadSafeQueue wraps TaskQueue — callers of ChooseReplicaForRequest
// push onto it while every routing worker goroutine pops from it, all
// concurrently, so it needs its own lock.
type PendingQueue struct {
	mu sync.Mutex
	h  pendingHeap
}

func NewPendingQueue() *PendingQueue {
	return &PendingQueue{h: make(pendingHeap, 0)}
}

func (q *PendingQueue) Push(e *pendingEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, e)
}

// PopOldestReady returns the oldest pending entry whose cancel signal
// has not fired, discarding any already-cancelled entries it encounters
// along the way (spec.md §4.4: "those are discarded silently").
func (q *PendingQueue) PopOldestReady() *pendingEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.h.Len() > 0 {
		e := heap.Pop(&q.h).(*pendingEntry)
		if isCancelled(e.req) {
			e.state = stateCancelled
			e.result <- routeResult{err: ErrCancelled}
			close(e.result)
			continue
		}
		return e
	}
	return nil
}

// Remove drops a specific entry from the queue (used when a caller
// cancels a request that is still sitting in the queue, not yet being
// routed). Returns true if the entry was found and removed.
func (q *PendingQueue) Remove(target *pendingEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.h {
		if e == target {
			heap.Remove(&q.h, i)
			return true
		}
	}
	return false
}

func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

func isCancelled(req *PendingRequest) bool {
	if req.Cancel == nil {
		return false
	}
	select {
	case <-req.Cancel:
		return true
	default:
		return false
	}
}
