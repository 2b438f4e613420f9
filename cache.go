package router

import "sync"

// CacheEntry is a single observation: a queue length and the wall time
// it was taken at.
type CacheEntry struct {
	QueueLen int
	AtWall   float64
}

// Backend is the storage contract a QueueLengthCache delegates to. The
// built-in implementation is an in-memory map guarded by a mutex,
// matching the shape of the teacher's TokenBucketLimiter
// (map[string]*rate.Limiter + sync.Mutex). package distcache supplies a
// Redis-backed Backend for routers that want to share observations
// across processes; it is advisory only — see spec.md §4.3's "cache
// bypass at capacity" rule, which this interface preserves regardless
// of backend.
type Backend interface {
	Get(id ReplicaID) (CacheEntry, bool)
	Set(id ReplicaID, entry CacheEntry)
	Delete(id ReplicaID)
	Keys() []ReplicaID
}

// memBackend is the default in-process Backend.
type memBackend struct {
	mu      sync.Mutex
	entries map[ReplicaID]CacheEntry
}

func newMemBackend() *memBackend {
	return &memBackend{entries: make(map[ReplicaID]CacheEntry)}
}

func (b *memBackend) Get(id ReplicaID) (CacheEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	return e, ok
}

func (b *memBackend) Set(id ReplicaID, entry CacheEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[id] = entry
}

func (b *memBackend) Delete(id ReplicaID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, id)
}

func (b *memBackend) Keys() []ReplicaID {
	b.mu.Lock()
	defer b.mu.Unlock()
	ks := make([]ReplicaID, 0, len(b.entries))
	for k := range b.entries {
		ks = append(ks, k)
	}
	return ks
}

// QueueLengthCache is the bounded-staleness map from spec.md §4.1. It
// adds no locking of its own: routing workers and probe goroutines call
// it concurrently, and the Backend's own synchronisation (memBackend's
// mutex) is what makes that safe.
type QueueLengthCache struct {
	backend    Backend
	staleness  float64 // seconds
}

// NewQueueLengthCache builds a cache over backend (nil means "use the
// built-in in-memory map") with staleness timeout T, in seconds.
func NewQueueLengthCache(backend Backend, stalenessSeconds float64) *QueueLengthCache {
	if backend == nil {
		backend = newMemBackend()
	}
	return &QueueLengthCache{backend: backend, staleness: stalenessSeconds}
}

// Get returns the cached queue length for id if it is fresh as of now.
func (c *QueueLengthCache) Get(id ReplicaID, now float64) (int, bool) {
	e, ok := c.backend.Get(id)
	if !ok {
		return 0, false
	}
	if now-e.AtWall > c.staleness {
		return 0, false
	}
	return e.QueueLen, true
}

// Update overwrites the cached value for id.
func (c *QueueLengthCache) Update(id ReplicaID, queueLen int, now float64) {
	c.backend.Set(id, CacheEntry{QueueLen: queueLen, AtWall: now})
}

// RemoveInactive drops every cache entry whose key is not in active.
func (c *QueueLengthCache) RemoveInactive(active map[ReplicaID]struct{}) {
	for _, id := range c.backend.Keys() {
		if _, ok := active[id]; !ok {
			c.backend.Delete(id)
		}
	}
}

// Remove drops a single entry, used when a replica is individually
// evicted (e.g. observed PermanentlyDead mid-probe, before the next
// UpdateReplicas call).
func (c *QueueLengthCache) Remove(id ReplicaID) {
	c.backend.Delete(id)
}
