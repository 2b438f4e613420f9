// Package distcache supplies a Redis-backed router.Backend, letting
// several router processes in front of the same replica pool share
// queue-length observations. Grounded on control_plane/store/redis.go's
// RedisStore: a single *redis.Client, a connectivity check on
// construction, JSON-encoded values, and latency tracked the same way
// (a start timestamp plus a deferred histogram observation).
//
// This does not make routing state persistent. Every entry still
// carries the staleness timeout the in-memory backend would have
// applied; a stale or missing Redis read is treated exactly like a
// cache miss, never as a reason to trust or reject a replica on its
// own.
package distcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/replicarouter/router"
)

// RedisBackend implements router.Backend over a single Redis hash keyed
// by deployment name, with replica unique IDs as hash fields.
type RedisBackend struct {
	client         *redis.Client
	hashKey        string
	deploymentName string
	onLatency      func(time.Duration)
}

// NewRedisBackend dials addr and verifies connectivity before
// returning, the same fail-fast contract as NewRedisStore. deployment
// both namespaces the backing hash key and is stamped back onto every
// ReplicaID handed out by Keys, since the hash itself only stores
// unique IDs.
func NewRedisBackend(addr, password string, db int, deployment string) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("distcache: connecting to redis: %w", err)
	}

	return &RedisBackend{
		client:         client,
		hashKey:        "router:queuelen:" + deployment,
		deploymentName: deployment,
	}, nil
}

// OnLatency installs an optional observer called with the duration of
// each Get and Set round-trip (Delete and Keys are not timed), so callers can feed it into a metrics.Recorder-style
// histogram without this package depending on Prometheus directly.
func (b *RedisBackend) OnLatency(fn func(time.Duration)) {
	b.onLatency = fn
}

func (b *RedisBackend) observe(start time.Time) {
	if b.onLatency != nil {
		b.onLatency(time.Since(start))
	}
}

type redisEntry struct {
	QueueLen int     `json:"queue_len"`
	AtWall   float64 `json:"at_wall"`
}

func (b *RedisBackend) Get(id router.ReplicaID) (router.CacheEntry, bool) {
	start := time.Now()
	defer b.observe(start)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := b.client.HGet(ctx, b.hashKey, id.UniqueID).Result()
	if err != nil {
		return router.CacheEntry{}, false
	}
	var e redisEntry
	if json.Unmarshal([]byte(raw), &e) != nil {
		return router.CacheEntry{}, false
	}
	return router.CacheEntry{QueueLen: e.QueueLen, AtWall: e.AtWall}, true
}

func (b *RedisBackend) Set(id router.ReplicaID, entry router.CacheEntry) {
	start := time.Now()
	defer b.observe(start)

	raw, err := json.Marshal(redisEntry{QueueLen: entry.QueueLen, AtWall: entry.AtWall})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.client.HSet(ctx, b.hashKey, id.UniqueID, raw)
}

func (b *RedisBackend) Delete(id router.ReplicaID) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.client.HDel(ctx, b.hashKey, id.UniqueID)
}

func (b *RedisBackend) Keys() []router.ReplicaID {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	fields, err := b.client.HKeys(ctx, b.hashKey).Result()
	if err != nil {
		return nil
	}
	ids := make([]router.ReplicaID, 0, len(fields))
	for _, f := range fields {
		ids = append(ids, router.ReplicaID{DeploymentName: b.deploymentName, UniqueID: f})
	}
	return ids
}
