// Package audit supplies router.BindingSink implementations: a
// dependency-free in-memory ring buffer for tests/dashboards, and a
// Postgres-backed sink for durable offline analysis. Grounded on
// control_plane/store/postgres.go's pgxpool usage (pool construction,
// context-scoped Ping, parameterized Exec).
//
// A BindingSink is a pure observability collaborator: the router never
// reads back what it records, and a sink that errors or blocks does
// not affect a single routing decision — both implementations here are
// built to never block the router's worker goroutines.
package audit

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/replicarouter/router"
)

// MemorySink keeps the last N binding decisions in a ring buffer. Safe
// for concurrent use.
type MemorySink struct {
	mu     sync.Mutex
	buf    []router.BindingDecision
	cap    int
	cursor int
	filled bool
}

// NewMemorySink builds a sink retaining at most capacity decisions.
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemorySink{buf: make([]router.BindingDecision, capacity), cap: capacity}
}

func (s *MemorySink) RecordBinding(d router.BindingDecision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf[s.cursor] = d
	s.cursor = (s.cursor + 1) % s.cap
	if s.cursor == 0 {
		s.filled = true
	}
}

// Recent returns the retained decisions, oldest first.
func (s *MemorySink) Recent() []router.BindingDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.filled {
		out := make([]router.BindingDecision, s.cursor)
		copy(out, s.buf[:s.cursor])
		return out
	}
	out := make([]router.BindingDecision, s.cap)
	copy(out, s.buf[s.cursor:])
	copy(out[s.cap-s.cursor:], s.buf[:s.cursor])
	return out
}

// PostgresSink records binding decisions into a table, best-effort:
// failures are logged and otherwise swallowed, never propagated back
// to the router.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink opens a pool against connString and verifies
// connectivity, mirroring NewPostgresStore's pool tuning.
func NewPostgresSink(ctx context.Context, connString string) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Close() {
	s.pool.Close()
}

// RecordBinding inserts one row, fire-and-forget: it spawns its own
// short-lived goroutine so a slow or unreachable database never adds
// latency to a worker that just bound a request.
func (s *PostgresSink) RecordBinding(d router.BindingDecision) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_, err := s.pool.Exec(ctx, `
			INSERT INTO routing_decisions
				(request_id, deployment_name, replica_id, outcome, reason, decided_at_us)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, d.RequestID, d.ReplicaID.DeploymentName, d.ReplicaID.UniqueID, d.Outcome, d.Reason, d.DecidedAtUS)
		if err != nil {
			log.Printf("audit: recording binding decision: %v", err)
		}
	}()
}
