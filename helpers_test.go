package router

import (
	"context"
	"sync"
	"time"
)

// fakeClock is an injectable Clock for deterministic tests, following
// the teacher's pattern of threading time through config rather than
// calling time.Now from test-exercised code paths.
type fakeClock struct {
	mu  sync.Mutex
	now float64
}

func newFakeClock(start float64) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) NowSeconds() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d.Seconds()
}

// fakeReplica is a hand-rolled ReplicaHandle, the teacher never
// imports a mocking library so neither do test files here.
type fakeReplica struct {
	id         ReplicaID
	node       string
	az         string
	azOK       bool
	models     map[string]struct{}
	maxOngoing int

	mu       sync.Mutex
	queueLen int
	err      error
	delay    time.Duration
}

func newFakeReplica(deployment, uniqueID string, maxOngoing int) *fakeReplica {
	return &fakeReplica{
		id:         ReplicaID{DeploymentName: deployment, UniqueID: uniqueID},
		maxOngoing: maxOngoing,
		models:     make(map[string]struct{}),
	}
}

func (f *fakeReplica) ReplicaID() ReplicaID { return f.id }
func (f *fakeReplica) NodeID() string       { return f.node }
func (f *fakeReplica) AvailabilityZone() (string, bool) {
	return f.az, f.azOK
}
func (f *fakeReplica) MultiplexedModelIDs() map[string]struct{} { return f.models }
func (f *fakeReplica) MaxOngoingRequests() int                  { return f.maxOngoing }

func (f *fakeReplica) setQueueLen(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queueLen = n
}

func (f *fakeReplica) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeReplica) setDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *fakeReplica) GetQueueLen(ctx context.Context) (int, error) {
	f.mu.Lock()
	delay, err, q := f.delay, f.err, f.queueLen
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err != nil {
		return 0, err
	}
	return q, nil
}

// fakeMetrics records counter/gauge calls for assertions, standing in
// for package metrics' Prometheus-backed Recorder in tests.
type fakeMetrics struct {
	mu            sync.Mutex
	probeTimeouts int
	evictions     int
	noCandidate   int
	cancellations int
	binds         int
}

func (m *fakeMetrics) SetQueueDepth(int)             {}
func (m *fakeMetrics) SetActiveWorkers(int)          {}
func (m *fakeMetrics) SetReplicaCount(int)           {}
func (m *fakeMetrics) ObserveProbeDeadline(float64)  {}

func (m *fakeMetrics) IncBind(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.binds++
}

func (m *fakeMetrics) IncEviction(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictions++
}

func (m *fakeMetrics) IncProbeTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probeTimeouts++
}

func (m *fakeMetrics) IncNoCandidateRound() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noCandidate++
}

func (m *fakeMetrics) IncCancelled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancellations++
}

func (m *fakeMetrics) snapshot() (probeTimeouts, evictions, noCandidate, cancellations, binds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probeTimeouts, m.evictions, m.noCandidate, m.cancellations, m.binds
}

// fakeSink records binding decisions in the order RecordBinding is
// called, for FIFO-ordering assertions.
type fakeSink struct {
	mu        sync.Mutex
	decisions []BindingDecision
}

func (s *fakeSink) RecordBinding(d BindingDecision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
}

func (s *fakeSink) snapshot() []BindingDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BindingDecision, len(s.decisions))
	copy(out, s.decisions)
	return out
}

func testConfig(clock Clock) RouterConfig {
	cfg := DefaultRouterConfig()
	cfg.Clock = clock
	cfg.QueueLenResponseDeadline = 10 * time.Millisecond
	cfg.MaxQueueLenResponseDeadline = 40 * time.Millisecond
	cfg.BackoffSequence = []time.Duration{2 * time.Millisecond, 5 * time.Millisecond, 10 * time.Millisecond}
	cfg.MultiplexMatchingTimeout = 20 * time.Millisecond
	cfg.MaxNumRoutingTasksCap = 8
	return cfg
}
