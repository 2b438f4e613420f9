package router

import "time"

// ReplicaID identifies a replica within a single deployment's pool.
// Equality is opaque: two IDs are the same replica iff both fields match.
type ReplicaID struct {
	DeploymentName string
	UniqueID       string
}

// Clock is an injectable monotonic time source, following the teacher's
// pattern of threading a clock through config rather than calling
// time.Now directly, so tests can drive time deterministically.
type Clock interface {
	NowSeconds() float64
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) NowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// RouterConfig holds the tunables for a Router, mirroring the shape of
// SchedulerConfig: one struct, one DefaultRouterConfig constructor.
type RouterConfig struct {
	PreferLocalNode bool
	PreferLocalAZ   bool
	SelfNodeID      string
	SelfAZ          string // empty means "no AZ identity"

	UseQueueLenCache            bool
	QueueLenResponseDeadline    time.Duration
	MaxQueueLenResponseDeadline time.Duration
	QueueLenCacheStaleness      time.Duration

	MultiplexMatchingTimeout time.Duration

	BackoffSequence       []time.Duration
	MaxNumRoutingTasksCap int

	Clock Clock

	// CacheBackend, when non-nil, replaces the default in-memory
	// QueueLengthCache storage (see cache.go's Backend interface).
	// nil means "use the built-in map".
	CacheBackend Backend

	// BindingSink, when non-nil, receives a best-effort record of every
	// binding/cancellation decision for offline analysis. nil means
	// "record nothing" — it is never required for correct routing.
	BindingSink BindingSink

	// Metrics, when non-nil, receives router counters/gauges. nil means
	// "no-op" (see metrics.Recorder).
	Metrics MetricsRecorder
}

// DefaultRouterConfig returns sensible production defaults, mirroring
// DefaultSchedulerConfig's role in the teacher.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		PreferLocalNode:             true,
		PreferLocalAZ:               true,
		UseQueueLenCache:            true,
		QueueLenResponseDeadline:    100 * time.Millisecond,
		MaxQueueLenResponseDeadline: 1 * time.Second,
		QueueLenCacheStaleness:      10 * time.Second,
		MultiplexMatchingTimeout:    500 * time.Millisecond,
		BackoffSequence: []time.Duration{
			10 * time.Millisecond,
			20 * time.Millisecond,
			50 * time.Millisecond,
			100 * time.Millisecond,
			500 * time.Millisecond,
		},
		MaxNumRoutingTasksCap: 50,
		Clock:                 SystemClock{},
	}
}

func (c RouterConfig) backoffFor(attempt int) time.Duration {
	if len(c.BackoffSequence) == 0 {
		return 0
	}
	if attempt >= len(c.BackoffSequence) {
		attempt = len(c.BackoffSequence) - 1
	}
	return c.BackoffSequence[attempt]
}

// BindingSink is the narrow interface the router calls through to record
// routing outcomes. Implementations live in package audit.
type BindingSink interface {
	RecordBinding(decision BindingDecision)
}

// BindingDecision is a best-effort, fire-and-forget record of how a
// request was resolved. It is never read back by the router.
type BindingDecision struct {
	RequestID   string
	ReplicaID   ReplicaID // zero value if Outcome != "bound"
	Outcome     string    // "bound", "cancelled"
	Reason      string
	DecidedAtUS int64 // unix microseconds
}

// MetricsRecorder is the narrow interface the router calls through to
// publish introspection counters/gauges. Implementations live in
// package metrics.
type MetricsRecorder interface {
	SetQueueDepth(n int)
	SetActiveWorkers(n int)
	SetReplicaCount(n int)
	ObserveProbeDeadline(seconds float64)
	IncBind(replica string)
	IncEviction(reason string)
	IncProbeTimeout()
	IncNoCandidateRound()
	IncCancelled()
}
