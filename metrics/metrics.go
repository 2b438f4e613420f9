// Package metrics supplies the router's Prometheus wiring. It plays
// the same role as control_plane/observability in the teacher, with
// one deliberate change: metrics are built by a constructor against an
// injected prometheus.Registerer instead of registered as package-level
// promauto globals, so tests can build disposable Recorders instead of
// sharing (and colliding on) one global registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder implements router.MetricsRecorder.
type Recorder struct {
	queueDepth     prometheus.Gauge
	activeWorkers  prometheus.Gauge
	replicaCount   prometheus.Gauge
	probeDeadline  prometheus.Histogram
	binds          *prometheus.CounterVec
	evictions      *prometheus.CounterVec
	probeTimeouts  prometheus.Counter
	noCandidate    prometheus.Counter
	cancellations  prometheus.Counter
}

// New builds a Recorder and registers its collectors with reg. Pass
// prometheus.NewRegistry() in tests to avoid touching the default
// global registry; pass prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "router_queue_depth",
			Help: "Current number of pending requests awaiting a bind",
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "router_active_workers",
			Help: "Current number of routing worker goroutines",
		}),
		replicaCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "router_replica_count",
			Help: "Current number of active replicas known to the router",
		}),
		probeDeadline: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "router_probe_deadline_seconds",
			Help:    "Deadline used for each get_queue_len probe attempt",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		binds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_binds_total",
			Help: "Total number of requests bound to a replica",
		}, []string{"replica"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_evictions_total",
			Help: "Total number of replicas evicted from the active set",
		}, []string{"reason"}),
		probeTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "router_probe_timeouts_total",
			Help: "Total number of get_queue_len probes that timed out",
		}),
		noCandidate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "router_no_candidate_rounds_total",
			Help: "Total number of routing rounds that found no replica to bind",
		}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "router_cancellations_total",
			Help: "Total number of requests that resolved via caller cancellation",
		}),
	}

	reg.MustRegister(
		r.queueDepth, r.activeWorkers, r.replicaCount, r.probeDeadline,
		r.binds, r.evictions, r.probeTimeouts, r.noCandidate, r.cancellations,
	)
	return r
}

func (r *Recorder) SetQueueDepth(n int)    { r.queueDepth.Set(float64(n)) }
func (r *Recorder) SetActiveWorkers(n int) { r.activeWorkers.Set(float64(n)) }
func (r *Recorder) SetReplicaCount(n int)  { r.replicaCount.Set(float64(n)) }

func (r *Recorder) ObserveProbeDeadline(seconds float64) { r.probeDeadline.Observe(seconds) }

func (r *Recorder) IncBind(replica string)  { r.binds.WithLabelValues(replica).Inc() }
func (r *Recorder) IncEviction(reason string) { r.evictions.WithLabelValues(reason).Inc() }
func (r *Recorder) IncProbeTimeout()         { r.probeTimeouts.Inc() }
func (r *Recorder) IncNoCandidateRound()     { r.noCandidate.Inc() }
func (r *Recorder) IncCancelled()            { r.cancellations.Inc() }
