// Package metrics provides Prometheus instrumentation for the lock
// arbitration service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lockd"

// DurationBuckets covers sub-millisecond to tens-of-seconds HTTP handler latencies.
var DurationBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// Metrics holds every collector the engine and façade report against. It
// wraps its own prometheus.Registry rather than the global default so a
// process can run more than one instance (tests, multiple cmd/lockd
// instances in one binary) without collector-name collisions.
type Metrics struct {
	reg *prometheus.Registry

	LockEvents   *prometheus.CounterVec   // by kind (acquired, queued, released, granted, cancelled, extended, scavenged)
	QueueDepth   *prometheus.GaugeVec     // by resource_type, resource_id
	HTTPRequests *prometheus.CounterVec   // by route, status
	HTTPDuration *prometheus.HistogramVec // by route
}

// New constructs a Metrics instance with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		reg: reg,
		LockEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_events_total",
			Help:      "Lock lifecycle events by kind.",
		}, []string{"kind"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current wait-queue length for a resource.",
		}, []string{"resource_type", "resource_id"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests handled by the façade, by route and status.",
		}, []string{"route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP handler latency by route.",
			Buckets:   DurationBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(m.LockEvents, m.QueueDepth, m.HTTPRequests, m.HTTPDuration)
	return m
}

// Handler exposes the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Record implements lock.Recorder, so a Metrics instance can be passed
// directly to lock.WithRecorder alongside (or instead of) an audit store.
func (m *Metrics) Record(kind, resourceType, resourceID, agentID, lockID string) {
	m.LockEvents.WithLabelValues(kind).Inc()
}

// SetQueueDepth updates the gauge for a resource's wait queue length.
func (m *Metrics) SetQueueDepth(resourceType, resourceID string, depth int) {
	m.QueueDepth.WithLabelValues(resourceType, resourceID).Set(float64(depth))
}

// InstrumentHTTP wraps a handler to record request counts and latency under
// a fixed route label (the mux pattern, not the raw path, to keep
// cardinality bounded).
func (m *Metrics) InstrumentHTTP(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		timer := prometheus.NewTimer(m.HTTPDuration.WithLabelValues(route))
		next(sw, r)
		timer.ObserveDuration()
		m.HTTPRequests.WithLabelValues(route, statusClass(sw.status)).Inc()
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func statusClass(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
