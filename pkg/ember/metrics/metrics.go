// Package metrics wires github.com/prometheus/client_golang into ember,
// following shockwave's buffer_pool_prometheus.go pattern of
// namespace/subsystem-scoped promauto collectors plus a prometheus.Collector
// that refreshes gauges from live server state on every scrape, rather than
// on a fixed timer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace scopes every metric this package registers, so an ember
// server's metrics never collide with another library's under the same
// registry.
const Namespace = "ember"

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled, by method and status.",
		},
		[]string{"method", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request handling latency, by method.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "server",
			Name:      "active_connections",
			Help:      "Number of currently accepted, unreleased connections.",
		},
	)

	workerPoolPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "worker_pool",
			Name:      "pending_jobs",
			Help:      "Number of worker-pool jobs spawned but not yet complete.",
		},
	)
)

// RecordRequest is called once per request by the Metrics middleware with
// the method, final status code, and handling duration.
func RecordRequest(method string, status int, duration time.Duration) {
	requestsTotal.WithLabelValues(method, statusLabel(status)).Inc()
	requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// ServerStats is the subset of a *server.Server a Collector polls at
// scrape time. server.Server satisfies this without metrics importing the
// server package, the same way middleware.Request/Response keep that
// package import-free.
type ServerStats interface {
	ActiveConnections() int
}

// WorkerPoolStats is the subset of a *server.WorkerPool a Collector polls
// at scrape time.
type WorkerPoolStats interface {
	Pending() int64
}

// Collector implements prometheus.Collector, refreshing the
// active-connection and worker-pool gauges from live state whenever
// Prometheus scrapes /metrics, instead of drifting between fixed-interval
// updates.
type Collector struct {
	server     ServerStats
	workerPool WorkerPoolStats
}

// NewCollector returns a Collector reporting srv's and pool's live state.
// Either may be nil, in which case the corresponding gauge stays at zero.
func NewCollector(srv ServerStats, pool WorkerPoolStats) *Collector {
	return &Collector{server: srv, workerPool: pool}
}

// Describe implements prometheus.Collector. The underlying metrics are
// already registered via promauto, so this is a no-op.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector. The gauges themselves are
// already registered via promauto and collected automatically on scrape;
// Collect's only job is to refresh their values first, so a scrape never
// reads stale state between refreshes.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.server != nil {
		activeConnections.Set(float64(c.server.ActiveConnections()))
	}
	if c.workerPool != nil {
		workerPoolPending.Set(float64(c.workerPool.Pending()))
	}
}
