// Package metrics defines the Prometheus collectors exported by blobvault.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blobvault"

// Result label values.
const (
	ResultSuccess  = "success"
	ResultNotFound = "not_found"
	ResultConflict = "conflict"
	ResultInvalid  = "invalid"
	ResultError    = "error"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Blob operations
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	StoredBytes       *prometheus.CounterVec
	Divergences       *prometheus.CounterVec
	Compensations     *prometheus.CounterVec

	// Orphan sweeper
	SweepRuns           *prometheus.CounterVec
	SweepDuration       prometheus.Histogram
	SweepOrphansDeleted *prometheus.CounterVec
	SweepBytesFreed     *prometheus.CounterVec
	SweepOrphansPending *prometheus.GaugeVec
	SweepLastRunTime    *prometheus.GaugeVec

	// HTTP
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blob",
			Name:      "operations_total",
			Help:      "Blob operations by operation, storage kind and result.",
		}, []string{"operation", "kind", "result"}),

		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "blob",
			Name:      "operation_duration_seconds",
			Help:      "Blob operation latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"operation", "kind"}),

		StoredBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blob",
			Name:      "stored_bytes_total",
			Help:      "Payload bytes accepted by store operations.",
		}, []string{"kind"}),

		Divergences: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blob",
			Name:      "divergences_total",
			Help:      "Metadata records whose payload could not be found on the medium.",
		}, []string{"kind"}),

		Compensations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blob",
			Name:      "compensations_total",
			Help:      "Payloads discarded after a failed metadata write, by result.",
		}, []string{"kind", "result"}),

		SweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Orphan sweep runs by result.",
		}, []string{"result"}),

		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "run_duration_seconds",
			Help:      "Orphan sweep run duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),

		SweepOrphansDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "orphans_deleted_total",
			Help:      "Orphan payloads removed from the medium.",
		}, []string{"kind"}),

		SweepBytesFreed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "bytes_freed_total",
			Help:      "Bytes freed by removing orphan payloads, where the size is known.",
		}, []string{"kind"}),

		SweepOrphansPending: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "orphans_pending",
			Help:      "Orphan candidates seen in the last run that are still inside the grace period.",
		}, []string{"kind"}),

		SweepLastRunTime: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed sweep.",
		}, []string{"kind"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// NewRegistry returns a registry preloaded with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// RecordOperation records a blob operation outcome and its latency.
func (m *Metrics) RecordOperation(operation, kind, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, kind, result).Inc()
	m.OperationDuration.WithLabelValues(operation, kind).Observe(d.Seconds())
}

// RecordStored adds accepted payload bytes.
func (m *Metrics) RecordStored(kind string, size int64) {
	if m == nil {
		return
	}
	m.StoredBytes.WithLabelValues(kind).Add(float64(size))
}

// RecordDivergence counts a metadata record without a payload.
func (m *Metrics) RecordDivergence(kind string) {
	if m == nil {
		return
	}
	m.Divergences.WithLabelValues(kind).Inc()
}

// RecordCompensation counts a discard attempted after a failed metadata write.
func (m *Metrics) RecordCompensation(kind, result string) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(kind, result).Inc()
}

// RecordSweepRun records a completed orphan sweep.
func (m *Metrics) RecordSweepRun(kind, result string, d time.Duration, deleted int, bytesFreed int64, pending int) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(result).Inc()
	m.SweepDuration.Observe(d.Seconds())
	m.SweepOrphansDeleted.WithLabelValues(kind).Add(float64(deleted))
	m.SweepBytesFreed.WithLabelValues(kind).Add(float64(bytesFreed))
	m.SweepOrphansPending.WithLabelValues(kind).Set(float64(pending))
	m.SweepLastRunTime.WithLabelValues(kind).SetToCurrentTime()
}

// RecordHTTPRequest records a served request. route is the matched pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
