// Package metrics exposes the service's Prometheus collectors. All metric
// names are prefixed with the namespace passed to New so several services
// can share one Prometheus without collisions.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors recorded by the HTTP middleware and the audit
// recorder. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// auditEntries counts appended audit rows by action and category tag.
	auditEntries *prometheus.CounterVec
	// auditFailures counts best-effort appends that were dropped.
	auditFailures *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a private registry.
func New(namespace string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.auditEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_entries_total",
			Help:      "Audit log rows appended, by action and field category.",
		},
		[]string{"action", "field_name"},
	)
	m.auditFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_failures_total",
			Help:      "Audit log appends that failed after the primary write committed.",
		},
		[]string{"action"},
	)
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route template and status.",
		},
		[]string{"method", "route", "status"},
	)
	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route template.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.registry.MustRegister(
		m.auditEntries,
		m.auditFailures,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// AuditAppended records one successfully written audit row.
func (m *Metrics) AuditAppended(action, fieldName string) {
	if m == nil {
		return
	}
	if fieldName == "" {
		fieldName = "none"
	}
	m.auditEntries.WithLabelValues(action, fieldName).Inc()
}

// AuditFailed records an audit row that could not be written.
func (m *Metrics) AuditFailed(action string) {
	if m == nil {
		return
	}
	m.auditFailures.WithLabelValues(action).Inc()
}

// ObserveRequest records one finished HTTP request. route is the matched
// route template (e.g. /api/v1/opportunities/:oid), never the raw path, so
// label cardinality stays bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format. A nil
// *Metrics has nothing to expose and answers 404.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
