package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Workflow metrics
	TransitionsTotal   *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec

	// Audit metrics
	AuditRecordsTotal     *prometheus.CounterVec
	AuditWriteErrorsTotal prometheus.Counter

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Business metrics
	RequestsByStatus *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guichet_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guichet_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guichet_workflow_transitions_total",
				Help: "Workflow transition attempts by transition name and outcome",
			},
			[]string{"transition", "outcome"},
		),
		TransitionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guichet_workflow_transition_duration_seconds",
				Help:    "Workflow transition processing time in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"transition"},
		),
		AuditRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guichet_audit_records_total",
				Help: "Audit records written by action kind",
			},
			[]string{"action", "status"},
		),
		AuditWriteErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "guichet_audit_write_errors_total",
				Help: "Audit sink write failures (non-fatal)",
			},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guichet_notifications_total",
				Help: "Notifications emitted by event",
			},
			[]string{"event"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "guichet_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "guichet_db_connections_idle",
				Help: "Idle database connections",
			},
		),
		RequestsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "guichet_requests_by_status",
				Help: "Number of assistance requests per status",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TransitionsTotal,
		m.TransitionDuration,
		m.AuditRecordsTotal,
		m.AuditWriteErrorsTotal,
		m.NotificationsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.RequestsByStatus,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTransition records one workflow transition attempt.
func (m *Metrics) ObserveTransition(transition, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(transition, outcome).Inc()
	m.TransitionDuration.WithLabelValues(transition).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one handled HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
