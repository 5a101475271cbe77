package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the billing service
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Webhook metrics
	WebhookEventsTotal     *prometheus.CounterVec
	WebhookRejectionsTotal *prometheus.CounterVec
	WebhookDuration        *prometheus.HistogramVec

	// Portal broker metrics
	PortalSessionsTotal *prometheus.CounterVec

	// Billing store metrics
	StoreOperationsTotal *prometheus.CounterVec
	StoreErrorsTotal     *prometheus.CounterVec

	// Reconciliation sweep metrics
	ReconcileRunsTotal    prometheus.Counter
	ReconcileUpdatesTotal prometheus.Counter
	ReconcileErrorsTotal  prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memberhq_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memberhq_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memberhq_webhook_events_total",
				Help: "Webhook events processed, by wire type and outcome",
			},
			[]string{"type", "outcome"},
		),
		WebhookRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memberhq_webhook_rejections_total",
				Help: "Webhook deliveries rejected before dispatch",
			},
			[]string{"reason"},
		),
		WebhookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memberhq_webhook_duration_seconds",
				Help:    "Webhook event processing duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),

		PortalSessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memberhq_portal_sessions_total",
				Help: "Billing portal session requests, by outcome",
			},
			[]string{"outcome"},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memberhq_billing_store_operations_total",
				Help: "Billing store operations, by operation",
			},
			[]string{"operation"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memberhq_billing_store_errors_total",
				Help: "Billing store operation errors, by operation",
			},
			[]string{"operation"},
		),

		ReconcileRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memberhq_reconcile_runs_total",
				Help: "Reconciliation sweep runs",
			},
		),
		ReconcileUpdatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memberhq_reconcile_updates_total",
				Help: "Billing records updated by the reconciliation sweep",
			},
		),
		ReconcileErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memberhq_reconcile_errors_total",
				Help: "Errors encountered by the reconciliation sweep",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memberhq_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memberhq_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WebhookEventsTotal,
		m.WebhookRejectionsTotal,
		m.WebhookDuration,
		m.PortalSessionsTotal,
		m.StoreOperationsTotal,
		m.StoreErrorsTotal,
		m.ReconcileRunsTotal,
		m.ReconcileUpdatesTotal,
		m.ReconcileErrorsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns an HTTP handler exposing the registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request metrics
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusRecorder captures the response status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
