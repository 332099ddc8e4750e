// Package metrics exposes Prometheus instrumentation for the HTTP API and the
// tracking pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors registered for one server process.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	inFlight     prometheus.Gauge

	pageViews      *prometheus.CounterVec
	events         *prometheus.CounterVec
	sessionsOpened *prometheus.CounterVec
	rejectedHits   *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests processed, by service, method, route and status.",
		}, []string{"service", "method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency distribution.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "method", "path"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		}),
		pageViews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_page_views_total",
			Help: "Page views accepted by the collect endpoint, by site.",
		}, []string{"site_id"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_events_total",
			Help: "Custom events accepted by the collect endpoint, by site and type.",
		}, []string{"site_id", "type"}),
		sessionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_sessions_opened_total",
			Help: "Visitor sessions opened, by site.",
		}, []string{"site_id"}),
		rejectedHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_hits_rejected_total",
			Help: "Collect payloads rejected before storage, by reason.",
		}, []string{"reason"}),
	}

	registry.MustRegister(m.httpRequests, m.httpDuration, m.inFlight,
		m.pageViews, m.events, m.sessionsOpened, m.rejectedHits)
	return m
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(service, method, path, status).Inc()
	m.httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// IncrementInFlight marks a request as in progress.
func (m *Metrics) IncrementInFlight() { m.inFlight.Inc() }

// DecrementInFlight marks a request as finished.
func (m *Metrics) DecrementInFlight() { m.inFlight.Dec() }

// RecordPageView counts an accepted page view.
func (m *Metrics) RecordPageView(siteID string) {
	m.pageViews.WithLabelValues(siteID).Inc()
}

// RecordEvent counts an accepted custom event.
func (m *Metrics) RecordEvent(siteID, eventType string) {
	m.events.WithLabelValues(siteID, eventType).Inc()
}

// RecordSessionOpened counts a newly opened session.
func (m *Metrics) RecordSessionOpened(siteID string) {
	m.sessionsOpened.WithLabelValues(siteID).Inc()
}

// RecordRejectedHit counts a collect payload that was dropped.
func (m *Metrics) RecordRejectedHit(reason string) {
	m.rejectedHits.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
