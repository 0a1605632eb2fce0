// Package metrics exposes Prometheus collectors for the HTTP surface, the
// guard chain and the Record Store size.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kuitang/user-notes/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	guardRejections *prometheus.CounterVec
	eventFailures   *prometheus.CounterVec
	users           prometheus.Gauge
	notes           prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
			[]string{"route"},
		),
		guardRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guard_rejections_total",
				Help: "Requests stopped by a guard, by guard name",
			},
			[]string{"guard"},
		),
		eventFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_publish_failures_total",
				Help: "Lifecycle events that could not be published, by event type",
			},
			[]string{"type"},
		),
		users: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "users",
			Help: "Number of registered users",
		}),
		notes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notes",
			Help: "Number of notes across all users",
		}),
	}
	reg.MustRegister(
		m.requests,
		m.requestDuration,
		m.guardRejections,
		m.eventFailures,
		m.users,
		m.notes,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// GuardRejected counts a request stopped by the named guard.
func (m *Metrics) GuardRejected(guard string) {
	if m == nil {
		return
	}
	m.guardRejections.WithLabelValues(guard).Inc()
}

// EventFailed counts an event that could not be published.
func (m *Metrics) EventFailed(eventType string) {
	if m == nil {
		return
	}
	m.eventFailures.WithLabelValues(eventType).Inc()
}

// SetCounts records the current store size.
func (m *Metrics) SetCounts(users, notes int) {
	if m == nil {
		return
	}
	m.users.Set(float64(users))
	m.notes.Set(float64(notes))
}

// Middleware records request count and latency by matched route. It must wrap
// the ServeMux directly so the matched pattern is visible afterwards.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped, recorder := obs.NewResponseRecorder(w)
		next.ServeHTTP(wrapped, r)

		route := obs.Route(r)
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(recorder.StatusCode())).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
