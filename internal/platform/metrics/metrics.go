// Package metrics owns the prometheus registry of the server. All recording
// methods are safe on a nil *Metrics so callers never need to guard them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pillara"

type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	conflicts     prometheus.Counter
	medUpdates    prometheus.Counter
	dosesLogged   *prometheus.CounterVec
	pillDecrement prometheus.Counter
	eventsFailed  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "medication_update_conflicts_total",
			Help:      "Medication updates rejected because the submitted version was stale.",
		}),
		medUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "medication_updates_total",
			Help:      "Medication updates committed.",
		}),
		dosesLogged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "doses_logged_total",
			Help:      "Dose events recorded by status.",
		}, []string{"status"}),
		pillDecrement: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pill_count_decrements_total",
			Help:      "Pill counts decremented by a Taken dose.",
		}),
		eventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_publish_failures_total",
			Help:      "Domain events that could not be delivered, by event type.",
		}, []string{"type"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.conflicts,
		m.medUpdates,
		m.dosesLogged,
		m.pillDecrement,
		m.eventsFailed,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request count and latency per route template. Routes are
// labelled by their pattern (for example /api/v1/medications/:id), never the
// raw path, to keep label cardinality bounded.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if status < http.StatusBadRequest {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) MedicationConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) MedicationUpdated() {
	if m == nil {
		return
	}
	m.medUpdates.Inc()
}

func (m *Metrics) DoseLogged(status string, decremented bool) {
	if m == nil {
		return
	}
	m.dosesLogged.WithLabelValues(status).Inc()
	if decremented {
		m.pillDecrement.Inc()
	}
}

func (m *Metrics) EventPublishFailed(eventType string) {
	if m == nil {
		return
	}
	m.eventsFailed.WithLabelValues(eventType).Inc()
}
