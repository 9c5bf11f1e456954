// Package metrics exposes Prometheus counters for the HTTP surface and the
// case lifecycle. Recording methods are safe on a nil *Collector.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	NotificationsCreated *prometheus.CounterVec
	StatusChanges        *prometheus.CounterVec
	CodesAssigned        prometheus.Counter
	ReportsGenerated     *prometheus.CounterVec
	CacheLookups         *prometheus.CounterVec
}

// NewCollector registers every metric on a fresh registry that also carries
// the Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		NotificationsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cases",
			Name:      "notifications_created_total",
			Help:      "Notifications created, by initial status.",
		}, []string{"status"}),

		StatusChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cases",
			Name:      "status_changes_total",
			Help:      "Recorded status transitions, by origin and target status.",
		}, []string{"from", "to"}),

		CodesAssigned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cases",
			Name:      "codes_assigned_total",
			Help:      "Case codes drawn from the sequence.",
		}),

		ReportsGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reports",
			Name:      "case_count_total",
			Help:      "Case-count reports produced, by output format.",
		}, []string{"format"}),

		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Reference cache lookups by result (hit or miss).",
		}, []string{"result"}),
	}
}

// Registry returns the collector's registry.
func (m *Collector) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency by route template, so ids in
// paths do not explode label cardinality.
func (m *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.InFlightGauge.Inc()
			defer m.InFlightGauge.Dec()

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.RequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Collector) NotificationCreated(status string) {
	if m == nil {
		return
	}
	m.NotificationsCreated.WithLabelValues(status).Inc()
}

// StatusChanged counts one transition; from is "" for the creation entry.
func (m *Collector) StatusChanged(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.StatusChanges.WithLabelValues(from, to).Inc()
}

func (m *Collector) CodeAssigned() {
	if m == nil {
		return
	}
	m.CodesAssigned.Inc()
}

func (m *Collector) ReportGenerated(format string) {
	if m == nil {
		return
	}
	m.ReportsGenerated.WithLabelValues(format).Inc()
}

func (m *Collector) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}
