// Package metrics exposes Prometheus instrumentation for the API and the
// reminder pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors for a single process.
type Metrics struct {
	registry *prometheus.Registry

	TodosCreated   prometheus.Counter
	TodosCompleted prometheus.Counter
	TodosDeleted   prometheus.Counter
	RemindersSent  prometheus.Counter
	Errors         *prometheus.CounterVec
	ActiveUsers    prometheus.Gauge

	httpDuration *prometheus.HistogramVec
}

// New creates a metrics set on a fresh registry with the standard Go and
// process collectors attached.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		TodosCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "todos_created_total",
			Help: "Total number of todos created.",
		}),
		TodosCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "todos_completed_total",
			Help: "Total number of todos marked completed.",
		}),
		TodosDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "todos_deleted_total",
			Help: "Total number of todos deleted.",
		}),
		RemindersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_sent_total",
			Help: "Total number of due-date reminders delivered.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "app_errors_total",
			Help: "Total number of application errors by component.",
		}, []string{"component"}),
		ActiveUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_users",
			Help: "Number of users with task activity in the last 24 hours.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method, path pattern, and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TodosCreated,
		m.TodosCompleted,
		m.TodosDeleted,
		m.RemindersSent,
		m.Errors,
		m.ActiveUsers,
		m.httpDuration,
	)
	return m
}

// Handler returns the /metrics scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request duration labeled by the route pattern rather
// than the raw URL, so task IDs do not explode the label space.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		m.httpDuration.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}
