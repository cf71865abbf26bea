// Package metrics exposes Prometheus counters for the archive pipeline and
// query service.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Item outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	itemsTotal          *prometheus.CounterVec
	queriesTotal        *prometheus.CounterVec
	queryDuration       *prometheus.HistogramVec
	queryMatches        *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpDurationSeconds *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg gets a fresh registry with
// the Go and process collectors.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := &Metrics{
		registry: reg,
		itemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "void_items_total",
				Help: "Pipeline items handled, by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		),
		queriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "void_queries_total",
				Help: "Archive queries, by kind and status.",
			},
			[]string{"kind", "status"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "void_query_duration_seconds",
				Help:    "Archive query latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		queryMatches: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "void_query_matches",
				Help:    "Observations returned per query.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"kind"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "void_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"path", "method", "code"},
		),
		httpDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "void_http_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
	}
	for _, c := range []prometheus.Collector{
		m.itemsTotal, m.queriesTotal, m.queryDuration, m.queryMatches,
		m.httpRequestsTotal, m.httpDurationSeconds,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordItem counts one pipeline item.
func (m *Metrics) RecordItem(stage, outcome string) {
	if m == nil {
		return
	}
	m.itemsTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveQuery records a finished archive query.
func (m *Metrics) ObserveQuery(kind string, d time.Duration, matches int, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.queriesTotal.WithLabelValues(kind, status).Inc()
	m.queryDuration.WithLabelValues(kind).Observe(d.Seconds())
	if err == nil {
		m.queryMatches.WithLabelValues(kind).Observe(float64(matches))
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets websocket upgrades pass through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration, labelled by route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		code := strconv.Itoa(rw.statusCode)
		m.httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		m.httpDurationSeconds.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
	})
}
