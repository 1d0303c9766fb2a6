// Package metrics defines the Prometheus instruments exported on /metrics.
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

var latencyBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// Metrics groups the resolver, cache, mutation and HTTP instruments.
// All methods are safe on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Resolutions       *prometheus.CounterVec
	ResolveDuration   prometheus.Histogram
	CacheLookups      *prometheus.CounterVec
	CacheErrors       *prometheus.CounterVec
	CacheFills        *prometheus.CounterVec
	CacheInvalidation *prometheus.CounterVec
	Mutations         *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New creates a Metrics instance registered on its own registry, together
// with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ctxconf_resolutions_total",
			Help: "Resolutions by winning context kind and outcome",
		}, []string{"source", "outcome"}),
		ResolveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ctxconf_resolve_duration_seconds",
			Help:    "Duration of effective configuration resolution",
			Buckets: latencyBuckets,
		}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ctxconf_cache_lookups_total",
			Help: "Cache lookups by result (hit or miss)",
		}, []string{"result"}),
		CacheErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ctxconf_cache_errors_total",
			Help: "Cache backend errors by operation; each one degrades to a miss",
		}, []string{"op"}),
		CacheFills: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ctxconf_cache_fills_total",
			Help: "Read-through fills by result (stored or discarded as stale)",
		}, []string{"result"}),
		CacheInvalidation: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ctxconf_cache_invalidations_total",
			Help: "Cache invalidations by scope (key or all) and origin (local or remote)",
		}, []string{"scope", "origin"}),
		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ctxconf_mutations_total",
			Help: "Configuration record mutations by operation and context kind",
		}, []string{"op", "kind"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ctxconf_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code",
		}, []string{"method", "route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ctxconf_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern",
			Buckets: latencyBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveResolve records one resolution. source is the winning kind, or
// "none" when the resolution failed.
func (m *Metrics) ObserveResolve(source, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(source, outcome).Inc()
	m.ResolveDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheLookups.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheLookups.WithLabelValues("miss").Inc()
	}
}

// CacheError counts a failed backend operation.
func (m *Metrics) CacheError(op string) {
	if m != nil {
		m.CacheErrors.WithLabelValues(op).Inc()
	}
}

// CacheFill records whether a read-through result was stored or dropped.
func (m *Metrics) CacheFill(stored bool) {
	if m == nil {
		return
	}
	result := "stored"
	if !stored {
		result = "stale"
	}
	m.CacheFills.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheInvalidated(scope, origin string) {
	if m != nil {
		m.CacheInvalidation.WithLabelValues(scope, origin).Inc()
	}
}

// Mutation counts a successful write to the store.
func (m *Metrics) Mutation(op, kind string) {
	if m != nil {
		m.Mutations.WithLabelValues(op, kind).Inc()
	}
}

// ObserveHTTP records one served request. route is the matched mux pattern
// so that path parameters do not explode label cardinality.
func (m *Metrics) ObserveHTTP(method, route string, code int, start time.Time) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
}
