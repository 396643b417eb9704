// Package metrics exposes Prometheus collectors for the cache shim.
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

// Fetch sources.
const (
	SourceCache   = "cache"
	SourceNetwork = "network"
	SourceBypass  = "bypass"
)

// Outcome labels shared by install and revalidation counters.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// Metrics owns a dedicated registry so tests and multiple servers never
// collide on the global default registry.
type Metrics struct {
	registry *prometheus.Registry

	FetchTotal          *prometheus.CounterVec
	FetchErrors         prometheus.Counter
	RevalidationsTotal  *prometheus.CounterVec
	InstallTotal        *prometheus.CounterVec
	InstallDuration     prometheus.Histogram
	CacheEntries        prometheus.Gauge
	CachesDeleted       prometheus.Counter
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, plus the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "instashim_fetch_total",
			Help: "Requests answered by the shim, by source.",
		}, []string{"source"}),
		FetchErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "instashim_fetch_errors_total",
			Help: "Network fetches that failed before a response was received.",
		}),
		RevalidationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "instashim_revalidations_total",
			Help: "Background refreshes of cached entries, by result.",
		}, []string{"result"}),
		InstallTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "instashim_install_total",
			Help: "Precache installs, by result.",
		}, []string{"result"}),
		InstallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "instashim_install_duration_seconds",
			Help:    "Time taken to fetch and store the precache list.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "instashim_cache_entries",
			Help: "Entries in the current cache.",
		}),
		CachesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "instashim_caches_deleted_total",
			Help: "Stale caches removed during activation.",
		}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "instashim_http_requests_total",
			Help: "HTTP requests served, by method and status.",
		}, []string{"method", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "instashim_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// The Observe helpers are nil-safe so callers can run without metrics.

// ObserveFetch counts a request answered from source.
func (m *Metrics) ObserveFetch(source string) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(source).Inc()
}

// ObserveFetchError counts a failed network fetch.
func (m *Metrics) ObserveFetchError() {
	if m == nil {
		return
	}
	m.FetchErrors.Inc()
}

// ObserveRevalidation counts a background refresh.
func (m *Metrics) ObserveRevalidation(result string) {
	if m == nil {
		return
	}
	m.RevalidationsTotal.WithLabelValues(result).Inc()
}

// ObserveInstall records an install attempt.
func (m *Metrics) ObserveInstall(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.InstallTotal.WithLabelValues(result).Inc()
	m.InstallDuration.Observe(elapsed.Seconds())
}

// SetCacheEntries reports the current cache size.
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

// ObserveCachesDeleted adds n removed caches.
func (m *Metrics) ObserveCachesDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CachesDeleted.Add(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// Middleware records request counts and durations. Requests for skipPath are
// passed through untouched.
func (m *Metrics) Middleware(skipPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == skipPath {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		})
	}
}
