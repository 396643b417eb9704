package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveHelpers(t *testing.T) {
	m := New()
	m.ObserveFetch(SourceCache)
	m.ObserveFetch(SourceCache)
	m.ObserveFetch(SourceNetwork)
	m.ObserveInstall(ResultSuccess, 150*time.Millisecond)
	m.ObserveCachesDeleted(2)
	m.SetCacheEntries(4)

	if got := testutil.ToFloat64(m.FetchTotal.WithLabelValues(SourceCache)); got != 2 {
		t.Fatalf("cache fetches = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CachesDeleted); got != 2 {
		t.Fatalf("caches deleted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CacheEntries); got != 4 {
		t.Fatalf("cache entries = %v, want 4", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveFetch(SourceBypass)
	m.ObserveFetchError()
	m.ObserveRevalidation(ResultFailure)
	m.ObserveInstall(ResultFailure, time.Second)
	m.SetCacheEntries(1)
	m.ObserveCachesDeleted(1)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	if m.Middleware("/metrics")(next) == nil {
		t.Fatal("expected passthrough handler")
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	handler := m.Middleware("/_shim/metrics")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_shim/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`instashim_http_requests_total{method="GET",status="418"} 1`,
		"instashim_install_duration_seconds",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("exposition missing %q", want)
		}
	}
}
