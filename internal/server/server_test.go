package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"instashim/internal/api"
	"instashim/internal/config"
	"instashim/internal/logging"
	"instashim/internal/metrics"
	"instashim/internal/network"
	"instashim/internal/server"
	"instashim/internal/shim"
	"instashim/internal/testsupport"
)

type fixture struct {
	cfg    *config.Config
	origin *testsupport.Origin
	worker *shim.Worker
	server *server.Server
	http   *httptest.Server
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	origin := testsupport.NewOrigin(t)
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithOrigin(origin.URL)}, opts...)...)
	storage := testsupport.MustOpenStorage(t, cfg)
	fetcher, err := network.NewHTTPFetcher(cfg.Server.Origin, nil, 5*time.Second)
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}
	m := metrics.New()
	worker, err := shim.NewFromConfig(cfg, storage, fetcher, logging.NewNop(), m)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	srv, err := server.New(cfg, worker, m, logging.NewNop())
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = worker.Wait(context.Background())
	})
	return &fixture{cfg: cfg, origin: origin, worker: worker, server: srv, http: ts}
}

func (f *fixture) do(t *testing.T, method, path string, header http.Header) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestServiceWorkerScript(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/sw.js", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if resp.Header.Get("Service-Worker-Allowed") != "/" || resp.Header.Get("Cache-Control") != "no-cache" {
		t.Fatalf("unexpected headers %v", resp.Header)
	}
	if !strings.Contains(body, f.worker.Manifest().CacheName()) {
		t.Fatal("script does not carry the cache name")
	}
	if f.origin.Calls("/sw.js") != 0 {
		t.Fatal("sw.js must not be proxied")
	}
}

func TestCachedAssetsServedAfterInstall(t *testing.T) {
	f := newFixture(t, testsupport.WithStrategy(config.StrategyCacheFirst))
	if _, err := f.worker.Reinstall(context.Background()); err != nil {
		t.Fatalf("Reinstall: %v", err)
	}
	f.origin.Reset()

	resp, body := f.do(t, http.MethodGet, "/static/style.css", nil)
	if resp.StatusCode != http.StatusOK || body != "body{}" {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}
	if f.origin.Total() != 0 {
		t.Fatalf("cached asset reached origin %d times", f.origin.Total())
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected generated request id")
	}

	resp, body = f.do(t, http.MethodGet, "/download?url=x", nil)
	if resp.StatusCode != http.StatusNotFound || f.origin.Calls("/download") != 1 {
		t.Fatalf("unlisted request not proxied: %d %q", resp.StatusCode, body)
	}
}

func TestAbsoluteFormRequestIsNotProxiedElsewhere(t *testing.T) {
	var internalHits atomic.Int32
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		internalHits.Add(1)
		_, _ = io.WriteString(w, "internal-secret")
	}))
	defer internal.Close()

	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, internal.URL+"/metadata", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if strings.Contains(rec.Body.String(), "internal-secret") {
		t.Fatalf("response came from a foreign host: %d %q", rec.Code, rec.Body.String())
	}
	if hits := internalHits.Load(); hits != 0 {
		t.Fatalf("foreign host contacted %d times", hits)
	}
	if rec.Code != http.StatusNotFound || f.origin.Calls("/metadata") != 1 {
		t.Fatalf("expected the origin to answer, got %d with %d origin calls", rec.Code, f.origin.Calls("/metadata"))
	}
}

func TestOriginDownReturnsBadGateway(t *testing.T) {
	f := newFixture(t)
	f.origin.Close()

	resp, body := f.do(t, http.MethodGet, "/", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var apiErr api.ErrorResponse
	if err := json.Unmarshal([]byte(body), &apiErr); err != nil || apiErr.Error == "" {
		t.Fatalf("expected JSON error body, got %q", body)
	}
}

func TestInstallEndpointRequiresToken(t *testing.T) {
	f := newFixture(t, testsupport.WithAPIToken("secret"))

	resp, _ := f.do(t, http.MethodPost, "/_shim/install", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPost, "/_shim/install", http.Header{"Authorization": {"Bearer wrong"}})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status with wrong token %d", resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodPost, "/_shim/install", http.Header{"Authorization": {"Bearer secret"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d body %s", resp.StatusCode, body)
	}
	var payload api.InstallResponse
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Entries != 4 || payload.CacheName != f.worker.Manifest().CacheName() {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestInstallEndpointReportsFailure(t *testing.T) {
	f := newFixture(t)
	f.origin.SetStatus("/static/manifest.json", http.StatusNotFound)

	resp, _ := f.do(t, http.MethodPost, "/_shim/install", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestStatusAndMetricsEndpoints(t *testing.T) {
	f := newFixture(t)
	if _, err := f.worker.Reinstall(context.Background()); err != nil {
		t.Fatalf("Reinstall: %v", err)
	}
	f.do(t, http.MethodGet, "/", nil)

	resp, body := f.do(t, http.MethodGet, "/_shim/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var status api.ServerStatus
	if err := json.Unmarshal([]byte(body), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Worker.State != string(shim.StateActivated) || status.Worker.Entries != 4 {
		t.Fatalf("unexpected worker status %+v", status.Worker)
	}
	if len(status.Dependencies) != 2 {
		t.Fatalf("expected manager and ffmpeg dependencies, got %+v", status.Dependencies)
	}

	_, body = f.do(t, http.MethodGet, "/_shim/metrics", nil)
	if !strings.Contains(body, `instashim_fetch_total{source="cache"} 1`) {
		t.Fatalf("metrics missing cache fetch:\n%s", body)
	}

	resp, _ = f.do(t, http.MethodGet, "/_shim/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
}

func TestIncomingRequestIDIsKept(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/_shim/healthz", http.Header{"X-Request-Id": {"abc-123"}})
	if got := resp.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("got request id %q", got)
	}
}

func TestStartHoldsLockAndInstalls(t *testing.T) {
	f := newFixture(t, testsupport.WithAPIToken("tok"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.server.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.server.Stop()

	second, err := server.New(f.cfg, f.worker, nil, logging.NewNop())
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	if err := second.Start(ctx); !errors.Is(err, server.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	client := api.NewClient("http://"+f.server.Addr(), "tok", nil)
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err := client.Status(ctx)
		if err != nil {
			t.Fatalf("client.Status: %v", err)
		}
		if status.Worker.State == string(shim.StateActivated) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker never activated: %+v", status.Worker)
		}
		time.Sleep(20 * time.Millisecond)
	}

	installed, err := client.Install(ctx)
	if err != nil {
		t.Fatalf("client.Install: %v", err)
	}
	if installed.Entries != 4 {
		t.Fatalf("unexpected install response %+v", installed)
	}
}
