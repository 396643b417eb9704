package network

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestFetchRewritesToOrigin(t *testing.T) {
	var gotPath, gotQuery, gotConnHeader, gotForwarded string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotConnHeader = r.Header.Get("X-Hop")
		gotForwarded = r.Header.Get("X-Forwarded-Host")
		w.Header().Set("Content-Type", "text/css")
		w.Header().Set("Keep-Alive", "timeout=5")
		_, _ = io.WriteString(w, "body{}")
	}))
	defer origin.Close()

	fetcher, err := NewHTTPFetcher(origin.URL+"/", nil, 5*time.Second)
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/static/style.css?v=2", nil)
	req.Host = "shim.local:5000"
	req.Header.Set("Connection", "X-Hop")
	req.Header.Set("X-Hop", "drop-me")

	resp, err := fetcher.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !resp.OK() || string(resp.Body) != "body{}" {
		t.Fatalf("unexpected response %d %q", resp.Status, resp.Body)
	}
	if gotPath != "/static/style.css" || gotQuery != "v=2" {
		t.Fatalf("origin saw %s?%s", gotPath, gotQuery)
	}
	if gotConnHeader != "" {
		t.Fatalf("connection-named header forwarded: %q", gotConnHeader)
	}
	if gotForwarded != "shim.local:5000" {
		t.Fatalf("got X-Forwarded-Host %q", gotForwarded)
	}
	if resp.Header.Get("Keep-Alive") != "" {
		t.Fatal("hop-by-hop response header kept")
	}
	if resp.Header.Get("Content-Type") != "text/css" {
		t.Fatalf("content type lost: %v", resp.Header)
	}
}

func TestFetchReturnsNonOKUnchanged(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer origin.Close()

	fetcher, _ := NewHTTPFetcher(origin.URL, nil, time.Second)
	resp, err := fetcher.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/missing", nil))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if resp.OK() || resp.Status != http.StatusNotFound {
		t.Fatalf("got status %d", resp.Status)
	}
}

type failingDoer struct{ err error }

func (d failingDoer) Do(*http.Request) (*http.Response, error) { return nil, d.err }

func TestFetchPropagatesTransportError(t *testing.T) {
	sentinel := errors.New("connection refused")
	fetcher, err := NewHTTPFetcher("http://127.0.0.1:1", failingDoer{err: sentinel}, time.Second)
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}
	_, err = fetcher.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestFetchForwardsBody(t *testing.T) {
	var got string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		got = r.Method + " " + string(data)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer origin.Close()

	fetcher, _ := NewHTTPFetcher(origin.URL, nil, time.Second)
	req := httptest.NewRequest(http.MethodPost, "/download", strings.NewReader("url=https://instagram.com/p/x"))
	resp, err := fetcher.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if resp.Status != http.StatusAccepted || got != "POST url=https://instagram.com/p/x" {
		t.Fatalf("status %d, origin saw %q", resp.Status, got)
	}
}

func TestNewHTTPFetcherRejectsBadOrigin(t *testing.T) {
	for _, origin := range []string{"", "ftp://example.com", "/relative"} {
		if _, err := NewHTTPFetcher(origin, nil, time.Second); err == nil {
			t.Fatalf("expected error for %q", origin)
		}
	}
}

func TestWriteToDefaultsStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	(&Response{Header: http.Header{"X-A": {"1"}}, Body: []byte("hi")}).WriteTo(rec)
	if rec.Code != http.StatusOK || rec.Body.String() != "hi" || rec.Header().Get("X-A") != "1" {
		t.Fatalf("unexpected recorder %d %q %v", rec.Code, rec.Body.String(), rec.Header())
	}
}

func TestOriginURLDropsForeignHost(t *testing.T) {
	base, _ := url.Parse("http://origin:8000/app")
	tests := []struct {
		target string
		want   string
	}{
		{"/static/style.css?v=2", "http://origin:8000/app/static/style.css?v=2"},
		{"http://169.254.169.254/latest/meta-data", "http://origin:8000/app/latest/meta-data"},
		{"/", "http://origin:8000/app/"},
	}
	for _, tt := range tests {
		target, err := url.Parse(tt.target)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.target, err)
		}
		if got := OriginURL(base, target).String(); got != tt.want {
			t.Fatalf("OriginURL(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}
