package precache

import (
	"bytes"
	"errors"
	"net/url"
	"strings"
	"testing"

	"instashim/internal/config"
	"instashim/internal/network"
)

func TestCacheNameDerivedFromAssets(t *testing.T) {
	m, err := New("insta-downloader", "", config.DefaultAssets)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	name := m.CacheName()
	if !strings.HasPrefix(name, "insta-downloader-") {
		t.Fatalf("unexpected name %q", name)
	}
	if got := len(strings.TrimPrefix(name, "insta-downloader-")); got != nameDigestLength {
		t.Fatalf("expected %d digest chars, got %d (%q)", nameDigestLength, got, name)
	}
	if m.CacheName() != name {
		t.Fatal("cache name is not stable")
	}
}

func TestCacheNameIgnoresOrderButTracksContent(t *testing.T) {
	a, _ := New("p", "", []string{"/", "/a.css"})
	b, _ := New("p", "", []string{"/a.css", "/"})
	c, _ := New("p", "", []string{"/", "/a.css", "/b.js"})

	if a.CacheName() != b.CacheName() {
		t.Fatalf("reordering changed the name: %q vs %q", a.CacheName(), b.CacheName())
	}
	if a.CacheName() == c.CacheName() {
		t.Fatal("adding an asset must change the name")
	}
	if a.Digest() == c.Digest() {
		t.Fatal("adding an asset must change the digest")
	}
}

func TestExplicitNameWins(t *testing.T) {
	m, err := New("insta-downloader", "insta-downloader-v1", config.DefaultAssets)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.CacheName() != "insta-downloader-v1" {
		t.Fatalf("unexpected name %q", m.CacheName())
	}
	if !m.Owns("insta-downloader-v1") || !m.Owns("insta-downloader-abc") {
		t.Fatal("expected prefix family to be owned")
	}
	if m.Owns("other-app-v1") || m.Owns("insta-downloader") {
		t.Fatal("unrelated names must not be owned")
	}
}

func TestValidateRejectsBadAssets(t *testing.T) {
	tests := []struct {
		name   string
		assets []string
	}{
		{"empty", nil},
		{"duplicate", []string{"/", "/"}},
		{"relative", []string{"static/app.js"}},
		{"protocol relative", []string{"//cdn.example.com/app.js"}},
		{"ftp", []string{"ftp://example.com/app.js"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("p", "", tt.assets)
			if !errors.Is(err, ErrInvalidManifest) {
				t.Fatalf("expected ErrInvalidManifest, got %v", err)
			}
		})
	}
}

func TestResolveAgainstOrigin(t *testing.T) {
	m, err := New("p", "", []string{"/", "/static/style.css", "https://cdn.example.com/lib.js"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	base, _ := url.Parse("http://127.0.0.1:8000")
	urls, err := m.Resolve(base)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{
		"http://127.0.0.1:8000/",
		"http://127.0.0.1:8000/static/style.css",
		"https://cdn.example.com/lib.js",
	}
	for i, u := range urls {
		if u.String() != want[i] {
			t.Fatalf("url %d: got %q want %q", i, u.String(), want[i])
		}
	}
}

func TestRenderServiceWorker(t *testing.T) {
	m, err := New("insta-downloader", "", config.DefaultAssets)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var buf bytes.Buffer
	if err := m.RenderServiceWorker(&buf, WorkerOptions{Strategy: config.StrategyStaleWhileRevalidate, DeleteStale: true}); err != nil {
		t.Fatalf("RenderServiceWorker: %v", err)
	}
	script := buf.String()
	for _, want := range []string{
		`const CACHE_NAME = "` + m.CacheName() + `";`,
		`"/static/script.js"`,
		`const STRATEGY = "stale-while-revalidate";`,
		`const DELETE_STALE = true;`,
		"addEventListener('install'",
		"addEventListener('activate'",
		"addEventListener('fetch'",
		m.Digest().String(),
	} {
		if !strings.Contains(script, want) {
			t.Fatalf("rendered worker missing %q", want)
		}
	}
}

func TestResolveKeepsOriginPath(t *testing.T) {
	m, err := New("p", "", []string{"/", "/static/style.css", "https://cdn.example.com/lib.js"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	base, _ := url.Parse("http://app:8000/insta")
	urls, err := m.Resolve(base)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{
		"http://app:8000/insta/",
		"http://app:8000/insta/static/style.css",
		"https://cdn.example.com/lib.js",
	}
	for i, u := range urls {
		if u.String() != want[i] {
			t.Fatalf("url %d: got %q want %q", i, u.String(), want[i])
		}
		if i < 2 && u.String() != network.OriginURL(base, &url.URL{Path: m.Assets[i]}).String() {
			t.Fatalf("url %d does not match the served request key", i)
		}
	}
}
