package cachestore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	storage, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func TestOpenCacheIsIdempotent(t *testing.T) {
	storage := openTestStorage(t)
	ctx := context.Background()

	first, err := storage.Open(ctx, "insta-downloader-v1")
	if err != nil {
		t.Fatalf("Open cache: %v", err)
	}
	second, err := storage.Open(ctx, "insta-downloader-v1")
	if err != nil {
		t.Fatalf("reopen cache: %v", err)
	}
	if first.id != second.id {
		t.Fatalf("expected same cache id, got %d and %d", first.id, second.id)
	}
	keys, err := storage.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "insta-downloader-v1" {
		t.Fatalf("unexpected cache names %v", keys)
	}
}

func TestPutReplacesEntry(t *testing.T) {
	storage := openTestStorage(t)
	ctx := context.Background()
	cache, err := storage.Open(ctx, "c")
	if err != nil {
		t.Fatalf("Open cache: %v", err)
	}

	url := "http://origin.test/static/style.css"
	if err := cache.Put(ctx, Entry{URL: url, Body: []byte("old"), Header: http.Header{"Content-Type": {"text/css"}}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cache.Put(ctx, Entry{URL: url + "#frag", Body: []byte("new"), Header: http.Header{"Content-Type": {"text/css"}}}); err != nil {
		t.Fatalf("Put again: %v", err)
	}

	count, err := cache.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 entry, got %d", count)
	}

	entry, ok, err := cache.Match(ctx, httptest.NewRequest(http.MethodGet, url, nil))
	if err != nil || !ok {
		t.Fatalf("Match: ok=%v err=%v", ok, err)
	}
	if string(entry.Body) != "new" {
		t.Fatalf("got body %q, want %q", entry.Body, "new")
	}
	if entry.Header.Get("Content-Type") != "text/css" {
		t.Fatalf("header not preserved: %v", entry.Header)
	}
	if entry.CacheName != "c" || entry.Status != http.StatusOK {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestMatchIgnoresNonGet(t *testing.T) {
	storage := openTestStorage(t)
	ctx := context.Background()
	cache, _ := storage.Open(ctx, "c")
	url := "http://origin.test/"
	if err := cache.Put(ctx, Entry{URL: url, Body: []byte("home")}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, ok, err := cache.Match(ctx, httptest.NewRequest(http.MethodPost, url, nil)); err != nil || ok {
		t.Fatalf("POST must not match: ok=%v err=%v", ok, err)
	}
	if _, ok, err := cache.Match(ctx, httptest.NewRequest(http.MethodGet, "http://origin.test/other", nil)); err != nil || ok {
		t.Fatalf("unlisted URL must miss: ok=%v err=%v", ok, err)
	}
}

func TestRelativeRequestUsesHost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/static/script.js", nil)
	req.Host = "origin.test"
	method, key := RequestKey(req)
	if method != http.MethodGet || key != "http://origin.test/static/script.js" {
		t.Fatalf("got %s %s", method, key)
	}
}

func TestPutAllIsAtomic(t *testing.T) {
	storage := openTestStorage(t)
	ctx := context.Background()
	cache, _ := storage.Open(ctx, "c")

	err := cache.PutAll(ctx, []Entry{
		{URL: "http://origin.test/a"},
		{URL: "   "},
	})
	if err == nil {
		t.Fatal("expected error for empty url")
	}
	count, _ := cache.Count(ctx)
	if count != 0 {
		t.Fatalf("expected no entries after failed batch, got %d", count)
	}

	if err := cache.PutAll(ctx, []Entry{
		{URL: "http://origin.test/a", Body: []byte("aa")},
		{URL: "http://origin.test/b", Body: []byte("bbb")},
	}); err != nil {
		t.Fatalf("PutAll: %v", err)
	}
	size, err := cache.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 5 {
		t.Fatalf("got size %d, want 5", size)
	}
	keys, _ := cache.Keys(ctx)
	if len(keys) != 2 || keys[0] != "http://origin.test/a" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestDeleteCacheLeavesOthers(t *testing.T) {
	storage := openTestStorage(t)
	ctx := context.Background()
	oldCache, _ := storage.Open(ctx, "app-old")
	newCache, _ := storage.Open(ctx, "app-new")
	url := "http://origin.test/"
	_ = oldCache.Put(ctx, Entry{URL: url, Body: []byte("old")})
	_ = newCache.Put(ctx, Entry{URL: url, Body: []byte("new")})

	entry, ok, err := storage.Match(ctx, httptest.NewRequest(http.MethodGet, url, nil))
	if err != nil || !ok {
		t.Fatalf("storage Match: ok=%v err=%v", ok, err)
	}
	if entry.CacheName != "app-old" {
		t.Fatalf("expected first-created cache to win, got %q", entry.CacheName)
	}

	deleted, err := storage.Delete(ctx, "app-old")
	if err != nil || !deleted {
		t.Fatalf("Delete: deleted=%v err=%v", deleted, err)
	}
	deleted, err = storage.Delete(ctx, "app-old")
	if err != nil || deleted {
		t.Fatalf("second Delete: deleted=%v err=%v", deleted, err)
	}
	if has, _ := storage.Has(ctx, "app-old"); has {
		t.Fatal("deleted cache still listed")
	}

	entry, ok, err = newCache.Match(ctx, httptest.NewRequest(http.MethodGet, url, nil))
	if err != nil || !ok || string(entry.Body) != "new" {
		t.Fatalf("surviving cache affected: ok=%v err=%v entry=%+v", ok, err, entry)
	}
	if _, err := storage.Lookup(ctx, "app-old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCacheDeleteEntry(t *testing.T) {
	storage := openTestStorage(t)
	ctx := context.Background()
	cache, _ := storage.Open(ctx, "c")
	url := "http://origin.test/static/manifest.json"
	_ = cache.Put(ctx, Entry{URL: url})

	removed, err := cache.Delete(ctx, httptest.NewRequest(http.MethodGet, url, nil))
	if err != nil || !removed {
		t.Fatalf("Delete: removed=%v err=%v", removed, err)
	}
	stats, err := storage.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 1 || stats[0].Entries != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	storage, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := storage.db.Exec(`UPDATE schema_version SET version = 99`); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = storage.Close()

	if _, err := Open(path); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
