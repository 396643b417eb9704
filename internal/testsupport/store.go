package testsupport

import (
	"testing"

	"instashim/internal/cachestore"
	"instashim/internal/config"
)

// MustOpenStorage opens the cache database named by cfg and registers cleanup.
func MustOpenStorage(t testing.TB, cfg *config.Config) *cachestore.Storage {
	t.Helper()

	storage, err := cachestore.Open(cfg.Cache.DBPath)
	if err != nil {
		t.Fatalf("cachestore.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = storage.Close()
	})
	return storage
}
