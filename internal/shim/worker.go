package shim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"instashim/internal/cachestore"
	"instashim/internal/config"
	"instashim/internal/logging"
	"instashim/internal/metrics"
	"instashim/internal/network"
	"instashim/internal/notifications"
	"instashim/internal/precache"
)

const (
	defaultConcurrency  = 4
	defaultFetchTimeout = 30 * time.Second
)

// Options configures a Worker.
type Options struct {
	Manifest       *precache.Manifest
	Storage        *cachestore.Storage
	Fetcher        network.Fetcher
	Origin         *url.URL
	Strategy       Strategy
	DeleteStale    bool
	Concurrency    int
	InstallTimeout time.Duration
	FetchTimeout   time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	// Notifier receives install outcomes; nil disables alerts.
	Notifier notifications.Service
}

// Worker is the server-side equivalent of the offline service worker.
type Worker struct {
	manifest       *precache.Manifest
	storage        *cachestore.Storage
	fetcher        network.Fetcher
	origin         *url.URL
	strategy       Strategy
	deleteStale    bool
	concurrency    int
	installTimeout time.Duration
	fetchTimeout   time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	notifier       notifications.Service

	lifecycle sync.Mutex // serializes Install and Activate

	mu          sync.RWMutex
	state       State
	installed   *cachestore.Cache
	active      *cachestore.Cache
	lastErr     error
	installedAt time.Time
	activatedAt time.Time

	refresh singleflight.Group
	pending sync.WaitGroup
}

// New validates opts and returns a worker in the parsed state.
func New(opts Options) (*Worker, error) {
	if opts.Manifest == nil {
		return nil, Wrap(ErrConfiguration, "new worker", "manifest is required", nil)
	}
	if opts.Storage == nil {
		return nil, Wrap(ErrConfiguration, "new worker", "storage is required", nil)
	}
	if opts.Fetcher == nil {
		return nil, Wrap(ErrConfiguration, "new worker", "fetcher is required", nil)
	}
	if opts.Origin == nil || !opts.Origin.IsAbs() {
		return nil, Wrap(ErrConfiguration, "new worker", "absolute origin URL is required", nil)
	}
	strategy, err := ParseStrategy(string(opts.Strategy))
	if err != nil {
		return nil, err
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	fetchTimeout := opts.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	origin := *opts.Origin
	return &Worker{
		manifest:       opts.Manifest,
		storage:        opts.Storage,
		fetcher:        opts.Fetcher,
		origin:         &origin,
		strategy:       strategy,
		deleteStale:    opts.DeleteStale,
		concurrency:    concurrency,
		installTimeout: opts.InstallTimeout,
		fetchTimeout:   fetchTimeout,
		logger:         logging.NewComponentLogger(opts.Logger, "shim"),
		metrics:        opts.Metrics,
		notifier:       opts.Notifier,
		state:          StateParsed,
	}, nil
}

// NewFromConfig wires a worker from the [cache], [server] and
// [notifications] sections.
func NewFromConfig(cfg *config.Config, storage *cachestore.Storage, fetcher network.Fetcher, logger *slog.Logger, m *metrics.Metrics) (*Worker, error) {
	if cfg == nil {
		return nil, Wrap(ErrConfiguration, "new worker", "config is required", nil)
	}
	manifest, err := precache.FromConfig(cfg)
	if err != nil {
		return nil, Wrap(ErrConfiguration, "new worker", "manifest", err)
	}
	origin, err := url.Parse(cfg.Server.Origin)
	if err != nil {
		return nil, Wrap(ErrConfiguration, "new worker", "origin", err)
	}
	return New(Options{
		Manifest:       manifest,
		Storage:        storage,
		Fetcher:        fetcher,
		Origin:         origin,
		Strategy:       Strategy(cfg.Cache.Strategy),
		DeleteStale:    cfg.Cache.DeleteStale,
		Concurrency:    cfg.Cache.InstallConcurrency,
		InstallTimeout: cfg.InstallTimeout(),
		FetchTimeout:   cfg.FetchTimeout(),
		Logger:         logger,
		Metrics:        m,
		Notifier:       notifications.NewService(cfg),
	})
}

// Manifest returns the precache manifest.
func (w *Worker) Manifest() *precache.Manifest {
	return w.manifest
}

// Strategy returns the configured fetch strategy.
func (w *Worker) Strategy() Strategy {
	return w.strategy
}

// DeleteStale reports whether activation removes old caches.
func (w *Worker) DeleteStale() bool {
	return w.deleteStale
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

// Install opens the named cache, fetches every precache URL concurrently and
// stores the responses in one transaction. Any failed fetch or non-OK status
// aborts the install without writing anything and leaves the worker
// redundant.
func (w *Worker) Install(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	if w.installTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.installTimeout)
		defer cancel()
	}
	logger := logging.WithContext(ctx, w.logger)
	cacheName := w.manifest.CacheName()
	w.setState(StateInstalling)
	start := time.Now()

	logger.Info("install started",
		logging.String(logging.FieldEventType, "install_started"),
		logging.String(logging.FieldCacheName, cacheName),
		logging.Int("assets", len(w.manifest.Assets)),
	)

	urls, err := w.manifest.Resolve(w.origin)
	if err != nil {
		return w.failInstall(logger, start, Wrap(ErrInstallFailed, "install", "resolve assets", err))
	}

	cache, err := w.storage.Open(ctx, cacheName)
	if err != nil {
		return w.failInstall(logger, start, Wrap(ErrInstallFailed, "install", "open cache", err))
	}

	entries := make([]cachestore.Entry, len(urls))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(w.concurrency)
	for i, target := range urls {
		group.Go(func() error {
			resp, err := w.fetcher.Fetch(groupCtx, network.NewGet(groupCtx, target))
			if err != nil {
				return fmt.Errorf("fetch %s: %w", target, err)
			}
			if !resp.OK() {
				return fmt.Errorf("fetch %s: unexpected status %d", target, resp.Status)
			}
			entries[i] = entryFromResponse(cacheName, target.String(), resp)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return w.failInstall(logger, start, Wrap(ErrInstallFailed, "install", "precache", err))
	}

	if err := cache.PutAll(ctx, entries); err != nil {
		return w.failInstall(logger, start, Wrap(ErrInstallFailed, "install", "store responses", err))
	}

	w.mu.Lock()
	w.state = StateInstalled
	w.installed = cache
	w.lastErr = nil
	w.installedAt = time.Now().UTC()
	w.mu.Unlock()

	elapsed := time.Since(start)
	w.metrics.ObserveInstall(metrics.ResultSuccess, elapsed)
	logger.Info("install completed",
		logging.String(logging.FieldEventType, "install_completed"),
		logging.String(logging.FieldCacheName, cacheName),
		logging.Int("entries", len(entries)),
		logging.Duration("duration", elapsed),
	)
	return nil
}

func (w *Worker) failInstall(logger *slog.Logger, start time.Time, err error) error {
	w.mu.Lock()
	w.state = StateRedundant
	w.installed = nil
	w.lastErr = err
	w.mu.Unlock()
	w.metrics.ObserveInstall(metrics.ResultFailure, time.Since(start))
	logger.Debug("install failed", logging.Error(err))
	return err
}

// Activate promotes the installed cache. When stale deletion is enabled,
// every other cache sharing the manifest prefix is removed; the names of the
// deleted caches are returned.
func (w *Worker) Activate(ctx context.Context) ([]string, error) {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	w.mu.RLock()
	installed := w.installed
	state := w.state
	w.mu.RUnlock()
	if installed == nil || state != StateInstalled {
		return nil, Wrap(ErrNotInstalled, "activate", fmt.Sprintf("worker is %s", state), nil)
	}

	logger := logging.WithContext(ctx, w.logger)
	w.setState(StateActivating)

	var deleted []string
	if w.deleteStale {
		names, err := w.storage.Keys(ctx)
		if err != nil {
			w.setState(StateInstalled)
			return nil, fmt.Errorf("activate: list caches: %w", err)
		}
		for _, name := range names {
			if name == installed.Name() || !w.manifest.Owns(name) {
				continue
			}
			removed, err := w.storage.Delete(ctx, name)
			if err != nil {
				w.setState(StateInstalled)
				return deleted, fmt.Errorf("activate: delete cache %q: %w", name, err)
			}
			if removed {
				deleted = append(deleted, name)
			}
		}
	}

	w.mu.Lock()
	w.active = installed
	w.state = StateActivated
	w.activatedAt = time.Now().UTC()
	w.mu.Unlock()

	w.metrics.ObserveCachesDeleted(len(deleted))
	if count, err := installed.Count(ctx); err == nil {
		w.metrics.SetCacheEntries(count)
	}
	logger.Info("cache activated",
		logging.String(logging.FieldEventType, "cache_activated"),
		logging.String(logging.FieldCacheName, installed.Name()),
		logging.Int("stale_deleted", len(deleted)),
	)
	return deleted, nil
}

// Reinstall runs Install followed by Activate and publishes the outcome.
func (w *Worker) Reinstall(ctx context.Context) ([]string, error) {
	if err := w.Install(ctx); err != nil {
		w.notify(ctx, notifications.EventInstallFailed, notifications.Payload{
			"cacheName": w.manifest.CacheName(),
			"error":     err,
		})
		return nil, err
	}
	deleted, err := w.Activate(ctx)
	if err != nil {
		return nil, err
	}
	entries := 0
	if cache := w.activeCache(); cache != nil {
		entries, _ = cache.Count(ctx)
	}
	w.notify(ctx, notifications.EventCacheActivated, notifications.Payload{
		"cacheName": w.manifest.CacheName(),
		"entries":   entries,
		"deleted":   deleted,
	})
	return deleted, nil
}

func (w *Worker) activeCache() *cachestore.Cache {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active
}

func (w *Worker) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, w.logger), "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.String(logging.FieldImpact, "operators were not alerted"),
		)
	}
}

// Start performs the install and activate sequence. Failures are logged and
// leave the worker passing every request to the network.
func (w *Worker) Start(ctx context.Context) {
	if _, err := w.Reinstall(ctx); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, w.logger), "offline cache unavailable", "install_failed",
			logging.String(logging.FieldCacheName, w.manifest.CacheName()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the origin serves every precache asset with a 2xx status"),
			logging.String(logging.FieldImpact, "requests are proxied to the origin without offline support"),
		)
	}
}

// Fetch answers req. Non-GET requests and requests arriving before
// activation go to the network. Cache hits are served from the active cache;
// misses are fetched from the network and returned unchanged without being
// stored.
func (w *Worker) Fetch(ctx context.Context, req *http.Request) (*network.Response, Source, error) {
	target := network.OriginURL(w.origin, req.URL)
	outbound := network.Clone(ctx, req, target)

	if req.Method != http.MethodGet {
		w.metrics.ObserveFetch(metrics.SourceBypass)
		resp, err := w.network(ctx, outbound)
		return resp, SourceBypass, err
	}

	if active := w.activeCache(); active != nil {
		entry, ok, err := active.Match(ctx, outbound)
		if err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, w.logger), "cache lookup failed", "cache_lookup_failed",
				logging.String(logging.FieldURL, target.String()),
				logging.Error(err),
				logging.String(logging.FieldImpact, "request served from the network"),
			)
		}
		if ok {
			if w.strategy == StrategyStaleWhileRevalidate {
				w.revalidate(ctx, active, target)
			}
			w.metrics.ObserveFetch(metrics.SourceCache)
			return responseFromEntry(entry), SourceCache, nil
		}
	}

	w.metrics.ObserveFetch(metrics.SourceNetwork)
	resp, err := w.network(ctx, outbound)
	return resp, SourceNetwork, err
}

func (w *Worker) network(ctx context.Context, req *http.Request) (*network.Response, error) {
	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		w.metrics.ObserveFetchError()
	}
	return resp, err
}

// revalidate refreshes target in the background. Concurrent refreshes of one
// URL share a single origin request.
func (w *Worker) revalidate(ctx context.Context, cache *cachestore.Cache, target *url.URL) {
	key := target.String()
	base := context.WithoutCancel(ctx)
	w.pending.Add(1)
	done := w.refresh.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(base, w.fetchTimeout)
		defer cancel()
		logger := logging.WithContext(base, w.logger)

		resp, err := w.fetcher.Fetch(fetchCtx, network.NewGet(fetchCtx, target))
		if err != nil {
			w.metrics.ObserveRevalidation(metrics.ResultFailure)
			logging.WarnWithContext(logger, "revalidation failed", "revalidate_failed",
				logging.String(logging.FieldURL, key),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check origin availability"),
				logging.String(logging.FieldImpact, "cached copy kept"),
			)
			return nil, err
		}
		if !resp.OK() {
			w.metrics.ObserveRevalidation(metrics.ResultSkipped)
			logger.Debug("revalidation skipped",
				logging.String(logging.FieldURL, key),
				logging.Int("status", resp.Status),
			)
			return nil, nil
		}
		if err := cache.Put(fetchCtx, entryFromResponse(cache.Name(), key, resp)); err != nil {
			w.metrics.ObserveRevalidation(metrics.ResultFailure)
			logging.WarnWithContext(logger, "revalidation store failed", "revalidate_store_failed",
				logging.String(logging.FieldURL, key),
				logging.Error(err),
				logging.String(logging.FieldImpact, "cached copy kept"),
			)
			return nil, err
		}
		w.metrics.ObserveRevalidation(metrics.ResultSuccess)
		logger.Debug("revalidated", logging.String(logging.FieldURL, key))
		return nil, nil
	})
	go func() {
		defer w.pending.Done()
		<-done
	}()
}

// Wait blocks until background revalidations finish or ctx is done.
func (w *Worker) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		w.pending.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status is a snapshot of the worker for status endpoints and the CLI.
type Status struct {
	State       State
	CacheName   string
	ActiveCache string
	Digest      string
	Strategy    Strategy
	DeleteStale bool
	Assets      []string
	Entries     int
	LastError   string
	InstalledAt time.Time
	ActivatedAt time.Time
}

// Status reports the lifecycle state and current cache contents.
func (w *Worker) Status(ctx context.Context) Status {
	w.mu.RLock()
	status := Status{
		State:       w.state,
		CacheName:   w.manifest.CacheName(),
		Digest:      w.manifest.Digest().String(),
		Strategy:    w.strategy,
		DeleteStale: w.deleteStale,
		Assets:      append([]string(nil), w.manifest.Assets...),
		InstalledAt: w.installedAt,
		ActivatedAt: w.activatedAt,
	}
	active := w.active
	if w.lastErr != nil {
		status.LastError = w.lastErr.Error()
	}
	w.mu.RUnlock()

	if active != nil {
		status.ActiveCache = active.Name()
		if count, err := active.Count(ctx); err == nil {
			status.Entries = count
		} else if !errors.Is(err, context.Canceled) {
			w.logger.Debug("count entries failed", logging.Error(err))
		}
	}
	return status
}

func entryFromResponse(cacheName, key string, resp *network.Response) cachestore.Entry {
	return cachestore.Entry{
		CacheName: cacheName,
		Method:    http.MethodGet,
		URL:       key,
		Status:    resp.Status,
		Header:    resp.Header.Clone(),
		Body:      resp.Body,
	}
}

func responseFromEntry(entry *cachestore.Entry) *network.Response {
	return &network.Response{
		Status: entry.Status,
		Header: entry.Header.Clone(),
		Body:   entry.Body,
	}
}
