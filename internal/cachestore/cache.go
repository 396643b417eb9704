package cachestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned when a named cache does not exist.
var ErrNotFound = errors.New("cache not found")

// Entry is one stored response, keyed by request method and absolute URL.
type Entry struct {
	CacheName string
	Method    string
	URL       string
	Status    int
	Header    http.Header
	Body      []byte
	StoredAt  time.Time
}

// CacheStat summarizes one named cache.
type CacheStat struct {
	Name      string
	Entries   int
	Bytes     int64
	CreatedAt time.Time
}

// Cache is a handle to a single named cache.
type Cache struct {
	storage *Storage
	id      int64
	name    string
}

// Name returns the cache name.
func (c *Cache) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// RequestKey returns the method and URL under which req is stored. Relative
// request URLs are made absolute using the Host header; fragments are dropped.
func RequestKey(req *http.Request) (string, string) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	return method, keyURL(req)
}

func keyURL(req *http.Request) string {
	if req.URL == nil {
		return ""
	}
	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""
	if !u.IsAbs() {
		u.Scheme = "http"
		if req.TLS != nil {
			u.Scheme = "https"
		}
		u.Host = req.Host
	}
	return u.String()
}

// NormalizeURL strips the fragment from raw so lookups and writes agree on keys.
func NormalizeURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""
	return parsed.String(), nil
}

// Open returns the cache called name, creating it if needed.
func (s *Storage) Open(ctx context.Context, name string) (*Cache, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage is not configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("cache name is required")
	}
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO caches (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
			name, time.Now().UTC().UnixMilli(),
		); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT id FROM caches WHERE name = ?`, name).Scan(&id)
	})
	if err != nil {
		return nil, fmt.Errorf("open cache %q: %w", name, err)
	}
	return &Cache{storage: s, id: id, name: name}, nil
}

// Lookup returns an existing cache without creating it.
func (s *Storage) Lookup(ctx context.Context, name string) (*Cache, error) {
	var id int64
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT id FROM caches WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup cache %q: %w", name, err)
	}
	return &Cache{storage: s, id: id, name: name}, nil
}

// Has reports whether a cache called name exists.
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ensureContext(ctx), `SELECT COUNT(1) FROM caches WHERE name = ?`, name).Scan(&count); err != nil {
		return false, fmt.Errorf("check cache %q: %w", name, err)
	}
	return count > 0, nil
}

// Keys lists cache names in creation order.
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT name FROM caches ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan cache name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete removes the named cache and its entries. It reports whether the
// cache existed.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		deleted = false
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM caches WHERE name = ?`, name).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE cache_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM caches WHERE id = ?`, id); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete cache %q: %w", name, err)
	}
	return deleted, nil
}

// Match searches every cache in creation order and returns the first entry
// stored for req.
func (s *Storage) Match(ctx context.Context, req *http.Request) (*Entry, bool, error) {
	method, key := RequestKey(req)
	if method != http.MethodGet {
		return nil, false, nil
	}
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT c.name, e.method, e.url, e.status, e.header, e.body, e.stored_at
		 FROM entries e JOIN caches c ON c.id = e.cache_id
		 WHERE e.method = ? AND e.url = ?
		 ORDER BY c.id
		 LIMIT 1`,
		method, key,
	)
	return scanEntry(row)
}

// Stats summarizes every cache in creation order.
func (s *Storage) Stats(ctx context.Context) ([]CacheStat, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT c.name, c.created_at, COUNT(e.url), COALESCE(SUM(LENGTH(e.body)), 0)
		 FROM caches c LEFT JOIN entries e ON e.cache_id = c.id
		 GROUP BY c.id
		 ORDER BY c.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}
	defer rows.Close()

	var stats []CacheStat
	for rows.Next() {
		var (
			stat      CacheStat
			createdAt int64
		)
		if err := rows.Scan(&stat.Name, &createdAt, &stat.Entries, &stat.Bytes); err != nil {
			return nil, fmt.Errorf("scan cache stats: %w", err)
		}
		stat.CreatedAt = time.UnixMilli(createdAt).UTC()
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// Match returns the entry stored for req. Only GET requests can match; a
// miss is (nil, false, nil).
func (c *Cache) Match(ctx context.Context, req *http.Request) (*Entry, bool, error) {
	method, key := RequestKey(req)
	if method != http.MethodGet {
		return nil, false, nil
	}
	row := c.storage.db.QueryRowContext(ensureContext(ctx),
		`SELECT ?, method, url, status, header, body, stored_at
		 FROM entries
		 WHERE cache_id = ? AND method = ? AND url = ?`,
		c.name, c.id, method, key,
	)
	return scanEntry(row)
}

// Put stores entry, replacing any existing entry with the same key.
func (c *Cache) Put(ctx context.Context, entry Entry) error {
	return c.PutAll(ctx, []Entry{entry})
}

// PutAll stores every entry in a single transaction. Either all entries are
// written or none are.
func (c *Cache) PutAll(ctx context.Context, entries []Entry) error {
	if c == nil || c.storage == nil {
		return errors.New("storage is not configured")
	}
	prepared := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		normalized, err := normalizeEntry(entry)
		if err != nil {
			return err
		}
		prepared = append(prepared, normalized)
	}
	err := c.storage.withTx(ctx, func(tx *sql.Tx) error {
		for _, entry := range prepared {
			header, err := json.Marshal(entry.Header)
			if err != nil {
				return fmt.Errorf("encode header for %s: %w", entry.URL, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO entries (cache_id, method, url, status, header, body, stored_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT(cache_id, method, url) DO UPDATE SET
				    status = excluded.status,
				    header = excluded.header,
				    body = excluded.body,
				    stored_at = excluded.stored_at`,
				c.id, entry.Method, entry.URL, entry.Status, string(header), entry.Body, entry.StoredAt.UnixMilli(),
			); err != nil {
				return fmt.Errorf("put %s: %w", entry.URL, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache %q: %w", c.name, err)
	}
	return nil
}

func normalizeEntry(entry Entry) (Entry, error) {
	entry.Method = strings.ToUpper(strings.TrimSpace(entry.Method))
	if entry.Method == "" {
		entry.Method = http.MethodGet
	}
	if strings.TrimSpace(entry.URL) == "" {
		return Entry{}, errors.New("entry url is required")
	}
	normalized, err := NormalizeURL(entry.URL)
	if err != nil {
		return Entry{}, fmt.Errorf("entry url %q: %w", entry.URL, err)
	}
	entry.URL = normalized
	if entry.Status == 0 {
		entry.Status = http.StatusOK
	}
	if entry.Header == nil {
		entry.Header = http.Header{}
	}
	if entry.Body == nil {
		entry.Body = []byte{}
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	return entry, nil
}

// Delete removes the entry stored for req and reports whether one existed.
func (c *Cache) Delete(ctx context.Context, req *http.Request) (bool, error) {
	method, key := RequestKey(req)
	res, err := c.storage.exec(ctx,
		`DELETE FROM entries WHERE cache_id = ? AND method = ? AND url = ?`,
		c.id, method, key,
	)
	if err != nil {
		return false, fmt.Errorf("delete entry %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Keys lists the stored URLs in key order.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.storage.db.QueryContext(ensureContext(ctx),
		`SELECT url FROM entries WHERE cache_id = ? ORDER BY method, url`, c.id)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan entry url: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Count returns the number of stored entries.
func (c *Cache) Count(ctx context.Context) (int, error) {
	var count int
	if err := c.storage.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM entries WHERE cache_id = ?`, c.id,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

// Size returns the total stored body size in bytes.
func (c *Cache) Size(ctx context.Context) (int64, error) {
	var size int64
	if err := c.storage.db.QueryRowContext(ensureContext(ctx),
		`SELECT COALESCE(SUM(LENGTH(body)), 0) FROM entries WHERE cache_id = ?`, c.id,
	).Scan(&size); err != nil {
		return 0, fmt.Errorf("cache size: %w", err)
	}
	return size, nil
}

func scanEntry(row *sql.Row) (*Entry, bool, error) {
	var (
		entry    Entry
		header   string
		storedAt int64
	)
	err := row.Scan(&entry.CacheName, &entry.Method, &entry.URL, &entry.Status, &header, &entry.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}
	entry.Header = http.Header{}
	if header != "" {
		if err := json.Unmarshal([]byte(header), &entry.Header); err != nil {
			return nil, false, fmt.Errorf("decode cached header for %s: %w", entry.URL, err)
		}
	}
	entry.StoredAt = time.UnixMilli(storedAt).UTC()
	return &entry, true, nil
}
