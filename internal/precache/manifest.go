package precache

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/opencontainers/go-digest"

	"instashim/internal/config"
	"instashim/internal/network"
)

// nameDigestLength is how many hex characters of the manifest digest end up
// in a derived cache name.
const nameDigestLength = 12

// ErrInvalidManifest marks manifests that cannot be precached.
var ErrInvalidManifest = errors.New("invalid precache manifest")

// Manifest is the fixed allow-list of assets stored at install time together
// with the name of the cache that holds them.
type Manifest struct {
	Prefix string
	Name   string
	Assets []string
}

// New builds and validates a manifest.
func New(prefix, name string, assets []string) (*Manifest, error) {
	m := &Manifest{
		Prefix: strings.TrimSpace(prefix),
		Name:   strings.TrimSpace(name),
		Assets: append([]string(nil), assets...),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// FromConfig builds the manifest described by the [cache] section.
func FromConfig(cfg *config.Config) (*Manifest, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidManifest)
	}
	return New(cfg.Cache.Prefix, cfg.Cache.Name, cfg.Cache.Assets)
}

// Validate checks the asset list: non-empty, unique, and each entry either an
// origin-relative path or an absolute http(s) URL.
func (m *Manifest) Validate() error {
	if m.Prefix == "" && m.Name == "" {
		return fmt.Errorf("%w: prefix or name is required", ErrInvalidManifest)
	}
	if len(m.Assets) == 0 {
		return fmt.Errorf("%w: no assets listed", ErrInvalidManifest)
	}
	seen := make(map[string]struct{}, len(m.Assets))
	for _, asset := range m.Assets {
		if err := validateAsset(asset); err != nil {
			return err
		}
		if _, dup := seen[asset]; dup {
			return fmt.Errorf("%w: duplicate asset %q", ErrInvalidManifest, asset)
		}
		seen[asset] = struct{}{}
	}
	return nil
}

func validateAsset(asset string) error {
	if strings.HasPrefix(asset, "/") {
		if strings.HasPrefix(asset, "//") {
			return fmt.Errorf("%w: protocol-relative asset %q", ErrInvalidManifest, asset)
		}
		return nil
	}
	parsed, err := url.Parse(asset)
	if err != nil {
		return fmt.Errorf("%w: asset %q: %v", ErrInvalidManifest, asset, err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%w: asset %q must be a path or an absolute http(s) URL", ErrInvalidManifest, asset)
	}
	return nil
}

// Digest returns the content digest of the asset list. Order does not matter.
func (m *Manifest) Digest() digest.Digest {
	sorted := slices.Clone(m.Assets)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	return digest.FromString(strings.Join(sorted, "\n"))
}

// CacheName returns the explicit name when configured, otherwise
// "<prefix>-<digest prefix>". Any change to the asset list yields a new name.
func (m *Manifest) CacheName() string {
	if m.Name != "" {
		return m.Name
	}
	encoded := m.Digest().Encoded()
	if len(encoded) > nameDigestLength {
		encoded = encoded[:nameDigestLength]
	}
	return m.Prefix + "-" + encoded
}

// Owns reports whether name belongs to this manifest's family of caches, i.e.
// it shares the prefix. Only owned caches are candidates for stale cleanup.
func (m *Manifest) Owns(name string) bool {
	if m.Prefix == "" {
		return false
	}
	return strings.HasPrefix(name, m.Prefix+"-")
}

// Resolve returns absolute URLs for every asset. Relative paths are joined
// under the base path with network.ResolveURL, which is also how served
// requests are keyed, so precached entries match later lookups.
func (m *Manifest) Resolve(base *url.URL) ([]*url.URL, error) {
	if base == nil {
		return nil, fmt.Errorf("%w: base URL is required", ErrInvalidManifest)
	}
	out := make([]*url.URL, 0, len(m.Assets))
	for _, asset := range m.Assets {
		ref, err := url.Parse(asset)
		if err != nil {
			return nil, fmt.Errorf("%w: asset %q: %v", ErrInvalidManifest, asset, err)
		}
		out = append(out, network.ResolveURL(base, ref))
	}
	return out, nil
}
