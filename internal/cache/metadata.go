package cache

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmylchreest/squeezr/internal/media"
)

// Metadata cache defaults.
const (
	DefaultMetadataEntries = 512
	DefaultMetadataTTL     = 10 * time.Minute
)

// Prober extracts asset metadata.
type Prober interface {
	Probe(ctx context.Context, path string) (*media.MediaAsset, error)
}

// MetadataCache maps an asset fingerprint to its probed metadata.
type MetadataCache struct {
	c *TTLCache[string, media.MediaAsset]
}

// NewMetadataCache creates a metadata cache.
func NewMetadataCache(maxEntries int, ttl time.Duration, clock Clock) *MetadataCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMetadataEntries
	}
	if ttl <= 0 {
		ttl = DefaultMetadataTTL
	}
	return &MetadataCache{c: NewTTLCache[string, media.MediaAsset](maxEntries, ttl, clock)}
}

// Get returns a copy of the cached asset for fingerprint.
func (m *MetadataCache) Get(fingerprint string) (*media.MediaAsset, bool) {
	a, ok := m.c.Get(fingerprint)
	if !ok {
		return nil, false
	}
	return &a, true
}

// Set stores a copy of asset under its fingerprint.
func (m *MetadataCache) Set(asset *media.MediaAsset) {
	m.c.Set(asset.Fingerprint(), *asset)
}

// Purge drops expired entries.
func (m *MetadataCache) Purge() int { return m.c.Purge() }

// Len reports the number of stored assets.
func (m *MetadataCache) Len() int { return m.c.Len() }

// LookupFunc observes cache lookups, for metrics.
type LookupFunc func(cache string, hit bool)

// CachingProber consults a MetadataCache before delegating to next. The
// fingerprint is taken from a stat of the file so an edited file misses.
type CachingProber struct {
	next     Prober
	cache    *MetadataCache
	onLookup LookupFunc
}

// NewCachingProber wraps next with cache. onLookup may be nil.
func NewCachingProber(next Prober, cache *MetadataCache, onLookup LookupFunc) *CachingProber {
	return &CachingProber{next: next, cache: cache, onLookup: onLookup}
}

// Probe implements Prober.
func (p *CachingProber) Probe(ctx context.Context, path string) (*media.MediaAsset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &media.ProbeError{Path: path, Err: fmt.Errorf("stat: %w", err)}
	}
	fp := media.Fingerprint(path, info.Size(), info.ModTime())

	if asset, ok := p.cache.Get(fp); ok {
		p.observe(true)
		return asset, nil
	}
	p.observe(false)

	asset, err := p.next.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	// The prober may not fill these; the fingerprint depends on them.
	asset.Path = path
	asset.ByteSize = info.Size()
	asset.ModTime = info.ModTime()
	p.cache.Set(asset)
	return asset, nil
}

func (p *CachingProber) observe(hit bool) {
	if p.onLookup != nil {
		p.onLookup("metadata", hit)
	}
}
