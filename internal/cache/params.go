package cache

import (
	"math"
	"strings"
	"time"
)

// Parameter cache defaults.
const (
	DefaultParamEntries = 256
	DefaultParamTTL     = time.Hour

	// SI units, as config.ByteSize parses "100KB".
	sizeBucketBytes = 100_000
	ratioBucket     = 0.1
)

// ParamKey buckets a compression by format, source size and target ratio.
type ParamKey struct {
	Format      string
	SizeBucket  int64
	RatioBucket int
}

// NewParamKey rounds size to the nearest 100 kB (100,000 bytes, SI) and ratio
// (target/original) to the nearest 0.1.
func NewParamKey(format string, sourceSize, targetSize int64) ParamKey {
	var ratio float64
	if sourceSize > 0 {
		ratio = float64(targetSize) / float64(sourceSize)
	}
	return ParamKey{
		Format:      strings.ToLower(format),
		SizeBucket:  int64(math.Round(float64(sourceSize)/sizeBucketBytes)) * sizeBucketBytes,
		RatioBucket: int(math.Round(ratio / ratioBucket)),
	}
}

// Entry is a running average of successful search parameters.
type Entry struct {
	Sum         int64
	Count       int64
	LastUpdated time.Time
}

// Average returns Sum/Count rounded to the nearest integer.
func (e Entry) Average() int64 {
	if e.Count == 0 {
		return 0
	}
	return int64(math.Round(float64(e.Sum) / float64(e.Count)))
}

// ParamCache remembers which parameter worked for similar compressions.
// It is an accelerator only; a miss just means a wider search.
type ParamCache struct {
	c   *TTLCache[ParamKey, Entry]
	now Clock
}

// NewParamCache creates a parameter cache.
func NewParamCache(maxEntries int, ttl time.Duration, clock Clock) *ParamCache {
	if maxEntries <= 0 {
		maxEntries = DefaultParamEntries
	}
	if ttl <= 0 {
		ttl = DefaultParamTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &ParamCache{c: NewTTLCache[ParamKey, Entry](maxEntries, ttl, clock), now: clock}
}

// Get returns the averaged parameter for key.
func (p *ParamCache) Get(key ParamKey) (int64, bool) {
	e, ok := p.c.Get(key)
	if !ok {
		return 0, false
	}
	return e.Average(), true
}

// Set folds a successful parameter into key's running average.
func (p *ParamCache) Set(key ParamKey, param int64) {
	now := p.now()
	p.c.Update(key, func(cur Entry, found bool) Entry {
		if !found {
			cur = Entry{}
		}
		cur.Sum += param
		cur.Count++
		cur.LastUpdated = now
		return cur
	})
}

// Purge drops expired entries.
func (p *ParamCache) Purge() int { return p.c.Purge() }

// Len reports the number of stored keys.
func (p *ParamCache) Len() int { return p.c.Len() }
