package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/squeezr/internal/media"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestNewParamKey(t *testing.T) {
	t.Run("buckets_size_and_ratio", func(t *testing.T) {
		k := NewParamKey("MP4", 25_040_000, 10_000_000)
		assert.Equal(t, "mp4", k.Format)
		assert.Equal(t, int64(25_000_000), k.SizeBucket)
		assert.Equal(t, 4, k.RatioBucket)
	})

	t.Run("nearby_inputs_share_a_key", func(t *testing.T) {
		a := NewParamKey("mp4", 25_040_000, 10_000_000)
		b := NewParamKey("mp4", 24_990_000, 9_990_000)
		assert.Equal(t, a, b)
	})

	t.Run("size_bucket_is_decimal", func(t *testing.T) {
		assert.Equal(t, int64(200_000), NewParamKey("mp4", 150_000, 1).SizeBucket)
		assert.Equal(t, int64(100_000), NewParamKey("mp4", 149_999, 1).SizeBucket)
	})

	t.Run("zero_size", func(t *testing.T) {
		k := NewParamKey("jpeg", 0, 100)
		assert.Equal(t, int64(0), k.SizeBucket)
		assert.Equal(t, 0, k.RatioBucket)
	})
}

func TestParamCache_RunningAverage(t *testing.T) {
	clock := newFakeClock()
	c := NewParamCache(10, time.Hour, clock.Now)
	key := NewParamKey("mp4", 50_000_000, 20_000_000)

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Set(key, 60)
	c.Set(key, 80)

	avg, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, int64(70), avg)
}

func TestParamCache_Expiry(t *testing.T) {
	clock := newFakeClock()
	c := NewParamCache(10, time.Hour, clock.Now)
	key := NewParamKey("mp4", 1_000_000, 500_000)

	c.Set(key, 60)
	clock.Advance(59 * time.Minute)
	_, ok := c.Get(key)
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok = c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry is evicted on access")

	// An expired average does not leak into a fresh one.
	c.Set(key, 40)
	avg, _ := c.Get(key)
	assert.Equal(t, int64(40), avg)
}

func TestParamCache_WriteRefreshesTTL(t *testing.T) {
	clock := newFakeClock()
	c := NewParamCache(10, time.Hour, clock.Now)
	key := NewParamKey("mp4", 1_000_000, 500_000)

	c.Set(key, 50)
	clock.Advance(50 * time.Minute)
	c.Set(key, 70)
	clock.Advance(50 * time.Minute)

	avg, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, int64(60), avg)
}

func TestTTLCache_EvictsOldestWrite(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLCache[string, int](2, time.Hour, clock.Now)

	c.Set("a", 1)
	clock.Advance(time.Second)
	c.Set("b", 2)
	clock.Advance(time.Second)

	// Reading a does not protect it; only writes rank entries.
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)

	// Rewriting b makes c the oldest.
	c.Set("b", 20)
	c.Set("d", 4)
	_, ok = c.Get("c")
	assert.False(t, ok)
	v, _ := c.Get("b")
	assert.Equal(t, 20, v)
}

func TestTTLCache_Purge(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLCache[string, int](10, time.Minute, clock.Now)

	c.Set("old1", 1)
	c.Set("old2", 2)
	clock.Advance(2 * time.Minute)
	c.Set("fresh", 3)

	assert.Equal(t, 2, c.Purge())
	assert.Equal(t, 1, c.Len())

	c.Delete("fresh")
	assert.Equal(t, 0, c.Len())
}

func TestTTLCache_ConcurrentUse(t *testing.T) {
	c := NewParamCache(8, time.Hour, nil)
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := NewParamKey(fmt.Sprintf("f%d", i%4), 1_000_000, 500_000)
			for j := range 100 {
				c.Set(key, int64(j))
				_, _ = c.Get(key)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 8)
}

type countingProber struct {
	calls int
	err   error
}

func (p *countingProber) Probe(_ context.Context, path string) (*media.MediaAsset, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &media.MediaAsset{Path: path, Kind: media.KindVideo, Duration: 12.5}, nil
}

func TestCachingProber(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o600))

	inner := &countingProber{}
	var hits, misses int
	p := NewCachingProber(inner, NewMetadataCache(4, time.Hour, nil), func(name string, hit bool) {
		assert.Equal(t, "metadata", name)
		if hit {
			hits++
		} else {
			misses++
		}
	})

	a, err := p.Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(10), a.ByteSize)

	b, err := p.Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)

	t.Run("changed_file_misses", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("0123456789abc"), 0o600))
		c, err := p.Probe(context.Background(), path)
		require.NoError(t, err)
		assert.Equal(t, int64(13), c.ByteSize)
		assert.Equal(t, 2, inner.calls)
	})

	t.Run("missing_file_is_probe_error", func(t *testing.T) {
		_, err := p.Probe(context.Background(), filepath.Join(dir, "nope.mp4"))
		var pe *media.ProbeError
		assert.ErrorAs(t, err, &pe)
	})

	t.Run("inner_error_not_cached", func(t *testing.T) {
		other := filepath.Join(dir, "broken.mp4")
		require.NoError(t, os.WriteFile(other, []byte("x"), 0o600))
		inner.err = errors.New("ffprobe failed")
		_, err := p.Probe(context.Background(), other)
		assert.Error(t, err)
		inner.err = nil
		_, err = p.Probe(context.Background(), other)
		assert.NoError(t, err)
	})
}
