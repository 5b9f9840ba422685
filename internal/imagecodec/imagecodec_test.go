package imagecodec

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/squeezr/internal/encode"
	"github.com/jmylchreest/squeezr/internal/media"
)

// writeNoisyPNG writes a w x h PNG with random opaque pixels and a fully
// transparent top-left quadrant.
func writeNoisyPNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 && y < h/2 {
				img.SetNRGBA(x, y, color.NRGBA{})
				continue
			}
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255})
		}
	}
	path := filepath.Join(dir, "noise.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestProber(t *testing.T) {
	dir := t.TempDir()
	path := writeNoisyPNG(t, dir, 64, 48)

	asset, err := NewProber().Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, media.KindImage, asset.Kind)
	assert.Equal(t, "png", asset.Format)
	assert.Equal(t, 64, asset.Width)
	assert.Equal(t, 48, asset.Height)
	assert.Greater(t, asset.ByteSize, int64(0))

	t.Run("not_an_image", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.png")
		require.NoError(t, os.WriteFile(bad, []byte("definitely not a png"), 0o600))
		_, err := NewProber().Probe(context.Background(), bad)
		var pe *media.ProbeError
		assert.ErrorAs(t, err, &pe)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := NewProber().Probe(context.Background(), filepath.Join(dir, "nope.png"))
		var pe *media.ProbeError
		assert.ErrorAs(t, err, &pe)
	})
}

func TestEncoder(t *testing.T) {
	dir := t.TempDir()
	src := writeNoisyPNG(t, dir, 128, 128)
	ws, err := encode.NewWorkspace(filepath.Join(dir, "work"))
	require.NoError(t, err)
	enc := NewEncoder(ws, 0)
	params := Chain()[0]

	high, err := enc.Encode(context.Background(), src, nil, params.WithParameter(95))
	require.NoError(t, err)
	low, err := enc.Encode(context.Background(), src, nil, params.WithParameter(10))
	require.NoError(t, err)

	assert.Less(t, low.Size, high.Size, "lower quality yields a smaller file")
	assert.Equal(t, ".jpg", filepath.Ext(high.Path))
	assert.Equal(t, 95, high.Params.Quality)

	t.Run("alpha_flattened_to_white", func(t *testing.T) {
		img, err := imaging.Open(high.Path)
		require.NoError(t, err)
		r, g, b, _ := img.At(5, 5).RGBA()
		assert.Greater(t, r>>8, uint32(240))
		assert.Greater(t, g>>8, uint32(240))
		assert.Greater(t, b>>8, uint32(240))
	})

	require.NoError(t, high.Release())
	require.NoError(t, low.Release())

	t.Run("unreadable_input", func(t *testing.T) {
		_, err := enc.Encode(context.Background(), filepath.Join(dir, "missing.png"), nil, params.WithParameter(50))
		var ee *media.EncodeError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, Codec, ee.Codec)

		entries, err := os.ReadDir(ws.Dir())
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := enc.Encode(ctx, src, nil, params.WithParameter(50))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestConstrain(t *testing.T) {
	img := imaging.New(400, 100, color.Black)
	out := Constrain(img, 200)
	assert.Equal(t, 200, out.Bounds().Dx())
	assert.Equal(t, 50, out.Bounds().Dy())

	assert.Same(t, img, Constrain(img, 400).(*image.NRGBA))
}

func TestJPEGQuality(t *testing.T) {
	assert.Equal(t, 1, JPEGQuality(0))
	assert.Equal(t, 100, JPEGQuality(150))
	assert.Equal(t, 72, JPEGQuality(72))
}

func TestIsImagePath(t *testing.T) {
	assert.True(t, IsImagePath("/a/B.JPG"))
	assert.True(t, IsImagePath("x.webp"))
	assert.False(t, IsImagePath("clip.mp4"))
}
