// Package imagecodec probes and encodes still images in process with the
// imaging library. Every output is a baseline JPEG.
package imagecodec

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // WebP format support

	"github.com/jmylchreest/squeezr/internal/encode"
	"github.com/jmylchreest/squeezr/internal/media"
)

const (
	// MaxImageDimension is the largest width or height encoded as-is.
	// Larger images are downscaled before encoding.
	MaxImageDimension = 8192

	// Codec names the encoder in parameter sets and errors.
	Codec = "jpeg"
)

// Extensions lists the file extensions this package handles.
var Extensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// IsImagePath reports whether path has an image extension.
func IsImagePath(path string) bool {
	return Extensions[strings.ToLower(filepath.Ext(path))]
}

// Prober reads image headers without decoding pixels.
type Prober struct{}

// NewProber creates an image prober.
func NewProber() *Prober {
	return &Prober{}
}

// Probe implements the metadata probe for images.
func (p *Prober) Probe(_ context.Context, path string) (*media.MediaAsset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &media.ProbeError{Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &media.ProbeError{Path: path, Err: err}
	}

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, &media.ProbeError{Path: path, Err: fmt.Errorf("decoding image header: %w", err)}
	}

	return &media.MediaAsset{
		Path:     path,
		Kind:     media.KindImage,
		Format:   format,
		ByteSize: info.Size(),
		Width:    cfg.Width,
		Height:   cfg.Height,
		ModTime:  info.ModTime(),
	}, nil
}

// Chain returns the fallback chain for images: a single JPEG config.
func Chain() []encode.ParameterSet {
	return []encode.ParameterSet{{
		Name:        "jpeg",
		Codec:       Codec,
		Format:      "jpeg",
		RateControl: encode.RateQuality,
	}}
}

// Encoder writes JPEG attempts into a workspace.
type Encoder struct {
	workspace    *encode.Workspace
	maxDimension int
}

// NewEncoder creates an encoder. maxDimension <= 0 uses MaxImageDimension.
func NewEncoder(ws *encode.Workspace, maxDimension int) *Encoder {
	if maxDimension <= 0 {
		maxDimension = MaxImageDimension
	}
	return &Encoder{workspace: ws, maxDimension: maxDimension}
}

// Encode implements encode.Encoder. Time ranges do not apply to images and
// are ignored.
func (e *Encoder) Encode(ctx context.Context, input string, _ *encode.TimeRange, params encode.ParameterSet) (*encode.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, &media.EncodeError{Codec: Codec, Err: err}
	}

	img, err := imaging.Open(input, imaging.AutoOrientation(true))
	if err != nil {
		return nil, &media.EncodeError{Codec: Codec, Err: fmt.Errorf("failed to open image: %w", err)}
	}
	img = Flatten(Constrain(img, e.maxDimension))

	tmp := e.workspace.TempPath(".jpg")
	if err := imaging.Save(img, tmp, imaging.JPEGQuality(JPEGQuality(params.Quality))); err != nil {
		_ = os.Remove(tmp)
		return nil, &media.EncodeError{Codec: Codec, Err: fmt.Errorf("saving jpeg: %w", err)}
	}

	out, err := encode.NewOutput(tmp, params)
	if err != nil {
		_ = os.Remove(tmp)
		return nil, &media.EncodeError{Codec: Codec, Err: err}
	}
	if out.Size == 0 {
		_ = out.Release()
		return nil, &media.EncodeError{Codec: Codec, Err: errors.New("empty output")}
	}
	return out, nil
}

// JPEGQuality clamps a quality index to the encoder's 1..100 range.
func JPEGQuality(q int) int {
	return max(1, min(q, 100))
}

// Constrain downscales img so neither side exceeds maxDimension.
func Constrain(img image.Image, maxDimension int) image.Image {
	b := img.Bounds()
	if b.Dx() <= maxDimension && b.Dy() <= maxDimension {
		return img
	}
	return imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
}

// Flatten composites img onto an opaque white background. JPEG has no alpha
// channel and the encoder would otherwise drop it to black.
func Flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
