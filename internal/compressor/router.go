package compressor

import (
	"context"
	"fmt"

	"github.com/jmylchreest/squeezr/internal/cache"
	"github.com/jmylchreest/squeezr/internal/encode"
	"github.com/jmylchreest/squeezr/internal/imagecodec"
	"github.com/jmylchreest/squeezr/internal/media"
)

// KindProber sends image paths to the image prober and everything else to the
// media prober.
type KindProber struct {
	media cache.Prober
	image cache.Prober
}

// NewKindProber creates a dispatching prober. Either side may be nil.
func NewKindProber(media, image cache.Prober) *KindProber {
	return &KindProber{media: media, image: image}
}

// Probe implements cache.Prober.
func (p *KindProber) Probe(ctx context.Context, path string) (*media.MediaAsset, error) {
	next := p.media
	if imagecodec.IsImagePath(path) {
		next = p.image
	}
	if next == nil {
		return nil, &media.ProbeError{Path: path, Err: media.ErrUnsupported}
	}
	return next.Probe(ctx, path)
}

// Router sends JPEG configs to the in-process image encoder and everything
// else to the media encoder.
type Router struct {
	media encode.Encoder
	image encode.Encoder
}

// NewRouter creates an encoder router. Either side may be nil.
func NewRouter(mediaEnc, imageEnc encode.Encoder) *Router {
	return &Router{media: mediaEnc, image: imageEnc}
}

// Encode implements encode.Encoder.
func (r *Router) Encode(ctx context.Context, input string, tr *encode.TimeRange, params encode.ParameterSet) (*encode.Output, error) {
	next := r.media
	if params.Codec == imagecodec.Codec {
		next = r.image
	}
	if next == nil {
		return nil, &media.EncodeError{Codec: params.Codec, Err: media.ErrUnsupported}
	}
	return next.Encode(ctx, input, tr, params)
}

// ChainFactory builds the encoder fallback chain for an asset.
type ChainFactory interface {
	Build(asset *media.MediaAsset, rc encode.RateControl) ([]encode.ParameterSet, error)
}

// Chains answers image assets with the JPEG chain and delegates the rest.
type Chains struct {
	media ChainFactory
}

// NewChains wraps the chain factory for time-based media.
func NewChains(media ChainFactory) *Chains {
	return &Chains{media: media}
}

// Build implements ChainFactory.
func (c *Chains) Build(asset *media.MediaAsset, rc encode.RateControl) ([]encode.ParameterSet, error) {
	if asset.Kind == media.KindImage {
		return imagecodec.Chain(), nil
	}
	if c.media == nil {
		return nil, fmt.Errorf("%w: %s", media.ErrUnsupported, asset.Kind)
	}
	return c.media.Build(asset, rc)
}
