// Package encode defines the contract between squeezr's control logic and the
// engines that actually produce bytes: parameter sets, time ranges, encoder
// outputs and the scratch workspace attempts write into.
package encode

import (
	"context"
	"fmt"
	"strings"
)

// RateControl says how an encoder consumes the searched parameter.
type RateControl string

const (
	// RateQuality treats the parameter as a quality index (10..100).
	RateQuality RateControl = "quality"
	// RateBitrate treats the parameter as a video/audio bitrate in kbps.
	RateBitrate RateControl = "bitrate"
	// RateCopy stream-copies without re-encoding; the parameter is ignored.
	RateCopy RateControl = "copy"
)

// ParameterSet is one encoder configuration. The scheduler treats it as
// opaque; only encoders interpret the fields.
type ParameterSet struct {
	Name             string      `json:"name"`
	Codec            string      `json:"codec"`
	AudioCodec       string      `json:"audio_codec,omitempty"`
	Format           string      `json:"format"`
	RateControl      RateControl `json:"rate_control"`
	Quality          int         `json:"quality,omitempty"`
	BitrateKbps      int64       `json:"bitrate_kbps,omitempty"`
	AudioBitrateKbps int64       `json:"audio_bitrate_kbps,omitempty"`
	Threads          int         `json:"threads,omitempty"`
	HWAccel          string      `json:"hwaccel,omitempty"`
	HWDevice         string      `json:"hwdevice,omitempty"`
	Options          []string    `json:"options,omitempty"`
}

// WithParameter returns a copy with the searched parameter applied.
func (p ParameterSet) WithParameter(v int64) ParameterSet {
	switch p.RateControl {
	case RateQuality:
		p.Quality = int(v)
	case RateBitrate:
		p.BitrateKbps = v
	}
	p.Options = append([]string(nil), p.Options...)
	return p
}

// String renders the configuration for logs and error chains.
func (p ParameterSet) String() string {
	var b strings.Builder
	b.WriteString(p.Name)
	if p.Name != p.Codec && p.Codec != "" {
		fmt.Fprintf(&b, "(%s)", p.Codec)
	}
	switch p.RateControl {
	case RateQuality:
		fmt.Fprintf(&b, " q=%d", p.Quality)
	case RateBitrate:
		fmt.Fprintf(&b, " %dk", p.BitrateKbps)
	case RateCopy:
		b.WriteString(" copy")
	}
	if p.HWAccel != "" {
		fmt.Fprintf(&b, " hw=%s", p.HWAccel)
	}
	if len(p.Options) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(p.Options, " "))
	}
	return b.String()
}

// Label returns the parameter as reported to callers, e.g. "q72" or "1450k".
func (p ParameterSet) Label() string {
	switch p.RateControl {
	case RateQuality:
		return fmt.Sprintf("q%d", p.Quality)
	case RateBitrate:
		return fmt.Sprintf("%dk", p.BitrateKbps)
	default:
		return string(p.RateControl)
	}
}

// Extension returns the output file extension for the container format.
func (p ParameterSet) Extension() string {
	switch p.Format {
	case "", "mp4":
		return ".mp4"
	case "jpeg", "jpg":
		return ".jpg"
	case "matroska", "mkv":
		return ".mkv"
	case "ipod", "m4a":
		return ".m4a"
	default:
		return "." + p.Format
	}
}

// TimeRange selects part of a time-based asset. Absent means the whole asset.
type TimeRange struct {
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// Encoder produces one output for one configuration.
// A failure must be reported as *media.EncodeError and must not leave a
// partial output file behind.
type Encoder interface {
	Encode(ctx context.Context, input string, tr *TimeRange, params ParameterSet) (*Output, error)
}

// EncoderFunc adapts a function to the Encoder interface.
type EncoderFunc func(ctx context.Context, input string, tr *TimeRange, params ParameterSet) (*Output, error)

// Encode calls f.
func (f EncoderFunc) Encode(ctx context.Context, input string, tr *TimeRange, params ParameterSet) (*Output, error) {
	return f(ctx, input, tr, params)
}
