package ffmpeg

import (
	"fmt"

	"github.com/jmylchreest/squeezr/internal/encode"
	"github.com/jmylchreest/squeezr/internal/media"
)

// ChainOptions configures how fallback chains are built.
type ChainOptions struct {
	HWAccelPriority  []HWAccelType
	HWDevice         string
	Threads          int
	AudioBitrateKbps int64
	// ExtraOptions are appended to every config for an output format.
	ExtraOptions map[string][]string
}

// ChainBuilder turns detected capabilities into encoder fallback chains.
type ChainBuilder struct {
	info *BinaryInfo
	opts ChainOptions
}

// NewChainBuilder validates extra options and returns a builder. A nil info
// means capabilities are unknown and only software encoders are used.
func NewChainBuilder(info *BinaryInfo, opts ChainOptions) (*ChainBuilder, error) {
	for format, extra := range opts.ExtraOptions {
		if err := ValidateOptions(extra); err != nil {
			return nil, fmt.Errorf("options for %s: %w", format, err)
		}
	}
	if opts.HWAccelPriority == nil {
		opts.HWAccelPriority = DefaultHWAccelPriority
	}
	if opts.AudioBitrateKbps <= 0 {
		opts.AudioBitrateKbps = 128
	}
	return &ChainBuilder{info: info, opts: opts}, nil
}

// videoProfile is the software side of a video output format.
type videoProfile struct {
	format     string
	family     string
	software   string
	audioCodec string
	baseline   []string
}

var (
	mp4Profile = videoProfile{
		format:     "mp4",
		family:     "h264",
		software:   "libx264",
		audioCodec: "aac",
		baseline:   []string{"-preset", "ultrafast"},
	}
	webmProfile = videoProfile{
		format:     "webm",
		family:     "vp9",
		software:   "libvpx-vp9",
		audioCodec: "libopus",
		baseline:   []string{"-deadline", "realtime", "-cpu-used", "8"},
	}
	mkvProfile = videoProfile{
		format:     "matroska",
		family:     "h264",
		software:   "libx264",
		audioCodec: "aac",
		baseline:   []string{"-preset", "ultrafast"},
	}
)

func profileFor(format string) videoProfile {
	switch format {
	case "webm":
		return webmProfile
	case "matroska", "mkv":
		return mkvProfile
	default:
		return mp4Profile
	}
}

// Build returns the fallback chain for an asset. Video chains use rc; audio
// chains are always bitrate driven.
func (b *ChainBuilder) Build(asset *media.MediaAsset, rc encode.RateControl) ([]encode.ParameterSet, error) {
	switch asset.Kind {
	case media.KindVideo:
		return b.videoChain(asset, rc), nil
	case media.KindAudio:
		return b.audioChain(asset), nil
	default:
		return nil, fmt.Errorf("%w: %s", media.ErrUnsupported, asset.Kind)
	}
}

// hasEncoder treats an empty capability list as unknown.
func (b *ChainBuilder) hasEncoder(name string) bool {
	if b.info == nil || len(b.info.Encoders) == 0 {
		return true
	}
	return b.info.HasEncoder(name)
}

func (b *ChainBuilder) videoChain(asset *media.MediaAsset, rc encode.RateControl) []encode.ParameterSet {
	p := profileFor(asset.Format)
	extra := b.opts.ExtraOptions[p.format]
	audio := p.audioCodec
	if asset.AudioCodec == "" {
		audio = ""
	}

	base := encode.ParameterSet{
		Format:           p.format,
		RateControl:      rc,
		AudioCodec:       audio,
		AudioBitrateKbps: b.opts.AudioBitrateKbps,
		Threads:          b.opts.Threads,
	}
	if audio == "" {
		base.AudioBitrateKbps = 0
	}

	var chain []encode.ParameterSet
	if b.info != nil {
		for _, accel := range b.opts.HWAccelPriority {
			enc, ok := HardwareEncoder(p.family, accel)
			if !ok || !b.info.HasEncoder(enc) {
				continue
			}
			hw := base
			hw.Name = string(accel)
			hw.Codec = enc
			hw.HWAccel = string(accel)
			hw.HWDevice = b.opts.HWDevice
			hw.Options = append([]string(nil), extra...)
			chain = append(chain, hw)
			break
		}
	}

	if b.hasEncoder(p.software) {
		sw := base
		sw.Name = "software"
		sw.Codec = p.software
		sw.Options = append([]string(nil), extra...)
		chain = append(chain, sw)
	}

	minimal := base
	minimal.Name = "baseline"
	minimal.Codec = "libx264"
	minimal.Format = "mp4"
	minimal.Options = append([]string(nil), mp4Profile.baseline...)
	if p.format == "webm" && b.hasEncoder(p.software) {
		minimal.Codec = p.software
		minimal.Format = p.format
		minimal.Options = append([]string(nil), p.baseline...)
	}
	if minimal.AudioCodec != "" && minimal.Format == "mp4" {
		minimal.AudioCodec = "aac"
	}
	return append(chain, minimal)
}

func (b *ChainBuilder) audioChain(asset *media.MediaAsset) []encode.ParameterSet {
	aac := encode.ParameterSet{
		Name:        "aac",
		Codec:       "aac",
		Format:      "ipod",
		RateControl: encode.RateBitrate,
		Threads:     b.opts.Threads,
	}

	var primary encode.ParameterSet
	switch asset.Format {
	case "mp3":
		primary = encode.ParameterSet{Name: "mp3", Codec: "libmp3lame", Format: "mp3"}
	case "ogg", "opus":
		primary = encode.ParameterSet{Name: "opus", Codec: "libopus", Format: "ogg"}
	default:
		aac.Options = append([]string(nil), b.opts.ExtraOptions[aac.Format]...)
		return []encode.ParameterSet{aac}
	}
	primary.RateControl = encode.RateBitrate
	primary.Threads = b.opts.Threads
	primary.Options = append([]string(nil), b.opts.ExtraOptions[primary.Format]...)

	var chain []encode.ParameterSet
	if b.hasEncoder(primary.Codec) {
		chain = append(chain, primary)
	}
	return append(chain, aac)
}
