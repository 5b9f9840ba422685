// Package media defines the domain types shared by the squeezr pipeline:
// probed assets, compression requests, timeline segments and quality-change
// events.
package media

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Kind classifies an asset by how it is encoded.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
	KindImage Kind = "image"
)

// IsTimeBased reports whether the kind has a timeline that can be segmented.
func (k Kind) IsTimeBased() bool {
	return k == KindVideo || k == KindAudio
}

// MediaAsset is an immutable snapshot of a probed input file.
type MediaAsset struct {
	Path         string    `json:"path"`
	Kind         Kind      `json:"kind"`
	Format       string    `json:"format"`
	ByteSize     int64     `json:"byte_size"`
	Duration     float64   `json:"duration_seconds,omitempty"`
	Width        int       `json:"width,omitempty"`
	Height       int       `json:"height,omitempty"`
	VideoCodec   string    `json:"video_codec,omitempty"`
	AudioCodec   string    `json:"audio_codec,omitempty"`
	Bitrate      int64     `json:"bitrate_bits,omitempty"`
	AudioBitrate int64     `json:"audio_bitrate_bits,omitempty"`
	ModTime      time.Time `json:"mod_time"`
}

// Resolution returns the frame size as "WxH", or an empty string when unknown.
func (a *MediaAsset) Resolution() string {
	if a.Width <= 0 || a.Height <= 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", a.Width, a.Height)
}

// Fingerprint identifies the file content cheaply: path, size and mtime.
func (a *MediaAsset) Fingerprint() string {
	return Fingerprint(a.Path, a.ByteSize, a.ModTime)
}

// Fingerprint builds the cache key used for probed metadata.
func Fingerprint(path string, size int64, modTime time.Time) string {
	return fmt.Sprintf("%s|%d|%d", path, size, modTime.UnixNano())
}

// Mode selects between one output file and several segment files.
type Mode string

const (
	ModeSingle    Mode = "single"
	ModeSegmented Mode = "segmented"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSingle, "":
		return ModeSingle, nil
	case ModeSegmented:
		return ModeSegmented, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want single or segmented)", s)
	}
}

// CompressionRequest is one call into the compressor.
type CompressionRequest struct {
	Path              string
	TargetSize        int64
	Mode              Mode
	AlignToBoundaries bool
	OutputDir         string
}

// Validate checks the request before any probing happens.
func (r *CompressionRequest) Validate() error {
	if r.Path == "" {
		return fmt.Errorf("path is required")
	}
	if r.TargetSize <= 0 {
		return fmt.Errorf("target size must be positive, got %d", r.TargetSize)
	}
	if _, err := ParseMode(string(r.Mode)); err != nil {
		return err
	}
	return nil
}

// OutputName derives an output file name for the asset.
// A part index < 0 means a whole-asset output.
func OutputName(sourcePath, ext string, part int) string {
	base := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	if part < 0 {
		return fmt.Sprintf("%s.squeezed%s", base, ext)
	}
	return fmt.Sprintf("%s.part%03d%s", base, part+1, ext)
}

// Segment is one contiguous slice of an asset's timeline, [Start, End).
type Segment struct {
	Index    int                 `json:"index"`
	Start    float64             `json:"start"`
	End      float64             `json:"end"`
	Duration float64             `json:"duration"`
	Boundary *QualityChangeEvent `json:"boundary_event,omitempty"`
}

// EventKind is the type of a detected quality change.
type EventKind string

const (
	EventBitrateChange    EventKind = "bitrate_change"
	EventResolutionChange EventKind = "resolution_change"
)

// QualityChangeEvent marks a point where the source changes bitrate or
// resolution. From and To are kbps values or "WxH" strings.
type QualityChangeEvent struct {
	Timestamp float64   `json:"timestamp"`
	Kind      EventKind `json:"kind"`
	From      string    `json:"from"`
	To        string    `json:"to"`
}
