package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/squeezr/internal/media"
)

// ProbeResult is the subset of `ffprobe -show_format -show_streams` output
// squeezr reads.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename   string `json:"filename"`
	NumStreams int    `json:"nb_streams"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// ProbeStream contains stream information.
type ProbeStream struct {
	Index       int              `json:"index"`
	CodecName   string           `json:"codec_name"`
	CodecType   string           `json:"codec_type"` // video, audio, subtitle, data
	Width       int              `json:"width,omitempty"`
	Height      int              `json:"height,omitempty"`
	Duration    string           `json:"duration,omitempty"`
	BitRate     string           `json:"bit_rate,omitempty"`
	Disposition ProbeDisposition `json:"disposition,omitempty"`
}

// ProbeDisposition contains the stream disposition flags squeezr cares about.
type ProbeDisposition struct {
	Default     int `json:"default"`
	AttachedPic int `json:"attached_pic"`
}

// Prober reads container metadata with ffprobe.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// ProbeRaw runs ffprobe and returns its parsed JSON.
func (p *Prober) ProbeRaw(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return &result, nil
}

// Probe returns the asset snapshot for a time-based media file.
// Failures are *media.ProbeError.
func (p *Prober) Probe(ctx context.Context, path string) (*media.MediaAsset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &media.ProbeError{Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &media.ProbeError{Path: path, Err: errors.New("is a directory")}
	}

	result, err := p.ProbeRaw(ctx, path)
	if err != nil {
		return nil, &media.ProbeError{Path: path, Err: err}
	}

	asset, err := AssetFromProbe(result)
	if err != nil {
		return nil, &media.ProbeError{Path: path, Err: err}
	}
	asset.Path = path
	asset.ByteSize = info.Size()
	asset.ModTime = info.ModTime()
	if asset.Format == "" {
		asset.Format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	return asset, nil
}

// AssetFromProbe converts ffprobe output into a MediaAsset without path, size
// or mtime. Cover art streams do not make a file video.
func AssetFromProbe(r *ProbeResult) (*media.MediaAsset, error) {
	asset := &media.MediaAsset{Format: primaryFormat(r.Format.FormatName)}

	var hasVideo, hasAudio bool
	var videoBitrate int64
	for _, s := range r.Streams {
		switch s.CodecType {
		case "video":
			if s.Disposition.AttachedPic == 1 || hasVideo {
				continue
			}
			hasVideo = true
			asset.VideoCodec = s.CodecName
			asset.Width = s.Width
			asset.Height = s.Height
			videoBitrate = parseInt(s.BitRate)
		case "audio":
			if hasAudio {
				continue
			}
			hasAudio = true
			asset.AudioCodec = s.CodecName
			asset.AudioBitrate = parseInt(s.BitRate)
		}
	}

	switch {
	case hasVideo:
		asset.Kind = media.KindVideo
	case hasAudio:
		asset.Kind = media.KindAudio
	default:
		return nil, errors.New("no audio or video streams")
	}

	asset.Duration = parseFloat(r.Format.Duration)
	if asset.Duration <= 0 {
		for _, s := range r.Streams {
			asset.Duration = max(asset.Duration, parseFloat(s.Duration))
		}
	}

	asset.Bitrate = parseInt(r.Format.BitRate)
	if asset.Bitrate == 0 {
		asset.Bitrate = videoBitrate + asset.AudioBitrate
	}
	return asset, nil
}

// primaryFormat picks the first name of a demuxer list such as
// "mov,mp4,m4a,3gp,3g2,mj2", preferring mp4 for the mov family.
func primaryFormat(name string) string {
	if name == "" {
		return ""
	}
	parts := strings.Split(name, ",")
	for _, p := range parts {
		if p == "mp4" {
			return "mp4"
		}
	}
	return parts[0]
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
