package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jmylchreest/squeezr/internal/encode"
	"github.com/jmylchreest/squeezr/internal/media"
)

// audioFormats are containers that carry no video.
var audioFormats = map[string]bool{
	"mp3":  true,
	"ipod": true,
	"m4a":  true,
	"ogg":  true,
	"opus": true,
	"flac": true,
	"wav":  true,
	"aac":  true,
}

// IsAudioFormat reports whether format is an audio-only container.
func IsAudioFormat(format string) bool {
	return audioFormats[format]
}

// muxerFor maps a format name onto the ffmpeg muxer that writes it.
func muxerFor(format string) string {
	switch format {
	case "", "mov":
		return "mp4"
	case "aac":
		return "adts"
	case "m4a":
		return "ipod"
	default:
		return format
	}
}

// Encoder runs one ffmpeg encode per call into a scratch workspace.
type Encoder struct {
	ffmpegPath     string
	workspace      *encode.Workspace
	logger         *slog.Logger
	progress       ProgressObserver
	usage          UsageObserver
	sampleInterval time.Duration
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithEncoderLogger sets the logger.
func WithEncoderLogger(logger *slog.Logger) EncoderOption {
	return func(e *Encoder) { e.logger = logger }
}

// WithProgressObserver attaches a progress callback to every encode.
func WithProgressObserver(fn ProgressObserver) EncoderOption {
	return func(e *Encoder) { e.progress = fn }
}

// WithUsageObserver samples each ffmpeg process and reports its usage.
func WithUsageObserver(fn UsageObserver, interval time.Duration) EncoderOption {
	return func(e *Encoder) {
		e.usage = fn
		e.sampleInterval = interval
	}
}

// NewEncoder creates an encoder writing attempts into ws.
func NewEncoder(ffmpegPath string, ws *encode.Workspace, opts ...EncoderOption) *Encoder {
	e := &Encoder{
		ffmpegPath: ffmpegPath,
		workspace:  ws,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode implements encode.Encoder.
func (e *Encoder) Encode(ctx context.Context, input string, tr *encode.TimeRange, params encode.ParameterSet) (*encode.Output, error) {
	tmp := e.workspace.TempPath(params.Extension())
	cmd := BuildEncodeCommand(e.ffmpegPath, input, tr, params, tmp)
	cmd.OnStart = usageHook(params.Codec, e.sampleInterval, e.usage)

	e.logger.Debug("running ffmpeg",
		slog.String("params", params.String()),
		slog.String("command", cmd.String()),
	)

	fail := func(err error) (*encode.Output, error) {
		if rmErr := os.Remove(tmp); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			e.logger.Warn("failed to remove partial output",
				slog.String("path", tmp),
				slog.String("error", rmErr.Error()),
			)
		}
		return nil, &media.EncodeError{Codec: params.Codec, Err: err}
	}

	if err := cmd.Run(ctx, e.progress); err != nil {
		return fail(err)
	}
	out, err := encode.NewOutput(tmp, params)
	if err != nil {
		return fail(err)
	}
	if out.Size == 0 {
		return fail(errors.New("ffmpeg produced an empty file"))
	}
	return out, nil
}

// BuildEncodeCommand assembles the ffmpeg command for one attempt.
func BuildEncodeCommand(ffmpegPath, input string, tr *encode.TimeRange, params encode.ParameterSet, output string) *Command {
	b := NewCommandBuilder(ffmpegPath).
		HideBanner().
		NoStdin().
		Stats().
		Overwrite()

	accel := HWAccelType(params.HWAccel)
	if accel != "" && accel != HWAccelNone {
		b.GlobalArgs(hwDeviceArgs(accel, params.HWDevice)...)
	}
	if tr != nil {
		b.Seek(tr.Start).Duration(tr.Duration)
	}
	b.Input(input)

	switch {
	case params.RateControl == encode.RateCopy:
		b.OutputArgs("-map", "0", "-c", "copy", "-avoid_negative_ts", "make_zero")
	case IsAudioFormat(params.Format):
		codec := params.Codec
		if codec == "" {
			codec = params.AudioCodec
		}
		b.NoVideo().AudioCodec(codec)
		switch params.RateControl {
		case encode.RateQuality:
			b.OutputArgs(qualityArgs(codec, params.Quality)...)
		case encode.RateBitrate:
			b.AudioBitrate(params.BitrateKbps)
		}
	default:
		b.VideoFilter(hwUploadFilter(accel))
		b.VideoCodec(params.Codec)
		switch params.RateControl {
		case encode.RateQuality:
			b.OutputArgs(qualityArgs(params.Codec, params.Quality)...)
		case encode.RateBitrate:
			b.VideoBitrate(params.BitrateKbps)
			b.OutputArgs("-maxrate", fmt.Sprintf("%dk", params.BitrateKbps), "-bufsize", fmt.Sprintf("%dk", params.BitrateKbps*2))
		}
		if params.AudioCodec != "" {
			b.AudioCodec(params.AudioCodec)
			if params.AudioBitrateKbps > 0 {
				b.AudioBitrate(params.AudioBitrateKbps)
			}
		}
	}

	b.Threads(params.Threads)
	b.OutputArgs(params.Options...)
	muxer := muxerFor(params.Format)
	if muxer == "mp4" || muxer == "ipod" {
		b.OutputArgs("-movflags", "+faststart")
	}
	return b.Format(muxer).Output(output).Build()
}
