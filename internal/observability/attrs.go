package observability

import (
	"log/slog"

	"github.com/jmylchreest/squeezr/internal/media"
)

// WithComponent adds a component name to the logger for identifying the source.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithOperation adds an operation name to the logger.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String("operation", operation))
}

// WithError adds an error to the logger attributes.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// WithAsset adds the probed properties of an asset as an "asset" group.
// Unknown values are omitted.
func WithAsset(logger *slog.Logger, asset *media.MediaAsset) *slog.Logger {
	if asset == nil {
		return logger
	}
	attrs := []any{
		slog.String("kind", string(asset.Kind)),
		slog.String("format", asset.Format),
		slog.Int64("size", asset.ByteSize),
	}
	if asset.Duration > 0 {
		attrs = append(attrs, slog.Float64("duration", asset.Duration))
	}
	if res := asset.Resolution(); res != "" {
		attrs = append(attrs, slog.String("resolution", res))
	}
	if asset.VideoCodec != "" {
		attrs = append(attrs, slog.String("video_codec", asset.VideoCodec))
	}
	if asset.AudioCodec != "" {
		attrs = append(attrs, slog.String("audio_codec", asset.AudioCodec))
	}
	return logger.With(slog.Group("asset", attrs...))
}
