// Package observability provides structured logging for squeezr.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/m-mizutani/masq"

	"github.com/jmylchreest/squeezr/internal/config"
)

// LevelTrace is below debug and logs every diagnostic line and attempt.
const LevelTrace = slog.Level(-8)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// sensitiveFields are attribute keys whose values are always redacted.
var sensitiveFields = []string{
	"password", "Password",
	"secret", "Secret",
	"token", "Token",
	"apikey", "ApiKey", "api_key",
	"credential", "Credential",
	"dsn", "DSN",
}

// sensitiveParam matches key=value pairs in URLs and DSNs.
var sensitiveParam = regexp.MustCompile(`(?i)\b(password|token|apikey|api_key|secret|credential)=([^&\s]+)`)

// NewLogger creates a new slog.Logger based on the provided configuration.
// The logger writes to stderr so command output on stdout stays parseable.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stderr)
}

// NewLoggerWithWriter creates a new slog.Logger that writes to the provided writer.
// This is useful for testing or custom output destinations.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)
	redact := newRedactor()

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 {
				switch a.Key {
				case slog.TimeKey:
					if cfg.TimeFormat != "" {
						if t, ok := a.Value.Any().(time.Time); ok {
							return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
						}
					}
					return a
				case slog.LevelKey:
					if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
						return slog.String(slog.LevelKey, "TRACE")
					}
					return a
				}
			}
			return redact(groups, a)
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// newRedactor combines in-string parameter redaction with masq, which
// handles sensitive keys and struct fields tagged `masq:"secret"`.
func newRedactor() func([]string, slog.Attr) slog.Attr {
	opts := []masq.Option{
		masq.WithRedactMessage(RedactedValue),
		masq.WithTag("secret"),
	}
	for _, name := range sensitiveFields {
		opts = append(opts, masq.WithFieldName(name))
	}
	m := masq.New(opts...)

	return func(groups []string, a slog.Attr) slog.Attr {
		if a.Value.Kind() == slog.KindString {
			if s := a.Value.String(); sensitiveParam.MatchString(s) {
				a = slog.String(a.Key, RedactString(s))
			}
		}
		return m(groups, a)
	}
}

// RedactString masks the values of sensitive key=value pairs in s.
func RedactString(s string) string {
	return sensitiveParam.ReplaceAllString(s, "${1}="+RedactedValue)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch level {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault sets the provided logger as the default slog logger.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// TimedOperationWithError logs the start of an operation and returns a
// function that logs its completion or failure with the elapsed time. errPtr
// is read when the returned function runs, so it may be assigned later.
//
//	var err error
//	done := observability.TimedOperationWithError(ctx, logger, "compress", &err)
//	defer done()
func TimedOperationWithError(ctx context.Context, logger *slog.Logger, operation string, errPtr *error) func() {
	start := time.Now()
	logger.DebugContext(ctx, "operation started", slog.String("operation", operation))

	return func() {
		attrs := []slog.Attr{
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)),
		}
		level, msg := slog.LevelInfo, "operation completed"
		if errPtr != nil && *errPtr != nil {
			level, msg = slog.LevelError, "operation failed"
			attrs = append(attrs, slog.String("error", (*errPtr).Error()))
		}
		logger.LogAttrs(ctx, level, msg, attrs...)
	}
}
