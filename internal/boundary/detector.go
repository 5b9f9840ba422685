package boundary

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/jmylchreest/squeezr/internal/media"
)

// DiagnosticSource produces the line-oriented stream of an analysis pass.
type DiagnosticSource interface {
	Diagnostics(ctx context.Context, path string) (io.ReadCloser, error)
}

// Detector runs ProcessLine over a whole stream under a timeout.
type Detector struct {
	cfg    Config
	logger *slog.Logger
}

// NewDetector creates a detector. Zero thresholds fall back to defaults.
func NewDetector(cfg Config, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{cfg: cfg.withDefaults(), logger: logger}
}

// Config returns the effective thresholds.
func (d *Detector) Config() Config {
	return d.cfg
}

type scanResult struct {
	state State
	err   error
}

// Detect consumes stream until EOF, error or timeout and always closes it.
// Timeouts and read errors yield an empty list rather than an error, so
// callers fall back to uniform segmentation.
func (d *Detector) Detect(ctx context.Context, stream io.ReadCloser) []media.QualityChangeEvent {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	done := make(chan scanResult, 1)
	go func() {
		state, err := d.scan(stream)
		done <- scanResult{state: state, err: err}
	}()

	select {
	case res := <-done:
		_ = stream.Close()
		if res.err != nil {
			d.logger.Warn("diagnostic stream failed, ignoring boundaries",
				slog.String("error", res.err.Error()))
			return []media.QualityChangeEvent{}
		}
		events := Dedupe(res.state.Events, d.cfg.DedupWindow)
		d.logger.Debug("boundary detection complete",
			slog.Int("raw_events", len(res.state.Events)),
			slog.Int("events", len(events)))
		return events
	case <-ctx.Done():
		// Closing unblocks the scanning goroutine; it is not waited for.
		_ = stream.Close()
		d.logger.Warn("boundary detection timed out",
			slog.Duration("timeout", d.cfg.Timeout),
			slog.String("reason", ctx.Err().Error()))
		return []media.QualityChangeEvent{}
	}
}

// DetectPath opens the diagnostic stream for path and runs Detect on it.
// The timeout covers both the analysis process and the read.
func (d *Detector) DetectPath(ctx context.Context, src DiagnosticSource, path string) []media.QualityChangeEvent {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	stream, err := src.Diagnostics(ctx, path)
	if err != nil {
		d.logger.Warn("failed to start analysis pass",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return []media.QualityChangeEvent{}
	}
	return d.Detect(ctx, stream)
}

func (d *Detector) scan(r io.Reader) (State, error) {
	var state State
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(ScanLines)
	for scanner.Scan() {
		state = ProcessLine(state, scanner.Text(), d.cfg)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return state, err
	}
	return state, nil
}

// ScanLines is a bufio.SplitFunc that breaks on \n, \r or \r\n. ffmpeg
// rewrites its progress line with bare carriage returns.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' {
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
			} else if !atEOF {
				// Need one more byte to tell \r from \r\n.
				return 0, nil, nil
			}
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
