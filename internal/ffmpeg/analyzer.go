package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// DefaultAnalysisWindow is the width, in seconds, of one diagnostic line.
const DefaultAnalysisWindow = 1.0

// Analyzer produces the line-oriented diagnostic stream the boundary detector
// consumes. It runs an ffprobe frame pass over the first video stream and
// summarises it per window as "time=HH:MM:SS.ss bitrate=N.Nkbits/s WxH".
type Analyzer struct {
	ffprobePath string
	window      float64
}

// NewAnalyzer creates an analyzer using ffprobePath.
func NewAnalyzer(ffprobePath string) *Analyzer {
	return &Analyzer{ffprobePath: ffprobePath, window: DefaultAnalysisWindow}
}

// WithWindow sets the summary window in seconds.
func (a *Analyzer) WithWindow(seconds float64) *Analyzer {
	if seconds > 0 {
		a.window = seconds
	}
	return a
}

// Diagnostics starts the analysis pass. Closing the returned stream stops
// ffprobe. Files without video produce an empty stream.
func (a *Analyzer) Diagnostics(ctx context.Context, path string) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := &Command{
		Binary: a.ffprobePath,
		Args: []string{
			"-v", "error",
			"-select_streams", "v:0",
			"-show_entries", "frame=pts_time,best_effort_timestamp_time,pkt_size,width,height",
			"-of", "compact=p=0",
			path,
		},
	}
	stdout, wait, err := cmd.Start(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		sumErr := SummarizeFrames(stdout, pw, a.window)
		_, _ = io.Copy(io.Discard, stdout)
		waitErr := wait()
		if sumErr == nil {
			sumErr = waitErr
		}
		pw.CloseWithError(sumErr)
	}()

	return &diagnosticStream{PipeReader: pr, cancel: cancel}, nil
}

type diagnosticStream struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (d *diagnosticStream) Close() error {
	d.cancel()
	return d.PipeReader.Close()
}

// frameSample is one parsed ffprobe frame line.
type frameSample struct {
	pts    float64
	size   int64
	width  int
	height int
}

// parseFrameLine parses "key=value|key=value" output of `-of compact=p=0`.
func parseFrameLine(line string) (frameSample, bool) {
	var f frameSample
	havePTS := false
	bestEffort := math.NaN()
	for _, field := range strings.Split(line, "|") {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch k {
		case "pts_time":
			if t, err := strconv.ParseFloat(v, 64); err == nil {
				f.pts = t
				havePTS = true
			}
		case "best_effort_timestamp_time":
			if t, err := strconv.ParseFloat(v, 64); err == nil {
				bestEffort = t
			}
		case "pkt_size":
			f.size, _ = strconv.ParseInt(v, 10, 64)
		case "width":
			f.width, _ = strconv.Atoi(v)
		case "height":
			f.height, _ = strconv.Atoi(v)
		}
	}
	if !havePTS {
		if math.IsNaN(bestEffort) {
			return f, false
		}
		f.pts = bestEffort
	}
	return f, true
}

// SummarizeFrames reads frame lines from r and writes one summary line per
// window to w. The last window's bitrate is scaled to the span it covers.
func SummarizeFrames(r io.Reader, w io.Writer, window float64) error {
	if window <= 0 {
		window = DefaultAnalysisWindow
	}
	bw := bufio.NewWriter(w)

	var (
		have     bool
		idx      int64
		bytes    int64
		width    int
		height   int
		lastPTS  float64
		interval float64
	)

	flush := func(span float64) error {
		if span <= 0 {
			span = window
		}
		kbps := float64(bytes) * 8 / 1000 / span
		line := fmt.Sprintf("time=%s bitrate=%.1fkbits/s", formatClock(float64(idx)*window), kbps)
		if width > 0 && height > 0 {
			line += fmt.Sprintf(" %dx%d", width, height)
		}
		_, err := bw.WriteString(line + "\n")
		return err
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		f, ok := parseFrameLine(scanner.Text())
		if !ok || f.pts < 0 {
			continue
		}
		i := int64(math.Floor(f.pts / window))
		if have && i != idx {
			if err := flush(window); err != nil {
				return err
			}
			bytes = 0
		}
		if have && f.pts > lastPTS {
			interval = f.pts - lastPTS
		}
		have = true
		idx = i
		bytes += f.size
		if f.width > 0 && f.height > 0 {
			width, height = f.width, f.height
		}
		lastPTS = f.pts
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if have {
		span := min(lastPTS+interval-float64(idx)*window, window)
		if err := flush(span); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func formatClock(seconds float64) string {
	h := int(seconds / 3600)
	m := int(math.Mod(seconds, 3600) / 60)
	s := math.Mod(seconds, 60)
	return fmt.Sprintf("%02d:%02d:%05.2f", h, m, s)
}
