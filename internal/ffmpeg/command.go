package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Progress is one parsed ffmpeg stats line.
type Progress struct {
	Frame     int64         `json:"frame"`
	FPS       float64       `json:"fps"`
	Bitrate   string        `json:"bitrate"`
	TotalSize int64         `json:"total_size"`
	Time      time.Duration `json:"time"`
	Speed     float64       `json:"speed"`
}

// ProgressObserver receives progress updates. It must not block.
type ProgressObserver func(Progress)

// CommandBuilder builds ffmpeg invocations with a fluent API.
type CommandBuilder struct {
	binary     string
	globalArgs []string
	inputArgs  []string
	input      string
	filters    []string
	outputArgs []string
	output     string
	logLevel   string
	overwrite  bool
}

// NewCommandBuilder creates a builder for the ffmpeg binary at ffmpegPath.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets -loglevel.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner adds -hide_banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// NoStdin stops ffmpeg from reading the terminal.
func (b *CommandBuilder) NoStdin() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-nostdin")
	return b
}

// Stats forces progress lines on stderr even at low log levels.
func (b *CommandBuilder) Stats() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-stats")
	return b
}

// Overwrite adds -y.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// GlobalArgs appends arguments placed before the input.
func (b *CommandBuilder) GlobalArgs(args ...string) *CommandBuilder {
	b.globalArgs = append(b.globalArgs, args...)
	return b
}

// Seek sets an input-side -ss in seconds. Zero is omitted.
func (b *CommandBuilder) Seek(seconds float64) *CommandBuilder {
	if seconds > 0 {
		b.inputArgs = append(b.inputArgs, "-ss", formatSeconds(seconds))
	}
	return b
}

// Duration limits the read length with -t. Zero is omitted.
func (b *CommandBuilder) Duration(seconds float64) *CommandBuilder {
	if seconds > 0 {
		b.inputArgs = append(b.inputArgs, "-t", formatSeconds(seconds))
	}
	return b
}

// Input sets the input path.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// VideoCodec sets -c:v.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// AudioCodec sets -c:a.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// NoVideo drops video streams.
func (b *CommandBuilder) NoVideo() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-vn")
	return b
}

// VideoBitrate sets -b:v in kbps.
func (b *CommandBuilder) VideoBitrate(kbps int64) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:v", fmt.Sprintf("%dk", kbps))
	return b
}

// AudioBitrate sets -b:a in kbps.
func (b *CommandBuilder) AudioBitrate(kbps int64) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:a", fmt.Sprintf("%dk", kbps))
	return b
}

// VideoPreset sets -preset.
func (b *CommandBuilder) VideoPreset(preset string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-preset", preset)
	return b
}

// VideoFilter appends to the -vf chain.
func (b *CommandBuilder) VideoFilter(filter string) *CommandBuilder {
	if filter != "" {
		b.filters = append(b.filters, filter)
	}
	return b
}

// Threads sets -threads. Zero lets ffmpeg decide.
func (b *CommandBuilder) Threads(n int) *CommandBuilder {
	if n > 0 {
		b.outputArgs = append(b.outputArgs, "-threads", strconv.Itoa(n))
	}
	return b
}

// OutputArgs appends arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Format forces the output muxer.
func (b *CommandBuilder) Format(format string) *CommandBuilder {
	if format != "" {
		b.outputArgs = append(b.outputArgs, "-f", format)
	}
	return b
}

// Output sets the output path.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build assembles the command.
func (b *CommandBuilder) Build() *Command {
	args := make([]string, 0, 16+len(b.globalArgs)+len(b.inputArgs)+len(b.outputArgs))
	args = append(args, b.globalArgs...)
	if b.logLevel != "" {
		args = append(args, "-loglevel", b.logLevel)
	}
	if b.overwrite {
		args = append(args, "-y")
	}
	args = append(args, b.inputArgs...)
	if b.input != "" {
		args = append(args, "-i", b.input)
	}
	if len(b.filters) > 0 {
		args = append(args, "-vf", strings.Join(b.filters, ","))
	}
	args = append(args, b.outputArgs...)
	if b.output != "" {
		args = append(args, b.output)
	}
	return &Command{Binary: b.binary, Args: args}
}

// Command is a built ffmpeg invocation.
type Command struct {
	Binary string
	Args   []string

	// OnStart, when set, is called with the pid once the process is running.
	// The returned func is called after the process exits.
	OnStart func(pid int) (stop func())

	stderrMu    sync.Mutex
	stderrLines []string
}

// String renders the command line for logs.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

const maxStderrLines = 50

// Run executes the command to completion. Progress lines are parsed and sent
// to observer when non-nil. A failure includes the tail of stderr.
func (c *Command) Run(ctx context.Context, observer ProgressObserver) error {
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("getting stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}
	if c.OnStart != nil {
		stop := c.OnStart(cmd.Process.Pid)
		defer stop()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.captureStderr(stderr, observer)
	}()
	<-done

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &ExitError{Err: err, Stderr: c.StderrTail()}
	}
	return nil
}

// Start runs the command in the background and returns its stdout. The
// caller must drain stdout and then call wait.
func (c *Command) Start(ctx context.Context) (stdout io.ReadCloser, wait func() error, err error) {
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	stdout, err = cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("getting stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("getting stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("starting %s: %w", c.Binary, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.captureStderr(stderr, nil)
	}()

	wait = func() error {
		<-done
		if err := cmd.Wait(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return &ExitError{Err: err, Stderr: c.StderrTail()}
		}
		return nil
	}
	return stdout, wait, nil
}

// captureStderr keeps the last lines of stderr and feeds progress lines to
// observer. ffmpeg rewrites its stats line with \r, so split on both.
func (c *Command) captureStderr(r io.Reader, observer ProgressObserver) {
	scanner := bufio.NewScanner(r)
	scanner.Split(scanCRLF)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		c.stderrMu.Lock()
		if len(c.stderrLines) >= maxStderrLines {
			c.stderrLines = c.stderrLines[1:]
		}
		c.stderrLines = append(c.stderrLines, line)
		c.stderrMu.Unlock()

		if observer != nil {
			if p, ok := ParseProgress(line); ok {
				observer(p)
			}
		}
	}
	// Drain anything left so the process never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

// StderrTail returns the captured stderr lines joined by newlines.
func (c *Command) StderrTail() string {
	c.stderrMu.Lock()
	defer c.stderrMu.Unlock()
	return strings.Join(c.stderrLines, "\n")
}

// ExitError is a non-zero ffmpeg exit with its stderr tail.
type ExitError struct {
	Err    error
	Stderr string
}

func (e *ExitError) Error() string {
	last := e.Stderr
	if i := strings.LastIndexByte(last, '\n'); i >= 0 {
		last = last[i+1:]
	}
	if last == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, last)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode returns the process exit code, or -1 when unknown.
func (e *ExitError) ExitCode() int {
	var ee *exec.ExitError
	if errors.As(e.Err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

var (
	frameRe   = regexp.MustCompile(`frame=\s*(\d+)`)
	fpsRe     = regexp.MustCompile(`fps=\s*([\d.]+)`)
	bitrateRe = regexp.MustCompile(`bitrate=\s*([\d.]+\s*\w+/s)`)
	sizeRe    = regexp.MustCompile(`size=\s*(\d+)\s*([kKmM]i?B)?`)
	timeRe    = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2})\.(\d+)`)
	speedRe   = regexp.MustCompile(`speed=\s*([\d.]+)x`)
)

// ParseProgress parses an ffmpeg stats line. Lines without a time= token are
// not progress.
func ParseProgress(line string) (Progress, bool) {
	m := timeRe.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}
	var p Progress
	hours, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	secs, _ := strconv.Atoi(m[3])
	frac, _ := strconv.ParseFloat("0."+m[4], 64)
	p.Time = time.Duration(hours)*time.Hour +
		time.Duration(mins)*time.Minute +
		time.Duration(secs)*time.Second +
		time.Duration(frac*float64(time.Second))

	if m := frameRe.FindStringSubmatch(line); m != nil {
		p.Frame, _ = strconv.ParseInt(m[1], 10, 64)
	}
	if m := fpsRe.FindStringSubmatch(line); m != nil {
		p.FPS, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := bitrateRe.FindStringSubmatch(line); m != nil {
		p.Bitrate = m[1]
	}
	if m := sizeRe.FindStringSubmatch(line); m != nil {
		n, _ := strconv.ParseInt(m[1], 10, 64)
		switch strings.ToLower(m[2]) {
		case "kb", "kib":
			n *= 1024
		case "mb", "mib":
			n *= 1024 * 1024
		}
		p.TotalSize = n
	}
	if m := speedRe.FindStringSubmatch(line); m != nil {
		p.Speed, _ = strconv.ParseFloat(m[1], 64)
	}
	return p, true
}

func scanCRLF(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
