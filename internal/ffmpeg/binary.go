// Package ffmpeg drives the ffmpeg and ffprobe command line tools: binary
// discovery, metadata probing, encoding, and the diagnostic analysis pass
// used for boundary detection.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Environment variables that override binary discovery.
const (
	EnvFFmpegBinary  = "SQUEEZR_FFMPEG_BINARY"
	EnvFFprobeBinary = "SQUEEZR_FFPROBE_BINARY"
)

// ErrBinaryNotFound is returned when a required executable cannot be located.
var ErrBinaryNotFound = errors.New("binary not found")

// BinaryInfo describes the detected ffmpeg installation.
type BinaryInfo struct {
	FFmpegPath   string   `json:"ffmpeg_path"`
	FFprobePath  string   `json:"ffprobe_path"`
	Version      string   `json:"version"`
	MajorVersion int      `json:"major_version"`
	MinorVersion int      `json:"minor_version"`
	Encoders     []string `json:"encoders,omitempty"`
	HWAccels     []string `json:"hw_accels,omitempty"`
}

// HasEncoder reports whether ffmpeg lists the named encoder.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return info != nil && slices.Contains(info.Encoders, name)
}

// HasHWAccel reports whether ffmpeg lists the named hwaccel method.
func (info *BinaryInfo) HasHWAccel(name string) bool {
	return info != nil && slices.Contains(info.HWAccels, name)
}

// BinaryDetector locates ffmpeg/ffprobe and caches their capabilities.
type BinaryDetector struct {
	ffmpegPath  string
	ffprobePath string

	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a detector. Empty paths are discovered from the
// environment, the working directory and PATH.
func NewBinaryDetector(ffmpegPath, ffprobePath string) *BinaryDetector {
	return &BinaryDetector{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		cacheTTL:    5 * time.Minute,
	}
}

// WithCacheTTL sets how long a detection result is reused.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// Detect returns the cached installation info, detecting it if stale.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}
	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Clear drops the cached result.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	ffmpegPath, err := FindBinary("ffmpeg", d.ffmpegPath, EnvFFmpegBinary)
	if err != nil {
		return nil, err
	}
	ffprobePath, err := FindBinary("ffprobe", d.ffprobePath, EnvFFprobeBinary)
	if err != nil {
		return nil, err
	}

	info := &BinaryInfo{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}

	out, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	info.Version, info.MajorVersion, info.MinorVersion, err = parseVersion(string(out))
	if err != nil {
		return nil, err
	}

	// Capability listings are best effort; an empty list only narrows the
	// fallback chain to software encoders.
	if out, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders").Output(); err == nil {
		info.Encoders = parseEncoders(string(out))
	}
	if out, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-hwaccels").Output(); err == nil {
		info.HWAccels = parseHWAccels(string(out))
	}

	return info, nil
}

var versionRe = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

func parseVersion(output string) (full string, major, minor int, err error) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, "ffmpeg version") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			break
		}
		full = parts[2]
		if m := versionRe.FindStringSubmatch(full); m != nil {
			major, _ = strconv.Atoi(m[1])
			minor, _ = strconv.Atoi(m[2])
		}
		return full, major, minor, nil
	}
	return "", 0, 0, errors.New("failed to parse ffmpeg version")
}

// parseEncoders reads `ffmpeg -encoders`. Lines after the dashed separator
// look like " V....D libx264   libx264 H.264 / AVC ...".
func parseEncoders(output string) []string {
	var encoders []string
	inList := false
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		switch fields[0][0] {
		case 'V', 'A', 'S':
			encoders = append(encoders, fields[1])
		}
	}
	return encoders
}

func parseHWAccels(output string) []string {
	var accels []string
	inList := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "Hardware acceleration methods:" {
			inList = true
			continue
		}
		if inList && line != "" {
			accels = append(accels, line)
		}
	}
	return accels
}

// FindBinary resolves an executable. Search order: the configured path, the
// environment variable, ./name, then PATH.
func FindBinary(name, configured, envVar string) (string, error) {
	if configured != "" {
		if isExecutable(configured) {
			return configured, nil
		}
		return "", fmt.Errorf("%s at %s: %w", name, configured, ErrBinaryNotFound)
	}
	if envVar != "" {
		if p := os.Getenv(envVar); p != "" && isExecutable(p) {
			return p, nil
		}
	}
	if local := "./" + name; isExecutable(local) {
		return local, nil
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("%s: %w", name, ErrBinaryNotFound)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
