// Package boundary mines an encoder diagnostic stream for quality-change
// events: bitrate jumps and resolution switches.
package boundary

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/jmylchreest/squeezr/internal/media"
)

// Config holds the detector thresholds.
type Config struct {
	// MinInterval is the per-line debounce measured from the last event.
	MinInterval time.Duration `mapstructure:"min_interval"`
	// BitrateThresholdKbps is the smallest bitrate delta reported as a change.
	BitrateThresholdKbps float64 `mapstructure:"bitrate_threshold_kbps"`
	// DedupWindow collapses raw events closer than this, keeping the earlier.
	DedupWindow time.Duration `mapstructure:"dedup_window"`
	// Timeout bounds a whole Detect call.
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MinInterval:          3 * time.Second,
		BitrateThresholdKbps: 150,
		DedupWindow:          2 * time.Second,
		Timeout:              30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	if c.BitrateThresholdKbps <= 0 {
		c.BitrateThresholdKbps = d.BitrateThresholdKbps
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// State is the running detector state. The zero value is ready to use.
type State struct {
	PreviousBitrate    float64
	PreviousResolution string
	LastEventTimestamp float64
	Events             []media.QualityChangeEvent
}

var (
	timeRe       = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	bitrateRe    = regexp.MustCompile(`bitrate[:=]\s*([\d.]+)\s*kbits/s`)
	resolutionRe = regexp.MustCompile(`\b(\d{2,5})x(\d{2,5})\b`)
)

// ParseTimestamp extracts the time=HH:MM:SS.sss token in seconds.
func ParseTimestamp(line string) (float64, bool) {
	m := timeRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	h, _ := strconv.ParseFloat(m[1], 64)
	mm, _ := strconv.ParseFloat(m[2], 64)
	s, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}
	return h*3600 + mm*60 + s, true
}

func parseBitrate(line string) (float64, bool) {
	m := bitrateRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseResolution(line string) (string, bool) {
	m := resolutionRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1] + "x" + m[2], true
}

// ProcessLine consumes one diagnostic line and returns the updated state.
// Lines without a timestamp, or within MinInterval of the last event, leave
// the state untouched. The last event starts at zero, so the opening
// MinInterval of the stream is never a baseline.
func ProcessLine(s State, line string, cfg Config) State {
	ts, ok := ParseTimestamp(line)
	if !ok {
		return s
	}
	if ts-s.LastEventTimestamp < cfg.MinInterval.Seconds() {
		return s
	}

	if br, ok := parseBitrate(line); ok {
		if s.PreviousBitrate > 0 && math.Abs(br-s.PreviousBitrate) > cfg.BitrateThresholdKbps {
			s = emit(s, media.QualityChangeEvent{
				Timestamp: ts,
				Kind:      media.EventBitrateChange,
				From:      formatKbps(s.PreviousBitrate),
				To:        formatKbps(br),
			})
		}
		s.PreviousBitrate = br
	}

	if res, ok := parseResolution(line); ok {
		if s.PreviousResolution != "" && res != s.PreviousResolution {
			s = emit(s, media.QualityChangeEvent{
				Timestamp: ts,
				Kind:      media.EventResolutionChange,
				From:      s.PreviousResolution,
				To:        res,
			})
		}
		s.PreviousResolution = res
	}

	return s
}

func emit(s State, ev media.QualityChangeEvent) State {
	events := make([]media.QualityChangeEvent, len(s.Events), len(s.Events)+1)
	copy(events, s.Events)
	s.Events = append(events, ev)
	s.LastEventTimestamp = ev.Timestamp
	return s
}

func formatKbps(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Dedupe sorts events by timestamp and drops any event within window of the
// last kept one.
func Dedupe(events []media.QualityChangeEvent, window time.Duration) []media.QualityChangeEvent {
	if len(events) == 0 {
		return []media.QualityChangeEvent{}
	}
	sorted := make([]media.QualityChangeEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	w := window.Seconds()
	out := sorted[:1]
	for _, ev := range sorted[1:] {
		if ev.Timestamp-out[len(out)-1].Timestamp < w {
			continue
		}
		out = append(out, ev)
	}
	return out
}
