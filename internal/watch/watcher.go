// Package watch compresses new files in a directory on a cron schedule, and
// optionally as soon as the filesystem reports them.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/squeezr/internal/compressor"
	"github.com/jmylchreest/squeezr/internal/config"
	"github.com/jmylchreest/squeezr/internal/imagecodec"
	"github.com/jmylchreest/squeezr/internal/media"
	"github.com/jmylchreest/squeezr/internal/metrics"
)

// DefaultDebounce is used when the configured debounce is not positive.
const DefaultDebounce = 5 * time.Second

// mediaExtensions are watched in addition to imagecodec.Extensions when no
// extension list is configured.
var mediaExtensions = []string{
	".mp4", ".m4v", ".mov", ".mkv", ".webm", ".avi",
	".mp3", ".m4a", ".aac", ".ogg", ".opus", ".flac", ".wav",
}

// outputName matches files squeezr itself writes, so a shared input and
// output directory is not re-processed.
var outputName = regexp.MustCompile(`\.(squeezed|part\d{3})\.[^.]+$`)

// Compressor runs one compression.
type Compressor interface {
	Compress(ctx context.Context, req media.CompressionRequest) (*compressor.Result, error)
}

// History answers whether a file version was already compressed.
type History interface {
	HasSucceeded(ctx context.Context, fingerprint string) (bool, error)
}

// Purger drops expired cache entries.
type Purger interface {
	Purge() int
}

// Config describes one watched directory.
type Config struct {
	InputDir   string
	OutputDir  string
	Schedule   string
	Target     int64
	Mode       media.Mode
	Align      bool
	FSNotify   bool
	Debounce   time.Duration
	Extensions []string
}

// ConfigFrom converts the watch section of the application config.
func ConfigFrom(c config.WatchConfig) (Config, error) {
	mode, err := media.ParseMode(c.Mode)
	if err != nil {
		return Config{}, err
	}
	return Config{
		InputDir:   c.InputDir,
		OutputDir:  c.OutputDir,
		Schedule:   c.Schedule,
		Target:     int64(c.Target),
		Mode:       mode,
		Align:      c.Align,
		FSNotify:   c.FSNotify,
		Debounce:   c.Debounce,
		Extensions: c.Extensions,
	}, nil
}

// Summary counts the files handled by one scan.
type Summary struct {
	Compressed int
	Skipped    int
	Failed     int
	At         time.Time
}

// Watcher scans InputDir and compresses files not seen before.
type Watcher struct {
	cfg        Config
	compressor Compressor
	schedule   cron.Schedule
	parser     cron.Parser
	extensions map[string]bool
	logger     *slog.Logger

	history  History
	purgers  []Purger
	metrics  *metrics.Metrics
	textfile string

	// mu serializes scans; seen holds fingerprints attempted by this process.
	mu   sync.Mutex
	seen map[string]bool
}

// New validates cfg and creates a watcher.
func New(cfg Config, comp Compressor) (*Watcher, error) {
	if cfg.InputDir == "" {
		return nil, errors.New("watch input directory is required")
	}
	if cfg.Target <= 0 {
		return nil, fmt.Errorf("watch target must be positive, got %d", cfg.Target)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	dir, err := filepath.Abs(cfg.InputDir)
	if err != nil {
		return nil, fmt.Errorf("resolving watch directory: %w", err)
	}
	cfg.InputDir = dir

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parsing watch schedule %q: %w", cfg.Schedule, err)
	}

	exts := make(map[string]bool)
	if len(cfg.Extensions) == 0 {
		for _, e := range mediaExtensions {
			exts[e] = true
		}
		for e := range imagecodec.Extensions {
			exts[e] = true
		}
	}
	for _, e := range cfg.Extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}

	return &Watcher{
		cfg:        cfg,
		compressor: comp,
		schedule:   schedule,
		parser:     parser,
		extensions: exts,
		logger:     slog.Default(),
		seen:       make(map[string]bool),
	}, nil
}

// WithLogger sets the logger.
func (w *Watcher) WithLogger(logger *slog.Logger) *Watcher {
	w.logger = logger
	return w
}

// WithHistory skips files the history store already has output for.
func (w *Watcher) WithHistory(h History) *Watcher {
	w.history = h
	return w
}

// WithCachePurge purges the given caches after every scan.
func (w *Watcher) WithCachePurge(p ...Purger) *Watcher {
	w.purgers = append(w.purgers, p...)
	return w
}

// WithMetrics records scans in m and rewrites textfile after each one.
func (w *Watcher) WithMetrics(m *metrics.Metrics, textfile string) *Watcher {
	w.metrics = m
	w.textfile = textfile
	return w
}

// Next returns the next scheduled scan after t.
func (w *Watcher) Next(t time.Time) time.Time {
	return w.schedule.Next(t)
}

// Matches reports whether path is a candidate for compression.
func (w *Watcher) Matches(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || outputName.MatchString(name) {
		return false
	}
	return w.extensions[strings.ToLower(filepath.Ext(name))]
}

// Scan compresses every new candidate in the input directory once.
func (w *Watcher) Scan(ctx context.Context) (Summary, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := os.ReadDir(w.cfg.InputDir)
	if err != nil {
		return Summary{}, fmt.Errorf("reading watch directory: %w", err)
	}

	var sum Summary
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.Type().IsRegular() || !w.Matches(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		path := filepath.Join(w.cfg.InputDir, entry.Name())
		fp := media.Fingerprint(path, info.Size(), info.ModTime())
		if w.done(ctx, fp) {
			sum.Skipped++
			continue
		}
		w.seen[fp] = true

		res, err := w.compressor.Compress(ctx, media.CompressionRequest{
			Path:              path,
			TargetSize:        w.cfg.Target,
			Mode:              w.cfg.Mode,
			AlignToBoundaries: w.cfg.Align,
			OutputDir:         w.cfg.OutputDir,
		})
		if err != nil {
			sum.Failed++
			w.logger.Warn("watch compression failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		sum.Compressed++
		w.logger.Info("watch compressed file",
			slog.String("path", path),
			slog.String("status", string(res.Status())),
			slog.Any("outputs", res.OutputRefs()))
	}
	sum.At = time.Now()

	purged := 0
	for _, p := range w.purgers {
		purged += p.Purge()
	}
	if w.metrics != nil {
		w.metrics.ObserveWatchRun(sum.Compressed, sum.Skipped, sum.Failed, sum.At)
		if err := w.metrics.WriteTextfile(w.textfile); err != nil {
			w.logger.Warn("failed to write metrics textfile",
				slog.String("path", w.textfile),
				slog.String("error", err.Error()))
		}
	}

	w.logger.Info("watch scan complete",
		slog.Int("compressed", sum.Compressed),
		slog.Int("skipped", sum.Skipped),
		slog.Int("failed", sum.Failed),
		slog.Int("cache_purged", purged))
	return sum, ctx.Err()
}

// done reports whether fp was attempted by this process or recorded as
// compressed. History errors count as not done.
func (w *Watcher) done(ctx context.Context, fp string) bool {
	if w.seen[fp] {
		return true
	}
	if w.history == nil {
		return false
	}
	ok, err := w.history.HasSucceeded(ctx, fp)
	if err != nil {
		w.logger.Warn("history lookup failed", slog.String("error", err.Error()))
		return false
	}
	return ok
}

func (w *Watcher) scan(ctx context.Context, trigger string) {
	w.logger.Debug("watch scan triggered", slog.String("trigger", trigger))
	if _, err := w.Scan(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Error("watch scan failed", slog.String("error", err.Error()))
	}
}

// Run scans on the schedule (and on filesystem events when enabled) until
// ctx is cancelled. A scheduled scan is skipped while another is running.
func (w *Watcher) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithParser(w.parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(w.cfg.Schedule, func() { w.scan(ctx, "schedule") }); err != nil {
		return fmt.Errorf("scheduling watch scan: %w", err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	w.logger.Info("watching directory",
		slog.String("dir", w.cfg.InputDir),
		slog.String("schedule", w.cfg.Schedule),
		slog.Time("next_run", w.Next(time.Now())),
		slog.Bool("fsnotify", w.cfg.FSNotify))

	if w.cfg.FSNotify {
		return w.watchFS(ctx)
	}
	<-ctx.Done()
	return nil
}

// watchFS triggers a scan Debounce after the first matching create or write
// event. Events arriving while the timer runs join that scan.
func (w *Watcher) watchFS(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.cfg.InputDir); err != nil {
		return fmt.Errorf("watching %s: %w", w.cfg.InputDir, err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !w.Matches(ev.Name) || timer != nil {
				continue
			}
			timer = time.NewTimer(w.cfg.Debounce)
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", slog.String("error", err.Error()))
		case <-fire:
			timer, fire = nil, nil
			w.scan(ctx, "fsnotify")
		}
	}
}
