package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/squeezr/internal/boundary"
	"github.com/jmylchreest/squeezr/internal/cache"
	"github.com/jmylchreest/squeezr/internal/compressor"
	"github.com/jmylchreest/squeezr/internal/config"
	"github.com/jmylchreest/squeezr/internal/database"
	"github.com/jmylchreest/squeezr/internal/encode"
	"github.com/jmylchreest/squeezr/internal/ffmpeg"
	"github.com/jmylchreest/squeezr/internal/imagecodec"
	"github.com/jmylchreest/squeezr/internal/metrics"
	"github.com/jmylchreest/squeezr/internal/repository"
	"github.com/jmylchreest/squeezr/internal/scheduler"
	"github.com/jmylchreest/squeezr/internal/startup"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	metadata *cache.MetadataCache
	params   *cache.ParamCache
	prober   cache.Prober
	service  *compressor.Service

	db      *database.DB
	history repository.HistoryRepository
}

// appOptions selects optional parts of the stack.
type appOptions struct {
	history bool
	// progress logs ffmpeg progress lines at debug level.
	progress bool
}

// newApp wires the compressor from configuration. A missing ffmpeg is not
// fatal: images are still handled in-process.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	ws, err := encode.NewWorkspace(cfg.Storage.TempPath())
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	if n, err := startup.CleanupOrphanedAttempts(logger, ws.Dir(), startup.DefaultCleanupAge); err == nil && n > 0 {
		logger.Info("cleaned orphaned encode attempts", slog.Int("removed_count", n))
	}

	var (
		mediaProber cache.Prober
		mediaEnc    encode.Encoder
		chains      compressor.ChainFactory
		analyzer    *ffmpeg.Analyzer
	)
	ffmpegPath, ffprobePath, err := findBinaries(cfg.FFmpeg)
	if err != nil {
		logger.Warn("ffmpeg not available, only images can be compressed",
			slog.String("error", err.Error()))
	} else {
		info, err := ffmpeg.NewBinaryDetector(ffmpegPath, ffprobePath).Detect(ctx)
		if err != nil {
			logger.Warn("ffmpeg capability detection failed, using software encoders",
				slog.String("error", err.Error()))
			info = nil
		} else {
			logger.Debug("detected ffmpeg",
				slog.String("version", info.Version),
				slog.Int("encoders", len(info.Encoders)),
				slog.Any("hwaccels", info.HWAccels))
		}

		builder, err := ffmpeg.NewChainBuilder(info, chainOptions(cfg))
		if err != nil {
			return nil, fmt.Errorf("building encoder chains: %w", err)
		}
		chains = builder

		encOpts := []ffmpeg.EncoderOption{
			ffmpeg.WithEncoderLogger(logger),
			ffmpeg.WithUsageObserver(a.metrics.ObserveUsage, cfg.FFmpeg.SampleInterval),
		}
		if opts.progress {
			encOpts = append(encOpts, ffmpeg.WithProgressObserver(func(p ffmpeg.Progress) {
				logger.Debug("encode progress",
					slog.Duration("time", p.Time),
					slog.Float64("speed", p.Speed),
					slog.Int64("size", p.TotalSize))
			}))
		}
		mediaEnc = ffmpeg.NewEncoder(ffmpegPath, ws, encOpts...)
		mediaProber = ffmpeg.NewProber(ffprobePath).WithTimeout(cfg.FFmpeg.ProbeTimeout)
		analyzer = ffmpeg.NewAnalyzer(ffprobePath).WithWindow(cfg.Boundary.AnalysisWindow)
	}

	a.metadata = cache.NewMetadataCache(cfg.Cache.MetadataMaxEntries, cfg.Cache.MetadataTTL, nil)
	a.params = cache.NewParamCache(cfg.Cache.ParamMaxEntries, cfg.Cache.ParamTTL, nil)
	a.prober = cache.NewCachingProber(
		compressor.NewKindProber(mediaProber, imagecodec.NewProber()),
		a.metadata,
		a.metrics.ObserveCacheLookup,
	)

	router := compressor.NewRouter(mediaEnc, imagecodec.NewEncoder(ws, cfg.Image.MaxDimension))
	sched := scheduler.New(router,
		scheduler.WithLogger(logger),
		scheduler.WithAttemptHook(a.metrics.AttemptHook()))

	a.service = compressor.New(a.prober, router, compressor.NewChains(chains), compressor.OptionsFromConfig(cfg)).
		WithLogger(logger).
		WithScheduler(sched).
		WithParamCache(a.params).
		WithObserver(a.metrics).
		WithCacheObserver(a.metrics.ObserveCacheLookup)
	if analyzer != nil {
		a.service.WithBoundaryDetection(analyzer, boundary.NewDetector(boundaryConfig(cfg.Boundary), logger))
	}

	if opts.history && cfg.Database.Enabled {
		if err := a.openHistory(ctx); err != nil {
			return nil, err
		}
		a.service.WithHistory(a.history)
	}
	return a, nil
}

// openHistory connects the history store and applies migrations.
func (a *app) openHistory(ctx context.Context) error {
	db, err := database.Open(ctx, a.cfg.Database, a.logger)
	if err != nil {
		return fmt.Errorf("opening history database: %w", err)
	}
	a.db = db
	a.history = repository.NewHistoryRepository(db.DB)
	return nil
}

// close releases the database and writes the metrics textfile.
func (a *app) close() {
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.TextfilePath); err != nil {
		a.logger.Warn("failed to write metrics textfile",
			slog.String("path", a.cfg.Metrics.TextfilePath),
			slog.String("error", err.Error()))
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database", slog.String("error", err.Error()))
		}
	}
}

func findBinaries(c config.FFmpegConfig) (ffmpegPath, ffprobePath string, err error) {
	ffmpegPath, err = ffmpeg.FindBinary("ffmpeg", c.BinaryPath, ffmpeg.EnvFFmpegBinary)
	if err != nil {
		return "", "", err
	}
	ffprobePath, err = ffmpeg.FindBinary("ffprobe", c.ProbePath, ffmpeg.EnvFFprobeBinary)
	if err != nil {
		return "", "", err
	}
	return ffmpegPath, ffprobePath, nil
}

func chainOptions(cfg *config.Config) ffmpeg.ChainOptions {
	opts := ffmpeg.ChainOptions{
		HWDevice:         cfg.FFmpeg.HWDevice,
		Threads:          cfg.FFmpeg.Threads,
		AudioBitrateKbps: cfg.Estimate.AudioBitrateKbps,
		ExtraOptions:     make(map[string][]string, len(cfg.FFmpeg.ExtraOptions)),
	}
	for _, accel := range cfg.FFmpeg.HWAccelPriority {
		opts.HWAccelPriority = append(opts.HWAccelPriority, ffmpeg.HWAccelType(accel))
	}
	for format, extra := range cfg.FFmpeg.ExtraOptions {
		opts.ExtraOptions[format] = ffmpeg.SplitOptions(extra)
	}
	return opts
}

func boundaryConfig(c config.BoundaryConfig) boundary.Config {
	return boundary.Config{
		MinInterval:          c.MinInterval,
		BitrateThresholdKbps: c.BitrateThresholdKbps,
		DedupWindow:          c.DedupWindow,
		Timeout:              c.Timeout,
	}
}
