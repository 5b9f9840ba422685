// Package compressor drives one compression end to end: probe the asset,
// plan the work, search for parameters that meet the ceiling, run the encodes
// and persist the outputs.
package compressor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/squeezr/internal/boundary"
	"github.com/jmylchreest/squeezr/internal/cache"
	"github.com/jmylchreest/squeezr/internal/encode"
	"github.com/jmylchreest/squeezr/internal/media"
	"github.com/jmylchreest/squeezr/internal/observability"
	"github.com/jmylchreest/squeezr/internal/repository"
	"github.com/jmylchreest/squeezr/internal/scheduler"
	"github.com/jmylchreest/squeezr/internal/search"
	"github.com/jmylchreest/squeezr/internal/segment"
)

// ParameterSource is reported when the source already fits and is copied.
const ParameterSource = "source"

// Observer receives run telemetry. *metrics.Metrics implements it.
type Observer interface {
	ObserveSearch(res *search.Result)
	ObserveBoundaryEvents(n int)
	ObserveCompression(mode media.Mode, status string, elapsed time.Duration)
}

// Service compresses assets to a byte ceiling.
type Service struct {
	prober  cache.Prober
	encoder encode.Encoder
	chains  ChainFactory
	opts    Options
	logger  *slog.Logger

	sched       *scheduler.Scheduler
	customSched bool

	params      *cache.ParamCache
	diagnostics boundary.DiagnosticSource
	detector    *boundary.Detector
	history     repository.HistoryRepository
	observer    Observer
	onLookup    cache.LookupFunc
}

// New creates a compressor. Zero-valued options fall back to DefaultOptions.
func New(prober cache.Prober, encoder encode.Encoder, chains ChainFactory, opts Options) *Service {
	return &Service{
		prober:  prober,
		encoder: encoder,
		chains:  chains,
		opts:    withDefaults(opts),
		logger:  slog.Default(),
		sched:   scheduler.New(encoder),
	}
}

func withDefaults(o Options) Options {
	d := DefaultOptions()
	if o.RateControl == "" {
		o.RateControl = d.RateControl
	}
	if o.QualityDomain == (search.Domain{}) {
		o.QualityDomain = d.QualityDomain
	}
	if o.BitrateDomain == (search.Domain{}) {
		o.BitrateDomain = d.BitrateDomain
	}
	if o.AudioDomain == (search.Domain{}) {
		o.AudioDomain = d.AudioDomain
	}
	if o.MinBitrateKbps <= 0 {
		o.MinBitrateKbps = d.MinBitrateKbps
	}
	if o.AudioBitrateKbps <= 0 {
		o.AudioBitrateKbps = d.AudioBitrateKbps
	}
	return o
}

// WithLogger sets the logger for the service.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = observability.WithComponent(logger, "compressor")
	if !s.customSched {
		s.sched = scheduler.New(s.encoder, scheduler.WithLogger(s.logger))
	}
	return s
}

// WithScheduler replaces the default scheduler, e.g. to attach an attempt hook.
func (s *Service) WithScheduler(sched *scheduler.Scheduler) *Service {
	s.sched = sched
	s.customSched = true
	return s
}

// WithParamCache enables initial guesses from earlier searches.
func (s *Service) WithParamCache(c *cache.ParamCache) *Service {
	s.params = c
	return s
}

// WithBoundaryDetection enables boundary-aligned segmentation.
func (s *Service) WithBoundaryDetection(src boundary.DiagnosticSource, detector *boundary.Detector) *Service {
	s.diagnostics = src
	s.detector = detector
	return s
}

// WithHistory records every run in repo.
func (s *Service) WithHistory(repo repository.HistoryRepository) *Service {
	s.history = repo
	return s
}

// WithObserver attaches run telemetry.
func (s *Service) WithObserver(o Observer) *Service {
	s.observer = o
	return s
}

// WithCacheObserver reports parameter cache lookups.
func (s *Service) WithCacheObserver(fn cache.LookupFunc) *Service {
	s.onLookup = fn
	return s
}

// Compress runs one request. Fatal errors are *media.StageError.
func (s *Service) Compress(ctx context.Context, req media.CompressionRequest) (res *Result, err error) {
	start := time.Now()
	if err = req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	mode, _ := media.ParseMode(string(req.Mode))

	logger := s.logger.With(
		slog.String("path", req.Path),
		slog.Int64("target", req.TargetSize),
	)
	done := observability.TimedOperationWithError(ctx, logger, "compress", &err)
	defer done()

	asset, err := s.prober.Probe(ctx, req.Path)
	if err != nil {
		err = media.WrapStage(media.StageProbe, err)
		s.finish(ctx, logger, req, mode, nil, nil, err, time.Since(start))
		return nil, err
	}
	if mode == media.ModeSegmented && !asset.Kind.IsTimeBased() {
		logger.Info("asset has no timeline, using single mode", slog.String("kind", string(asset.Kind)))
		mode = media.ModeSingle
	}
	logger = observability.WithAsset(logger.With(slog.String("mode", string(mode))), asset)

	outDir := req.OutputDir
	if outDir == "" {
		outDir = filepath.Dir(asset.Path)
	}

	res = &Result{Mode: mode, Asset: asset}
	if mode == media.ModeSingle {
		res.Single, err = s.single(ctx, logger, asset, req.TargetSize, outDir)
	} else {
		res.Segmented, err = s.segmented(ctx, logger, asset, req, outDir)
	}
	res.Elapsed = time.Since(start)
	if err != nil {
		s.finish(ctx, logger, req, mode, asset, nil, err, res.Elapsed)
		return nil, err
	}
	s.finish(ctx, logger, req, mode, asset, res, nil, res.Elapsed)
	return res, nil
}

func (s *Service) single(ctx context.Context, logger *slog.Logger, asset *media.MediaAsset, target int64, outDir string) (*SingleResult, error) {
	if target >= asset.ByteSize {
		return s.copyThrough(logger, asset, target, outDir)
	}

	rc := s.rateControlFor(asset)
	chain, err := s.buildChain(asset, rc)
	if err != nil {
		return nil, media.WrapStage(media.StagePlan, err)
	}

	domain := s.domainFor(asset, rc)
	opts := search.Options{
		Domain:        domain,
		MaxIterations: s.opts.MaxIterations,
		AcceptRatio:   s.opts.AcceptRatio,
		GuessWindow:   s.opts.GuessWindow,
	}
	key := cache.NewParamKey(asset.Format+"/"+string(rc), asset.ByteSize, target)
	guess, clamped := s.initialGuess(asset, rc, domain, target, key)
	switch {
	case clamped:
		// The budget is below the floor bitrate; one floor encode is all
		// the search could ever produce.
		opts.Domain = search.Domain{Floor: domain.Floor, Ceiling: domain.Floor}
	case rc == encode.RateBitrate:
		opts.InitialGuess = guess
		opts.GuessWindow = max(opts.GuessWindow, guess/5)
	default:
		opts.InitialGuess = guess
	}
	logger.Debug("starting size search",
		slog.String("rate_control", string(rc)),
		slog.Int64("floor", opts.Domain.Floor),
		slog.Int64("ceiling", opts.Domain.Ceiling),
		slog.Int64("initial_guess", opts.InitialGuess),
		slog.Int("chain_length", len(chain)))

	startAt := 0
	encodeAt := func(ctx context.Context, param int64) (*encode.Output, error) {
		r := s.sched.RunJob(ctx, scheduler.Job{
			Input:   asset.Path,
			Chain:   withParameter(chain, param),
			StartAt: startAt,
		})
		if r.Err != nil {
			return nil, r.Err
		}
		// A config that failed once is not retried for later attempts.
		startAt = r.ChainIndex
		logger.Debug("search attempt",
			slog.Int64("parameter", param),
			slog.Int64("size", r.Output.Size),
			slog.String("config", r.Params.Name))
		return r.Output, nil
	}

	sr, err := search.Search(ctx, encodeAt, target, opts)
	if err != nil {
		return nil, media.WrapStage(media.StageSearch, err)
	}
	if s.observer != nil {
		s.observer.ObserveSearch(sr)
	}
	if sr.Met && s.params != nil {
		s.params.Set(key, sr.Parameter)
	}

	out := sr.Output
	dst := filepath.Join(outDir, media.OutputName(asset.Path, out.Params.Extension(), -1))
	if err := out.Persist(dst); err != nil {
		_ = out.Release()
		return nil, media.WrapStage(media.StageOutput, err)
	}

	if !sr.Met {
		logger.Warn("ceiling not reachable at the parameter floor",
			slog.Int64("size", sr.Size),
			slog.Float64("ratio", sr.Ratio))
	}
	return &SingleResult{
		Parameter:     out.Params.Label(),
		OriginalSize:  asset.ByteSize,
		ResultSize:    out.Size,
		RatioAchieved: sr.Ratio,
		OutputRef:     dst,
		Iterations:    sr.Iterations,
		Met:           sr.Met,
		Encoder:       out.Params.Name,
	}, nil
}

func (s *Service) copyThrough(logger *slog.Logger, asset *media.MediaAsset, target int64, outDir string) (*SingleResult, error) {
	dst := filepath.Join(outDir, media.OutputName(asset.Path, filepath.Ext(asset.Path), -1))
	if err := copyTo(asset.Path, dst); err != nil {
		return nil, media.WrapStage(media.StageOutput, err)
	}
	logger.Info("source already fits, copied", slog.String("output", dst))
	return &SingleResult{
		Parameter:     ParameterSource,
		OriginalSize:  asset.ByteSize,
		ResultSize:    asset.ByteSize,
		RatioAchieved: float64(asset.ByteSize) / float64(target),
		OutputRef:     dst,
		Met:           true,
	}, nil
}

func (s *Service) segmented(ctx context.Context, logger *slog.Logger, asset *media.MediaAsset, req media.CompressionRequest, outDir string) (*SegmentedResult, error) {
	target := req.TargetSize
	if asset.Duration <= 0 {
		return nil, media.WrapStage(media.StagePlan, segment.ErrNoDuration)
	}
	if asset.ByteSize <= target {
		return s.copySegment(logger, asset, outDir)
	}

	segs, err := s.plan(ctx, logger, asset, req)
	if err != nil {
		return nil, media.WrapStage(media.StagePlan, err)
	}

	rc := encode.RateBitrate
	chain, err := s.buildChain(asset, rc)
	if err != nil {
		return nil, media.WrapStage(media.StagePlan, err)
	}
	domain := s.domainFor(asset, rc)

	jobs := make([]scheduler.Job, len(segs))
	for i, seg := range segs {
		est := s.estimate(asset, target, seg.Duration, domain)
		kbps := max(domain.Floor, min(domain.Ceiling, est.Kbps()))
		jobs[i] = scheduler.Job{
			Index: i,
			Input: asset.Path,
			Range: &encode.TimeRange{Start: seg.Start, Duration: seg.Duration},
			Chain: withParameter(chain, kbps),
		}
	}

	maxConcurrent := s.opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = scheduler.DefaultMaxConcurrent(ctx)
	}

	results := make([]scheduler.Result, len(jobs))
	pending := jobs
	if s.opts.StreamCopy {
		pending = s.streamCopy(ctx, logger, asset, jobs, results, target, maxConcurrent)
	}
	for _, r := range s.sched.RunBatch(ctx, pending, maxConcurrent) {
		results[r.Index] = r
	}

	if err := scheduler.FirstError(results); err != nil {
		_ = scheduler.ReleaseAll(results)
		return nil, media.WrapStage(media.StageEncode, err)
	}

	res := &SegmentedResult{TotalParts: len(segs), Met: true}
	for i, r := range results {
		out := r.Output
		dst := filepath.Join(outDir, media.OutputName(asset.Path, out.Params.Extension(), i))
		if err := out.Persist(dst); err != nil {
			_ = scheduler.ReleaseAll(results[i:])
			return nil, media.WrapStage(media.StageOutput, err)
		}
		met := out.Size <= target
		res.Met = res.Met && met
		res.Segments = append(res.Segments, SegmentResult{
			Index:     i,
			Start:     segs[i].Start,
			End:       segs[i].End,
			Size:      out.Size,
			OutputRef: dst,
			Boundary:  segs[i].Boundary,
			Parameter: out.Params.Label(),
			Met:       met,
			Encoder:   out.Params.Name,
		})
	}

	logger.Info("segments encoded",
		slog.Int("parts", res.TotalParts),
		slog.Bool("met", res.Met))
	return res, nil
}

// streamCopy tries a lossless split first. Parts that fit are stored in
// results; the jobs still needing an encode are returned.
func (s *Service) streamCopy(ctx context.Context, logger *slog.Logger, asset *media.MediaAsset, jobs []scheduler.Job, results []scheduler.Result, target int64, maxConcurrent int) []scheduler.Job {
	copyParams := encode.ParameterSet{
		Name:        "copy",
		Codec:       "copy",
		Format:      asset.Format,
		RateControl: encode.RateCopy,
	}
	copyJobs := make([]scheduler.Job, len(jobs))
	for i, job := range jobs {
		copyJobs[i] = scheduler.Job{Index: job.Index, Input: job.Input, Range: job.Range, Chain: []encode.ParameterSet{copyParams}}
	}

	var pending []scheduler.Job
	for i, r := range s.sched.RunBatch(ctx, copyJobs, maxConcurrent) {
		if r.Err == nil && r.Output.Size <= target {
			results[i] = r
			continue
		}
		_ = r.Output.Release()
		pending = append(pending, jobs[i])
	}
	logger.Debug("stream copy pass complete",
		slog.Int("kept", len(jobs)-len(pending)),
		slog.Int("re_encode", len(pending)))
	return pending
}

func (s *Service) copySegment(logger *slog.Logger, asset *media.MediaAsset, outDir string) (*SegmentedResult, error) {
	dst := filepath.Join(outDir, media.OutputName(asset.Path, filepath.Ext(asset.Path), 0))
	if err := copyTo(asset.Path, dst); err != nil {
		return nil, media.WrapStage(media.StageOutput, err)
	}
	logger.Info("source already fits, copied as one part", slog.String("output", dst))
	return &SegmentedResult{
		TotalParts: 1,
		Met:        true,
		Segments: []SegmentResult{{
			Index:     0,
			End:       asset.Duration,
			Size:      asset.ByteSize,
			OutputRef: dst,
			Parameter: ParameterSource,
			Met:       true,
		}},
	}, nil
}

func (s *Service) plan(ctx context.Context, logger *slog.Logger, asset *media.MediaAsset, req media.CompressionRequest) ([]media.Segment, error) {
	if !req.AlignToBoundaries || s.detector == nil || s.diagnostics == nil {
		segs, err := segment.PlanUniform(asset.ByteSize, req.TargetSize, asset.Duration)
		if err != nil {
			return nil, err
		}
		logger.Debug("planned uniform segments", slog.Int("parts", len(segs)))
		return segs, nil
	}

	events := s.detector.DetectPath(ctx, s.diagnostics, asset.Path)
	if s.observer != nil {
		s.observer.ObserveBoundaryEvents(len(events))
	}
	parts := segment.PartsFor(asset.ByteSize, req.TargetSize)
	segs, err := segment.PlanAtBoundaries(events, asset.Duration, parts)
	if err != nil {
		return nil, err
	}
	if s.opts.Subdivide && len(events) > 0 {
		segs = segment.Subdivide(segs, asset.Duration/float64(parts))
	}
	if err := segment.Check(segs, asset.Duration); err != nil {
		return nil, err
	}
	logger.Info("planned boundary-aligned segments",
		slog.Int("events", len(events)),
		slog.Int("parts", len(segs)))
	return segs, nil
}

func (s *Service) buildChain(asset *media.MediaAsset, rc encode.RateControl) ([]encode.ParameterSet, error) {
	chain, err := s.chains.Build(asset, rc)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, scheduler.ErrEmptyChain
	}
	return chain, nil
}

// rateControlFor picks how the searched parameter is interpreted.
func (s *Service) rateControlFor(asset *media.MediaAsset) encode.RateControl {
	switch asset.Kind {
	case media.KindImage:
		return encode.RateQuality
	case media.KindAudio:
		return encode.RateBitrate
	}
	if s.opts.RateControl == encode.RateBitrate {
		return encode.RateBitrate
	}
	return encode.RateQuality
}

func (s *Service) domainFor(asset *media.MediaAsset, rc encode.RateControl) search.Domain {
	if d, ok := s.opts.FormatDomains[strings.ToLower(asset.Format)]; ok && d.Validate() == nil {
		return d
	}
	switch {
	case asset.Kind == media.KindAudio:
		return s.opts.AudioDomain
	case rc == encode.RateBitrate:
		return s.opts.BitrateDomain
	default:
		return s.opts.QualityDomain
	}
}

// initialGuess seeds the search window. clamped reports that the bitrate
// budget is below the floor so only a floor encode makes sense.
func (s *Service) initialGuess(asset *media.MediaAsset, rc encode.RateControl, domain search.Domain, target int64, key cache.ParamKey) (guess int64, clamped bool) {
	timed := asset.Kind.IsTimeBased() && asset.Duration > 0
	var est search.BitrateEstimate
	if timed {
		est = s.estimate(asset, target, asset.Duration, domain)
		if rc == encode.RateBitrate && est.Clamped {
			return 0, true
		}
	}

	if s.params != nil {
		v, ok := s.params.Get(key)
		if s.onLookup != nil {
			s.onLookup("param", ok)
		}
		if ok {
			return v, false
		}
	}

	switch {
	case timed && rc == encode.RateBitrate:
		return est.Kbps(), false
	case timed:
		if q := search.QualityForBitrate(est.BitsPerSecond, asset.Bitrate); q > 0 {
			return q, false
		}
	}
	return search.QualityForRatio(float64(target) / float64(asset.ByteSize)), false
}

func (s *Service) estimate(asset *media.MediaAsset, target int64, duration float64, domain search.Domain) search.BitrateEstimate {
	floorBits := s.opts.MinBitrateKbps * 1000
	if asset.Kind == media.KindAudio {
		floorBits = domain.Floor * 1000
	}
	return search.EstimateBitrate(target, duration, s.audioBits(asset), s.opts.SafetyMargin, floorBits)
}

// audioBits is the audio track reservation for video assets.
func (s *Service) audioBits(asset *media.MediaAsset) int64 {
	if asset.Kind != media.KindVideo || asset.AudioCodec == "" {
		return 0
	}
	return s.opts.AudioBitrateKbps * 1000
}

func withParameter(chain []encode.ParameterSet, param int64) []encode.ParameterSet {
	out := make([]encode.ParameterSet, len(chain))
	for i, p := range chain {
		out[i] = p.WithParameter(param)
	}
	return out
}

func copyTo(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	return encode.CopyFile(src, dst)
}
