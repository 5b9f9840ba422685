// Package scheduler runs encode jobs under a fixed concurrency budget,
// walking each job's encoder fallback chain.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/squeezr/internal/encode"
)

// Concurrency bounds for DefaultMaxConcurrent.
const (
	MinConcurrent = 1
	MaxConcurrent = 4
)

// Job is one encode of an input (or a time range of it).
type Job struct {
	Index int
	Input string
	Range *encode.TimeRange
	Chain []encode.ParameterSet
	// StartAt resumes the chain at a later config. Earlier configs are
	// never attempted.
	StartAt int
}

// Result is the outcome of a Job. Output is nil when Err is set.
type Result struct {
	Index      int
	Output     *encode.Output
	Params     encode.ParameterSet
	ChainIndex int
	Attempts   int
	Duration   time.Duration
	Err        error
}

// AttemptHook observes every single encoder invocation.
type AttemptHook func(job Job, params encode.ParameterSet, err error)

// Scheduler executes jobs against an encoder.
type Scheduler struct {
	encoder encode.Encoder
	logger  *slog.Logger
	hook    AttemptHook
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithAttemptHook registers an observer for encoder invocations.
func WithAttemptHook(hook AttemptHook) Option {
	return func(s *Scheduler) { s.hook = hook }
}

// New creates a scheduler for encoder.
func New(encoder encode.Encoder, opts ...Option) *Scheduler {
	s := &Scheduler{
		encoder: encoder,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunJob walks job's chain until one config succeeds or all have failed.
func (s *Scheduler) RunJob(ctx context.Context, job Job) Result {
	start := time.Now()
	chain := NewChain(job.Chain, job.StartAt)
	res := Result{Index: job.Index}

	for {
		params, ok := chain.Next()
		if !ok {
			break
		}
		res.Attempts++

		out, err := s.encoder.Encode(ctx, job.Input, job.Range, params)
		if s.hook != nil {
			s.hook(job, params, err)
		}
		if err == nil {
			chain.Succeed()
			res.Output = out
			res.Params = params
			res.ChainIndex = chain.Index()
			res.Duration = time.Since(start)
			return res
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			res.Err = ctxErr
			res.Duration = time.Since(start)
			return res
		}

		s.logger.Warn("encoder config failed",
			slog.Int("job", job.Index),
			slog.String("config", params.String()),
			slog.Int("chain_index", chain.Index()),
			slog.String("error", err.Error()))

		if !chain.Fail(err) {
			break
		}
	}

	res.Err = chain.Err()
	res.ChainIndex = chain.Index()
	res.Duration = time.Since(start)
	return res
}

// RunBatch runs jobs in consecutive batches of maxConcurrent. A batch starts
// only once the previous one has settled. results[i] belongs to jobs[i].
func (s *Scheduler) RunBatch(ctx context.Context, jobs []Job, maxConcurrent int) []Result {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	results := make([]Result, len(jobs))

	for start := 0; start < len(jobs); start += maxConcurrent {
		end := min(start+maxConcurrent, len(jobs))

		if err := ctx.Err(); err != nil {
			for i := start; i < len(jobs); i++ {
				results[i] = Result{Index: jobs[i].Index, Err: err}
			}
			break
		}

		s.logger.Debug("starting encode batch",
			slog.Int("from", start),
			slog.Int("to", end-1),
			slog.Int("total", len(jobs)))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = s.RunJob(ctx, jobs[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	return results
}

// FirstError returns the first failed result's error in index order.
func FirstError(results []Result) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// ReleaseAll releases every successful output. Used when a batch is
// abandoned because one of its jobs failed.
func ReleaseAll(results []Result) error {
	var errs []error
	for _, r := range results {
		if err := r.Output.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DefaultMaxConcurrent derives a concurrency cap from the logical CPU count,
// clamped to [MinConcurrent, MaxConcurrent].
func DefaultMaxConcurrent(ctx context.Context) int {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n < 1 {
		return MinConcurrent
	}
	return ClampConcurrency(n / 2)
}

// ClampConcurrency bounds n to [MinConcurrent, MaxConcurrent].
func ClampConcurrency(n int) int {
	return max(MinConcurrent, min(n, MaxConcurrent))
}
