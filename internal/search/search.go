// Package search converges on encoder parameters that meet a byte-size
// ceiling, using only the measured output size as feedback.
package search

import (
	"context"
	"errors"
	"fmt"
	"math/bits"

	"github.com/jmylchreest/squeezr/internal/encode"
)

// Default search tuning.
const (
	DefaultMaxIterations = 8
	DefaultAcceptRatio   = 0.95
	DefaultQualityFloor  = 10
	DefaultQualityCeil   = 100
	DefaultGuessWindow   = 15
)

// Domain bounds the searched parameter. Larger values mean higher quality.
type Domain struct {
	Floor   int64
	Ceiling int64
}

// QualityDomain is the default quality-index domain.
var QualityDomain = Domain{Floor: DefaultQualityFloor, Ceiling: DefaultQualityCeil}

// Validate checks the domain is usable.
func (d Domain) Validate() error {
	if d.Floor <= 0 || d.Ceiling < d.Floor {
		return fmt.Errorf("invalid search domain [%d, %d]", d.Floor, d.Ceiling)
	}
	return nil
}

func (d Domain) clamp(v int64) int64 {
	return max(d.Floor, min(d.Ceiling, v))
}

// Options tune one search.
type Options struct {
	Domain Domain
	// MaxIterations bounds the encodes of a search. A guess window that
	// misses the boundary is widened with enough extra attempts to resolve
	// the widened range, so a guess never ends on a worse parameter.
	MaxIterations int
	// AcceptRatio is the lower edge of the early-exit band [AcceptRatio, 1.0].
	AcceptRatio float64
	// InitialGuess narrows the first window to InitialGuess±GuessWindow.
	// Zero means no guess.
	InitialGuess int64
	GuessWindow  int64
}

func (o Options) withDefaults() Options {
	if o.Domain == (Domain{}) {
		o.Domain = QualityDomain
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.AcceptRatio <= 0 || o.AcceptRatio > 1 {
		o.AcceptRatio = DefaultAcceptRatio
	}
	if o.GuessWindow <= 0 {
		o.GuessWindow = DefaultGuessWindow
	}
	return o
}

// EncodeFunc produces a candidate at the given parameter. The caller of
// Search owns nothing it returns; Search releases every discarded candidate.
type EncodeFunc func(ctx context.Context, parameter int64) (*encode.Output, error)

// Attempt records one encoder invocation.
type Attempt struct {
	Parameter int64 `json:"parameter"`
	Size      int64 `json:"size"`
}

// Result is the outcome of a search.
type Result struct {
	Parameter  int64          `json:"parameter"`
	Size       int64          `json:"size"`
	Output     *encode.Output `json:"-"`
	Iterations int            `json:"iterations"`
	Ratio      float64        `json:"ratio"`
	// Met is false when the ceiling could not be reached even at the floor.
	Met       bool      `json:"met"`
	EarlyExit bool      `json:"early_exit"`
	Attempts  []Attempt `json:"attempts"`
}

// State is the mutable state of one search run.
type State struct {
	Low        int64
	High       int64
	Iterations int

	best      *encode.Output
	bestParam int64
	floorOut  *encode.Output
}

// Best returns the best candidate parameter so far and whether one exists.
func (s *State) Best() (int64, bool) {
	return s.bestParam, s.best != nil
}

func (s *State) keepBest(param int64, out *encode.Output) {
	_ = s.best.Release()
	s.best = out
	s.bestParam = param
}

func (s *State) keepFloor(out *encode.Output) {
	_ = s.floorOut.Release()
	s.floorOut = out
}

func (s *State) releaseAll() {
	_ = s.best.Release()
	_ = s.floorOut.Release()
	s.best, s.floorOut = nil, nil
}

// ErrInvalidTarget is returned for a non-positive ceiling.
var ErrInvalidTarget = errors.New("target size must be positive")

// Search binary-searches opts.Domain for the highest parameter whose output
// fits in target bytes. Attempts are strictly sequential.
func Search(ctx context.Context, fn EncodeFunc, target int64, opts Options) (*Result, error) {
	if target <= 0 {
		return nil, ErrInvalidTarget
	}
	opts = opts.withDefaults()
	if err := opts.Domain.Validate(); err != nil {
		return nil, err
	}

	d := opts.Domain
	st := &State{Low: d.Floor, High: d.Ceiling}
	if opts.InitialGuess > 0 {
		g := d.clamp(opts.InitialGuess)
		st.Low = d.clamp(g - opts.GuessWindow)
		st.High = d.clamp(g + opts.GuessWindow)
	}
	windowLow, windowHigh := st.Low, st.High

	res := &Result{}
	run := func(param int64) (*encode.Output, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st.Iterations++
		out, err := fn(ctx, param)
		if err != nil {
			return nil, err
		}
		res.Attempts = append(res.Attempts, Attempt{Parameter: param, Size: out.Size})
		return out, nil
	}

	budget := opts.MaxIterations
	widen := func(low, high int64) {
		st.Low, st.High = low, high
		budget = max(budget, st.Iterations+bits.Len64(uint64(high-low+1)))
	}

	for {
		if st.Low > st.High {
			_, found := st.Best()
			if !found && windowLow > d.Floor {
				widen(d.Floor, windowLow-1)
				windowLow = d.Floor
				continue
			}
			if found && st.bestParam == windowHigh && windowHigh < d.Ceiling {
				widen(windowHigh+1, d.Ceiling)
				windowHigh = d.Ceiling
				continue
			}
			break
		}
		if st.Iterations >= budget {
			break
		}

		mid := st.Low + (st.High-st.Low)/2
		out, err := run(mid)
		if err != nil {
			st.releaseAll()
			return nil, err
		}

		if out.Size <= target {
			st.keepBest(mid, out)
			if float64(out.Size)/float64(target) >= opts.AcceptRatio {
				res.EarlyExit = true
				break
			}
			st.Low = mid + 1
			continue
		}

		if mid == d.Floor {
			st.keepFloor(out)
		} else {
			_ = out.Release()
		}
		st.High = mid - 1
	}

	if st.best == nil {
		out := st.floorOut
		st.floorOut = nil
		if out == nil {
			var err error
			out, err = run(d.Floor)
			if err != nil {
				return nil, err
			}
		}
		st.best, st.bestParam = out, d.Floor
	} else {
		_ = st.floorOut.Release()
	}

	res.Parameter = st.bestParam
	res.Output = st.best
	res.Size = st.best.Size
	res.Iterations = st.Iterations
	res.Ratio = float64(res.Size) / float64(target)
	res.Met = res.Size <= target
	return res, nil
}
