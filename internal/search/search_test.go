package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/squeezr/internal/encode"
)

// fakeEncoder writes an empty file per attempt and reports a synthetic size.
type fakeEncoder struct {
	t      *testing.T
	dir    string
	size   func(p int64) int64
	calls  []int64
	failOn int
}

func newFakeEncoder(t *testing.T, size func(p int64) int64) *fakeEncoder {
	t.Helper()
	return &fakeEncoder{t: t, dir: t.TempDir(), size: size}
}

func (f *fakeEncoder) encode(_ context.Context, p int64) (*encode.Output, error) {
	f.calls = append(f.calls, p)
	if f.failOn > 0 && len(f.calls) == f.failOn {
		return nil, errors.New("encoder exploded")
	}
	path := filepath.Join(f.dir, fmt.Sprintf("cand-%03d-%d", p, len(f.calls)))
	require.NoError(f.t, os.WriteFile(path, nil, 0o600))
	return &encode.Output{Path: path, Size: f.size(p)}, nil
}

func (f *fakeEncoder) remainingFiles() int {
	entries, err := os.ReadDir(f.dir)
	require.NoError(f.t, err)
	return len(entries)
}

func linear(p int64) int64 { return p * 1000 }

func TestSearch_EarlyExitOnFirstHit(t *testing.T) {
	enc := newFakeEncoder(t, linear)

	res, err := Search(context.Background(), enc.encode, 55_000, Options{})
	require.NoError(t, err)

	assert.Equal(t, int64(55), res.Parameter)
	assert.Equal(t, 1, res.Iterations)
	assert.True(t, res.EarlyExit)
	assert.True(t, res.Met)
	assert.Equal(t, 1, enc.remainingFiles())
}

func TestSearch_ConvergesOnHighestFittingParameter(t *testing.T) {
	enc := newFakeEncoder(t, linear)

	res, err := Search(context.Background(), enc.encode, 72_500, Options{AcceptRatio: 1.0})
	require.NoError(t, err)

	assert.Equal(t, int64(72), res.Parameter)
	assert.Equal(t, int64(72_000), res.Size)
	assert.Equal(t, []int64{55, 78, 66, 72, 75, 73}, enc.calls)
	assert.Equal(t, 6, res.Iterations)
	assert.InDelta(t, 72_000.0/72_500.0, res.Ratio, 1e-9)
	assert.Equal(t, 1, enc.remainingFiles(), "only the best candidate may survive")
	assert.FileExists(t, res.Output.Path)
}

func TestSearch_UnreachableCeilingFallsBackToFloor(t *testing.T) {
	enc := newFakeEncoder(t, func(p int64) int64 { return 1_000_000 + p })

	res, err := Search(context.Background(), enc.encode, 500, Options{})
	require.NoError(t, err)

	assert.Equal(t, int64(10), res.Parameter)
	assert.False(t, res.Met)
	assert.Greater(t, res.Ratio, 1.0)
	// The floor attempt made during the search is reused, not re-encoded.
	assert.Equal(t, []int64{55, 32, 20, 14, 11, 10}, enc.calls)
	assert.Equal(t, 1, enc.remainingFiles())
}

func TestSearch_BudgetExhaustedEncodesFloor(t *testing.T) {
	enc := newFakeEncoder(t, func(p int64) int64 { return 1_000_000 + p })

	res, err := Search(context.Background(), enc.encode, 500, Options{MaxIterations: 3})
	require.NoError(t, err)

	assert.Equal(t, int64(10), res.Parameter)
	assert.Equal(t, []int64{55, 32, 20, 10}, enc.calls)
	assert.Equal(t, 4, res.Iterations)
	assert.False(t, res.Met)
	assert.Equal(t, 1, enc.remainingFiles())
}

func TestSearch_InitialGuess(t *testing.T) {
	cold := newFakeEncoder(t, linear)
	coldRes, err := Search(context.Background(), cold.encode, 72_500, Options{AcceptRatio: 1.0})
	require.NoError(t, err)

	t.Run("good_guess_cuts_iterations", func(t *testing.T) {
		enc := newFakeEncoder(t, linear)
		res, err := Search(context.Background(), enc.encode, 72_500, Options{
			AcceptRatio:  1.0,
			InitialGuess: 72,
			GuessWindow:  5,
		})
		require.NoError(t, err)
		assert.Equal(t, coldRes.Parameter, res.Parameter)
		assert.Less(t, res.Iterations, coldRes.Iterations)
	})

	t.Run("guess_too_high_widens_downward", func(t *testing.T) {
		enc := newFakeEncoder(t, linear)
		res, err := Search(context.Background(), enc.encode, 72_500, Options{
			AcceptRatio:  1.0,
			InitialGuess: 95,
			GuessWindow:  5,
		})
		require.NoError(t, err)
		assert.Equal(t, coldRes.Parameter, res.Parameter)
		assert.Equal(t, 1, enc.remainingFiles())
	})

	t.Run("guess_too_low_widens_upward", func(t *testing.T) {
		enc := newFakeEncoder(t, linear)
		res, err := Search(context.Background(), enc.encode, 72_500, Options{
			AcceptRatio:  1.0,
			InitialGuess: 30,
			GuessWindow:  5,
		})
		require.NoError(t, err)
		assert.Equal(t, coldRes.Parameter, res.Parameter)
	})
}

func TestSearch_FarGuessMatchesColdAtDefaultBudget(t *testing.T) {
	tests := []struct {
		name   string
		target int64
		guess  int64
		want   int64
	}{
		{name: "guess_far_above_low_boundary", target: 12_500, guess: 95, want: 12},
		{name: "guess_at_ceiling", target: 22_500, guess: 100, want: 22},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cold, err := Search(context.Background(), newFakeEncoder(t, linear).encode, tt.target, Options{})
			require.NoError(t, err)

			enc := newFakeEncoder(t, linear)
			warm, err := Search(context.Background(), enc.encode, tt.target, Options{InitialGuess: tt.guess})
			require.NoError(t, err)

			assert.Equal(t, tt.want, cold.Parameter)
			assert.Equal(t, cold.Parameter, warm.Parameter)
			assert.True(t, warm.Met)
			assert.Equal(t, 1, enc.remainingFiles())
		})
	}

	t.Run("guess_far_below_stays_in_accept_band", func(t *testing.T) {
		res, err := Search(context.Background(), newFakeEncoder(t, linear).encode, 97_500, Options{InitialGuess: 20})
		require.NoError(t, err)
		assert.True(t, res.Met)
		assert.GreaterOrEqual(t, res.Ratio, DefaultAcceptRatio)
	})
}

func TestSearch_AnyGuessConvergesLikeCold(t *testing.T) {
	for _, target := range []int64{10_500, 12_500, 22_500, 55_500, 97_500, 150_000} {
		cold, err := Search(context.Background(), newFakeEncoder(t, linear).encode, target, Options{AcceptRatio: 1.0})
		require.NoError(t, err)

		for guess := int64(10); guess <= 100; guess += 5 {
			warm, err := Search(context.Background(), newFakeEncoder(t, linear).encode, target, Options{
				AcceptRatio:  1.0,
				InitialGuess: guess,
			})
			require.NoError(t, err)
			assert.Equal(t, cold.Parameter, warm.Parameter, "target %d guess %d", target, guess)
		}
	}
}

func TestSearch_MonotonicInCeiling(t *testing.T) {
	size := func(p int64) int64 { return p * p * 20 }
	targets := []int64{5_000, 12_345, 40_000, 41_000, 90_000, 150_000, 199_999}

	var prev int64
	for _, target := range targets {
		enc := newFakeEncoder(t, size)
		res, err := Search(context.Background(), enc.encode, target, Options{})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Parameter, prev, "target %d", target)
		prev = res.Parameter
	}
}

func TestSearch_BitrateDomain(t *testing.T) {
	enc := newFakeEncoder(t, func(kbps int64) int64 { return kbps * 125 * 60 })
	// 60s at 1500 kbps is 11,250,000 bytes.
	res, err := Search(context.Background(), enc.encode, 11_250_000, Options{
		Domain:       Domain{Floor: 100, Ceiling: 8000},
		InitialGuess: 1400,
		GuessWindow:  400,
	})
	require.NoError(t, err)
	assert.True(t, res.Met)
	assert.GreaterOrEqual(t, res.Ratio, DefaultAcceptRatio)
	assert.LessOrEqual(t, res.Parameter, int64(1500))
}

func TestSearch_EncoderErrorReleasesCandidates(t *testing.T) {
	enc := newFakeEncoder(t, linear)
	enc.failOn = 3

	_, err := Search(context.Background(), enc.encode, 72_500, Options{AcceptRatio: 1.0})
	require.Error(t, err)
	assert.Equal(t, 0, enc.remainingFiles())
}

func TestSearch_InvalidInput(t *testing.T) {
	enc := newFakeEncoder(t, linear)

	_, err := Search(context.Background(), enc.encode, 0, Options{})
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = Search(context.Background(), enc.encode, 100, Options{Domain: Domain{Floor: 50, Ceiling: 10}})
	assert.Error(t, err)
	assert.Empty(t, enc.calls)
}

func TestSearch_CancelledContext(t *testing.T) {
	enc := newFakeEncoder(t, linear)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Search(ctx, enc.encode, 72_500, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, enc.calls)
}
