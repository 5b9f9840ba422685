package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/squeezr/internal/compressor"
	"github.com/jmylchreest/squeezr/internal/config"
	"github.com/jmylchreest/squeezr/internal/ffmpeg"
	"github.com/jmylchreest/squeezr/internal/media"
)

func loadDefaults(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	c, err := config.Load("")
	require.NoError(t, err)
	return c
}

func TestDumpConfig(t *testing.T) {
	c := loadDefaults(t)

	var buf bytes.Buffer
	require.NoError(t, dumpConfig(&buf, c))
	assert.Contains(t, buf.String(), "# squeezr configuration")

	var out map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))

	w, ok := out["watch"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "25 MB", w["target"])
	assert.Equal(t, "5s", w["debounce"])
	assert.Equal(t, "0 */5 * * * *", w["schedule"])

	s, ok := out["search"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 8, s["max_iterations"])
}

func TestWatchConfigFromFlags(t *testing.T) {
	newCmd := func() *cobra.Command {
		c := &cobra.Command{Use: "watch"}
		addWatchFlags(c.Flags())
		return c
	}
	base := config.WatchConfig{InputDir: "/in", Schedule: "0 */5 * * * *", Target: 1000, Mode: "single"}

	t.Run("unset_flags_keep_config", func(t *testing.T) {
		got, err := watchConfigFromFlags(newCmd(), base)
		require.NoError(t, err)
		assert.Equal(t, base, got)
	})

	t.Run("set_flags_override", func(t *testing.T) {
		c := newCmd()
		require.NoError(t, c.Flags().Parse([]string{"--input", "/other", "--target", "2MB", "--fsnotify", "--mode", "segmented"}))
		got, err := watchConfigFromFlags(c, base)
		require.NoError(t, err)
		assert.Equal(t, "/other", got.InputDir)
		assert.Equal(t, config.ByteSize(2_000_000), got.Target)
		assert.True(t, got.FSNotify)
		assert.Equal(t, "segmented", got.Mode)
		assert.Equal(t, base.Schedule, got.Schedule)
	})

	t.Run("bad_target", func(t *testing.T) {
		c := newCmd()
		require.NoError(t, c.Flags().Parse([]string{"--target", "lots"}))
		_, err := watchConfigFromFlags(c, base)
		assert.Error(t, err)
	})
}

func TestChainOptions(t *testing.T) {
	c := loadDefaults(t)
	c.FFmpeg.HWAccelPriority = []string{"vaapi", "cuda"}
	c.FFmpeg.ExtraOptions = map[string]string{"mp4": "-movflags +faststart"}

	opts := chainOptions(c)
	assert.Equal(t, []ffmpeg.HWAccelType{ffmpeg.HWAccelVAAPI, ffmpeg.HWAccelCUDA}, opts.HWAccelPriority)
	assert.Equal(t, []string{"-movflags", "+faststart"}, opts.ExtraOptions["mp4"])
	assert.Equal(t, c.Estimate.AudioBitrateKbps, opts.AudioBitrateKbps)
}

func TestBoundaryConfig(t *testing.T) {
	got := boundaryConfig(config.BoundaryConfig{
		MinInterval: 3 * time.Second, BitrateThresholdKbps: 150, DedupWindow: 2 * time.Second, Timeout: time.Minute,
	})
	assert.Equal(t, 3*time.Second, got.MinInterval)
	assert.InDelta(t, 150.0, got.BitrateThresholdKbps, 0.001)
	assert.Equal(t, 2*time.Second, got.DedupWindow)
	assert.Equal(t, time.Minute, got.Timeout)
}

func TestPrintResult(t *testing.T) {
	asset := &media.MediaAsset{Path: "/in/clip.mp4"}

	t.Run("single", func(t *testing.T) {
		var buf bytes.Buffer
		printResult(&buf, &compressor.Result{
			Mode:  media.ModeSingle,
			Asset: asset,
			Single: &compressor.SingleResult{
				Parameter: "q64", OriginalSize: 50_000_000, ResultSize: 24_000_000,
				RatioAchieved: 0.96, OutputRef: "/in/clip.squeezed.mp4", Iterations: 5, Met: true,
			},
		}, 25_000_000)
		out := buf.String()
		assert.Contains(t, out, "/in/clip.mp4: met")
		assert.Contains(t, out, "50 MB -> 24 MB")
		assert.Contains(t, out, "q64, 5 iterations")
		assert.Contains(t, out, "/in/clip.squeezed.mp4")
	})

	t.Run("segmented", func(t *testing.T) {
		var buf bytes.Buffer
		printResult(&buf, &compressor.Result{
			Mode:  media.ModeSegmented,
			Asset: asset,
			Segmented: &compressor.SegmentedResult{TotalParts: 2, Met: true, Segments: []compressor.SegmentResult{
				{Index: 0, Start: 0, End: 30.5, Size: 900, OutputRef: "/in/clip.part001.mp4", Parameter: "800k", Met: true},
				{Index: 1, Start: 30.5, End: 60, Size: 950, OutputRef: "/in/clip.part002.mp4", Parameter: "800k", Met: true,
					Boundary: &media.QualityChangeEvent{Timestamp: 30.5, Kind: media.EventBitrateChange}},
			}},
		}, 1000)
		out := buf.String()
		assert.Contains(t, out, "2 parts")
		assert.Contains(t, out, "001")
		assert.Contains(t, out, "/in/clip.part002.mp4 [bitrate_change]")
	})
}
