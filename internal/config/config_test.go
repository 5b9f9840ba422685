package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validTestConfig loads the defaults into a Config.
func validTestConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())))
	return &cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	assert.Equal(t, "./data", cfg.Storage.BaseDir)
	assert.Equal(t, filepath.Join("data", "temp"), cfg.Storage.TempPath())

	assert.Equal(t, 8, cfg.Search.MaxIterations)
	assert.InDelta(t, 0.95, cfg.Search.AcceptRatio, 1e-9)
	assert.Equal(t, int64(15), cfg.Search.GuessWindow)
	assert.Equal(t, "quality", cfg.Search.RateControl)
	assert.Equal(t, DomainConfig{Floor: 10, Ceiling: 100}, cfg.Search.Quality)
	assert.Equal(t, DomainConfig{Floor: 100, Ceiling: 50_000}, cfg.Search.Bitrate)

	assert.InDelta(t, 0.92, cfg.Estimate.SafetyMargin, 1e-9)
	assert.Equal(t, int64(100), cfg.Estimate.MinBitrateKbps)

	assert.Equal(t, 3*time.Second, cfg.Boundary.MinInterval)
	assert.InDelta(t, 150.0, cfg.Boundary.BitrateThresholdKbps, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.Boundary.DedupWindow)
	assert.Equal(t, 30*time.Second, cfg.Boundary.Timeout)

	assert.Equal(t, 256, cfg.Cache.ParamMaxEntries)
	assert.Equal(t, time.Hour, cfg.Cache.ParamTTL)
	assert.Equal(t, 10*time.Minute, cfg.Cache.MetadataTTL)

	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "squeezr.db", cfg.Database.DSN)

	assert.Equal(t, ByteSize(25_000_000), cfg.Watch.Target)
	assert.Equal(t, "single", cfg.Watch.Mode)
	assert.Equal(t, []string{"cuda", "qsv", "videotoolbox", "vaapi"}, cfg.FFmpeg.HWAccelPriority)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	configContent := `
logging:
  level: debug
  format: json
search:
  rate_control: bitrate
  max_iterations: 5
  formats:
    webm:
      floor: 20
      ceiling: 90
watch:
  input_dir: /srv/in
  target: 8MiB
  mode: segmented
ffmpeg:
  extra_options:
    mp4: "-tune film"
database:
  driver: postgres
  dsn: "host=db user=squeezr password=hunter2"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o600))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "bitrate", cfg.Search.RateControl)
	assert.Equal(t, 5, cfg.Search.MaxIterations)
	assert.Equal(t, DomainConfig{Floor: 20, Ceiling: 90}, cfg.Search.Formats["webm"])
	assert.NotContains(t, cfg.Search.Formats, "mp4")
	assert.Equal(t, "/srv/in", cfg.Watch.InputDir)
	assert.Equal(t, ByteSize(8*1024*1024), cfg.Watch.Target)
	assert.Equal(t, "segmented", cfg.Watch.Mode)
	assert.Equal(t, "-tune film", cfg.FFmpeg.ExtraOptions["mp4"])
	assert.Equal(t, "postgres", cfg.Database.Driver)

	// Unset values keep their defaults.
	assert.Equal(t, 2*time.Second, cfg.Boundary.DedupWindow)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SQUEEZR_LOGGING_LEVEL", "warn")
	t.Setenv("SQUEEZR_SEARCH_MAX_ITERATIONS", "12")
	t.Setenv("SQUEEZR_WATCH_TARGET", "100MB")
	t.Setenv("SQUEEZR_BOUNDARY_DEDUP_WINDOW", "4s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 12, cfg.Search.MaxIterations)
	assert.Equal(t, ByteSize(100_000_000), cfg.Watch.Target)
	assert.Equal(t, 4*time.Second, cfg.Boundary.DedupWindow)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("search:\n  max_iterations: 4\n"), 0o600))

	t.Setenv("SQUEEZR_SEARCH_MAX_ITERATIONS", "6")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Search.MaxIterations)
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("search: [unclosed"), 0o600))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validTestConfig(t).Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"invalid_log_level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"invalid_log_format", func(c *Config) { c.Logging.Format = "xml" }},
		{"empty_base_dir", func(c *Config) { c.Storage.BaseDir = "" }},
		{"zero_iterations", func(c *Config) { c.Search.MaxIterations = 0 }},
		{"accept_ratio_above_one", func(c *Config) { c.Search.AcceptRatio = 1.2 }},
		{"accept_ratio_zero", func(c *Config) { c.Search.AcceptRatio = 0 }},
		{"unknown_rate_control", func(c *Config) { c.Search.RateControl = "crf" }},
		{"inverted_quality_domain", func(c *Config) { c.Search.Quality = DomainConfig{Floor: 90, Ceiling: 10} }},
		{"zero_bitrate_floor", func(c *Config) { c.Search.Bitrate.Floor = 0 }},
		{"bad_format_domain", func(c *Config) { c.Search.Formats = map[string]DomainConfig{"webm": {Floor: 0, Ceiling: 5}} }},
		{"margin_above_one", func(c *Config) { c.Estimate.SafetyMargin = 1.5 }},
		{"zero_min_bitrate", func(c *Config) { c.Estimate.MinBitrateKbps = 0 }},
		{"negative_dedup", func(c *Config) { c.Boundary.DedupWindow = -time.Second }},
		{"zero_threshold", func(c *Config) { c.Boundary.BitrateThresholdKbps = 0 }},
		{"zero_timeout", func(c *Config) { c.Boundary.Timeout = 0 }},
		{"negative_concurrency", func(c *Config) { c.Scheduler.MaxConcurrent = -1 }},
		{"zero_cache_entries", func(c *Config) { c.Cache.ParamMaxEntries = 0 }},
		{"zero_cache_ttl", func(c *Config) { c.Cache.MetadataTTL = 0 }},
		{"unknown_driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"empty_dsn", func(c *Config) { c.Database.DSN = "" }},
		{"unknown_watch_mode", func(c *Config) { c.Watch.Mode = "split" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig(t)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("disabled_database_skips_dsn_check", func(t *testing.T) {
		cfg := validTestConfig(t)
		cfg.Database.Enabled = false
		cfg.Database.DSN = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestConfig_AllDrivers(t *testing.T) {
	for _, driver := range []string{"sqlite", "postgres", "mysql"} {
		t.Run(driver, func(t *testing.T) {
			cfg := validTestConfig(t)
			cfg.Database.Driver = driver
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestStorageConfig_TempPath(t *testing.T) {
	s := StorageConfig{BaseDir: "/var/lib/squeezr", TempDir: "tmp"}
	assert.Equal(t, "/var/lib/squeezr/tmp", s.TempPath())

	s.TempDir = "/scratch"
	assert.Equal(t, "/scratch", s.TempPath())
}
