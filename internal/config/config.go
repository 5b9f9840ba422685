// Package config provides configuration management for squeezr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultMaxIterations      = 8
	defaultAcceptRatio        = 0.95
	defaultGuessWindow        = 15
	defaultQualityFloor       = 10
	defaultQualityCeiling     = 100
	defaultBitrateFloorKbps   = 100
	defaultBitrateCeilingKbps = 50_000
	defaultAudioFloorKbps     = 32
	defaultAudioCeilingKbps   = 320
	defaultSafetyMargin       = 0.92
	defaultMinBitrateKbps     = 100
	defaultAudioBitrateKbps   = 128
	defaultMinInterval        = 3 * time.Second
	defaultBitrateThreshold   = 150.0
	defaultDedupWindow        = 2 * time.Second
	defaultDetectTimeout      = 30 * time.Second
	defaultParamEntries       = 256
	defaultParamTTL           = time.Hour
	defaultMetadataEntries    = 512
	defaultMetadataTTL        = 10 * time.Minute
	defaultProbeTimeout       = 30 * time.Second
	defaultSampleInterval     = 500 * time.Millisecond
	defaultMaxOpenConns       = 10
	defaultMaxIdleConns       = 5
	defaultImageMaxDimension  = 8192
	defaultWatchDebounce      = 5 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	Search    SearchConfig    `mapstructure:"search" yaml:"search"`
	Estimate  EstimateConfig  `mapstructure:"estimate" yaml:"estimate"`
	Segment   SegmentConfig   `mapstructure:"segment" yaml:"segment"`
	Boundary  BoundaryConfig  `mapstructure:"boundary" yaml:"boundary"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Image     ImageConfig     `mapstructure:"image" yaml:"image"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Watch     WatchConfig     `mapstructure:"watch" yaml:"watch"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // trace, debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
}

// StorageConfig holds file system locations.
type StorageConfig struct {
	BaseDir   string `mapstructure:"base_dir" yaml:"base_dir"`
	TempDir   string `mapstructure:"temp_dir" yaml:"temp_dir"`     // relative to base_dir unless absolute
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"` // empty = next to the source file
}

// FFmpegConfig holds ffmpeg/ffprobe settings.
type FFmpegConfig struct {
	BinaryPath      string            `mapstructure:"binary_path" yaml:"binary_path"` // empty = auto-detect
	ProbePath       string            `mapstructure:"probe_path" yaml:"probe_path"`   // empty = auto-detect
	HWAccelPriority []string          `mapstructure:"hwaccel_priority" yaml:"hwaccel_priority"`
	HWDevice        string            `mapstructure:"hw_device" yaml:"hw_device"`
	Threads         int               `mapstructure:"threads" yaml:"threads"`
	ProbeTimeout    time.Duration     `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	SampleInterval  time.Duration     `mapstructure:"sample_interval" yaml:"sample_interval"`
	ExtraOptions    map[string]string `mapstructure:"extra_options" yaml:"extra_options"` // per output format
}

// DomainConfig bounds a searched parameter.
type DomainConfig struct {
	Floor   int64 `mapstructure:"floor" yaml:"floor"`
	Ceiling int64 `mapstructure:"ceiling" yaml:"ceiling"`
}

// SearchConfig tunes the size-target search.
type SearchConfig struct {
	MaxIterations int     `mapstructure:"max_iterations" yaml:"max_iterations"`
	AcceptRatio   float64 `mapstructure:"accept_ratio" yaml:"accept_ratio"`
	GuessWindow   int64   `mapstructure:"guess_window" yaml:"guess_window"`
	// RateControl selects quality- or bitrate-driven video encodes.
	RateControl string                  `mapstructure:"rate_control" yaml:"rate_control"`
	Quality     DomainConfig            `mapstructure:"quality" yaml:"quality"`
	Bitrate     DomainConfig            `mapstructure:"bitrate" yaml:"bitrate"` // kbps
	Audio       DomainConfig            `mapstructure:"audio" yaml:"audio"`     // kbps, audio-only assets
	Formats     map[string]DomainConfig `mapstructure:"formats" yaml:"formats"`
}

// EstimateConfig tunes the closed-form bitrate estimate.
type EstimateConfig struct {
	SafetyMargin     float64 `mapstructure:"safety_margin" yaml:"safety_margin"`
	MinBitrateKbps   int64   `mapstructure:"min_bitrate_kbps" yaml:"min_bitrate_kbps"`
	AudioBitrateKbps int64   `mapstructure:"audio_bitrate_kbps" yaml:"audio_bitrate_kbps"`
}

// SegmentConfig holds segmented-mode defaults.
type SegmentConfig struct {
	Align bool `mapstructure:"align" yaml:"align"`
	// StreamCopy tries a lossless split before re-encoding oversize parts.
	StreamCopy bool `mapstructure:"stream_copy" yaml:"stream_copy"`
	// Subdivide splits boundary-aligned segments longer than the uniform
	// part length.
	Subdivide bool `mapstructure:"subdivide" yaml:"subdivide"`
}

// BoundaryConfig tunes quality-change detection.
type BoundaryConfig struct {
	MinInterval          time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
	BitrateThresholdKbps float64       `mapstructure:"bitrate_threshold_kbps" yaml:"bitrate_threshold_kbps"`
	DedupWindow          time.Duration `mapstructure:"dedup_window" yaml:"dedup_window"`
	Timeout              time.Duration `mapstructure:"timeout" yaml:"timeout"`
	AnalysisWindow       float64       `mapstructure:"analysis_window" yaml:"analysis_window"` // seconds
}

// SchedulerConfig holds encode concurrency settings.
type SchedulerConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent"` // 0 = derive from CPU count
}

// CacheConfig sizes the in-memory caches.
type CacheConfig struct {
	ParamMaxEntries    int           `mapstructure:"param_max_entries" yaml:"param_max_entries"`
	ParamTTL           time.Duration `mapstructure:"param_ttl" yaml:"param_ttl"`
	MetadataMaxEntries int           `mapstructure:"metadata_max_entries" yaml:"metadata_max_entries"`
	MetadataTTL        time.Duration `mapstructure:"metadata_ttl" yaml:"metadata_ttl"`
}

// ImageConfig holds still-image settings.
type ImageConfig struct {
	MaxDimension int `mapstructure:"max_dimension" yaml:"max_dimension"`
}

// DatabaseConfig holds the history store connection.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Driver          string        `mapstructure:"driver" yaml:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn" yaml:"dsn" masq:"secret"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"` // silent, error, warn, info
}

// WatchConfig holds watch-mode settings.
type WatchConfig struct {
	InputDir   string        `mapstructure:"input_dir" yaml:"input_dir"`
	OutputDir  string        `mapstructure:"output_dir" yaml:"output_dir"`
	Schedule   string        `mapstructure:"schedule" yaml:"schedule"` // 6-field cron expression
	Target     ByteSize      `mapstructure:"target" yaml:"target"`
	Mode       string        `mapstructure:"mode" yaml:"mode"`
	Align      bool          `mapstructure:"align" yaml:"align"`
	FSNotify   bool          `mapstructure:"fsnotify" yaml:"fsnotify"`
	Debounce   time.Duration `mapstructure:"debounce" yaml:"debounce"`
	Extensions []string      `mapstructure:"extensions" yaml:"extensions"`
}

// MetricsConfig holds Prometheus textfile export settings.
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path" yaml:"textfile_path"` // empty = disabled
}

// Load reads configuration from file, environment variables, and defaults.
// configPath may be empty to use default search paths.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/squeezr")
		v.AddConfigPath("$HOME/.squeezr")
	}

	v.SetEnvPrefix("SQUEEZR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// decodeHook adds TextUnmarshaler support (ByteSize) to viper's defaults.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// SetDefaults sets default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.temp_dir", "temp")
	v.SetDefault("storage.output_dir", "")

	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.hwaccel_priority", []string{"cuda", "qsv", "videotoolbox", "vaapi"})
	v.SetDefault("ffmpeg.hw_device", "")
	v.SetDefault("ffmpeg.threads", 0)
	v.SetDefault("ffmpeg.probe_timeout", defaultProbeTimeout)
	v.SetDefault("ffmpeg.sample_interval", defaultSampleInterval)
	v.SetDefault("ffmpeg.extra_options", map[string]string{})

	v.SetDefault("search.max_iterations", defaultMaxIterations)
	v.SetDefault("search.accept_ratio", defaultAcceptRatio)
	v.SetDefault("search.guess_window", defaultGuessWindow)
	v.SetDefault("search.rate_control", "quality")
	v.SetDefault("search.quality.floor", defaultQualityFloor)
	v.SetDefault("search.quality.ceiling", defaultQualityCeiling)
	v.SetDefault("search.bitrate.floor", defaultBitrateFloorKbps)
	v.SetDefault("search.bitrate.ceiling", defaultBitrateCeilingKbps)
	v.SetDefault("search.audio.floor", defaultAudioFloorKbps)
	v.SetDefault("search.audio.ceiling", defaultAudioCeilingKbps)
	v.SetDefault("search.formats", map[string]DomainConfig{})

	v.SetDefault("estimate.safety_margin", defaultSafetyMargin)
	v.SetDefault("estimate.min_bitrate_kbps", defaultMinBitrateKbps)
	v.SetDefault("estimate.audio_bitrate_kbps", defaultAudioBitrateKbps)

	v.SetDefault("segment.align", false)
	v.SetDefault("segment.stream_copy", false)
	v.SetDefault("segment.subdivide", false)

	v.SetDefault("boundary.min_interval", defaultMinInterval)
	v.SetDefault("boundary.bitrate_threshold_kbps", defaultBitrateThreshold)
	v.SetDefault("boundary.dedup_window", defaultDedupWindow)
	v.SetDefault("boundary.timeout", defaultDetectTimeout)
	v.SetDefault("boundary.analysis_window", 1.0)

	v.SetDefault("scheduler.max_concurrent", 0)

	v.SetDefault("cache.param_max_entries", defaultParamEntries)
	v.SetDefault("cache.param_ttl", defaultParamTTL)
	v.SetDefault("cache.metadata_max_entries", defaultMetadataEntries)
	v.SetDefault("cache.metadata_ttl", defaultMetadataTTL)

	v.SetDefault("image.max_dimension", defaultImageMaxDimension)

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "squeezr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("watch.input_dir", "")
	v.SetDefault("watch.output_dir", "")
	v.SetDefault("watch.schedule", "0 */5 * * * *") // every 5 minutes (6-field cron)
	v.SetDefault("watch.target", "25MB")
	v.SetDefault("watch.mode", "single")
	v.SetDefault("watch.align", false)
	v.SetDefault("watch.fsnotify", false)
	v.SetDefault("watch.debounce", defaultWatchDebounce)
	v.SetDefault("watch.extensions", []string{})

	v.SetDefault("metrics.textfile_path", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	if c.Search.MaxIterations < 1 {
		return fmt.Errorf("search.max_iterations must be at least 1")
	}
	if c.Search.AcceptRatio <= 0 || c.Search.AcceptRatio > 1 {
		return fmt.Errorf("search.accept_ratio must be in (0, 1]")
	}
	if c.Search.GuessWindow < 1 {
		return fmt.Errorf("search.guess_window must be at least 1")
	}
	if c.Search.RateControl != "quality" && c.Search.RateControl != "bitrate" {
		return fmt.Errorf("search.rate_control must be one of: quality, bitrate")
	}
	if err := c.Search.Quality.validate("search.quality"); err != nil {
		return err
	}
	if err := c.Search.Bitrate.validate("search.bitrate"); err != nil {
		return err
	}
	if err := c.Search.Audio.validate("search.audio"); err != nil {
		return err
	}
	for format, d := range c.Search.Formats {
		if err := d.validate("search.formats." + format); err != nil {
			return err
		}
	}

	if c.Estimate.SafetyMargin <= 0 || c.Estimate.SafetyMargin > 1 {
		return fmt.Errorf("estimate.safety_margin must be in (0, 1]")
	}
	if c.Estimate.MinBitrateKbps < 1 {
		return fmt.Errorf("estimate.min_bitrate_kbps must be at least 1")
	}
	if c.Estimate.AudioBitrateKbps < 0 {
		return fmt.Errorf("estimate.audio_bitrate_kbps must not be negative")
	}

	if c.Boundary.MinInterval < 0 || c.Boundary.DedupWindow < 0 {
		return fmt.Errorf("boundary intervals must not be negative")
	}
	if c.Boundary.BitrateThresholdKbps <= 0 {
		return fmt.Errorf("boundary.bitrate_threshold_kbps must be positive")
	}
	if c.Boundary.Timeout <= 0 {
		return fmt.Errorf("boundary.timeout must be positive")
	}

	if c.Scheduler.MaxConcurrent < 0 {
		return fmt.Errorf("scheduler.max_concurrent must not be negative")
	}

	if c.Cache.ParamMaxEntries < 1 || c.Cache.MetadataMaxEntries < 1 {
		return fmt.Errorf("cache max entries must be at least 1")
	}
	if c.Cache.ParamTTL <= 0 || c.Cache.MetadataTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}

	if c.Database.Enabled {
		validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
		if !validDrivers[c.Database.Driver] {
			return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
		}
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required")
		}
	}

	validModes := map[string]bool{"single": true, "segmented": true}
	if !validModes[c.Watch.Mode] {
		return fmt.Errorf("watch.mode must be one of: single, segmented")
	}
	if c.Watch.Target < 0 {
		return fmt.Errorf("watch.target must not be negative")
	}

	return nil
}

func (d DomainConfig) validate(name string) error {
	if d.Floor < 1 || d.Ceiling < d.Floor {
		return fmt.Errorf("%s must satisfy 1 <= floor <= ceiling, got [%d, %d]", name, d.Floor, d.Ceiling)
	}
	return nil
}

// TempPath returns the scratch directory for encode attempts.
func (c *StorageConfig) TempPath() string {
	if filepath.IsAbs(c.TempDir) {
		return c.TempDir
	}
	return filepath.Join(c.BaseDir, c.TempDir)
}
