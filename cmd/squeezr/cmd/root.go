// Package cmd implements the CLI commands for squeezr.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/squeezr/internal/config"
	"github.com/jmylchreest/squeezr/internal/observability"
	"github.com/jmylchreest/squeezr/internal/version"
)

var (
	// cfgFile holds the config file path from CLI flag.
	cfgFile string
	// cfg is loaded once before any subcommand runs.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "squeezr",
	Short:   "Compress media files under a size ceiling",
	Version: version.Short(),
	Long: `squeezr re-encodes video, audio and images so the output fits under a
byte-size ceiling while keeping as much quality as the ceiling allows.

Files can be compressed into a single output, or split into several parts
that each fit, optionally cut where the stream's quality changes.`,
	SilenceUsage: true,
	// PersistentPreRunE is set in init() to avoid initialization cycle
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return initLogging(rootCmd.PersistentFlags(), cfg.Logging)
	}

	// Global flags. They are not bound to viper: a flag only overrides the
	// config/env value when it was explicitly set.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./config.yaml, ./configs, /etc/squeezr, $HOME/.squeezr)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

// initLogging installs the default slog logger.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format) - only if explicitly provided
//  2. Environment variables (SQUEEZR_LOGGING_LEVEL, SQUEEZR_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults
func initLogging(flags *pflag.FlagSet, logCfg config.LoggingConfig) error {
	if flags.Changed("log-level") {
		logCfg.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		logCfg.Format, _ = flags.GetString("log-format")
	}
	logCfg.Level = strings.ToLower(logCfg.Level)
	logCfg.Format = strings.ToLower(logCfg.Format)
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	logger = logger.With(slog.String("app", version.ApplicationName))
	observability.SetDefault(logger)
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM, which also stops any
// running ffmpeg process.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
