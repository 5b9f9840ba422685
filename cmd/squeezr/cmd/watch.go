package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/squeezr/internal/config"
	"github.com/jmylchreest/squeezr/internal/observability"
	"github.com/jmylchreest/squeezr/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Compress new files in a directory on a schedule",
	Long: `Scan watch.input_dir on the watch.schedule cron expression (6 fields,
seconds first) and compress every file not compressed before. Files are
identified by path, size and modification time; with the history database
enabled, files compressed by earlier runs are skipped too.

With --fsnotify a scan also starts shortly after a file is created or
written in the directory.`,
	Example: `  squeezr watch --input /srv/uploads --output /srv/small --target 25MB
  squeezr watch --schedule "@every 10m" --fsnotify
  squeezr watch --once`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addWatchFlags(watchCmd.Flags())
}

func addWatchFlags(fs *pflag.FlagSet) {
	fs.String("input", "", "directory to watch (default from watch.input_dir)")
	fs.String("output", "", "output directory (default from watch.output_dir)")
	fs.String("schedule", "", "6-field cron expression (default from watch.schedule)")
	fs.String("target", "", "maximum output size (default from watch.target)")
	fs.String("mode", "", "output mode, single or segmented (default from watch.mode)")
	fs.Bool("fsnotify", false, "also scan on filesystem events")
	fs.Bool("once", false, "run one scan and exit")
}

// watchConfigFromFlags overlays explicitly set flags on the configured
// watch section.
func watchConfigFromFlags(cmd *cobra.Command, wc config.WatchConfig) (config.WatchConfig, error) {
	flags := cmd.Flags()
	if flags.Changed("input") {
		wc.InputDir, _ = flags.GetString("input")
	}
	if flags.Changed("output") {
		wc.OutputDir, _ = flags.GetString("output")
	}
	if flags.Changed("schedule") {
		wc.Schedule, _ = flags.GetString("schedule")
	}
	if flags.Changed("mode") {
		wc.Mode, _ = flags.GetString("mode")
	}
	if flags.Changed("fsnotify") {
		wc.FSNotify, _ = flags.GetBool("fsnotify")
	}
	if flags.Changed("target") {
		s, _ := flags.GetString("target")
		target, err := config.ParseByteSize(s)
		if err != nil {
			return wc, fmt.Errorf("invalid --target: %w", err)
		}
		wc.Target = target
	}
	return wc, nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	wc, err := watchConfigFromFlags(cmd, cfg.Watch)
	if err != nil {
		return err
	}
	wcfg, err := watch.ConfigFrom(wc)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	logger := slog.Default()
	a, err := newApp(ctx, cfg, logger, appOptions{history: true})
	if err != nil {
		return err
	}
	defer a.close()

	w, err := watch.New(wcfg, a.service)
	if err != nil {
		return err
	}
	w.WithLogger(observability.WithComponent(logger, "watch")).
		WithCachePurge(a.metadata, a.params).
		WithMetrics(a.metrics, cfg.Metrics.TextfilePath)
	if a.history != nil {
		w.WithHistory(a.history)
	}

	if once, _ := cmd.Flags().GetBool("once"); once {
		sum, err := w.Scan(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "compressed %d, skipped %d, failed %d\n", sum.Compressed, sum.Skipped, sum.Failed)
		return nil
	}
	return w.Run(ctx)
}
