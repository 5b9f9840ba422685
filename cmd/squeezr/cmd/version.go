package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/squeezr/internal/ffmpeg"
	"github.com/jmylchreest/squeezr/internal/version"
)

var versionJSON bool

// versionCmd represents the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the version, commit and build date of squeezr, and the ffmpeg it found.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := version.GetInfo()
		info.FFmpeg = detectFFmpegVersion(cmd.Context())

		if versionJSON {
			return writeJSON(cmd.OutOrStdout(), info)
		}
		fmt.Fprintln(cmd.OutOrStdout(), info.String())
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "output version information as JSON")
	rootCmd.AddCommand(versionCmd)
}

// detectFFmpegVersion returns the ffmpeg version, or "" when none is usable.
func detectFFmpegVersion(ctx context.Context) string {
	ffmpegPath, ffprobePath, err := findBinaries(cfg.FFmpeg)
	if err != nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	info, err := ffmpeg.NewBinaryDetector(ffmpegPath, ffprobePath).Detect(ctx)
	if err != nil {
		return ""
	}
	return info.Version
}
