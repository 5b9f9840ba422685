package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/squeezr/internal/compressor"
	"github.com/jmylchreest/squeezr/internal/config"
	"github.com/jmylchreest/squeezr/internal/media"
)

var compressCmd = &cobra.Command{
	Use:   "compress <file>",
	Short: "Compress a file under a size ceiling",
	Long: `Compress a video, audio or image file so the output is no larger than
--target.

In single mode one output is written next to the source (or into --output)
as <name>.squeezed.<ext>. In segmented mode the file is split into
<name>.part001.<ext>, <name>.part002.<ext>, ... each under the target; with
--align the cuts are placed where the stream's bitrate or resolution
changes.`,
	Example: `  squeezr compress talk.mkv --target 25MB
  squeezr compress lecture.mp4 --target 100MB --mode segmented --align
  squeezr compress photo.png --target 500KB --json`,
	Args: cobra.ExactArgs(1),
	RunE: runCompress,
}

func init() {
	rootCmd.AddCommand(compressCmd)

	compressCmd.Flags().String("target", "", "maximum output size, e.g. 25MB (required)")
	compressCmd.Flags().String("mode", string(media.ModeSingle), "output mode (single, segmented)")
	compressCmd.Flags().Bool("align", false, "cut segments at quality changes (default from segment.align)")
	compressCmd.Flags().String("output", "", "output directory (default from storage.output_dir, else next to the source)")
	compressCmd.Flags().Bool("json", false, "print the result as JSON")
	compressCmd.Flags().Bool("progress", false, "log ffmpeg progress at debug level")
	_ = compressCmd.MarkFlagRequired("target")
}

func runCompress(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	targetStr, _ := flags.GetString("target")
	target, err := config.ParseByteSize(targetStr)
	if err != nil {
		return fmt.Errorf("invalid --target: %w", err)
	}
	modeStr, _ := flags.GetString("mode")
	mode, err := media.ParseMode(modeStr)
	if err != nil {
		return err
	}
	align := cfg.Segment.Align
	if flags.Changed("align") {
		align, _ = flags.GetBool("align")
	}
	outDir := cfg.Storage.OutputDir
	if flags.Changed("output") {
		outDir, _ = flags.GetString("output")
	}
	asJSON, _ := flags.GetBool("json")
	progress, _ := flags.GetBool("progress")

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	logger := slog.Default()
	a, err := newApp(ctx, cfg, logger, appOptions{history: true, progress: progress})
	if err != nil {
		return err
	}
	defer a.close()

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	res, err := a.service.Compress(ctx, media.CompressionRequest{
		Path:              path,
		TargetSize:        target.Bytes(),
		Mode:              mode,
		AlignToBoundaries: align,
		OutputDir:         outDir,
	})
	if err != nil {
		return err
	}

	if asJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	printResult(cmd.OutOrStdout(), res, target.Bytes())
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult writes a human-readable summary of res.
func printResult(w io.Writer, res *compressor.Result, target int64) {
	fmt.Fprintf(w, "%s: %s (%s)\n", res.Asset.Path, res.Status(), res.Elapsed.Round(time.Millisecond))
	switch {
	case res.Single != nil:
		s := res.Single
		fmt.Fprintf(w, "  %s -> %s (target %s, ratio %.3f, %s, %d iterations)\n",
			humanize.Bytes(uint64(s.OriginalSize)),
			humanize.Bytes(uint64(s.ResultSize)),
			humanize.Bytes(uint64(target)),
			s.RatioAchieved, s.Parameter, s.Iterations)
		fmt.Fprintf(w, "  %s\n", s.OutputRef)
	case res.Segmented != nil:
		fmt.Fprintf(w, "  %d parts, target %s each\n", res.Segmented.TotalParts, humanize.Bytes(uint64(target)))
		for _, seg := range res.Segmented.Segments {
			mark := ""
			if seg.Boundary != nil {
				mark = " [" + string(seg.Boundary.Kind) + "]"
			}
			fmt.Fprintf(w, "  %03d  %8.2fs - %8.2fs  %10s  %-6s %s%s\n",
				seg.Index+1, seg.Start, seg.End,
				humanize.Bytes(uint64(seg.Size)), seg.Parameter, seg.OutputRef, mark)
		}
	}
}
