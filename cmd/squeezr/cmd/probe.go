package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Print the metadata squeezr sees for a file",
	Long: `Probe a file with ffprobe (or the image decoder for stills) and print the
resulting asset description as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		a, err := newApp(ctx, cfg, slog.Default(), appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		asset, err := a.prober.Probe(ctx, args[0])
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), asset)
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
