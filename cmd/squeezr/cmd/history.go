package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/squeezr/internal/media"
	"github.com/jmylchreest/squeezr/internal/models"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent compressions from the history database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")
		return withHistory(cmd, func(ctx context.Context, a *app) error {
			records, err := a.history.ListRecent(ctx, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one record with its segments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := models.ParseULID(args[0])
		if err != nil {
			return fmt.Errorf("invalid record id: %w", err)
		}
		return withHistory(cmd, func(ctx context.Context, a *app) error {
			rec, err := a.history.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("record %s not found", id)
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		})
	},
}

var historyLookupCmd = &cobra.Command{
	Use:   "lookup <file>",
	Short: "Show the latest record for the current version of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		fp := media.Fingerprint(path, info.Size(), info.ModTime())
		return withHistory(cmd, func(ctx context.Context, a *app) error {
			rec, err := a.history.FindByFingerprint(ctx, fp)
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("no history for %s", path)
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		})
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete records older than --older-than",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		age, _ := cmd.Flags().GetDuration("older-than")
		if age <= 0 {
			return errors.New("--older-than must be positive")
		}
		return withHistory(cmd, func(ctx context.Context, a *app) error {
			n, err := a.history.DeleteOlderThan(ctx, time.Now().Add(-age))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d records\n", n)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd, historyLookupCmd, historyPruneCmd)

	historyCmd.Flags().Int("limit", 20, "number of records to show")
	historyCmd.Flags().Bool("json", false, "print records as JSON")
	historyPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "age of records to delete")
}

// withHistory opens only the history database and runs fn against it.
func withHistory(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	if !cfg.Database.Enabled {
		return errors.New("history database is disabled (database.enabled=false)")
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a := &app{cfg: cfg, logger: slog.Default()}
	if err := a.openHistory(ctx); err != nil {
		return err
	}
	defer func() { _ = a.db.Close() }()
	return fn(ctx, a)
}

func printRecords(w io.Writer, records []*models.CompressionRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHEN\tSTATUS\tMODE\tSIZE\tTARGET\tRESULT\tPARAM\tPARTS\tSOURCE")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, humanize.Time(r.CreatedAt), r.Status, r.Mode,
			humanize.Bytes(uint64(r.OriginalSize)),
			humanize.Bytes(uint64(r.TargetSize)),
			humanize.Bytes(uint64(r.ResultSize)),
			r.Parameter, r.Parts, r.SourcePath)
	}
	_ = tw.Flush()
}
