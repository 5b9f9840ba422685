// Package startup provides utilities for application startup tasks.
package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/squeezr/internal/encode"
)

// DefaultCleanupAge is the default maximum age for orphaned encode attempts.
const DefaultCleanupAge = 1 * time.Hour

// CleanupOrphanedAttempts removes encode attempt files older than maxAge
// from a workspace directory. They are left behind when a previous process
// was killed mid-encode; a running process releases its own attempts.
//
// Returns the number of files removed and any error encountered.
func CleanupOrphanedAttempts(logger *slog.Logger, dir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("workspace does not exist, skipping cleanup",
			slog.String("path", dir))
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Error("failed to read workspace for cleanup",
			slog.String("path", dir),
			slog.String("error", err.Error()))
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), encode.AttemptPrefix) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to stat attempt file",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove orphaned attempt",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}

		logger.Debug("removed orphaned attempt",
			slog.String("path", path),
			slog.Duration("age", time.Since(info.ModTime()).Round(time.Second)))
		removed++
	}

	return removed, nil
}
