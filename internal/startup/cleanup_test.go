package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeAged(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("partial"), 0600))
	ts := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, ts, ts))
	return path
}

func TestCleanupOrphanedAttempts(t *testing.T) {
	t.Run("removes_old_attempts", func(t *testing.T) {
		dir := t.TempDir()
		old := []string{
			writeAged(t, dir, "attempt-1.mp4", 2*time.Hour),
			writeAged(t, dir, "attempt-2.jpg", 3*time.Hour),
		}

		count, err := CleanupOrphanedAttempts(newTestLogger(), dir, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		for _, p := range old {
			assert.NoFileExists(t, p)
		}
	})

	t.Run("preserves_recent_attempts", func(t *testing.T) {
		dir := t.TempDir()
		recent := writeAged(t, dir, "attempt-3.mp4", 30*time.Minute)

		count, err := CleanupOrphanedAttempts(newTestLogger(), dir, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
		assert.FileExists(t, recent)
	})

	t.Run("ignores_other_files_and_dirs", func(t *testing.T) {
		dir := t.TempDir()
		other := writeAged(t, dir, "clip.squeezed.mp4", 2*time.Hour)
		sub := filepath.Join(dir, "attempt-dir")
		require.NoError(t, os.Mkdir(sub, 0750))
		ts := time.Now().Add(-2 * time.Hour)
		require.NoError(t, os.Chtimes(sub, ts, ts))

		count, err := CleanupOrphanedAttempts(newTestLogger(), dir, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
		assert.FileExists(t, other)
		assert.DirExists(t, sub)
	})

	t.Run("missing_directory", func(t *testing.T) {
		count, err := CleanupOrphanedAttempts(newTestLogger(), filepath.Join(t.TempDir(), "gone"), time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}
