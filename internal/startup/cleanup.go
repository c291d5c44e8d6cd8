// Package startup provides utilities for application startup tasks.
package startup

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TempFileSuffix is the suffix used by the HLS Writer and the storage
// sandbox for atomic-write staging files (write to name+TempFileSuffix,
// then rename over the final path). A crash between the write and the
// rename leaves one of these behind.
const TempFileSuffix = ".tmp"

// DefaultCleanupAge is the default maximum age for orphaned temp files
// (1 hour) — longer than any plausible write, short enough that a
// crash doesn't leave debris around for days.
const DefaultCleanupAge = 1 * time.Hour

// CleanupOrphanedTempFiles walks baseDir recursively and removes files
// ending in TempFileSuffix whose modification time is older than
// maxAge. It returns the number of files removed and any error
// encountered walking the tree.
func CleanupOrphanedTempFiles(logger *slog.Logger, baseDir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		logger.Debug("storage root does not exist, skipping temp-file cleanup",
			"path", baseDir,
		)
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), TempFileSuffix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			logger.Warn("failed to stat candidate temp file", "path", path, "error", err)
			return nil
		}
		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent temp file",
				"path", path,
				"age", time.Since(info.ModTime()).Round(time.Second),
			)
			return nil
		}

		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove orphaned temp file", "path", path, "error", err)
			return nil
		}
		logger.Info("removed orphaned temp file",
			"path", path,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
		return nil
	})
	if err != nil {
		logger.Error("failed to walk storage root for temp-file cleanup", "path", baseDir, "error", err)
		return removed, err
	}

	return removed, nil
}

// CleanupStorageTempFiles removes orphaned atomic-write staging files
// under the configured storage root using DefaultCleanupAge. Run once
// at startup, before the Lifecycle Manager resumes any stream, so a
// stale .tmp file from a previous crash is never mistaken for a
// segment or playlist in progress.
func CleanupStorageTempFiles(logger *slog.Logger, storageRoot string) (int, error) {
	return CleanupOrphanedTempFiles(logger, storageRoot, DefaultCleanupAge)
}
