package updater

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/thelightscope/lightscope-updater/internal/logger"
)

const (
	// MarkerFilename marks that an update cycle is running right now to
	// avoid parallel execution across processes.
	MarkerFilename = "lightscope-update-marker.bin"

	// DefaultFileMode is applied to the installed artifact.
	DefaultFileMode os.FileMode = 0o755

	// markerLifetime is the period after which a stale update marker is
	// ignored; a crash mid-cycle must not block updates forever.
	markerLifetime = 30 * time.Minute
)

// IsUpdateRunningNow checks presence of a marker file and clears it when stale.
func IsUpdateRunningNow(ctx context.Context) bool {
	logger.Debug(ctx, "Checking for the presence of an update marker")

	fileInfo, err := os.Stat(MarkerFilename)
	if err == nil {
		if time.Since(fileInfo.ModTime()) <= markerLifetime {
			return true
		}

		logger.Info(ctx, "The update marker is too old, attempting cleanup")

		if err = os.Remove(MarkerFilename); err != nil {
			return true
		}

		return false
	}

	if errors.Is(err, os.ErrNotExist) {
		return false
	}

	logger.Infof(ctx, "Unable to read update marker: %v", err)

	return false
}

// createMarker drops the mutual-exclusion marker on disk.
func createMarker() error {
	marker, err := os.Create(MarkerFilename)
	if err != nil {
		return err
	}

	return marker.Close()
}

// removeMarker clears the mutual-exclusion marker, best effort.
func removeMarker() {
	if _, err := os.Stat(MarkerFilename); err == nil {
		_ = os.Remove(MarkerFilename)
	}
}
