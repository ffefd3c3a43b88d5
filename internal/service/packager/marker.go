package packager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/metadeploy/internal/config"
	"github.com/oshokin/metadeploy/internal/logger"
)

// markerSuffix is appended to the output directory to name the run marker.
const markerSuffix = ".pid"

// errAlreadyRunning indicates that another run holds the marker of the output directory.
var errAlreadyRunning = errors.New("another run is using the output directory")

// marker is a PID file next to the output directory.
type marker struct {
	// path is the marker file location.
	path string
}

// markerPath returns the marker location of an output directory.
func markerPath(outputDir string) string {
	return filepath.Clean(outputDir) + markerSuffix
}

// acquireMarker creates the marker, replacing it when the process that wrote it is gone.
func acquireMarker(ctx context.Context, outputDir string) (*marker, error) {
	path := markerPath(outputDir)

	logger.DebugKV(ctx, "Checking for the presence of a run marker", "path", path)

	if contents, err := os.ReadFile(filepath.Clean(path)); err == nil {
		if pid, alive := markerOwner(contents); alive {
			return nil, fmt.Errorf("%w: pid %d holds %s", errAlreadyRunning, pid, path)
		}

		logger.InfoKV(ctx, "The run marker is stale, removing it", "path", path)

		if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale marker: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read marker: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), config.DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("create marker directory: %w", err)
	}

	file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_EXCL|os.O_WRONLY, config.DefaultFilePermissions)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", errAlreadyRunning, path)
		}

		return nil, fmt.Errorf("create marker: %w", err)
	}

	_, writeErr := file.WriteString(strconv.Itoa(os.Getpid()))
	if err = errors.Join(writeErr, file.Close()); err != nil {
		_ = os.Remove(path)

		return nil, fmt.Errorf("write marker: %w", err)
	}

	return &marker{path: path}, nil
}

// release removes the marker.
func (m *marker) release(ctx context.Context) {
	if m == nil {
		return
	}

	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Unable to remove the run marker", "path", m.path, "error", err)
	}
}

// markerOwner parses the PID of a marker and reports whether that process still runs.
// The current process never counts as an owner.
func markerOwner(contents []byte) (int, bool) {
	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 || pid == os.Getpid() {
		return pid, false
	}

	process, err := ps.FindProcess(pid)
	if err != nil || process == nil {
		return pid, false
	}

	return pid, true
}
