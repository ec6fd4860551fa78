package parameters

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// WriteFile writes data to path, creating parent directories. A symlink
// found at path is removed first so the result is always a plain file and
// never writes through a stale link.
func WriteFile(path string, data []byte) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := removeSymlink(path); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// EnsureDir creates dir and its parents. A symlink at dir is replaced by a
// real directory. An existing directory is not an error.
func EnsureDir(dir string) error {
	if err := removeSymlink(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// RunPathFile joins a configured output file onto a run path. A leading
// path separator is stripped so output files always land inside the run path.
func RunPathFile(runPath, file string) string {
	return filepath.Join(runPath, strings.TrimLeft(file, "/"))
}

func removeSymlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return nil
	}
	log.Debug().Str("path", path).Str("code", "FILESYSTEM_CONFLICT").Msg("Replacing stale symlink")
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove symlink %s: %w", path, err)
	}
	return nil
}
