package proc

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// PrepareTempDir creates a fresh scratch directory for one bridge run
// under the given base (or the OS default when base is empty).
func (s *Supervisor) PrepareTempDir(base string) (string, error) {
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return "", err
		}
	}
	dir, err := os.MkdirTemp(base, "bridge-run-")
	if err != nil {
		return "", err
	}
	return dir, nil
}

// SnapshotFiles records the file names present in a directory before a
// process starts. The post-exit diff against this set determines which
// files the process itself created.
func (s *Supervisor) SnapshotFiles(dir string) map[string]struct{} {
	snapshot := make(map[string]struct{})
	entries, err := os.ReadDir(dir)
	if err != nil {
		return snapshot
	}
	for _, e := range entries {
		snapshot[e.Name()] = struct{}{}
	}
	return snapshot
}

// CleanupCreatedFiles deletes files in dir that are absent from the
// before snapshot. Pre-existing files are never touched. Returns the
// number of entries removed.
func (s *Supervisor) CleanupCreatedFiles(dir string, before map[string]struct{}) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, e := range entries {
		if _, existed := before[e.Name()]; existed {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn("Failed to remove scratch file",
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		removed++
	}
	return removed
}

// RemoveTempDir deletes a scratch directory created by PrepareTempDir.
func (s *Supervisor) RemoveTempDir(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("Failed to remove scratch directory",
			zap.String("dir", dir),
			zap.Error(err))
	}
}
