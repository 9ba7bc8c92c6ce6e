// Package atomicfile provides crash-safe file writes and cooperative
// on-disk locks for the state files shared between pipeline workers.
//
// Writes go to a temp file in the target directory and are renamed into
// place, so readers observe either the old or the new content, never a
// partial file. Locks are plain lock files with the owning pid inside,
// reclaimable when the owner is gone.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// tempPattern builds the temp-file name for a target path:
// "{base}.tmp.{pid}.{unixnano}". Keeping the pid and a timestamp in the
// name makes orphans from killed processes identifiable.
func tempPattern(path string) string {
	return fmt.Sprintf("%s.tmp.%d.%d", path, os.Getpid(), time.Now().UnixNano())
}

// Write writes data to path atomically. The bytes land in a temp file in
// the same directory (same filesystem, so the rename is atomic on POSIX),
// are synced, and the temp file is renamed onto path. On any failure the
// temp file is removed.
func Write(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmpPath := tempPattern(path)
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}

	cleanup := func() {
		f.Close()
		os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write temp file for %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync temp file for %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file onto %s: %w", path, err)
	}
	return nil
}

// CleanOrphans removes leftover "*.tmp.{pid}.{nanos}" files in dir whose
// writing process is no longer alive. Returns the number removed. Called
// opportunistically at the start of a run; errors on individual files are
// ignored since a subsequent run will retry.
func CleanOrphans(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		pid, ok := orphanPid(entry.Name())
		if !ok {
			continue
		}
		if pid == os.Getpid() || isProcessAlive(pid) {
			continue
		}
		if os.Remove(filepath.Join(dir, entry.Name())) == nil {
			removed++
		}
	}
	return removed
}

// orphanPid extracts the pid from a temp-file name produced by Write.
func orphanPid(name string) (int, bool) {
	idx := strings.LastIndex(name, ".tmp.")
	if idx < 0 {
		return 0, false
	}
	rest := name[idx+len(".tmp."):]
	pidStr, _, found := strings.Cut(rest, ".")
	if !found {
		return 0, false
	}
	var pid int
	if _, err := fmt.Sscanf(pidStr, "%d", &pid); err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
