// SPDX-License-Identifier: MIT

// Package files wraps filesystem operations for media and feed artifacts.
package files

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// Manager performs the filesystem side of the pipeline: atomic writes for
// generated artifacts, tolerant deletes for pruned media.
type Manager struct{}

// NewManager creates a file manager.
func NewManager() *Manager {
	return &Manager{}
}

// WriteAtomic writes data to path via a temp file and rename, so readers
// never observe a partial file.
func (m *Manager) WriteAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Delete removes a file. A missing file is success with deleted=false:
// the DB may say a file exists when it was removed externally, and prune
// treats "already gone" as done.
func (m *Manager) Delete(path string) (deleted bool, err error) {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete %s: %w", path, err)
	}
	return true, nil
}

// Size returns the file size in bytes.
func (m *Manager) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("not a regular file: %s", path)
	}
	return info.Size(), nil
}

// Exists reports whether path names a regular file.
func (m *Manager) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Move renames src to dst, falling back to copy+remove across devices.
func (m *Manager) Move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", dst, err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("stage %s: %w", dst, err)
	}
	defer func() { _ = out.Cleanup() }()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	if err := out.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("finalize %s: %w", dst, err)
	}
	return os.Remove(src)
}

// CleanIncomplete removes leftover partial downloads under dir.
func (m *Manager) CleanIncomplete(dir, incompleteSuffix string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read dir %s: %w", dir, err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), incompleteSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
