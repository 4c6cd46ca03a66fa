// Package storage holds the atomic file primitives used to replace images in
// place: temp file in the destination directory, fsync, rename.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotDurable is returned by Replace when the rename succeeded but the
// parent directory could not be fsynced. The new content is in place.
var ErrNotDurable = errors.New("storage: replace not durable")

var syncDir = SyncDir

// WriteTemp writes data to a new temp file in dir and returns its name.
// The file is fsynced, closed and chmod-ed to mode before returning; on any
// failure it is removed.
func WriteTemp(dir, pattern string, data []byte, mode fs.FileMode) (string, error) {
	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, mode.Perm()); err != nil {
		return "", fmt.Errorf("storage: chmod temp: %w", err)
	}
	success = true
	return tmpName, nil
}

// Replace renames tmp over dst and fsyncs the parent directory so the new
// directory entry is durable. A failed fsync yields ErrNotDurable.
func Replace(tmp, dst string) error {
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	if err := syncDir(filepath.Dir(dst)); err != nil {
		return fmt.Errorf("%w: %w", ErrNotDurable, err)
	}
	return nil
}

// WriteAtomic writes data to path through WriteTemp and Replace.
func WriteAtomic(path string, data []byte, mode fs.FileMode) error {
	tmp, err := WriteTemp(filepath.Dir(path), TempPattern(path), data, mode)
	if err != nil {
		return err
	}
	if err := Replace(tmp, path); err != nil {
		if !errors.Is(err, ErrNotDurable) {
			_ = os.Remove(tmp)
		}
		return err
	}
	return nil
}

// TempPattern is the CreateTemp pattern used for a replacement of path.
// Temp files are hidden and carry a ".tmp-" marker that watchers skip.
func TempPattern(path string) string {
	return "." + filepath.Base(path) + ".tmp-*"
}

// IsTemp reports whether name looks like a file produced by TempPattern.
func IsTemp(name string) bool {
	matched, _ := filepath.Match(".*.tmp-*", filepath.Base(name))
	return matched
}

// CopyFile copies src to dst atomically. The copy keeps the mode and
// modification time of src.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("storage: open: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("storage: stat: %w", err)
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("storage: read: %w", err)
	}

	tmp, err := WriteTemp(filepath.Dir(dst), TempPattern(dst), data, info.Mode())
	if err != nil {
		return err
	}
	if err := os.Chtimes(tmp, info.ModTime(), info.ModTime()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: chtimes: %w", err)
	}
	if err := Replace(tmp, dst); err != nil {
		if !errors.Is(err, ErrNotDurable) {
			_ = os.Remove(tmp)
		}
		return err
	}
	return nil
}

// SyncDir fsyncs a directory.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("storage: open dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("storage: fsync dir: %w", err)
	}
	return nil
}
