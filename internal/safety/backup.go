package safety

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/starford/exifwarden/internal/apperr"
	"github.com/starford/exifwarden/internal/checksum"
	"github.com/starford/exifwarden/internal/storage"
)

// BackupName returns the backup file name for original at ts:
// <name>.backup.<unix>.<ext>.
func BackupName(original string, ts int64) string {
	stem, ext := splitExt(filepath.Base(original))
	return stem + ".backup." + strconv.FormatInt(ts, 10) + ext
}

// ParseBackupName reports whether name is a backup of original and returns
// its timestamp.
func ParseBackupName(original, name string) (int64, bool) {
	stem, ext := splitExt(filepath.Base(original))
	rest, ok := strings.CutPrefix(filepath.Base(name), stem+".backup.")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, ext)
	if !ok || rest == "" {
		return 0, false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	ts, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// IsBackup reports whether name follows the backup naming convention for
// any original.
func IsBackup(name string) bool {
	base := filepath.Base(name)
	i := strings.LastIndex(base, ".backup.")
	if i <= 0 {
		return false
	}
	_, ok := ParseBackupName(base[:i]+extOf(base[i+len(".backup."):]), base)
	return ok
}

func splitExt(base string) (string, string) {
	ext := filepath.Ext(base)
	if ext == base {
		ext = ""
	}
	return strings.TrimSuffix(base, ext), ext
}

// extOf returns the extension of a "<unix><ext>" tail.
func extOf(tail string) string {
	if i := strings.IndexByte(tail, '.'); i >= 0 {
		return tail[i:]
	}
	return ""
}

// backupDirFor returns where the backups of original live. A shared backup
// directory gets one subdirectory per source directory, keyed by a digest of
// its absolute path, so equal base names from different folders never share a
// retention set.
func (m *Manager) backupDirFor(original string) string {
	if m.backupDir == "" {
		return filepath.Dir(original)
	}
	src, err := filepath.Abs(filepath.Dir(original))
	if err != nil {
		src = filepath.Clean(filepath.Dir(original))
	}
	return filepath.Join(m.backupDir, checksum.Sum([]byte(src))[:16])
}

// owns reports whether backup sits in the backup directory of original.
func (m *Manager) owns(original, backup string) bool {
	want, err := filepath.Abs(m.backupDirFor(original))
	if err != nil {
		return false
	}
	got, err := filepath.Abs(filepath.Dir(backup))
	if err != nil {
		return false
	}
	return want == got
}

// Backups lists the backups of original, oldest first.
func (m *Manager) Backups(original string) ([]BackupRecord, error) {
	dir := m.backupDirFor(original)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, apperr.IO("safety: list backups", dir, err)
	}
	var out []BackupRecord
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ts, ok := ParseBackupName(original, e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, BackupRecord{
			Path:      filepath.Join(dir, e.Name()),
			Original:  original,
			CreatedAt: time.Unix(ts, 0),
			Size:      info.Size(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Prune deletes the oldest backups of original beyond the keep count and
// returns how many were removed.
func (m *Manager) Prune(ctx context.Context, original string) (int, error) {
	backups, err := m.Backups(original)
	if err != nil {
		return 0, err
	}
	excess := len(backups) - m.keep
	removed := 0
	for i := 0; i < excess; i++ {
		b := backups[i]
		if err := os.Remove(b.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, apperr.IO("safety: prune", b.Path, err)
		}
		removed++
		m.log.Debug("safety: backup pruned", slog.String("path", original), slog.String("backup", b.Path))
		m.forget(ctx, b.Path)
	}
	return removed, nil
}

// backup copies original next to itself (or into the backup dir), bumping
// the timestamp until the name is free.
func (m *Manager) backup(ctx context.Context, original string, data []byte) (*BackupRecord, error) {
	dir := m.backupDirFor(original)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.IO("safety: backup dir", dir, err)
	}
	ts := m.now().Unix()
	var dst string
	for {
		dst = filepath.Join(dir, BackupName(original, ts))
		if _, err := os.Lstat(dst); errors.Is(err, fs.ErrNotExist) {
			break
		} else if err != nil {
			return nil, apperr.IO("safety: backup", dst, err)
		}
		ts++
	}
	if err := storage.CopyFile(original, dst); err != nil {
		return nil, apperr.IO("safety: backup", dst, err)
	}
	rec := &BackupRecord{
		Path:      dst,
		Original:  original,
		CreatedAt: time.Unix(ts, 0),
		Size:      int64(len(data)),
		Checksum:  checksum.Sum(data),
	}
	if m.journal != nil {
		if err := m.journal.RecordBackup(ctx, *rec); err != nil {
			m.log.Warn("safety: journal backup failed", slog.String("path", dst), slog.String("error", err.Error()))
		}
	}
	return rec, nil
}

func (m *Manager) forget(ctx context.Context, backupPath string) {
	if m.journal == nil {
		return
	}
	if err := m.journal.ForgetBackup(ctx, backupPath); err != nil {
		m.log.Warn("safety: journal forget failed", slog.String("path", backupPath), slog.String("error", err.Error()))
	}
}
