package journal

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/starford/exifwarden/internal/checksum"
)

// Sync reconciles the journal with disk: rows whose backup file no longer
// exists are removed, and backups whose content no longer matches the recorded
// checksum are reported.
func Sync(ctx context.Context, db *DB, logger *slog.Logger) error {
	recs, err := db.AllBackups(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		p := rec.Path
		_, err := os.Stat(p)
		if err == nil {
			verify(p, rec.Checksum, logger)
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("sync: stat failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		if err := db.ForgetBackup(ctx, p); err != nil {
			logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: removed stale", slog.String("path", p))
		}
	}
	return nil
}

func verify(path, want string, logger *slog.Logger) {
	if want == "" {
		return
	}
	got, err := checksum.SumFile(path)
	if err != nil {
		logger.Warn("sync: checksum failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	if got != want {
		logger.Warn("sync: backup modified", slog.String("path", path), slog.String("checksum", got))
	}
}
