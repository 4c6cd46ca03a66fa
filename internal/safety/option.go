package safety

import (
	"log/slog"
	"time"

	"github.com/starford/exifwarden/internal/integrity"
)

// Option configures a Manager.
type Option func(*Manager)

// WithKeepCount sets how many backups of each file are retained.
func WithKeepCount(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.keep = n
		}
	}
}

// WithBackupDir places backups in dir instead of next to the original.
func WithBackupDir(dir string) Option {
	return func(m *Manager) {
		m.backupDir = dir
	}
}

// WithVerifier replaces the default pixel verifier.
func WithVerifier(v integrity.Verifier) Option {
	return func(m *Manager) {
		if v != nil {
			m.verifier = v
		}
	}
}

// WithJournal records backups and operations in j.
func WithJournal(j Journal) Option {
	return func(m *Manager) {
		m.journal = j
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock sets the time source used for backup names.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}
