// Package safety replaces image files without ever leaving a half-written
// original behind. Every mutation runs backup, temp write, verification and
// atomic rename, in that order, and rolls back on any failure before the
// rename.
package safety

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/starford/exifwarden/internal/apperr"
	"github.com/starford/exifwarden/internal/codec"
	"github.com/starford/exifwarden/internal/integrity"
	"github.com/starford/exifwarden/internal/storage"
)

// DefaultKeepCount is the number of backups retained per file.
const DefaultKeepCount = 5

// State is a step of the replacement protocol.
type State string

const (
	Idle       State = "idle"
	BackedUp   State = "backed_up"
	Written    State = "written"
	Verified   State = "verified"
	Committed  State = "committed"
	RolledBack State = "rolled_back"
)

// Request describes one in-place rewrite.
type Request struct {
	Path string
	// Target is where the result is committed. Empty means Path.
	Target string
	// Codec selects the integrity strategy.
	Codec codec.Codec
	// Mutate turns the original bytes into the candidate.
	Mutate     func(original []byte) ([]byte, error)
	SkipBackup bool

	// Op and Scope label the journal entry.
	Op    string
	Scope string
}

// Outcome reports how far a request got.
type Outcome struct {
	ID         string
	Path       string
	Target     string
	State      State
	Backup     *BackupRecord
	Verdict    integrity.Verdict
	SizeBefore int64
	SizeAfter  int64
}

// Manager runs the replacement protocol.
type Manager struct {
	keep      int
	backupDir string
	verifier  integrity.Verifier
	journal   Journal
	log       *slog.Logger
	now       func() time.Time
	replace   func(tmp, dst string) error
}

// New creates a Manager with the given options.
func New(opts ...Option) *Manager {
	m := &Manager{
		keep:     DefaultKeepCount,
		verifier: integrity.NewPixelVerifier(integrity.DefaultMaxMSE),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
		replace:  storage.Replace,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Apply rewrites req.Path through req.Mutate. The returned Outcome is
// non-nil even on error and carries the final state.
func (m *Manager) Apply(ctx context.Context, req Request) (*Outcome, error) {
	if req.Target == "" {
		req.Target = req.Path
	}
	out := &Outcome{ID: uuid.NewString(), Path: req.Path, Target: req.Target, State: Idle}
	started := m.now()

	err := m.apply(ctx, req, out)
	if err != nil {
		m.transition(out, RolledBack)
		err = apperr.Classify("safety: apply", req.Path, err)
	}
	m.record(ctx, req.Op, req.Scope, out, started, err)
	return out, err
}

func (m *Manager) apply(ctx context.Context, req Request, out *Outcome) error {
	if req.Codec == nil || req.Mutate == nil {
		return fmt.Errorf("safety: request for %s has no codec or mutation", req.Path)
	}
	info, err := os.Stat(req.Path)
	if err != nil {
		return apperr.IO("safety: stat", req.Path, err)
	}
	if !info.Mode().IsRegular() {
		return apperr.IO("safety: stat", req.Path, errors.New("not a regular file"))
	}
	original, err := os.ReadFile(req.Path)
	if err != nil {
		return apperr.IO("safety: read", req.Path, err)
	}
	out.SizeBefore = int64(len(original))

	if !req.SkipBackup && req.Target == req.Path {
		if err := checkCtx(ctx, req.Path); err != nil {
			return err
		}
		rec, err := m.backup(ctx, req.Path, original)
		if err != nil {
			return err
		}
		out.Backup = rec
		m.transition(out, BackedUp)
		if _, err := m.Prune(ctx, req.Path); err != nil {
			m.log.Warn("safety: prune failed", slog.String("path", req.Path), slog.String("error", err.Error()))
		}
	}

	if err := checkCtx(ctx, req.Path); err != nil {
		return err
	}
	candidate, err := req.Mutate(original)
	if err != nil {
		return err
	}
	tmp, err := storage.WriteTemp(filepath.Dir(req.Target), storage.TempPattern(req.Target), candidate, info.Mode())
	if err != nil {
		return apperr.IO("safety: write", req.Target, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmp)
		}
	}()
	m.transition(out, Written)

	if err := checkCtx(ctx, req.Path); err != nil {
		return err
	}
	written, err := os.ReadFile(tmp)
	if err != nil {
		return apperr.IO("safety: read back", tmp, err)
	}
	verdict, err := m.verifier.Verify(original, written, req.Codec.Compression())
	out.Verdict = verdict
	if err != nil {
		return err
	}
	m.transition(out, Verified)

	if err := checkCtx(ctx, req.Path); err != nil {
		return err
	}
	if err := m.replace(tmp, req.Target); err != nil {
		if !errors.Is(err, storage.ErrNotDurable) {
			return apperr.IO("safety: commit", req.Target, err)
		}
		m.log.Warn("safety: commit not durable", slog.String("path", req.Target), slog.String("error", err.Error()))
	}
	committed = true
	out.SizeAfter = int64(len(written))
	m.transition(out, Committed)
	return nil
}

// Restore puts backup back in place of original through the same temp file
// and rename discipline, then deletes the consumed backup.
func (m *Manager) Restore(ctx context.Context, original, backup string) (*Outcome, error) {
	out := &Outcome{ID: uuid.NewString(), Path: backup, Target: original, State: Idle}
	started := m.now()

	err := m.restore(ctx, original, backup, out)
	if err != nil {
		m.transition(out, RolledBack)
		err = apperr.Classify("safety: restore", original, err)
	}
	m.record(ctx, "restore", "", out, started, err)
	return out, err
}

func (m *Manager) restore(ctx context.Context, original, backup string, out *Outcome) error {
	if _, ok := ParseBackupName(original, backup); !ok || !m.owns(original, backup) {
		return apperr.NotFound("safety: restore", "%s is not a backup of %s", filepath.Base(backup), filepath.Base(original))
	}
	info, err := os.Stat(backup)
	if errors.Is(err, fs.ErrNotExist) {
		return apperr.NotFound("safety: restore", "backup %s does not exist", backup)
	}
	if err != nil {
		return apperr.IO("safety: stat", backup, err)
	}
	out.SizeBefore = info.Size()
	if err := checkCtx(ctx, original); err != nil {
		return err
	}
	if err := storage.CopyFile(backup, original); err != nil {
		if !errors.Is(err, storage.ErrNotDurable) {
			return apperr.IO("safety: restore", original, err)
		}
		m.log.Warn("safety: restore not durable", slog.String("path", original), slog.String("error", err.Error()))
	}
	out.SizeAfter = info.Size()
	m.transition(out, Committed)

	if err := os.Remove(backup); err != nil {
		m.log.Warn("safety: remove restored backup failed", slog.String("path", backup), slog.String("error", err.Error()))
		return nil
	}
	m.forget(ctx, backup)
	return nil
}

func (m *Manager) transition(out *Outcome, s State) {
	out.State = s
	m.log.Debug("safety: state",
		slog.String("op_id", out.ID),
		slog.String("path", out.Target),
		slog.String("state", string(s)),
	)
}

func (m *Manager) record(ctx context.Context, op, scope string, out *Outcome, started time.Time, opErr error) {
	if m.journal == nil {
		return
	}
	rec := OperationRecord{
		ID:         out.ID,
		Op:         op,
		Path:       out.Path,
		Target:     out.Target,
		Scope:      scope,
		State:      out.State,
		Verdict:    out.Verdict,
		StartedAt:  started,
		FinishedAt: m.now(),
	}
	if opErr != nil {
		rec.Error = opErr.Error()
	}
	// Recorded even when ctx was cancelled.
	if err := m.journal.RecordOperation(context.WithoutCancel(ctx), rec); err != nil {
		m.log.Warn("safety: journal operation failed", slog.String("path", out.Target), slog.String("error", err.Error()))
	}
}

func checkCtx(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return apperr.IO("safety: cancelled", path, err)
	}
	return nil
}
