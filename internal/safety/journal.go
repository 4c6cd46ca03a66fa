package safety

import (
	"context"
	"time"

	"github.com/starford/exifwarden/internal/integrity"
)

// BackupRecord describes one backup file.
type BackupRecord struct {
	Path      string
	Original  string
	CreatedAt time.Time
	Size      int64
	Checksum  string
}

// OperationRecord is the journal entry written after every Apply or Restore.
type OperationRecord struct {
	ID         string
	Op         string
	Path       string
	Target     string
	Scope      string
	State      State
	Verdict    integrity.Verdict
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Journal persists backup and operation history. Journal failures are
// logged and never fail the operation being recorded.
type Journal interface {
	RecordBackup(ctx context.Context, rec BackupRecord) error
	ForgetBackup(ctx context.Context, backupPath string) error
	RecordOperation(ctx context.Context, rec OperationRecord) error
}
