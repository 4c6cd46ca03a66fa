package journal

import (
	"context"
	"fmt"

	"github.com/starford/exifwarden/internal/integrity"
	"github.com/starford/exifwarden/internal/safety"
)

// Verify *DB satisfies safety.Journal at compile time.
var _ safety.Journal = (*DB)(nil)

// RecordBackup inserts or replaces a backup row.
func (db *DB) RecordBackup(ctx context.Context, rec safety.BackupRecord) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO backups (backup_path, original_path, created_at, size, checksum)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(backup_path) DO UPDATE SET
			original_path = excluded.original_path,
			created_at    = excluded.created_at,
			size          = excluded.size,
			checksum      = excluded.checksum
	`, rec.Path, rec.Original, rec.CreatedAt.UTC(), rec.Size, rec.Checksum)
	if err != nil {
		return fmt.Errorf("journal: record backup: %w", err)
	}
	return nil
}

// ForgetBackup deletes the row for a backup file. Unknown paths are ignored.
func (db *DB) ForgetBackup(ctx context.Context, backupPath string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM backups WHERE backup_path = ?`, backupPath); err != nil {
		return fmt.Errorf("journal: forget backup: %w", err)
	}
	return nil
}

// RecordOperation inserts one finished operation.
func (db *DB) RecordOperation(ctx context.Context, rec safety.OperationRecord) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO operations (id, op, path, target, scope, state, strategy, passed, distance, threshold, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Op, rec.Path, rec.Target, rec.Scope, string(rec.State),
		string(rec.Verdict.Strategy), rec.Verdict.Passed, rec.Verdict.Distance, rec.Verdict.Threshold,
		rec.Error, rec.StartedAt.UTC(), rec.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("journal: record operation: %w", err)
	}
	return nil
}

// Backups returns the recorded backups of original, oldest first.
func (db *DB) Backups(ctx context.Context, original string) ([]safety.BackupRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT backup_path, original_path, created_at, size, checksum
		FROM backups WHERE original_path = ?
		ORDER BY created_at ASC, backup_path ASC
	`, original)
	if err != nil {
		return nil, fmt.Errorf("journal: backups: %w", err)
	}
	defer rows.Close()
	var out []safety.BackupRecord
	for rows.Next() {
		var r safety.BackupRecord
		if err := rows.Scan(&r.Path, &r.Original, &r.CreatedAt, &r.Size, &r.Checksum); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AllBackups returns every recorded backup.
func (db *DB) AllBackups(ctx context.Context) ([]safety.BackupRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT backup_path, original_path, created_at, size, checksum
		FROM backups ORDER BY backup_path
	`)
	if err != nil {
		return nil, fmt.Errorf("journal: all backups: %w", err)
	}
	defer rows.Close()
	var out []safety.BackupRecord
	for rows.Next() {
		var r safety.BackupRecord
		if err := rows.Scan(&r.Path, &r.Original, &r.CreatedAt, &r.Size, &r.Checksum); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Operations returns the most recent operations on path, newest first.
// An empty path matches every file. limit <= 0 means 50.
func (db *DB) Operations(ctx context.Context, path string, limit int) ([]safety.OperationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, op, path, target, scope, state, strategy, passed, distance, threshold, error, started_at, finished_at
		FROM operations
		WHERE ? = '' OR path = ? OR target = ?
		ORDER BY finished_at DESC, rowid DESC
		LIMIT ?
	`, path, path, path, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: operations: %w", err)
	}
	defer rows.Close()
	var out []safety.OperationRecord
	for rows.Next() {
		var (
			r               safety.OperationRecord
			state, strategy string
		)
		err := rows.Scan(&r.ID, &r.Op, &r.Path, &r.Target, &r.Scope, &state, &strategy,
			&r.Verdict.Passed, &r.Verdict.Distance, &r.Verdict.Threshold, &r.Error, &r.StartedAt, &r.FinishedAt)
		if err != nil {
			return nil, err
		}
		r.State = safety.State(state)
		r.Verdict.Strategy = integrity.Strategy(strategy)
		out = append(out, r)
	}
	return out, rows.Err()
}
