package journal

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/exifwarden/internal/checksum"
	"github.com/starford/exifwarden/internal/integrity"
	"github.com/starford/exifwarden/internal/safety"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "exifwarden-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM backups`).Scan(&count); err != nil {
		t.Fatalf("backups table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM operations`).Scan(&count); err != nil {
		t.Fatalf("operations table missing: %v", err)
	}
}

func TestBackupsRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()
	for i, name := range []string{"b.backup.2.jpg", "b.backup.1.jpg"} {
		rec := safety.BackupRecord{
			Path:      "/photos/" + name,
			Original:  "/photos/b.jpg",
			CreatedAt: base.Add(time.Duration(-i) * time.Hour),
			Size:      100,
			Checksum:  "abc",
		}
		if err := db.RecordBackup(ctx, rec); err != nil {
			t.Fatalf("RecordBackup: %v", err)
		}
	}
	_ = db.RecordBackup(ctx, safety.BackupRecord{Path: "/photos/c.backup.1.jpg", Original: "/photos/c.jpg", CreatedAt: base})

	got, err := db.Backups(ctx, "/photos/b.jpg")
	if err != nil {
		t.Fatalf("Backups: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d backups, want 2", len(got))
	}
	if got[0].Path != "/photos/b.backup.1.jpg" {
		t.Errorf("oldest first expected, got %s", got[0].Path)
	}
	if !got[1].CreatedAt.Equal(base) || got[1].Checksum != "abc" || got[1].Size != 100 {
		t.Errorf("row = %+v", got[1])
	}

	if err := db.ForgetBackup(ctx, "/photos/b.backup.1.jpg"); err != nil {
		t.Fatalf("ForgetBackup: %v", err)
	}
	got, _ = db.Backups(ctx, "/photos/b.jpg")
	if len(got) != 1 {
		t.Errorf("after forget: %d rows", len(got))
	}
}

func TestOperations(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	start := time.Unix(1700000000, 0)
	for i := 0; i < 3; i++ {
		rec := safety.OperationRecord{
			ID:    string(rune('a' + i)),
			Op:    "strip",
			Path:  "/p/x.png",
			Scope: "all",
			State: safety.Committed,
			Verdict: integrity.Verdict{
				Strategy: integrity.Exact,
				Passed:   true,
			},
			StartedAt:  start.Add(time.Duration(i) * time.Minute),
			FinishedAt: start.Add(time.Duration(i)*time.Minute + time.Second),
		}
		if err := db.RecordOperation(ctx, rec); err != nil {
			t.Fatalf("RecordOperation: %v", err)
		}
	}
	_ = db.RecordOperation(ctx, safety.OperationRecord{
		ID: "z", Op: "strip", Path: "/p/y.jpg", State: safety.RolledBack, Error: "integrity error",
		StartedAt: start, FinishedAt: start,
	})

	ops, err := db.Operations(ctx, "/p/x.png", 2)
	if err != nil {
		t.Fatalf("Operations: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("got %d ops, want 2", len(ops))
	}
	if ops[0].ID != "c" {
		t.Errorf("newest first expected, got %s", ops[0].ID)
	}
	if ops[0].State != safety.Committed || ops[0].Verdict.Strategy != integrity.Exact || !ops[0].Verdict.Passed {
		t.Errorf("op = %+v", ops[0])
	}

	all, _ := db.Operations(ctx, "", 0)
	if len(all) != 4 {
		t.Errorf("all ops = %d, want 4", len(all))
	}
}

func TestSyncDropsMissingBackups(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	dir := t.TempDir()
	present := filepath.Join(dir, "a.backup.1.jpg")
	if err := os.WriteFile(present, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_ = db.RecordBackup(ctx, safety.BackupRecord{Path: present, Original: filepath.Join(dir, "a.jpg"), CreatedAt: time.Unix(1, 0)})
	_ = db.RecordBackup(ctx, safety.BackupRecord{Path: filepath.Join(dir, "a.backup.2.jpg"), Original: filepath.Join(dir, "a.jpg"), CreatedAt: time.Unix(2, 0)})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := Sync(ctx, db, logger); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	recs, _ := db.AllBackups(ctx)
	if len(recs) != 1 || recs[0].Path != present {
		t.Errorf("backups after sync = %+v", recs)
	}
}

func TestSyncReportsModifiedBackup(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	dir := t.TempDir()
	p := filepath.Join(dir, "a.backup.1.jpg")
	if err := os.WriteFile(p, []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}
	_ = db.RecordBackup(ctx, safety.BackupRecord{Path: p, Original: filepath.Join(dir, "a.jpg"), CreatedAt: time.Unix(1, 0), Checksum: checksum.Sum([]byte("original"))})

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	if err := Sync(ctx, db, logger); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !strings.Contains(buf.String(), "sync: backup modified") {
		t.Errorf("expected warning, got %q", buf.String())
	}
	recs, _ := db.AllBackups(ctx)
	if len(recs) != 1 {
		t.Errorf("modified backup should stay journaled, got %d", len(recs))
	}
}

func TestJournalWithManager(t *testing.T) {
	db := testDB(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "a.png")
	if err := os.WriteFile(src, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := safety.New(safety.WithJournal(db))
	res, err := m.Restore(context.Background(), src, filepath.Join(dir, "a.backup.1.png"))
	if err == nil {
		t.Fatal("expected missing backup error")
	}
	ops, _ := db.Operations(context.Background(), "", 10)
	if len(ops) != 1 || ops[0].ID != res.ID || ops[0].State != safety.RolledBack {
		t.Errorf("ops = %+v", ops)
	}
}
