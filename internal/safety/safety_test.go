package safety

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/exifwarden/internal/apperr"
	"github.com/starford/exifwarden/internal/codec"
	"github.com/starford/exifwarden/internal/codec/png"
	"github.com/starford/exifwarden/internal/integrity"
	"github.com/starford/exifwarden/internal/metadata"
	"github.com/starford/exifwarden/internal/storage"
	"github.com/starford/exifwarden/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ticker returns a clock that advances one second per call.
func ticker(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

type failingVerifier struct{}

func (failingVerifier) Verify(_, _ []byte, _ codec.Compression) (integrity.Verdict, error) {
	return integrity.Verdict{Strategy: integrity.Exact, Distance: 1}, apperr.Integrity("test", "pixels differ")
}

type memJournal struct {
	backups   []BackupRecord
	forgotten []string
	ops       []OperationRecord
}

func (j *memJournal) RecordBackup(_ context.Context, rec BackupRecord) error {
	j.backups = append(j.backups, rec)
	return nil
}

func (j *memJournal) ForgetBackup(_ context.Context, p string) error {
	j.forgotten = append(j.forgotten, p)
	return nil
}

func (j *memJournal) RecordOperation(_ context.Context, rec OperationRecord) error {
	j.ops = append(j.ops, rec)
	return nil
}

func fixture(t *testing.T, dir string) (string, []byte) {
	t.Helper()
	data := testutil.WithChunks(testutil.PNG(t, 8, 8),
		testutil.TextChunk("Author", "Jane"),
		testutil.TextChunk("GPSLatitude", "1/1 2/1 3/1"),
	)
	return testutil.WriteFile(t, dir, "photo.png", data), data
}

func stripRequest(path string) Request {
	c := png.New(testLogger())
	return Request{
		Path:  path,
		Codec: c,
		Mutate: func(original []byte) ([]byte, error) {
			return codec.StripWith(c, original, metadata.ScopeAll)
		},
		Op:    "strip",
		Scope: metadata.ScopeAll.String(),
	}
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, e := range entries {
		if storage.IsTemp(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestApplyCommits(t *testing.T) {
	dir := t.TempDir()
	path, original := fixture(t, dir)
	j := &memJournal{}
	m := New(WithLogger(testLogger()), WithJournal(j), WithClock(ticker(time.Unix(1700000000, 0))))

	out, err := m.Apply(context.Background(), stripRequest(path))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.State != Committed {
		t.Errorf("state = %s, want committed", out.State)
	}
	if !out.Verdict.Passed || out.Verdict.Strategy != integrity.Exact {
		t.Errorf("verdict = %+v", out.Verdict)
	}
	if out.Backup == nil {
		t.Fatal("expected a backup")
	}
	backup, err := os.ReadFile(out.Backup.Path)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if !bytes.Equal(backup, original) {
		t.Error("backup differs from original")
	}
	got, _ := os.ReadFile(path)
	if int64(len(got)) != out.SizeAfter || out.SizeAfter >= out.SizeBefore {
		t.Errorf("sizes before=%d after=%d file=%d", out.SizeBefore, out.SizeAfter, len(got))
	}
	if len(j.backups) != 1 || len(j.ops) != 1 || j.ops[0].State != Committed {
		t.Errorf("journal = %+v", j)
	}
	if left := tempFiles(t, dir); len(left) != 0 {
		t.Errorf("temp files left: %v", left)
	}
}

func TestApplyRollsBackOnIntegrityFailure(t *testing.T) {
	dir := t.TempDir()
	path, original := fixture(t, dir)
	mtime := time.Date(2021, 5, 6, 7, 8, 9, 0, time.UTC)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	j := &memJournal{}
	m := New(WithLogger(testLogger()), WithVerifier(failingVerifier{}), WithJournal(j))

	out, err := m.Apply(context.Background(), stripRequest(path))
	if !errors.Is(err, apperr.ErrIntegrity) {
		t.Fatalf("err = %v, want integrity error", err)
	}
	if out.State != RolledBack {
		t.Errorf("state = %s, want rolled_back", out.State)
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, original) {
		t.Error("original bytes changed")
	}
	info, _ := os.Stat(path)
	if !info.ModTime().Equal(mtime) {
		t.Errorf("mtime changed to %v", info.ModTime())
	}
	if left := tempFiles(t, dir); len(left) != 0 {
		t.Errorf("temp files left: %v", left)
	}
	if len(j.ops) != 1 || j.ops[0].Error == "" || j.ops[0].State != RolledBack {
		t.Errorf("journal ops = %+v", j.ops)
	}
}

func TestApplyMutationErrorKeepsKind(t *testing.T) {
	dir := t.TempDir()
	path, original := fixture(t, dir)
	req := stripRequest(path)
	req.SkipBackup = true
	req.Mutate = func([]byte) ([]byte, error) {
		return nil, apperr.Unsupported("test", "cannot write")
	}

	out, err := New(WithLogger(testLogger())).Apply(context.Background(), req)
	if !errors.Is(err, apperr.ErrUnsupportedFeature) {
		t.Fatalf("err = %v", err)
	}
	if out.Backup != nil {
		t.Error("SkipBackup should not create a backup")
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, original) {
		t.Error("original changed")
	}
}

func TestApplyCancelled(t *testing.T) {
	dir := t.TempDir()
	path, original := fixture(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := New(WithLogger(testLogger()))
	_, err := m.Apply(ctx, stripRequest(path))
	if !errors.Is(err, context.Canceled) || !errors.Is(err, apperr.ErrIO) {
		t.Fatalf("err = %v", err)
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, original) {
		t.Error("original changed")
	}
	backups, _ := m.Backups(path)
	if len(backups) != 0 {
		t.Errorf("backups = %v", backups)
	}
}

func TestApplyToSeparateTarget(t *testing.T) {
	dir := t.TempDir()
	path, original := fixture(t, dir)
	req := stripRequest(path)
	req.Target = filepath.Join(dir, "clean.png")

	m := New(WithLogger(testLogger()))
	out, err := m.Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Backup != nil {
		t.Error("no backup expected when writing elsewhere")
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, original) {
		t.Error("source changed")
	}
	if _, err := os.Stat(req.Target); err != nil {
		t.Errorf("target missing: %v", err)
	}
}

func TestApplyMissingFile(t *testing.T) {
	_, err := New(WithLogger(testLogger())).Apply(context.Background(), stripRequest(filepath.Join(t.TempDir(), "none.png")))
	if !errors.Is(err, apperr.ErrIO) {
		t.Fatalf("err = %v, want io error", err)
	}
}

func TestRetentionKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	path, _ := fixture(t, dir)
	j := &memJournal{}
	m := New(WithLogger(testLogger()), WithJournal(j), WithClock(ticker(time.Unix(1700000000, 0))))

	var first string
	for i := 0; i < 6; i++ {
		out, err := m.Apply(context.Background(), stripRequest(path))
		if err != nil {
			t.Fatalf("Apply %d: %v", i, err)
		}
		if i == 0 {
			first = out.Backup.Path
		}
	}
	backups, err := m.Backups(path)
	if err != nil {
		t.Fatalf("Backups: %v", err)
	}
	if len(backups) != 5 {
		t.Fatalf("have %d backups, want 5", len(backups))
	}
	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Error("oldest backup should have been removed")
	}
	for i := 1; i < len(backups); i++ {
		if !backups[i-1].CreatedAt.Before(backups[i].CreatedAt) {
			t.Error("backups not ordered oldest first")
		}
	}
	if len(j.forgotten) != 1 || j.forgotten[0] != first {
		t.Errorf("forgotten = %v", j.forgotten)
	}
}

func TestBackupNameClashBumpsTimestamp(t *testing.T) {
	dir := t.TempDir()
	path, _ := fixture(t, dir)
	fixed := time.Unix(1700000000, 0)
	m := New(WithLogger(testLogger()), WithClock(func() time.Time { return fixed }))

	a, err := m.Apply(context.Background(), stripRequest(path))
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Apply(context.Background(), stripRequest(path))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(a.Backup.Path) != "photo.backup.1700000000.png" {
		t.Errorf("first backup = %s", a.Backup.Path)
	}
	if filepath.Base(b.Backup.Path) != "photo.backup.1700000001.png" {
		t.Errorf("second backup = %s", b.Backup.Path)
	}
}

func TestBackupDir(t *testing.T) {
	dir := t.TempDir()
	path, _ := fixture(t, dir)
	backupDir := filepath.Join(dir, "backups")
	m := New(WithLogger(testLogger()), WithBackupDir(backupDir))

	out, err := m.Apply(context.Background(), stripRequest(path))
	if err != nil {
		t.Fatal(err)
	}
	if got := filepath.Dir(filepath.Dir(out.Backup.Path)); got != backupDir {
		t.Errorf("backup under %s, want %s", got, backupDir)
	}
	backups, err := m.Backups(path)
	if err != nil || len(backups) != 1 || backups[0].Path != out.Backup.Path {
		t.Errorf("Backups = %+v, %v", backups, err)
	}
}

func TestBackupDirSeparatesSameNames(t *testing.T) {
	root := t.TempDir()
	a, _ := fixture(t, filepath.Join(root, "a"))
	b, bOriginal := fixture(t, filepath.Join(root, "b"))
	m := New(WithLogger(testLogger()), WithBackupDir(filepath.Join(root, "backups")), WithKeepCount(1))
	ctx := context.Background()

	outB, err := m.Apply(ctx, stripRequest(b))
	if err != nil {
		t.Fatal(err)
	}
	if backups, _ := m.Backups(a); len(backups) != 0 {
		t.Errorf("a lists b's backups: %+v", backups)
	}
	aBefore, _ := os.ReadFile(a)
	if _, err := m.Restore(ctx, a, outB.Backup.Path); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("restore of foreign backup: err = %v, want not found", err)
	}
	if aAfter, _ := os.ReadFile(a); !bytes.Equal(aBefore, aAfter) {
		t.Error("a was overwritten by b's backup")
	}

	if _, err := m.Apply(ctx, stripRequest(a)); err != nil {
		t.Fatal(err)
	}
	kept, err := os.ReadFile(outB.Backup.Path)
	if err != nil {
		t.Fatalf("b's backup was pruned by a's strip: %v", err)
	}
	if !bytes.Equal(kept, bOriginal) {
		t.Error("b's backup changed")
	}
	if backups, _ := m.Backups(b); len(backups) != 1 {
		t.Errorf("b backups = %d, want 1", len(backups))
	}
}

func TestApplyCommitsWhenDirSyncFails(t *testing.T) {
	dir := t.TempDir()
	path, original := fixture(t, dir)
	m := New(WithLogger(testLogger()), WithJournal(&memJournal{}))
	m.replace = func(tmp, dst string) error {
		if err := os.Rename(tmp, dst); err != nil {
			return err
		}
		return fmt.Errorf("%w: fsync dir: input/output error", storage.ErrNotDurable)
	}

	out, err := m.Apply(context.Background(), stripRequest(path))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.State != Committed {
		t.Errorf("state = %s, want committed", out.State)
	}
	got, _ := os.ReadFile(path)
	if bytes.Equal(got, original) || int64(len(got)) != out.SizeAfter {
		t.Error("stripped content should be in place")
	}
}

func TestRestore(t *testing.T) {
	dir := t.TempDir()
	path, original := fixture(t, dir)
	j := &memJournal{}
	m := New(WithLogger(testLogger()), WithJournal(j))

	out, err := m.Apply(context.Background(), stripRequest(path))
	if err != nil {
		t.Fatal(err)
	}
	res, err := m.Restore(context.Background(), path, out.Backup.Path)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if res.State != Committed {
		t.Errorf("state = %s", res.State)
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, original) {
		t.Error("restored content differs from original")
	}
	if _, err := os.Stat(out.Backup.Path); !os.IsNotExist(err) {
		t.Error("consumed backup should be deleted")
	}
	if len(j.forgotten) != 1 {
		t.Errorf("forgotten = %v", j.forgotten)
	}
}

func TestRestoreRejectsForeignBackup(t *testing.T) {
	dir := t.TempDir()
	path, _ := fixture(t, dir)
	other := testutil.WriteFile(t, dir, "other.backup.1.png", []byte("x"))

	_, err := New(WithLogger(testLogger())).Restore(context.Background(), path, other)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	_, err = New(WithLogger(testLogger())).Restore(context.Background(), path, filepath.Join(dir, "photo.backup.5.png"))
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("missing backup err = %v, want not found", err)
	}
}

func TestBackupNames(t *testing.T) {
	if got := BackupName("/a/photo.jpg", 42); got != "photo.backup.42.jpg" {
		t.Errorf("BackupName = %q", got)
	}
	if got := BackupName("README", 7); got != "README.backup.7" {
		t.Errorf("BackupName = %q", got)
	}
	cases := []struct {
		original, name string
		ts             int64
		ok             bool
	}{
		{"photo.jpg", "photo.backup.42.jpg", 42, true},
		{"photo.jpg", "photo.backup.42.png", 0, false},
		{"photo.jpg", "photo.backup..jpg", 0, false},
		{"photo.jpg", "photo.backup.4x2.jpg", 0, false},
		{"photo.jpg", "photos.backup.42.jpg", 0, false},
		{"archive.tar.gz", "archive.tar.backup.9.gz", 9, true},
	}
	for _, c := range cases {
		ts, ok := ParseBackupName(c.original, c.name)
		if ok != c.ok || ts != c.ts {
			t.Errorf("ParseBackupName(%q, %q) = %d, %v", c.original, c.name, ts, ok)
		}
	}
	if !IsBackup("/x/photo.backup.1700000000.jpg") || IsBackup("photo.jpg") {
		t.Error("IsBackup misclassified")
	}
}
