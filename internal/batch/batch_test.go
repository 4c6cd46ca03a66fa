package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/exifwarden/internal/engine"
	"github.com/starford/exifwarden/internal/metadata"
	"github.com/starford/exifwarden/internal/pathlock"
	"github.com/starford/exifwarden/internal/safety"
)

type fakeStripper struct {
	mu    sync.Mutex
	calls map[string]engine.StripOptions
	fail  map[string]error
}

func (f *fakeStripper) Strip(_ context.Context, path string, _ metadata.Scope, opts engine.StripOptions) (*safety.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]engine.StripOptions)
	}
	f.calls[path] = opts
	if err := f.fail[path]; err != nil {
		return &safety.Outcome{Path: path, State: safety.RolledBack}, err
	}
	return &safety.Outcome{Path: path, State: safety.Committed}, nil
}

func (f *fakeStripper) PreviewKeeping(_ context.Context, path string, _ metadata.Scope, keep metadata.KeepList) ([]metadata.KeyRef, error) {
	if err := f.fail[path]; err != nil {
		return nil, err
	}
	var out []metadata.KeyRef
	for _, k := range []string{"Make", "GPSLatitude"} {
		if !keep.Keeps(k) {
			out = append(out, metadata.KeyRef{Namespace: metadata.EXIF, Key: k})
		}
	}
	return out, nil
}

func (f *fakeStripper) called(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.calls[path]
	return ok
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunContinuesOnError(t *testing.T) {
	boom := errors.New("boom")
	s := &fakeStripper{fail: map[string]error{"b.jpg": boom}}
	r := NewRunner(s, nil, testLogger(), Options{Workers: 2, ContinueOnError: true})

	results, err := r.Run(context.Background(), []string{"a.jpg", "b.jpg", "c.png"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want joined boom", err)
	}
	if len(results) != 3 || results[1].Path != "b.jpg" || results[1].Err == nil {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Error("other files should succeed")
	}
	if len(s.calls) != 3 {
		t.Errorf("stripped %d files, want 3", len(s.calls))
	}
}

func TestRunStopsOnFirstError(t *testing.T) {
	boom := errors.New("boom")
	s := &fakeStripper{fail: map[string]error{"a.jpg": boom}}
	r := NewRunner(s, nil, testLogger(), Options{Workers: 1})

	_, err := r.Run(context.Background(), []string{"a.jpg", "b.jpg", "c.jpg"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if _, ok := s.calls["c.jpg"]; ok {
		t.Error("files after the failure should not be processed")
	}
}

func TestRunOutputDir(t *testing.T) {
	out := filepath.Join(t.TempDir(), "clean")
	s := &fakeStripper{}
	r := NewRunner(s, nil, testLogger(), Options{OutputDir: out, SkipBackup: true})

	if _, err := r.Run(context.Background(), []string{"/photos/a.jpg"}); err != nil {
		t.Fatal(err)
	}
	opts := s.calls["/photos/a.jpg"]
	if opts.OutputPath != filepath.Join(out, "a.jpg") || !opts.SkipBackup {
		t.Errorf("opts = %+v", opts)
	}
	if info, err := os.Stat(out); err != nil || !info.IsDir() {
		t.Errorf("output dir not created: %v", err)
	}
}

func TestRunOutputDirMirrorsLayout(t *testing.T) {
	out := filepath.Join(t.TempDir(), "clean")
	s := &fakeStripper{}
	r := NewRunner(s, nil, testLogger(), Options{OutputDir: out})

	paths := []string{"/photos/2023/a.jpg", "/photos/2024/a.jpg", "/photos/b.jpg"}
	results, err := r.Run(context.Background(), paths)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(out, "2023", "a.jpg"),
		filepath.Join(out, "2024", "a.jpg"),
		filepath.Join(out, "b.jpg"),
	}
	for i, p := range paths {
		if got := s.calls[p].OutputPath; got != want[i] {
			t.Errorf("%s: output = %s, want %s", p, got, want[i])
		}
		if results[i].Target != want[i] {
			t.Errorf("%s: result target = %s", p, results[i].Target)
		}
	}
	if info, err := os.Stat(filepath.Join(out, "2024")); err != nil || !info.IsDir() {
		t.Errorf("nested output dir not created: %v", err)
	}
}

func TestRunOutputDirRejectsCollisions(t *testing.T) {
	dir := t.TempDir()
	for name, paths := range map[string][]string{
		"same file":        {filepath.Join(dir, "a.jpg"), filepath.Join(dir, ".", "sub", "..", "a.jpg")},
		"overwrites input": {filepath.Join(dir, "a.jpg"), filepath.Join(dir, "out", "a.jpg")},
	} {
		t.Run(name, func(t *testing.T) {
			s := &fakeStripper{}
			r := NewRunner(s, nil, testLogger(), Options{OutputDir: filepath.Join(dir, "out")})
			if _, err := r.Run(context.Background(), paths); err == nil {
				t.Fatal("expected collision error")
			}
			if len(s.calls) != 0 {
				t.Errorf("stripped %d files before rejecting", len(s.calls))
			}
		})
	}
}

func TestRunLocksOutputPath(t *testing.T) {
	out := t.TempDir()
	locks := pathlock.New()
	s := &fakeStripper{}
	r := NewRunner(s, locks, testLogger(), Options{OutputDir: out})

	unlock := locks.Lock(filepath.Join(out, "a.jpg"))
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), []string{"/photos/a.jpg"})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if s.called("/photos/a.jpg") {
		t.Fatal("strip ran while the output path was locked")
	}
	unlock()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if !s.called("/photos/a.jpg") {
		t.Error("strip did not run after unlock")
	}
}

func TestRunDryRun(t *testing.T) {
	out := filepath.Join(t.TempDir(), "clean")
	s := &fakeStripper{}
	keep, _ := metadata.ParseKeep([]string{"make"})
	r := NewRunner(s, nil, testLogger(), Options{OutputDir: out, DryRun: true, Keep: keep})

	results, err := r.Run(context.Background(), []string{"a.jpg", "b.jpg"})
	if err != nil {
		t.Fatal(err)
	}
	want := []metadata.KeyRef{{Namespace: metadata.EXIF, Key: "GPSLatitude"}}
	for _, res := range results {
		if diff := cmp.Diff(want, res.Preview); diff != "" {
			t.Errorf("%s preview (-want +got):\n%s", res.Path, diff)
		}
		if res.Outcome != nil {
			t.Errorf("%s: dry run produced an outcome", res.Path)
		}
	}
	if len(s.calls) != 0 {
		t.Errorf("dry run stripped %d files", len(s.calls))
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("dry run created output dir: %v", err)
	}
}

func TestCollectPattern(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"IMG_001.JPG", "img_002.jpg", "scan.png", "sub/IMG_003.jpg"} {
		touch(t, filepath.Join(dir, name))
	}
	explicit := filepath.Join(dir, "scan.png")

	got, err := Collect([]string{dir, explicit}, true, "img_*")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(dir, "IMG_001.JPG"),
		filepath.Join(dir, "img_002.jpg"),
		filepath.Join(dir, "sub", "IMG_003.jpg"),
		explicit,
	}
	sort.Strings(got)
	sort.Strings(want)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("collected (-want +got):\n%s", diff)
	}

	if _, err := Collect([]string{dir}, false, "[a-"); err == nil {
		t.Error("expected error for bad pattern")
	}
}

func TestCollect(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"a.jpg", "b.PNG", "notes.txt", "a.backup.1700000000.jpg",
		".a.jpg.tmp-123", "sub/c.jpeg", ".hidden/d.png",
	} {
		touch(t, filepath.Join(dir, name))
	}
	explicit := filepath.Join(dir, "notes.txt")

	flat, err := Collect([]string{dir, explicit}, false, "")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(dir, "a.jpg"), filepath.Join(dir, "b.PNG"), explicit}
	sort.Strings(flat)
	sort.Strings(want)
	if diff := cmp.Diff(want, flat); diff != "" {
		t.Errorf("flat (-want +got):\n%s", diff)
	}

	deep, err := Collect([]string{dir}, true, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(deep) != 3 {
		t.Errorf("recursive = %v", deep)
	}

	if _, err := Collect([]string{filepath.Join(dir, "missing")}, false, ""); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestSkip(t *testing.T) {
	for name, want := range map[string]bool{
		"photo.jpg":             false,
		"photo.backup.1700.jpg": true,
		".photo.jpg.tmp-99":     true,
		".DS_Store":             true,
	} {
		if got := Skip(name); got != want {
			t.Errorf("Skip(%q) = %v, want %v", name, got, want)
		}
	}
}
