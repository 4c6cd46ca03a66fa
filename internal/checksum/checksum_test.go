package checksum

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSumFileMatchesSum(t *testing.T) {
	data := []byte("backup contents")
	p := filepath.Join(t.TempDir(), "a.bin")
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := SumFile(p)
	if err != nil {
		t.Fatalf("SumFile: %v", err)
	}
	if want := Sum(data); got != want {
		t.Errorf("SumFile = %s, want %s", got, want)
	}
	if len(got) != 64 {
		t.Errorf("digest length = %d", len(got))
	}
}

func TestSumFileMissing(t *testing.T) {
	if _, err := SumFile(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error")
	}
}
