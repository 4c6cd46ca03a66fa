package apperr

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
)

func TestErrorMatchesKind(t *testing.T) {
	err := Format("jpeg: decode", "segment length %d past end", 42)
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("errors.Is(ErrFormat) = false for %v", err)
	}
	if errors.Is(err, ErrIntegrity) {
		t.Error("format error should not match ErrIntegrity")
	}
	if !strings.Contains(err.Error(), "past end") {
		t.Errorf("message lost cause: %q", err.Error())
	}
}

func TestIOUnwrapsCause(t *testing.T) {
	err := IO("safety: backup", "/tmp/x.jpg", fs.ErrPermission)
	if !errors.Is(err, ErrIO) {
		t.Error("expected ErrIO")
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Error("expected cause to be reachable")
	}
	if !strings.Contains(err.Error(), "/tmp/x.jpg") {
		t.Errorf("path missing from %q", err.Error())
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{Integrity("verify", "mse %.2f", 9.1), ErrIntegrity},
		{Unsupported("xmp", "prefix %q", "foo"), ErrUnsupportedFeature},
		{NotFound("registry", "no codec"), ErrNotFound},
		{errors.New("plain"), nil},
		{nil, nil},
	}
	for _, c := range cases {
		if got := KindOf(c.err); got != c.want {
			t.Errorf("KindOf(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestKindOfPrefersOuterKind(t *testing.T) {
	inner := IO("read", "a", errors.New("boom"))
	outer := &Error{Kind: ErrIntegrity, Op: "verify", Err: inner}
	if got := KindOf(outer); got != ErrIntegrity {
		t.Errorf("KindOf = %v, want ErrIntegrity", got)
	}
}

func TestClassify(t *testing.T) {
	if Classify("op", "p", nil) != nil {
		t.Error("nil should stay nil")
	}
	err := Classify("safety: commit", "/a/b.png", errors.New("rename failed"))
	if !errors.Is(err, ErrIO) {
		t.Errorf("unclassified error should become ErrIO, got %v", err)
	}
	f := Format("png", "bad")
	got := Classify("engine", "/a/b.png", f)
	if !errors.Is(got, ErrFormat) {
		t.Errorf("classified error changed kind: %v", got)
	}
	var ae *Error
	if !errors.As(got, &ae) || ae.Path != "/a/b.png" {
		t.Errorf("expected path annotation, got %#v", got)
	}
}
