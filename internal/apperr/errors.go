// Package apperr defines the closed error taxonomy shared by the codecs, the
// safety manager and the engine.
package apperr

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure surfaced by the core matches exactly one of them
// through errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrFormat             = errors.New("format error")
	ErrUnsupportedFeature = errors.New("unsupported feature")
	ErrIntegrity          = errors.New("integrity error")
	ErrIO                 = errors.New("io error")
)

// Error is a classified failure: Kind says what went wrong, Err says why.
type Error struct {
	Kind error
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// WithPath returns a copy of e annotated with path.
func (e *Error) WithPath(path string) *Error {
	c := *e
	c.Path = path
	return &c
}

func newf(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Format reports a structurally invalid container.
func Format(op, format string, args ...any) *Error {
	return newf(ErrFormat, op, format, args...)
}

// Unsupported reports a recognised element that cannot be parsed or written.
func Unsupported(op, format string, args ...any) *Error {
	return newf(ErrUnsupportedFeature, op, format, args...)
}

// Integrity reports a failed pixel or checksum verification.
func Integrity(op, format string, args ...any) *Error {
	return newf(ErrIntegrity, op, format, args...)
}

// NotFound reports a missing codec or backup.
func NotFound(op, format string, args ...any) *Error {
	return newf(ErrNotFound, op, format, args...)
}

// IO wraps a filesystem failure.
func IO(op, path string, err error) *Error {
	return &Error{Kind: ErrIO, Op: op, Path: path, Err: err}
}

// KindOf returns the kind of err, or nil when err is not classified.
func KindOf(err error) error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	for _, k := range []error{ErrNotFound, ErrFormat, ErrUnsupportedFeature, ErrIntegrity, ErrIO} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Classify wraps an unclassified error as IO, leaving classified errors alone.
func Classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Path == "" && path != "" {
			return ae.WithPath(path)
		}
		return ae
	}
	if KindOf(err) != nil {
		return err
	}
	return IO(op, path, err)
}
