// Package engine is the entry point for reading, stripping and rewriting
// image metadata. It resolves the codec for a file and hands every mutation
// to the safety manager.
package engine

import (
	"context"
	"log/slog"
	"os"

	"github.com/starford/exifwarden/internal/apperr"
	"github.com/starford/exifwarden/internal/codec"
	"github.com/starford/exifwarden/internal/metadata"
	"github.com/starford/exifwarden/internal/safety"
	"github.com/starford/exifwarden/internal/sidecar"
)

// Safety runs mutations under the backup, verify and commit protocol.
// *safety.Manager implements it.
type Safety interface {
	Apply(ctx context.Context, req safety.Request) (*safety.Outcome, error)
	Restore(ctx context.Context, original, backup string) (*safety.Outcome, error)
	Backups(original string) ([]safety.BackupRecord, error)
}

// Verify *safety.Manager satisfies Safety at compile time.
var _ Safety = (*safety.Manager)(nil)

// StripOptions controls Strip.
type StripOptions struct {
	// OutputPath writes the result there and leaves the source untouched.
	OutputPath string
	SkipBackup bool
	// Keep names keys the strip leaves in place.
	Keep metadata.KeepList
}

// WriteOptions controls Write and RestoreDocument.
type WriteOptions struct {
	OutputPath string
	SkipBackup bool
}

// Engine does not serialise access to a path; callers that run mutations
// concurrently must hold a pathlock.Locker entry for the path.
type Engine struct {
	registry *codec.Registry
	safety   Safety
	log      *slog.Logger
}

// New creates an Engine.
func New(registry *codec.Registry, s Safety, logger *slog.Logger) *Engine {
	return &Engine{registry: registry, safety: s, log: logger}
}

// Resolve returns the codec for the file at path.
func (e *Engine) Resolve(path string) (codec.Codec, error) {
	return e.registry.ResolveFile(path)
}

// Read decodes the metadata of the file at path.
func (e *Engine) Read(_ context.Context, path string) (*metadata.Document, error) {
	c, err := e.Resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.IO("engine: read", path, err)
	}
	doc, err := c.Decode(data)
	if err != nil {
		return nil, apperr.Classify("engine: decode", path, err)
	}
	return doc, nil
}

// Preview lists the keys Strip would remove, without touching the file.
func (e *Engine) Preview(ctx context.Context, path string, scope metadata.Scope) ([]metadata.KeyRef, error) {
	return e.PreviewKeeping(ctx, path, scope, nil)
}

// PreviewKeeping is Preview for a strip with StripOptions.Keep set.
func (e *Engine) PreviewKeeping(ctx context.Context, path string, scope metadata.Scope, keep metadata.KeepList) ([]metadata.KeyRef, error) {
	doc, err := e.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	return doc.PreviewKeeping(scope, keep), nil
}

// Strip removes the metadata selected by scope.
func (e *Engine) Strip(ctx context.Context, path string, scope metadata.Scope, opts StripOptions) (*safety.Outcome, error) {
	c, err := e.Resolve(path)
	if err != nil {
		return nil, err
	}
	out, err := e.safety.Apply(ctx, safety.Request{
		Path:   path,
		Target: opts.OutputPath,
		Codec:  c,
		Mutate: func(original []byte) ([]byte, error) {
			if len(opts.Keep) == 0 {
				return c.Strip(original, scope)
			}
			doc, err := c.Decode(original)
			if err != nil {
				return nil, err
			}
			doc.StripKeeping(scope, opts.Keep)
			return c.Encode(original, doc)
		},
		SkipBackup: opts.SkipBackup,
		Op:         "strip",
		Scope:      scope.String(),
	})
	if err != nil {
		e.log.Warn("engine: strip failed", slog.String("path", path), slog.String("error", err.Error()))
		return out, apperr.Classify("engine: strip", path, err)
	}
	e.log.Info("engine: stripped",
		slog.String("path", out.Target),
		slog.String("scope", scope.String()),
		slog.String("format", c.Name()),
		slog.Int64("size_before", out.SizeBefore),
		slog.Int64("size_after", out.SizeAfter),
	)
	return out, nil
}

// Write replaces the metadata of the file at path with doc.
func (e *Engine) Write(ctx context.Context, path string, doc *metadata.Document, opts WriteOptions) (*safety.Outcome, error) {
	c, err := e.Resolve(path)
	if err != nil {
		return nil, err
	}
	out, err := e.safety.Apply(ctx, safety.Request{
		Path:   path,
		Target: opts.OutputPath,
		Codec:  c,
		Mutate: func(original []byte) ([]byte, error) {
			return c.Encode(original, doc)
		},
		SkipBackup: opts.SkipBackup,
		Op:         "write",
	})
	if err != nil {
		e.log.Warn("engine: write failed", slog.String("path", path), slog.String("error", err.Error()))
		return out, apperr.Classify("engine: write", path, err)
	}
	e.log.Info("engine: written", slog.String("path", out.Target), slog.String("format", c.Name()))
	return out, nil
}

// Restore replaces path with one of its backups.
func (e *Engine) Restore(ctx context.Context, path, backupPath string) (*safety.Outcome, error) {
	out, err := e.safety.Restore(ctx, path, backupPath)
	if err != nil {
		return out, apperr.Classify("engine: restore", path, err)
	}
	e.log.Info("engine: restored", slog.String("path", path), slog.String("backup", backupPath))
	return out, nil
}

// Backups lists the backups of path, oldest first.
func (e *Engine) Backups(path string) ([]safety.BackupRecord, error) {
	return e.safety.Backups(path)
}

// ExportDocument writes the metadata of path to a JSON or YAML sidecar.
func (e *Engine) ExportDocument(ctx context.Context, path, sidecarPath string) (*metadata.Document, error) {
	doc, err := e.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := sidecar.Write(sidecarPath, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// RestoreDocument reads a sidecar and writes it back into path.
func (e *Engine) RestoreDocument(ctx context.Context, path, sidecarPath string, opts WriteOptions) (*safety.Outcome, error) {
	c, err := e.Resolve(path)
	if err != nil {
		return nil, err
	}
	doc, err := sidecar.Read(sidecarPath, c.Name())
	if err != nil {
		return nil, err
	}
	return e.Write(ctx, path, doc, opts)
}
