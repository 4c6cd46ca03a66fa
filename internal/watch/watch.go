// Package watch strips new images dropped into an inbox directory.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/exifwarden/internal/batch"
	"github.com/starford/exifwarden/internal/engine"
	"github.com/starford/exifwarden/internal/metadata"
	"github.com/starford/exifwarden/internal/pathlock"
	"github.com/starford/exifwarden/internal/safety"
)

// DefaultDebounce is the quiet period after the last event before pending
// files are processed.
const DefaultDebounce = 500 * time.Millisecond

// Engine is the part of *engine.Engine the watcher needs.
type Engine interface {
	Preview(ctx context.Context, path string, scope metadata.Scope) ([]metadata.KeyRef, error)
	Strip(ctx context.Context, path string, scope metadata.Scope, opts engine.StripOptions) (*safety.Outcome, error)
}

// EventCallback is called after every processed file. out is nil when
// there was nothing to strip.
type EventCallback func(path string, out *safety.Outcome, err error)

// Options controls a Watcher.
type Options struct {
	Scope      metadata.Scope
	Debounce   time.Duration
	SkipBackup bool
	Callback   EventCallback
}

// Watcher reacts to file events under one root.
type Watcher struct {
	engine Engine
	locks  *pathlock.Locker
	log    *slog.Logger
	opts   Options
}

// New creates a Watcher. locks may be shared with batch runs.
func New(e Engine, locks *pathlock.Locker, logger *slog.Logger, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if locks == nil {
		locks = pathlock.New()
	}
	return &Watcher{engine: e, locks: locks, log: logger, opts: opts}
}

// Run processes the images already under root, then watches root and its
// subdirectories until ctx is cancelled. New directories are added to the
// watch list as they appear.
func (w *Watcher) Run(ctx context.Context, root string) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := addDirsRecursive(fw, root); err != nil {
		return err
	}
	w.log.Info("watcher: started", slog.String("root", root), slog.String("scope", w.opts.Scope.String()))

	pending := make(map[string]struct{})
	w.enqueueDir(root, pending)

	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.opts.Debounce)
			timerCh = timer.C
		} else {
			timer.Reset(w.opts.Debounce)
		}
	}
	if len(pending) > 0 {
		schedule()
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.log.Info("watcher: stopped")
			return nil

		case <-timerCh:
			for p := range pending {
				delete(pending, p)
				w.process(ctx, p)
			}

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			path := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(fw, path); addErr != nil {
						w.log.Warn("watcher: add new dir failed",
							slog.String("path", path),
							slog.String("error", addErr.Error()))
					} else {
						w.log.Debug("watcher: watching new dir", slog.String("path", path))
					}
					if w.enqueueDir(path, pending) > 0 {
						schedule()
					}
					continue
				}
			}

			if !batch.IsImageName(path) || batch.Skip(path) {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				pending[path] = struct{}{}
				schedule()
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				delete(pending, path)
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// process strips one file unless it has nothing in scope. Rewrites made
// here fire events for the same path; the second pass finds nothing to do.
func (w *Watcher) process(ctx context.Context, path string) {
	unlock := w.locks.Lock(path)
	defer unlock()

	keys, err := w.engine.Preview(ctx, path, w.opts.Scope)
	if err != nil {
		w.log.Warn("watcher: read failed", slog.String("path", path), slog.String("error", err.Error()))
		w.notify(path, nil, err)
		return
	}
	if len(keys) == 0 {
		w.log.Debug("watcher: nothing to strip", slog.String("path", path))
		w.notify(path, nil, nil)
		return
	}
	out, err := w.engine.Strip(ctx, path, w.opts.Scope, engine.StripOptions{SkipBackup: w.opts.SkipBackup})
	if err != nil {
		w.log.Warn("watcher: strip failed", slog.String("path", path), slog.String("error", err.Error()))
	} else {
		w.log.Info("watcher: stripped", slog.String("path", path), slog.Int("keys", len(keys)))
	}
	w.notify(path, out, err)
}

func (w *Watcher) notify(path string, out *safety.Outcome, err error) {
	if w.opts.Callback != nil {
		w.opts.Callback(path, out, err)
	}
}

// enqueueDir adds the images already present under dir.
func (w *Watcher) enqueueDir(dir string, pending map[string]struct{}) int {
	files, err := batch.Collect([]string{dir}, true, "")
	if err != nil {
		w.log.Warn("watcher: scan failed", slog.String("path", dir), slog.String("error", err.Error()))
		return 0
	}
	for _, f := range files {
		pending[f] = struct{}{}
	}
	return len(files)
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
