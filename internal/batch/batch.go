// Package batch strips many files in parallel.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/starford/exifwarden/internal/engine"
	"github.com/starford/exifwarden/internal/metadata"
	"github.com/starford/exifwarden/internal/pathlock"
	"github.com/starford/exifwarden/internal/safety"
	"github.com/starford/exifwarden/internal/storage"
)

// DefaultWorkers is used when Options.Workers is not positive.
const DefaultWorkers = 4

// Stripper is the part of *engine.Engine a batch needs.
type Stripper interface {
	Strip(ctx context.Context, path string, scope metadata.Scope, opts engine.StripOptions) (*safety.Outcome, error)
	PreviewKeeping(ctx context.Context, path string, scope metadata.Scope, keep metadata.KeepList) ([]metadata.KeyRef, error)
}

// Options controls a batch run.
type Options struct {
	Workers         int
	ContinueOnError bool
	Scope           metadata.Scope
	// OutputDir receives the stripped copies, laid out like the inputs below
	// their deepest common directory. Empty rewrites in place.
	OutputDir  string
	SkipBackup bool
	Keep       metadata.KeepList
	// DryRun previews every file and writes nothing.
	DryRun bool
}

// Result is the outcome for one file. Preview is set instead of Outcome on a
// dry run.
type Result struct {
	Path    string
	Target  string
	Outcome *safety.Outcome
	Preview []metadata.KeyRef
	Err     error
}

// Runner strips files with a bounded worker pool.
type Runner struct {
	stripper Stripper
	locks    *pathlock.Locker
	log      *slog.Logger
	opts     Options
}

// NewRunner creates a Runner. locks may be shared with other writers such as
// the inbox watcher.
func NewRunner(s Stripper, locks *pathlock.Locker, logger *slog.Logger, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if locks == nil {
		locks = pathlock.New()
	}
	return &Runner{stripper: s, locks: locks, log: logger, opts: opts}
}

// Run strips every path and returns one Result per path, in input order.
// With ContinueOnError the returned error joins all failures; without it the
// first failure cancels the files not yet started.
func (r *Runner) Run(ctx context.Context, paths []string) ([]Result, error) {
	results := make([]Result, len(paths))
	if r.opts.OutputDir != "" && !r.opts.DryRun {
		targets, err := Targets(r.opts.OutputDir, paths)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(r.opts.OutputDir, 0o755); err != nil {
			return nil, fmt.Errorf("batch: create output dir: %w", err)
		}
		for i := range results {
			results[i].Target = targets[i]
		}
	}
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for i, p := range paths {
		i, p := i, p
		results[i].Path = p
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			var err error
			if r.opts.DryRun {
				results[i].Preview, err = r.stripper.PreviewKeeping(gCtx, p, r.opts.Scope, r.opts.Keep)
			} else {
				results[i].Outcome, err = r.one(gCtx, p, results[i].Target)
			}
			results[i].Err = err
			if err != nil {
				r.log.Warn("batch: file failed", slog.String("path", p), slog.String("error", err.Error()))
				if !r.opts.ContinueOnError {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Path, res.Err))
		}
	}
	return results, errors.Join(errs...)
}

// one strips path, writing to target when it is set. Both paths are locked,
// in a fixed order so that concurrent runs cannot deadlock.
func (r *Runner) one(ctx context.Context, path, target string) (*safety.Outcome, error) {
	opts := engine.StripOptions{SkipBackup: r.opts.SkipBackup, Keep: r.opts.Keep, OutputPath: target}
	if target == "" {
		unlock := r.locks.Lock(path)
		defer unlock()
		return r.stripper.Strip(ctx, path, r.opts.Scope, opts)
	}

	first, second := path, target
	if lockKey(second) < lockKey(first) {
		first, second = second, first
	}
	unlock := r.locks.Lock(first)
	defer unlock()
	unlock2 := r.locks.Lock(second)
	defer unlock2()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("batch: create output dir: %w", err)
	}
	return r.stripper.Strip(ctx, path, r.opts.Scope, opts)
}

func lockKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Targets maps every path to its output file under dir. The layout below
// the deepest directory shared by all paths is mirrored, so equal base names
// in different directories stay apart. Two inputs that resolve to one file,
// or a target that is itself an input, are an error.
func Targets(dir string, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("batch: output dir %s: %w", dir, err)
	}
	abs := make([]string, len(paths))
	inputs := make(map[string]string, len(paths))
	for i, p := range paths {
		if abs[i], err = filepath.Abs(p); err != nil {
			return nil, fmt.Errorf("batch: %s: %w", p, err)
		}
		if prev, dup := inputs[abs[i]]; dup {
			return nil, fmt.Errorf("batch: %s and %s are the same file", prev, p)
		}
		inputs[abs[i]] = p
	}

	base := commonDir(abs)
	out := make([]string, len(paths))
	for i, a := range abs {
		rel, err := filepath.Rel(base, a)
		if err != nil {
			return nil, fmt.Errorf("batch: %s: %w", paths[i], err)
		}
		out[i] = filepath.Join(absDir, rel)
		if src, clash := inputs[out[i]]; clash {
			return nil, fmt.Errorf("batch: output for %s would overwrite input %s", paths[i], src)
		}
	}
	return out, nil
}

// commonDir returns the deepest directory containing every path in abs.
func commonDir(abs []string) string {
	base := filepath.Dir(abs[0])
	for _, p := range abs[1:] {
		for !within(base, p) {
			parent := filepath.Dir(base)
			if parent == base {
				break
			}
			base = parent
		}
	}
	return base
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// IsImageName reports whether name has an extension the built-in codecs
// handle.
func IsImageName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".jpe", ".jfif", ".png":
		return true
	}
	return false
}

// Skip reports whether name is a backup, temp or hidden file that batch and
// watch never touch.
func Skip(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, ".") || storage.IsTemp(base) || safety.IsBackup(base)
}

// Collect expands args into the list of files to process. Files named
// explicitly are always kept; directories contribute their image files,
// recursively when recursive is set. A non-empty pattern further limits
// directory entries to base names matching it, case-insensitively.
func Collect(args []string, recursive bool, pattern string) ([]string, error) {
	pattern = strings.ToLower(pattern)
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("batch: pattern %q: %w", pattern, err)
	}
	var out []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("batch: stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			add(arg)
			continue
		}
		err = filepath.WalkDir(arg, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if p != arg && (!recursive || strings.HasPrefix(d.Name(), ".")) {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() && IsImageName(p) && !Skip(p) && matches(pattern, d.Name()) {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("batch: walk %s: %w", arg, err)
		}
	}
	return out, nil
}

func matches(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	ok, _ := filepath.Match(pattern, strings.ToLower(name))
	return ok
}
