// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/starford/exifwarden/internal/codec/formats"
	"github.com/starford/exifwarden/internal/engine"
	"github.com/starford/exifwarden/internal/integrity"
	"github.com/starford/exifwarden/internal/journal"
	"github.com/starford/exifwarden/internal/pathlock"
	"github.com/starford/exifwarden/internal/safety"
	"github.com/starford/exifwarden/internal/watch"
)

// App holds the wired components shared by every command.
type App struct {
	Config  *Config
	Logger  *slog.Logger
	Engine  *engine.Engine
	Safety  *safety.Manager
	Locks   *pathlock.Locker
	Journal *journal.DB // nil when the journal is disabled

	watchPath string
}

// NewLogger builds the structured logger described by cfg.
func NewLogger(cfg ApplicationConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == LogFormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// NewApp wires the registry, safety manager, journal and engine.
func NewApp(ctx context.Context, opts ...Option) (*App, error) {
	a := &application{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(a)
	}
	if a.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := a.config

	logger := a.logger
	if logger == nil {
		logger = NewLogger(cfg.App, a.logOutput)
	}

	logger.Debug("Configuration loaded",
		slog.Bool("backup_enabled", cfg.Backup.Enabled),
		slog.Int("backup_keep", cfg.Backup.KeepCount),
		slog.Float64("max_mse", cfg.Integrity.MaxMSE),
		slog.Bool("journal_enabled", cfg.Journal.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	safetyOpts := []safety.Option{
		safety.WithKeepCount(cfg.Backup.KeepCount),
		safety.WithBackupDir(cfg.Backup.Directory),
		safety.WithVerifier(integrity.NewPixelVerifier(cfg.Integrity.MaxMSE)),
		safety.WithLogger(logger),
	}

	app := &App{
		Config:    cfg,
		Logger:    logger,
		Locks:     pathlock.New(),
		watchPath: cfg.Watch.Path,
	}
	if a.watchPath != "" {
		app.watchPath = a.watchPath
	}

	if cfg.Journal.Enabled {
		db, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("init journal: %w", err)
		}
		if err := journal.Sync(ctx, db, logger); err != nil {
			logger.Warn("initial journal sync failed", slog.String("error", err.Error()))
		}
		app.Journal = db
		safetyOpts = append(safetyOpts, safety.WithJournal(db))
	}

	app.Safety = safety.New(safetyOpts...)
	app.Engine = engine.New(formats.Default(logger), app.Safety, logger)
	return app, nil
}

// SkipBackup reports whether backups are disabled by configuration.
func (a *App) SkipBackup() bool {
	return !a.Config.Backup.Enabled
}

// Close releases the journal.
func (a *App) Close() error {
	if a.Journal != nil {
		return a.Journal.Close()
	}
	return nil
}

// Run starts the inbox watcher and blocks until ctx is cancelled or a
// shutdown signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app, err := NewApp(ctx, opts...)
	if err != nil {
		return err
	}
	defer app.Close()

	cfg := app.Config
	logger := app.Logger

	if err := os.MkdirAll(app.watchPath, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}

	w := watch.New(app.Engine, app.Locks, logger, watch.Options{
		Scope:      cfg.Watch.ParsedScope(),
		Debounce:   cfg.Watch.Debounce,
		SkipBackup: app.SkipBackup(),
	})

	logger.Info("Watcher starting...", slog.String("path", app.watchPath), slog.String("scope", cfg.Watch.Scope))

	g, gCtx := errgroup.WithContext(ctx)
	wCtx, stop := context.WithCancel(gCtx)

	g.Go(func() error {
		defer stop()
		return w.Run(wCtx, app.watchPath)
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-wCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}
		stop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Watcher stopped successfully")
	return nil
}
