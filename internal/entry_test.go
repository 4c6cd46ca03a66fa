package internal

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/exifwarden/internal/engine"
	"github.com/starford/exifwarden/internal/metadata"
	"github.com/starford/exifwarden/internal/testutil"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	cfg.Watch.Path = filepath.Join(t.TempDir(), "inbox")
	cfg.Watch.Debounce = 20 * time.Millisecond
	return cfg
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(ApplicationConfig{LogFormat: LogFormatText}, &buf).Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text handler expected, got %q", buf.String())
	}
	buf.Reset()
	NewLogger(ApplicationConfig{LogFormat: LogFormatJSON}, &buf).Info("hello")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("json handler expected, got %q", buf.String())
	}
}

func TestNewAppRequiresConfig(t *testing.T) {
	if _, err := NewApp(context.Background()); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestNewAppWiresJournal(t *testing.T) {
	cfg := testConfig(t)
	app, err := NewApp(context.Background(), WithConfig(cfg), WithLogOutput(io.Discard))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer app.Close()

	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "a.png", testutil.WithChunks(testutil.PNG(t, 4, 4), testutil.TextChunk("GPS", "1,2")))
	if _, err := app.Engine.Strip(context.Background(), path, metadata.ScopeAll, engineOpts(app)); err != nil {
		t.Fatalf("Strip: %v", err)
	}
	backups, err := app.Journal.Backups(context.Background(), path)
	if err != nil || len(backups) != 1 {
		t.Errorf("journal backups = %v, %v", backups, err)
	}
	ops, _ := app.Journal.Operations(context.Background(), path, 10)
	if len(ops) != 1 || ops[0].Op != "strip" {
		t.Errorf("journal ops = %+v", ops)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Enabled = false
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Run(ctx, WithConfig(cfg), WithLogger(logger)) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func engineOpts(app *App) engine.StripOptions {
	return engine.StripOptions{SkipBackup: app.SkipBackup()}
}
