package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/exifwarden/internal/metadata"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Backup    BackupConfig      `yaml:"backup"`
	Integrity IntegrityConfig   `yaml:"integrity"`
	Journal   JournalConfig     `yaml:"journal"`
	Batch     BatchConfig       `yaml:"batch"`
	Watch     WatchConfig       `yaml:"watch"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Backup.Validate(); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	if err := c.Integrity.Validate(); err != nil {
		return fmt.Errorf("integrity: %w", err)
	}
	if err := c.Journal.Validate(); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if err := c.Batch.Validate(); err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	if err := c.Watch.Validate(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	LogFormat string     `yaml:"log_format"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.LogFormat == "" {
		c.LogFormat = LogFormatJSON
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(LogFormatJSON, LogFormatText)),
	)
}

// BackupConfig controls backups made before every in-place rewrite.
//
// Directory is empty by default, which keeps backups next to the original.
type BackupConfig struct {
	Enabled   bool   `yaml:"enabled"`
	KeepCount int    `yaml:"keep_count"`
	Directory string `yaml:"directory"`
}

// Validate validates the backup configuration.
func (c *BackupConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.KeepCount, validation.Required, validation.Min(1), validation.Max(1000)),
	)
}

// IntegrityConfig holds the pixel verification threshold for lossy files.
type IntegrityConfig struct {
	MaxMSE float64 `yaml:"max_mse"`
}

// Validate validates the integrity configuration.
func (c *IntegrityConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxMSE, validation.Required, validation.Min(0.0).Exclusive()),
	)
}

// JournalConfig holds the SQLite operation journal configuration.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Validate validates the journal configuration.
func (c *JournalConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.When(c.Enabled, validation.Required)),
	)
}

// BatchConfig controls parallel processing.
type BatchConfig struct {
	Workers         int  `yaml:"workers"`
	ContinueOnError bool `yaml:"continue_on_error"`
}

// Validate validates the batch configuration.
func (c *BatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Required, validation.Min(1), validation.Max(64)),
	)
}

// WatchConfig holds the inbox watcher configuration.
type WatchConfig struct {
	Path     string        `yaml:"path"`
	Scope    string        `yaml:"scope"`
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Scope, validation.Required, validation.By(func(any) error {
			_, err := metadata.ParseScope(c.Scope)
			return err
		})),
		validation.Field(&c.Debounce, validation.Required, validation.Min(10*time.Millisecond)),
	)
}

// ParsedScope returns the watch scope. Validate has already checked it.
func (c *WatchConfig) ParsedScope() metadata.Scope {
	s, _ := metadata.ParseScope(c.Scope)
	return s
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			LogFormat: LogFormatJSON,
		},
		Backup: BackupConfig{
			Enabled:   true,
			KeepCount: 5,
		},
		Integrity: IntegrityConfig{
			MaxMSE: 2.0,
		},
		Journal: JournalConfig{
			Path: "./exifwarden.db",
		},
		Batch: BatchConfig{
			Workers:         4,
			ContinueOnError: true,
		},
		Watch: WatchConfig{
			Path:     "./inbox",
			Scope:    "gps-only",
			Debounce: 500 * time.Millisecond,
		},
	}
}
