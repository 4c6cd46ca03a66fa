package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/starford/exifwarden/internal/batch"
	"github.com/starford/exifwarden/internal/engine"
	"github.com/starford/exifwarden/internal/metadata"
	"github.com/starford/exifwarden/internal/report"
)

// historyLimit is the number of journal entries the history command shows.
const historyLimit = 20

func args(cmd *cli.Command, want int, usage string) ([]string, error) {
	if cmd.Args().Len() < want {
		return nil, fmt.Errorf("usage: %s %s", cmd.Name, usage)
	}
	return cmd.Args().Slice(), nil
}

func scopeFlag(cmd *cli.Command) metadata.Scope {
	if cmd.Bool("gps-only") {
		return metadata.ScopeGPSOnly
	}
	return metadata.ScopeAll
}

func keepFlag(cmd *cli.Command) (metadata.KeepList, error) {
	return metadata.ParseKeep(cmd.StringSlice("keep"))
}

const keepUsage = "Leave keys matching this glob in place, e.g. Make or exif:* (repeatable)"

func readCommand() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "Show the metadata of an image",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print JSON instead of a table"},
			&cli.BoolFlag{Name: "privacy", Usage: "Only list GPS and personal keys"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := args(cmd, 1, "<file>")
			if err != nil {
				return err
			}
			app, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			doc, err := app.Engine.Read(ctx, a[0])
			if err != nil {
				return err
			}
			opts := report.Options{Privacy: cmd.Bool("privacy")}
			if cmd.Bool("json") {
				return report.DocumentJSON(os.Stdout, a[0], doc, opts)
			}
			return report.Document(os.Stdout, a[0], doc, opts)
		},
	}
}

func stripCommand() *cli.Command {
	return &cli.Command{
		Name:      "strip",
		Usage:     "Remove metadata from an image in place or into a new file",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "gps-only", Usage: "Remove location keys only"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write the result here and leave the original untouched"},
			&cli.BoolFlag{Name: "no-backup", Usage: "Do not keep a backup of the original"},
			&cli.BoolFlag{Name: "dry-run", Usage: "List the keys that would be removed"},
			&cli.StringSliceFlag{Name: "keep", Usage: keepUsage},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := args(cmd, 1, "<file>")
			if err != nil {
				return err
			}
			keep, err := keepFlag(cmd)
			if err != nil {
				return err
			}
			app, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			path, scope := a[0], scopeFlag(cmd)
			if cmd.Bool("dry-run") {
				keys, err := app.Engine.PreviewKeeping(ctx, path, scope, keep)
				if err != nil {
					return err
				}
				return report.Preview(os.Stdout, path, scope, keys)
			}

			unlock := app.Locks.Lock(path)
			defer unlock()
			out, err := app.Engine.Strip(ctx, path, scope, engine.StripOptions{
				OutputPath: cmd.String("output"),
				SkipBackup: cmd.Bool("no-backup") || app.SkipBackup(),
				Keep:       keep,
			})
			if err != nil {
				return err
			}
			return report.Outcome(os.Stdout, "stripped", out)
		},
	}
}

func restoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "Put a backup back in place; the newest backup when none is named",
		ArgsUsage: "<file> [backup]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := args(cmd, 1, "<file> [backup]")
			if err != nil {
				return err
			}
			app, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			path := a[0]
			backupPath := cmd.Args().Get(1)
			if backupPath == "" {
				backups, err := app.Engine.Backups(path)
				if err != nil {
					return err
				}
				if len(backups) == 0 {
					return errors.New("no backups found for " + path)
				}
				backupPath = backups[len(backups)-1].Path
			}

			unlock := app.Locks.Lock(path)
			defer unlock()
			out, err := app.Engine.Restore(ctx, path, backupPath)
			if err != nil {
				return err
			}
			return report.Outcome(os.Stdout, "restored", out)
		},
	}
}

func backupsCommand() *cli.Command {
	return &cli.Command{
		Name:      "backups",
		Usage:     "List the backups of an image",
		ArgsUsage: "<file>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := args(cmd, 1, "<file>")
			if err != nil {
				return err
			}
			app, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			backups, err := app.Engine.Backups(a[0])
			if err != nil {
				return err
			}
			return report.Backups(os.Stdout, a[0], backups, time.Now())
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show journaled operations, optionally for one file",
		ArgsUsage: "[file]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			app, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if app.Journal == nil {
				return errors.New("the journal is disabled; set journal.enabled in the config")
			}
			ops, err := app.Journal.Operations(ctx, cmd.Args().Get(0), historyLimit)
			if err != nil {
				return err
			}
			return report.Operations(os.Stdout, ops)
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Write the metadata of an image to a JSON or YAML sidecar",
		ArgsUsage: "<file> <sidecar>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := args(cmd, 2, "<file> <sidecar>")
			if err != nil {
				return err
			}
			app, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			doc, err := app.Engine.ExportDocument(ctx, a[0], a[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(os.Stdout, "exported %d key(s) from %s to %s\n", doc.Len(), a[0], a[1])
			return err
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Replace the metadata of an image with a sidecar",
		ArgsUsage: "<file> <sidecar>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write the result here and leave the original untouched"},
			&cli.BoolFlag{Name: "no-backup", Usage: "Do not keep a backup of the original"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := args(cmd, 2, "<file> <sidecar>")
			if err != nil {
				return err
			}
			app, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			unlock := app.Locks.Lock(a[0])
			defer unlock()
			out, err := app.Engine.RestoreDocument(ctx, a[0], a[1], engine.WriteOptions{
				OutputPath: cmd.String("output"),
				SkipBackup: cmd.Bool("no-backup") || app.SkipBackup(),
			})
			if err != nil {
				return err
			}
			return report.Outcome(os.Stdout, "imported", out)
		},
	}
}

func batchCommand() *cli.Command {
	return &cli.Command{
		Name:      "batch",
		Usage:     "Strip many files or directories in parallel",
		ArgsUsage: "<path>...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "gps-only", Usage: "Remove location keys only"},
			&cli.BoolFlag{Name: "recursive", Aliases: []string{"r"}, Usage: "Descend into subdirectories"},
			&cli.StringFlag{Name: "output-dir", Usage: "Write stripped copies here, mirroring the input layout"},
			&cli.BoolFlag{Name: "no-backup", Usage: "Do not keep backups of the originals"},
			&cli.StringFlag{Name: "pattern", Usage: "Only take directory entries whose name matches this glob, e.g. IMG_*.jpg"},
			&cli.BoolFlag{Name: "dry-run", Usage: "List the keys that would be removed from each file"},
			&cli.StringSliceFlag{Name: "keep", Usage: keepUsage},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := args(cmd, 1, "<path>...")
			if err != nil {
				return err
			}
			keep, err := keepFlag(cmd)
			if err != nil {
				return err
			}
			app, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			paths, err := batch.Collect(a, cmd.Bool("recursive"), cmd.String("pattern"))
			if err != nil {
				return err
			}
			scope := scopeFlag(cmd)
			r := batch.NewRunner(app.Engine, app.Locks, app.Logger, batch.Options{
				Workers:         app.Config.Batch.Workers,
				ContinueOnError: app.Config.Batch.ContinueOnError,
				Scope:           scope,
				OutputDir:       cmd.String("output-dir"),
				SkipBackup:      cmd.Bool("no-backup") || app.SkipBackup(),
				Keep:            keep,
				DryRun:          cmd.Bool("dry-run"),
			})
			results, runErr := r.Run(ctx, paths)
			if cmd.Bool("dry-run") {
				for _, res := range results {
					if res.Err == nil {
						if err := report.Preview(os.Stdout, res.Path, scope, res.Preview); err != nil {
							return err
						}
					}
				}
			}
			errs := make([]error, len(results))
			names := make([]string, len(results))
			for i, res := range results {
				names[i], errs[i] = res.Path, res.Err
			}
			if err := report.Summary(os.Stdout, names, errs); err != nil {
				return err
			}
			if runErr != nil {
				return errors.New("batch finished with errors")
			}
			return nil
		},
	}
}
