// Package report renders documents, outcomes and history for the CLI.
package report

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/starford/exifwarden/internal/integrity"
	"github.com/starford/exifwarden/internal/metadata"
	"github.com/starford/exifwarden/internal/safety"
)

// maxValueLen truncates long text values in human output.
const maxValueLen = 72

// Options controls Document output.
type Options struct {
	// Privacy limits the listing to GPS and personal keys.
	Privacy bool
}

// Document writes a human-readable listing of doc.
func Document(w io.Writer, path string, doc *metadata.Document, opts Options) error {
	sensitive := doc.PrivacySensitiveKeys()
	fmt.Fprintf(w, "%s (%s)\n", path, doc.Format)
	fmt.Fprintf(w, "  GPS data: %s, privacy-sensitive keys: %d\n", yesNo(doc.HasGPSData()), len(sensitive))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	doc.Each(func(b *metadata.Block) {
		keys := b.Keys()
		if opts.Privacy {
			keys = filterSensitive(keys)
		}
		fmt.Fprintf(tw, "\n[%s] %d\n", b.Namespace(), len(keys))
		for _, k := range keys {
			v, _ := b.Get(k)
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", marker(k), k, display(v))
		}
	})
	return tw.Flush()
}

func filterSensitive(keys []string) []string {
	var out []string
	for _, k := range keys {
		if metadata.Classify(k) != metadata.ClassNone {
			out = append(out, k)
		}
	}
	return out
}

func marker(key string) string {
	switch metadata.Classify(key) {
	case metadata.ClassGPS:
		return "!gps"
	case metadata.ClassPersonal:
		return "!personal"
	}
	return ""
}

func display(v metadata.Value) string {
	if v.IsBytes() {
		return fmt.Sprintf("<%s binary>", humanize.Bytes(uint64(len(v.Raw()))))
	}
	s := strings.ReplaceAll(v.String(), "\n", `\n`)
	if r := []rune(s); len(r) > maxValueLen {
		s = string(r[:maxValueLen-1]) + "…"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

type jsonEntry struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Binary bool   `json:"binary,omitempty"`
	Class  string `json:"class,omitempty"`
}

type jsonNamespace struct {
	Name    string      `json:"name"`
	Entries []jsonEntry `json:"entries"`
}

type jsonDocument struct {
	Path       string          `json:"path"`
	Format     string          `json:"format"`
	HasGPS     bool            `json:"has_gps"`
	Sensitive  []string        `json:"privacy_sensitive"`
	Namespaces []jsonNamespace `json:"namespaces"`
}

// DocumentJSON writes doc as indented JSON. Binary values are base64.
func DocumentJSON(w io.Writer, path string, doc *metadata.Document, opts Options) error {
	out := jsonDocument{
		Path:      path,
		Format:    doc.Format,
		HasGPS:    doc.HasGPSData(),
		Sensitive: []string{},
	}
	for _, ref := range doc.PrivacySensitiveKeys() {
		out.Sensitive = append(out.Sensitive, ref.String())
	}
	doc.Each(func(b *metadata.Block) {
		ns := jsonNamespace{Name: string(b.Namespace()), Entries: []jsonEntry{}}
		for _, k := range b.Keys() {
			class := metadata.Classify(k)
			if opts.Privacy && class == metadata.ClassNone {
				continue
			}
			v, _ := b.Get(k)
			e := jsonEntry{Key: k, Value: v.String(), Binary: v.IsBytes()}
			if v.IsBytes() {
				e.Value = base64.StdEncoding.EncodeToString(v.Raw())
			}
			if class != metadata.ClassNone {
				e.Class = class.String()
			}
			ns.Entries = append(ns.Entries, e)
		}
		out.Namespaces = append(out.Namespaces, ns)
	})
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// Preview writes the keys a dry-run strip would remove.
func Preview(w io.Writer, path string, scope metadata.Scope, keys []metadata.KeyRef) error {
	if len(keys) == 0 {
		_, err := fmt.Fprintf(w, "%s: nothing to strip (%s)\n", path, scope)
		return err
	}
	fmt.Fprintf(w, "%s: would remove %d key(s) (%s)\n", path, len(keys), scope)
	for _, k := range keys {
		fmt.Fprintf(w, "  - %s\n", k)
	}
	return nil
}

// Outcome writes a one-line summary of a committed mutation.
func Outcome(w io.Writer, verb string, out *safety.Outcome) error {
	line := fmt.Sprintf("%s %s: %s -> %s", verb, out.Target,
		humanize.Bytes(uint64(out.SizeBefore)), humanize.Bytes(uint64(out.SizeAfter)))
	if out.Verdict.Strategy != "" {
		line += fmt.Sprintf(", verified %s", out.Verdict.Strategy)
		if out.Verdict.Strategy == integrity.MSE {
			line += fmt.Sprintf(" %.3f < %.1f", out.Verdict.Distance, out.Verdict.Threshold)
		}
	}
	if out.Backup != nil {
		line += ", backup " + out.Backup.Path
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

// Backups lists backups with their age relative to now.
func Backups(w io.Writer, path string, recs []safety.BackupRecord, now time.Time) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintf(w, "%s: no backups\n", path)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKUP\tCREATED\tSIZE")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Path,
			humanize.RelTime(r.CreatedAt, now, "ago", "from now"),
			humanize.Bytes(uint64(r.Size)))
	}
	return tw.Flush()
}

// Operations lists journal entries, newest first.
func Operations(w io.Writer, ops []safety.OperationRecord) error {
	if len(ops) == 0 {
		_, err := fmt.Fprintln(w, "no recorded operations")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tOP\tSCOPE\tSTATE\tVERIFY\tPATH\tERROR")
	for _, op := range ops {
		verify := string(op.Verdict.Strategy)
		if verify == "" {
			verify = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			op.FinishedAt.Local().Format(time.DateTime), op.Op, dash(op.Scope),
			op.State, verify, op.Target, dash(op.Error))
	}
	return tw.Flush()
}

// Summary writes per-file results of a batch run and the totals.
func Summary(w io.Writer, paths []string, errs []error) error {
	failed := 0
	for i, p := range paths {
		if errs[i] != nil {
			failed++
			fmt.Fprintf(w, "FAIL %s: %v\n", p, errs[i])
			continue
		}
		fmt.Fprintf(w, "ok   %s\n", p)
	}
	_, err := fmt.Fprintf(w, "%s file(s), %d failed\n", humanize.Comma(int64(len(paths))), failed)
	return err
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
