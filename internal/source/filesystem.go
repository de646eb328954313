// Package source captures application files, configuration and logs.
package source

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/rs/zerolog"

	"github.com/rowjay/app-backup/internal/archive"
	"github.com/rowjay/app-backup/internal/artifact"
)

// Packager is the subset of artifact.Packager the archiver needs.
type Packager interface {
	Package(ctx context.Context, kind artifact.Kind, subkind string, entries []archive.Entry) (artifact.Artifact, error)
}

// FilesystemArchiver packs directories into one artifact by successive
// appends.
type FilesystemArchiver struct {
	Kind        artifact.Kind
	PrimaryRoot string
	ExtraRoot   string
	Packager    Packager
	Log         zerolog.Logger
}

func NewAppArchiver(p Packager, log zerolog.Logger) *FilesystemArchiver {
	return &FilesystemArchiver{Kind: artifact.KindApp, PrimaryRoot: "app", ExtraRoot: "config", Packager: p, Log: log}
}

func NewLogArchiver(p Packager, log zerolog.Logger) *FilesystemArchiver {
	return &FilesystemArchiver{Kind: artifact.KindLogs, PrimaryRoot: "logs", Packager: p, Log: log}
}

// Archive packs every existing primary path and extra path. Missing paths are
// skipped with a warning. When no primary path exists there is nothing to do
// and Archive returns nil, nil.
func (a *FilesystemArchiver) Archive(ctx context.Context, primary, extra []string) (*artifact.Artifact, []string, error) {
	var warnings []string
	present := func(paths []string) []string {
		found := make([]string, 0, len(paths))
		for _, p := range paths {
			if _, err := os.Stat(p); err != nil {
				msg := "path not found, skipping: " + p
				if !errors.Is(err, fs.ErrNotExist) {
					msg = "path unreadable, skipping: " + p + ": " + err.Error()
				}
				a.Log.Warn().Str("path", p).Str("kind", string(a.Kind)).Msg("source path missing, skipping")
				warnings = append(warnings, msg)
				continue
			}
			found = append(found, p)
		}
		return found
	}

	primaryPaths := present(primary)
	if len(primaryPaths) == 0 {
		a.Log.Warn().Str("kind", string(a.Kind)).Msg("no source directory exists, nothing to archive")
		return nil, warnings, nil
	}

	// Layout is computed over the configured lists so restore maps paths the
	// same way whether or not a sibling was missing at capture time.
	var entries []archive.Entry
	entries = append(entries, keep(archive.LayoutNames(a.PrimaryRoot, primary), primaryPaths)...)
	if a.ExtraRoot != "" {
		entries = append(entries, keep(archive.LayoutNames(a.ExtraRoot, extra), present(extra))...)
	}

	art, err := a.Packager.Package(ctx, a.Kind, "", entries)
	if err != nil {
		return nil, warnings, err
	}
	return &art, warnings, nil
}

func keep(entries []archive.Entry, present []string) []archive.Entry {
	set := make(map[string]struct{}, len(present))
	for _, p := range present {
		set[p] = struct{}{}
	}
	out := entries[:0]
	for _, e := range entries {
		if _, ok := set[e.Source]; ok {
			out = append(out, e)
		}
	}
	return out
}
