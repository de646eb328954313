package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/app-backup/internal/archive"
	"github.com/rowjay/app-backup/internal/artifact"
	"github.com/rowjay/app-backup/internal/util"
)

type Packager interface {
	Package(ctx context.Context, kind artifact.Kind, subkind string, entries []archive.Entry) (artifact.Artifact, error)
}

// Result collects what a dump pass produced. Warnings are skippable
// conditions; Errors are dumps that were attempted and failed.
type Result struct {
	Artifacts []artifact.Artifact
	Warnings  []string
	Errors    []error
}

type Dumper struct {
	Strategies  []Strategy
	Packager    Packager
	TempDir     string
	PingTimeout time.Duration
	Log         zerolog.Logger

	lookPath func(string) error
}

func NewDumper(strategies []Strategy, p Packager, tempDir string, pingTimeout time.Duration, log zerolog.Logger) *Dumper {
	return &Dumper{Strategies: strategies, Packager: p, TempDir: tempDir, PingTimeout: pingTimeout, Log: log, lookPath: util.RequireBinary}
}

// Dump produces one artifact per configured and reachable database. A
// failure in one strategy never prevents the others from running.
func (d *Dumper) Dump(ctx context.Context) Result {
	var res Result
	if len(d.Strategies) == 0 {
		d.Log.Warn().Msg("no databases configured")
		res.Warnings = append(res.Warnings, "no databases configured")
		return res
	}
	for _, s := range d.Strategies {
		log := d.Log.With().Str("database", s.Subkind()).Logger()
		a, err := d.dumpOne(ctx, s)
		switch {
		case err == nil:
			log.Info().Str("artifact", a.Name).Msg("database dumped")
			res.Artifacts = append(res.Artifacts, a)
		case errors.Is(err, ErrToolMissing), errors.Is(err, ErrUnreachable):
			log.Warn().Err(err).Msg("skipping database")
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", s.Subkind(), err))
		default:
			log.Error().Err(err).Msg("database dump failed")
			res.Errors = append(res.Errors, fmt.Errorf("%s: %w", s.Subkind(), err))
		}
	}
	return res
}

func (d *Dumper) dumpOne(ctx context.Context, s Strategy) (artifact.Artifact, error) {
	if tool := s.Tool(); tool != "" && d.lookPath != nil {
		if err := d.lookPath(tool); err != nil {
			return artifact.Artifact{}, fmt.Errorf("%w: %s", ErrToolMissing, tool)
		}
	}
	pingCtx := ctx
	if d.PingTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, d.PingTimeout)
		defer cancel()
	}
	if err := s.Ping(pingCtx); err != nil {
		return artifact.Artifact{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	scratch, err := os.MkdirTemp(d.TempDir, "appbak-"+s.Subkind()+"-")
	if err != nil {
		return artifact.Artifact{}, err
	}
	defer os.RemoveAll(scratch)

	raw, err := s.Dump(ctx, scratch)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return d.Packager.Package(ctx, artifact.KindDatabase, s.Subkind(), []archive.Entry{{Source: raw, Name: filepath.Base(raw)}})
}
