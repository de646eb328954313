package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/rowjay/app-backup/internal/archive"
	"github.com/rowjay/app-backup/internal/compress"
)

// Packager turns raw captures into named artifacts under Root.
type Packager struct {
	Root        string
	Compress    bool
	Compression string
	Host        string
	Now         func() time.Time
	Log         zerolog.Logger
}

func NewPackager(root, host string, enabled bool, format string, log zerolog.Logger) *Packager {
	if format == "" {
		format = compress.TypeGzip
	}
	return &Packager{Root: root, Compress: enabled, Compression: format, Host: host, Now: time.Now, Log: log}
}

func (p *Packager) format() string {
	if !p.Compress {
		return compress.TypeNone
	}
	return p.Compression
}

// Package appends every entry to a tar and, when compression is enabled,
// compresses the finished tar in a single pass. Data is written to .tmp
// files; the final name only appears once the artifact is complete.
func (p *Packager) Package(ctx context.Context, kind Kind, subkind string, entries []archive.Entry) (Artifact, error) {
	if len(entries) == 0 {
		return Artifact{}, errors.New("nothing to package")
	}
	now := p.Now()
	a := Artifact{Kind: kind, Subkind: subkind, CreatedAt: now, Compressed: p.format() != compress.TypeNone}

	dir := Dir(p.Root, kind)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Artifact{}, fmt.Errorf("create artifact dir: %w", err)
	}
	ext := ".tar" + compress.Suffix(p.format())
	final := uniquePath(dir, NewName(a.Token(), p.Host, now, p.format()), ext)
	a.Path = final
	a.Name = filepath.Base(final)

	tarTmp := final[:len(final)-len(ext)] + ".tar.tmp"
	if err := writeTar(ctx, tarTmp, entries); err != nil {
		os.Remove(tarTmp)
		return Artifact{}, err
	}
	if !a.Compressed {
		if err := os.Rename(tarTmp, final); err != nil {
			os.Remove(tarTmp)
			return Artifact{}, err
		}
	} else {
		err := compressFile(tarTmp, final+".tmp", p.format())
		os.Remove(tarTmp)
		if err != nil {
			os.Remove(final + ".tmp")
			return Artifact{}, fmt.Errorf("compress %s: %w", a.Name, err)
		}
		if err := os.Rename(final+".tmp", final); err != nil {
			os.Remove(final + ".tmp")
			return Artifact{}, err
		}
	}

	info, err := os.Stat(final)
	if err != nil {
		return Artifact{}, err
	}
	a.SizeBytes = info.Size()
	p.Log.Info().Str("artifact", a.Path).Str("size", humanize.Bytes(uint64(a.SizeBytes))).Msg("artifact packaged")
	return a, nil
}

func writeTar(ctx context.Context, path string, entries []archive.Entry) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	w := archive.NewWriter(f)
	for _, e := range entries {
		if err := w.Append(ctx, e.Source, e.Name); err != nil {
			f.Close()
			return fmt.Errorf("append %s: %w", e.Source, err)
		}
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func compressFile(src, dst, format string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	cw, err := compress.WrapWriter(format, out)
	if err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(cw, in); err != nil {
		cw.Close()
		out.Close()
		return err
	}
	if err := cw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
