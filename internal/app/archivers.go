package app

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rowjay/app-backup/internal/artifact"
	"github.com/rowjay/app-backup/internal/backup"
	"github.com/rowjay/app-backup/internal/db"
	"github.com/rowjay/app-backup/internal/source"
)

func newAppArchiver(p *artifact.Packager, log zerolog.Logger) *source.FilesystemArchiver {
	return source.NewAppArchiver(p, log.With().Str("step", string(backup.StateCaptureAppFiles)).Logger())
}

func newLogArchiver(p *artifact.Packager, log zerolog.Logger) *source.FilesystemArchiver {
	return source.NewLogArchiver(p, log.With().Str("step", string(backup.StateCaptureLogs)).Logger())
}

// databases carries configuration warnings, such as an unsupported URL
// scheme, into every dump result.
type databases struct {
	*db.Dumper
	warnings []string
}

func (d databases) Dump(ctx context.Context) db.Result {
	res := d.Dumper.Dump(ctx)
	res.Warnings = append(append([]string(nil), d.warnings...), res.Warnings...)
	return res
}
