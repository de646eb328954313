// Package app wires configuration into the backup, restore and retention
// components. Each exported method backs one CLI command.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rowjay/app-backup/internal/artifact"
	"github.com/rowjay/app-backup/internal/backup"
	"github.com/rowjay/app-backup/internal/config"
	"github.com/rowjay/app-backup/internal/db"
	"github.com/rowjay/app-backup/internal/lock"
	"github.com/rowjay/app-backup/internal/maintenance"
	"github.com/rowjay/app-backup/internal/notify"
	"github.com/rowjay/app-backup/internal/restore"
	"github.com/rowjay/app-backup/internal/retention"
	"github.com/rowjay/app-backup/internal/service"
	"github.com/rowjay/app-backup/internal/sink"
	"github.com/rowjay/app-backup/internal/storage"
	"github.com/rowjay/app-backup/internal/util"
)

type App struct {
	Cfg      *config.Config
	Log      zerolog.Logger
	Notifier notify.Notifier
	RunID    string

	local       *storage.Local
	remote      storage.ObjectStore
	coordinator *backup.Coordinator
	restorer    *restore.Coordinator
	retention   *retention.Manager
	maintenance *maintenance.Runner
}

// New builds every component from cfg. Remote targets that cannot be set
// up are logged and left out so local backups still run.
func New(cfg *config.Config, log zerolog.Logger, notifier notify.Notifier, runID string) (*App, error) {
	a := &App{Cfg: cfg, Log: log, Notifier: notifier, RunID: runID, local: storage.NewLocal(cfg.Backup.Dir)}

	svc, err := service.New(cfg.Services.Manager, log)
	if err != nil {
		return nil, err
	}
	remote, err := storage.NewObjectStore(cfg.Remote.S3)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	if remote != nil {
		a.remote = remote
	}

	packager := artifact.NewPackager(cfg.Backup.Dir, cfg.Global.Hostname, cfg.Backup.Compression, cfg.Backup.CompressionFormat, log)

	strategies, dbWarnings := db.StrategiesFromConfig(cfg.Database)
	dumper := db.NewDumper(strategies, packager, cfg.Global.TempDir, cfg.Database.ConnectionTimeout, log.With().Str("step", string(backup.StateCaptureDatabases)).Logger())

	var remoteForRetention storage.ObjectStore
	if cfg.Remote.Enabled {
		remoteForRetention = a.remote
	}
	a.retention = retention.New(a.local, remoteForRetention, cfg.Remote.S3.Prefix, cfg.Retention.ListAttempts, cfg.Retention.ListBackoff, log.With().Str("step", string(backup.StateEnforceRetention)).Logger())

	a.coordinator = &backup.Coordinator{
		AppFiles:  newAppArchiver(packager, log),
		Logs:      newLogArchiver(packager, log),
		Databases: databases{Dumper: dumper, warnings: dbWarnings},
		Retention: a.retention,
		Notifier:  notifier,
		Policy:    retention.Policy{MaxAgeDays: cfg.Retention.MaxAgeDays},
		Dirs: backup.Directories{
			App:    cfg.Backup.AppDirs,
			Config: cfg.Backup.ConfigPaths,
			Logs:   cfg.Backup.LogDirs,
		},
		BackupDir: cfg.Backup.Dir,
		AppName:   cfg.Global.AppName,
		Host:      cfg.Global.Hostname,
		RunID:     runID,
		Now:       time.Now,
		Log:       log,
	}
	if cfg.Remote.Enabled {
		targets := a.remoteTargets()
		if len(targets) == 0 {
			log.Warn().Msg("remote backup enabled but no remote target is configured")
		} else {
			a.coordinator.Sink = sink.New(targets, cfg.Remote.UploadTimeout, cfg.Remote.Parallelism, log.With().Str("step", string(backup.StateUploadArtifacts)).Logger())
		}
	}

	r := restore.NewCoordinator(log)
	r.AppName = cfg.Global.AppName
	r.Host = cfg.Global.Hostname
	r.RunID = runID
	r.AppDirs = cfg.Backup.AppDirs
	r.ConfigPaths = cfg.Backup.ConfigPaths
	r.Services = svc
	r.AppService = cfg.Services.App
	r.ProxyService = cfg.Services.Proxy
	r.TempDir = cfg.Global.TempDir
	r.Notifier = notifier
	a.restorer = r

	a.maintenance = maintenance.NewRunner(cfg.Maintenance.Commands, cfg.Maintenance.Timeout, log)
	return a, nil
}

func (a *App) remoteTargets() []sink.Target {
	var targets []sink.Target
	if a.remote != nil {
		targets = append(targets, &sink.ObjectStoreTarget{Store: a.remote, Prefix: a.Cfg.Remote.S3.Prefix})
	}
	if dest := a.Cfg.Remote.Copy.Target; dest != "" {
		rp, err := sink.ParseRemotePath(dest)
		if err != nil {
			a.Log.Error().Err(err).Msg("remote copy target ignored")
			return targets
		}
		client, err := sink.NewSCPClient(a.Cfg.Remote.Copy, rp)
		if err != nil {
			a.Log.Error().Err(err).Str("target", rp.String()).Msg("remote copy target ignored")
			return targets
		}
		targets = append(targets, &sink.RemoteCopyTarget{Copier: client, Dest: rp})
	}
	return targets
}

func (a *App) acquire() (*lock.Lock, error) {
	guard, err := lock.Acquire(a.Cfg.Global.LockFile)
	if err != nil {
		return nil, err
	}
	return guard, nil
}

// Backup runs the full sequence. Outside the configured window it logs and
// returns a nil report. Only configuration and lock problems are errors.
func (a *App) Backup(ctx context.Context) (*backup.Report, error) {
	ok, err := util.InWindow(time.Now(), a.Cfg.Schedule.WindowStart, a.Cfg.Schedule.WindowEnd, a.Cfg.Schedule.Timezone)
	if err != nil {
		return nil, err
	}
	if !ok {
		a.Log.Warn().
			Str("window_start", a.Cfg.Schedule.WindowStart).
			Str("window_end", a.Cfg.Schedule.WindowEnd).
			Msg("outside configured backup window, skipping")
		return nil, nil
	}

	guard, err := a.acquire()
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	return a.coordinator.Run(ctx), nil
}

// BackupApp captures application files and configuration only.
func (a *App) BackupApp(ctx context.Context) (*backup.Report, error) {
	return a.single(ctx, a.coordinator.CaptureAppFiles)
}

// BackupDB dumps the configured databases only.
func (a *App) BackupDB(ctx context.Context) (*backup.Report, error) {
	return a.single(ctx, a.coordinator.CaptureDatabases)
}

// BackupLogs captures log directories only.
func (a *App) BackupLogs(ctx context.Context) (*backup.Report, error) {
	return a.single(ctx, a.coordinator.CaptureLogs)
}

func (a *App) single(ctx context.Context, step func(context.Context, *backup.Report)) (*backup.Report, error) {
	guard, err := a.acquire()
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	r := &backup.Report{}
	step(ctx, r)
	for _, art := range r.Artifacts {
		a.Log.Info().Str("artifact", art.Path).Str("size", humanize.Bytes(uint64(art.SizeBytes))).Msg("artifact ready")
	}
	return r, errors.Join(r.Errors...)
}

// Restore swaps an artifact back into place. file may be a path or the bare
// name of an artifact under BACKUP_DIR.
func (a *App) Restore(ctx context.Context, file, kind string) (*restore.Outcome, error) {
	t, err := restore.ParseType(kind)
	if err != nil {
		return nil, err
	}
	path, err := a.resolveArtifact(file)
	if err != nil {
		return nil, err
	}

	guard, err := a.acquire()
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	return a.restorer.Restore(ctx, path, t)
}

func (a *App) resolveArtifact(file string) (string, error) {
	if _, err := os.Stat(file); err == nil {
		return file, nil
	}
	if filepath.Base(file) == file {
		for _, kind := range []artifact.Kind{artifact.KindApp, artifact.KindDatabase} {
			candidate := filepath.Join(artifact.Dir(a.Cfg.Backup.Dir, kind), file)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}
	a.Log.Error().Str("artifact", file).Msg("artifact does not exist")
	return "", fmt.Errorf("%w: %s", restore.ErrArtifactNotFound, file)
}

// Clean enforces retention on demand.
func (a *App) Clean(ctx context.Context) (retention.Result, error) {
	guard, err := a.acquire()
	if err != nil {
		return retention.Result{}, err
	}
	defer guard.Release()
	return a.retention.Enforce(ctx, retention.Policy{MaxAgeDays: a.Cfg.Retention.MaxAgeDays}), nil
}

// Maintenance runs the configured housekeeping commands.
func (a *App) Maintenance(ctx context.Context) []maintenance.Outcome {
	return a.maintenance.Run(ctx)
}

// Listing is one artifact as shown by List.
type Listing struct {
	Location string
	Size     int64
	Modified time.Time
	Remote   bool
}

// List enumerates local artifacts and, when remote backup is on, objects
// under the remote prefix. The two listings run concurrently; a failure on
// either side is logged and the other side is still returned.
func (a *App) List(ctx context.Context) []Listing {
	var local, remote []Listing
	var g errgroup.Group
	g.Go(func() error {
		for _, kind := range []artifact.Kind{artifact.KindApp, artifact.KindDatabase} {
			objects, err := a.local.List(ctx, artifact.Subdir(kind))
			if err != nil {
				a.Log.Warn().Err(err).Str("dir", artifact.Dir(a.Cfg.Backup.Dir, kind)).Msg("could not list local artifacts")
				continue
			}
			for _, o := range objects {
				if !artifact.IsArtifactName(filepath.Base(o.Key)) {
					continue
				}
				local = append(local, Listing{Location: a.local.Location(o.Key), Size: o.Size, Modified: o.Modified})
			}
		}
		return nil
	})
	if a.Cfg.Remote.Enabled && a.remote != nil {
		g.Go(func() error {
			prefix := util.BuildPrefix(a.Cfg.Remote.S3.Prefix)
			objects, err := a.remote.List(ctx, prefix)
			if err != nil {
				a.Log.Warn().Err(err).Str("prefix", prefix).Msg("could not list remote artifacts")
				return nil
			}
			for _, o := range objects {
				remote = append(remote, Listing{Location: a.remote.Location(o.Key), Size: o.Size, Modified: o.Modified, Remote: true})
			}
			return nil
		})
	}
	_ = g.Wait()
	return append(local, remote...)
}

// PrintListing writes one tab-separated line per artifact.
func PrintListing(w io.Writer, items []Listing) {
	for _, it := range items {
		where := "local"
		if it.Remote {
			where = "remote"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", where, it.Location, humanize.Bytes(uint64(it.Size)), it.Modified.Format(time.RFC3339))
	}
	if len(items) == 0 {
		fmt.Fprintln(w, "no artifacts found")
	}
}

// Summarize renders a short one-line description of a backup report.
func Summarize(r *backup.Report) string {
	if r == nil {
		return "skipped"
	}
	names := make([]string, 0, len(r.Artifacts))
	for _, art := range r.Artifacts {
		names = append(names, art.Name)
	}
	return fmt.Sprintf("%d artifacts [%s], %d warnings, %d errors", len(r.Artifacts), strings.Join(names, ", "), len(r.Warnings), len(r.Errors))
}
