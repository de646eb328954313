// Package backup sequences a full backup run.
package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/rowjay/app-backup/internal/artifact"
	"github.com/rowjay/app-backup/internal/db"
	"github.com/rowjay/app-backup/internal/notify"
	"github.com/rowjay/app-backup/internal/retention"
	"github.com/rowjay/app-backup/internal/sink"
	"github.com/rowjay/app-backup/internal/util"
)

type State string

const (
	StateInit             State = "init"
	StateCaptureAppFiles  State = "capture-app-files"
	StateCaptureDatabases State = "capture-databases"
	StateCaptureLogs      State = "capture-logs"
	StateUploadArtifacts  State = "upload-artifacts"
	StateEnforceRetention State = "enforce-retention"
	StateNotify           State = "notify"
	StateDone             State = "done"
)

type FileArchiver interface {
	Archive(ctx context.Context, primary, extra []string) (*artifact.Artifact, []string, error)
}

type DatabaseDumper interface {
	Dump(ctx context.Context) db.Result
}

type Uploader interface {
	Upload(ctx context.Context, artifacts []artifact.Artifact) []sink.UploadResult
}

type RetentionEnforcer interface {
	Enforce(ctx context.Context, p retention.Policy) retention.Result
}

// Report is the record of one run. Warnings are skipped inputs; Errors are
// attempted operations that failed.
type Report struct {
	States    []State
	Artifacts []artifact.Artifact
	Warnings  []string
	Errors    []error
	Uploads   []sink.UploadResult
	Retention retention.Result
	Elapsed   time.Duration
	TotalSize int64
}

func (r *Report) Degraded() bool {
	return len(r.Warnings) > 0 || len(r.Errors) > 0
}

func (r *Report) warn(msg string) { r.Warnings = append(r.Warnings, msg) }
func (r *Report) fail(err error) { r.Errors = append(r.Errors, err) }
func (r *Report) enter(s State) { r.States = append(r.States, s) }
func (r *Report) add(a ...artifact.Artifact) { r.Artifacts = append(r.Artifacts, a...) }

// Directories names what each capture step reads.
type Directories struct {
	App    []string
	Config []string
	Logs   []string
}

type Coordinator struct {
	AppFiles  FileArchiver
	Logs      FileArchiver
	Databases DatabaseDumper
	// Sink is nil when remote backup is disabled.
	Sink      Uploader
	Retention RetentionEnforcer
	Notifier  notify.Notifier
	Policy    retention.Policy
	Dirs      Directories

	BackupDir string
	AppName   string
	Host      string
	RunID     string
	Now       func() time.Time
	Log       zerolog.Logger
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Run executes every step in order. Steps degrade independently; the
// returned report is never nil and the notification is sent exactly once.
func (c *Coordinator) Run(ctx context.Context) *Report {
	start := c.now()
	r := &Report{}
	r.enter(StateInit)
	c.Log.Info().Str("backup_dir", c.BackupDir).Msg("starting full backup")

	c.CaptureAppFiles(ctx, r)
	c.CaptureDatabases(ctx, r)
	c.CaptureLogs(ctx, r)
	c.UploadArtifacts(ctx, r)
	c.EnforceRetention(ctx, r)

	r.Elapsed = c.now().Sub(start)
	r.TotalSize = util.DirSize(c.BackupDir)
	c.notify(ctx, r)
	r.enter(StateDone)
	return r
}

// CaptureAppFiles archives the application directories plus configuration.
func (c *Coordinator) CaptureAppFiles(ctx context.Context, r *Report) {
	r.enter(StateCaptureAppFiles)
	c.capture(ctx, r, StateCaptureAppFiles, c.AppFiles, "application files", c.Dirs.App, c.Dirs.Config)
}

func (c *Coordinator) CaptureLogs(ctx context.Context, r *Report) {
	r.enter(StateCaptureLogs)
	c.capture(ctx, r, StateCaptureLogs, c.Logs, "logs", c.Dirs.Logs, nil)
}

func (c *Coordinator) capture(ctx context.Context, r *Report, step State, a FileArchiver, what string, primary, extra []string) {
	if a == nil {
		return
	}
	log := c.Log.With().Str("step", string(step)).Logger()
	art, warnings, err := a.Archive(ctx, primary, extra)
	for _, w := range warnings {
		r.warn(w)
	}
	if err != nil {
		log.Error().Err(err).Msgf("%s capture failed", what)
		r.fail(fmt.Errorf("%s: %w", what, err))
		return
	}
	if art == nil {
		log.Warn().Msgf("no %s captured", what)
		r.warn("no " + what + " captured")
		return
	}
	log.Info().Str("artifact", art.Path).Str("size", humanize.Bytes(uint64(art.SizeBytes))).Msgf("%s captured", what)
	r.add(*art)
}

func (c *Coordinator) CaptureDatabases(ctx context.Context, r *Report) {
	r.enter(StateCaptureDatabases)
	if c.Databases == nil {
		return
	}
	res := c.Databases.Dump(ctx)
	r.add(res.Artifacts...)
	for _, w := range res.Warnings {
		r.warn(w)
	}
	for _, err := range res.Errors {
		r.fail(err)
	}
}

// UploadArtifacts copies what this run produced to the remote targets.
func (c *Coordinator) UploadArtifacts(ctx context.Context, r *Report) {
	r.enter(StateUploadArtifacts)
	log := c.Log.With().Str("step", string(StateUploadArtifacts)).Logger()
	if c.Sink == nil {
		log.Debug().Msg("remote backup disabled")
		return
	}
	if len(r.Artifacts) == 0 {
		log.Warn().Msg("nothing to upload")
		return
	}
	r.Uploads = c.Sink.Upload(ctx, r.Artifacts)
	for _, u := range r.Uploads {
		if u.Err != nil {
			r.fail(fmt.Errorf("upload %s to %s: %w", u.Artifact, u.Target, u.Err))
		}
	}
}

func (c *Coordinator) EnforceRetention(ctx context.Context, r *Report) {
	r.enter(StateEnforceRetention)
	if c.Retention == nil {
		return
	}
	r.Retention = c.Retention.Enforce(ctx, c.Policy)
	for _, err := range r.Retention.Errors {
		r.fail(fmt.Errorf("retention: %w", err))
	}
}

func (c *Coordinator) notify(ctx context.Context, r *Report) {
	r.enter(StateNotify)
	ev := c.Summary(r)
	c.Log.Info().
		Int("artifacts", len(r.Artifacts)).
		Int("warnings", len(r.Warnings)).
		Int("errors", len(r.Errors)).
		Dur("elapsed", r.Elapsed).
		Str("backup_dir_size", humanize.Bytes(uint64(r.TotalSize))).
		Msg(ev.Title)
	if c.Notifier == nil {
		return
	}
	if err := c.Notifier.Notify(ctx, ev); err != nil {
		c.Log.Warn().Err(err).Msg("notification failed")
	}
}

// Summary renders the terminal notification for r.
func (c *Coordinator) Summary(r *Report) notify.Event {
	ev := notify.Event{
		Title:    "backup completed",
		Severity: notify.SeverityInfo,
		Host:     c.Host,
		App:      c.AppName,
		Command:  "backup",
		RunID:    c.RunID,
		Time:     c.now(),
	}
	if r.Degraded() {
		ev.Title = "backup completed with warnings"
		ev.Severity = notify.SeverityWarning
		if len(r.Errors) > 0 {
			ev.Severity = notify.SeverityError
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Elapsed: %s\n", r.Elapsed.Round(time.Second))
	fmt.Fprintf(&b, "Backup directory size: %s\n", humanize.Bytes(uint64(r.TotalSize)))
	fmt.Fprintf(&b, "Artifacts: %d\n", len(r.Artifacts))
	for _, a := range r.Artifacts {
		fmt.Fprintf(&b, "  %s (%s)\n", a.Name, humanize.Bytes(uint64(a.SizeBytes)))
	}
	if len(r.Uploads) > 0 {
		failed := 0
		for _, u := range r.Uploads {
			if u.Err != nil {
				failed++
			}
		}
		fmt.Fprintf(&b, "Uploads: %d ok, %d failed\n", len(r.Uploads)-failed, failed)
	}
	fmt.Fprintf(&b, "Retention: %d local, %d remote deleted\n", len(r.Retention.DeletedLocal), len(r.Retention.DeletedRemote))
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "WARN: %s\n", w)
	}
	for _, err := range r.Errors {
		fmt.Fprintf(&b, "ERROR: %v\n", err)
	}
	ev.Message = strings.TrimRight(b.String(), "\n")
	return ev
}
