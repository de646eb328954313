// Package restore swaps the contents of an artifact back into place.
package restore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/app-backup/internal/archive"
	"github.com/rowjay/app-backup/internal/notify"
	"github.com/rowjay/app-backup/internal/service"
)

var (
	// ErrArtifactNotFound is returned before anything is touched.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrExtract means the artifact could not be unpacked; no target was
	// modified.
	ErrExtract = errors.New("extract artifact")
)

type Type string

const (
	Full       Type = "full"
	AppOnly    Type = "app"
	ConfigOnly Type = "config"
)

func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full":
		return Full, nil
	case "app":
		return AppOnly, nil
	case "config":
		return ConfigOnly, nil
	default:
		return "", fmt.Errorf("unknown restore type %q (want full, app or config)", s)
	}
}

func (t Type) includesApp() bool { return t == Full || t == AppOnly }
func (t Type) includesConfig() bool { return t == Full || t == ConfigOnly }

type State string

const (
	StateValidateInput   State = "validate-input"
	StateExtract         State = "extract"
	StateQuiesceServices State = "quiesce-services"
	StateRestoreApp      State = "restore-app"
	StateRestoreConfig   State = "restore-config"
	StateResumeServices  State = "resume-services"
	StateCleanup         State = "cleanup"
	StateDone            State = "done"
	StateAbort           State = "abort"
)

// Session is one restore invocation.
type Session struct {
	SourceArtifact string
	Type           Type
	WorkDir        string
	StartedAt      time.Time
}

// TargetResult describes one path that was (or was not) swapped in.
type TargetResult struct {
	Target   string
	Rollback string
	Restored bool
	Skipped  bool
	Err      error
}

type Outcome struct {
	Session  Session
	States   []State
	Targets  []TargetResult
	Warnings []string
	Errors   []error
	Aborted  bool
}

func (o *Outcome) enter(s State) { o.States = append(o.States, s) }

// Rollbacks lists the rollback paths this restore created.
func (o *Outcome) Rollbacks() []string {
	var out []string
	for _, t := range o.Targets {
		if t.Rollback != "" {
			out = append(out, t.Rollback)
		}
	}
	return out
}

type Coordinator struct {
	AppName      string
	Host         string
	RunID        string
	AppDirs      []string
	ConfigPaths  []string
	Services     service.Manager
	AppService   string
	ProxyService string
	TempDir      string
	Notifier     notify.Notifier
	Now          func() time.Time
	Log          zerolog.Logger

	extract  func(ctx context.Context, archivePath, dest string) error
	copyTree func(src, dst string) error
}

func NewCoordinator(log zerolog.Logger) *Coordinator {
	return &Coordinator{Now: time.Now, Log: log, extract: archive.Extract, copyTree: copyTree}
}

// Restore validates, extracts, quiesces, swaps targets in with a rollback
// copy and resumes services. Only a missing artifact is returned as an
// error; every other failure is recorded in the outcome.
func (c *Coordinator) Restore(ctx context.Context, file string, t Type) (*Outcome, error) {
	out := &Outcome{Session: Session{SourceArtifact: file, Type: t, StartedAt: c.Now()}}
	log := c.Log.With().Str("artifact", file).Str("restore_type", string(t)).Logger()

	out.enter(StateValidateInput)
	info, err := os.Stat(file)
	if err != nil || info.IsDir() {
		out.enter(StateAbort)
		out.Aborted = true
		log.Error().Msg("artifact does not exist")
		return out, fmt.Errorf("%w: %s", ErrArtifactNotFound, file)
	}

	workDir := filepath.Join(c.tempDir(), fmt.Sprintf("%s-restore-%d", c.AppName, os.Getpid()))
	out.Session.WorkDir = workDir
	defer func() {
		out.enter(StateCleanup)
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn().Err(err).Str("work_dir", workDir).Msg("failed to remove work dir")
		}
		if out.Aborted {
			out.enter(StateAbort)
		} else {
			out.enter(StateDone)
		}
		c.notify(ctx, out)
	}()

	out.enter(StateExtract)
	if err := os.RemoveAll(workDir); err != nil {
		return c.abort(out, log, fmt.Errorf("%w: clear work dir: %v", ErrExtract, err)), nil
	}
	if err := c.extract(ctx, file, workDir); err != nil {
		return c.abort(out, log, fmt.Errorf("%w: %v", ErrExtract, err)), nil
	}
	log.Info().Str("work_dir", workDir).Msg("artifact extracted")

	out.enter(StateQuiesceServices)
	c.quiesce(ctx, out, log)

	if t.includesApp() {
		out.enter(StateRestoreApp)
		c.restoreAll(out, log, archive.LayoutNames("app", c.AppDirs), workDir)
	}
	if t.includesConfig() {
		out.enter(StateRestoreConfig)
		c.restoreAll(out, log, archive.LayoutNames("config", c.ConfigPaths), workDir)
	}

	out.enter(StateResumeServices)
	c.resume(ctx, out, log)
	return out, nil
}

func (c *Coordinator) tempDir() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return os.TempDir()
}

func (c *Coordinator) abort(out *Outcome, log zerolog.Logger, err error) *Outcome {
	log.Error().Err(err).Msg("restore aborted, no target was modified")
	out.Errors = append(out.Errors, err)
	out.Aborted = true
	return out
}

func (c *Coordinator) units() []string {
	var units []string
	for _, u := range []string{c.AppService, c.ProxyService} {
		if u != "" {
			units = append(units, u)
		}
	}
	return units
}

func (c *Coordinator) quiesce(ctx context.Context, out *Outcome, log zerolog.Logger) {
	if c.Services == nil {
		return
	}
	for _, u := range c.units() {
		if err := c.Services.Stop(ctx, u); err != nil {
			log.Warn().Err(err).Str("unit", u).Msg("could not stop service, continuing")
			out.Warnings = append(out.Warnings, fmt.Sprintf("stop %s: %v", u, err))
			continue
		}
		log.Info().Str("unit", u).Msg("service stopped")
	}
}

func (c *Coordinator) resume(ctx context.Context, out *Outcome, log zerolog.Logger) {
	if c.Services == nil {
		return
	}
	if err := c.Services.DaemonReload(ctx); err != nil {
		log.Warn().Err(err).Msg("daemon-reload failed")
		out.Warnings = append(out.Warnings, fmt.Sprintf("daemon-reload: %v", err))
	}
	for _, u := range c.units() {
		if err := c.Services.Start(ctx, u); err != nil {
			log.Error().Err(err).Str("unit", u).Msg("could not start service")
			out.Errors = append(out.Errors, fmt.Errorf("start %s: %w", u, err))
			continue
		}
		log.Info().Str("unit", u).Msg("service started")
	}
}

func (c *Coordinator) restoreAll(out *Outcome, log zerolog.Logger, entries []archive.Entry, workDir string) {
	for _, e := range entries {
		res := c.restoreOne(filepath.Join(workDir, filepath.FromSlash(e.Name)), e.Source)
		l := log.With().Str("target", res.Target).Logger()
		switch {
		case res.Skipped:
			l.Warn().Msg("target not present in artifact, leaving it untouched")
			out.Warnings = append(out.Warnings, "not in artifact: "+res.Target)
		case res.Err != nil:
			ev := l.Error().Err(res.Err)
			if res.Rollback != "" {
				ev = ev.Str("rollback", res.Rollback)
			}
			ev.Msg("restore of target failed")
			out.Errors = append(out.Errors, res.Err)
		default:
			l.Info().Str("rollback", res.Rollback).Msg("target restored")
		}
		out.Targets = append(out.Targets, res)
	}
}

// restoreOne moves the current target aside before copying anything in, so
// the previous content survives a failed copy.
func (c *Coordinator) restoreOne(src, target string) TargetResult {
	res := TargetResult{Target: target}
	if _, err := os.Lstat(src); err != nil {
		res.Skipped = true
		return res
	}

	if _, err := os.Lstat(target); err == nil {
		rollback := rollbackPath(target, c.Now())
		if err := os.Rename(target, rollback); err != nil {
			res.Err = fmt.Errorf("move %s aside: %w", target, err)
			return res
		}
		res.Rollback = rollback
	} else if !errors.Is(err, fs.ErrNotExist) {
		res.Err = fmt.Errorf("inspect %s: %w", target, err)
		return res
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		res.Err = fmt.Errorf("create parent of %s: %w", target, err)
		return res
	}
	if err := c.copyTree(src, target); err != nil {
		// leave no half-copied tree where the old one used to be
		_ = os.RemoveAll(target)
		if res.Rollback != "" {
			res.Err = fmt.Errorf("copy into %s: %w (previous content kept at %s)", target, err, res.Rollback)
		} else {
			res.Err = fmt.Errorf("copy into %s: %w", target, err)
		}
		return res
	}
	res.Restored = true
	return res
}

// rollbackPath is target.backup.<unix>, with a -N suffix if that is taken.
func rollbackPath(target string, now time.Time) string {
	base := fmt.Sprintf("%s.backup.%d", filepath.Clean(target), now.Unix())
	candidate := base
	for n := 1; ; n++ {
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
}

func (c *Coordinator) notify(ctx context.Context, out *Outcome) {
	ev := notify.Event{
		Title:    "restore completed",
		Severity: notify.SeverityInfo,
		Host:     c.Host,
		App:      c.AppName,
		Command:  "restore",
		RunID:    c.RunID,
		Time:     c.Now(),
	}
	switch {
	case out.Aborted:
		ev.Title, ev.Severity = "restore aborted", notify.SeverityError
	case len(out.Errors) > 0:
		ev.Title, ev.Severity = "restore completed with errors", notify.SeverityError
	case len(out.Warnings) > 0:
		ev.Title, ev.Severity = "restore completed with warnings", notify.SeverityWarning
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Artifact: %s (%s)\n", out.Session.SourceArtifact, out.Session.Type)
	for _, t := range out.Targets {
		switch {
		case t.Restored:
			fmt.Fprintf(&b, "restored %s", t.Target)
		case t.Skipped:
			fmt.Fprintf(&b, "skipped %s", t.Target)
		default:
			fmt.Fprintf(&b, "FAILED %s", t.Target)
		}
		if t.Rollback != "" {
			fmt.Fprintf(&b, " (rollback: %s)", t.Rollback)
		}
		b.WriteString("\n")
	}
	for _, err := range out.Errors {
		fmt.Fprintf(&b, "ERROR: %v\n", err)
	}
	ev.Message = strings.TrimRight(b.String(), "\n")

	c.Log.Info().Strs("rollbacks", out.Rollbacks()).Msg(ev.Title)
	if c.Notifier == nil {
		return
	}
	if err := c.Notifier.Notify(ctx, ev); err != nil {
		c.Log.Warn().Err(err).Msg("notification failed")
	}
}
