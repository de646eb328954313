// Package retention deletes artifacts older than the configured age.
package retention

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/app-backup/internal/artifact"
	"github.com/rowjay/app-backup/internal/storage"
	"github.com/rowjay/app-backup/internal/util"
)

type Policy struct {
	MaxAgeDays int
}

type Result struct {
	DeletedLocal  []string
	DeletedRemote []string
	Errors        []error
}

func (r Result) Err() error { return errors.Join(r.Errors...) }

// Manager applies a Policy to the local backup directory and, when set, to
// a remote object store prefix. The two sides age independently.
type Manager struct {
	Local        storage.ObjectStore
	Remote       storage.ObjectStore
	RemotePrefix string
	ListAttempts int
	ListBackoff  time.Duration
	Now          func() time.Time
	Log          zerolog.Logger
}

func New(local, remote storage.ObjectStore, prefix string, attempts int, backoff time.Duration, log zerolog.Logger) *Manager {
	return &Manager{Local: local, Remote: remote, RemotePrefix: prefix, ListAttempts: attempts, ListBackoff: backoff, Now: time.Now, Log: log}
}

// Enforce deletes aged artifacts. A failed deletion is recorded and the
// remaining candidates are still processed.
func (m *Manager) Enforce(ctx context.Context, p Policy) Result {
	var res Result
	if p.MaxAgeDays <= 0 {
		res.Errors = append(res.Errors, fmt.Errorf("max age must be positive, got %d", p.MaxAgeDays))
		return res
	}
	now := m.Now()
	if m.Local != nil {
		m.enforceLocal(ctx, now, p, &res)
	}
	if m.Remote != nil {
		m.enforceRemote(ctx, now, p, &res)
	}
	m.Log.Info().
		Int("deleted_local", len(res.DeletedLocal)).
		Int("deleted_remote", len(res.DeletedRemote)).
		Int("errors", len(res.Errors)).
		Msg("retention enforced")
	return res
}

// enforceLocal uses file mtimes: anything strictly older than MaxAgeDays*24h
// goes. Only names matching the artifact scheme are considered.
func (m *Manager) enforceLocal(ctx context.Context, now time.Time, p Policy, res *Result) {
	cutoff := now.Add(-time.Duration(p.MaxAgeDays) * 24 * time.Hour)
	for _, kind := range []artifact.Kind{artifact.KindApp, artifact.KindDatabase} {
		objects, err := m.Local.List(ctx, artifact.Subdir(kind))
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("list local %s: %w", artifact.Subdir(kind), err))
			continue
		}
		for _, obj := range objects {
			if !artifact.IsArtifactName(path.Base(obj.Key)) || !obj.Modified.Before(cutoff) {
				continue
			}
			if err := m.Local.Delete(ctx, obj.Key); err != nil {
				m.Log.Error().Err(err).Str("path", m.Local.Location(obj.Key)).Msg("failed to delete local artifact")
				res.Errors = append(res.Errors, fmt.Errorf("delete local %s: %w", obj.Key, err))
				continue
			}
			m.Log.Info().Str("path", m.Local.Location(obj.Key)).Msg("deleted local artifact")
			res.DeletedLocal = append(res.DeletedLocal, m.Local.Location(obj.Key))
		}
	}
}

// enforceRemote compares UTC calendar dates: an object last modified on a
// date before today-MaxAgeDays goes. Only artifact names directly under
// <prefix>/files or <prefix>/database are considered.
func (m *Manager) enforceRemote(ctx context.Context, now time.Time, p Policy, res *Result) {
	prefix := util.BuildPrefix(m.RemotePrefix)
	var objects []storage.ObjectInfo
	err := util.Retry(ctx, m.ListAttempts, m.ListBackoff, func() error {
		var listErr error
		objects, listErr = m.Remote.List(ctx, prefix)
		return listErr
	})
	if err != nil {
		m.Log.Error().Err(err).Str("prefix", prefix).Msg("failed to list remote artifacts")
		res.Errors = append(res.Errors, fmt.Errorf("list remote %s: %w", prefix, err))
		return
	}
	cutoff := utcDate(now).AddDate(0, 0, -p.MaxAgeDays)
	for _, obj := range objects {
		if !isRemoteArtifact(prefix, obj.Key) || !utcDate(obj.Modified).Before(cutoff) {
			continue
		}
		if err := m.Remote.Delete(ctx, obj.Key); err != nil {
			m.Log.Error().Err(err).Str("key", obj.Key).Msg("failed to delete remote artifact")
			res.Errors = append(res.Errors, fmt.Errorf("delete remote %s: %w", obj.Key, err))
			continue
		}
		m.Log.Info().Str("location", m.Remote.Location(obj.Key)).Msg("deleted remote artifact")
		res.DeletedRemote = append(res.DeletedRemote, m.Remote.Location(obj.Key))
	}
}

func isRemoteArtifact(prefix, key string) bool {
	rel := strings.TrimPrefix(key, prefix)
	dir, name := path.Split(rel)
	if !artifact.IsArtifactName(name) {
		return false
	}
	dir = strings.TrimSuffix(dir, "/")
	return dir == artifact.Subdir(artifact.KindApp) || dir == artifact.Subdir(artifact.KindDatabase)
}

func utcDate(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}
