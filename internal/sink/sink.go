// Package sink copies local artifacts to remote targets.
package sink

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rowjay/app-backup/internal/artifact"
)

// Target is one remote destination.
type Target interface {
	Name() string
	// Upload copies the artifact and returns where it landed. The local file
	// is never removed.
	Upload(ctx context.Context, a artifact.Artifact) (string, error)
}

type UploadResult struct {
	Target   string
	Artifact string
	Location string
	Elapsed  time.Duration
	Err      error
}

func (r UploadResult) OK() bool { return r.Err == nil }

type Sink struct {
	Targets     []Target
	Timeout     time.Duration
	Parallelism int
	Log         zerolog.Logger
}

func New(targets []Target, timeout time.Duration, parallelism int, log zerolog.Logger) *Sink {
	return &Sink{Targets: targets, Timeout: timeout, Parallelism: parallelism, Log: log}
}

// Upload sends every artifact to every target. Each attempt gets its own
// timeout and a failure never stops the remaining attempts. Results come
// back in artifact-major, target-minor order.
func (s *Sink) Upload(ctx context.Context, artifacts []artifact.Artifact) []UploadResult {
	results := make([]UploadResult, len(artifacts)*len(s.Targets))
	if len(results) == 0 {
		return results
	}
	limit := s.Parallelism
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, a := range artifacts {
		for j, t := range s.Targets {
			idx := i*len(s.Targets) + j
			g.Go(func() error {
				results[idx] = s.uploadOne(ctx, t, a)
				return nil
			})
		}
	}
	_ = g.Wait()
	return results
}

func (s *Sink) uploadOne(ctx context.Context, t Target, a artifact.Artifact) UploadResult {
	attemptCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	start := time.Now()
	loc, err := t.Upload(attemptCtx, a)
	res := UploadResult{Target: t.Name(), Artifact: a.Name, Location: loc, Elapsed: time.Since(start), Err: err}
	log := s.Log.With().Str("target", res.Target).Str("artifact", a.Name).Logger()
	if err != nil {
		log.Error().Err(err).Msg("upload failed")
	} else {
		log.Info().Str("location", loc).Dur("elapsed", res.Elapsed).Msg("upload complete")
	}
	return res
}
