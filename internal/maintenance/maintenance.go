// Package maintenance runs operator-defined housekeeping commands.
package maintenance

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/app-backup/internal/util"
)

type Outcome struct {
	Command string
	Elapsed time.Duration
	Err     error
}

// Runner executes each command through sh -c. Commands run one after
// another; a failure is logged and the next command still runs.
type Runner struct {
	Commands []string
	Timeout  time.Duration
	Shell    string
	Log      zerolog.Logger
}

func NewRunner(commands []string, timeout time.Duration, log zerolog.Logger) *Runner {
	return &Runner{Commands: commands, Timeout: timeout, Shell: "sh", Log: log}
}

func (r *Runner) Run(ctx context.Context) []Outcome {
	if len(r.Commands) == 0 {
		r.Log.Info().Msg("no maintenance commands configured")
		return nil
	}
	outcomes := make([]Outcome, 0, len(r.Commands))
	for _, c := range r.Commands {
		outcomes = append(outcomes, r.runOne(ctx, c))
	}
	return outcomes
}

func (r *Runner) runOne(ctx context.Context, command string) Outcome {
	cmdCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	start := time.Now()
	err := util.RunCommand(util.Command(cmdCtx, r.Shell, []string{"-c", command}, nil))
	out := Outcome{Command: command, Elapsed: time.Since(start), Err: err}
	log := r.Log.With().Str("maintenance_cmd", command).Dur("elapsed", out.Elapsed).Logger()
	if err != nil {
		log.Error().Err(err).Msg("maintenance command failed")
	} else {
		log.Info().Msg("maintenance command finished")
	}
	return out
}
