// Package service stops and starts the units a restore touches.
package service

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Manager controls system services during restore.
type Manager interface {
	Stop(ctx context.Context, unit string) error
	Start(ctx context.Context, unit string) error
	// DaemonReload re-scans unit definitions after restored config lands.
	DaemonReload(ctx context.Context) error
}

// Runner executes systemctl with args and returns combined output.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

func systemctl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "systemctl", args...).CombinedOutput()
}

// Systemd drives units through systemctl.
type Systemd struct {
	run Runner
	log zerolog.Logger
}

func NewSystemd(log zerolog.Logger) *Systemd {
	return &Systemd{run: systemctl, log: log.With().Str("svc_mgr", "systemd").Logger()}
}

func (s *Systemd) do(ctx context.Context, args ...string) error {
	s.log.Debug().Strs("args", args).Msg("systemctl")
	if out, err := s.run(ctx, args...); err != nil {
		return fmt.Errorf("systemctl %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return nil
}

func (s *Systemd) Stop(ctx context.Context, unit string) error {
	return s.do(ctx, "stop", unit)
}

func (s *Systemd) Start(ctx context.Context, unit string) error {
	return s.do(ctx, "start", unit)
}

func (s *Systemd) DaemonReload(ctx context.Context) error {
	return s.do(ctx, "daemon-reload")
}

// Noop is used where no init system should be touched.
type Noop struct {
	log zerolog.Logger
}

func NewNoop(log zerolog.Logger) *Noop {
	return &Noop{log: log.With().Str("svc_mgr", "none").Logger()}
}

func (n *Noop) Stop(_ context.Context, unit string) error {
	n.log.Debug().Str("unit", unit).Msg("stop: no-op")
	return nil
}

func (n *Noop) Start(_ context.Context, unit string) error {
	n.log.Debug().Str("unit", unit).Msg("start: no-op")
	return nil
}

func (n *Noop) DaemonReload(context.Context) error {
	n.log.Debug().Msg("daemon-reload: no-op")
	return nil
}

// New returns the manager named by kind ("systemd" or "none").
func New(kind string, log zerolog.Logger) (Manager, error) {
	switch kind {
	case "", "systemd":
		return NewSystemd(log), nil
	case "none":
		return NewNoop(log), nil
	default:
		return nil, fmt.Errorf("unsupported service manager: %s", kind)
	}
}
