package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemdCommands(t *testing.T) {
	var calls []string
	s := NewSystemd(zerolog.Nop())
	s.run = func(_ context.Context, args ...string) ([]byte, error) {
		calls = append(calls, strings.Join(args, " "))
		return nil, nil
	}
	ctx := context.Background()
	require.NoError(t, s.Stop(ctx, "shop"))
	require.NoError(t, s.DaemonReload(ctx))
	require.NoError(t, s.Start(ctx, "shop"))
	require.NoError(t, s.Start(ctx, "nginx"))
	assert.Equal(t, []string{"stop shop", "daemon-reload", "start shop", "start nginx"}, calls)
}

func TestSystemdErrorIncludesOutput(t *testing.T) {
	s := NewSystemd(zerolog.Nop())
	s.run = func(context.Context, ...string) ([]byte, error) {
		return []byte("Unit shop.service not loaded.\n"), errors.New("exit status 5")
	}
	err := s.Stop(context.Background(), "shop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not loaded")
	assert.Contains(t, err.Error(), "systemctl stop shop")
}

func TestNew(t *testing.T) {
	m, err := New("none", zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &Noop{}, m)
	assert.NoError(t, m.Stop(context.Background(), "x"))

	m, err = New("systemd", zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &Systemd{}, m)

	_, err = New("openrc", zerolog.Nop())
	assert.Error(t, err)
}
