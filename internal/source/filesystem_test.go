package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/app-backup/internal/archive"
	"github.com/rowjay/app-backup/internal/artifact"
	"github.com/rowjay/app-backup/internal/compress"
)

func packager(t *testing.T) *artifact.Packager {
	p := artifact.NewPackager(t.TempDir(), "web1", true, compress.TypeGzip, zerolog.Nop())
	p.Now = func() time.Time { return time.Date(2026, 3, 1, 2, 0, 0, 0, time.Local) }
	return p
}

func TestArchiveRoundTrip(t *testing.T) {
	base := t.TempDir()
	appDir := filepath.Join(base, "opt", "shop")
	require.NoError(t, os.MkdirAll(filepath.Join(appDir, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "lib", "a.js"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "main.js"), []byte("main"), 0o644))
	envFile := filepath.Join(base, "etc", "shop.env")
	require.NoError(t, os.MkdirAll(filepath.Dir(envFile), 0o755))
	require.NoError(t, os.WriteFile(envFile, []byte("PORT=1"), 0o600))

	arch := NewAppArchiver(packager(t), zerolog.Nop())
	art, warnings, err := arch.Archive(context.Background(), []string{appDir}, []string{envFile, filepath.Join(base, "missing.conf")})
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.Len(t, warnings, 1)
	assert.Equal(t, artifact.KindApp, art.Kind)

	out := t.TempDir()
	require.NoError(t, archive.Extract(context.Background(), art.Path, out))
	got, err := os.ReadFile(filepath.Join(out, "app", "shop", "lib", "a.js"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(got))
	got, err = os.ReadFile(filepath.Join(out, "app", "shop", "main.js"))
	require.NoError(t, err)
	assert.Equal(t, "main", string(got))
	got, err = os.ReadFile(filepath.Join(out, "config", "shop.env"))
	require.NoError(t, err)
	assert.Equal(t, "PORT=1", string(got))
}

func TestArchiveNothingToDo(t *testing.T) {
	arch := NewAppArchiver(packager(t), zerolog.Nop())
	art, warnings, err := arch.Archive(context.Background(), []string{filepath.Join(t.TempDir(), "nope")}, nil)
	require.NoError(t, err)
	assert.Nil(t, art)
	assert.Len(t, warnings, 1)
}

func TestLogArchiverSkipsMissingSibling(t *testing.T) {
	base := t.TempDir()
	logs := filepath.Join(base, "shop")
	require.NoError(t, os.MkdirAll(logs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(logs, "out.log"), []byte("line\n"), 0o644))

	arch := NewLogArchiver(packager(t), zerolog.Nop())
	art, warnings, err := arch.Archive(context.Background(), []string{filepath.Join(base, "gone"), logs}, nil)
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.Len(t, warnings, 1)
	assert.Equal(t, artifact.KindLogs, art.Kind)
	assert.Contains(t, art.Name, "logs-web1-")
}
