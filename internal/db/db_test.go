package db

import (
	"context"
	"errors"
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
	"github.com/rowjay/app-backup/internal/config"
)

type fakeStrategy struct {
	subkind string
	tool    string
	pingErr error
	dumpErr error
	dumped  bool
}

func (f *fakeStrategy) Subkind() string { return f.subkind }
func (f *fakeStrategy) Tool() string    { return f.tool }
func (f *fakeStrategy) Ping(context.Context) error {
	return f.pingErr
}

func (f *fakeStrategy) Dump(_ context.Context, dir string) (string, error) {
	f.dumped = true
	if f.dumpErr != nil {
		return "", f.dumpErr
	}
	out := filepath.Join(dir, f.subkind+".raw")
	return out, os.WriteFile(out, []byte("dump of "+f.subkind), 0o600)
}

func newTestDumper(t *testing.T, strategies ...Strategy) *Dumper {
	p := artifact.NewPackager(t.TempDir(), "db1", true, compress.TypeGzip, zerolog.Nop())
	d := NewDumper(strategies, p, t.TempDir(), time.Second, zerolog.Nop())
	d.lookPath = func(name string) error {
		if name == "missing-tool" {
			return errors.New("not found")
		}
		return nil
	}
	return d
}

func TestDumpNoDatabasesConfigured(t *testing.T) {
	res := newTestDumper(t).Dump(context.Background())
	assert.Empty(t, res.Artifacts)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{"no databases configured"}, res.Warnings)
}

func TestDumpIsolatesFailures(t *testing.T) {
	failing := &fakeStrategy{subkind: artifact.SubkindMongo, dumpErr: errors.New("exit status 1")}
	healthy := &fakeStrategy{subkind: artifact.SubkindPostgres}

	res := newTestDumper(t, failing, healthy).Dump(context.Background())
	require.Len(t, res.Errors, 1)
	require.Len(t, res.Artifacts, 1)
	assert.True(t, healthy.dumped)
	assert.Equal(t, artifact.KindDatabase, res.Artifacts[0].Kind)
	assert.Equal(t, artifact.SubkindPostgres, res.Artifacts[0].Subkind)
	assert.Contains(t, filepath.Dir(res.Artifacts[0].Path), "database")

	out := t.TempDir()
	require.NoError(t, archive.Extract(context.Background(), res.Artifacts[0].Path, out))
	got, err := os.ReadFile(filepath.Join(out, "postgres.raw"))
	require.NoError(t, err)
	assert.Equal(t, "dump of postgres", string(got))
}

func TestDumpSkipsMissingToolAndUnreachable(t *testing.T) {
	noTool := &fakeStrategy{subkind: artifact.SubkindMongo, tool: "missing-tool"}
	down := &fakeStrategy{subkind: artifact.SubkindMySQL, pingErr: errors.New("connection refused")}

	res := newTestDumper(t, noTool, down).Dump(context.Background())
	assert.Empty(t, res.Artifacts)
	assert.Empty(t, res.Errors)
	assert.Len(t, res.Warnings, 2)
	assert.False(t, noTool.dumped)
	assert.False(t, down.dumped)
}

func TestStrategiesFromConfig(t *testing.T) {
	cases := []struct {
		url     string
		subkind string
	}{
		{"postgres://u:p@db:5432/shop", artifact.SubkindPostgres},
		{"postgresql://db/shop", artifact.SubkindPostgres},
		{"mysql://root:secret@db:3307/shop", artifact.SubkindMySQL},
		{"sqlite:///var/lib/shop/data.db", artifact.SubkindSQLite},
		{"file:/var/lib/shop/data.db", artifact.SubkindSQLite},
	}
	for _, tc := range cases {
		t.Run(tc.url, func(t *testing.T) {
			s, warnings := StrategiesFromConfig(config.DatabaseConfig{DatabaseURL: tc.url})
			assert.Empty(t, warnings)
			require.Len(t, s, 1)
			assert.Equal(t, tc.subkind, s[0].Subkind())
		})
	}

	s, warnings := StrategiesFromConfig(config.DatabaseConfig{MongoURI: "mongodb://localhost/shop", DatabaseURL: "redis://cache"})
	require.Len(t, s, 1)
	assert.Equal(t, artifact.SubkindMongo, s[0].Subkind())
	assert.Len(t, warnings, 1)

	s, warnings = StrategiesFromConfig(config.DatabaseConfig{})
	assert.Empty(t, s)
	assert.Empty(t, warnings)
}

func TestMySQLFromURL(t *testing.T) {
	s, _ := StrategiesFromConfig(config.DatabaseConfig{DatabaseURL: "mysql://root:secret@db:3307/shop"})
	m := s[0].(*MySQL)
	assert.Equal(t, "db", m.Host)
	assert.Equal(t, "3307", m.Port)
	assert.Equal(t, "root", m.User)
	assert.Equal(t, "secret", m.Password)
	assert.Equal(t, "shop", m.Database)
	assert.Equal(t, map[string]string{"MYSQL_PWD": "secret"}, m.env())
}

func TestSQLitePaths(t *testing.T) {
	s, _ := StrategiesFromConfig(config.DatabaseConfig{DatabaseURL: "sqlite:///var/lib/shop/data.db"})
	assert.Equal(t, "/var/lib/shop/data.db", s[0].(*SQLite).Path)
	s, _ = StrategiesFromConfig(config.DatabaseConfig{DatabaseURL: "file:/var/lib/shop/data.db"})
	assert.Equal(t, "/var/lib/shop/data.db", s[0].(*SQLite).Path)
}

func TestSQLiteCopyDump(t *testing.T) {
	src := filepath.Join(t.TempDir(), "data.db")
	require.NoError(t, os.WriteFile(src, []byte("SQLite format 3\x00"), 0o600))
	s := NewSQLite(src)
	s.cli = ""

	require.NoError(t, s.Ping(context.Background()))
	out, err := s.Dump(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "sqlite.db", filepath.Base(out))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(got))

	assert.Error(t, NewSQLite(filepath.Join(t.TempDir(), "nope.db")).Ping(context.Background()))
}
