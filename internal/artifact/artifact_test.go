package artifact

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
	"github.com/rowjay/app-backup/internal/compress"
)

var fixed = time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)

func newTestPackager(t *testing.T, enabled bool, format string) *Packager {
	t.Helper()
	p := NewPackager(t.TempDir(), "web-1", enabled, format, zerolog.Nop())
	p.Now = func() time.Time { return fixed }
	return p
}

func sourceTree(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "shop")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "public"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.js"), []byte("listen(3000)"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "public", "index.html"), []byte("<h1>shop</h1>"), 0o644))
	return dir
}

func TestNewNameAndParse(t *testing.T) {
	name := NewName("mongodb", "web-1", fixed, compress.TypeGzip)
	assert.Equal(t, "mongodb-web-1-20260102-030405.tar.gz", name)

	p, ok := ParseName(name)
	require.True(t, ok)
	assert.Equal(t, KindDatabase, p.Kind)
	assert.Equal(t, SubkindMongo, p.Subkind)
	assert.Equal(t, "web-1", p.Host)
	assert.True(t, p.CreatedAt.Equal(fixed))
	assert.Equal(t, compress.TypeGzip, p.Compression)

	p, ok = ParseName("app-web-1-20260102-030405-2.tar")
	require.True(t, ok)
	assert.Equal(t, KindApp, p.Kind)
	assert.Equal(t, 2, p.Seq)
	assert.Equal(t, compress.TypeNone, p.Compression)

	assert.False(t, IsArtifactName("app-web-1-20260102-030405.tar.gz.tmp"))
	assert.False(t, IsArtifactName(".appbak.lock"))
	assert.False(t, IsArtifactName("notes.txt"))
	assert.True(t, IsArtifactName("logs-web-1-20260102-030405.tar.zst"))
}

func TestDir(t *testing.T) {
	assert.Equal(t, filepath.Join("/b", "files"), Dir("/b", KindApp))
	assert.Equal(t, filepath.Join("/b", "files"), Dir("/b", KindLogs))
	assert.Equal(t, filepath.Join("/b", "database"), Dir("/b", KindDatabase))
}

func TestPackageCompressionPreservesContent(t *testing.T) {
	src := sourceTree(t)
	entries := []archive.Entry{{Source: src, Name: "app/shop"}}

	plain := newTestPackager(t, false, compress.TypeGzip)
	a, err := plain.Package(context.Background(), KindApp, "", entries)
	require.NoError(t, err)
	assert.False(t, a.Compressed)
	assert.Equal(t, "app-web-1-20260102-030405.tar", a.Name)

	for _, format := range []string{compress.TypeGzip, compress.TypeZstd} {
		t.Run(format, func(t *testing.T) {
			p := newTestPackager(t, true, format)
			c, err := p.Package(context.Background(), KindApp, "", entries)
			require.NoError(t, err)
			assert.True(t, c.Compressed)
			assert.Equal(t, "app-web-1-20260102-030405.tar"+compress.Suffix(format), c.Name)
			assert.Positive(t, c.SizeBytes)

			plainOut, compOut := t.TempDir(), t.TempDir()
			require.NoError(t, archive.Extract(context.Background(), a.Path, plainOut))
			require.NoError(t, archive.Extract(context.Background(), c.Path, compOut))
			for _, rel := range []string{"app/shop/server.js", "app/shop/public/index.html"} {
				want, err := os.ReadFile(filepath.Join(plainOut, rel))
				require.NoError(t, err)
				got, err := os.ReadFile(filepath.Join(compOut, rel))
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestPackageLeavesNoTemporaryFiles(t *testing.T) {
	p := newTestPackager(t, true, compress.TypeGzip)
	a, err := p.Package(context.Background(), KindApp, "", []archive.Entry{{Source: sourceTree(t), Name: "app/shop"}})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(a.Path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, a.Name, entries[0].Name())
}

func TestPackageAvoidsNameCollision(t *testing.T) {
	p := newTestPackager(t, true, compress.TypeGzip)
	entries := []archive.Entry{{Source: sourceTree(t), Name: "app/shop"}}

	first, err := p.Package(context.Background(), KindApp, "", entries)
	require.NoError(t, err)
	second, err := p.Package(context.Background(), KindApp, "", entries)
	require.NoError(t, err)

	assert.Equal(t, "app-web-1-20260102-030405.tar.gz", first.Name)
	assert.Equal(t, "app-web-1-20260102-030405-1.tar.gz", second.Name)
	assert.True(t, IsArtifactName(second.Name))
}

func TestPackageDatabaseGoesToDatabaseDir(t *testing.T) {
	p := newTestPackager(t, false, "")
	dump := filepath.Join(t.TempDir(), "postgres.dump")
	require.NoError(t, os.WriteFile(dump, []byte("PGDMP"), 0o600))

	a, err := p.Package(context.Background(), KindDatabase, SubkindPostgres, []archive.Entry{{Source: dump, Name: "postgres.dump"}})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(p.Root, "database", "postgres-web-1-20260102-030405.tar"), a.Path)
}

func TestPackageFailureLeavesNoFinalName(t *testing.T) {
	p := newTestPackager(t, true, compress.TypeGzip)
	_, err := p.Package(context.Background(), KindApp, "", []archive.Entry{{Source: filepath.Join(t.TempDir(), "missing"), Name: "app/missing"}})
	require.Error(t, err)

	entries, err := os.ReadDir(Dir(p.Root, KindApp))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
