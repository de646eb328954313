package sink

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/app-backup/internal/artifact"
	"github.com/rowjay/app-backup/internal/storage"
)

func testArtifact(t *testing.T, kind artifact.Kind, name, body string) artifact.Artifact {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return artifact.Artifact{Kind: kind, Name: name, Path: p, SizeBytes: int64(len(body))}
}

// failingStore fails every Put, simulating a network error.
type failingStore struct{ *storage.Local }

func (f failingStore) Put(context.Context, string, io.Reader, int64, map[string]string) error {
	return errors.New("dial tcp: connection reset by peer")
}

// shortStore truncates uploads so verification fails.
type shortStore struct{ *storage.Local }

func (s shortStore) Put(ctx context.Context, key string, r io.Reader, size int64, meta map[string]string) error {
	return s.Local.Put(ctx, key, io.LimitReader(r, 1), 1, meta)
}

type fakeCopier struct {
	mu     sync.Mutex
	copies []string
	err    error
}

func (f *fakeCopier) Copy(_ context.Context, localPath, remoteDir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.copies = append(f.copies, remoteDir+"/"+filepath.Base(localPath))
	return nil
}

type slowTarget struct{}

func (slowTarget) Name() string { return "slow" }
func (slowTarget) Upload(ctx context.Context, _ artifact.Artifact) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestObjectStoreTargetUploadsAndVerifies(t *testing.T) {
	remote := storage.NewLocal(t.TempDir())
	target := &ObjectStoreTarget{Store: remote, Prefix: "backups"}
	a := testArtifact(t, artifact.KindDatabase, "mongodb-web1-20260101-000000.tar.gz", "payload")

	loc, err := target.Upload(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, remote.Location("backups/database/mongodb-web1-20260101-000000.tar.gz"), loc)

	_, err = os.Stat(a.Path)
	assert.NoError(t, err, "local copy must remain")
}

func TestObjectStoreTargetDetectsSizeMismatch(t *testing.T) {
	target := &ObjectStoreTarget{Store: shortStore{storage.NewLocal(t.TempDir())}, Prefix: "backups"}
	a := testArtifact(t, artifact.KindApp, "app-web1-20260101-000000.tar.gz", "payload")
	_, err := target.Upload(context.Background(), a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote size 1")
}

func TestSinkPartialRemoteFailure(t *testing.T) {
	copier := &fakeCopier{}
	s := New([]Target{
		&ObjectStoreTarget{Store: failingStore{storage.NewLocal(t.TempDir())}, Prefix: "backups"},
		&RemoteCopyTarget{Copier: copier, Dest: RemotePath{User: "bk", Host: "vault", Path: "/srv/backups"}},
	}, time.Minute, 2, zerolog.Nop())

	a := testArtifact(t, artifact.KindApp, "app-web1-20260101-000000.tar.gz", "payload")
	results := s.Upload(context.Background(), []artifact.Artifact{a})
	require.Len(t, results, 2)

	assert.Equal(t, "object-store", results[0].Target)
	assert.Error(t, results[0].Err)
	assert.Equal(t, "remote-copy", results[1].Target)
	require.NoError(t, results[1].Err)
	assert.Equal(t, "bk@vault:/srv/backups/files/app-web1-20260101-000000.tar.gz", results[1].Location)
	assert.Equal(t, []string{"/srv/backups/files/app-web1-20260101-000000.tar.gz"}, copier.copies)
}

func TestSinkAppliesPerAttemptTimeout(t *testing.T) {
	s := New([]Target{slowTarget{}}, 20*time.Millisecond, 1, zerolog.Nop())
	a := testArtifact(t, artifact.KindLogs, "logs-web1-20260101-000000.tar", "x")
	results := s.Upload(context.Background(), []artifact.Artifact{a, a})
	require.Len(t, results, 2)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.DeadlineExceeded)
	}
}

func TestSinkNoTargets(t *testing.T) {
	s := New(nil, time.Minute, 1, zerolog.Nop())
	assert.Empty(t, s.Upload(context.Background(), []artifact.Artifact{{Name: "x"}}))
}

func TestParseRemotePath(t *testing.T) {
	rp, err := ParseRemotePath("backup@vault.internal:/srv/backups/")
	require.NoError(t, err)
	assert.Equal(t, RemotePath{User: "backup", Host: "vault.internal", Path: "/srv/backups"}, rp)

	rp, err = ParseRemotePath("vault:/data")
	require.NoError(t, err)
	assert.Equal(t, "vault", rp.Host)
	assert.NotEmpty(t, rp.User)

	for _, bad := range []string{"", "vault", "vault:", ":/data", "user@:/data"} {
		_, err := ParseRemotePath(bad)
		assert.Error(t, err, bad)
	}
}

func TestWriteSCP(t *testing.T) {
	var sent bytes.Buffer
	acks := bufio.NewReader(bytes.NewReader([]byte{0, 0, 0}))
	err := writeSCP(&sent, acks, "app.tar.gz", 5, 0o644, strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "C0644 5 app.tar.gz\nhello\x00", sent.String())
}

func TestWriteSCPRemoteError(t *testing.T) {
	var sent bytes.Buffer
	acks := bufio.NewReader(strings.NewReader("\x00\x01scp: /srv/backups: Permission denied\n"))
	err := writeSCP(&sent, acks, "app.tar.gz", 5, 0o644, strings.NewReader("hello"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Permission denied")
	assert.NotContains(t, sent.String(), "hello")
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'/srv/it'\''s'`, shellQuote("/srv/it's"))
}
