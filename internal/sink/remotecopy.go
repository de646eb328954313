package sink

import (
	"context"
	"fmt"
	"os/user"
	"path"
	"strings"

	"github.com/rowjay/app-backup/internal/artifact"
)

// RemotePath is a parsed [user@]host:/path destination.
type RemotePath struct {
	User string
	Host string
	Path string
}

func (r RemotePath) String() string {
	return fmt.Sprintf("%s@%s:%s", r.User, r.Host, r.Path)
}

// ParseRemotePath parses [user@]host:/path. The user defaults to the
// current user.
func ParseRemotePath(s string) (RemotePath, error) {
	hostPart, dir, ok := strings.Cut(s, ":")
	if !ok || hostPart == "" || dir == "" {
		return RemotePath{}, fmt.Errorf("remote path %q must look like user@host:/path", s)
	}
	var rp RemotePath
	if u, h, found := strings.Cut(hostPart, "@"); found {
		rp.User, rp.Host = u, h
	} else {
		rp.Host = hostPart
	}
	if rp.Host == "" {
		return RemotePath{}, fmt.Errorf("remote path %q has no host", s)
	}
	if rp.User == "" {
		if cur, err := user.Current(); err == nil {
			rp.User = cur.Username
		} else {
			rp.User = "root"
		}
	}
	rp.Path = path.Clean(dir)
	return rp, nil
}

// RemoteCopier copies a local file into a directory on a remote host.
type RemoteCopier interface {
	Copy(ctx context.Context, localPath, remoteDir string) error
}

// RemoteCopyTarget mirrors the local files/ and database/ layout under the
// destination directory.
type RemoteCopyTarget struct {
	Copier RemoteCopier
	Dest   RemotePath
}

func (t *RemoteCopyTarget) Name() string { return "remote-copy" }

func (t *RemoteCopyTarget) Upload(ctx context.Context, a artifact.Artifact) (string, error) {
	dir := path.Join(t.Dest.Path, artifact.Subdir(a.Kind))
	if err := t.Copier.Copy(ctx, a.Path, dir); err != nil {
		return "", fmt.Errorf("copy to %s: %w", t.Dest.Host, err)
	}
	return fmt.Sprintf("%s@%s:%s", t.Dest.User, t.Dest.Host, path.Join(dir, a.Name)), nil
}
