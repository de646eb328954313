package sink

import (
	"context"
	"fmt"
	"os"

	"github.com/rowjay/app-backup/internal/artifact"
	"github.com/rowjay/app-backup/internal/storage"
	"github.com/rowjay/app-backup/internal/util"
)

// ObjectStoreTarget puts artifacts at <prefix>/<files|database>/<name>.
type ObjectStoreTarget struct {
	Store  storage.ObjectStore
	Prefix string
}

func (t *ObjectStoreTarget) Name() string { return "object-store" }

// Key is the remote key for a.
func (t *ObjectStoreTarget) Key(a artifact.Artifact) string {
	return util.BuildObjectKey(t.Prefix, artifact.Subdir(a.Kind), a.Name)
}

func (t *ObjectStoreTarget) Upload(ctx context.Context, a artifact.Artifact) (string, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	key := t.Key(a)
	meta := map[string]string{"kind": string(a.Kind)}
	if a.Subkind != "" {
		meta["subkind"] = a.Subkind
	}
	if err := t.Store.Put(ctx, key, f, info.Size(), meta); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	remote, err := t.Store.Stat(ctx, key)
	if err != nil {
		return "", fmt.Errorf("verify %s: %w", key, err)
	}
	if remote.Size != info.Size() {
		return "", fmt.Errorf("verify %s: remote size %d, local size %d", key, remote.Size, info.Size())
	}
	return t.Store.Location(key), nil
}
