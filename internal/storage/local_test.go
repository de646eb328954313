package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/app-backup/internal/config"
)

func TestLocalPutStatListDelete(t *testing.T) {
	ctx := context.Background()
	store := NewLocal(t.TempDir())

	require.NoError(t, store.Put(ctx, "files/app-web1-20240101-100000.tar.gz", strings.NewReader("abc"), 3, nil))
	require.NoError(t, store.Put(ctx, "database/mongodb-web1-20240101-100000.tar.gz", strings.NewReader("mongo"), 5, nil))

	info, err := store.Stat(ctx, "files/app-web1-20240101-100000.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "database/mongodb-web1-20240101-100000.tar.gz", all[0].Key)

	files, err := store.List(ctx, "files")
	require.NoError(t, err)
	require.Len(t, files, 1)

	require.NoError(t, store.Delete(ctx, "files/app-web1-20240101-100000.tar.gz"))
	_, err = store.Stat(ctx, "files/app-web1-20240101-100000.tar.gz")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = os.Stat(filepath.Join(store.BasePath, "files", "app-web1-20240101-100000.tar.gz.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalListMissingPrefix(t *testing.T) {
	store := NewLocal(t.TempDir())
	infos, err := store.List(context.Background(), "database")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestLocalHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewLocal(t.TempDir())
	assert.ErrorIs(t, store.Put(ctx, "x", strings.NewReader(""), 0, nil), context.Canceled)
	_, err := store.List(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewObjectStore(t *testing.T) {
	store, err := NewObjectStore(config.S3Store{})
	require.NoError(t, err)
	assert.Nil(t, store)

	store, err = NewObjectStore(config.S3Store{Endpoint: "localhost:9000", Bucket: "appbak", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.Equal(t, "s3://appbak/files/x.tar", store.Location("files/x.tar"))
}
