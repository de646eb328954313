package util

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryReturnsLastError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return errors.New("down")
	})
	require.EqualError(t, err, "down")
	assert.Equal(t, 3, calls)
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 5, time.Hour, func() error { return errors.New("down") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTailBufferKeepsTail(t *testing.T) {
	b := NewTailBuffer(8)
	_, _ = b.Write([]byte("0123456789"))
	_, _ = b.Write([]byte("ab"))
	assert.Equal(t, "456789ab", b.String())
}

func TestRunCommandIncludesStderr(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	cmd := Command(context.Background(), "sh", []string{"-c", "echo boom >&2; exit 3"}, map[string]string{"APPBAK_TEST": "1"})
	err := RunCommand(cmd)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "boom"))
	assert.Contains(t, cmd.Env, "APPBAK_TEST=1")
}

func TestRequireBinaryMissing(t *testing.T) {
	assert.Error(t, RequireBinary("appbak-definitely-missing-tool"))
}

func TestDirSize(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "one"), make([]byte, 100), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "two"), make([]byte, 23), 0o644))
	assert.Equal(t, int64(123), DirSize(root))
	assert.Equal(t, int64(0), DirSize(filepath.Join(root, "missing")))
}
