package util

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

// RequireBinary verifies the binary is on PATH.
func RequireBinary(name string) error {
	_, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("required binary not found: %s", name)
	}
	return nil
}

// Command builds an exec.Cmd whose environment is the process environment
// plus env. Keys are appended in sorted order so the result is stable.
func Command(ctx context.Context, name string, args []string, env map[string]string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	extra := make([]string, 0, len(keys))
	for _, k := range keys {
		extra = append(extra, fmt.Sprintf("%s=%s", k, env[k]))
	}
	cmd.Env = append(os.Environ(), extra...)
	return cmd
}

// TailBuffer keeps the last Limit bytes written to it. External tools can be
// chatty on stderr; only the tail is useful in an error message.
type TailBuffer struct {
	Limit int

	mu  sync.Mutex
	buf []byte
}

func NewTailBuffer(limit int) *TailBuffer {
	return &TailBuffer{Limit: limit}
}

func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if b.Limit > 0 && len(b.buf) > b.Limit {
		b.buf = append([]byte(nil), b.buf[len(b.buf)-b.Limit:]...)
	}
	return len(p), nil
}

// String returns the retained output trimmed of surrounding whitespace.
func (b *TailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}

// RunCommand runs cmd and folds the tail of its stderr into any error.
// Grandchildren holding stderr open are abandoned after WaitDelay once the
// context ends.
func RunCommand(cmd *exec.Cmd) error {
	stderr := NewTailBuffer(4096)
	cmd.Stderr = stderr
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 2 * time.Second
	}
	if err := cmd.Run(); err != nil {
		if msg := stderr.String(); msg != "" {
			return fmt.Errorf("%s: %w: %s", cmd.Path, err, msg)
		}
		return fmt.Errorf("%s: %w", cmd.Path, err)
	}
	return nil
}
