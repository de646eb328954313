package db

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rowjay/app-backup/internal/artifact"
	"github.com/rowjay/app-backup/internal/util"
)

type SQLite struct {
	Path string
	// cli is the sqlite3 binary used for an online backup. When it is not
	// installed the file is copied.
	cli string
}

func NewSQLite(path string) *SQLite { return &SQLite{Path: path, cli: "sqlite3"} }

func (s *SQLite) Subkind() string { return artifact.SubkindSQLite }

func (s *SQLite) Tool() string { return "" }

func (s *SQLite) Ping(ctx context.Context) error {
	if s.Path == "" {
		return fmt.Errorf("sqlite path is empty")
	}
	_, err := os.Stat(s.Path)
	return err
}

func (s *SQLite) Dump(ctx context.Context, dir string) (string, error) {
	out := filepath.Join(dir, "sqlite.db")
	if s.cli != "" && util.RequireBinary(s.cli) == nil {
		cmd := util.Command(ctx, s.cli, []string{s.Path, fmt.Sprintf(".backup '%s'", out)}, nil)
		if err := util.RunCommand(cmd); err != nil {
			return "", err
		}
		return out, nil
	}
	return out, copyFile(s.Path, out)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, in); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
