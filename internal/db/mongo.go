package db

import (
	"context"
	"path/filepath"

	"github.com/rowjay/app-backup/internal/artifact"
	"github.com/rowjay/app-backup/internal/util"
)

type Mongo struct {
	URI string
}

func NewMongo(uri string) *Mongo { return &Mongo{URI: uri} }

func (m *Mongo) Subkind() string { return artifact.SubkindMongo }

func (m *Mongo) Tool() string { return "mongodump" }

// Ping uses mongosh when it is installed; otherwise reachability is left to
// mongodump itself.
func (m *Mongo) Ping(ctx context.Context) error {
	if err := util.RequireBinary("mongosh"); err != nil {
		return nil
	}
	cmd := util.Command(ctx, "mongosh", []string{m.URI, "--quiet", "--eval", "db.runCommand({ ping: 1 })"}, nil)
	return util.RunCommand(cmd)
}

func (m *Mongo) Dump(ctx context.Context, dir string) (string, error) {
	out := filepath.Join(dir, "mongodb.archive")
	cmd := util.Command(ctx, "mongodump", []string{"--uri=" + m.URI, "--archive=" + out}, nil)
	if err := util.RunCommand(cmd); err != nil {
		return "", err
	}
	return out, nil
}
