package db

import (
	"context"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rowjay/app-backup/internal/artifact"
	"github.com/rowjay/app-backup/internal/util"
)

type Postgres struct {
	URL            string
	ConnectTimeout time.Duration
}

func NewPostgres(url string, timeout time.Duration) *Postgres {
	return &Postgres{URL: url, ConnectTimeout: timeout}
}

func (p *Postgres) Subkind() string { return artifact.SubkindPostgres }

func (p *Postgres) Tool() string { return "pg_dump" }

func (p *Postgres) Ping(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, p.URL)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())
	return conn.Ping(ctx)
}

func (p *Postgres) Dump(ctx context.Context, dir string) (string, error) {
	out := filepath.Join(dir, "postgres.dump")
	args := []string{"--format=custom", "--no-owner", "--no-privileges", "--file=" + out, "--dbname=" + p.URL}
	cmd := util.Command(ctx, "pg_dump", args, p.env())
	if err := util.RunCommand(cmd); err != nil {
		return "", err
	}
	return out, nil
}

func (p *Postgres) env() map[string]string {
	if p.ConnectTimeout <= 0 {
		return nil
	}
	return map[string]string{"PGCONNECT_TIMEOUT": strconv.Itoa(int(p.ConnectTimeout.Seconds()))}
}
