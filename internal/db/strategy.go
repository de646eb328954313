// Package db dumps the configured databases into artifacts.
package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rowjay/app-backup/internal/config"
)

var (
	// ErrToolMissing means the dump binary is not installed.
	ErrToolMissing = errors.New("dump tool not installed")
	// ErrUnreachable means the database did not answer a ping.
	ErrUnreachable = errors.New("database unreachable")
)

// Strategy dumps one database engine. Dump writes a single raw file into dir
// and returns its path.
type Strategy interface {
	Subkind() string
	// Tool is the external binary Dump needs, or "" when none is required.
	Tool() string
	Ping(ctx context.Context) error
	Dump(ctx context.Context, dir string) (string, error)
}

// StrategiesFromConfig selects a strategy for each configured connection
// string. Unrecognized DATABASE_URL schemes produce a warning instead.
func StrategiesFromConfig(cfg config.DatabaseConfig) ([]Strategy, []string) {
	var (
		out      []Strategy
		warnings []string
	)
	if cfg.MongoURI != "" {
		out = append(out, NewMongo(cfg.MongoURI))
	}
	if cfg.DatabaseURL != "" {
		s, err := sqlStrategy(cfg.DatabaseURL, cfg)
		if err != nil {
			warnings = append(warnings, err.Error())
		} else {
			out = append(out, s)
		}
	}
	return out, warnings
}

func sqlStrategy(raw string, cfg config.DatabaseConfig) (Strategy, error) {
	if strings.HasPrefix(raw, "file:") {
		return NewSQLite(strings.TrimPrefix(strings.TrimPrefix(raw, "file:"), "//")), nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("DATABASE_URL is not a valid URL: %w", redact(err))
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return NewPostgres(raw, cfg.ConnectionTimeout), nil
	case "mysql", "mariadb":
		return NewMySQL(u, cfg.ConnectionTimeout), nil
	case "sqlite", "sqlite3":
		p := u.Path
		if u.Host != "" {
			// sqlite://relative/path.db
			p = u.Host + u.Path
		}
		return NewSQLite(p), nil
	default:
		return nil, fmt.Errorf("DATABASE_URL scheme %q is not supported, skipping", u.Scheme)
	}
}

// redact drops the URL from url.Error so credentials never reach the log.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}
