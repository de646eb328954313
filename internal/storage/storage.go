// Package storage abstracts the places artifacts are listed from and
// shipped to: the local backup directory and S3-compatible object stores.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Stat when the key does not exist.
var ErrNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key      string
	Size     int64
	Modified time.Time
	ETag     string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	// Location renders key as a human readable URI.
	Location(key string) string
}
