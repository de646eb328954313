package storage

import (
	"errors"

	"github.com/rowjay/app-backup/internal/config"
)

// NewObjectStore returns the configured remote object store, or nil when no
// bucket is set.
func NewObjectStore(cfg config.S3Store) (ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("s3 endpoint is required when a bucket is set")
	}
	s3, err := NewS3(S3Options{
		Endpoint:        cfg.Endpoint,
		Region:          cfg.Region,
		Bucket:          cfg.Bucket,
		AccessKey:       cfg.AccessKey,
		SecretKey:       cfg.SecretKey,
		SessionToken:    cfg.SessionToken,
		UseSSL:          cfg.UseSSL,
		ForcePathStyle:  cfg.ForcePathStyle,
		TLSInsecureSkip: cfg.TLSInsecureSkip,
	})
	if err != nil {
		return nil, err
	}
	return s3, nil
}
