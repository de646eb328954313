package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "appbak.yaml", "global:\n  app_name: shop\n  hostname: web1\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/backups/shop", cfg.Backup.Dir)
	assert.Equal(t, 30, cfg.Retention.MaxAgeDays)
	assert.True(t, cfg.Backup.Compression)
	assert.Equal(t, "gzip", cfg.Backup.CompressionFormat)
	assert.Equal(t, []string{"/opt/shop"}, cfg.Backup.AppDirs)
	assert.Equal(t, []string{"/var/log/shop"}, cfg.Backup.LogDirs)
	assert.Equal(t, "shop", cfg.Services.App)
	assert.Equal(t, "nginx", cfg.Services.Proxy)
	assert.Equal(t, filepath.Join("/var/backups/shop", ".appbak.lock"), cfg.Global.LockFile)
	assert.False(t, cfg.Remote.Enabled)
	assert.Equal(t, 30*time.Minute, cfg.Remote.UploadTimeout)
}

func TestLoadRecognizedEnvironment(t *testing.T) {
	path := writeFile(t, t.TempDir(), "appbak.yaml", "global:\n  hostname: web1\n")
	t.Setenv("BACKUP_DIR", "/srv/backups")
	t.Setenv("BACKUP_RETENTION_DAYS", "7")
	t.Setenv("BACKUP_COMPRESSION", "false")
	t.Setenv("REMOTE_BACKUP", "true")
	t.Setenv("AWS_S3_BUCKET", "bucket-a")
	t.Setenv("REMOTE_BACKUP_PATH", "backup@vault:/srv/copies")
	t.Setenv("ALERT_EMAIL", "ops@example.com")
	t.Setenv("SLACK_WEBHOOK", "https://hooks.example.com/x")
	t.Setenv("MONGODB_URI", "mongodb://db:27017/app")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/app")
	t.Setenv("CONFIG_DIRS", "/etc/app, /etc/nginx/sites-enabled/app.conf")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/backups", cfg.Backup.Dir)
	assert.Equal(t, 7, cfg.Retention.MaxAgeDays)
	assert.False(t, cfg.Backup.Compression)
	assert.True(t, cfg.Remote.Enabled)
	assert.Equal(t, "bucket-a", cfg.Remote.S3.Bucket)
	assert.Equal(t, "backup@vault:/srv/copies", cfg.Remote.Copy.Target)
	assert.Equal(t, "ops@example.com", cfg.Notifications.AlertEmail)
	assert.Equal(t, "https://hooks.example.com/x", cfg.Notifications.SlackWebhook)
	assert.Equal(t, "mongodb://db:27017/app", cfg.Database.MongoURI)
	assert.Equal(t, "postgres://u:p@db:5432/app", cfg.Database.DatabaseURL)
	assert.Equal(t, []string{"/etc/app", "/etc/nginx/sites-enabled/app.conf"}, cfg.Backup.ConfigPaths)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	path := writeFile(t, t.TempDir(), "appbak.yaml", "backup:\n  compression_format: lzma\nretention:\n  max_age_days: 0\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "compression format")
	assert.ErrorContains(t, err, "max_age_days")
}

func TestLoadRejectsEmptyRemotePrefix(t *testing.T) {
	path := writeFile(t, t.TempDir(), "appbak.yaml", "remote:\n  enabled: true\n  s3:\n    bucket: bucket-a\n    prefix: \"/\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "remote.s3.prefix")
}

func TestLoadEncryptedConfig(t *testing.T) {
	dir := t.TempDir()
	plain := writeFile(t, dir, "appbak.yaml", "global:\n  app_name: vault\n  hostname: h\n")
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	sealed := filepath.Join(dir, "appbak.yaml.enc")
	require.NoError(t, EncryptConfigFile(plain, sealed, key))

	t.Setenv("APPBAK_CONFIG_KEY", key)
	cfg, err := Load(sealed)
	require.NoError(t, err)
	assert.Equal(t, "vault", cfg.Global.AppName)
	assert.Equal(t, "/var/backups/vault", cfg.Backup.Dir)
}

func TestEncryptConfigFileRejectsUnparsableInput(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "appbak.yaml", "global: [unterminated\n")
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))

	err := EncryptConfigFile(bad, filepath.Join(dir, "out.enc"), key)
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "out.enc"))
}
