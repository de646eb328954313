package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rowjay/app-backup/internal/cryptoutil"
)

const (
	envPrefix      = "APPBAK"
	defaultAppName = "app"
)

// envBindings maps config keys to the plain environment names operators
// already export for the backup scripts.
var envBindings = map[string][]string{
	"global.app_name":               {"APP_NAME"},
	"global.log_file":               {"LOG_FILE", "BACKUP_LOG_FILE"},
	"global.log_level":              {"LOG_LEVEL"},
	"backup.dir":                    {"BACKUP_DIR"},
	"backup.compression":            {"BACKUP_COMPRESSION"},
	"backup.compression_format":     {"BACKUP_COMPRESSION_FORMAT"},
	"backup.app_dirs":               {"APP_DIR"},
	"backup.config_paths":           {"CONFIG_DIRS"},
	"backup.log_dirs":               {"LOG_DIRS", "LOG_DIR"},
	"retention.max_age_days":        {"BACKUP_RETENTION_DAYS"},
	"remote.enabled":                {"REMOTE_BACKUP"},
	"remote.s3.bucket":              {"AWS_S3_BUCKET"},
	"remote.s3.endpoint":            {"AWS_S3_ENDPOINT"},
	"remote.s3.prefix":              {"AWS_S3_PREFIX"},
	"remote.s3.region":              {"AWS_REGION", "AWS_DEFAULT_REGION"},
	"remote.s3.access_key":          {"AWS_ACCESS_KEY_ID"},
	"remote.s3.secret_key":          {"AWS_SECRET_ACCESS_KEY"},
	"remote.s3.session_token":       {"AWS_SESSION_TOKEN"},
	"remote.copy.target":            {"REMOTE_BACKUP_PATH"},
	"remote.copy.key_file":          {"REMOTE_SSH_KEY"},
	"remote.copy.known_hosts":       {"REMOTE_SSH_KNOWN_HOSTS"},
	"notifications.alert_email":     {"ALERT_EMAIL"},
	"notifications.slack_webhook":   {"SLACK_WEBHOOK"},
	"notifications.smtp.host":       {"SMTP_HOST"},
	"notifications.smtp.from":       {"SMTP_FROM"},
	"database.mongodb_uri":          {"MONGODB_URI"},
	"database.database_url":         {"DATABASE_URL"},
	"database.connection_timeout":   {"DATABASE_CONNECT_TIMEOUT"},
	"services.app":                  {"APP_SERVICE"},
	"services.proxy":                {"PROXY_SERVICE"},
	"services.manager":              {"SERVICE_MANAGER"},
	"maintenance.commands":          {"MAINTENANCE_COMMANDS"},
	"schedule.window_start":         {"BACKUP_WINDOW_START"},
	"schedule.window_end":           {"BACKUP_WINDOW_END"},
	"schedule.timezone":             {"BACKUP_WINDOW_TZ"},
	"notifications.smtp.username":   {"SMTP_USERNAME"},
	"notifications.smtp.password":   {"SMTP_PASSWORD"},
	"remote.copy.insecure_host_key": {"REMOTE_SSH_INSECURE"},
}

// Load reads configuration from a file (optionally encrypted), env vars, and defaults.
func Load(path string) (*Config, error) {
	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()
	for key, names := range envBindings {
		if err := vp.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	setDefaults(vp)

	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}

	if resolved != "" {
		data, readErr := os.ReadFile(resolved)
		if readErr != nil {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
		if isEncryptedPath(resolved) {
			vp.SetConfigType(configTypeFromPath(resolved))
			key := os.Getenv("APPBAK_CONFIG_KEY")
			if key == "" {
				key = vp.GetString("global.config_passphrase")
			}
			if key == "" {
				return nil, errors.New("config file is encrypted but APPBAK_CONFIG_KEY is not set")
			}
			plain, decErr := decryptConfig(data, key)
			if decErr != nil {
				return nil, fmt.Errorf("decrypt config: %w", decErr)
			}
			if err := vp.ReadConfig(bytes.NewReader(plain)); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		} else {
			vp.SetConfigFile(resolved)
			if err := vp.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	expandEnv(&cfg)
	applyPostLoadDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Retention.MaxAgeDays <= 0 {
		errs = append(errs, fmt.Errorf("retention.max_age_days must be positive, got %d", c.Retention.MaxAgeDays))
	}
	switch c.Backup.CompressionFormat {
	case "gzip", "zstd":
	default:
		errs = append(errs, fmt.Errorf("unsupported compression format: %s", c.Backup.CompressionFormat))
	}
	switch c.Services.Manager {
	case "systemd", "none":
	default:
		errs = append(errs, fmt.Errorf("unsupported service manager: %s", c.Services.Manager))
	}
	if c.Remote.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("remote.parallelism must be at least 1"))
	}
	if c.Backup.Dir == "" {
		errs = append(errs, errors.New("backup.dir is required"))
	}
	if c.Remote.Enabled && c.Remote.S3.Bucket != "" && strings.Trim(c.Remote.S3.Prefix, "/") == "" {
		errs = append(errs, errors.New("remote.s3.prefix must not be empty when remote retention applies to a bucket"))
	}
	return errors.Join(errs...)
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if envPath := os.Getenv("APPBAK_CONFIG"); envPath != "" {
		return envPath, nil
	}

	candidates := []string{
		"appbak.yaml",
		"appbak.yml",
		"appbak.toml",
		"appbak.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	configDir, err := os.UserConfigDir()
	if err == nil {
		base := filepath.Join(configDir, "appbak")
		for _, c := range candidates {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
		for _, c := range []string{"appbak.yaml.enc", "appbak.yml.enc", "appbak.toml.enc"} {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}

	return "", nil
}

func isEncryptedPath(path string) bool {
	return strings.HasSuffix(path, ".enc") || strings.HasSuffix(path, ".encrypted")
}

func configTypeFromPath(path string) string {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(path, ".enc"), ".encrypted")
	switch {
	case strings.HasSuffix(trimmed, ".toml"):
		return "toml"
	case strings.HasSuffix(trimmed, ".json"):
		return "json"
	default:
		return "yaml"
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("global.app_name", defaultAppName)
	vp.SetDefault("global.log_level", "info")
	vp.SetDefault("global.log_format", "console")
	vp.SetDefault("global.operation_timeout", "6h")
	vp.SetDefault("backup.compression", true)
	vp.SetDefault("backup.compression_format", "gzip")
	vp.SetDefault("database.connection_timeout", "10s")
	vp.SetDefault("remote.enabled", false)
	vp.SetDefault("remote.upload_timeout", "30m")
	vp.SetDefault("remote.parallelism", 1)
	vp.SetDefault("remote.s3.endpoint", "s3.amazonaws.com")
	vp.SetDefault("remote.s3.use_ssl", true)
	vp.SetDefault("remote.s3.prefix", "backups")
	vp.SetDefault("remote.copy.port", 22)
	vp.SetDefault("remote.copy.dial_timeout", "15s")
	vp.SetDefault("retention.max_age_days", 30)
	vp.SetDefault("retention.list_attempts", 3)
	vp.SetDefault("retention.list_backoff", "5s")
	vp.SetDefault("services.manager", "systemd")
	vp.SetDefault("services.proxy", "nginx")
	vp.SetDefault("notifications.timeout", "10s")
	vp.SetDefault("notifications.smtp.port", 25)
	vp.SetDefault("maintenance.timeout", "10m")
}

func applyPostLoadDefaults(cfg *Config) {
	app := cfg.Global.AppName
	if app == "" {
		app = defaultAppName
		cfg.Global.AppName = app
	}
	if cfg.Global.Hostname == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Global.Hostname = host
		} else {
			cfg.Global.Hostname = "localhost"
		}
	}
	if cfg.Global.OperationTimeout == 0 {
		cfg.Global.OperationTimeout = 6 * time.Hour
	}
	if cfg.Global.TempDir == "" {
		cfg.Global.TempDir = os.TempDir()
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = filepath.Join("/var/backups", app)
	}
	if cfg.Global.LockFile == "" {
		cfg.Global.LockFile = filepath.Join(cfg.Backup.Dir, ".appbak.lock")
	}
	if len(cfg.Backup.AppDirs) == 0 {
		cfg.Backup.AppDirs = []string{filepath.Join("/opt", app)}
	}
	if len(cfg.Backup.LogDirs) == 0 {
		cfg.Backup.LogDirs = []string{filepath.Join("/var/log", app)}
	}
	cfg.Backup.AppDirs = cleanList(cfg.Backup.AppDirs)
	cfg.Backup.ConfigPaths = cleanList(cfg.Backup.ConfigPaths)
	cfg.Backup.LogDirs = cleanList(cfg.Backup.LogDirs)
	cfg.Backup.CompressionFormat = strings.ToLower(cfg.Backup.CompressionFormat)
	if cfg.Services.App == "" {
		cfg.Services.App = app
	}
	cfg.Services.Manager = strings.ToLower(cfg.Services.Manager)
	if cfg.Remote.UploadTimeout == 0 {
		cfg.Remote.UploadTimeout = 30 * time.Minute
	}
	if cfg.Retention.ListAttempts == 0 {
		cfg.Retention.ListAttempts = 1
	}
	if cfg.Notifications.Timeout == 0 {
		cfg.Notifications.Timeout = 10 * time.Second
	}
	if cfg.Notifications.SMTP.From == "" {
		cfg.Notifications.SMTP.From = fmt.Sprintf("%s-backup@%s", app, cfg.Global.Hostname)
	}
	if cfg.Maintenance.Timeout == 0 {
		cfg.Maintenance.Timeout = 10 * time.Minute
	}
}

// cleanList splits comma separated entries and drops blanks.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func expandEnv(cfg *Config) {
	cfg.Database.MongoURI = os.ExpandEnv(cfg.Database.MongoURI)
	cfg.Database.DatabaseURL = os.ExpandEnv(cfg.Database.DatabaseURL)
	cfg.Remote.S3.AccessKey = os.ExpandEnv(cfg.Remote.S3.AccessKey)
	cfg.Remote.S3.SecretKey = os.ExpandEnv(cfg.Remote.S3.SecretKey)
	cfg.Remote.S3.SessionToken = os.ExpandEnv(cfg.Remote.S3.SessionToken)
	cfg.Notifications.SlackWebhook = os.ExpandEnv(cfg.Notifications.SlackWebhook)
	cfg.Notifications.SMTP.Password = os.ExpandEnv(cfg.Notifications.SMTP.Password)
	for i := range cfg.Notifications.Webhooks {
		cfg.Notifications.Webhooks[i].URL = os.ExpandEnv(cfg.Notifications.Webhooks[i].URL)
	}
}

func decryptConfig(ciphertext []byte, key string) ([]byte, error) {
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return cryptoutil.DecryptConfig(ciphertext, parsed)
}
