package config

import "time"

// Config is the root configuration schema. It is built once by Load and
// treated as read-only afterwards.
type Config struct {
	Global        GlobalConfig        `mapstructure:"global"`
	Backup        BackupConfig        `mapstructure:"backup"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Remote        RemoteConfig        `mapstructure:"remote"`
	Retention     RetentionConfig     `mapstructure:"retention"`
	Services      ServicesConfig      `mapstructure:"services"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Schedule      ScheduleConfig      `mapstructure:"schedule"`
	Maintenance   MaintenanceConfig   `mapstructure:"maintenance"`
}

type GlobalConfig struct {
	AppName          string        `mapstructure:"app_name"`
	Hostname         string        `mapstructure:"hostname"`
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"` // json or console
	LogFile          string        `mapstructure:"log_file"`
	LockFile         string        `mapstructure:"lock_file"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	ConfigPassphrase string        `mapstructure:"config_passphrase"`
	TempDir          string        `mapstructure:"temp_dir"`
}

type BackupConfig struct {
	Dir               string   `mapstructure:"dir"`
	Compression       bool     `mapstructure:"compression"`
	CompressionFormat string   `mapstructure:"compression_format"` // gzip, zstd
	AppDirs           []string `mapstructure:"app_dirs"`
	ConfigPaths       []string `mapstructure:"config_paths"`
	LogDirs           []string `mapstructure:"log_dirs"`
}

type DatabaseConfig struct {
	MongoURI          string        `mapstructure:"mongodb_uri"`
	DatabaseURL       string        `mapstructure:"database_url"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
}

type RemoteConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
	Parallelism   int           `mapstructure:"parallelism"`
	S3            S3Store       `mapstructure:"s3"`
	Copy          RemoteCopy    `mapstructure:"copy"`
}

type S3Store struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	SessionToken    string `mapstructure:"session_token"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	TLSInsecureSkip bool   `mapstructure:"tls_insecure_skip"`
}

// RemoteCopy describes an scp-style destination such as user@host:/srv/backups.
type RemoteCopy struct {
	Target          string        `mapstructure:"target"`
	Port            int           `mapstructure:"port"`
	KeyFile         string        `mapstructure:"key_file"`
	KnownHosts      string        `mapstructure:"known_hosts"`
	InsecureHostKey bool          `mapstructure:"insecure_host_key"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
}

type RetentionConfig struct {
	MaxAgeDays   int           `mapstructure:"max_age_days"`
	ListAttempts int           `mapstructure:"list_attempts"`
	ListBackoff  time.Duration `mapstructure:"list_backoff"`
}

type ServicesConfig struct {
	Manager string `mapstructure:"manager"` // systemd or none
	App     string `mapstructure:"app"`
	Proxy   string `mapstructure:"proxy"`
}

type NotificationsConfig struct {
	AlertEmail   string          `mapstructure:"alert_email"`
	SlackWebhook string          `mapstructure:"slack_webhook"`
	SMTP         SMTPConfig      `mapstructure:"smtp"`
	Webhooks     []WebhookConfig `mapstructure:"webhooks"`
	Timeout      time.Duration   `mapstructure:"timeout"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type WebhookConfig struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type ScheduleConfig struct {
	WindowStart string `mapstructure:"window_start"` // HH:MM local time
	WindowEnd   string `mapstructure:"window_end"`
	Timezone    string `mapstructure:"timezone"`
}

type MaintenanceConfig struct {
	Commands []string      `mapstructure:"commands"`
	Timeout  time.Duration `mapstructure:"timeout"`
}
