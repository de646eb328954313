package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rowjay/app-backup/internal/app"
	"github.com/rowjay/app-backup/internal/backup"
	"github.com/rowjay/app-backup/internal/config"
	"github.com/rowjay/app-backup/internal/logging"
	"github.com/rowjay/app-backup/internal/notify"
	"github.com/rowjay/app-backup/internal/version"
)

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

type overrideFlags struct {
	BackupDir         string
	CompressionFormat string
	NoCompression     bool
	NoRemote          bool
}

func main() {
	root := &rootFlags{}
	overrides := &overrideFlags{}

	rootCmd := &cobra.Command{
		Use:           "appbak",
		Short:         "Application backup and restore orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json or .enc)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")

	rootCmd.PersistentFlags().StringVar(&overrides.BackupDir, "backup-dir", "", "Backup directory")
	rootCmd.PersistentFlags().StringVar(&overrides.CompressionFormat, "compression-format", "", "Compression format (gzip, zstd)")
	rootCmd.PersistentFlags().BoolVar(&overrides.NoCompression, "no-compression", false, "Write plain tar artifacts")
	rootCmd.PersistentFlags().BoolVar(&overrides.NoRemote, "no-remote", false, "Skip remote upload targets")

	rootCmd.AddCommand(newBackupCmd(root, overrides))
	rootCmd.AddCommand(newStepCmd(root, overrides, "backup-app", "Back up application files and configuration", (*app.App).BackupApp))
	rootCmd.AddCommand(newStepCmd(root, overrides, "backup-db", "Dump configured databases", (*app.App).BackupDB))
	rootCmd.AddCommand(newStepCmd(root, overrides, "backup-logs", "Back up log directories", (*app.App).BackupLogs))
	rootCmd.AddCommand(newRestoreCmd(root, overrides))
	rootCmd.AddCommand(newListCmd(root, overrides))
	rootCmd.AddCommand(newCleanCmd(root, overrides))
	rootCmd.AddCommand(newMaintenanceCmd(root, overrides))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// session is the per-invocation state every command needs.
type session struct {
	app    *app.App
	log    zerolog.Logger
	ctx    context.Context
	cancel func()
}

func (s *session) Close() { s.cancel() }

func newSession(cmd *cobra.Command, root *rootFlags, overrides *overrideFlags) (*session, error) {
	cfg, err := loadConfig(root, overrides)
	if err != nil {
		return nil, err
	}
	base, closer, err := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat, cfg.Global.LogFile)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	logger := base.With().Str("run_id", runID).Str("command", cmd.Name()).Logger()

	appSvc, err := app.New(cfg, logger, notify.FromConfig(cfg.Notifications), runID)
	if err != nil {
		closer.Close()
		return nil, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cancel := stop
	if cfg.Global.OperationTimeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, cfg.Global.OperationTimeout)
		cancel = func() {
			timeoutCancel()
			stop()
		}
	}
	return &session{
		app: appSvc,
		log: logger,
		ctx: ctx,
		cancel: func() {
			cancel()
			closer.Close()
		},
	}, nil
}

func newBackupCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "backup",
		Aliases: []string{"full-backup"},
		Short:   "Run a full backup: files, databases, logs, upload and retention",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, root, overrides)
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.app.Backup(s.ctx)
			if err != nil {
				return err
			}
			s.log.Info().Msg(app.Summarize(report))
			return nil
		},
	}
}

type stepFunc func(*app.App, context.Context) (*backup.Report, error)

func newStepCmd(root *rootFlags, overrides *overrideFlags, use, short string, step stepFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, root, overrides)
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := step(s.app, s.ctx)
			if report != nil {
				s.log.Info().Msg(app.Summarize(report))
			}
			return err
		},
	}
}

func newRestoreCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <artifact> [full|app|config]",
		Short: "Restore application files and configuration from an artifact",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := ""
			if len(args) == 2 {
				kind = args[1]
			}
			s, err := newSession(cmd, root, overrides)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := s.app.Restore(s.ctx, args[0], kind)
			if err != nil {
				return err
			}
			event := s.log.Info()
			if out.Aborted || len(out.Errors) > 0 {
				event = s.log.Error().Err(errors.Join(out.Errors...))
			}
			event.Strs("rollbacks", out.Rollbacks()).Bool("aborted", out.Aborted).Msg("restore finished")
			return nil
		},
	}
}

func newListCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List local and remote artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, root, overrides)
			if err != nil {
				return err
			}
			defer s.Close()

			app.PrintListing(cmd.OutOrStdout(), s.app.List(s.ctx))
			return nil
		},
	}
}

func newCleanCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete artifacts older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, root, overrides)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.app.Clean(s.ctx)
			if err != nil {
				return err
			}
			for _, e := range res.Errors {
				s.log.Warn().Err(e).Msg("retention delete failed")
			}
			return nil
		},
	}
}

func newMaintenanceCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "maintenance",
		Short: "Run configured housekeeping commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, root, overrides)
			if err != nil {
				return err
			}
			defer s.Close()

			failed := 0
			for _, o := range s.app.Maintenance(s.ctx) {
				if o.Err != nil {
					failed++
				}
			}
			s.log.Info().Int("failed", failed).Msg("maintenance finished")
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	var input string
	var output string
	var key string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = os.Getenv("APPBAK_CONFIG_KEY")
			}
			if input == "" || output == "" || key == "" {
				return fmt.Errorf("--input, --output, and --key (or APPBAK_CONFIG_KEY) are required")
			}
			return config.EncryptConfigFile(input, output, key)
		},
	}
	encrypt.Flags().StringVar(&input, "input", "", "Input config file")
	encrypt.Flags().StringVar(&output, "output", "", "Output encrypted config file")
	encrypt.Flags().StringVar(&key, "key", "", "Encryption key (base64 or hex)")

	cmd.AddCommand(encrypt)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "appbak %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

func loadConfig(root *rootFlags, overrides *overrideFlags) (*config.Config, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, root, overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, root *rootFlags, overrides *overrideFlags) {
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}
	if overrides.BackupDir != "" {
		if cfg.Global.LockFile == filepath.Join(cfg.Backup.Dir, ".appbak.lock") {
			cfg.Global.LockFile = filepath.Join(overrides.BackupDir, ".appbak.lock")
		}
		cfg.Backup.Dir = overrides.BackupDir
	}
	if overrides.CompressionFormat != "" {
		cfg.Backup.CompressionFormat = strings.ToLower(overrides.CompressionFormat)
	}
	if overrides.NoCompression {
		cfg.Backup.Compression = false
	}
	if overrides.NoRemote {
		cfg.Remote.Enabled = false
	}
}
