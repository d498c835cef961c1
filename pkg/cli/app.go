package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/mchmarny/credscore/pkg/config"
	"github.com/mchmarny/credscore/pkg/data"
	"github.com/mchmarny/credscore/pkg/logging"
)

const (
	appName      = "credscore"
	appConfigKey = "app-config"
	envPrefix    = "CREDSCORE_"

	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	version = "v0.0.1-default"
	commit  = ""
	date    = ""

	debugFlag = &cli.BoolFlag{
		Name:    "debug",
		Usage:   "Prints verbose logs (optional, default: false)",
		Sources: cli.EnvVars(envPrefix + "DEBUG"),
	}

	logLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level [debug, info, warn, error]",
		Value:   "info",
		Sources: cli.EnvVars(envPrefix + "LOG_LEVEL"),
	}

	dbFlag = &cli.StringFlag{
		Name:    "db",
		Usage:   "Path to the Sqlite database file or a postgres:// DSN (default: $HOME/.credscore/data.db)",
		Sources: cli.EnvVars(envPrefix + "DB"),
	}

	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to the config file (default: $HOME/.credscore/config.yaml)",
		Sources: cli.EnvVars(envPrefix + "CONFIG"),
	}

	formatFlag = &cli.StringFlag{
		Name:    "format",
		Usage:   "Output format [json, yaml]",
		Value:   formatJSON,
		Sources: cli.EnvVars(envPrefix + "FORMAT"),
	}
)

// Execute creates and runs the CLI application.
func Execute() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error loading .env file: %v\n", err)
	}
	logging.SetDefaultCLILogger("info")

	app := newApp()
	if err := app.Run(context.Background(), os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

type appConfig struct {
	HomeDir string
	DSN     string
	Format  string
	DB      *sql.DB
	Config  *config.Config
}

func getConfig(cmd *cli.Command) *appConfig {
	return cmd.Root().Metadata[appConfigKey].(*appConfig)
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  appName,
		Version:               fmt.Sprintf("%s (%s - %s)", version, commit, date),
		EnableShellCompletion: true,
		HideHelpCommand:       true,
		Usage:                 "Credit scoring pipeline and applicant scoring service",
		Metadata:              map[string]any{},
		Flags: []cli.Flag{
			debugFlag,
			logLevelFlag,
			dbFlag,
			configFlag,
			formatFlag,
		},
		Commands: []*cli.Command{
			authCmd,
			fetchCmd,
			preprocessCmd,
			qualityCmd,
			mediansCmd,
			scalingCmd,
			inspectCmd,
			scoreCmd,
			historyCmd,
			runsCmd,
			statusCmd,
			serverCmd,
			resetCmd,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			level := cmd.String(logLevelFlag.Name)
			if cmd.Bool(debugFlag.Name) {
				level = "debug"
			}
			logging.SetDefaultCLILogger(level)

			format := formatJSON
			if f := cmd.String(formatFlag.Name); f == formatYAML || f == "yml" {
				format = formatYAML
			}

			cfg := &appConfig{Format: format}

			var err error
			if p := cmd.String(configFlag.Name); p != "" {
				cfg.Config, err = config.ReadFile(p)
			} else {
				var dir string
				if dir, err = cfg.homeDir(); err == nil {
					cfg.Config, err = config.ReadOrCreate(dir)
				}
			}
			if err != nil {
				return ctx, fmt.Errorf("loading config: %w", err)
			}

			cfg.DSN = cmd.String(dbFlag.Name)
			if cfg.DSN == "" {
				dir, err := cfg.homeDir()
				if err != nil {
					return ctx, err
				}
				cfg.DSN = filepath.Join(dir, data.DataFileName)
			}

			if err := data.Init(cfg.DSN); err != nil {
				return ctx, fmt.Errorf("initializing database: %w", err)
			}

			if cfg.DB, err = data.GetDB(cfg.DSN); err != nil {
				return ctx, fmt.Errorf("opening database: %w", err)
			}

			cmd.Metadata[appConfigKey] = cfg
			return ctx, nil
		},
		After: func(_ context.Context, cmd *cli.Command) error {
			if cfg, ok := cmd.Metadata[appConfigKey].(*appConfig); ok && cfg.DB != nil {
				cfg.DB.Close()
			}
			return nil
		},
	}
}

// homeDir returns the app home dir, creating it on first use.
func (c *appConfig) homeDir() (string, error) {
	if c.HomeDir != "" {
		return c.HomeDir, nil
	}
	dir, created, err := config.GetOrCreateHomeDir(appName)
	if err != nil {
		return "", fmt.Errorf("getting home dir: %w", err)
	}
	if created {
		slog.Debug("created home dir", "path", dir)
	}
	c.HomeDir = dir
	return dir, nil
}

func writer(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func encode(cmd *cli.Command, v any) error {
	w := writer(cmd)
	if getConfig(cmd).Format == formatYAML {
		return yaml.NewEncoder(w).Encode(v)
	}
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(v)
}

// recordRun persists the outcome of a pipeline step. A failure to record is
// logged, never returned.
func recordRun(db *sql.DB, r *data.Run, start time.Time, err error) {
	r.StartedAt = start
	r.Duration = time.Since(start)
	r.Status = data.RunStatusOK
	if err != nil {
		r.Status = data.RunStatusFailed
		r.Message = err.Error()
	}
	if saveErr := data.SaveRun(db, r); saveErr != nil {
		slog.Error("failed to record run", "step", r.Step, "error", saveErr)
	}
}
