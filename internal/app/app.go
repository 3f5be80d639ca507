package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/engine"
	"caseline/internal/logging"
	"caseline/internal/metrics"
	"caseline/internal/migrate"
	"caseline/internal/notify"
)

// Options control how a workspace is opened.
type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/caseline.yml.
	ConfigPath string
	LogLevel   string
	LogPretty  bool
	LogWriter  io.Writer
	// Logger, when set, replaces the one built from the Log* fields.
	Logger *zerolog.Logger
}

// App is an opened workspace: migrated database, loaded config and an engine
// wired to the configured notification sinks.
type App struct {
	DB       *sql.DB
	Config   *config.Config
	Engine   engine.Engine
	Log      zerolog.Logger
	Registry *prometheus.Registry

	queue *notify.Queue
	sinks io.Closer
}

// ResidentsPath is the optional resident directory used for verification.
func ResidentsPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "residents.yml")
}

// Open prepares the workspace, applies pending migrations and builds the engine.
func Open(ctx context.Context, opts Options) (*App, error) {
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return nil, err
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	log := logging.New(opts.LogWriter, opts.LogLevel, opts.LogPretty)
	if opts.Logger != nil {
		log = *opts.Logger
	}
	residents, err := engine.LoadResidentDirectory(ResidentsPath(opts.Workspace))
	if err != nil {
		return nil, err
	}

	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if applied > 0 {
		log.Info().Int("applied", applied).Str("path", db.Path(opts.Workspace)).Msg("database migrated")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	fanout, sinks, err := notify.FromConfig(cfg.Notifications, log, m)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notification sinks: %w", err)
	}

	e := engine.New(conn, cfg)
	e.Log = log
	e.Metrics = m
	queue := notify.NewQueue(fanout, 0, log, m)
	e.Notifier = queue
	e.Residents = residents
	return &App{
		DB:       conn,
		Config:   cfg,
		Engine:   e,
		Log:      log,
		Registry: reg,
		queue:    queue,
		sinks:    sinks,
	}, nil
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	return config.LoadOptional(opts.Workspace)
}

// Close drains pending notifications, then releases broker clients and the database.
func (a *App) Close() error {
	var errs []error
	if a.queue != nil {
		errs = append(errs, a.queue.Close())
	}
	if a.sinks != nil {
		errs = append(errs, a.sinks.Close())
	}
	errs = append(errs, a.DB.Close())
	return errors.Join(errs...)
}
