package app

import (
	"database/sql"
	"fmt"

	"surgiplan/internal/config"
	"surgiplan/internal/db"
	"surgiplan/internal/engine"
	"surgiplan/internal/migrate"
	"surgiplan/pkg/logger"
)

// Options tune how a workspace is opened. Zero values read surgiplan.yml
// from Workspace and fall back to built-in defaults.
type Options struct {
	Workspace  string
	ConfigPath string
	ActorID    string
	Config     *config.Config
}

// App is an opened workspace: config, logger, database and engine.
type App struct {
	Workspace string
	Config    *config.Config
	Log       *logger.Logger
	DB        *sql.DB
	Engine    engine.Engine
}

// ResolveConfig prefers an explicit path, then the workspace config file,
// then the defaults.
func ResolveConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		return config.FromFile(path)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// Open resolves config, builds the logger and, when storage is enabled,
// opens and migrates the workspace database.
func Open(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = ResolveConfig(opts.Workspace, opts.ConfigPath); err != nil {
			return nil, err
		}
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &App{Workspace: opts.Workspace, Config: cfg, Log: log}
	if cfg.Storage.Enabled {
		conn, err := db.Open(db.Config{Workspace: opts.Workspace})
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		n, err := migrate.Apply(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if n > 0 {
			log.Debug("applied migrations", logger.Int("count", n), logger.String("db", db.Path(opts.Workspace)))
		}
		a.DB = conn
	}
	eng, err := engine.New(a.DB, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	eng.Log = log.Named("engine")
	if opts.ActorID != "" {
		eng.ActorID = opts.ActorID
	}
	a.Engine = eng
	return a, nil
}

// Close releases the database and flushes the logger.
func (a *App) Close() error {
	if a.Log != nil {
		_ = a.Log.Sync()
	}
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
