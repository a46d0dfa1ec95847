package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"adjudicator/internal/config"
	"adjudicator/internal/db"
	"adjudicator/internal/engine"
	"adjudicator/internal/migrate"
)

// Options locate the workspace state and the profiles file.
type Options struct {
	Workspace string
	// DBPath overrides the workspace database location.
	DBPath string
	// ProfilesPath names an explicit profiles file that must exist. When empty the
	// workspace profiles.yml is used if present, else the built-in defaults.
	ProfilesPath string
	Logger       *slog.Logger
}

// LoadProfiles resolves the profile table for a workspace.
func LoadProfiles(workspace, explicit string) (*config.Config, error) {
	if explicit != "" {
		return config.Load(explicit)
	}
	return config.LoadOptional(config.Path(workspace))
}

// Evaluator returns an engine without a store, enough for gate runs that do not persist.
func Evaluator(opts Options) (engine.Engine, error) {
	cfg, err := LoadProfiles(opts.Workspace, opts.ProfilesPath)
	if err != nil {
		return engine.Engine{}, fmt.Errorf("%w: %v", engine.ErrInput, err)
	}
	return engine.New(nil, cfg, opts.Logger), nil
}

// Open prepares the workspace state directory, opens and migrates the store, loads
// the profiles and returns a ready engine. The returned close func releases the store.
func Open(ctx context.Context, opts Options) (engine.Engine, func() error, error) {
	cfg, err := LoadProfiles(opts.Workspace, opts.ProfilesPath)
	if err != nil {
		return engine.Engine{}, nil, fmt.Errorf("%w: %v", engine.ErrInput, err)
	}
	conn, err := openStore(ctx, opts)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	e := engine.New(conn, cfg, opts.Logger)
	if opts.Logger != nil {
		opts.Logger.Debug("workspace opened", "workspace", opts.Workspace, "db", storePath(opts))
	}
	return e, conn.Close, nil
}

func openStore(ctx context.Context, opts Options) (*sql.DB, error) {
	if opts.DBPath == "" {
		if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
			return nil, err
		}
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Path: opts.DBPath})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

func storePath(opts Options) string {
	if opts.DBPath != "" {
		return opts.DBPath
	}
	return db.Path(opts.Workspace)
}
