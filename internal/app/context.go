package app

import (
	"context"
	"database/sql"
	"fmt"

	"videointerview/internal/config"
	"videointerview/internal/db"
	"videointerview/internal/engine"
	"videointerview/internal/logger"
	"videointerview/internal/migrate"
)

// Workspace is an opened interview workspace: migrated database, loaded
// config and an engine over both.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
	Engine *engine.Engine
	// Seeded is true when no interview.yml was found and defaults are used.
	Seeded bool
}

// ResolveConfig loads the config at configPath, or interview.yml in
// workspace when configPath is empty. A missing workspace file falls back
// to the default interview; a missing explicit path is an error.
func ResolveConfig(workspace, configPath string) (*config.Config, bool, error) {
	if configPath != "" {
		cfg, err := config.FromFile(configPath)
		if err != nil {
			return nil, false, fmt.Errorf("load config %s: %w", configPath, err)
		}
		return cfg, false, nil
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, false, err
	}
	if cfg == nil {
		return config.Default(), true, nil
	}
	return cfg, false, nil
}

// Open prepares the workspace for use. Callers must Close it.
func Open(ctx context.Context, workspace, configPath string) (*Workspace, error) {
	cfg, seeded, err := ResolveConfig(workspace, configPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if seeded {
		logger.Named("app").Warn().Str("workspace", workspace).Msg("no interview.yml found, using the default interview")
	}
	return &Workspace{
		Dir:    workspace,
		DB:     conn,
		Config: cfg,
		Engine: engine.New(conn, cfg, cfg.ArtifactsDir(workspace)),
		Seeded: seeded,
	}, nil
}

// Close abandons live interviews and closes the database.
func (w *Workspace) Close(ctx context.Context) error {
	if w.Engine != nil {
		w.Engine.Shutdown(ctx)
	}
	return w.DB.Close()
}
