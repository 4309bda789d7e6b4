package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sa32552/regtech-engine/config"
	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/data"
	"github.com/sa32552/regtech-engine/internal/data/memstore"
	"github.com/sa32552/regtech-engine/internal/data/sqlitestore"
)

// Storage is the selected persistence backend.
type Storage struct {
	Driver config.StoreDriver
	Jobs   core.JobStore
	Rules  core.RuleRepository
	// DB is the Postgres handle when Driver is postgres, otherwise nil.
	DB *sql.DB

	closers []func() error
}

// Ping verifies the backend is reachable. In-memory and SQLite stores are always up.
func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.PingContext(ctx)
}

// Close releases every handle the backend opened.
func (s *Storage) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenStorage connects the backend named by cfg.Store.Driver. Postgres runs migrations when
// configured and always seeds the built-in rule catalog.
func OpenStorage(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*Storage, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		store := memstore.New(memstore.Options{})
		logger.WarnContext(ctx, "using in-memory job store; state is lost on exit")
		return &Storage{Driver: cfg.Store.Driver, Jobs: store, Rules: store}, nil

	case config.StoreDriverSQLite:
		store, err := sqlitestore.Open(ctx, cfg.Store.SQLitePath, sqlitestore.Options{Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.InfoContext(ctx, "sqlite store opened", "path", cfg.Store.SQLitePath)
		return &Storage{
			Driver:  cfg.Store.Driver,
			Jobs:    store,
			Rules:   store,
			closers: []func() error{store.Close},
		}, nil

	default:
		return openPostgres(ctx, cfg, logger)
	}
}

func openPostgres(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*Storage, error) {
	db, err := ConnectDB(DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	st := &Storage{Driver: config.StoreDriverPostgres, DB: db, closers: []func() error{db.Close}}

	if cfg.Postgres.RunMigrationsOnStart {
		if err := RunMigrations(ctx, db, logger); err != nil {
			return nil, errors.Join(err, st.Close())
		}
	} else {
		logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
	}

	rules := data.NewRuleRepo(db, logger)
	if err := rules.SeedDefaults(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("seed rules: %w", err), st.Close())
	}
	st.Jobs = data.NewJobRepo(db, data.RepoConfig{Logger: logger})
	st.Rules = rules
	return st, nil
}
