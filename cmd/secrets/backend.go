// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/secrets/internal/auth"
	"github.com/holomush/secrets/internal/auth/memory"
	"github.com/holomush/secrets/internal/auth/postgres"
	"github.com/holomush/secrets/internal/config"
	"github.com/holomush/secrets/internal/observability"
	"github.com/holomush/secrets/internal/store"
)

// backend is the selected repository implementation.
type backend struct {
	accounts auth.AccountRepository
	sessions auth.SessionRepository
	ready    observability.ReadinessChecker
	close    func()
}

func openBackend(ctx context.Context, cfg *config.Config, deps *ServeDeps, logger *slog.Logger) (*backend, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory store, data is lost on exit")
		s := memory.NewStore()
		return &backend{
			accounts: s.Accounts(),
			sessions: s.Sessions(),
			ready:    func(context.Context) error { return nil },
			close:    func() {},
		}, nil
	case config.DriverPostgres:
		opts := store.DefaultConnectOptions()
		opts.Retries = cfg.Database.ConnectRetries
		opts.Logger = logger
		pool, err := deps.PoolFactory(ctx, cfg.Database.URL, opts)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to database")

		if cfg.Store.AutoMigrate {
			if err := autoMigrate(cfg.Database.URL, deps, logger); err != nil {
				pool.Close()
				return nil, err
			}
		}

		return &backend{
			accounts: postgres.NewAccountRepository(pool),
			sessions: postgres.NewSessionRepository(pool),
			ready:    pool.Ping,
			close:    pool.Close,
		}, nil
	default:
		return nil, oops.Code("CONFIG_INVALID").With("driver", cfg.Store.Driver).Errorf("unknown store driver")
	}
}

func autoMigrate(databaseURL string, deps *ServeDeps, logger *slog.Logger) error {
	migrator, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	logger.Info("applying database migrations")
	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	return nil
}
