// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/secrets/internal/auth"
	"github.com/holomush/secrets/internal/config"
)

// NewSessionsCmd creates the sessions subcommand.
func NewSessionsCmd() *cobra.Command {
	return newSessionsCmd(nil)
}

func newSessionsCmd(deps *ServeDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Maintain stored sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete expired sessions",
		Long: `Delete sessions whose expiry has passed. Expired sessions are
already rejected on use; purging only reclaims storage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			n, err := purgeSessions(cmd.Context(), cfg, deps.withDefaults())
			if err != nil {
				return err
			}
			cmd.Printf("Purged %d expired session(s)\n", n)
			return nil
		},
	})

	return cmd
}

func purgeSessions(ctx context.Context, cfg *config.Config, deps *ServeDeps) (int64, error) {
	logger := slog.Default()
	b, err := openBackend(ctx, cfg, deps, logger)
	if err != nil {
		return 0, err
	}
	defer b.close()

	manager, err := auth.NewSessionManager(b.accounts, b.sessions, auth.WithLogger(logger))
	if err != nil {
		return 0, err
	}
	return manager.PurgeExpired(ctx)
}
