// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/secrets/internal/auth"
	"github.com/holomush/secrets/internal/config"
	"github.com/holomush/secrets/internal/federation"
	"github.com/holomush/secrets/internal/logging"
	"github.com/holomush/secrets/internal/web"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	purgeInterval     = time.Hour
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the web server",
		Long: `Start the HTTP server for registration, login, logout, federated
sign-in and the secret note.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServeWithDeps(ctx, cfg, cmd, nil)
		},
	}
}

// runServeWithDeps runs the server until ctx is cancelled or a listener
// fails. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.SetDefault(logging.Options{
		Service: "secrets",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
		Writer:  cmd.ErrOrStderr(),
	})

	logger.Info("starting secrets server",
		"http_addr", cfg.HTTP.Addr,
		"store_driver", cfg.Store.Driver)

	b, err := openBackend(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}
	defer b.close()

	hasher, err := auth.NewArgon2idHasherWithParams(auth.Argon2Params{
		Time:    cfg.Password.Time,
		Memory:  cfg.Password.Memory,
		Threads: cfg.Password.Threads,
	})
	if err != nil {
		return err
	}

	providers, err := federation.NewRegistry(cfg.HTTP.BaseURL, cfg.Providers)
	if err != nil {
		return err
	}
	logger.Info("federated providers configured", "providers", providers.Names())

	g, ctx := errgroup.WithContext(ctx)

	authOpts := []auth.Option{auth.WithLogger(logger), auth.WithSessionTTL(cfg.Session.TTL)}
	webOpts := []web.Option{
		web.WithLogger(logger),
		web.WithProviders(providers),
		web.WithSecureCookies(cfg.HTTP.SecureCookies),
		web.WithTrustProxyHeaders(cfg.HTTP.TrustProxyHeaders),
	}

	if cfg.Metrics.Addr != "" {
		obs := deps.ObservabilityServerFactory(cfg.Metrics.Addr, b.ready)
		obsErrs, err := obs.Start()
		if err != nil {
			return err
		}
		logger.Info("observability server started", "addr", obs.Addr())
		authOpts = append(authOpts, auth.WithRecorder(obs.Metrics()))
		webOpts = append(webOpts, web.WithObserver(obs.Metrics()))

		g.Go(func() error {
			select {
			case err, ok := <-obsErrs:
				if ok && err != nil {
					return oops.Code("OBSERVABILITY_FAILED").Wrap(err)
				}
				return nil
			case <-ctx.Done():
				return nil
			}
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if stopErr := obs.Stop(shutdownCtx); stopErr != nil {
				logger.Warn("error stopping observability server", "error", stopErr)
			}
		}()
	}

	svc, err := auth.NewService(b.accounts, b.sessions, hasher, authOpts...)
	if err != nil {
		return err
	}
	srv, err := web.NewServer(svc, webOpts...)
	if err != nil {
		return err
	}

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	g.Go(func() error {
		logger.Info("web server listening", "addr", listener.Addr().String())
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return oops.Code("HTTP_SERVE_FAILED").Wrap(err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		purgeExpiredSessions(ctx, svc.Sessions(), purgeInterval, logger)
		return nil
	})

	cmd.Println("Secrets server started")

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// purgeExpiredSessions deletes expired sessions every interval until ctx ends.
func purgeExpiredSessions(ctx context.Context, sessions *auth.SessionManager, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("expired session purge failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("purged expired sessions", "count", n)
			}
		}
	}
}
