// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatelock/gatelock/internal/account/postgres"
	"github.com/gatelock/gatelock/internal/cache"
	"github.com/gatelock/gatelock/internal/config"
	"github.com/gatelock/gatelock/internal/credential"
	"github.com/gatelock/gatelock/internal/frontend"
	"github.com/gatelock/gatelock/internal/logging"
	"github.com/gatelock/gatelock/internal/observability"
	"github.com/gatelock/gatelock/internal/premium"
	"github.com/gatelock/gatelock/internal/session"
	"github.com/gatelock/gatelock/internal/store"
	"github.com/gatelock/gatelock/internal/totp"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication service",
		Long: `Start the authentication service: the line-protocol frontend for proxy
integrations and the observability endpoints.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(resolveConfigFile(), cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("gatelock", version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := postgres.NewAccountRepository(pool)

	sweep := time.Minute
	sessions := cache.NewSessionCache(cfg.Cache.SessionTTL, sweep)
	bruteforce := cache.NewBruteforceCache(cfg.Cache.BruteforceTTL, sweep, cfg.Auth.BruteforceMaxAttempts)
	pending := cache.NewPendingCache(cfg.Cache.PendingTTL, sweep)
	premiumCache := cache.NewPremiumCache(cfg.Cache.PremiumTTL, sweep)
	defer func() {
		sessions.Close()
		bruteforce.Close()
		pending.Close()
		premiumCache.Close()
	}()

	unsafe, err := config.LoadUnsafePasswords(cfg.Auth.UnsafePasswordsFile)
	if err != nil {
		return err
	}

	hasher := credential.NewBcryptHasher(cfg.Auth.BcryptCost)
	verifier, err := credential.NewVerifier(hasher, credential.NewLegacyRegistry(), cfg.Auth.MigrationHash, repo, logger)
	if err != nil {
		return err
	}

	obs := observability.NewServer(cfg.Observability.Addr, func() bool {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(pingCtx) == nil
	})
	metrics := obs.Metrics()

	resolver := premium.NewResolver(cfg.PremiumConfig(), repo, premiumCache, nil, logger, metrics)

	svc := session.NewService(cfg.SessionConfig(unsafe), session.Deps{
		Repo:       repo,
		Verifier:   verifier,
		Hasher:     hasher,
		Resolver:   resolver,
		TOTP:       totp.NewManager(cfg.Auth.TOTPIssuer, cfg.Auth.TOTPRecoveryCodes),
		Sessions:   sessions,
		Bruteforce: bruteforce,
		Pending:    pending,
		Premium:    premiumCache,
		Recorder:   metrics,
		Logger:     logger,
	})
	obs.TrackSessions(svc.Registry().Len)

	obsErrCh, err := obs.Start()
	if err != nil {
		return err
	}

	front := frontend.NewServer(cfg.Frontend.Addr, svc, logger)
	frontErrCh := make(chan error, 1)
	go func() { frontErrCh <- front.Run(ctx) }()

	logger.Info("gatelock serving",
		"frontend", cfg.Frontend.Addr,
		"observability", cfg.Observability.Addr)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-obsErrCh:
	case err = <-frontErrCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if stopErr := obs.Stop(shutdownCtx); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}
