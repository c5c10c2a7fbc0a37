package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/alecgard/riff/internal/api"
	"github.com/alecgard/riff/internal/auth"
	"github.com/alecgard/riff/internal/config"
	"github.com/alecgard/riff/internal/docstore"
	"github.com/alecgard/riff/internal/metrics"
	"github.com/alecgard/riff/internal/ratelimit"
	"github.com/alecgard/riff/internal/user"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Riff backend server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	slog.Info("connected to database")

	docs, err := docstore.Open(ctx, cfg.Redis.URL, cfg.Redis.Prefix)
	if err != nil {
		return err
	}
	defer docs.Close()
	slog.Info("connected to redis", "prefix", cfg.Redis.Prefix)

	m := metrics.New()
	m.RegisterPool(func() metrics.PoolStats {
		s := pool.Stat()
		return metrics.PoolStats{
			MaxConns:          s.MaxConns(),
			IdleConns:         s.IdleConns(),
			AcquiredConns:     s.AcquiredConns(),
			ConstructingConns: s.ConstructingConns(),
			Acquires:          s.AcquireCount(),
			EmptyAcquires:     s.EmptyAcquireCount(),
			CanceledAcquires:  s.CanceledAcquireCount(),
			AcquireTime:       s.AcquireDuration(),
		}
	})

	userStore := user.NewStore(pool)

	collector := docstore.NewCollector(docs, m, cfg.Activity.BatchSize, cfg.Activity.FlushInterval)
	go collector.Start(ctx)

	limiter := ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	go limiter.Run(ctx, sweepInterval)

	deps := api.RouterDeps{
		Users:          userStore,
		Docs:           docs,
		Collector:      collector,
		AuthMode:       cfg.Auth.Mode,
		Limiter:        limiter,
		Metrics:        m,
		DB:             pool,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}
	switch cfg.Auth.Mode {
	case config.AuthModePassword:
		issuer, err := auth.NewJWTIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry)
		if err != nil {
			return err
		}
		deps.Verifier = issuer
		deps.Issuer = issuer
	default:
		verifier, err := auth.NewOIDCVerifier(ctx, cfg.Auth.OIDC.Issuer, cfg.Auth.OIDC.Audience)
		if err != nil {
			return fmt.Errorf("setting up token verification: %w", err)
		}
		deps.Verifier = verifier
	}
	slog.Info("bearer authentication configured", "mode", cfg.Auth.Mode)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-sigCh:
		slog.Info("shutting down")
	case err := <-errCh:
		slog.Error("server error", "error", err)
		collector.Stop()
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	err = srv.Shutdown(shutdownCtx)
	collector.Stop()
	return err
}
