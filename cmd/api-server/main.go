package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sashanth17/medicare-scheduling/internal/allocator"
	"github.com/sashanth17/medicare-scheduling/internal/api"
	"github.com/sashanth17/medicare-scheduling/internal/appointment"
	"github.com/sashanth17/medicare-scheduling/internal/config"
	"github.com/sashanth17/medicare-scheduling/internal/db"
	"github.com/sashanth17/medicare-scheduling/internal/directory"
	"github.com/sashanth17/medicare-scheduling/internal/lock"
	"github.com/sashanth17/medicare-scheduling/internal/logging"
	"github.com/sashanth17/medicare-scheduling/internal/metrics"
	redisclient "github.com/sashanth17/medicare-scheduling/internal/redis"
	"github.com/sashanth17/medicare-scheduling/internal/signaling"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "api-server",
		Short: "Clinic appointment scheduling API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Env, cfg.LogLevel)

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.NewMigrator(pool).Up(ctx)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				logger.Info().Msg("schema is up to date")
				return nil
			}
			for _, name := range applied {
				logger.Info().Str("migration", name).Msg("applied")
			}
			return nil
		},
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("lock_backend", cfg.LockBackend).
		Str("mailbox_backend", cfg.MailboxBackend).
		Str("clinic_tz", cfg.ClinicLocation.String()).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Error().Err(err).Msg("postgres connection error")
		return err
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	// Connect Redis when a backend needs it
	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb, err = redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			logger.Error().Err(err).Msg("redis connection error")
			return err
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	}

	var (
		m           *metrics.Metrics
		metricsHTTP http.Handler
		observer    api.HTTPObserver
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg, "medicare")
		metricsHTTP = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		observer = m
	}

	var locker lock.Locker
	switch cfg.LockBackend {
	case config.LockBackendLocal:
		locker = lock.NewLocalLocker(cfg.LockWait)
	default:
		locker = redisclient.NewRedisKeyLocker(rdb, cfg.LockTTL, cfg.LockWait)
	}

	var mailbox signaling.Mailbox
	switch cfg.MailboxBackend {
	case config.MailboxBackendMemory:
		mailbox = signaling.NewMemoryMailbox(cfg.MailboxAnswerTTL)
	default:
		mailbox = redisclient.NewRedisMailbox(rdb, cfg.MailboxAnswerTTL)
	}

	alloc := allocator.New(locker, allocator.NewPgCounterStore(pgPool, cfg.LockWait), m, logger)
	users := directory.NewPgUsers(pgPool)
	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		alloc,
		directory.NewPgDoctors(pgPool),
		users,
		appointment.WithLocation(cfg.ClinicLocation),
		appointment.WithRecorder(m),
		appointment.WithLogger(logger),
	)

	router := api.NewRouter(api.RouterConfig{
		Service:        svc,
		Mailbox:        mailbox,
		Users:          users,
		Postgres:       pgPool,
		Redis:          rdb,
		Metrics:        observer,
		MetricsHandler: metricsHTTP,
		Logger:         logger,
		Env:            cfg.Env,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
			return err
		}
	case <-rootCtx.Done():
	}

	return shutdown(srv, cfg.ShutdownTimeout, logger)
}

func shutdown(srv *http.Server, timeout time.Duration, logger zerolog.Logger) error {
	logger.Info().Msg("shutting down api-server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
