package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/medibook/clinic-booking/internal/booking"
	"github.com/medibook/clinic-booking/internal/config"
	"github.com/medibook/clinic-booking/internal/db"
	"github.com/medibook/clinic-booking/internal/logging"
	"github.com/medibook/clinic-booking/internal/metrics"
	redisclient "github.com/medibook/clinic-booking/internal/redis"
)

const runTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("info", "prod")
		fallback.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "reconcile-worker").Logger()
	if !cfg.UsePostgres() {
		logger.Fatal().Msg("reconcile worker needs STORE_DRIVER=postgres")
	}

	logger.Info().
		Str("env", cfg.Env).
		Str("schedule", cfg.ReconcileSchedule).
		Bool("repair", cfg.ReconcileRepair).
		Msg("reconcile worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
		MaxConns:        int32(cfg.PGMaxConns),
		MinConns:        int32(cfg.PGMinConns),
		MaxConnIdleTime: cfg.PGMaxConnIdle,
	})
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	// repairs must take the same slot locks as the api servers
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Msg("connected to Redis")
	} else if cfg.ReconcileRepair {
		logger.Warn().Msg("repairing without Redis; locks do not cover other processes")
	}

	coord := booking.NewCoordinator(
		booking.NewPgStore(pgPool),
		redisclient.NewLocker(rdb, cfg.LockTTL),
		metrics.NewBookingMetrics(prometheus.NewRegistry()),
		logger,
	)

	// Run once at startup
	runOnce(rootCtx, logger, coord, cfg.ReconcileRepair)

	c := cron.New()
	if _, err := c.AddFunc(cfg.ReconcileSchedule, func() {
		runOnce(rootCtx, logger, coord, cfg.ReconcileRepair)
	}); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.ReconcileSchedule).Msg("invalid RECONCILE_SCHEDULE")
	}
	c.Start()

	<-rootCtx.Done()
	logger.Info().Msg("shutdown signal received, stopping reconcile worker")
	<-c.Stop().Done()
}

func runOnce(ctx context.Context, logger zerolog.Logger, coord *booking.Coordinator, repair bool) {
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	start := time.Now()
	report, err := coord.Reconcile(runCtx, repair)
	if err != nil {
		logger.Error().Err(err).Msg("reconcile run error")
		return
	}
	logger.Info().
		Int("drifted", len(report.Drift)).
		Int("repaired", report.Repaired).
		Int("skipped", report.Skipped).
		Dur("took", time.Since(start)).
		Msg("reconcile run complete")
}
