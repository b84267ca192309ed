package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medibook/clinic-booking/internal/api"
	"github.com/medibook/clinic-booking/internal/auth"
	"github.com/medibook/clinic-booking/internal/booking"
	"github.com/medibook/clinic-booking/internal/config"
	"github.com/medibook/clinic-booking/internal/db"
	"github.com/medibook/clinic-booking/internal/directory"
	"github.com/medibook/clinic-booking/internal/logging"
	"github.com/medibook/clinic-booking/internal/metrics"
	redisclient "github.com/medibook/clinic-booking/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("info", "prod")
		fallback.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "api-server").Logger()
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreDriver).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var (
		pgPool  *pgxpool.Pool
		store   booking.Store
		dirRepo directory.Repository
		demo    *directory.Demo
	)

	if cfg.UsePostgres() {
		if cfg.MigrateOnStart {
			if err := db.MigrateUp(cfg.PostgresDSN); err != nil {
				logger.Fatal().Err(err).Msg("migration error")
			}
			logger.Info().Msg("migrations applied")
		}

		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
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

		store = booking.NewPgStore(pgPool)
		dirRepo = directory.NewPgRepository(pgPool)
	} else {
		memDir := directory.NewMemoryRepository()
		demo, err = directory.SeedDemo(rootCtx, memDir)
		if err != nil {
			logger.Fatal().Err(err).Msg("seed demo directory")
		}
		store = booking.NewMemoryStore()
		dirRepo = memDir
		logger.Warn().Msg("using in-memory store; data is lost on exit")
	}

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
	} else {
		logger.Info().Msg("REDIS_ADDR not set, slot locks are process-local")
	}

	locker := redisclient.NewLocker(rdb, cfg.LockTTL)
	coord := booking.NewCoordinator(store, locker, metrics.NewBookingMetrics(reg), logger)
	dir := directory.NewService(dirRepo, coord)
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.SessionTTL)

	if demo != nil {
		logDemoTokens(logger, issuer, demo)
	}

	handler := api.NewRouter(api.RouterConfig{
		Booking:   coord,
		Directory: dir,
		Tokens:    issuer,
		Logger:    logger,
		Metrics:   metrics.NewHTTPMetrics(reg),
		Gatherer:  reg,
		PgPool:    pgPool,
		Redis:     rdb,
		Env:       cfg.Env,
		Version:   version,
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return rootCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		if err != nil {
			// deferred closes still run
			logger.Error().Err(err).Msg("http server error, shutting down")
			return
		}
	}

	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// logDemoTokens prints a bearer token per seeded account so the in-memory
// server can be driven with curl.
func logDemoTokens(logger zerolog.Logger, issuer *auth.Issuer, demo *directory.Demo) {
	for _, a := range demo.Accounts {
		token, err := issuer.Issue(auth.Principal{UserID: a.UserID, Role: auth.Role(a.Role), Verified: a.Verified})
		if err != nil {
			logger.Error().Err(err).Str("email", a.Email).Msg("issue demo token")
			continue
		}
		logger.Info().
			Str("email", a.Email).
			Str("role", a.Role).
			Int64("profile_id", a.ProfileID).
			Str("token", token).
			Msg("demo account")
	}
}
