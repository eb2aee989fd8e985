package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sango-pay/sango_pay/internal/config"
	"github.com/sango-pay/sango_pay/internal/infra"
	"github.com/sango-pay/sango_pay/internal/ledger"
	"github.com/sango-pay/sango_pay/internal/lock"
	"github.com/sango-pay/sango_pay/internal/logging"
	"github.com/sango-pay/sango_pay/internal/reaper"
	"github.com/sango-pay/sango_pay/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory ledger store")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	} else {
		logger.Warn("REDIS_URL not set, using in-process balance locks")
	}

	var store ledger.Store
	if db != nil {
		store = ledger.NewPostgres(db)
	} else {
		store = ledger.NewInMemory()
	}

	var locker lock.Locker
	if cache != nil {
		locker = lock.NewRedis(cache, cfg.LockTimeout, cfg.LockLease, logger)
	} else {
		locker = lock.NewMemory(cfg.LockTimeout)
	}

	srv, err := server.New(cfg, db, cache, store, locker, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	sweeper := reaper.New(store, locker, logger, cfg.ReaperInterval, cfg.ReaperCutoff)
	go sweeper.Run(reaperCtx)

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	stopReaper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
