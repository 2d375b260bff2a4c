package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"stash/internal/api"
	"stash/internal/config"
	"stash/internal/coord"
	"stash/internal/db"
	"stash/internal/ledger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Error("migrate failed", "err", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("parse redis url", "err", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	coordClient := coord.New(rdb, logger)

	svc := ledger.NewService(pool, ledger.Config{
		DefaultBalance:    cfg.DefaultBalance,
		MinBalance:        cfg.MinBalance,
		BankMaxFloor:      cfg.BankMaxFloor,
		BankMinIncrease:   cfg.BankMinIncrease,
		BankGrowthBps:     cfg.BankGrowthBps,
		BankPerLevelBonus: cfg.BankPerLevelBonus,
		NearDueWindow:     cfg.NearDueWindow,
		CacheTTL:          cfg.CacheTTL,
	}, logger)
	defer svc.Close()

	transfer := ledger.NewTransferPolicy(svc, coordClient, cfg.TransferMaxAmount, cfg.TransferMaxPerDay)
	server := api.New(logger, svc, transfer, coordClient, cfg.AdminToken)

	// A process-lifetime coordination lock, renewed from a background
	// tick. Losing it is logged, not fatal: the ledger's transactional
	// locking keeps concurrent instances correct.
	lockKey := "startup:stashd:" + cfg.Addr
	token, owned := coordClient.AcquireOwnedLock(ctx, lockKey, cfg.StartupLockTTL)
	if owned {
		go refreshLoop(ctx, logger, coordClient, lockKey, token, cfg.StartupLockTTL)
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			coordClient.ReleaseOwnedLock(releaseCtx, lockKey, token)
		}()
	} else {
		logger.Warn("startup lock not acquired, another instance may be running", "key", lockKey)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("stashd listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("serve failed", "err", err)
		os.Exit(1)
	}
	logger.Info("stashd shutdown")
}

func refreshLoop(ctx context.Context, logger *slog.Logger, c *coord.Client, key, token string, ttl time.Duration) {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.RefreshOwnedLock(ctx, key, token, ttl) {
				logger.Warn("startup lock refresh lost", "key", key)
			}
		}
	}
}
