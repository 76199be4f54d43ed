// Package main provides the background worker entry point. The worker
// syncs the Dune watchlist into the registry and keeps the transfer
// archive topped up.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fund-tracker/internal/adapter"
	"github.com/fund-tracker/internal/circuitbreaker"
	"github.com/fund-tracker/internal/config"
	"github.com/fund-tracker/internal/logging"
	"github.com/fund-tracker/internal/ratelimit"
	"github.com/fund-tracker/internal/storage"
	"github.com/fund-tracker/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLevel(cfg.Logging.Level),
		logging.ParseFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	archive := storage.NewTransferArchive(clickhouse)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := archive.EnsureSchema(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to ensure archive schema")
	}

	fundRepo := storage.NewFundRepository(postgres)
	walletRepo := storage.NewWalletRepository(postgres)
	cacheService := storage.NewCacheService(redis, cfg.Cache)

	breakers := circuitbreaker.NewManager()
	dune := adapter.NewDuneClient(&cfg.Providers.Dune,
		breakers.GetOrCreate("dune", nil))
	etherscan := adapter.NewEtherscanClient(&cfg.Providers.Etherscan,
		breakers.GetOrCreate("etherscan", nil))

	// Archive top-ups share the serving budgets; when either provider
	// is close to its limit the worker backs off for the cycle.
	covalentTracker, err := ratelimit.NewBudgetTracker(&ratelimit.BudgetTrackerConfig{
		Redis:          redis.Client(),
		Provider:       "covalent",
		TotalBudget:    cfg.RateLimit.CovalentDailyCredits,
		ReservedBudget: cfg.RateLimit.CovalentDailyCredits * 8 / 10,
		WindowSize:     24 * time.Hour,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Covalent budget tracker")
	}

	coingeckoTracker, err := ratelimit.NewBudgetTracker(&ratelimit.BudgetTrackerConfig{
		Redis:          redis.Client(),
		Provider:       "coingecko",
		TotalBudget:    cfg.RateLimit.CoinGeckoPerMinute,
		ReservedBudget: cfg.RateLimit.CoinGeckoPerMinute / 2,
		WindowSize:     time.Minute,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create CoinGecko budget tracker")
	}

	syncWorker, err := worker.NewSyncWorker(&worker.SyncWorkerConfig{
		Watchlist:       dune,
		Transfers:       etherscan,
		Funds:           fundRepo,
		Wallets:         walletRepo,
		Archive:         archive,
		Cache:           cacheService,
		Budgets:         []*ratelimit.BudgetTracker{covalentTracker, coingeckoTracker},
		RefreshInterval: cfg.Worker.RefreshInterval,
		ArchivePageSize: cfg.Worker.ArchivePageSize,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create sync worker")
	}

	if err := syncWorker.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start sync worker")
	}

	logger.WithField("interval", cfg.Worker.RefreshInterval.String()).Info("Worker running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := syncWorker.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("Worker stop failed")
	}

	logger.Info("Worker exited")
}
