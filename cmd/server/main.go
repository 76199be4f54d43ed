// Package main provides the API server entry point for the fund tracker.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fund-tracker/internal/adapter"
	"github.com/fund-tracker/internal/api"
	"github.com/fund-tracker/internal/circuitbreaker"
	"github.com/fund-tracker/internal/config"
	"github.com/fund-tracker/internal/logging"
	"github.com/fund-tracker/internal/ratelimit"
	"github.com/fund-tracker/internal/service"
	"github.com/fund-tracker/internal/storage"
	"github.com/fund-tracker/internal/valuation"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel := logging.ParseLevel(cfg.Logging.Level)
	logFormat := logging.ParseFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Database connections
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	// The archive is optional for serving: without it P&L falls back to
	// live transfer fetches.
	var archive *storage.TransferArchive
	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Warn("ClickHouse unavailable, P&L will use live history only")
	} else {
		defer clickhouse.Close()
		archive = storage.NewTransferArchive(clickhouse)
	}

	logger.Info("Database connections established")

	// Repositories and caches
	fundRepo := storage.NewFundRepository(postgres)
	walletRepo := storage.NewWalletRepository(postgres)
	tokenRepo := storage.NewTokenRepository(postgres)
	cacheService := storage.NewCacheService(redis, cfg.Cache)

	// Provider clients behind circuit breakers
	breakers := circuitbreaker.NewManager()
	covalent := adapter.NewCovalentClient(&cfg.Providers.Covalent,
		breakers.GetOrCreate("covalent", nil))
	etherscan := adapter.NewEtherscanClient(&cfg.Providers.Etherscan,
		breakers.GetOrCreate("etherscan", nil))
	coingecko := adapter.NewCoinGeckoClient(&cfg.Providers.CoinGecko,
		cfg.Valuation.QuoteCurrency, cfg.RateLimit.CoinGeckoPerMinute,
		breakers.GetOrCreate("coingecko", nil))

	// Provider credit budgets
	costs := ratelimit.NewCostRegistry(nil)

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

	// Deep lookups (token resolution, historical prices) draw from a
	// separate daily pool so P&L runs cannot starve serving.
	pnlTracker, err := ratelimit.NewBudgetTracker(&ratelimit.BudgetTrackerConfig{
		Redis:       redis.Client(),
		Provider:    "coingecko-history",
		TotalBudget: cfg.RateLimit.PnLDailyBudget,
		WindowSize:  24 * time.Hour,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create P&L budget tracker")
	}

	covalentGuard, err := ratelimit.NewGuard(&ratelimit.GuardConfig{
		Tracker:  covalentTracker,
		Registry: costs,
		Priority: ratelimit.PriorityServing,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Covalent guard")
	}

	servingGuard, err := ratelimit.NewGuard(&ratelimit.GuardConfig{
		Tracker:  coingeckoTracker,
		Registry: costs,
		Priority: ratelimit.PriorityServing,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create serving guard")
	}

	deepGuard, err := ratelimit.NewGuard(&ratelimit.GuardConfig{
		Tracker:  pnlTracker,
		Registry: costs,
		Priority: ratelimit.PriorityDeep,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create deep guard")
	}

	// Valuation stack
	priceLookup := service.NewCachedPriceLookup(
		coingecko, cacheService, tokenRepo,
		servingGuard, deepGuard,
		cfg.Valuation.QuoteCurrency,
	)
	priceMap := valuation.NewPriceMapBuilder(priceLookup, cfg.Valuation.PriceConcurrency, logger)

	fetch := adapter.NewFetchClient(covalent, etherscan)
	balances := service.NewBudgetedBalanceFetcher(fetch, covalentGuard)

	options := valuation.AggregateOptions{
		QuoteCurrency: cfg.Valuation.QuoteCurrency,
		DustThreshold: service.DustThresholdFromUSD(cfg.Valuation.DustThresholdUSD),
	}

	// Services
	registryService := service.NewRegistryService(fundRepo, walletRepo, cacheService)
	portfolioService := service.NewPortfolioService(
		fundRepo, walletRepo, balances, priceMap, cacheService,
		cfg.Valuation.WalletConcurrency, options,
	)
	activityService := service.NewActivityService(
		fundRepo, walletRepo, fetch, activityArchiveOrNil(archive), priceMap, registryService,
		cfg.Valuation.WalletConcurrency, cfg.Valuation.ActivityLimit,
	)
	estimator := valuation.NewPnLEstimator(valuation.HistoricalPriceLookupFunc(priceLookup.HistoricalPrice), logger)
	pnlService := service.NewPnLService(
		portfolioService, archiveOrNil(archive), fetch, estimator,
		cfg.Valuation.QuoteCurrency, cfg.Valuation.PnLTimeout,
	)
	leaderboardService := service.NewLeaderboardService(fundRepo, walletRepo, cacheService)

	logger.Info("Services initialized")

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    2 * time.Minute, // P&L runs can be slow
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		ClientRPS:       cfg.RateLimit.ClientRPS,
		ClientBurst:     cfg.RateLimit.ClientBurst,
	}

	server := api.NewServer(serverConfig,
		registryService, portfolioService, activityService, pnlService, leaderboardService)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// archiveOrNil keeps the TransferHistory interface nil when ClickHouse
// is down, so the P&L service takes its live fallback path.
func archiveOrNil(archive *storage.TransferArchive) service.TransferHistory {
	if archive == nil {
		return nil
	}
	return archive
}

// activityArchiveOrNil keeps the ActivityArchive interface nil when
// ClickHouse is down, which disables the stale-feed fallback.
func activityArchiveOrNil(archive *storage.TransferArchive) service.ActivityArchive {
	if archive == nil {
		return nil
	}
	return archive
}
