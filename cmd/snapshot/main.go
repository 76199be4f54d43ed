// Package main provides a one-shot CLI that values a fund and prints
// the snapshot as JSON. Useful for smoke-testing provider credentials
// without running the API server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/fund-tracker/internal/adapter"
	"github.com/fund-tracker/internal/circuitbreaker"
	"github.com/fund-tracker/internal/config"
	"github.com/fund-tracker/internal/logging"
	"github.com/fund-tracker/internal/service"
	"github.com/fund-tracker/internal/storage"
	"github.com/fund-tracker/internal/valuation"
)

func main() {
	var (
		fundID  = flag.String("fund", "", "Fund ID to value")
		timeout = flag.Duration("timeout", 2*time.Minute, "Overall timeout")
	)
	flag.Parse()

	if *fundID == "" {
		log.Fatal("usage: snapshot -fund <fund-id>")
	}

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

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	fundRepo := storage.NewFundRepository(postgres)
	walletRepo := storage.NewWalletRepository(postgres)
	tokenRepo := storage.NewTokenRepository(postgres)
	cacheService := storage.NewCacheService(redis, cfg.Cache)

	breakers := circuitbreaker.NewManager()
	covalent := adapter.NewCovalentClient(&cfg.Providers.Covalent,
		breakers.GetOrCreate("covalent", nil))
	coingecko := adapter.NewCoinGeckoClient(&cfg.Providers.CoinGecko,
		cfg.Valuation.QuoteCurrency, cfg.RateLimit.CoinGeckoPerMinute,
		breakers.GetOrCreate("coingecko", nil))

	// One-shot runs skip the budget guards; the operator invoking this
	// tool is spending their own credits deliberately.
	priceLookup := service.NewCachedPriceLookup(
		coingecko, cacheService, tokenRepo, nil, nil,
		cfg.Valuation.QuoteCurrency,
	)
	priceMap := valuation.NewPriceMapBuilder(priceLookup, cfg.Valuation.PriceConcurrency, logger)

	options := valuation.AggregateOptions{
		QuoteCurrency: cfg.Valuation.QuoteCurrency,
		DustThreshold: service.DustThresholdFromUSD(cfg.Valuation.DustThresholdUSD),
	}

	portfolio := service.NewPortfolioService(
		fundRepo, walletRepo, covalent, priceMap, cacheService,
		cfg.Valuation.WalletConcurrency, options,
	)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	snapshot, err := portfolio.GetSnapshot(ctx, *fundID)
	if err != nil {
		logger.WithError(err).Fatal("Snapshot failed")
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshot); err != nil {
		logger.WithError(err).Fatal("Failed to encode snapshot")
	}
}
