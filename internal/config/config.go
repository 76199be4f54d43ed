// Package config provides configuration management for the fund tracker
// application. It loads configuration from environment variables and
// .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Providers ProvidersConfig
	Valuation ValuationConfig
	Cache     CacheConfig
	Worker    WorkerConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ProvidersConfig holds credentials and endpoints for the market data
// providers the tracker depends on.
type ProvidersConfig struct {
	Dune      DuneConfig
	Covalent  CovalentConfig
	Etherscan EtherscanConfig
	CoinGecko CoinGeckoConfig
}

// DuneConfig holds Dune Analytics configuration. The query referenced by
// QueryID returns the curated VC wallet watchlist.
type DuneConfig struct {
	APIKey  string
	BaseURL string
	QueryID int
}

// CovalentConfig holds Covalent (GoldRush) configuration
type CovalentConfig struct {
	APIKey  string
	BaseURL string
	Chain   string // e.g. "eth-mainnet"
}

// EtherscanConfig holds Etherscan API configuration
type EtherscanConfig struct {
	APIKey  string
	BaseURL string
	ChainID int
}

// CoinGeckoConfig holds CoinGecko configuration
type CoinGeckoConfig struct {
	APIKey  string
	BaseURL string
	// Platform is the CoinGecko asset platform used for contract
	// address resolution, e.g. "ethereum".
	Platform string
}

// ValuationConfig tunes the analysis pass
type ValuationConfig struct {
	QuoteCurrency     string  // Currency all prices and totals are quoted in
	DustThresholdUSD  float64 // Positions valued below this are dropped from breakdowns
	WalletConcurrency int     // Parallel wallet fetches per pass
	PriceConcurrency  int     // Parallel price lookups inside the price map builder
	ActivityLimit     int     // Max transfer events returned per activity feed
	PnLTimeout        time.Duration
}

// CacheConfig holds TTLs for the lookup caches
type CacheConfig struct {
	PriceTTL           time.Duration // Current token prices
	WatchlistTTL       time.Duration // Dune watchlist result
	TokenIDTTL         time.Duration // Contract address to CoinGecko id resolution
	HistoricalPriceTTL time.Duration // Historical prices used by P&L
	SnapshotTTL        time.Duration // Leaderboard reuse of fund totals
}

// WorkerConfig holds refresh worker configuration
type WorkerConfig struct {
	RefreshInterval time.Duration // Registry sync and archive top-up cadence
	ArchivePageSize int           // Transfers pulled per wallet per archive pass
}

// RateLimitConfig holds inbound client limits and outbound provider
// budgets.
type RateLimitConfig struct {
	ClientRPS   float64 // Sustained requests per second per client
	ClientBurst int

	CovalentDailyCredits int // Daily Covalent credit budget
	CoinGeckoPerMinute   int // CoinGecko calls per minute
	PnLDailyBudget       int // Historical lookups reserved for P&L per day
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "fund_tracker"),
				User:           getEnv("POSTGRES_USER", "tracker"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "fund_tracker"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Providers: ProvidersConfig{
			Dune: DuneConfig{
				APIKey:  getEnv("DUNE_API_KEY", ""),
				BaseURL: getEnv("DUNE_BASE_URL", "https://api.dune.com/api/v1"),
				QueryID: getEnvAsInt("DUNE_WATCHLIST_QUERY_ID", 0),
			},
			Covalent: CovalentConfig{
				APIKey:  getEnv("COVALENT_API_KEY", ""),
				BaseURL: getEnv("COVALENT_BASE_URL", "https://api.covalenthq.com/v1"),
				Chain:   getEnv("COVALENT_CHAIN", "eth-mainnet"),
			},
			Etherscan: EtherscanConfig{
				APIKey:  getEnv("ETHERSCAN_API_KEY", ""),
				BaseURL: getEnv("ETHERSCAN_BASE_URL", "https://api.etherscan.io/v2/api"),
				ChainID: getEnvAsInt("ETHERSCAN_CHAIN_ID", 1),
			},
			CoinGecko: CoinGeckoConfig{
				APIKey:   getEnv("COINGECKO_API_KEY", ""),
				BaseURL:  getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
				Platform: getEnv("COINGECKO_PLATFORM", "ethereum"),
			},
		},
		Valuation: ValuationConfig{
			QuoteCurrency:     getEnv("VALUATION_QUOTE_CURRENCY", "usd"),
			DustThresholdUSD:  getEnvAsFloat("VALUATION_DUST_THRESHOLD_USD", 1.0),
			WalletConcurrency: getEnvAsInt("VALUATION_WALLET_CONCURRENCY", 4),
			PriceConcurrency:  getEnvAsInt("VALUATION_PRICE_CONCURRENCY", 8),
			ActivityLimit:     getEnvAsInt("VALUATION_ACTIVITY_LIMIT", 100),
			PnLTimeout:        getEnvAsDuration("VALUATION_PNL_TIMEOUT", 2*time.Minute),
		},
		Cache: CacheConfig{
			PriceTTL:           getEnvAsDuration("CACHE_PRICE_TTL", 60*time.Second),
			WatchlistTTL:       getEnvAsDuration("CACHE_WATCHLIST_TTL", 1*time.Hour),
			TokenIDTTL:         getEnvAsDuration("CACHE_TOKEN_ID_TTL", 24*time.Hour),
			HistoricalPriceTTL: getEnvAsDuration("CACHE_HISTORICAL_PRICE_TTL", 1*time.Hour),
			SnapshotTTL:        getEnvAsDuration("CACHE_SNAPSHOT_TTL", 5*time.Minute),
		},
		Worker: WorkerConfig{
			RefreshInterval: getEnvAsDuration("WORKER_REFRESH_INTERVAL", 1*time.Hour),
			ArchivePageSize: getEnvAsInt("WORKER_ARCHIVE_PAGE_SIZE", 100),
		},
		RateLimit: RateLimitConfig{
			ClientRPS:            getEnvAsFloat("RATE_LIMIT_CLIENT_RPS", 5),
			ClientBurst:          getEnvAsInt("RATE_LIMIT_CLIENT_BURST", 10),
			CovalentDailyCredits: getEnvAsInt("RATE_LIMIT_COVALENT_DAILY_CREDITS", 100000),
			CoinGeckoPerMinute:   getEnvAsInt("RATE_LIMIT_COINGECKO_PER_MINUTE", 30),
			PnLDailyBudget:       getEnvAsInt("RATE_LIMIT_PNL_DAILY_BUDGET", 2000),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
