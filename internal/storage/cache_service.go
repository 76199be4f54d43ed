package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fund-tracker/internal/config"
)

// CacheService provides the tracker's lookup caches on top of Redis.
// Each key type carries its own TTL: current prices go stale in
// seconds, the watchlist in an hour, contract-to-CoinGecko-id
// resolutions in a day. Concurrent analysis passes share cached prices
// while every pass still builds its own PriceMap.
type CacheService struct {
	redis *RedisCache
	ttls  config.CacheConfig
}

// NewCacheService creates a new cache service with per-type TTLs.
func NewCacheService(redis *RedisCache, ttls config.CacheConfig) *CacheService {
	return &CacheService{redis: redis, ttls: ttls}
}

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyPrice is for current token prices
	CacheKeyPrice CacheKeyType = "price"
	// CacheKeyTokenID is for contract to CoinGecko id resolutions
	CacheKeyTokenID CacheKeyType = "tokenid"
	// CacheKeyHistoricalPrice is for historical prices used by P&L
	CacheKeyHistoricalPrice CacheKeyType = "histprice"
	// CacheKeyWatchlist is for the Dune watchlist result
	CacheKeyWatchlist CacheKeyType = "watchlist"
	// CacheKeySnapshot is for fund totals reused by the leaderboard
	CacheKeySnapshot CacheKeyType = "snapshot"
)

// GenerateCacheKey generates a cache key for a given type and parameters.
// Format: <type>:<param1>:<param2>:...
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	// Normalize all parameters to lowercase for consistency
	normalizedParams := make([]string, len(params))
	for i, param := range params {
		normalizedParams[i] = strings.ToLower(param)
	}

	parts := append([]string{string(keyType)}, normalizedParams...)
	return strings.Join(parts, ":")
}

// PriceKey generates a cache key for a current token price.
// Format: price:<contract>:<currency>
func (c *CacheService) PriceKey(contract, currency string) string {
	return c.GenerateCacheKey(CacheKeyPrice, contract, currency)
}

// TokenIDKey generates a cache key for a CoinGecko id resolution.
// Format: tokenid:<contract>
func (c *CacheService) TokenIDKey(contract string) string {
	return c.GenerateCacheKey(CacheKeyTokenID, contract)
}

// HistoricalPriceKey generates a cache key for a historical price.
// Format: histprice:<coingecko-id>:<dd-mm-yyyy>:<currency>
func (c *CacheService) HistoricalPriceKey(tokenID string, at time.Time, currency string) string {
	return c.GenerateCacheKey(CacheKeyHistoricalPrice, tokenID, at.UTC().Format("02-01-2006"), currency)
}

// WatchlistKey generates the cache key for the Dune watchlist.
func (c *CacheService) WatchlistKey() string {
	return string(CacheKeyWatchlist)
}

// SnapshotKey generates a cache key for a fund's snapshot totals.
// Format: snapshot:<fund-id>
func (c *CacheService) SnapshotKey(fundID string) string {
	return c.GenerateCacheKey(CacheKeySnapshot, fundID)
}

// TTLFor returns the configured TTL for a key type.
func (c *CacheService) TTLFor(keyType CacheKeyType) time.Duration {
	switch keyType {
	case CacheKeyPrice:
		return c.ttls.PriceTTL
	case CacheKeyTokenID:
		return c.ttls.TokenIDTTL
	case CacheKeyHistoricalPrice:
		return c.ttls.HistoricalPriceTTL
	case CacheKeyWatchlist:
		return c.ttls.WatchlistTTL
	case CacheKeySnapshot:
		return c.ttls.SnapshotTTL
	default:
		return time.Minute
	}
}

// Set stores a value under a key with the TTL of its key type.
func (c *CacheService) Set(ctx context.Context, keyType CacheKeyType, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.redis.Set(ctx, key, data, c.TTLFor(keyType))
}

// Get retrieves a value from cache and deserializes it. The first
// return is false on a cache miss, which is not an error.
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		// Key not found is not an error, just a cache miss
		if err.Error() == "redis: nil" {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return true, nil
}

// Invalidate removes one or more keys from cache
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}

// InvalidatePattern removes all keys matching a pattern, e.g.
// "price:*" after a quote currency change.
func (c *CacheService) InvalidatePattern(ctx context.Context, pattern string) error {
	keys, err := c.redis.Keys(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to find keys matching pattern: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	return c.redis.Del(ctx, keys...)
}

// InvalidateFund drops the cached snapshot totals for a fund, used when
// its wallet set changes.
func (c *CacheService) InvalidateFund(ctx context.Context, fundID string) error {
	return c.Invalidate(ctx, c.SnapshotKey(fundID))
}

// Exists checks if a key exists in cache
func (c *CacheService) Exists(ctx context.Context, key string) (bool, error) {
	return c.redis.Exists(ctx, key)
}

// CachedPrice is the stored form of a price lookup result. Present
// false records "provider has no price", so negative results are cached
// too and unpriced tokens do not hammer the provider every pass.
type CachedPrice struct {
	Price    string    `json:"price,omitempty"` // decimal string
	Present  bool      `json:"present"`
	CachedAt time.Time `json:"cachedAt"`
}

// CachedTokenID is the stored form of a contract-to-id resolution.
// Empty ID with Resolved true means CoinGecko does not know the token.
type CachedTokenID struct {
	ID       string    `json:"id"`
	Resolved bool      `json:"resolved"`
	CachedAt time.Time `json:"cachedAt"`
}

// CachedSnapshotTotal is the slice of a snapshot the leaderboard needs.
type CachedSnapshotTotal struct {
	FundID      string    `json:"fundId"`
	TotalValue  string    `json:"totalValue"` // decimal string
	WalletCount int       `json:"walletCount"`
	GeneratedAt time.Time `json:"generatedAt"`
}
