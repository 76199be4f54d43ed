// Package service wires storage, providers and the valuation pass into
// the operations the API exposes.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/fund-tracker/internal/errors"
	"github.com/fund-tracker/internal/logging"
	"github.com/fund-tracker/internal/ratelimit"
	"github.com/fund-tracker/internal/storage"
	"github.com/fund-tracker/internal/valuation"
)

// PriceProvider is the market data surface the lookup needs.
type PriceProvider interface {
	CurrentPrice(ctx context.Context, contract string) (*decimal.Decimal, error)
	ResolveTokenID(ctx context.Context, contract string) (string, error)
	HistoricalPrice(ctx context.Context, tokenID string, at time.Time) (*decimal.Decimal, error)
}

// TokenIDStore persists contract-to-provider-id resolutions so they
// survive cache evictions.
type TokenIDStore interface {
	GetCoinGeckoID(ctx context.Context, contract string) (string, bool, error)
	SetCoinGeckoID(ctx context.Context, contract, id string) error
}

// CachedPriceLookup resolves prices through the cache first and gates
// provider calls behind credit budget guards. It implements both
// valuation.PriceLookup and valuation.HistoricalPriceLookup.
type CachedPriceLookup struct {
	provider      PriceProvider
	cache         *storage.CacheService
	tokenIDs      TokenIDStore
	servingGuard  *ratelimit.Guard
	deepGuard     *ratelimit.Guard
	quoteCurrency string
	logger        *logging.Logger
}

// NewCachedPriceLookup creates a lookup. The guards and token id store
// may be nil; a nil guard means no budget enforcement for that path.
func NewCachedPriceLookup(
	provider PriceProvider,
	cache *storage.CacheService,
	tokenIDs TokenIDStore,
	servingGuard *ratelimit.Guard,
	deepGuard *ratelimit.Guard,
	quoteCurrency string,
) *CachedPriceLookup {
	return &CachedPriceLookup{
		provider:      provider,
		cache:         cache,
		tokenIDs:      tokenIDs,
		servingGuard:  servingGuard,
		deepGuard:     deepGuard,
		quoteCurrency: quoteCurrency,
		logger:        logging.GetGlobalLogger().Component("price-lookup"),
	}
}

// CurrentPrice returns the token's current unit price in the quote
// currency. Cache misses go to the provider; a drained serving budget
// degrades to "price unavailable" so the snapshot still renders.
func (l *CachedPriceLookup) CurrentPrice(ctx context.Context, token valuation.TokenRef) (*decimal.Decimal, error) {
	key := l.cache.PriceKey(token.Contract, l.quoteCurrency)

	var cached storage.CachedPrice
	hit, err := l.cache.Get(ctx, key, &cached)
	if err != nil {
		l.logger.WithError(err).Warn("Price cache read failed")
	}
	if hit {
		if !cached.Present {
			return nil, nil
		}
		price, parseErr := decimal.NewFromString(cached.Price)
		if parseErr == nil {
			return &price, nil
		}
		// Corrupt entry; fall through to the provider
		l.logger.WithField("key", key).Warn("Discarding unparseable cached price")
	}

	if l.servingGuard != nil {
		if err := l.servingGuard.Acquire(ctx, ratelimit.EndpointCoinGeckoSimplePrice); err != nil {
			if errors.Is(err, ratelimit.ErrBudgetExhausted) {
				l.logger.WithField("token", token.Contract).Warn("Price budget exhausted, serving unpriced")
				return nil, nil
			}
			return nil, err
		}
	}

	price, err := l.provider.CurrentPrice(ctx, token.Contract)
	if err != nil {
		return nil, apperrors.NewProviderError("coingecko", err)
	}

	l.storePrice(ctx, key, price)
	return price, nil
}

func (l *CachedPriceLookup) storePrice(ctx context.Context, key string, price *decimal.Decimal) {
	entry := storage.CachedPrice{CachedAt: time.Now().UTC()}
	if price != nil {
		entry.Present = true
		entry.Price = price.String()
	}
	if err := l.cache.Set(ctx, storage.CacheKeyPrice, key, entry); err != nil {
		l.logger.WithError(err).Warn("Price cache write failed")
	}
}

// HistoricalPrice returns the token's unit price at a past point in
// time. It resolves the provider's token id first, then prices the
// date. Both steps are cached; unresolvable tokens are cached as
// negatives so P&L does not hammer the provider.
func (l *CachedPriceLookup) HistoricalPrice(ctx context.Context, token valuation.TokenRef, at time.Time) (*decimal.Decimal, error) {
	tokenID, err := l.resolveTokenID(ctx, token.Contract)
	if err != nil {
		return nil, err
	}
	if tokenID == "" {
		// Token unknown to the provider; no history exists
		return nil, nil
	}

	key := l.cache.HistoricalPriceKey(tokenID, at, l.quoteCurrency)

	var cached storage.CachedPrice
	hit, err := l.cache.Get(ctx, key, &cached)
	if err != nil {
		l.logger.WithError(err).Warn("Historical price cache read failed")
	}
	if hit {
		if !cached.Present {
			return nil, nil
		}
		price, parseErr := decimal.NewFromString(cached.Price)
		if parseErr == nil {
			return &price, nil
		}
	}

	if l.deepGuard != nil {
		if err := l.deepGuard.Acquire(ctx, ratelimit.EndpointCoinGeckoHistory); err != nil {
			return nil, fmt.Errorf("historical price budget: %w", err)
		}
	}

	price, err := l.provider.HistoricalPrice(ctx, tokenID, at)
	if err != nil {
		return nil, apperrors.NewProviderError("coingecko", err)
	}

	entry := storage.CachedPrice{CachedAt: time.Now().UTC()}
	if price != nil {
		entry.Present = true
		entry.Price = price.String()
	}
	if err := l.cache.Set(ctx, storage.CacheKeyHistoricalPrice, key, entry); err != nil {
		l.logger.WithError(err).Warn("Historical price cache write failed")
	}

	return price, nil
}

// resolveTokenID maps a contract address to the provider's asset id,
// consulting the cache, then the token store, then the provider.
// An empty id with a nil error means the provider does not know the
// token.
func (l *CachedPriceLookup) resolveTokenID(ctx context.Context, contract string) (string, error) {
	key := l.cache.TokenIDKey(contract)

	var cached storage.CachedTokenID
	hit, err := l.cache.Get(ctx, key, &cached)
	if err != nil {
		l.logger.WithError(err).Warn("Token id cache read failed")
	}
	if hit {
		if !cached.Resolved {
			return "", nil
		}
		return cached.ID, nil
	}

	if l.tokenIDs != nil {
		id, ok, err := l.tokenIDs.GetCoinGeckoID(ctx, contract)
		if err != nil {
			l.logger.WithError(err).Warn("Token id store read failed")
		} else if ok {
			l.storeTokenID(ctx, key, id, true)
			return id, nil
		}
	}

	if l.deepGuard != nil {
		if err := l.deepGuard.Acquire(ctx, ratelimit.EndpointCoinGeckoContractInfo); err != nil {
			return "", fmt.Errorf("token id budget: %w", err)
		}
	}

	id, err := l.provider.ResolveTokenID(ctx, contract)
	if err != nil {
		return "", apperrors.NewProviderError("coingecko", err)
	}

	l.storeTokenID(ctx, key, id, id != "")
	if id != "" && l.tokenIDs != nil {
		if err := l.tokenIDs.SetCoinGeckoID(ctx, contract, id); err != nil {
			l.logger.WithError(err).Warn("Token id store write failed")
		}
	}

	return id, nil
}

func (l *CachedPriceLookup) storeTokenID(ctx context.Context, key, id string, resolved bool) {
	entry := storage.CachedTokenID{ID: id, Resolved: resolved, CachedAt: time.Now().UTC()}
	if err := l.cache.Set(ctx, storage.CacheKeyTokenID, key, entry); err != nil {
		l.logger.WithError(err).Warn("Token id cache write failed")
	}
}

var (
	_ valuation.PriceLookup           = (*CachedPriceLookup)(nil)
	_ valuation.HistoricalPriceLookup = (*CachedPriceLookup)(nil)
)
