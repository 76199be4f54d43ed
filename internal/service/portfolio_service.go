package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/fund-tracker/internal/errors"
	"github.com/fund-tracker/internal/logging"
	"github.com/fund-tracker/internal/models"
	"github.com/fund-tracker/internal/storage"
	"github.com/fund-tracker/internal/types"
	"github.com/fund-tracker/internal/valuation"
)

// BalanceFetcher retrieves current token holdings for one wallet.
type BalanceFetcher interface {
	TokenBalances(ctx context.Context, wallet string) ([]types.TokenHolding, error)
}

// SnapshotCache stores fund totals for leaderboard reuse.
type SnapshotCache interface {
	SnapshotKey(fundID string) string
	Set(ctx context.Context, keyType storage.CacheKeyType, key string, value interface{}) error
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
}

// PortfolioService computes on-demand portfolio snapshots for funds.
type PortfolioService struct {
	funds       FundStore
	wallets     WalletStore
	balances    BalanceFetcher
	priceMap    *valuation.PriceMapBuilder
	cache       SnapshotCache
	concurrency int
	options     valuation.AggregateOptions
	logger      *logging.Logger
}

// NewPortfolioService creates a portfolio service. The cache may be nil.
func NewPortfolioService(
	funds FundStore,
	wallets WalletStore,
	balances BalanceFetcher,
	priceMap *valuation.PriceMapBuilder,
	cache SnapshotCache,
	concurrency int,
	options valuation.AggregateOptions,
) *PortfolioService {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &PortfolioService{
		funds:       funds,
		wallets:     wallets,
		balances:    balances,
		priceMap:    priceMap,
		cache:       cache,
		concurrency: concurrency,
		options:     options,
		logger:      logging.GetGlobalLogger().Component("portfolio"),
	}
}

// GetSnapshot recomputes the fund's valued portfolio from live wallet
// balances. A fund with no wallets gets an empty snapshot; a wallet
// whose fetch fails is skipped and reported; only when every wallet
// fails does the whole call fail with NO_DATA.
func (s *PortfolioService) GetSnapshot(ctx context.Context, fundID string) (*types.PortfolioSnapshot, error) {
	fund, err := s.requireFund(ctx, fundID)
	if err != nil {
		return nil, err
	}

	wallets, err := s.wallets.ListByFund(ctx, fundID)
	if err != nil {
		return nil, err
	}

	addresses := make([]string, len(wallets))
	for i, w := range wallets {
		addresses[i] = w.Address
	}

	if len(wallets) == 0 {
		snapshot := valuation.Aggregate(
			valuation.FundInfo{ID: fund.ID, Name: fund.Name},
			addresses, nil, types.PriceMap{}, s.options,
		)
		snapshot.GeneratedAt = time.Now().UTC()
		return &snapshot, nil
	}

	holdings, failures := s.fetchHoldings(ctx, addresses)
	if len(failures) == len(wallets) {
		return nil, apperrors.NewNoDataError(fundID, failures)
	}

	// The snapshot's wallet list carries only wallets whose balances
	// made it in; skipped wallets are reported separately.
	included := addresses
	if len(failures) > 0 {
		skipped := make(map[string]bool, len(failures))
		for _, f := range failures {
			skipped[f.Address] = true
		}
		included = make([]string, 0, len(addresses))
		for _, address := range addresses {
			if !skipped[address] {
				included = append(included, address)
			}
		}
	}

	prices := s.priceMap.Build(ctx, valuation.TokensFromHoldings(holdings))

	snapshot := valuation.Aggregate(
		valuation.FundInfo{ID: fund.ID, Name: fund.Name},
		included, holdings, prices, s.options,
	)
	snapshot.GeneratedAt = time.Now().UTC()
	snapshot.SkippedWallets = failures

	s.cacheTotal(ctx, &snapshot)

	return &snapshot, nil
}

// fetchHoldings pulls balances for every wallet with bounded fan-out.
// A failed wallet contributes a WalletFailure instead of poisoning the
// whole pass.
func (s *PortfolioService) fetchHoldings(ctx context.Context, addresses []string) ([]types.TokenHolding, []types.WalletFailure) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		holdings []types.TokenHolding
		failures []types.WalletFailure
	)

	sem := make(chan struct{}, s.concurrency)

	for _, address := range addresses {
		wg.Add(1)
		go func(address string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			walletHoldings, err := s.balances.TokenBalances(ctx, address)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.WithError(err).WithField("wallet", address).Warn("Wallet balance fetch failed")
				failures = append(failures, types.WalletFailure{
					Address: address,
					Reason:  err.Error(),
				})
				return
			}
			holdings = append(holdings, walletHoldings...)
		}(address)
	}

	wg.Wait()

	// Deterministic failure ordering for response payloads
	sort.Slice(failures, func(i, j int) bool {
		return failures[i].Address < failures[j].Address
	})

	return holdings, failures
}

// cacheTotal stores the snapshot total for leaderboard reuse.
func (s *PortfolioService) cacheTotal(ctx context.Context, snapshot *types.PortfolioSnapshot) {
	if s.cache == nil {
		return
	}

	entry := storage.CachedSnapshotTotal{
		FundID:      snapshot.FundID,
		TotalValue:  snapshot.TotalValue.String(),
		WalletCount: len(snapshot.Wallets),
		GeneratedAt: snapshot.GeneratedAt,
	}
	key := s.cache.SnapshotKey(snapshot.FundID)
	if err := s.cache.Set(ctx, storage.CacheKeySnapshot, key, entry); err != nil {
		s.logger.WithError(err).Warn("Snapshot total cache write failed")
	}
}

func (s *PortfolioService) requireFund(ctx context.Context, fundID string) (*models.Fund, error) {
	fund, err := s.funds.GetByID(ctx, fundID)
	if err != nil {
		return nil, err
	}
	if fund == nil {
		return nil, &types.ServiceError{
			Code:    "FUND_NOT_FOUND",
			Message: "fund not found: " + fundID,
			Details: map[string]interface{}{"fundId": fundID},
		}
	}
	return fund, nil
}

// DustThresholdFromUSD converts the configured float threshold into the
// decimal the aggregator expects.
func DustThresholdFromUSD(threshold float64) decimal.Decimal {
	if threshold <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(threshold)
}
