package service

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/fund-tracker/internal/errors"
	"github.com/fund-tracker/internal/logging"
	"github.com/fund-tracker/internal/types"
	"github.com/fund-tracker/internal/valuation"
)

// TransferFetcher retrieves recent token transfers for one wallet,
// newest first.
type TransferFetcher interface {
	TokenTransfers(ctx context.Context, wallet string, limit int) ([]types.TransferEvent, error)
}

// ActivityArchive reads a wallet's archived transfers, newest first. It
// backs the feed when the wallet's live fetch fails; archived events are
// stale by up to one worker cycle, which beats an empty feed.
type ActivityArchive interface {
	RecentByWallets(ctx context.Context, wallets []string, limit int) ([]types.TransferEvent, error)
}

// ActivityService serves the enriched transfer feed and the flow graph.
type ActivityService struct {
	funds       FundStore
	wallets     WalletStore
	transfers   TransferFetcher
	archive     ActivityArchive
	priceMap    *valuation.PriceMapBuilder
	registry    *RegistryService
	concurrency int
	limit       int
	logger      *logging.Logger
}

// NewActivityService creates an activity service. The archive may be
// nil, which disables the stale-feed fallback.
func NewActivityService(
	funds FundStore,
	wallets WalletStore,
	transfers TransferFetcher,
	archive ActivityArchive,
	priceMap *valuation.PriceMapBuilder,
	registry *RegistryService,
	concurrency int,
	limit int,
) *ActivityService {
	if concurrency <= 0 {
		concurrency = 4
	}
	if limit <= 0 {
		limit = 100
	}
	return &ActivityService{
		funds:       funds,
		wallets:     wallets,
		transfers:   transfers,
		archive:     archive,
		priceMap:    priceMap,
		registry:    registry,
		concurrency: concurrency,
		limit:       limit,
		logger:      logging.GetGlobalLogger().Component("activity"),
	}
}

// ActivityFeed is the enriched transfer feed for one fund.
type ActivityFeed struct {
	FundID         string                      `json:"fundId"`
	Events         []types.ValuedTransferEvent `json:"events"`
	SkippedWallets []types.WalletFailure       `json:"skippedWallets,omitempty"`
}

// GetActivity returns the fund's merged transfer feed, newest first,
// truncated to limit (0 means the configured default). Every event is
// value-annotated against current prices; events whose token has no
// price carry a nil estimated value.
func (s *ActivityService) GetActivity(ctx context.Context, fundID string, limit int) (*ActivityFeed, error) {
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}

	events, failures, err := s.fetchMerged(ctx, fundID, limit)
	if err != nil {
		return nil, err
	}

	enriched, err := s.enrich(ctx, events)
	if err != nil {
		return nil, err
	}

	return &ActivityFeed{
		FundID:         fundID,
		Events:         enriched,
		SkippedWallets: failures,
	}, nil
}

// GetGraph returns the fund's counterparty flow graph built from the
// same enriched feed the activity endpoint serves.
func (s *ActivityService) GetGraph(ctx context.Context, fundID string) (*valuation.Graph, error) {
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

	events, _, err := s.fetchMerged(ctx, fundID, s.limit)
	if err != nil {
		return nil, err
	}

	enriched, err := s.enrich(ctx, events)
	if err != nil {
		return nil, err
	}

	graph := valuation.BuildTransferGraph(valuation.FundInfo{ID: fund.ID, Name: fund.Name}, enriched)
	return &graph, nil
}

// fetchMerged pulls transfers for every wallet of the fund, merges them
// newest first and truncates to limit. Per-wallet failures are scoped;
// only a total outage fails the call.
func (s *ActivityService) fetchMerged(ctx context.Context, fundID string, limit int) ([]types.TransferEvent, []types.WalletFailure, error) {
	fund, err := s.funds.GetByID(ctx, fundID)
	if err != nil {
		return nil, nil, err
	}
	if fund == nil {
		return nil, nil, &types.ServiceError{
			Code:    "FUND_NOT_FOUND",
			Message: "fund not found: " + fundID,
			Details: map[string]interface{}{"fundId": fundID},
		}
	}

	wallets, err := s.wallets.ListByFund(ctx, fundID)
	if err != nil {
		return nil, nil, err
	}
	if len(wallets) == 0 {
		return nil, nil, nil
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		events   []types.TransferEvent
		failures []types.WalletFailure
	)

	sem := make(chan struct{}, s.concurrency)

	for _, wallet := range wallets {
		wg.Add(1)
		go func(address string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			walletEvents, err := s.transfers.TokenTransfers(ctx, address, limit)
			if err != nil {
				s.logger.WithError(err).WithField("wallet", address).Warn("Wallet transfer fetch failed")
				walletEvents, err = s.archivedTransfers(ctx, address, limit, err)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, types.WalletFailure{
					Address: address,
					Reason:  err.Error(),
				})
				return
			}
			events = append(events, walletEvents...)
		}(wallet.Address)
	}

	wg.Wait()

	if len(failures) == len(wallets) {
		return nil, nil, apperrors.NewNoDataError(fundID, failures)
	}

	sortEventsNewestFirst(events)
	if len(events) > limit {
		events = events[:limit]
	}

	sort.Slice(failures, func(i, j int) bool {
		return failures[i].Address < failures[j].Address
	})

	return events, failures, nil
}

// archivedTransfers serves a wallet's feed from the archive after its
// live fetch failed. The original fetch error stands when the archive
// is absent, fails too, or has nothing for the wallet.
func (s *ActivityService) archivedTransfers(ctx context.Context, address string, limit int, fetchErr error) ([]types.TransferEvent, error) {
	if s.archive == nil {
		return nil, fetchErr
	}

	archived, err := s.archive.RecentByWallets(ctx, []string{address}, limit)
	if err != nil {
		s.logger.WithError(err).WithField("wallet", address).Warn("Archive read failed")
		return nil, fetchErr
	}
	if len(archived) == 0 {
		return nil, fetchErr
	}

	s.logger.WithField("wallet", address).Info("Serving archived transfers for wallet")
	return archived, nil
}

// enrich values events against current prices and attaches counterparty
// labels from the registry.
func (s *ActivityService) enrich(ctx context.Context, events []types.TransferEvent) ([]types.ValuedTransferEvent, error) {
	if len(events) == 0 {
		return []types.ValuedTransferEvent{}, nil
	}

	prices := s.priceMap.Build(ctx, valuation.TokensFromTransfers(events))

	labeler, err := s.registry.Labeler(ctx)
	if err != nil {
		return nil, err
	}

	return valuation.EnrichTransfers(events, prices, labeler), nil
}

// sortEventsNewestFirst orders events by timestamp descending, breaking
// ties by transaction hash and log index so the feed is stable across
// refreshes.
func sortEventsNewestFirst(events []types.TransferEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp > events[j].Timestamp
		}
		if events[i].TxHash != events[j].TxHash {
			return events[i].TxHash < events[j].TxHash
		}
		return events[i].LogIndex < events[j].LogIndex
	})
}
