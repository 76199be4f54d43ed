package service

import (
	"context"
	"time"

	"github.com/fund-tracker/internal/logging"
	"github.com/fund-tracker/internal/types"
	"github.com/fund-tracker/internal/valuation"
)

// TransferHistory reads archived transfer events.
type TransferHistory interface {
	InboundHistory(ctx context.Context, wallets []string, token string) ([]types.TransferEvent, error)
}

// FundPnL is the on-demand acquisition cost report for a fund.
type FundPnL struct {
	FundID        string                  `json:"fundId"`
	FundName      string                  `json:"fundName"`
	QuoteCurrency string                  `json:"quoteCurrency"`
	Estimates     []valuation.PnLEstimate `json:"estimates"`
	GeneratedAt   time.Time               `json:"generatedAt"`
}

// PnLService estimates acquisition cost for a fund's current positions.
// It runs only when asked: every position needs one historical price
// lookup per inbound transfer, which is far too slow for the default
// snapshot path.
type PnLService struct {
	portfolio *PortfolioService
	archive   TransferHistory
	transfers TransferFetcher
	estimator *valuation.PnLEstimator
	quote     string
	timeout   time.Duration
	logger    *logging.Logger
}

// NewPnLService creates a P&L service. The live transfer fetcher is the
// fallback when a wallet has no archived history yet.
func NewPnLService(
	portfolio *PortfolioService,
	archive TransferHistory,
	transfers TransferFetcher,
	estimator *valuation.PnLEstimator,
	quoteCurrency string,
	timeout time.Duration,
) *PnLService {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &PnLService{
		portfolio: portfolio,
		archive:   archive,
		transfers: transfers,
		estimator: estimator,
		quote:     quoteCurrency,
		timeout:   timeout,
		logger:    logging.GetGlobalLogger().Component("pnl"),
	}
}

// GetPnL walks every current position of the fund and estimates what it
// cost to acquire. Positions whose history cannot be fully priced keep
// their quantity but report nil cost figures; they are never dropped and
// never shown with a fabricated basis.
func (s *PnLService) GetPnL(ctx context.Context, fundID string) (*FundPnL, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	snapshot, err := s.portfolio.GetSnapshot(ctx, fundID)
	if err != nil {
		return nil, err
	}

	estimates := make([]valuation.PnLEstimate, 0, len(snapshot.Positions))
	for _, position := range snapshot.Positions {
		history, err := s.inboundHistory(ctx, snapshot.Wallets, position.Token)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.WithError(err).WithField("token", position.Token).Warn("History fetch failed")
			history = nil
		}

		estimate, err := s.estimator.Estimate(ctx, position, history)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.WithError(err).WithField("token", position.Token).Warn("P&L estimate failed")
			continue
		}
		estimates = append(estimates, *estimate)
	}

	return &FundPnL{
		FundID:        snapshot.FundID,
		FundName:      snapshot.FundName,
		QuoteCurrency: s.quote,
		Estimates:     estimates,
		GeneratedAt:   time.Now().UTC(),
	}, nil
}

// inboundHistory reads the archive first and falls back to a live fetch
// for wallets the worker has not archived yet.
func (s *PnLService) inboundHistory(ctx context.Context, wallets []string, token string) ([]types.TransferEvent, error) {
	if s.archive != nil {
		history, err := s.archive.InboundHistory(ctx, wallets, token)
		if err == nil && len(history) > 0 {
			return history, nil
		}
		if err != nil {
			s.logger.WithError(err).Warn("Archive read failed, falling back to live fetch")
		}
	}

	if s.transfers == nil {
		return nil, nil
	}

	normalized := types.NormalizeToken(token)
	var history []types.TransferEvent
	incomplete := false
	for _, wallet := range wallets {
		events, err := s.transfers.TokenTransfers(ctx, wallet, 1000)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.WithError(err).WithField("wallet", wallet).Warn("Live history fetch failed")
			incomplete = true
			continue
		}
		for _, event := range events {
			if types.NormalizeToken(event.Token) == normalized {
				history = append(history, event)
			}
		}
	}
	if incomplete {
		// Any missing wallet leaves the fund-level walk incomplete, and
		// a basis built from part of the history would overstate what we
		// know. The cost figures stay unknown instead.
		return nil, nil
	}
	return history, nil
}
