package service

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fund-tracker/internal/logging"
	"github.com/fund-tracker/internal/models"
	"github.com/fund-tracker/internal/storage"
)

// LeaderboardService ranks funds by their last computed portfolio total.
// It reads only cached totals: the leaderboard never triggers provider
// fan-out, so a fund whose snapshot was never computed (or whose cache
// entry expired) shows "no data" rather than a stale or fabricated zero.
type LeaderboardService struct {
	funds   FundStore
	wallets WalletStore
	cache   SnapshotCache
	logger  *logging.Logger
}

// NewLeaderboardService creates a leaderboard service.
func NewLeaderboardService(funds FundStore, wallets WalletStore, cache SnapshotCache) *LeaderboardService {
	return &LeaderboardService{
		funds:   funds,
		wallets: wallets,
		cache:   cache,
		logger:  logging.GetGlobalLogger().Component("leaderboard"),
	}
}

// Leaderboard is the ranked fund list.
type Leaderboard struct {
	Rows        []models.LeaderboardRow `json:"rows"`
	GeneratedAt time.Time               `json:"generatedAt"`
}

// GetLeaderboard returns all funds ordered by cached total value,
// descending. Funds without a cached total sort last, ordered by name.
func (s *LeaderboardService) GetLeaderboard(ctx context.Context) (*Leaderboard, error) {
	funds, err := s.funds.List(ctx)
	if err != nil {
		return nil, err
	}

	counts, err := s.wallets.CountByFund(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]models.LeaderboardRow, 0, len(funds))
	values := make(map[string]decimal.Decimal)

	for _, fund := range funds {
		row := models.LeaderboardRow{
			FundID:      fund.ID,
			FundName:    fund.Name,
			Firm:        fund.Firm,
			WalletCount: counts[fund.ID],
		}

		if total, ok := s.cachedTotal(ctx, fund.ID); ok {
			str := total.String()
			row.TotalValue = &str
			values[fund.ID] = total
		}

		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		vi, iok := values[rows[i].FundID]
		vj, jok := values[rows[j].FundID]
		if iok != jok {
			return iok
		}
		if iok && jok && !vi.Equal(vj) {
			return vi.GreaterThan(vj)
		}
		return rows[i].FundName < rows[j].FundName
	})

	return &Leaderboard{
		Rows:        rows,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func (s *LeaderboardService) cachedTotal(ctx context.Context, fundID string) (decimal.Decimal, bool) {
	if s.cache == nil {
		return decimal.Zero, false
	}

	var entry storage.CachedSnapshotTotal
	hit, err := s.cache.Get(ctx, s.cache.SnapshotKey(fundID), &entry)
	if err != nil {
		s.logger.WithError(err).WithField("fundId", fundID).Warn("Snapshot total cache read failed")
		return decimal.Zero, false
	}
	if !hit {
		return decimal.Zero, false
	}

	total, err := decimal.NewFromString(entry.TotalValue)
	if err != nil {
		s.logger.WithField("fundId", fundID).Warn("Discarding unparseable cached total")
		return decimal.Zero, false
	}
	return total, true
}
