package service

import (
	"context"
	"testing"
	"time"

	"github.com/fund-tracker/internal/models"
	"github.com/fund-tracker/internal/storage"
)

func TestLeaderboardOrdersByCachedTotal(t *testing.T) {
	funds := newMockFundStore(
		&models.Fund{ID: "f1", Name: "Alpha", Firm: "Other"},
		&models.Fund{ID: "f2", Name: "Beta", Firm: "Paradigm"},
		&models.Fund{ID: "f3", Name: "Gamma", Firm: "Other"},
	)
	wallets := newMockWalletStore(
		&models.Wallet{Address: walletOne, FundID: "f1"},
		&models.Wallet{Address: walletTwo, FundID: "f2"},
	)

	cache := newMockSnapshotCache()
	ctx := context.Background()
	cache.Set(ctx, storage.CacheKeySnapshot, cache.SnapshotKey("f1"),
		storage.CachedSnapshotTotal{FundID: "f1", TotalValue: "100", GeneratedAt: time.Now()})
	cache.Set(ctx, storage.CacheKeySnapshot, cache.SnapshotKey("f2"),
		storage.CachedSnapshotTotal{FundID: "f2", TotalValue: "2500", GeneratedAt: time.Now()})
	// f3 has no cached total

	svc := NewLeaderboardService(funds, wallets, cache)

	board, err := svc.GetLeaderboard(ctx)
	if err != nil {
		t.Fatalf("GetLeaderboard: %v", err)
	}

	if len(board.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(board.Rows))
	}

	if board.Rows[0].FundID != "f2" || board.Rows[1].FundID != "f1" {
		t.Errorf("order = %s, %s; want f2, f1", board.Rows[0].FundID, board.Rows[1].FundID)
	}

	// The fund without a cached total sorts last with nil, not zero
	last := board.Rows[2]
	if last.FundID != "f3" {
		t.Errorf("last row = %s, want f3", last.FundID)
	}
	if last.TotalValue != nil {
		t.Errorf("uncached fund total = %q, want nil", *last.TotalValue)
	}

	if *board.Rows[0].TotalValue != "2500" {
		t.Errorf("top total = %q, want 2500", *board.Rows[0].TotalValue)
	}
	if board.Rows[1].WalletCount != 1 {
		t.Errorf("wallet count = %d, want 1", board.Rows[1].WalletCount)
	}
}

func TestLeaderboardNoDataFundsSortByName(t *testing.T) {
	funds := newMockFundStore(
		&models.Fund{ID: "f1", Name: "Zeta"},
		&models.Fund{ID: "f2", Name: "Alpha"},
	)
	svc := NewLeaderboardService(funds, newMockWalletStore(), newMockSnapshotCache())

	board, err := svc.GetLeaderboard(context.Background())
	if err != nil {
		t.Fatalf("GetLeaderboard: %v", err)
	}
	if board.Rows[0].FundName != "Alpha" || board.Rows[1].FundName != "Zeta" {
		t.Errorf("order = %s, %s; want Alpha, Zeta", board.Rows[0].FundName, board.Rows[1].FundName)
	}
}

func TestLeaderboardEmptyRegistry(t *testing.T) {
	svc := NewLeaderboardService(newMockFundStore(), newMockWalletStore(), newMockSnapshotCache())

	board, err := svc.GetLeaderboard(context.Background())
	if err != nil {
		t.Fatalf("GetLeaderboard: %v", err)
	}
	if len(board.Rows) != 0 {
		t.Errorf("expected no rows, got %d", len(board.Rows))
	}
}
