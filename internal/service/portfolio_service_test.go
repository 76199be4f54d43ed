package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	apperrors "github.com/fund-tracker/internal/errors"
	"github.com/fund-tracker/internal/models"
	"github.com/fund-tracker/internal/types"
	"github.com/fund-tracker/internal/valuation"
)

const (
	testFundID = "fund-1"
	walletOne  = "0x1111111111111111111111111111111111111111"
	walletTwo  = "0x2222222222222222222222222222222222222222"
	walletBad  = "0x3333333333333333333333333333333333333333"
	tokenA     = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	tokenB     = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func testFund() *models.Fund {
	return &models.Fund{ID: testFundID, Name: "Test Capital", Firm: "Other"}
}

func newTestPortfolioService(funds *mockFundStore, wallets *mockWalletStore, balances *mockBalanceFetcher, lookup valuation.PriceLookup) *PortfolioService {
	builder := valuation.NewPriceMapBuilder(lookup, 2, nil)
	return NewPortfolioService(funds, wallets, balances, builder, newMockSnapshotCache(), 2, valuation.AggregateOptions{
		QuoteCurrency: "usd",
	})
}

func TestGetSnapshotValuesHoldings(t *testing.T) {
	funds := newMockFundStore(testFund())
	wallets := newMockWalletStore(
		&models.Wallet{Address: walletOne, FundID: testFundID},
		&models.Wallet{Address: walletTwo, FundID: testFundID},
	)
	balances := newMockBalanceFetcher()
	balances.holdings[walletOne] = []types.TokenHolding{holding(walletOne, tokenA, "TOKA", 10)}
	balances.holdings[walletTwo] = []types.TokenHolding{holding(walletTwo, tokenA, "TOKA", 5)}

	lookup := newFixedPriceLookup(map[string]decimal.Decimal{
		tokenA: decimal.NewFromInt(2),
	})

	svc := newTestPortfolioService(funds, wallets, balances, lookup)

	snapshot, err := svc.GetSnapshot(context.Background(), testFundID)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}

	if !snapshot.TotalValue.Equal(decimal.NewFromInt(30)) {
		t.Errorf("TotalValue = %s, want 30", snapshot.TotalValue)
	}
	if len(snapshot.Positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(snapshot.Positions))
	}
	pos := snapshot.Positions[0]
	if !pos.Quantity.Equal(decimal.NewFromInt(15)) {
		t.Errorf("position quantity = %s, want 15", pos.Quantity)
	}
	if pos.Wallets != 2 {
		t.Errorf("position wallets = %d, want 2", pos.Wallets)
	}
	if snapshot.GeneratedAt.IsZero() {
		t.Error("GeneratedAt not stamped")
	}
}

func TestGetSnapshotOneLookupPerToken(t *testing.T) {
	funds := newMockFundStore(testFund())
	wallets := newMockWalletStore(
		&models.Wallet{Address: walletOne, FundID: testFundID},
		&models.Wallet{Address: walletTwo, FundID: testFundID},
	)
	balances := newMockBalanceFetcher()
	// The same token held in both wallets must be priced exactly once
	balances.holdings[walletOne] = []types.TokenHolding{
		holding(walletOne, tokenA, "TOKA", 10),
		holding(walletOne, tokenB, "TOKB", 1),
	}
	balances.holdings[walletTwo] = []types.TokenHolding{holding(walletTwo, tokenA, "TOKA", 5)}

	lookup := newFixedPriceLookup(map[string]decimal.Decimal{
		tokenA: decimal.NewFromInt(2),
		tokenB: decimal.NewFromInt(7),
	})

	svc := newTestPortfolioService(funds, wallets, balances, lookup)

	if _, err := svc.GetSnapshot(context.Background(), testFundID); err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}

	if lookup.calls[tokenA] != 1 {
		t.Errorf("token A looked up %d times, want 1", lookup.calls[tokenA])
	}
	if lookup.calls[tokenB] != 1 {
		t.Errorf("token B looked up %d times, want 1", lookup.calls[tokenB])
	}
}

func TestGetSnapshotUnpricedPositionIsNilNotZero(t *testing.T) {
	funds := newMockFundStore(testFund())
	wallets := newMockWalletStore(&models.Wallet{Address: walletOne, FundID: testFundID})
	balances := newMockBalanceFetcher()
	balances.holdings[walletOne] = []types.TokenHolding{holding(walletOne, tokenB, "TOKB", 100)}

	// No price for token B
	lookup := newFixedPriceLookup(map[string]decimal.Decimal{})

	svc := newTestPortfolioService(funds, wallets, balances, lookup)

	snapshot, err := svc.GetSnapshot(context.Background(), testFundID)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}

	if len(snapshot.Positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(snapshot.Positions))
	}
	if snapshot.Positions[0].Value != nil {
		t.Errorf("unpriced position value = %s, want nil", snapshot.Positions[0].Value)
	}
	if !snapshot.TotalValue.IsZero() {
		t.Errorf("TotalValue = %s, want 0", snapshot.TotalValue)
	}
}

func TestGetSnapshotSkipsFailedWallet(t *testing.T) {
	funds := newMockFundStore(testFund())
	wallets := newMockWalletStore(
		&models.Wallet{Address: walletOne, FundID: testFundID},
		&models.Wallet{Address: walletBad, FundID: testFundID},
	)
	balances := newMockBalanceFetcher()
	balances.holdings[walletOne] = []types.TokenHolding{holding(walletOne, tokenA, "TOKA", 10)}
	balances.errs[walletBad] = errors.New("provider timeout")

	lookup := newFixedPriceLookup(map[string]decimal.Decimal{
		tokenA: decimal.NewFromInt(2),
	})

	svc := newTestPortfolioService(funds, wallets, balances, lookup)

	snapshot, err := svc.GetSnapshot(context.Background(), testFundID)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}

	if !snapshot.TotalValue.Equal(decimal.NewFromInt(20)) {
		t.Errorf("TotalValue = %s, want 20", snapshot.TotalValue)
	}
	if len(snapshot.SkippedWallets) != 1 {
		t.Fatalf("expected 1 skipped wallet, got %d", len(snapshot.SkippedWallets))
	}
	if snapshot.SkippedWallets[0].Address != walletBad {
		t.Errorf("skipped wallet = %s, want %s", snapshot.SkippedWallets[0].Address, walletBad)
	}
	// A skipped wallet is never also listed as included
	if len(snapshot.Wallets) != 1 || snapshot.Wallets[0] != walletOne {
		t.Errorf("wallets = %v, want [%s]", snapshot.Wallets, walletOne)
	}
}

func TestGetSnapshotAllWalletsFailed(t *testing.T) {
	funds := newMockFundStore(testFund())
	wallets := newMockWalletStore(
		&models.Wallet{Address: walletOne, FundID: testFundID},
		&models.Wallet{Address: walletTwo, FundID: testFundID},
	)
	balances := newMockBalanceFetcher()
	balances.errs[walletOne] = errors.New("provider down")
	balances.errs[walletTwo] = errors.New("provider down")

	svc := newTestPortfolioService(funds, wallets, balances, newFixedPriceLookup(nil))

	_, err := svc.GetSnapshot(context.Background(), testFundID)
	if err == nil {
		t.Fatal("expected error when every wallet failed")
	}
	if !apperrors.IsNoData(err) {
		t.Errorf("expected NO_DATA error, got %v", err)
	}
}

func TestGetSnapshotNoWallets(t *testing.T) {
	funds := newMockFundStore(testFund())
	svc := newTestPortfolioService(funds, newMockWalletStore(), newMockBalanceFetcher(), newFixedPriceLookup(nil))

	snapshot, err := svc.GetSnapshot(context.Background(), testFundID)
	if err != nil {
		t.Fatalf("a fund with no wallets should get an empty snapshot, got error: %v", err)
	}
	if !snapshot.TotalValue.IsZero() {
		t.Errorf("TotalValue = %s, want 0", snapshot.TotalValue)
	}
	if len(snapshot.Positions) != 0 {
		t.Errorf("expected no positions, got %d", len(snapshot.Positions))
	}
}

func TestGetSnapshotFundNotFound(t *testing.T) {
	svc := newTestPortfolioService(newMockFundStore(), newMockWalletStore(), newMockBalanceFetcher(), newFixedPriceLookup(nil))

	_, err := svc.GetSnapshot(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for unknown fund")
	}
	var svcErr *types.ServiceError
	if !errors.As(err, &svcErr) || svcErr.Code != "FUND_NOT_FOUND" {
		t.Errorf("expected FUND_NOT_FOUND, got %v", err)
	}
}

func TestGetSnapshotCachesTotal(t *testing.T) {
	funds := newMockFundStore(testFund())
	wallets := newMockWalletStore(&models.Wallet{Address: walletOne, FundID: testFundID})
	balances := newMockBalanceFetcher()
	balances.holdings[walletOne] = []types.TokenHolding{holding(walletOne, tokenA, "TOKA", 10)}

	lookup := newFixedPriceLookup(map[string]decimal.Decimal{tokenA: decimal.NewFromInt(2)})
	cache := newMockSnapshotCache()

	builder := valuation.NewPriceMapBuilder(lookup, 2, nil)
	svc := NewPortfolioService(funds, wallets, balances, builder, cache, 2, valuation.AggregateOptions{QuoteCurrency: "usd"})

	if _, err := svc.GetSnapshot(context.Background(), testFundID); err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}

	entry, ok := cache.entries[cache.SnapshotKey(testFundID)]
	if !ok {
		t.Fatal("snapshot total was not cached")
	}
	if entry.TotalValue != "20" {
		t.Errorf("cached total = %s, want 20", entry.TotalValue)
	}
}
