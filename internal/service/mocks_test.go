package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fund-tracker/internal/models"
	"github.com/fund-tracker/internal/storage"
	"github.com/fund-tracker/internal/types"
	"github.com/fund-tracker/internal/valuation"
)

// Hand-written mocks shared by the service tests.

type mockFundStore struct {
	funds map[string]*models.Fund
}

func newMockFundStore(funds ...*models.Fund) *mockFundStore {
	m := &mockFundStore{funds: make(map[string]*models.Fund)}
	for _, f := range funds {
		m.funds[f.ID] = f
	}
	return m
}

func (m *mockFundStore) Create(ctx context.Context, fund *models.Fund) error {
	if fund.ID == "" {
		fund.ID = fmt.Sprintf("fund-%d", len(m.funds)+1)
	}
	fund.CreatedAt = time.Now().UTC()
	fund.UpdatedAt = fund.CreatedAt
	m.funds[fund.ID] = fund
	return nil
}

func (m *mockFundStore) GetByID(ctx context.Context, id string) (*models.Fund, error) {
	return m.funds[id], nil
}

func (m *mockFundStore) GetByName(ctx context.Context, name string) (*models.Fund, error) {
	for _, f := range m.funds {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, nil
}

func (m *mockFundStore) List(ctx context.Context) ([]models.Fund, error) {
	out := make([]models.Fund, 0, len(m.funds))
	for _, f := range m.funds {
		out = append(out, *f)
	}
	return out, nil
}

type mockWalletStore struct {
	wallets map[string]*models.Wallet // keyed by address
}

func newMockWalletStore(wallets ...*models.Wallet) *mockWalletStore {
	m := &mockWalletStore{wallets: make(map[string]*models.Wallet)}
	for _, w := range wallets {
		m.wallets[w.Address] = w
	}
	return m
}

func (m *mockWalletStore) Create(ctx context.Context, wallet *models.Wallet) error {
	if _, ok := m.wallets[wallet.Address]; ok {
		return storage.ErrWalletExists
	}
	wallet.AddedAt = time.Now().UTC()
	m.wallets[wallet.Address] = wallet
	return nil
}

func (m *mockWalletStore) GetByAddress(ctx context.Context, address string) (*models.Wallet, error) {
	return m.wallets[address], nil
}

func (m *mockWalletStore) ListByFund(ctx context.Context, fundID string) ([]models.Wallet, error) {
	var out []models.Wallet
	for _, w := range m.wallets {
		if w.FundID == fundID {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (m *mockWalletStore) ListAll(ctx context.Context) ([]models.Wallet, error) {
	out := make([]models.Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		out = append(out, *w)
	}
	return out, nil
}

func (m *mockWalletStore) Delete(ctx context.Context, fundID, address string) (bool, error) {
	w, ok := m.wallets[address]
	if !ok || w.FundID != fundID {
		return false, nil
	}
	delete(m.wallets, address)
	return true, nil
}

func (m *mockWalletStore) CountByFund(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, w := range m.wallets {
		counts[w.FundID]++
	}
	return counts, nil
}

// mockBalanceFetcher serves canned holdings per wallet and records which
// wallets were asked for.
type mockBalanceFetcher struct {
	mu       sync.Mutex
	holdings map[string][]types.TokenHolding
	errs     map[string]error
	calls    []string
}

func newMockBalanceFetcher() *mockBalanceFetcher {
	return &mockBalanceFetcher{
		holdings: make(map[string][]types.TokenHolding),
		errs:     make(map[string]error),
	}
}

func (m *mockBalanceFetcher) TokenBalances(ctx context.Context, wallet string) ([]types.TokenHolding, error) {
	m.mu.Lock()
	m.calls = append(m.calls, wallet)
	m.mu.Unlock()

	if err, ok := m.errs[wallet]; ok {
		return nil, err
	}
	return m.holdings[wallet], nil
}

// mockTransferFetcher serves canned transfer events per wallet.
type mockTransferFetcher struct {
	events map[string][]types.TransferEvent
	errs   map[string]error
}

func newMockTransferFetcher() *mockTransferFetcher {
	return &mockTransferFetcher{
		events: make(map[string][]types.TransferEvent),
		errs:   make(map[string]error),
	}
}

func (m *mockTransferFetcher) TokenTransfers(ctx context.Context, wallet string, limit int) ([]types.TransferEvent, error) {
	if err, ok := m.errs[wallet]; ok {
		return nil, err
	}
	return m.events[wallet], nil
}

// mockSnapshotCache is an in-memory SnapshotCache.
type mockSnapshotCache struct {
	mu      sync.Mutex
	entries map[string]storage.CachedSnapshotTotal
}

func newMockSnapshotCache() *mockSnapshotCache {
	return &mockSnapshotCache{entries: make(map[string]storage.CachedSnapshotTotal)}
}

func (m *mockSnapshotCache) SnapshotKey(fundID string) string {
	return "snapshot:" + fundID
}

func (m *mockSnapshotCache) Set(ctx context.Context, keyType storage.CacheKeyType, key string, value interface{}) error {
	entry, ok := value.(storage.CachedSnapshotTotal)
	if !ok {
		return fmt.Errorf("unexpected cache value type %T", value)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry
	return nil
}

func (m *mockSnapshotCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	out, isTotal := dest.(*storage.CachedSnapshotTotal)
	if !isTotal {
		return false, fmt.Errorf("unexpected cache dest type %T", dest)
	}
	*out = entry
	return true, nil
}

// fixedPriceLookup prices tokens from a static table and counts lookups
// per contract.
type fixedPriceLookup struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	calls  map[string]int
}

func newFixedPriceLookup(prices map[string]decimal.Decimal) *fixedPriceLookup {
	return &fixedPriceLookup{prices: prices, calls: make(map[string]int)}
}

func (l *fixedPriceLookup) CurrentPrice(ctx context.Context, token valuation.TokenRef) (*decimal.Decimal, error) {
	l.mu.Lock()
	l.calls[token.Contract]++
	l.mu.Unlock()

	if price, ok := l.prices[token.Contract]; ok {
		p := price
		return &p, nil
	}
	return nil, nil
}

func holding(wallet, token, symbol string, quantity int64) types.TokenHolding {
	return types.TokenHolding{
		WalletAddress: wallet,
		Token:         token,
		Symbol:        symbol,
		Decimals:      18,
		Quantity:      decimal.NewFromInt(quantity),
	}
}

func transfer(wallet, token string, direction types.TransferDirection, quantity, timestamp int64, txHash string, logIndex uint64) types.TransferEvent {
	return types.TransferEvent{
		WalletAddress: wallet,
		Token:         token,
		Symbol:        "TOK",
		Decimals:      18,
		Quantity:      decimal.NewFromInt(quantity),
		Direction:     direction,
		Timestamp:     timestamp,
		Counterparty:  "0xcccccccccccccccccccccccccccccccccccccccc",
		TxHash:        txHash,
		LogIndex:      logIndex,
	}
}
