package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fund-tracker/internal/adapter"
	"github.com/fund-tracker/internal/models"
	"github.com/fund-tracker/internal/storage"
	"github.com/fund-tracker/internal/types"
)

const (
	watchWalletOne = "0x1111111111111111111111111111111111111111"
	watchWalletTwo = "0x2222222222222222222222222222222222222222"
)

type mockWatchlist struct {
	entries []adapter.WatchlistEntry
	err     error
}

func (m *mockWatchlist) FetchWatchlist(ctx context.Context) ([]adapter.WatchlistEntry, error) {
	return m.entries, m.err
}

type mockFundStore struct {
	funds map[string]*models.Fund
	seq   int
}

func newMockFundStore() *mockFundStore {
	return &mockFundStore{funds: make(map[string]*models.Fund)}
}

func (m *mockFundStore) GetByName(ctx context.Context, name string) (*models.Fund, error) {
	return m.funds[name], nil
}

func (m *mockFundStore) Create(ctx context.Context, fund *models.Fund) error {
	m.seq++
	fund.ID = fund.Name
	m.funds[fund.Name] = fund
	return nil
}

type mockWalletStore struct {
	wallets map[string]*models.Wallet
}

func newMockWalletStore(wallets ...*models.Wallet) *mockWalletStore {
	m := &mockWalletStore{wallets: make(map[string]*models.Wallet)}
	for _, w := range wallets {
		m.wallets[w.Address] = w
	}
	return m
}

func (m *mockWalletStore) GetByAddress(ctx context.Context, address string) (*models.Wallet, error) {
	return m.wallets[address], nil
}

func (m *mockWalletStore) Create(ctx context.Context, wallet *models.Wallet) error {
	m.wallets[wallet.Address] = wallet
	return nil
}

func (m *mockWalletStore) ListStalest(ctx context.Context, limit int) ([]models.Wallet, error) {
	var out []models.Wallet
	for _, w := range m.wallets {
		out = append(out, *w)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockWalletStore) MarkArchived(ctx context.Context, address string, at time.Time) error {
	if w, ok := m.wallets[address]; ok {
		w.ArchivedAt = &at
	}
	return nil
}

type mockTransferSource struct {
	events map[string][]types.TransferEvent
	errs   map[string]error
}

func (m *mockTransferSource) TokenTransfers(ctx context.Context, wallet string, limit int) ([]types.TransferEvent, error) {
	if err := m.errs[wallet]; err != nil {
		return nil, err
	}
	return m.events[wallet], nil
}

type mockArchive struct {
	inserted []types.TransferEvent
	latest   map[string]time.Time
}

func (m *mockArchive) Insert(ctx context.Context, events []types.TransferEvent) error {
	m.inserted = append(m.inserted, events...)
	return nil
}

func (m *mockArchive) LatestEventTime(ctx context.Context, wallet string) (time.Time, error) {
	return m.latest[wallet], nil
}

// mockWatchlistCache round-trips through JSON like the real cache.
type mockWatchlistCache struct {
	data map[string][]byte
}

func newMockWatchlistCache() *mockWatchlistCache {
	return &mockWatchlistCache{data: make(map[string][]byte)}
}

func (m *mockWatchlistCache) WatchlistKey() string { return "watchlist" }

func (m *mockWatchlistCache) Set(ctx context.Context, keyType storage.CacheKeyType, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = data
	return nil
}

func (m *mockWatchlistCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func newTestWorker(t *testing.T, cfg *SyncWorkerConfig) *SyncWorker {
	t.Helper()
	w, err := NewSyncWorker(cfg)
	if err != nil {
		t.Fatalf("NewSyncWorker: %v", err)
	}
	return w
}

func TestSyncWatchlistRegistersNewWallets(t *testing.T) {
	funds := newMockFundStore()
	wallets := newMockWalletStore()

	w := newTestWorker(t, &SyncWorkerConfig{
		Watchlist: &mockWatchlist{entries: []adapter.WatchlistEntry{
			{Name: "Paradigm Treasury", Address: watchWalletOne},
			{Name: "Some Unknown DAO", Address: watchWalletTwo},
		}},
		Funds:   funds,
		Wallets: wallets,
	})

	if err := w.SyncWatchlist(context.Background()); err != nil {
		t.Fatalf("SyncWatchlist: %v", err)
	}

	one := wallets.wallets[watchWalletOne]
	if one == nil {
		t.Fatal("expected first wallet registered")
	}
	if one.FundID != "Paradigm" {
		t.Errorf("fund = %q, want Paradigm", one.FundID)
	}
	if one.Source != models.SourceWatchlist {
		t.Errorf("source = %q, want %q", one.Source, models.SourceWatchlist)
	}
	if one.Label != "Paradigm Treasury" {
		t.Errorf("label = %q", one.Label)
	}

	two := wallets.wallets[watchWalletTwo]
	if two == nil || two.FundID != "Other" {
		t.Errorf("unmatched name should land in Other, got %+v", two)
	}
}

func TestSyncWatchlistNeverReassigns(t *testing.T) {
	funds := newMockFundStore()
	wallets := newMockWalletStore(&models.Wallet{
		Address: watchWalletOne,
		FundID:  "manual-fund",
		Source:  models.SourceManual,
	})

	w := newTestWorker(t, &SyncWorkerConfig{
		Watchlist: &mockWatchlist{entries: []adapter.WatchlistEntry{
			{Name: "Paradigm Treasury", Address: watchWalletOne},
		}},
		Funds:   funds,
		Wallets: wallets,
	})

	if err := w.SyncWatchlist(context.Background()); err != nil {
		t.Fatalf("SyncWatchlist: %v", err)
	}

	got := wallets.wallets[watchWalletOne]
	if got.FundID != "manual-fund" || got.Source != models.SourceManual {
		t.Errorf("manually registered wallet was reassigned: %+v", got)
	}
}

func TestSyncWatchlistSkipsInvalidAddresses(t *testing.T) {
	funds := newMockFundStore()
	wallets := newMockWalletStore()

	w := newTestWorker(t, &SyncWorkerConfig{
		Watchlist: &mockWatchlist{entries: []adapter.WatchlistEntry{
			{Name: "Broken Entry", Address: "not-an-address"},
			{Name: "Good Entry", Address: watchWalletOne},
		}},
		Funds:   funds,
		Wallets: wallets,
	})

	if err := w.SyncWatchlist(context.Background()); err != nil {
		t.Fatalf("SyncWatchlist: %v", err)
	}

	if len(wallets.wallets) != 1 {
		t.Errorf("registered %d wallets, want 1", len(wallets.wallets))
	}
}

func TestTopUpArchiveMarksWallets(t *testing.T) {
	wallets := newMockWalletStore(
		&models.Wallet{Address: watchWalletOne, FundID: "f1"},
	)
	archive := &mockArchive{}
	transfers := &mockTransferSource{events: map[string][]types.TransferEvent{
		watchWalletOne: {{WalletAddress: watchWalletOne, TxHash: "0xaa"}},
	}}

	w := newTestWorker(t, &SyncWorkerConfig{
		Funds:     newMockFundStore(),
		Wallets:   wallets,
		Transfers: transfers,
		Archive:   archive,
	})

	if err := w.TopUpArchive(context.Background()); err != nil {
		t.Fatalf("TopUpArchive: %v", err)
	}

	if len(archive.inserted) != 1 {
		t.Fatalf("archived %d events, want 1", len(archive.inserted))
	}
	if wallets.wallets[watchWalletOne].ArchivedAt == nil {
		t.Error("wallet not marked archived")
	}
}

func TestTopUpArchiveContinuesPastFailedWallet(t *testing.T) {
	wallets := newMockWalletStore(
		&models.Wallet{Address: watchWalletOne, FundID: "f1"},
		&models.Wallet{Address: watchWalletTwo, FundID: "f1"},
	)
	archive := &mockArchive{}
	transfers := &mockTransferSource{
		events: map[string][]types.TransferEvent{
			watchWalletTwo: {{WalletAddress: watchWalletTwo, TxHash: "0xbb"}},
		},
		errs: map[string]error{watchWalletOne: context.DeadlineExceeded},
	}

	w := newTestWorker(t, &SyncWorkerConfig{
		Funds:     newMockFundStore(),
		Wallets:   wallets,
		Transfers: transfers,
		Archive:   archive,
	})

	if err := w.TopUpArchive(context.Background()); err != nil {
		t.Fatalf("TopUpArchive: %v", err)
	}

	if len(archive.inserted) != 1 {
		t.Errorf("archived %d events, want 1", len(archive.inserted))
	}
	if wallets.wallets[watchWalletOne].ArchivedAt != nil {
		t.Error("failed wallet must not be marked archived")
	}
	if wallets.wallets[watchWalletTwo].ArchivedAt == nil {
		t.Error("healthy wallet should be marked archived")
	}
}

func TestSyncWatchlistFallsBackToCachedCopy(t *testing.T) {
	funds := newMockFundStore()
	wallets := newMockWalletStore()
	cache := newMockWatchlistCache()

	// First cycle fetches and caches the watchlist
	source := &mockWatchlist{entries: []adapter.WatchlistEntry{
		{Name: "Paradigm Treasury", Address: watchWalletOne},
	}}
	w := newTestWorker(t, &SyncWorkerConfig{
		Watchlist: source,
		Funds:     funds,
		Wallets:   wallets,
		Cache:     cache,
	})
	if err := w.SyncWatchlist(context.Background()); err != nil {
		t.Fatalf("SyncWatchlist: %v", err)
	}

	// Second cycle: Dune is down, the cached copy still registers
	delete(wallets.wallets, watchWalletOne)
	source.entries = nil
	source.err = errors.New("dune: 502")

	if err := w.SyncWatchlist(context.Background()); err != nil {
		t.Fatalf("SyncWatchlist with cached copy: %v", err)
	}
	if wallets.wallets[watchWalletOne] == nil {
		t.Error("expected wallet registered from the cached watchlist")
	}
}

func TestSyncWatchlistFetchFailureWithoutCache(t *testing.T) {
	w := newTestWorker(t, &SyncWorkerConfig{
		Watchlist: &mockWatchlist{err: errors.New("dune: 502")},
		Funds:     newMockFundStore(),
		Wallets:   newMockWalletStore(),
	})

	if err := w.SyncWatchlist(context.Background()); err == nil {
		t.Fatal("expected error when the fetch fails and nothing is cached")
	}
}

func TestTopUpArchiveSkipsEventsBehindWatermark(t *testing.T) {
	wallets := newMockWalletStore(
		&models.Wallet{Address: watchWalletOne, FundID: "f1"},
	)
	archive := &mockArchive{latest: map[string]time.Time{
		watchWalletOne: time.Unix(1000, 0).UTC(),
	}}
	transfers := &mockTransferSource{events: map[string][]types.TransferEvent{
		watchWalletOne: {
			{WalletAddress: watchWalletOne, TxHash: "0xold", Timestamp: 500},
			{WalletAddress: watchWalletOne, TxHash: "0xnew", Timestamp: 1500},
		},
	}}

	w := newTestWorker(t, &SyncWorkerConfig{
		Funds:     newMockFundStore(),
		Wallets:   wallets,
		Transfers: transfers,
		Archive:   archive,
	})

	if err := w.TopUpArchive(context.Background()); err != nil {
		t.Fatalf("TopUpArchive: %v", err)
	}

	if len(archive.inserted) != 1 {
		t.Fatalf("archived %d events, want 1", len(archive.inserted))
	}
	if archive.inserted[0].TxHash != "0xnew" {
		t.Errorf("archived %s, want the event past the watermark", archive.inserted[0].TxHash)
	}
	if wallets.wallets[watchWalletOne].ArchivedAt == nil {
		t.Error("wallet not marked archived")
	}
}

func TestArchiveQueueStalestFirst(t *testing.T) {
	old := time.Now().Add(-2 * time.Hour)
	recent := time.Now().Add(-time.Minute)

	q := NewArchiveQueue()
	q.Refresh([]models.Wallet{
		{Address: "0xrecent", ArchivedAt: &recent},
		{Address: "0xnever"},
		{Address: "0xold", ArchivedAt: &old},
	})

	batch := q.Next(3)
	if len(batch) != 3 {
		t.Fatalf("batch size = %d, want 3", len(batch))
	}
	want := []string{"0xnever", "0xold", "0xrecent"}
	for i, addr := range want {
		if batch[i].Address != addr {
			t.Errorf("batch[%d] = %s, want %s", i, batch[i].Address, addr)
		}
	}

	if q.Len() != 0 {
		t.Errorf("queue len = %d, want 0", q.Len())
	}
}
