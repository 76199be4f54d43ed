// Package worker runs the background registry sync and transfer
// archive top-up on a fixed cadence.
package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fund-tracker/internal/adapter"
	"github.com/fund-tracker/internal/logging"
	"github.com/fund-tracker/internal/models"
	"github.com/fund-tracker/internal/ratelimit"
	"github.com/fund-tracker/internal/registry"
	"github.com/fund-tracker/internal/storage"
	"github.com/fund-tracker/internal/types"
)

// WatchlistSource provides the externally curated wallet watchlist.
type WatchlistSource interface {
	FetchWatchlist(ctx context.Context) ([]adapter.WatchlistEntry, error)
}

// TransferSource fetches a wallet's token transfer history.
type TransferSource interface {
	TokenTransfers(ctx context.Context, wallet string, limit int) ([]types.TransferEvent, error)
}

// FundStore is the fund registry surface the worker needs.
type FundStore interface {
	GetByName(ctx context.Context, name string) (*models.Fund, error)
	Create(ctx context.Context, fund *models.Fund) error
}

// WalletStore is the wallet registry surface the worker needs.
type WalletStore interface {
	GetByAddress(ctx context.Context, address string) (*models.Wallet, error)
	Create(ctx context.Context, wallet *models.Wallet) error
	ListStalest(ctx context.Context, limit int) ([]models.Wallet, error)
	MarkArchived(ctx context.Context, address string, at time.Time) error
}

// EventArchive persists transfer events for later history reads.
// LatestEventTime is the top-up watermark: events at or before it are
// already archived and are not re-inserted.
type EventArchive interface {
	Insert(ctx context.Context, events []types.TransferEvent) error
	LatestEventTime(ctx context.Context, wallet string) (time.Time, error)
}

// WatchlistCache stores the last good watchlist fetch so a Dune outage
// does not stall registration for a whole cycle.
type WatchlistCache interface {
	WatchlistKey() string
	Set(ctx context.Context, keyType storage.CacheKeyType, key string, value interface{}) error
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
}

// archiveFetchLimit is how deep a single top-up reads per wallet.
const archiveFetchLimit = 1000

// SyncWorker periodically syncs the Dune watchlist into the registry
// and tops up the transfer archive for registered wallets.
type SyncWorker struct {
	watchlist WatchlistSource
	transfers TransferSource
	funds     FundStore
	wallets   WalletStore
	archive   EventArchive
	cache     WatchlistCache
	budgets   []*ratelimit.BudgetTracker

	refreshInterval time.Duration
	pageSize        int

	queue   *ArchiveQueue
	running bool
	mu      sync.RWMutex
	stopCh  chan struct{}
	doneCh  chan struct{}

	lastRunTime       time.Time
	walletsArchived   int
	walletsRegistered int

	logger *logging.Logger
}

// SyncWorkerConfig holds configuration for the sync worker.
type SyncWorkerConfig struct {
	Watchlist WatchlistSource
	Transfers TransferSource
	Funds     FundStore
	Wallets   WalletStore
	Archive   EventArchive

	// Cache keeps the last good watchlist; nil disables the fallback.
	Cache WatchlistCache

	// Budgets are checked before each archive top-up. When any budget
	// is near exhaustion the top-up is skipped for this cycle so the
	// serving path keeps its headroom.
	Budgets []*ratelimit.BudgetTracker

	RefreshInterval time.Duration
	ArchivePageSize int
}

// NewSyncWorker creates a new sync worker.
func NewSyncWorker(cfg *SyncWorkerConfig) (*SyncWorker, error) {
	if cfg.Funds == nil {
		return nil, fmt.Errorf("fund store cannot be nil")
	}
	if cfg.Wallets == nil {
		return nil, fmt.Errorf("wallet store cannot be nil")
	}

	refreshInterval := cfg.RefreshInterval
	if refreshInterval <= 0 {
		refreshInterval = time.Hour
	}

	pageSize := cfg.ArchivePageSize
	if pageSize <= 0 {
		pageSize = 25
	}

	return &SyncWorker{
		watchlist:       cfg.Watchlist,
		transfers:       cfg.Transfers,
		funds:           cfg.Funds,
		wallets:         cfg.Wallets,
		archive:         cfg.Archive,
		cache:           cfg.Cache,
		budgets:         cfg.Budgets,
		refreshInterval: refreshInterval,
		pageSize:        pageSize,
		queue:           NewArchiveQueue(),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
		logger:          logging.GetGlobalLogger().Component("sync-worker"),
	}, nil
}

// Start begins the periodic sync loop.
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("sync worker is already running")
	}
	w.running = true
	w.mu.Unlock()

	w.logger.WithField("interval", w.refreshInterval.String()).Info("Starting sync worker")

	go w.loop(ctx)

	return nil
}

// Stop gracefully stops the worker.
func (w *SyncWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("sync worker is not running")
	}
	w.mu.Unlock()

	close(w.stopCh)

	select {
	case <-w.doneCh:
		w.logger.Info("Sync worker stopped")
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("stop timeout")
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	return nil
}

// loop runs sync cycles until stopped. The first cycle runs
// immediately so a fresh deployment does not sit idle for a full
// interval.
func (w *SyncWorker) loop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.refreshInterval)
	defer ticker.Stop()

	w.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

// runCycle executes one watchlist sync plus one archive top-up pass.
func (w *SyncWorker) runCycle(ctx context.Context) {
	w.mu.Lock()
	w.lastRunTime = time.Now().UTC()
	w.mu.Unlock()

	if err := w.SyncWatchlist(ctx); err != nil {
		w.logger.WithError(err).Warn("Watchlist sync failed")
	}

	if err := w.TopUpArchive(ctx); err != nil {
		w.logger.WithError(err).Warn("Archive top-up failed")
	}
}

// SyncWatchlist pulls the Dune watchlist and registers wallets that
// are not yet tracked. A wallet already assigned to a fund is never
// reassigned, so manual curation always wins over the watchlist.
func (w *SyncWorker) SyncWatchlist(ctx context.Context) error {
	if w.watchlist == nil {
		return nil
	}

	entries, err := w.watchlist.FetchWatchlist(ctx)
	if err != nil {
		cached, ok := w.cachedWatchlist(ctx)
		if !ok {
			return fmt.Errorf("fetching watchlist: %w", err)
		}
		w.logger.WithError(err).Warn("Watchlist fetch failed, syncing from cached copy")
		entries = cached
	} else {
		w.cacheWatchlist(ctx, entries)
	}

	registered := 0
	for _, entry := range entries {
		address := strings.ToLower(strings.TrimSpace(entry.Address))
		if err := storage.ValidateAddress(address); err != nil {
			w.logger.WithField("address", entry.Address).Debug("Skipping invalid watchlist address")
			continue
		}

		existing, err := w.wallets.GetByAddress(ctx, address)
		if err != nil {
			return fmt.Errorf("checking wallet %s: %w", address, err)
		}
		if existing != nil {
			continue
		}

		fund, err := w.firmFund(ctx, entry.Name)
		if err != nil {
			return err
		}

		wallet := &models.Wallet{
			Address: address,
			FundID:  fund.ID,
			Label:   entry.Name,
			Source:  models.SourceWatchlist,
		}
		if err := w.wallets.Create(ctx, wallet); err != nil {
			if err == storage.ErrWalletExists {
				// Raced with a manual registration; the existing owner keeps it.
				continue
			}
			return fmt.Errorf("registering wallet %s: %w", address, err)
		}
		registered++
	}

	w.mu.Lock()
	w.walletsRegistered = registered
	w.mu.Unlock()

	w.logger.WithFields(map[string]interface{}{
		"entries":    len(entries),
		"registered": registered,
	}).Info("Watchlist synced")

	return nil
}

// cacheWatchlist stores the fetched watchlist for the next cycle.
func (w *SyncWorker) cacheWatchlist(ctx context.Context, entries []adapter.WatchlistEntry) {
	if w.cache == nil {
		return
	}
	if err := w.cache.Set(ctx, storage.CacheKeyWatchlist, w.cache.WatchlistKey(), entries); err != nil {
		w.logger.WithError(err).Warn("Watchlist cache write failed")
	}
}

// cachedWatchlist reads the last good watchlist, if any.
func (w *SyncWorker) cachedWatchlist(ctx context.Context) ([]adapter.WatchlistEntry, bool) {
	if w.cache == nil {
		return nil, false
	}
	var entries []adapter.WatchlistEntry
	hit, err := w.cache.Get(ctx, w.cache.WatchlistKey(), &entries)
	if err != nil {
		w.logger.WithError(err).Warn("Watchlist cache read failed")
		return nil, false
	}
	if !hit || len(entries) == 0 {
		return nil, false
	}
	return entries, true
}

// firmFund finds or creates the fund for a watchlist entry's firm
// bucket.
func (w *SyncWorker) firmFund(ctx context.Context, walletName string) (*models.Fund, error) {
	firm := registry.ClassifyFirm(walletName)

	fund, err := w.funds.GetByName(ctx, firm)
	if err != nil {
		return nil, fmt.Errorf("looking up fund %s: %w", firm, err)
	}
	if fund != nil {
		return fund, nil
	}

	fund = &models.Fund{Name: firm, Firm: firm}
	if err := w.funds.Create(ctx, fund); err != nil {
		return nil, fmt.Errorf("creating fund %s: %w", firm, err)
	}

	w.logger.WithField("fund", firm).Info("Created fund for watchlist firm")
	return fund, nil
}

// TopUpArchive fetches transfer history for the stalest wallets and
// appends it to the archive. Skipped entirely when any provider budget
// is near exhaustion.
func (w *SyncWorker) TopUpArchive(ctx context.Context) error {
	if w.transfers == nil || w.archive == nil {
		return nil
	}

	for _, budget := range w.budgets {
		exhausted, err := budget.IsExhausted(ctx)
		if err != nil {
			w.logger.WithError(err).Warn("Budget check failed, skipping archive top-up")
			return nil
		}
		if exhausted {
			w.logger.WithField("provider", budget.Provider()).Info("Provider budget near exhaustion, skipping archive top-up")
			return nil
		}
	}

	stalest, err := w.wallets.ListStalest(ctx, w.pageSize)
	if err != nil {
		return fmt.Errorf("listing stalest wallets: %w", err)
	}
	w.queue.Refresh(stalest)

	archived := 0
	for _, wallet := range w.queue.Next(w.pageSize) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		events, err := w.transfers.TokenTransfers(ctx, wallet.Address, archiveFetchLimit)
		if err != nil {
			// One wallet's failure must not stall the rest of the batch.
			w.logger.WithError(err).WithField("wallet", wallet.Address).Warn("Transfer fetch failed")
			continue
		}

		watermark, err := w.archive.LatestEventTime(ctx, wallet.Address)
		if err != nil {
			// The archive engine dedupes re-inserts, so an unknown
			// watermark just means re-archiving the full page.
			w.logger.WithError(err).WithField("wallet", wallet.Address).Warn("Archive watermark read failed")
			watermark = time.Time{}
		}
		events = eventsAfter(events, watermark)

		if len(events) > 0 {
			if err := w.archive.Insert(ctx, events); err != nil {
				w.logger.WithError(err).WithField("wallet", wallet.Address).Warn("Archive insert failed")
				continue
			}
		}

		if err := w.wallets.MarkArchived(ctx, wallet.Address, time.Now().UTC()); err != nil {
			w.logger.WithError(err).WithField("wallet", wallet.Address).Warn("Failed to mark wallet archived")
			continue
		}
		archived++
	}

	w.mu.Lock()
	w.walletsArchived = archived
	w.mu.Unlock()

	w.logger.WithFields(map[string]interface{}{
		"candidates": len(stalest),
		"archived":   archived,
	}).Info("Archive top-up complete")

	return nil
}

// eventsAfter keeps only events strictly newer than the watermark.
func eventsAfter(events []types.TransferEvent, watermark time.Time) []types.TransferEvent {
	if watermark.IsZero() {
		return events
	}
	cutoff := watermark.Unix()
	fresh := make([]types.TransferEvent, 0, len(events))
	for _, event := range events {
		if event.Timestamp > cutoff {
			fresh = append(fresh, event)
		}
	}
	return fresh
}

// Status reports the worker's last cycle counters.
type Status struct {
	Running           bool
	LastRunTime       time.Time
	WalletsRegistered int
	WalletsArchived   int
}

// GetStatus returns current worker status.
func (w *SyncWorker) GetStatus() *Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return &Status{
		Running:           w.running,
		LastRunTime:       w.lastRunTime,
		WalletsRegistered: w.walletsRegistered,
		WalletsArchived:   w.walletsArchived,
	}
}
