package worker

import (
	"sort"
	"sync"

	"github.com/fund-tracker/internal/models"
)

// ArchiveQueue orders wallets for archive top-ups, stalest first.
// Wallets that have never been archived always come before wallets
// with any archive history.
type ArchiveQueue struct {
	wallets []models.Wallet
	mu      sync.Mutex
}

// NewArchiveQueue creates an empty archive queue.
func NewArchiveQueue() *ArchiveQueue {
	return &ArchiveQueue{}
}

// Refresh replaces the queue contents and re-sorts stalest first.
func (q *ArchiveQueue) Refresh(wallets []models.Wallet) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.wallets = make([]models.Wallet, len(wallets))
	copy(q.wallets, wallets)

	sort.SliceStable(q.wallets, func(i, j int) bool {
		a, b := q.wallets[i].ArchivedAt, q.wallets[j].ArchivedAt
		if a == nil && b == nil {
			return q.wallets[i].AddedAt.Before(q.wallets[j].AddedAt)
		}
		if a == nil {
			return true
		}
		if b == nil {
			return false
		}
		return a.Before(*b)
	})
}

// Next removes and returns up to n wallets from the front of the queue.
func (q *ArchiveQueue) Next(n int) []models.Wallet {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || len(q.wallets) == 0 {
		return nil
	}
	if n > len(q.wallets) {
		n = len(q.wallets)
	}

	batch := make([]models.Wallet, n)
	copy(batch, q.wallets[:n])
	q.wallets = q.wallets[n:]

	return batch
}

// Len returns the number of queued wallets.
func (q *ArchiveQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.wallets)
}
