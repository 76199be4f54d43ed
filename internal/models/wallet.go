package models

import "time"

// WalletSource records where a wallet registration came from.
type WalletSource string

const (
	// SourceManual means the wallet was registered through the API.
	SourceManual WalletSource = "manual"
	// SourceWatchlist means the wallet came from the Dune watchlist sync.
	SourceWatchlist WalletSource = "watchlist"
)

// Wallet is the registry row for one blockchain account. The address is
// stored lowercase and carries a unique index, so an address belongs to
// exactly one fund. Rows are immutable once inserted; the sync worker
// only ever adds new wallets and never reassigns existing ones.
type Wallet struct {
	Address    string       `json:"address"`
	FundID     string       `json:"fundId"`
	Label      string       `json:"label,omitempty"` // Display name from the watchlist
	Source     WalletSource `json:"source"`
	AddedAt    time.Time    `json:"addedAt"`
	ArchivedAt *time.Time   `json:"archivedAt,omitempty"` // Last transfer-archive top-up
}
