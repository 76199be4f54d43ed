// Package models defines the persistence rows backing the fund
// registry. Derived structures (snapshots, valued feeds) live in
// internal/types and are never stored.
package models

import "time"

// Fund represents a tracked venture fund.
type Fund struct {
	ID        string    `json:"id"` // UUID
	Name      string    `json:"name"`
	Firm      string    `json:"firm"` // Classifier bucket, e.g. "Paradigm" or "Other"
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LeaderboardRow is one fund's entry in the value leaderboard.
// TotalValue is a decimal string; nil means the fund's valuation
// wholly failed ("no data"), which is distinct from zero.
type LeaderboardRow struct {
	FundID      string  `json:"fundId"`
	FundName    string  `json:"fundName"`
	Firm        string  `json:"firm"`
	WalletCount int     `json:"walletCount"`
	TotalValue  *string `json:"totalValue"`
}
