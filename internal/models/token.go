package models

import "time"

// Token is the metadata row for a token contract seen in any tracked
// wallet. CoinGeckoID is resolved lazily on first price lookup and may
// stay nil for tokens CoinGecko does not know.
type Token struct {
	Contract    string    `json:"contract"` // Lowercase contract address
	Symbol      string    `json:"symbol"`
	Name        string    `json:"name,omitempty"`
	Decimals    int       `json:"decimals"`
	CoinGeckoID *string   `json:"coinGeckoId,omitempty"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
