// Package types provides common type definitions for the fund tracker system.
package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransferDirection represents whether a transfer is incoming or outgoing
type TransferDirection string

const (
	// DirectionIn represents an incoming transfer (wallet is recipient)
	DirectionIn TransferDirection = "in"
	// DirectionOut represents an outgoing transfer (wallet is sender)
	DirectionOut TransferDirection = "out"
)

// NativeTokenAddress is the pseudo contract address used for the chain's
// native asset in balance feeds (Covalent convention).
const NativeTokenAddress = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

// NormalizeToken canonicalizes a token contract address for use as a
// PriceMap key or holding identifier.
func NormalizeToken(token string) string {
	return strings.ToLower(strings.TrimSpace(token))
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// Wallet represents a registered blockchain account owned by one fund.
// A wallet belongs to exactly one fund and is immutable once registered.
type Wallet struct {
	Address string `json:"address"` // Lowercase hex address
	FundID  string `json:"fundId"`
	Label   string `json:"label,omitempty"` // Display name from the watchlist source
}

// TokenHolding represents the current quantity of one token in one wallet.
// Each refresh supersedes the previous holding for the same (wallet, token)
// key; no history is retained.
type TokenHolding struct {
	WalletAddress string          `json:"walletAddress"`
	Token         string          `json:"token"`  // Token contract address
	Symbol        string          `json:"symbol"` // Token symbol (e.g., "USDC")
	Decimals      int             `json:"decimals"`
	RawBalance    string          `json:"rawBalance"` // Base-unit balance as reported by the chain
	Quantity      decimal.Decimal `json:"quantity"`   // RawBalance scaled by decimals
}

// PriceMap maps a token contract address to its current unit price in the
// quote currency. Built once per analysis pass and treated as a snapshot;
// tokens with no resolvable price are absent, never zero.
type PriceMap map[string]decimal.Decimal

// Set records the current price for a token.
func (m PriceMap) Set(token string, price decimal.Decimal) {
	m[NormalizeToken(token)] = price
}

// Price returns the current unit price for a token. The second return is
// false when no price is known; callers must treat that as "unknown", not
// as a zero price.
func (m PriceMap) Price(token string) (decimal.Decimal, bool) {
	price, ok := m[NormalizeToken(token)]
	return price, ok
}

// TransferEvent represents an observed token movement for a tracked wallet.
// Immutable fact once observed.
type TransferEvent struct {
	WalletAddress string            `json:"walletAddress"`
	Token         string            `json:"token"`
	Symbol        string            `json:"symbol"`
	Decimals      int               `json:"decimals"`
	RawValue      string            `json:"rawValue"`
	Quantity      decimal.Decimal   `json:"quantity"`
	Direction     TransferDirection `json:"direction"`
	Timestamp     int64             `json:"timestamp"` // Unix timestamp
	Counterparty  string            `json:"counterparty"`
	TxHash        string            `json:"txHash"`
	LogIndex      uint64            `json:"logIndex"`
}

// ValuedTransferEvent is a TransferEvent enriched against the current
// PriceMap. EstimatedValue is nil when the token has no current price;
// consumers must render that as "value unknown", never as zero.
type ValuedTransferEvent struct {
	TransferEvent
	EstimatedValue    *decimal.Decimal `json:"estimatedValue"`
	CounterpartyLabel string           `json:"counterpartyLabel,omitempty"`
}

// TokenPosition represents one token's aggregate position across all
// wallets of a fund. Value is nil when the token has no current price;
// the position is still reported so holdings never silently disappear.
type TokenPosition struct {
	Token     string           `json:"token"`
	Symbol    string           `json:"symbol"`
	Decimals  int              `json:"decimals"`
	Quantity  decimal.Decimal  `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unitPrice"`
	Value     *decimal.Decimal `json:"value"`
	Wallets   int              `json:"wallets"` // Number of wallets holding this token
}

// WalletFailure records a wallet whose fetch failed during an analysis
// pass. Failures are scoped to the wallet that caused them.
type WalletFailure struct {
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

// PortfolioSnapshot is the valued aggregate of one fund's wallets at a
// point in time. Derived and recomputed on demand, never persisted.
// TotalValue covers only priced positions; unpriced holdings appear in
// Positions with a nil Value.
type PortfolioSnapshot struct {
	FundID         string          `json:"fundId"`
	FundName       string          `json:"fundName"`
	QuoteCurrency  string          `json:"quoteCurrency"`
	Positions      []TokenPosition `json:"positions"`
	TotalValue     decimal.Decimal `json:"totalValue"`
	Wallets        []string        `json:"wallets"` // Wallets whose balances are in the snapshot
	SkippedWallets []WalletFailure `json:"skippedWallets,omitempty"`
	GeneratedAt    time.Time       `json:"generatedAt"`
}

// QuantityFromRaw converts a base-unit balance string into a decimal
// quantity using the token's decimals.
func QuantityFromRaw(raw string, decimals int) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Shift(int32(-decimals)), nil
}
