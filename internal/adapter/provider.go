package adapter

import (
	"context"

	"github.com/fund-tracker/internal/types"
)

// BalanceSource returns the current token holdings of one wallet.
type BalanceSource interface {
	TokenBalances(ctx context.Context, wallet string) ([]types.TokenHolding, error)
}

// TransferSource returns recent token transfers touching one wallet,
// newest first.
type TransferSource interface {
	TokenTransfers(ctx context.Context, wallet string, limit int) ([]types.TransferEvent, error)
}

// FetchClient bundles the per-wallet feeds the analysis pass needs:
// balances from Covalent, transfers from Etherscan. Either source can
// fail independently; callers scope failures to the wallet they hit.
type FetchClient struct {
	balances  BalanceSource
	transfers TransferSource
}

// NewFetchClient creates a fetch client from the two provider feeds.
func NewFetchClient(balances BalanceSource, transfers TransferSource) *FetchClient {
	return &FetchClient{balances: balances, transfers: transfers}
}

// TokenBalances implements BalanceSource.
func (c *FetchClient) TokenBalances(ctx context.Context, wallet string) ([]types.TokenHolding, error) {
	return c.balances.TokenBalances(ctx, wallet)
}

// TokenTransfers implements TransferSource.
func (c *FetchClient) TokenTransfers(ctx context.Context, wallet string, limit int) ([]types.TransferEvent, error) {
	return c.transfers.TokenTransfers(ctx, wallet, limit)
}

var (
	_ BalanceSource  = (*CovalentClient)(nil)
	_ TransferSource = (*EtherscanClient)(nil)
)
