package service

import (
	"context"

	"github.com/fund-tracker/internal/ratelimit"
	"github.com/fund-tracker/internal/types"
)

// BudgetedBalanceFetcher charges the provider credit budget before each
// balance fetch. A drained budget fails only the wallet being fetched,
// so the snapshot pass degrades per wallet instead of failing whole.
type BudgetedBalanceFetcher struct {
	inner BalanceFetcher
	guard *ratelimit.Guard
}

// NewBudgetedBalanceFetcher wraps a balance fetcher with a budget
// guard. A nil guard disables the check.
func NewBudgetedBalanceFetcher(inner BalanceFetcher, guard *ratelimit.Guard) *BudgetedBalanceFetcher {
	return &BudgetedBalanceFetcher{inner: inner, guard: guard}
}

// TokenBalances implements BalanceFetcher.
func (f *BudgetedBalanceFetcher) TokenBalances(ctx context.Context, wallet string) ([]types.TokenHolding, error) {
	if f.guard != nil {
		if err := f.guard.Acquire(ctx, ratelimit.EndpointCovalentBalances); err != nil {
			return nil, err
		}
	}
	return f.inner.TokenBalances(ctx, wallet)
}
