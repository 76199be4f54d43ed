// Package valuation implements the portfolio analysis pass: building a
// current-price snapshot, aggregating holdings into a valued portfolio,
// enriching transfer activity, and the on-demand acquisition cost
// estimate. Everything here works on plain data and injected lookups;
// fetching and persistence live elsewhere.
package valuation

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/fund-tracker/internal/logging"
	"github.com/fund-tracker/internal/types"
)

// TokenRef identifies a token for price resolution. Contract is the
// canonical identifier; Symbol and Decimals ride along for providers
// that need them.
type TokenRef struct {
	Contract string
	Symbol   string
	Decimals int
}

// PriceLookup resolves the current unit price of a token in the quote
// currency. A nil price with a nil error means the price is unavailable,
// which is a normal outcome for early-stage tokens.
type PriceLookup interface {
	CurrentPrice(ctx context.Context, token TokenRef) (*decimal.Decimal, error)
}

// PriceLookupFunc adapts a function to the PriceLookup interface.
type PriceLookupFunc func(ctx context.Context, token TokenRef) (*decimal.Decimal, error)

// CurrentPrice implements PriceLookup.
func (f PriceLookupFunc) CurrentPrice(ctx context.Context, token TokenRef) (*decimal.Decimal, error) {
	return f(ctx, token)
}

// PriceMapBuilder produces the price snapshot for one analysis pass.
// Each distinct token is looked up exactly once per Build call; lookups
// fan out across a bounded worker pool and one token's failure never
// blocks the others.
type PriceMapBuilder struct {
	lookup      PriceLookup
	concurrency int
	logger      *logging.Logger
}

// NewPriceMapBuilder creates a builder. Concurrency values below one
// fall back to serial lookups.
func NewPriceMapBuilder(lookup PriceLookup, concurrency int, logger *logging.Logger) *PriceMapBuilder {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &PriceMapBuilder{
		lookup:      lookup,
		concurrency: concurrency,
		logger:      logger.Component("pricemap"),
	}
}

// Build resolves current prices for the given tokens. Tokens are
// deduplicated by contract address before any lookup is issued, so the
// number of provider calls equals the number of distinct tokens at most.
// Tokens with no resolvable price are absent from the result.
func (b *PriceMapBuilder) Build(ctx context.Context, tokens []TokenRef) types.PriceMap {
	distinct := dedupTokens(tokens)

	prices := types.PriceMap{}
	if len(distinct) == 0 {
		return prices
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan TokenRef)
	)

	workers := b.concurrency
	if workers > len(distinct) {
		workers = len(distinct)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for token := range jobs {
				price, err := b.lookup.CurrentPrice(ctx, token)
				if err != nil {
					b.logger.WithFields(map[string]interface{}{
						"token":  token.Contract,
						"symbol": token.Symbol,
						"error":  err.Error(),
					}).Warn("Price lookup failed, token stays unpriced")
					continue
				}
				if price == nil {
					b.logger.WithFields(map[string]interface{}{
						"token":  token.Contract,
						"symbol": token.Symbol,
					}).Debug("No current price available")
					continue
				}
				mu.Lock()
				prices.Set(token.Contract, *price)
				mu.Unlock()
			}
		}()
	}

	for _, token := range distinct {
		select {
		case jobs <- token:
		case <-ctx.Done():
			// Stop feeding work; tokens not yet looked up stay absent.
			close(jobs)
			wg.Wait()
			return prices
		}
	}
	close(jobs)
	wg.Wait()

	b.logger.WithFields(map[string]interface{}{
		"requested": len(distinct),
		"resolved":  len(prices),
	}).Debug("Price map built")

	return prices
}

// dedupTokens collapses tokens by normalized contract address. The first
// occurrence wins, so metadata from the earliest holding is kept.
func dedupTokens(tokens []TokenRef) []TokenRef {
	seen := make(map[string]bool, len(tokens))
	distinct := make([]TokenRef, 0, len(tokens))
	for _, token := range tokens {
		key := types.NormalizeToken(token.Contract)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		token.Contract = key
		distinct = append(distinct, token)
	}
	return distinct
}

// TokensFromHoldings collects the distinct tokens referenced by a set of
// holdings.
func TokensFromHoldings(holdings []types.TokenHolding) []TokenRef {
	tokens := make([]TokenRef, 0, len(holdings))
	for _, h := range holdings {
		tokens = append(tokens, TokenRef{Contract: h.Token, Symbol: h.Symbol, Decimals: h.Decimals})
	}
	return dedupTokens(tokens)
}

// TokensFromTransfers collects the distinct tokens referenced by a
// transfer feed.
func TokensFromTransfers(events []types.TransferEvent) []TokenRef {
	tokens := make([]TokenRef, 0, len(events))
	for _, e := range events {
		tokens = append(tokens, TokenRef{Contract: e.Token, Symbol: e.Symbol, Decimals: e.Decimals})
	}
	return dedupTokens(tokens)
}
