package valuation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/fund-tracker/internal/types"
)

// FundInfo identifies the fund a snapshot is built for.
type FundInfo struct {
	ID   string
	Name string
}

// AggregateOptions tunes snapshot construction.
type AggregateOptions struct {
	// QuoteCurrency is recorded on the snapshot; prices are assumed to
	// already be quoted in it.
	QuoteCurrency string
	// DustThreshold hides priced positions below this value from the
	// breakdown. Zero disables the filter. Dust still counts toward the
	// total, and unpriced positions are never treated as dust.
	DustThreshold decimal.Decimal
}

// Aggregate combines holdings across all wallets of one fund into a
// PortfolioSnapshot. It is a pure function: identical holdings and
// prices produce an identical snapshot. The caller stamps GeneratedAt
// and attaches skipped-wallet information.
//
// A token held but absent from prices appears in the breakdown with its
// raw quantity and a nil value, and contributes nothing to the total.
func Aggregate(fund FundInfo, wallets []string, holdings []types.TokenHolding, prices types.PriceMap, opts AggregateOptions) types.PortfolioSnapshot {
	type position struct {
		token    string
		symbol   string
		decimals int
		quantity decimal.Decimal
		wallets  map[string]bool
	}

	byToken := make(map[string]*position)
	order := make([]string, 0)

	for _, h := range holdings {
		key := types.NormalizeToken(h.Token)
		if key == "" {
			continue
		}
		pos, ok := byToken[key]
		if !ok {
			pos = &position{
				token:    key,
				symbol:   h.Symbol,
				decimals: h.Decimals,
				wallets:  make(map[string]bool),
			}
			byToken[key] = pos
			order = append(order, key)
		}
		pos.quantity = pos.quantity.Add(h.Quantity)
		pos.wallets[h.WalletAddress] = true
	}

	total := decimal.Zero
	positions := make([]types.TokenPosition, 0, len(byToken))

	for _, key := range order {
		pos := byToken[key]

		out := types.TokenPosition{
			Token:    pos.token,
			Symbol:   pos.symbol,
			Decimals: pos.decimals,
			Quantity: pos.quantity,
			Wallets:  len(pos.wallets),
		}

		if price, ok := prices.Price(pos.token); ok {
			value := pos.quantity.Mul(price)
			total = total.Add(value)

			if opts.DustThreshold.IsPositive() && value.LessThan(opts.DustThreshold) {
				continue
			}

			unit := price
			out.UnitPrice = &unit
			out.Value = &value
		}

		positions = append(positions, out)
	}

	sortPositions(positions)

	sortedWallets := make([]string, len(wallets))
	copy(sortedWallets, wallets)
	sort.Strings(sortedWallets)

	return types.PortfolioSnapshot{
		FundID:        fund.ID,
		FundName:      fund.Name,
		QuoteCurrency: opts.QuoteCurrency,
		Positions:     positions,
		TotalValue:    total,
		Wallets:       sortedWallets,
	}
}

// sortPositions orders positions by value descending with unpriced
// positions last, breaking ties by quantity then symbol so output is
// stable across runs.
func sortPositions(positions []types.TokenPosition) {
	sort.Slice(positions, func(i, j int) bool {
		a, b := positions[i], positions[j]
		switch {
		case a.Value != nil && b.Value != nil:
			if !a.Value.Equal(*b.Value) {
				return a.Value.GreaterThan(*b.Value)
			}
		case a.Value != nil:
			return true
		case b.Value != nil:
			return false
		}
		if !a.Quantity.Equal(b.Quantity) {
			return a.Quantity.GreaterThan(b.Quantity)
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Token < b.Token
	})
}
