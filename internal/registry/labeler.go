package registry

import (
	"github.com/fund-tracker/internal/models"
	"github.com/fund-tracker/internal/types"
	"github.com/fund-tracker/internal/valuation"
)

// Labeler resolves counterparty addresses against the wallet registry.
// A registered wallet labels as its fund's name; anything else falls
// back to the shortened address. The index is built once per analysis
// pass from a registry snapshot, so labeling never hits storage.
type Labeler struct {
	names map[string]string // lowercase address -> fund name
}

// NewLabeler builds a labeler from registry wallets and the funds that
// own them.
func NewLabeler(wallets []models.Wallet, funds []models.Fund) *Labeler {
	fundNames := make(map[string]string, len(funds))
	for _, f := range funds {
		fundNames[f.ID] = f.Name
	}

	names := make(map[string]string, len(wallets))
	for _, w := range wallets {
		name, ok := fundNames[w.FundID]
		if !ok {
			continue
		}
		names[types.NormalizeToken(w.Address)] = name
	}

	return &Labeler{names: names}
}

// Label implements valuation.CounterpartyLabeler.
func (l *Labeler) Label(address string) string {
	if name, ok := l.names[types.NormalizeToken(address)]; ok {
		return name
	}
	return valuation.ShortenAddress(address)
}

var _ valuation.CounterpartyLabeler = (*Labeler)(nil)
