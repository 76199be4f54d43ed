package valuation

import (
	"github.com/fund-tracker/internal/types"
)

// CounterpartyLabeler maps a counterparty address to a display label.
// Registered wallets resolve to their fund's name; anything else falls
// back to a shortened address.
type CounterpartyLabeler interface {
	Label(address string) string
}

// LabelerFunc adapts a function to the CounterpartyLabeler interface.
type LabelerFunc func(address string) string

// Label implements CounterpartyLabeler.
func (f LabelerFunc) Label(address string) string { return f(address) }

// EnrichTransfers applies the current price map to a transfer feed.
// The output has the same length and order as the input. Current prices
// are applied retroactively to historical events; per-event historical
// pricing is deliberately not attempted here, it belongs to the P&L
// path. An event whose token has no map entry gets a nil EstimatedValue,
// never zero.
func EnrichTransfers(events []types.TransferEvent, prices types.PriceMap, labeler CounterpartyLabeler) []types.ValuedTransferEvent {
	enriched := make([]types.ValuedTransferEvent, 0, len(events))

	for _, event := range events {
		valued := types.ValuedTransferEvent{TransferEvent: event}

		if price, ok := prices.Price(event.Token); ok {
			value := event.Quantity.Mul(price)
			valued.EstimatedValue = &value
		}

		if labeler != nil {
			valued.CounterpartyLabel = labeler.Label(event.Counterparty)
		} else {
			valued.CounterpartyLabel = ShortenAddress(event.Counterparty)
		}

		enriched = append(enriched, valued)
	}

	return enriched
}

// ShortenAddress renders an address as "0x1234...abcd" for display.
// Addresses too short to shorten are returned unchanged.
func ShortenAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}
