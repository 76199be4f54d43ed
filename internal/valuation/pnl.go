package valuation

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fund-tracker/internal/logging"
	"github.com/fund-tracker/internal/types"
)

// HistoricalPriceLookup resolves a token's unit price at a point in
// time. A nil price with a nil error means the price could not be
// resolved, which is expected for early-stage and illiquid tokens.
type HistoricalPriceLookup interface {
	HistoricalPrice(ctx context.Context, token TokenRef, at time.Time) (*decimal.Decimal, error)
}

// HistoricalPriceLookupFunc adapts a function to HistoricalPriceLookup.
type HistoricalPriceLookupFunc func(ctx context.Context, token TokenRef, at time.Time) (*decimal.Decimal, error)

// HistoricalPrice implements HistoricalPriceLookup.
func (f HistoricalPriceLookupFunc) HistoricalPrice(ctx context.Context, token TokenRef, at time.Time) (*decimal.Decimal, error) {
	return f(ctx, token, at)
}

// PnLEstimate is the result of an acquisition cost walk for one holding.
// CostBasis, AvgAcquisitionPrice and UnrealizedPnL are nil when any
// inbound event's historical price was unresolvable: partial information
// is never presented as complete.
type PnLEstimate struct {
	Token               string           `json:"token"`
	Symbol              string           `json:"symbol"`
	Quantity            decimal.Decimal  `json:"quantity"`
	CurrentValue        *decimal.Decimal `json:"currentValue"`
	AcquiredQuantity    decimal.Decimal  `json:"acquiredQuantity"`
	AvgAcquisitionPrice *decimal.Decimal `json:"avgAcquisitionPrice"`
	CostBasis           *decimal.Decimal `json:"costBasis"`
	UnrealizedPnL       *decimal.Decimal `json:"unrealizedPnl"`
	FirstAcquiredAt     *time.Time       `json:"firstAcquiredAt"`
	InboundEvents       int              `json:"inboundEvents"`
}

// PnLEstimator walks inbound transfer history to estimate what a holding
// cost to acquire. It runs only on demand: the default analysis pass
// never touches historical prices because each lookup is a slow provider
// round trip.
type PnLEstimator struct {
	lookup HistoricalPriceLookup
	logger *logging.Logger
}

// NewPnLEstimator creates an estimator.
func NewPnLEstimator(lookup HistoricalPriceLookup, logger *logging.Logger) *PnLEstimator {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &PnLEstimator{
		lookup: lookup,
		logger: logger.Component("pnl"),
	}
}

// Estimate prices every inbound transfer of the holding's token at its
// own event time and derives an average-cost basis for the current
// quantity. If any inbound price is unresolvable the cost figures are
// nil. Events for other tokens or outbound transfers are ignored, so
// callers may pass a mixed history.
func (e *PnLEstimator) Estimate(ctx context.Context, holding types.TokenPosition, history []types.TransferEvent) (*PnLEstimate, error) {
	estimate := &PnLEstimate{
		Token:    types.NormalizeToken(holding.Token),
		Symbol:   holding.Symbol,
		Quantity: holding.Quantity,
	}

	if holding.Value != nil {
		value := *holding.Value
		estimate.CurrentValue = &value
	}

	inbound := inboundForToken(history, estimate.Token)
	estimate.InboundEvents = len(inbound)

	if len(inbound) == 0 {
		// Nothing to price: the acquisition cost stays unknown.
		return estimate, nil
	}

	firstAt := time.Unix(inbound[0].Timestamp, 0).UTC()
	estimate.FirstAcquiredAt = &firstAt

	totalCost := decimal.Zero
	acquired := decimal.Zero
	resolved := true

	for _, event := range inbound {
		token := TokenRef{Contract: event.Token, Symbol: event.Symbol, Decimals: event.Decimals}
		at := time.Unix(event.Timestamp, 0).UTC()

		price, err := e.lookup.HistoricalPrice(ctx, token, at)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.WithFields(map[string]interface{}{
				"token": event.Token,
				"at":    at.Format(time.RFC3339),
				"error": err.Error(),
			}).Warn("Historical price lookup failed, cost basis unknown")
			resolved = false
			break
		}
		if price == nil {
			e.logger.WithFields(map[string]interface{}{
				"token": event.Token,
				"at":    at.Format(time.RFC3339),
			}).Debug("Historical price unavailable, cost basis unknown")
			resolved = false
			break
		}

		totalCost = totalCost.Add(event.Quantity.Mul(*price))
		acquired = acquired.Add(event.Quantity)
	}

	if !resolved || acquired.IsZero() {
		return estimate, nil
	}

	estimate.AcquiredQuantity = acquired

	avg := totalCost.Div(acquired)
	estimate.AvgAcquisitionPrice = &avg

	costBasis := avg.Mul(holding.Quantity)
	estimate.CostBasis = &costBasis

	if estimate.CurrentValue != nil {
		pnl := estimate.CurrentValue.Sub(costBasis)
		estimate.UnrealizedPnL = &pnl
	}

	return estimate, nil
}

// inboundForToken filters a history down to inbound transfers of one
// token, oldest first.
func inboundForToken(history []types.TransferEvent, token string) []types.TransferEvent {
	inbound := make([]types.TransferEvent, 0, len(history))
	for _, event := range history {
		if event.Direction != types.DirectionIn {
			continue
		}
		if types.NormalizeToken(event.Token) != token {
			continue
		}
		inbound = append(inbound, event)
	}
	sort.Slice(inbound, func(i, j int) bool {
		if inbound[i].Timestamp != inbound[j].Timestamp {
			return inbound[i].Timestamp < inbound[j].Timestamp
		}
		return inbound[i].LogIndex < inbound[j].LogIndex
	})
	return inbound
}
