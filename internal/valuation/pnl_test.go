package valuation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fund-tracker/internal/types"
)

// stubHistoricalLookup returns canned prices keyed by unix timestamp.
type stubHistoricalLookup struct {
	prices map[int64]decimal.Decimal
	calls  int
	err    error
}

func (s *stubHistoricalLookup) HistoricalPrice(ctx context.Context, token TokenRef, at time.Time) (*decimal.Decimal, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if price, ok := s.prices[at.Unix()]; ok {
		p := price
		return &p, nil
	}
	return nil, nil
}

func pricedHolding(token, symbol string, quantity, value int64) types.TokenPosition {
	v := decimal.NewFromInt(value)
	return types.TokenPosition{
		Token:    token,
		Symbol:   symbol,
		Quantity: decimal.NewFromInt(quantity),
		Value:    &v,
	}
}

func TestPnLEstimateAverageCost(t *testing.T) {
	toka := "0xaaa0000000000000000000000000000000000001"
	lookup := &stubHistoricalLookup{prices: map[int64]decimal.Decimal{
		1000: decimal.NewFromInt(1), // 10 units at $1
		2000: decimal.NewFromInt(3), // 10 units at $3
	}}
	estimator := NewPnLEstimator(lookup, nil)

	history := []types.TransferEvent{
		{Token: toka, Direction: types.DirectionIn, Timestamp: 2000, Quantity: decimal.NewFromInt(10)},
		{Token: toka, Direction: types.DirectionIn, Timestamp: 1000, Quantity: decimal.NewFromInt(10)},
		{Token: toka, Direction: types.DirectionOut, Timestamp: 1500, Quantity: decimal.NewFromInt(5)},
	}

	// Current holding: 15 units worth $75.
	estimate, err := estimator.Estimate(context.Background(), pricedHolding(toka, "TOKA", 15, 75), history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if estimate.InboundEvents != 2 {
		t.Errorf("inbound events = %d, want 2", estimate.InboundEvents)
	}
	if estimate.FirstAcquiredAt == nil || estimate.FirstAcquiredAt.Unix() != 1000 {
		t.Errorf("first acquisition = %v, want t=1000", estimate.FirstAcquiredAt)
	}
	// Average cost: (10*1 + 10*3) / 20 = 2.
	if estimate.AvgAcquisitionPrice == nil || !estimate.AvgAcquisitionPrice.Equal(decimal.NewFromInt(2)) {
		t.Errorf("avg acquisition price = %v, want 2", estimate.AvgAcquisitionPrice)
	}
	// Cost basis for the current 15 units: 30.
	if estimate.CostBasis == nil || !estimate.CostBasis.Equal(decimal.NewFromInt(30)) {
		t.Errorf("cost basis = %v, want 30", estimate.CostBasis)
	}
	// Unrealized: 75 - 30 = 45.
	if estimate.UnrealizedPnL == nil || !estimate.UnrealizedPnL.Equal(decimal.NewFromInt(45)) {
		t.Errorf("unrealized pnl = %v, want 45", estimate.UnrealizedPnL)
	}
}

func TestPnLUnresolvablePriceMakesCostUnknown(t *testing.T) {
	toka := "0xaaa0000000000000000000000000000000000001"
	// Only the first event resolves; the second has no history.
	lookup := &stubHistoricalLookup{prices: map[int64]decimal.Decimal{
		1000: decimal.NewFromInt(1),
	}}
	estimator := NewPnLEstimator(lookup, nil)

	history := []types.TransferEvent{
		{Token: toka, Direction: types.DirectionIn, Timestamp: 1000, Quantity: decimal.NewFromInt(10)},
		{Token: toka, Direction: types.DirectionIn, Timestamp: 2000, Quantity: decimal.NewFromInt(10)},
	}

	estimate, err := estimator.Estimate(context.Background(), pricedHolding(toka, "TOKA", 20, 100), history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// One unresolvable inbound price poisons the whole figure: nothing
	// partial is reported.
	if estimate.CostBasis != nil {
		t.Errorf("cost basis = %s, want nil", estimate.CostBasis)
	}
	if estimate.AvgAcquisitionPrice != nil {
		t.Errorf("avg price = %s, want nil", estimate.AvgAcquisitionPrice)
	}
	if estimate.UnrealizedPnL != nil {
		t.Errorf("pnl = %s, want nil", estimate.UnrealizedPnL)
	}
	// The current value is still known and reported.
	if estimate.CurrentValue == nil || !estimate.CurrentValue.Equal(decimal.NewFromInt(100)) {
		t.Errorf("current value = %v, want 100", estimate.CurrentValue)
	}
}

func TestPnLProviderErrorMakesCostUnknown(t *testing.T) {
	toka := "0xaaa0000000000000000000000000000000000001"
	lookup := &stubHistoricalLookup{err: errors.New("rate limited")}
	estimator := NewPnLEstimator(lookup, nil)

	history := []types.TransferEvent{
		{Token: toka, Direction: types.DirectionIn, Timestamp: 1000, Quantity: decimal.NewFromInt(10)},
	}

	estimate, err := estimator.Estimate(context.Background(), pricedHolding(toka, "TOKA", 10, 50), history)
	if err != nil {
		t.Fatalf("provider failure is an unknown result, not an error: %v", err)
	}
	if estimate.CostBasis != nil || estimate.UnrealizedPnL != nil {
		t.Error("expected unknown cost figures after provider failure")
	}
}

func TestPnLNoInboundHistory(t *testing.T) {
	toka := "0xaaa0000000000000000000000000000000000001"
	lookup := &stubHistoricalLookup{}
	estimator := NewPnLEstimator(lookup, nil)

	history := []types.TransferEvent{
		{Token: toka, Direction: types.DirectionOut, Timestamp: 1000, Quantity: decimal.NewFromInt(5)},
	}

	estimate, err := estimator.Estimate(context.Background(), pricedHolding(toka, "TOKA", 10, 50), history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if estimate.InboundEvents != 0 {
		t.Errorf("inbound events = %d, want 0", estimate.InboundEvents)
	}
	if estimate.CostBasis != nil {
		t.Error("cost basis must be unknown with no inbound history")
	}
	if estimate.FirstAcquiredAt != nil {
		t.Error("first acquisition must be nil with no inbound history")
	}
	if lookup.calls != 0 {
		t.Errorf("no lookups expected, got %d", lookup.calls)
	}
}

func TestPnLIgnoresOtherTokens(t *testing.T) {
	toka := "0xaaa0000000000000000000000000000000000001"
	tokb := "0xbbb0000000000000000000000000000000000002"
	lookup := &stubHistoricalLookup{prices: map[int64]decimal.Decimal{
		1000: decimal.NewFromInt(2),
	}}
	estimator := NewPnLEstimator(lookup, nil)

	history := []types.TransferEvent{
		{Token: toka, Direction: types.DirectionIn, Timestamp: 1000, Quantity: decimal.NewFromInt(10)},
		{Token: tokb, Direction: types.DirectionIn, Timestamp: 1000, Quantity: decimal.NewFromInt(999)},
	}

	estimate, err := estimator.Estimate(context.Background(), pricedHolding(toka, "TOKA", 10, 40), history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if estimate.InboundEvents != 1 {
		t.Errorf("inbound events = %d, want 1 (other tokens ignored)", estimate.InboundEvents)
	}
	if !estimate.AcquiredQuantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("acquired quantity = %s, want 10", estimate.AcquiredQuantity)
	}
	if estimate.CostBasis == nil || !estimate.CostBasis.Equal(decimal.NewFromInt(20)) {
		t.Errorf("cost basis = %v, want 20", estimate.CostBasis)
	}
}

func TestPnLContextCancellation(t *testing.T) {
	toka := "0xaaa0000000000000000000000000000000000001"
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lookup := &stubHistoricalLookup{err: context.Canceled}
	estimator := NewPnLEstimator(lookup, nil)

	history := []types.TransferEvent{
		{Token: toka, Direction: types.DirectionIn, Timestamp: 1000, Quantity: decimal.NewFromInt(10)},
	}

	_, err := estimator.Estimate(ctx, pricedHolding(toka, "TOKA", 10, 50), history)
	if err == nil {
		t.Fatal("expected error after context cancellation")
	}
}
