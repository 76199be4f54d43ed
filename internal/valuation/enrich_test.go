package valuation

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fund-tracker/internal/types"
)

func TestEnrichTransfersValuesPricedTokens(t *testing.T) {
	toka := "0xaaa0000000000000000000000000000000000001"
	prices := types.PriceMap{}
	prices.Set(toka, decimal.NewFromInt(2))

	events := []types.TransferEvent{
		{
			WalletAddress: "0xw1",
			Token:         toka,
			Symbol:        "TOKA",
			Quantity:      decimal.NewFromInt(50),
			Direction:     types.DirectionIn,
			Timestamp:     1700000000,
			Counterparty:  "0x9f8e7d6c5b4a39281706f5e4d3c2b1a098765432",
		},
	}

	enriched := EnrichTransfers(events, prices, nil)

	if len(enriched) != 1 {
		t.Fatalf("expected 1 event, got %d", len(enriched))
	}
	if enriched[0].EstimatedValue == nil || !enriched[0].EstimatedValue.Equal(decimal.NewFromInt(100)) {
		t.Errorf("estimated value = %v, want 100", enriched[0].EstimatedValue)
	}
	if enriched[0].CounterpartyLabel != "0x9f8e...5432" {
		t.Errorf("counterparty label = %q, want shortened address", enriched[0].CounterpartyLabel)
	}
}

func TestEnrichTransfersUnpricedIsNilNotZero(t *testing.T) {
	tokb := "0xbbb0000000000000000000000000000000000002"

	events := []types.TransferEvent{
		{WalletAddress: "0xw1", Token: tokb, Symbol: "TOKB", Quantity: decimal.NewFromInt(100)},
	}

	enriched := EnrichTransfers(events, types.PriceMap{}, nil)

	if enriched[0].EstimatedValue != nil {
		t.Errorf("estimated value must be nil for unpriced token, got %s", enriched[0].EstimatedValue)
	}
	if !enriched[0].Quantity.Equal(decimal.NewFromInt(100)) {
		t.Errorf("raw quantity not preserved: %s", enriched[0].Quantity)
	}
}

func TestEnrichTransfersPreservesOrderAndCardinality(t *testing.T) {
	toka := "0xaaa0000000000000000000000000000000000001"
	prices := types.PriceMap{}
	prices.Set(toka, decimal.NewFromInt(1))

	events := make([]types.TransferEvent, 0, 25)
	for i := 0; i < 25; i++ {
		token := toka
		if i%3 == 0 {
			token = "0xbbb0000000000000000000000000000000000002"
		}
		events = append(events, types.TransferEvent{
			WalletAddress: "0xw1",
			Token:         token,
			Quantity:      decimal.NewFromInt(int64(i)),
			Timestamp:     int64(2000 - i), // most-recent-first feed
			TxHash:        string(rune('a' + i)),
		})
	}

	enriched := EnrichTransfers(events, prices, nil)

	if len(enriched) != len(events) {
		t.Fatalf("cardinality changed: %d in, %d out", len(events), len(enriched))
	}
	for i := range events {
		if enriched[i].TxHash != events[i].TxHash {
			t.Fatalf("order changed at index %d", i)
		}
		if enriched[i].Timestamp != events[i].Timestamp {
			t.Fatalf("timestamp changed at index %d", i)
		}
	}
}

func TestEnrichTransfersUsesLabeler(t *testing.T) {
	events := []types.TransferEvent{
		{Token: "0xaaa0000000000000000000000000000000000001", Counterparty: "0xfund000000000000000000000000000000000001"},
	}

	labeler := LabelerFunc(func(address string) string {
		if address == "0xfund000000000000000000000000000000000001" {
			return "Example Capital"
		}
		return ShortenAddress(address)
	})

	enriched := EnrichTransfers(events, types.PriceMap{}, labeler)

	if enriched[0].CounterpartyLabel != "Example Capital" {
		t.Errorf("label = %q, want registry name", enriched[0].CounterpartyLabel)
	}
}

func TestShortenAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0x1234567890abcdef1234567890abcdef12345678", "0x1234...5678"},
		{"0x1234", "0x1234"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := ShortenAddress(tt.in); got != tt.want {
			t.Errorf("ShortenAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
