package valuation

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fund-tracker/internal/types"
)

// Edge width buckets by transfer value in the quote currency. Rendering
// is out of scope here; the buckets just give the consumer a ready
// visual weight.
var (
	graphWidthHuge   = decimal.NewFromInt(500_000)
	graphWidthLarge  = decimal.NewFromInt(100_000)
	graphWidthMedium = decimal.NewFromInt(10_000)
)

// GraphNode is one vertex of the transfer graph.
type GraphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  string `json:"kind"` // "fund" or "counterparty"
}

// GraphEdge is an aggregated flow between the fund and one counterparty
// in one direction.
type GraphEdge struct {
	From      string                  `json:"from"`
	To        string                  `json:"to"`
	Direction types.TransferDirection `json:"direction"`
	Transfers int                     `json:"transfers"`
	// Value sums the estimated values of the underlying transfers.
	// Nil when none of them had a current price.
	Value *decimal.Decimal `json:"value"`
	Width int              `json:"width"`
}

// Graph is the transfer graph for one fund, ready for rendering.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// BuildTransferGraph aggregates an enriched transfer feed into a star
// graph centered on the fund. Transfers to the same counterparty in the
// same direction collapse into one edge; edge width is bucketed by the
// summed value so heavier flows render thicker.
func BuildTransferGraph(fund FundInfo, events []types.ValuedTransferEvent) Graph {
	type key struct {
		counterparty string
		direction    types.TransferDirection
	}
	type flow struct {
		label     string
		transfers int
		value     *decimal.Decimal
	}

	flows := make(map[key]*flow)
	labels := make(map[string]string)

	for _, event := range events {
		counterparty := strings.ToLower(strings.TrimSpace(event.Counterparty))
		if counterparty == "" {
			continue
		}

		k := key{counterparty: counterparty, direction: event.Direction}
		f, ok := flows[k]
		if !ok {
			f = &flow{label: event.CounterpartyLabel}
			flows[k] = f
		}
		f.transfers++
		if event.EstimatedValue != nil {
			if f.value == nil {
				v := decimal.Zero
				f.value = &v
			}
			sum := f.value.Add(*event.EstimatedValue)
			f.value = &sum
		}

		if _, ok := labels[counterparty]; !ok {
			label := event.CounterpartyLabel
			if label == "" {
				label = ShortenAddress(event.Counterparty)
			}
			labels[counterparty] = label
		}
	}

	graph := Graph{
		Nodes: []GraphNode{{ID: fund.ID, Label: fund.Name, Kind: "fund"}},
		Edges: make([]GraphEdge, 0, len(flows)),
	}

	counterparties := make([]string, 0, len(labels))
	for counterparty := range labels {
		counterparties = append(counterparties, counterparty)
	}
	sort.Strings(counterparties)

	for _, counterparty := range counterparties {
		graph.Nodes = append(graph.Nodes, GraphNode{
			ID:    counterparty,
			Label: labels[counterparty],
			Kind:  "counterparty",
		})
	}

	for k, f := range flows {
		edge := GraphEdge{
			Direction: k.direction,
			Transfers: f.transfers,
			Value:     f.value,
			Width:     edgeWidth(f.value),
		}
		if k.direction == types.DirectionIn {
			edge.From = k.counterparty
			edge.To = fund.ID
		} else {
			edge.From = fund.ID
			edge.To = k.counterparty
		}
		graph.Edges = append(graph.Edges, edge)
	}

	sort.Slice(graph.Edges, func(i, j int) bool {
		a, b := graph.Edges[i], graph.Edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Direction < b.Direction
	})

	return graph
}

// edgeWidth buckets a flow's value into a display width.
func edgeWidth(value *decimal.Decimal) int {
	if value == nil {
		return 1
	}
	switch {
	case value.GreaterThan(graphWidthHuge):
		return 8
	case value.GreaterThan(graphWidthLarge):
		return 5
	case value.GreaterThan(graphWidthMedium):
		return 2
	default:
		return 1
	}
}
