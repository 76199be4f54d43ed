// Package registry holds the fund registry helpers: bucketing raw
// watchlist wallet names into known firms and labeling counterparty
// addresses for display.
package registry

import "strings"

// firmPatterns maps a lowercase substring of a watchlist wallet name to
// the canonical firm it belongs to. First match wins in the order below.
var firmPatterns = []struct {
	substring string
	firm      string
}{
	{"a16z", "a16z"},
	{"andreessen", "a16z"},
	{"paradigm", "Paradigm"},
	{"dragonfly", "Dragonfly Capital"},
	{"coinbase", "Coinbase Ventures"},
	{"pantera", "Pantera Capital"},
}

// FirmOther is the bucket for wallet names that match no known firm.
const FirmOther = "Other"

// ClassifyFirm buckets a raw watchlist wallet name into a firm by
// case-insensitive substring match.
func ClassifyFirm(walletName string) string {
	name := strings.ToLower(walletName)
	for _, p := range firmPatterns {
		if strings.Contains(name, p.substring) {
			return p.firm
		}
	}
	return FirmOther
}

// KnownFirms returns the canonical firm names the classifier can
// produce, excluding FirmOther.
func KnownFirms() []string {
	seen := make(map[string]bool)
	firms := make([]string, 0, len(firmPatterns))
	for _, p := range firmPatterns {
		if !seen[p.firm] {
			seen[p.firm] = true
			firms = append(firms, p.firm)
		}
	}
	return firms
}
