package ratelimit

import (
	"sync"
)

// Credit costs for known provider endpoints. Covalent prices balances_v2
// per request on the free tier; CoinGecko demo keys count every call as
// one; Dune charges execution credits per result read.
const (
	DefaultEndpointCost = 1

	CostCovalentBalances      = 1
	CostCoinGeckoSimplePrice  = 1
	CostCoinGeckoContractInfo = 1
	CostCoinGeckoHistory      = 1
	CostEtherscanTokenTx      = 1
	CostDuneQueryResults      = 10
)

// Provider endpoint names used for budget accounting.
const (
	EndpointCovalentBalances      = "covalent.balances_v2"
	EndpointCoinGeckoSimplePrice  = "coingecko.simple_price"
	EndpointCoinGeckoContractInfo = "coingecko.contract_info"
	EndpointCoinGeckoHistory      = "coingecko.history"
	EndpointEtherscanTokenTx      = "etherscan.tokentx"
	EndpointDuneQueryResults      = "dune.query_results"
)

// CostRegistry maps provider endpoints to their credit costs.
// It is safe for concurrent use.
type CostRegistry struct {
	mu          sync.RWMutex
	costs       map[string]int
	defaultCost int
}

// CostRegistryConfig holds configuration for the registry.
type CostRegistryConfig struct {
	// DefaultCost is the credit cost for unknown endpoints.
	// If zero, uses the package default (1 credit).
	DefaultCost int

	// Overrides allows custom credit costs for specific endpoints,
	// e.g. when a provider plan changes pricing.
	Overrides map[string]int
}

// NewCostRegistry creates a registry with the built-in provider costs.
// If cfg is nil, default configuration is used.
func NewCostRegistry(cfg *CostRegistryConfig) *CostRegistry {
	costs := map[string]int{
		EndpointCovalentBalances:      CostCovalentBalances,
		EndpointCoinGeckoSimplePrice:  CostCoinGeckoSimplePrice,
		EndpointCoinGeckoContractInfo: CostCoinGeckoContractInfo,
		EndpointCoinGeckoHistory:      CostCoinGeckoHistory,
		EndpointEtherscanTokenTx:      CostEtherscanTokenTx,
		EndpointDuneQueryResults:      CostDuneQueryResults,
	}

	defaultCost := DefaultEndpointCost

	if cfg != nil {
		if cfg.DefaultCost > 0 {
			defaultCost = cfg.DefaultCost
		}

		for endpoint, cost := range cfg.Overrides {
			if cost > 0 {
				costs[endpoint] = cost
			}
		}
	}

	return &CostRegistry{
		costs:       costs,
		defaultCost: defaultCost,
	}
}

// GetCost returns the credit cost for a provider endpoint.
// Unknown endpoints get the configured default cost.
func (r *CostRegistry) GetCost(endpoint string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cost, ok := r.costs[endpoint]; ok {
		return cost
	}
	return r.defaultCost
}

// SetCost allows runtime cost updates for a specific endpoint.
// The cost must be positive; zero or negative values are ignored.
func (r *CostRegistry) SetCost(endpoint string, cost int) {
	if cost <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.costs[endpoint] = cost
}

// KnownEndpoints returns all endpoint names with registered costs.
func (r *CostRegistry) KnownEndpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	endpoints := make([]string, 0, len(r.costs))
	for endpoint := range r.costs {
		endpoints = append(endpoints, endpoint)
	}
	return endpoints
}
