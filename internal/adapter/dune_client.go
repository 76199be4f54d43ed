// Package adapter provides the market data provider clients: Covalent
// for balances, Etherscan for transfer history, Dune for the curated
// wallet watchlist and CoinGecko for prices. Each client normalizes the
// provider's wire format into the domain types; orchestration lives in
// internal/service.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fund-tracker/internal/circuitbreaker"
	"github.com/fund-tracker/internal/config"
	"github.com/fund-tracker/internal/logging"
	"github.com/fund-tracker/internal/retry"
	"github.com/fund-tracker/internal/types"
)

// DuneClient reads the curated VC wallet watchlist from a saved Dune
// query's latest results.
type DuneClient struct {
	apiKey     string
	baseURL    string
	queryID    int
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logging.Logger
}

// NewDuneClient creates a new Dune Analytics API client.
func NewDuneClient(cfg *config.DuneConfig, breaker *circuitbreaker.CircuitBreaker) *DuneClient {
	return &DuneClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		queryID:    cfg.QueryID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    breaker,
		logger:     logging.GetGlobalLogger().Component("dune"),
	}
}

// WatchlistEntry is one curated wallet from the Dune query: a raw
// display name (used for firm classification) and its address.
type WatchlistEntry struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// duneResultsResponse is the envelope of a query results call.
type duneResultsResponse struct {
	ExecutionID string `json:"execution_id"`
	State       string `json:"state"`
	Result      struct {
		Rows []WatchlistEntry `json:"rows"`
	} `json:"result"`
}

// FetchWatchlist returns the latest watchlist rows. Entries without an
// address are dropped; duplicate addresses keep their first occurrence.
func (c *DuneClient) FetchWatchlist(ctx context.Context) ([]WatchlistEntry, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("dune API key not configured")
	}
	if c.queryID == 0 {
		return nil, fmt.Errorf("dune watchlist query ID not configured")
	}

	reqURL := fmt.Sprintf("%s/query/%d/results?limit=1000", c.baseURL, c.queryID)

	body, err := c.doRequest(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var resp duneResultsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse Dune response: %w", err)
	}

	seen := make(map[string]bool, len(resp.Result.Rows))
	entries := make([]WatchlistEntry, 0, len(resp.Result.Rows))
	for _, row := range resp.Result.Rows {
		address := types.NormalizeToken(row.Address)
		if address == "" || seen[address] {
			continue
		}
		seen[address] = true
		entries = append(entries, WatchlistEntry{Name: row.Name, Address: address})
	}

	c.logger.WithFields(map[string]interface{}{
		"query":   c.queryID,
		"wallets": len(entries),
	}).Debug("Fetched watchlist")

	return entries, nil
}

// doRequest runs the call with exponential backoff behind the breaker.
// The watchlist is fetched from the worker on a slow cadence, so a few
// retries cost nothing.
func (c *DuneClient) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	var body []byte
	result := retry.WithExponentialBackoff(ctx, retry.DefaultConfig(), func(ctx context.Context, attempt int) error {
		if c.breaker == nil {
			var err error
			body, err = c.doRequestOnce(ctx, reqURL)
			return err
		}
		return c.breaker.Execute(ctx, func() error {
			var innerErr error
			body, innerErr = c.doRequestOnce(ctx, reqURL)
			return innerErr
		})
	})
	if !result.Success {
		return nil, result.LastError
	}
	return body, nil
}

func (c *DuneClient) doRequestOnce(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Dune-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch from Dune: %w", err)
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dune API error: status=%d, body=%s", resp.StatusCode, string(body))
	}

	return body, nil
}
