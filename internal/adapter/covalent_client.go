package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fund-tracker/internal/circuitbreaker"
	"github.com/fund-tracker/internal/config"
	"github.com/fund-tracker/internal/logging"
	"github.com/fund-tracker/internal/types"
)

// CovalentClient fetches current token balances per wallet from the
// Covalent (GoldRush) balances_v2 endpoint.
type CovalentClient struct {
	apiKey      string
	baseURL     string
	chain       string
	httpClient  *http.Client
	rateLimiter *rateLimiter
	breaker     *circuitbreaker.CircuitBreaker
	logger      *logging.Logger
}

// NewCovalentClient creates a new Covalent API client. The breaker is
// optional; without one the client calls the provider directly.
func NewCovalentClient(cfg *config.CovalentConfig, breaker *circuitbreaker.CircuitBreaker) *CovalentClient {
	// Free tier allows 4 requests per second.
	const requestsPerSecond = 4.0

	return &CovalentClient{
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		chain:       cfg.Chain,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		rateLimiter: newRateLimiter(requestsPerSecond),
		breaker:     breaker,
		logger:      logging.GetGlobalLogger().Component("covalent"),
	}
}

// covalentBalancesResponse is the balances_v2 envelope.
type covalentBalancesResponse struct {
	Data struct {
		Address       string                `json:"address"`
		QuoteCurrency string                `json:"quote_currency"`
		Items         []covalentBalanceItem `json:"items"`
	} `json:"data"`
	Error        bool    `json:"error"`
	ErrorMessage *string `json:"error_message"`
	ErrorCode    *int    `json:"error_code"`
}

// covalentBalanceItem is one token row of a balances_v2 response. The
// response also carries Covalent's own quote fields; they are ignored
// because every position is priced through the price map instead.
type covalentBalanceItem struct {
	ContractDecimals     int    `json:"contract_decimals"`
	ContractName         string `json:"contract_name"`
	ContractTickerSymbol string `json:"contract_ticker_symbol"`
	ContractAddress      string `json:"contract_address"`
	NativeToken          bool   `json:"native_token"`
	Balance              string `json:"balance"`
}

// TokenBalances returns the current holdings of one wallet. Zero
// balances are dropped; everything else is reported even when Covalent
// has no quote for it, so unpriced tokens stay visible downstream.
func (c *CovalentClient) TokenBalances(ctx context.Context, wallet string) ([]types.TokenHolding, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("covalent API key not configured")
	}

	reqURL := fmt.Sprintf("%s/%s/address/%s/balances_v2/?key=%s",
		c.baseURL, c.chain, url.PathEscape(wallet), url.QueryEscape(c.apiKey))

	body, err := c.doRequest(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var resp covalentBalancesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse balances response: %w", err)
	}
	if resp.Error {
		msg := "unknown error"
		if resp.ErrorMessage != nil {
			msg = *resp.ErrorMessage
		}
		return nil, fmt.Errorf("covalent API error: %s", msg)
	}

	wallet = types.NormalizeToken(wallet)
	holdings := make([]types.TokenHolding, 0, len(resp.Data.Items))

	for _, item := range resp.Data.Items {
		if item.Balance == "" || item.Balance == "0" {
			continue
		}

		contract := item.ContractAddress
		if item.NativeToken {
			contract = types.NativeTokenAddress
		}

		quantity, err := types.QuantityFromRaw(item.Balance, item.ContractDecimals)
		if err != nil {
			c.logger.WithFields(map[string]interface{}{
				"wallet":  wallet,
				"token":   contract,
				"balance": item.Balance,
			}).Warn("Skipping holding with unparseable balance")
			continue
		}

		holdings = append(holdings, types.TokenHolding{
			WalletAddress: wallet,
			Token:         types.NormalizeToken(contract),
			Symbol:        item.ContractTickerSymbol,
			Decimals:      item.ContractDecimals,
			RawBalance:    item.Balance,
			Quantity:      quantity,
		})
	}

	c.logger.WithFields(map[string]interface{}{
		"wallet":   wallet,
		"holdings": len(holdings),
	}).Debug("Fetched token balances")

	return holdings, nil
}

// doRequest performs an HTTP request with 429 retry, honoring the
// Retry-After header, behind the circuit breaker when one is set.
func (c *CovalentClient) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	if c.breaker == nil {
		return c.doRequestOnce(ctx, reqURL)
	}

	var body []byte
	err := c.breaker.Execute(ctx, func() error {
		var innerErr error
		body, innerErr = c.doRequestOnce(ctx, reqURL)
		return innerErr
	})
	return body, err
}

func (c *CovalentClient) doRequestOnce(ctx context.Context, reqURL string) ([]byte, error) {
	const maxRetries = 3
	baseDelay := 1 * time.Second

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		c.rateLimiter.wait()

		req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("failed to make request: %w", err)
			if attempt < maxRetries {
				select {
				case <-time.After(baseDelay * time.Duration(1<<uint(attempt))):
					continue
				case <-ctx.Done():
					return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
				}
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			if attempt < maxRetries {
				delay := baseDelay * time.Duration(1<<uint(attempt))
				if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
					if seconds, err := strconv.Atoi(retryAfter); err == nil {
						delay = time.Duration(seconds) * time.Second
					}
				}
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				c.logger.WithFields(map[string]interface{}{
					"attempt": attempt + 1,
					"delay":   delay.String(),
				}).Warn("Covalent rate limited, retrying")
				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
				}
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("HTTP error: %d - %s", resp.StatusCode, string(body))
		}

		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
