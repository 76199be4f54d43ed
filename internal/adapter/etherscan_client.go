package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fund-tracker/internal/circuitbreaker"
	"github.com/fund-tracker/internal/config"
	"github.com/fund-tracker/internal/logging"
	"github.com/fund-tracker/internal/types"
)

// EtherscanClient fetches ERC-20 transfer history per wallet from the
// Etherscan account API.
type EtherscanClient struct {
	apiKey      string
	baseURL     string
	chainID     int
	httpClient  *http.Client
	rateLimiter *rateLimiter // free tier allows 3 req/sec
	breaker     *circuitbreaker.CircuitBreaker
	logger      *logging.Logger
}

// NewEtherscanClient creates a new Etherscan API client.
func NewEtherscanClient(cfg *config.EtherscanConfig, breaker *circuitbreaker.CircuitBreaker) *EtherscanClient {
	const requestsPerSecond = 3.0

	return &EtherscanClient{
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		chainID:     cfg.ChainID,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		rateLimiter: newRateLimiter(requestsPerSecond),
		breaker:     breaker,
		logger:      logging.GetGlobalLogger().Component("etherscan"),
	}
}

// etherscanTokenTransfer is one row of a tokentx response.
type etherscanTokenTransfer struct {
	Hash             string `json:"hash"`
	BlockNumber      string `json:"blockNumber"`
	TimeStamp        string `json:"timeStamp"`
	From             string `json:"from"`
	To               string `json:"to"`
	Value            string `json:"value"`
	ContractAddress  string `json:"contractAddress"`
	TokenName        string `json:"tokenName"`
	TokenSymbol      string `json:"tokenSymbol"`
	TokenDecimal     string `json:"tokenDecimal"`
	TransactionIndex string `json:"transactionIndex"`
}

// TokenTransfers fetches the most recent ERC-20 transfers touching the
// wallet, newest first. At most limit events are returned; limit <= 0
// falls back to 100, matching the provider page size.
func (c *EtherscanClient) TokenTransfers(ctx context.Context, wallet string, limit int) ([]types.TransferEvent, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("etherscan API key not configured")
	}
	if limit <= 0 {
		limit = 100
	}

	reqURL := fmt.Sprintf("%s?chainid=%d&module=account&action=tokentx&address=%s&page=1&offset=%d&sort=desc&apikey=%s",
		c.baseURL, c.chainID, url.QueryEscape(wallet), limit, url.QueryEscape(c.apiKey))

	body, err := c.doRequest(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var rawResp struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &rawResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if rawResp.Status != "1" {
		if rawResp.Message == "No transactions found" || rawResp.Message == "No records found" {
			return []types.TransferEvent{}, nil
		}
		// NOTOK with "No record" in the result is a valid empty response.
		if rawResp.Message == "NOTOK" && strings.Contains(string(rawResp.Result), "No record") {
			return []types.TransferEvent{}, nil
		}
		return nil, fmt.Errorf("etherscan API error: %s", rawResp.Message)
	}

	// Some responses put an error string where the array belongs.
	if len(rawResp.Result) > 0 && rawResp.Result[0] == '"' {
		return []types.TransferEvent{}, nil
	}

	var rows []etherscanTokenTransfer
	if err := json.Unmarshal(rawResp.Result, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse token transfers: %w", err)
	}

	wallet = types.NormalizeToken(wallet)
	events := make([]types.TransferEvent, 0, len(rows))
	for _, row := range rows {
		if event := c.convertTransfer(row, wallet); event != nil {
			events = append(events, *event)
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"wallet":    wallet,
		"transfers": len(events),
	}).Debug("Fetched token transfers")

	return events, nil
}

// convertTransfer maps a tokentx row onto a TransferEvent for the given
// wallet. Direction and counterparty come from which side of the
// transfer the wallet sits on.
func (c *EtherscanClient) convertTransfer(row etherscanTokenTransfer, wallet string) *types.TransferEvent {
	timestamp, err := strconv.ParseInt(row.TimeStamp, 10, 64)
	if err != nil {
		return nil
	}
	decimals, err := strconv.Atoi(row.TokenDecimal)
	if err != nil {
		decimals = 18
	}

	quantity, err := types.QuantityFromRaw(row.Value, decimals)
	if err != nil {
		c.logger.WithFields(map[string]interface{}{
			"wallet": wallet,
			"tx":     row.Hash,
			"value":  row.Value,
		}).Warn("Skipping transfer with unparseable value")
		return nil
	}

	from := types.NormalizeToken(row.From)
	to := types.NormalizeToken(row.To)

	direction := types.DirectionIn
	counterparty := from
	if from == wallet {
		direction = types.DirectionOut
		counterparty = to
	}

	// tokentx carries no log index; the transaction index still breaks
	// ties between transfers in the same block.
	txIndex, _ := strconv.ParseUint(row.TransactionIndex, 10, 64)

	return &types.TransferEvent{
		WalletAddress: wallet,
		Token:         types.NormalizeToken(row.ContractAddress),
		Symbol:        row.TokenSymbol,
		Decimals:      decimals,
		RawValue:      row.Value,
		Quantity:      quantity,
		Direction:     direction,
		Timestamp:     timestamp,
		Counterparty:  counterparty,
		TxHash:        row.Hash,
		LogIndex:      txIndex,
	}
}

// doRequest performs an HTTP request behind the breaker with 429 retry
// honoring the Retry-After header.
func (c *EtherscanClient) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
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

func (c *EtherscanClient) doRequestOnce(ctx context.Context, reqURL string) ([]byte, error) {
	const maxRetries = 5
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
				delay := baseDelay * time.Duration(1<<uint(attempt))
				if delay > 30*time.Second {
					delay = 30 * time.Second
				}
				c.logger.WithFields(map[string]interface{}{
					"attempt": attempt + 1,
					"error":   err.Error(),
				}).Warn("Etherscan request failed, retrying")
				select {
				case <-time.After(delay):
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
				}).Warn("Etherscan rate limited, retrying")
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
