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

	"github.com/shopspring/decimal"

	"github.com/fund-tracker/internal/circuitbreaker"
	"github.com/fund-tracker/internal/config"
	"github.com/fund-tracker/internal/logging"
	"github.com/fund-tracker/internal/types"
)

// nativeCoinID is the CoinGecko coin id backing the chain's native
// asset pseudo-address.
const nativeCoinID = "ethereum"

// CoinGeckoClient resolves current and historical token prices. A nil
// price with a nil error means CoinGecko does not price the token,
// which is routine for early-stage tokens and must not be treated as a
// failure upstream.
type CoinGeckoClient struct {
	apiKey        string
	baseURL       string
	platform      string
	quoteCurrency string
	httpClient    *http.Client
	rateLimiter   *rateLimiter
	breaker       *circuitbreaker.CircuitBreaker
	logger        *logging.Logger
}

// NewCoinGeckoClient creates a new CoinGecko API client. callsPerMinute
// sizes the client-side throttle; the shared provider budget on top of
// it lives in internal/ratelimit.
func NewCoinGeckoClient(cfg *config.CoinGeckoConfig, quoteCurrency string, callsPerMinute int, breaker *circuitbreaker.CircuitBreaker) *CoinGeckoClient {
	if callsPerMinute <= 0 {
		callsPerMinute = 30 // free tier
	}

	return &CoinGeckoClient{
		apiKey:        cfg.APIKey,
		baseURL:       cfg.BaseURL,
		platform:      cfg.Platform,
		quoteCurrency: quoteCurrency,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		rateLimiter:   newRateLimiter(float64(callsPerMinute) / 60.0),
		breaker:       breaker,
		logger:        logging.GetGlobalLogger().Component("coingecko"),
	}
}

// CurrentPrice returns the current unit price of a token contract in
// the quote currency, or nil when CoinGecko has no quote for it.
func (c *CoinGeckoClient) CurrentPrice(ctx context.Context, contract string) (*decimal.Decimal, error) {
	contract = types.NormalizeToken(contract)

	if contract == types.NativeTokenAddress {
		return c.nativePrice(ctx)
	}

	reqURL := fmt.Sprintf("%s/simple/token_price/%s?contract_addresses=%s&vs_currencies=%s",
		c.baseURL, c.platform, url.QueryEscape(contract), url.QueryEscape(c.quoteCurrency))

	body, err := c.doRequest(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	// Response shape: {"<contract>": {"usd": 1.23}}. An empty object
	// means the token is unknown to CoinGecko.
	var resp map[string]map[string]float64
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse price response: %w", err)
	}

	quotes, ok := resp[contract]
	if !ok {
		return nil, nil
	}
	raw, ok := quotes[c.quoteCurrency]
	if !ok {
		return nil, nil
	}

	price := decimal.NewFromFloat(raw)
	return &price, nil
}

// nativePrice prices the chain's native asset via the coin id endpoint,
// since the native pseudo-address has no contract on any platform.
func (c *CoinGeckoClient) nativePrice(ctx context.Context) (*decimal.Decimal, error) {
	reqURL := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s",
		c.baseURL, nativeCoinID, url.QueryEscape(c.quoteCurrency))

	body, err := c.doRequest(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var resp map[string]map[string]float64
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse price response: %w", err)
	}

	quotes, ok := resp[nativeCoinID]
	if !ok {
		return nil, nil
	}
	raw, ok := quotes[c.quoteCurrency]
	if !ok {
		return nil, nil
	}

	price := decimal.NewFromFloat(raw)
	return &price, nil
}

// ResolveTokenID maps a token contract to its CoinGecko coin id, used
// by the historical price endpoint. Returns "" when the contract is
// unknown to CoinGecko; resolutions are worth caching for a day.
func (c *CoinGeckoClient) ResolveTokenID(ctx context.Context, contract string) (string, error) {
	contract = types.NormalizeToken(contract)

	if contract == types.NativeTokenAddress {
		return nativeCoinID, nil
	}

	reqURL := fmt.Sprintf("%s/coins/%s/contract/%s", c.baseURL, c.platform, url.PathEscape(contract))

	body, err := c.doRequest(ctx, reqURL)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse contract response: %w", err)
	}

	return resp.ID, nil
}

// HistoricalPrice returns the unit price of a coin id at a past day, or
// nil when CoinGecko has no market data for that date. The history
// endpoint only has daily resolution, which is close enough for the
// acquisition cost walk.
func (c *CoinGeckoClient) HistoricalPrice(ctx context.Context, tokenID string, at time.Time) (*decimal.Decimal, error) {
	if tokenID == "" {
		return nil, nil
	}

	date := at.UTC().Format("02-01-2006")
	reqURL := fmt.Sprintf("%s/coins/%s/history?date=%s&localization=false",
		c.baseURL, url.PathEscape(tokenID), date)

	body, err := c.doRequest(ctx, reqURL)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var resp struct {
		MarketData *struct {
			CurrentPrice map[string]float64 `json:"current_price"`
		} `json:"market_data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse history response: %w", err)
	}

	// No market_data means the coin had no market on that date yet.
	if resp.MarketData == nil {
		return nil, nil
	}
	raw, ok := resp.MarketData.CurrentPrice[c.quoteCurrency]
	if !ok {
		return nil, nil
	}

	price := decimal.NewFromFloat(raw)
	return &price, nil
}

// notFoundError marks a 404 so callers can turn it into "no price".
type notFoundError struct{ url string }

func (e *notFoundError) Error() string { return fmt.Sprintf("not found: %s", e.url) }

func isNotFound(err error) bool {
	_, ok := err.(*notFoundError)
	return ok
}

func (c *CoinGeckoClient) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	if c.breaker == nil {
		return c.doRequestOnce(ctx, reqURL)
	}

	var body []byte
	var reqErr error
	err := c.breaker.Execute(ctx, func() error {
		body, reqErr = c.doRequestOnce(ctx, reqURL)
		// A 404 is a data gap, not a provider failure; it must not
		// count toward opening the breaker.
		if reqErr != nil && isNotFound(reqErr) {
			return nil
		}
		return reqErr
	})
	if err != nil {
		return nil, err
	}
	return body, reqErr
}

func (c *CoinGeckoClient) doRequestOnce(ctx context.Context, reqURL string) ([]byte, error) {
	const maxRetries = 3
	baseDelay := 2 * time.Second

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		c.rateLimiter.wait()

		req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("x-cg-demo-api-key", c.apiKey)
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

		if resp.StatusCode == http.StatusNotFound {
			return nil, &notFoundError{url: reqURL}
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
				if delay > 90*time.Second {
					delay = 90 * time.Second
				}
				c.logger.WithFields(map[string]interface{}{
					"attempt": attempt + 1,
					"delay":   delay.String(),
				}).Warn("CoinGecko rate limited, retrying")
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
