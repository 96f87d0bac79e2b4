// Package hyperliquid is the client for the Hyperliquid info API. All reads
// go through a single POST /info endpoint addressed by a typed request body;
// no authentication is needed for account history.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/perptools/journal/internal/domain"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultAttempts = 3
	defaultBackoff  = 750 * time.Millisecond
)

// Client is the REST client for the Hyperliquid info API.
type Client struct {
	infoURL    string
	user       string // checksummed wallet address
	accountID  string
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
}

// NewClient creates a new info client for one wallet.
//
// baseURL is the API root, e.g. "https://api.hyperliquid.xyz"; wallet is the
// account's address in any hex casing and is normalized to its EIP-55
// checksummed form, which the API expects.
func NewClient(baseURL, wallet, accountID string) *Client {
	return &Client{
		infoURL:   baseURL + "/info",
		user:      checksumAddress(wallet),
		accountID: accountID,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
}

// User returns the normalized wallet address the client queries for.
func (c *Client) User() string {
	return c.user
}

// FetchFills returns the wallet's fills in [startMs, endMs], normalized.
func (c *Client) FetchFills(ctx context.Context, startMs, endMs int64) ([]domain.Fill, int, error) {
	payload, err := c.postInfo(ctx, map[string]any{
		"type":            "userFillsByTime",
		"user":            c.user,
		"startTime":       startMs,
		"endTime":         endMs,
		"aggregateByTime": false,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("hyperliquid: fetch fills: %w", err)
	}
	fills, skipped := NormalizeFills(extractRecords(payload), c.accountID)
	return fills, skipped, nil
}

// FetchOrders returns the wallet's historical orders, normalized.
func (c *Client) FetchOrders(ctx context.Context) ([]domain.OrderRecord, int, error) {
	payload, err := c.postInfo(ctx, map[string]any{
		"type": "historicalOrders",
		"user": c.user,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("hyperliquid: fetch orders: %w", err)
	}
	orders, skipped := NormalizeOrders(extractRecords(payload), c.accountID)
	return orders, skipped, nil
}

// FetchFunding returns the wallet's funding payments in [startMs, endMs],
// normalized from the ledger-update rows whose delta type is "funding".
func (c *Client) FetchFunding(ctx context.Context, startMs, endMs int64) ([]domain.FundingEvent, int, error) {
	payload, err := c.postInfo(ctx, map[string]any{
		"type":      "userFunding",
		"user":      c.user,
		"startTime": startMs,
		"endTime":   endMs,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("hyperliquid: fetch funding: %w", err)
	}
	events, skipped := NormalizeFunding(extractRecords(payload), c.accountID)
	return events, skipped, nil
}

// FetchEquity returns a point-in-time account value snapshot from the
// wallet's clearinghouse state.
func (c *Client) FetchEquity(ctx context.Context) (domain.EquitySnapshot, error) {
	payload, err := c.postInfo(ctx, map[string]any{
		"type": "clearinghouseState",
		"user": c.user,
	})
	if err != nil {
		return domain.EquitySnapshot{}, fmt.Errorf("hyperliquid: fetch equity: %w", err)
	}
	state, ok := payload.(map[string]any)
	if !ok {
		return domain.EquitySnapshot{}, fmt.Errorf("hyperliquid: fetch equity: unexpected response shape")
	}
	value, ok := accountValue(state)
	if !ok {
		return domain.EquitySnapshot{}, fmt.Errorf("hyperliquid: fetch equity: no account value in response")
	}
	return domain.EquitySnapshot{
		Timestamp:  time.Now().UTC(),
		TotalValue: value,
		Source:     Source,
		AccountID:  c.accountID,
	}, nil
}

// FetchBars returns candles for symbol in [startMs, endMs], snapped outward
// to interval boundaries.
func (c *Client) FetchBars(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]domain.PriceBar, error) {
	intervalMs, err := intervalMillis(interval)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: fetch bars: %w", err)
	}
	payload, err := c.postInfo(ctx, map[string]any{
		"type": "candleSnapshot",
		"req": map[string]any{
			"coin":      CoinFromSymbol(symbol),
			"interval":  interval,
			"startTime": floorTo(startMs, intervalMs),
			"endTime":   ceilTo(endMs, intervalMs),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: fetch bars: %w", err)
	}
	return NormalizeBars(extractRecords(payload), intervalMs), nil
}

// postInfo sends one typed request to /info with retries and decodes the
// JSON response.
func (c *Client) postInfo(ctx context.Context, request map[string]any) (any, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff * time.Duration(1<<(attempt-1))):
			}
		}

		payload, retryable, err := c.send(ctx, body)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) send(ctx context.Context, body []byte) (any, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.infoURL, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("%w: HTTP 429", domain.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, false, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if len(respBody) == 0 {
		return nil, true, fmt.Errorf("empty response body")
	}

	var payload any
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, false, fmt.Errorf("non-JSON response: %w", err)
	}
	return payload, false, nil
}

// checksumAddress normalizes a wallet address to its EIP-55 checksummed
// form, which the API expects.
func checksumAddress(wallet string) string {
	return common.HexToAddress(wallet).Hex()
}

func floorTo(value, step int64) int64 {
	if step <= 0 {
		return value
	}
	return value - value%step
}

func ceilTo(value, step int64) int64 {
	if step <= 0 {
		return value
	}
	if rem := value % step; rem != 0 {
		return value + step - rem
	}
	return value
}
