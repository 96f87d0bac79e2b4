// Package apex is the REST client for the ApeX Omni exchange API. It fetches
// fills, historical orders, funding payments, and klines for one account and
// normalizes them into domain records.
package apex

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

	"github.com/perptools/journal/internal/crypto"
	"github.com/perptools/journal/internal/domain"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultAttempts = 3
	defaultBackoff  = 750 * time.Millisecond

	// signatureErrorCode is the venue's "signature check failed" response code.
	signatureErrorCode = "20016"
)

// Client is the REST client for the ApeX Omni API.
type Client struct {
	baseURL    string // normalized to end in /api
	auth       *crypto.HMACAuth
	accountID  string
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
}

// NewClient creates a new ApeX REST client.
//
// baseURL is the API root, e.g. "https://omni.apex.exchange"; the "/api" path
// segment is appended when missing, matching how the venue hosts its REST API.
func NewClient(baseURL string, auth *crypto.HMACAuth, accountID string) *Client {
	return &Client{
		baseURL:   normalizeBaseURL(baseURL),
		auth:      auth,
		accountID: accountID,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
}

// Page addresses one page of a paginated history endpoint. Begin and End are
// optional millisecond bounds; Begin is inclusive, End exclusive.
type Page struct {
	Limit int
	Page  int
	Begin *int64
	End   *int64
}

func (p Page) values() url.Values {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(p.Limit))
	params.Set("page", strconv.Itoa(p.Page))
	if p.Begin != nil {
		params.Set("beginTimeInclusive", strconv.FormatInt(*p.Begin, 10))
	}
	if p.End != nil {
		params.Set("endTimeExclusive", strconv.FormatInt(*p.End, 10))
	}
	return params
}

// FetchFills returns one page of the account's fills, normalized. The skipped
// count reports records the normalizer rejected.
func (c *Client) FetchFills(ctx context.Context, page Page) ([]domain.Fill, int, error) {
	payload, err := c.get(ctx, "/v3/fills", page.values())
	if err != nil {
		return nil, 0, fmt.Errorf("apex: fetch fills: %w", err)
	}
	fills, skipped := NormalizeFills(extractRecords(payload, "fills", "list", "orders"), c.accountID)
	return fills, skipped, nil
}

// FetchOrders returns one page of the account's historical orders, normalized.
func (c *Client) FetchOrders(ctx context.Context, page Page) ([]domain.OrderRecord, int, error) {
	payload, err := c.get(ctx, "/v3/history-orders", page.values())
	if err != nil {
		return nil, 0, fmt.Errorf("apex: fetch orders: %w", err)
	}
	orders, skipped := NormalizeOrders(extractRecords(payload, "orders", "list", "records"), c.accountID)
	return orders, skipped, nil
}

// FetchFunding returns one page of the account's funding history, normalized.
func (c *Client) FetchFunding(ctx context.Context, page Page) ([]domain.FundingEvent, int, error) {
	payload, err := c.get(ctx, "/v3/funding", page.values())
	if err != nil {
		return nil, 0, fmt.Errorf("apex: fetch funding: %w", err)
	}
	events, skipped := NormalizeFunding(extractRecords(payload, "funding", "fundingValues", "list", "records"), c.accountID)
	return events, skipped, nil
}

// FetchBars returns klines for symbol in [start, end), normalized to bars of
// the given interval.
func (c *Client) FetchBars(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]domain.PriceBar, error) {
	intervalMs, err := IntervalMillis(interval)
	if err != nil {
		return nil, fmt.Errorf("apex: fetch bars: %w", err)
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("startTime", strconv.FormatInt(startMs, 10))
	params.Set("endTime", strconv.FormatInt(endMs, 10))

	payload, err := c.get(ctx, "/v3/klines", params)
	if err != nil {
		return nil, fmt.Errorf("apex: fetch bars: %w", err)
	}
	bars := NormalizeBars(extractRecords(payload, "bars", "list", "klines", "candles", "records"), intervalMs)
	return bars, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// get builds, signs, and sends a GET request with retries, decoding the JSON
// response body. The signed path includes the query string, per the venue's
// API key scheme.
func (c *Client) get(ctx context.Context, path string, params url.Values) (any, error) {
	signedPath := signaturePath(c.baseURL, path)
	query := params.Encode()
	fullURL := c.baseURL + path
	if query != "" {
		signedPath += "?" + query
		fullURL += "?" + query
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

		payload, retryable, err := c.send(ctx, fullURL, signedPath)
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

func (c *Client) send(ctx context.Context, fullURL, signedPath string) (any, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range c.auth.Headers(http.MethodGet, signedPath, "") {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("%w: HTTP 429", domain.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body, 200))
	case resp.StatusCode >= 300:
		return nil, false, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		hint := ""
		if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") {
			hint = " (HTML response: check the base URL points to the API host, not the web app)"
		}
		return nil, false, fmt.Errorf("non-JSON response%s: %s", hint, truncate(body, 200))
	}

	if code := responseCode(payload); code == signatureErrorCode {
		return nil, false, fmt.Errorf("signature check failed (code %s)", code)
	}

	return payload, false, nil
}

// normalizeBaseURL trims trailing slashes and ensures the path ends in /api.
func normalizeBaseURL(base string) string {
	trimmed := strings.TrimRight(base, "/")
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	if !strings.HasSuffix(parsed.Path, "/api") {
		parsed.Path = strings.TrimRight(parsed.Path, "/") + "/api"
	}
	return strings.TrimRight(parsed.String(), "/")
}

// signaturePath prepends the base URL's path component to the endpoint path,
// because the venue signs the full server-side path.
func signaturePath(baseURL, path string) string {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return path
	}
	basePath := strings.TrimRight(parsed.Path, "/")
	return basePath + path
}

func responseCode(payload any) string {
	m, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	code, ok := m["code"]
	if !ok || code == nil {
		return ""
	}
	return fmt.Sprintf("%v", code)
}

func truncate(body []byte, n int) string {
	s := string(body)
	if len(s) > n {
		return s[:n]
	}
	return s
}
