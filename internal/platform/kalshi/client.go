// Package kalshi implements the Source Client for the Kalshi exchange API:
// key-authenticated REST, cursor pagination, prices as integer cents in
// [0,100].
package kalshi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/oddsync/oddsync/internal/domain"
)

const (
	pageSize = 200

	rateLimitKey = "kalshi"
)

// Client is the REST client for the Kalshi trade API.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	limiter     domain.RateLimiter
	rateLimit   int
	rateWindow  time.Duration
	pageTimeout time.Duration
}

// NewClient creates a new Kalshi REST client.
//
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
func NewClient(baseURL, apiKey string, limiter domain.RateLimiter, limit int, window, pageTimeout time.Duration) *Client {
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     limiter,
		rateLimit:   limit,
		rateWindow:  window,
		pageTimeout: pageTimeout,
	}
}

// Source implements domain.SourceClient.
func (c *Client) Source() domain.Source {
	return domain.SourceKalshi
}

// FetchFull returns one page of markets. Kalshi paginates with an opaque
// cursor string; an empty cursor in the response means exhaustion.
func (c *Client) FetchFull(ctx context.Context, cursor string) (domain.Page, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(pageSize))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	records, next, err := c.fetchMarkets(ctx, "/markets?"+params.Encode())
	if err != nil {
		return domain.Page{}, err
	}

	return domain.Page{
		Records:    records,
		NextCursor: next,
		Done:       next == "",
	}, nil
}

// FetchDelta returns every market updated since the given time, following
// cursors internally until the listing is exhausted.
func (c *Client) FetchDelta(ctx context.Context, since time.Time) ([]domain.RawPayload, error) {
	var out []domain.RawPayload
	cursor := ""

	for {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(pageSize))
		params.Set("min_updated_ts", strconv.FormatInt(since.Unix(), 10))
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		records, next, err := c.fetchMarkets(ctx, "/markets?"+params.Encode())
		if err != nil {
			return nil, err
		}

		out = append(out, records...)
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

// fetchMarkets fetches one page and extracts per-record payloads keyed by
// ticker, keeping each market document verbatim.
func (c *Client) fetchMarkets(ctx context.Context, path string) ([]domain.RawPayload, string, error) {
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, "", err
	}

	var resp struct {
		Markets []json.RawMessage `json:"markets"`
		Cursor  string            `json:"cursor"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("kalshi: decode markets: %w: %v", domain.ErrSourceProtocol, err)
	}

	records := make([]domain.RawPayload, 0, len(resp.Markets))
	for i, doc := range resp.Markets {
		var ident struct {
			Ticker string `json:"ticker"`
		}
		if err := json.Unmarshal(doc, &ident); err != nil || ident.Ticker == "" {
			return nil, "", fmt.Errorf("kalshi: market %d has no ticker: %w", i, domain.ErrSourceProtocol)
		}
		records = append(records, domain.RawPayload{LogicalID: ident.Ticker, Document: doc})
	}
	return records, resp.Cursor, nil
}

// doGet applies the rate limit, sends an authenticated GET with a bounded
// page timeout, and classifies failures.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx, rateLimitKey, c.rateLimit, c.rateWindow); err != nil {
		return nil, fmt.Errorf("kalshi: rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.pageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("kalshi: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("kalshi: %w: %v", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kalshi: read response: %w: %v", domain.ErrSourceUnavailable, err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to the error taxonomy.
func checkHTTPStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}

	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch {
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("kalshi: HTTP %d %s: %w", code, apiErr.Code, domain.ErrSourceUnavailable)
	default:
		return fmt.Errorf("kalshi: HTTP %d %s %s: %w", code, apiErr.Code, apiErr.Message, domain.ErrSourceProtocol)
	}
}

// Compile-time interface check.
var _ domain.SourceClient = (*Client)(nil)
