// Package polymarket implements the Source Client for the Polymarket Gamma
// API: unauthenticated REST, limit/offset pagination, outcome prices as
// decimal strings on the [0,1] scale.
package polymarket

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
	pageSize = 100

	rateLimitKey = "polymarket"
)

// Client is the REST client for the Polymarket Gamma API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	limiter     domain.RateLimiter
	rateLimit   int
	rateWindow  time.Duration
	pageTimeout time.Duration
}

// NewClient creates a new Gamma API client.
//
// baseURL is the API root, e.g. "https://gamma-api.polymarket.com".
// limiter bounds outbound request rate; limit/window configure it.
func NewClient(baseURL string, limiter domain.RateLimiter, limit int, window, pageTimeout time.Duration) *Client {
	return &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     limiter,
		rateLimit:   limit,
		rateWindow:  window,
		pageTimeout: pageTimeout,
	}
}

// Source implements domain.SourceClient.
func (c *Client) Source() domain.Source {
	return domain.SourcePolymarket
}

// FetchFull returns one page of the complete market listing. The cursor is
// the numeric offset of the next page, or empty on the first call.
func (c *Client) FetchFull(ctx context.Context, cursor string) (domain.Page, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return domain.Page{}, fmt.Errorf("polymarket: %w: bad cursor %q", domain.ErrSourceProtocol, cursor)
		}
		offset = n
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(pageSize))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("order", "id")
	params.Set("ascending", "true")

	records, err := c.fetchMarkets(ctx, "/markets?"+params.Encode())
	if err != nil {
		return domain.Page{}, err
	}

	page := domain.Page{Records: records}
	if len(records) < pageSize {
		page.Done = true
	} else {
		page.NextCursor = strconv.Itoa(offset + pageSize)
	}
	return page, nil
}

// FetchDelta returns every market updated since the given time, paginating
// internally until the listing is exhausted.
func (c *Client) FetchDelta(ctx context.Context, since time.Time) ([]domain.RawPayload, error) {
	var out []domain.RawPayload
	offset := 0

	for {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(pageSize))
		params.Set("offset", strconv.Itoa(offset))
		params.Set("updated_at_min", since.UTC().Format(time.RFC3339))
		params.Set("order", "updatedAt")
		params.Set("ascending", "true")

		records, err := c.fetchMarkets(ctx, "/markets?"+params.Encode())
		if err != nil {
			return nil, err
		}

		out = append(out, records...)
		if len(records) < pageSize {
			return out, nil
		}
		offset += pageSize
	}
}

// fetchMarkets fetches one listing page and extracts per-record payloads.
// The response body is kept verbatim per record; only the id field is
// peeked at for the logical key.
func (c *Client) fetchMarkets(ctx context.Context, path string) ([]domain.RawPayload, error) {
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, err
	}

	var docs []json.RawMessage
	if err := json.Unmarshal(body, &docs); err != nil {
		return nil, fmt.Errorf("polymarket: decode listing: %w: %v", domain.ErrSourceProtocol, err)
	}

	records := make([]domain.RawPayload, 0, len(docs))
	for i, doc := range docs {
		var ident struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(doc, &ident); err != nil || ident.ID == "" {
			return nil, fmt.Errorf("polymarket: record %d has no id: %w", i, domain.ErrSourceProtocol)
		}
		records = append(records, domain.RawPayload{LogicalID: ident.ID, Document: doc})
	}
	return records, nil
}

// doGet applies the rate limit, sends a GET with a bounded page timeout,
// and classifies failures.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx, rateLimitKey, c.rateLimit, c.rateWindow); err != nil {
		return nil, fmt.Errorf("polymarket: rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.pageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("polymarket: %w: %v", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("polymarket: read response: %w: %v", domain.ErrSourceUnavailable, err)
	}

	if err := checkHTTPStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes onto the error taxonomy:
// throttling and server errors are retryable unavailability, everything
// else is a protocol error.
func checkHTTPStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("polymarket: HTTP %d: %w", code, domain.ErrSourceUnavailable)
	default:
		return fmt.Errorf("polymarket: HTTP %d: %w", code, domain.ErrSourceProtocol)
	}
}

// Compile-time interface check.
var _ domain.SourceClient = (*Client)(nil)
