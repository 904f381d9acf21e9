// Package manifold implements the Source Client for the Manifold Markets
// API: unauthenticated REST, before-id pagination, probability as a float
// fraction.
package manifold

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
	pageSize = 500

	rateLimitKey = "manifold"
)

// Client is the REST client for the Manifold API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	limiter     domain.RateLimiter
	rateLimit   int
	rateWindow  time.Duration
	pageTimeout time.Duration
}

// NewClient creates a new Manifold client.
//
// baseURL is the API root, e.g. "https://api.manifold.markets/v0".
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
	return domain.SourceManifold
}

// FetchFull returns one page of markets. Manifold pages with the id of the
// last market seen; the cursor is that id.
func (c *Client) FetchFull(ctx context.Context, cursor string) (domain.Page, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(pageSize))
	if cursor != "" {
		params.Set("before", cursor)
	}

	records, err := c.fetchMarkets(ctx, "/markets?"+params.Encode())
	if err != nil {
		return domain.Page{}, err
	}

	page := domain.Page{Records: records}
	if len(records) < pageSize {
		page.Done = true
	} else {
		page.NextCursor = records[len(records)-1].LogicalID
	}
	return page, nil
}

// FetchDelta pages through markets ordered by last update and stops at the
// first record older than since.
func (c *Client) FetchDelta(ctx context.Context, since time.Time) ([]domain.RawPayload, error) {
	var out []domain.RawPayload
	cursor := ""

	for {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(pageSize))
		params.Set("sort", "last-updated")
		if cursor != "" {
			params.Set("before", cursor)
		}

		records, err := c.fetchMarkets(ctx, "/markets?"+params.Encode())
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return out, nil
		}

		for _, rec := range records {
			var ts struct {
				LastUpdatedTime int64 `json:"lastUpdatedTime"`
			}
			// A missing update time must not read as epoch zero, or the
			// walk would stop early and truncate the delta.
			if err := json.Unmarshal(rec.Document, &ts); err != nil || ts.LastUpdatedTime == 0 {
				return nil, fmt.Errorf("manifold: record %s has no update time: %w", rec.LogicalID, domain.ErrSourceProtocol)
			}
			if time.UnixMilli(ts.LastUpdatedTime).Before(since) {
				return out, nil
			}
			out = append(out, rec)
		}

		if len(records) < pageSize {
			return out, nil
		}
		cursor = records[len(records)-1].LogicalID
	}
}

// fetchMarkets fetches one listing page, keeping each document verbatim.
func (c *Client) fetchMarkets(ctx context.Context, path string) ([]domain.RawPayload, error) {
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, err
	}

	var docs []json.RawMessage
	if err := json.Unmarshal(body, &docs); err != nil {
		return nil, fmt.Errorf("manifold: decode listing: %w: %v", domain.ErrSourceProtocol, err)
	}

	records := make([]domain.RawPayload, 0, len(docs))
	for i, doc := range docs {
		var ident struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(doc, &ident); err != nil || ident.ID == "" {
			return nil, fmt.Errorf("manifold: record %d has no id: %w", i, domain.ErrSourceProtocol)
		}
		records = append(records, domain.RawPayload{LogicalID: ident.ID, Document: doc})
	}
	return records, nil
}

// doGet applies the rate limit, sends a GET with a bounded page timeout,
// and classifies failures.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx, rateLimitKey, c.rateLimit, c.rateWindow); err != nil {
		return nil, fmt.Errorf("manifold: rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.pageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("manifold: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("manifold: %w: %v", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("manifold: read response: %w: %v", domain.ErrSourceUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("manifold: HTTP %d: %w", resp.StatusCode, domain.ErrSourceUnavailable)
	default:
		return nil, fmt.Errorf("manifold: HTTP %d: %w", resp.StatusCode, domain.ErrSourceProtocol)
	}
}

// Compile-time interface check.
var _ domain.SourceClient = (*Client)(nil)
