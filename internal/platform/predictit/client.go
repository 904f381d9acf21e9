// Package predictit implements the Source Client for the PredictIt public
// API. PredictIt serves the entire market list in a single response, so a
// full fetch is one page and a delta fetch filters that snapshot by the
// per-market timestamp.
package predictit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/oddsync/oddsync/internal/domain"
)

const rateLimitKey = "predictit"

// timeLayout is the zoneless timestamp format PredictIt uses (Eastern time
// upstream; treated as UTC for watermark comparison, which only needs to be
// monotonic).
const timeLayout = "2006-01-02T15:04:05.9999999"

// Client is the REST client for the PredictIt API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	limiter     domain.RateLimiter
	rateLimit   int
	rateWindow  time.Duration
	pageTimeout time.Duration
}

// NewClient creates a new PredictIt client.
//
// baseURL is the API root, e.g. "https://www.predictit.org/api".
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
	return domain.SourcePredictIt
}

// FetchFull returns the complete market list as a single done page.
func (c *Client) FetchFull(ctx context.Context, cursor string) (domain.Page, error) {
	if cursor != "" {
		return domain.Page{}, fmt.Errorf("predictit: %w: unexpected cursor %q", domain.ErrSourceProtocol, cursor)
	}

	records, err := c.fetchAll(ctx)
	if err != nil {
		return domain.Page{}, err
	}
	return domain.Page{Records: records, Done: true}, nil
}

// FetchDelta re-fetches the snapshot and keeps markets stamped at or after
// since. PredictIt has no incremental endpoint; the fingerprint layer
// downstream makes the re-fetch cheap.
func (c *Client) FetchDelta(ctx context.Context, since time.Time) ([]domain.RawPayload, error) {
	records, err := c.fetchAll(ctx)
	if err != nil {
		return nil, err
	}

	var out []domain.RawPayload
	for _, rec := range records {
		var ts struct {
			TimeStamp string `json:"timeStamp"`
		}
		if err := json.Unmarshal(rec.Document, &ts); err != nil || ts.TimeStamp == "" {
			return nil, fmt.Errorf("predictit: market %s has no timestamp: %w", rec.LogicalID, domain.ErrSourceProtocol)
		}
		stamped, err := time.Parse(timeLayout, ts.TimeStamp)
		if err != nil {
			return nil, fmt.Errorf("predictit: market %s bad timestamp %q: %w", rec.LogicalID, ts.TimeStamp, domain.ErrSourceProtocol)
		}
		if !stamped.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// fetchAll fetches /marketdata/all and splits it into per-market payloads.
func (c *Client) fetchAll(ctx context.Context) ([]domain.RawPayload, error) {
	body, err := c.doGet(ctx, "/marketdata/all/")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Markets []json.RawMessage `json:"markets"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("predictit: decode snapshot: %w: %v", domain.ErrSourceProtocol, err)
	}

	records := make([]domain.RawPayload, 0, len(resp.Markets))
	for i, doc := range resp.Markets {
		var ident struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(doc, &ident); err != nil || ident.ID == 0 {
			return nil, fmt.Errorf("predictit: market %d has no id: %w", i, domain.ErrSourceProtocol)
		}
		records = append(records, domain.RawPayload{
			LogicalID: strconv.FormatInt(ident.ID, 10),
			Document:  doc,
		})
	}
	return records, nil
}

// doGet applies the rate limit, sends a GET with a bounded page timeout,
// and classifies failures.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx, rateLimitKey, c.rateLimit, c.rateWindow); err != nil {
		return nil, fmt.Errorf("predictit: rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.pageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("predictit: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("predictit: %w: %v", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("predictit: read response: %w: %v", domain.ErrSourceUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("predictit: HTTP %d: %w", resp.StatusCode, domain.ErrSourceUnavailable)
	default:
		return nil, fmt.Errorf("predictit: HTTP %d: %w", resp.StatusCode, domain.ErrSourceProtocol)
	}
}

// Compile-time interface check.
var _ domain.SourceClient = (*Client)(nil)
