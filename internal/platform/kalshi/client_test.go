package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsync/oddsync/internal/domain"
)

type nopLimiter struct{}

func (nopLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) { return true, nil }
func (nopLimiter) Wait(context.Context, string, int, time.Duration) error          { return nil }

func newTestClient(baseURL string) *Client {
	return NewClient(baseURL, "test-key", nopLimiter{}, 10, time.Second, 5*time.Second)
}

func marketsResponse(prefix string, n int, cursor string) map[string]any {
	markets := make([]json.RawMessage, 0, n)
	for i := 0; i < n; i++ {
		markets = append(markets, json.RawMessage(fmt.Sprintf(`{"ticker":"%s-%d","yes_bid":40}`, prefix, i)))
	}
	return map[string]any{"markets": markets, "cursor": cursor}
}

func TestFetchFullFollowsCursor(t *testing.T) {
	var cursors []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("KALSHI-ACCESS-KEY"))
		cur := r.URL.Query().Get("cursor")
		cursors = append(cursors, cur)

		resp := marketsResponse("PAGE2", 2, "")
		if cur == "" {
			resp = marketsResponse("PAGE1", 3, "abc123")
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	first, err := c.FetchFull(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, first.Records, 3)
	assert.False(t, first.Done)
	assert.Equal(t, "abc123", first.NextCursor)
	assert.Equal(t, "PAGE1-0", first.Records[0].LogicalID)

	second, err := c.FetchFull(context.Background(), first.NextCursor)
	require.NoError(t, err)
	require.Len(t, second.Records, 2)
	assert.True(t, second.Done)

	assert.Equal(t, []string{"", "abc123"}, cursors)
}

func TestFetchDeltaFollowsCursorsToExhaustion(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, strconv.FormatInt(since.Unix(), 10), r.URL.Query().Get("min_updated_ts"))

		resp := marketsResponse("B", 1, "")
		if r.URL.Query().Get("cursor") == "" {
			resp = marketsResponse("A", 2, "next")
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	records, err := newTestClient(srv.URL).FetchDelta(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "B-0", records[2].LogicalID)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusServiceUnavailable, `{"code":"internal"}`, domain.ErrSourceUnavailable},
		{"throttled", http.StatusTooManyRequests, `{"code":"rate_limited"}`, domain.ErrSourceUnavailable},
		{"unauthorized", http.StatusUnauthorized, `{"code":"invalid_api_key","message":"bad key"}`, domain.ErrSourceProtocol},
		{"undecodable body", http.StatusOK, "not json", domain.ErrSourceProtocol},
		{"market without ticker", http.StatusOK, `{"markets":[{"yes_bid":40}],"cursor":""}`, domain.ErrSourceProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).FetchFull(context.Background(), "")
			require.ErrorIs(t, err, tt.want)
		})
	}
}
