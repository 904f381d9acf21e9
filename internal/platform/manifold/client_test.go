package manifold

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
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
	return NewClient(baseURL, nopLimiter{}, 10, time.Second, 5*time.Second)
}

func marketDocs(prefix string, n int, updatedAt time.Time) []json.RawMessage {
	docs := make([]json.RawMessage, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, json.RawMessage(fmt.Sprintf(
			`{"id":"%s-%d","probability":0.5,"lastUpdatedTime":%d}`,
			prefix, i, updatedAt.UnixMilli())))
	}
	return docs
}

func TestFetchFullPagesByBeforeID(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var befores []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		before := r.URL.Query().Get("before")
		befores = append(befores, before)

		docs := marketDocs("b", 4, now)
		if before == "" {
			docs = marketDocs("a", pageSize, now)
		}
		require.NoError(t, json.NewEncoder(w).Encode(docs))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	first, err := c.FetchFull(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, first.Records, pageSize)
	assert.False(t, first.Done)
	assert.Equal(t, fmt.Sprintf("a-%d", pageSize-1), first.NextCursor)

	second, err := c.FetchFull(context.Background(), first.NextCursor)
	require.NoError(t, err)
	require.Len(t, second.Records, 4)
	assert.True(t, second.Done)

	assert.Equal(t, []string{"", fmt.Sprintf("a-%d", pageSize-1)}, befores)
}

func TestFetchDeltaStopsAtWatermark(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Update order is newest first; the third record predates the watermark.
	docs := append(marketDocs("fresh", 2, since.Add(time.Hour)),
		marketDocs("stale", 2, since.Add(-time.Hour))...)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "last-updated", r.URL.Query().Get("sort"))
		require.NoError(t, json.NewEncoder(w).Encode(docs))
	}))
	defer srv.Close()

	records, err := newTestClient(srv.URL).FetchDelta(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "fresh-0", records[0].LogicalID)
	assert.Equal(t, "fresh-1", records[1].LogicalID)
}

func TestFetchDeltaMissingUpdateTimeIsProtocolError(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	docs := append(marketDocs("fresh", 1, since.Add(time.Hour)),
		json.RawMessage(`{"id":"no-ts","probability":0.5}`))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(docs))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchDelta(context.Background(), since)
	require.ErrorIs(t, err, domain.ErrSourceProtocol, "a record without an update time must fail the call, not end the walk")
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusInternalServerError, "", domain.ErrSourceUnavailable},
		{"throttled", http.StatusTooManyRequests, "", domain.ErrSourceUnavailable},
		{"client error", http.StatusBadRequest, "", domain.ErrSourceProtocol},
		{"undecodable body", http.StatusOK, "{}", domain.ErrSourceProtocol},
		{"record without id", http.StatusOK, `[{"probability":0.5}]`, domain.ErrSourceProtocol},
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
