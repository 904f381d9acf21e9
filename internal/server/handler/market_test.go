package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsync/oddsync/internal/domain"
)

type fakeMarketStore struct {
	markets map[string]domain.CanonicalMarket
	gets    int
}

func marketStoreKey(source domain.Source, logicalID string) string {
	return string(source) + "|" + logicalID
}

func (f *fakeMarketStore) Get(ctx context.Context, source domain.Source, logicalID string) (domain.CanonicalMarket, error) {
	f.gets++
	m, ok := f.markets[marketStoreKey(source, logicalID)]
	if !ok {
		return domain.CanonicalMarket{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarketStore) List(ctx context.Context, filter domain.MarketFilter) ([]domain.CanonicalMarket, error) {
	var out []domain.CanonicalMarket
	for _, m := range f.markets {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeMarketStore) Count(ctx context.Context) (int64, error) {
	return int64(len(f.markets)), nil
}

type fakeMarketCache struct {
	entries map[string]domain.CanonicalMarket
}

func (f *fakeMarketCache) Get(ctx context.Context, source domain.Source, logicalID string) (domain.CanonicalMarket, bool, error) {
	m, ok := f.entries[marketStoreKey(source, logicalID)]
	return m, ok, nil
}

func (f *fakeMarketCache) Set(ctx context.Context, m domain.CanonicalMarket) error {
	f.entries[marketStoreKey(m.Source, m.LogicalID)] = m
	return nil
}

func (f *fakeMarketCache) Invalidate(ctx context.Context, source domain.Source, logicalID string) error {
	delete(f.entries, marketStoreKey(source, logicalID))
	return nil
}

func TestGetMarketReadThroughCache(t *testing.T) {
	m := domain.CanonicalMarket{
		Source:    domain.SourceKalshi,
		LogicalID: "RAIN-26MAR",
		Title:     "Will it rain?",
		Status:    domain.MarketStatusActive,
		YesPrice:  0.63,
		NoPrice:   0.37,
	}
	store := &fakeMarketStore{markets: map[string]domain.CanonicalMarket{
		marketStoreKey(m.Source, m.LogicalID): m,
	}}
	cache := &fakeMarketCache{entries: map[string]domain.CanonicalMarket{}}
	h := NewMarketHandler(store, cache, slog.New(slog.DiscardHandler))

	get := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/markets/kalshi/RAIN-26MAR", nil)
		req.SetPathValue("source", "kalshi")
		req.SetPathValue("id", "RAIN-26MAR")
		rec := httptest.NewRecorder()
		h.GetMarket(rec, req)
		return rec
	}

	rec := get()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, store.gets)
	assert.Len(t, cache.entries, 1, "miss must populate the cache")

	rec = get()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, store.gets, "second read must be served from cache")
	assert.Contains(t, rec.Body.String(), "Will it rain?")
}

func TestGetMarketNotFound(t *testing.T) {
	store := &fakeMarketStore{markets: map[string]domain.CanonicalMarket{}}
	h := NewMarketHandler(store, nil, slog.New(slog.DiscardHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/markets/kalshi/nope", nil)
	req.SetPathValue("source", "kalshi")
	req.SetPathValue("id", "nope")
	rec := httptest.NewRecorder()

	h.GetMarket(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMarketRejectsUnknownSource(t *testing.T) {
	h := NewMarketHandler(&fakeMarketStore{}, nil, slog.New(slog.DiscardHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/markets/nasdaq/x", nil)
	req.SetPathValue("source", "nasdaq")
	req.SetPathValue("id", "x")
	rec := httptest.NewRecorder()

	h.GetMarket(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMarkets(t *testing.T) {
	m := domain.CanonicalMarket{
		Source:    domain.SourceManifold,
		LogicalID: "abc",
		Title:     "Q",
		Status:    domain.MarketStatusActive,
	}
	store := &fakeMarketStore{markets: map[string]domain.CanonicalMarket{
		marketStoreKey(m.Source, m.LogicalID): m,
	}}
	h := NewMarketHandler(store, nil, slog.New(slog.DiscardHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/markets?source=manifold&limit=10", nil)
	rec := httptest.NewRecorder()

	h.ListMarkets(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)
}
