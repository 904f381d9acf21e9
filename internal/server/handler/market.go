package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/oddsync/oddsync/internal/domain"
)

// MarketStore defines the canonical-layer reads the market handler needs.
// It is declared locally so the handler package does not depend on the
// concrete store implementation.
type MarketStore interface {
	Get(ctx context.Context, source domain.Source, logicalID string) (domain.CanonicalMarket, error)
	List(ctx context.Context, f domain.MarketFilter) ([]domain.CanonicalMarket, error)
	Count(ctx context.Context) (int64, error)
}

// MarketHandler serves canonical market reads. Single-market lookups go
// through the cache when one is configured; the orchestrator invalidates
// entries when the canonical row changes.
type MarketHandler struct {
	markets MarketStore
	cache   domain.MarketCache
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. cache may be nil.
func NewMarketHandler(markets MarketStore, cache domain.MarketCache, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		cache:   cache,
		logger:  logger,
	}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.CanonicalMarket `json:"markets"`
	Total   int64                    `json:"total"`
	Limit   int                      `json:"limit"`
	Offset  int                      `json:"offset"`
}

// ListMarkets returns canonical markets filtered by source, status, and
// last-updated window, with pagination.
// GET /api/markets?source=&status=&since=&until=&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	f := parseMarketFilter(r)
	if f.Source != "" && !f.Source.Valid() {
		writeError(w, http.StatusBadRequest, "unknown source")
		return
	}

	markets, err := h.markets.List(r.Context(), f)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	total, err := h.markets.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count markets")
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   f.Limit,
		Offset:  f.Offset,
	})
}

// GetMarket returns a single canonical market by its identity.
// GET /api/markets/{source}/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	source := domain.Source(r.PathValue("source"))
	logicalID := r.PathValue("id")
	if !source.Valid() {
		writeError(w, http.StatusBadRequest, "unknown source")
		return
	}
	if logicalID == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	if h.cache != nil {
		if m, ok, err := h.cache.Get(r.Context(), source, logicalID); err == nil && ok {
			writeJSON(w, http.StatusOK, m)
			return
		}
	}

	market, err := h.markets.Get(r.Context(), source, logicalID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get market failed",
			slog.String("source", string(source)),
			slog.String("logical_id", logicalID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(r.Context(), market); err != nil {
			h.logger.WarnContext(r.Context(), "handler: cache set failed",
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusOK, market)
}
