package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/oddsync/oddsync/internal/domain"
)

// RunTrigger starts an ingestion run outside the regular cadence.
type RunTrigger interface {
	Trigger(ctx context.Context, source domain.Source, loadType domain.LoadType) error
}

// RunReader provides read access to run history.
type RunReader interface {
	Running(ctx context.Context, source domain.Source, loadType domain.LoadType) (domain.IngestionRun, error)
	Latest(ctx context.Context, source domain.Source, loadType domain.LoadType) (domain.IngestionRun, error)
	ListRecent(ctx context.Context, limit int) ([]domain.IngestionRun, error)
}

// IngestionHandler serves the admin surface for triggering runs and
// inspecting run history.
type IngestionHandler struct {
	trigger RunTrigger
	runs    RunReader
	logger  *slog.Logger
}

// NewIngestionHandler creates an IngestionHandler.
func NewIngestionHandler(trigger RunTrigger, runs RunReader, logger *slog.Logger) *IngestionHandler {
	return &IngestionHandler{
		trigger: trigger,
		runs:    runs,
		logger:  logger,
	}
}

// triggerRequest is the body for the manual trigger endpoint.
type triggerRequest struct {
	Source   string `json:"source"`
	LoadType string `json:"load_type"`
}

// TriggerRun starts a run for the requested pair. The run executes
// asynchronously; this returns as soon as it is accepted.
// POST /api/ingestion/trigger
func (h *IngestionHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	source := domain.Source(req.Source)
	loadType := domain.LoadType(req.LoadType)
	if !source.Valid() {
		writeError(w, http.StatusBadRequest, "unknown source")
		return
	}
	if !loadType.Valid() {
		writeError(w, http.StatusBadRequest, "unknown load type")
		return
	}

	if err := h.trigger.Trigger(r.Context(), source, loadType); err != nil {
		if errors.Is(err, domain.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "a run for this source and load type is already in progress")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: trigger run failed",
			slog.String("source", req.Source),
			slog.String("load_type", req.LoadType),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to trigger run")
		return
	}

	h.logger.InfoContext(r.Context(), "handler: run triggered",
		slog.String("source", req.Source),
		slog.String("load_type", req.LoadType),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"source":       req.Source,
		"load_type":    req.LoadType,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetRunStatus returns the in-progress run for the pair, falling back to
// the most recent finished run.
// GET /api/ingestion/status?source=&load=
func (h *IngestionHandler) GetRunStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source := domain.Source(q.Get("source"))
	loadType := domain.LoadType(q.Get("load"))
	if !source.Valid() {
		writeError(w, http.StatusBadRequest, "unknown source")
		return
	}
	if !loadType.Valid() {
		writeError(w, http.StatusBadRequest, "unknown load type")
		return
	}

	run, err := h.runs.Running(r.Context(), source, loadType)
	if errors.Is(err, domain.ErrNotFound) {
		run, err = h.runs.Latest(r.Context(), source, loadType)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no runs recorded for this source and load type")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: run status failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read run status")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// ListRuns returns recent runs across all pairs, newest first.
// GET /api/ingestion/runs?limit=50
func (h *IngestionHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	runs, err := h.runs.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list runs failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
