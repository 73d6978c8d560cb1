package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"fnol-observability-api/internal/core"
	"fnol-observability-api/internal/store"
)

type APIHandler struct {
	ingestService *core.IngestService
	queryService  *core.QueryService
	logger        *slog.Logger
}

func NewAPIHandler(ingest *core.IngestService, query *core.QueryService, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		ingestService: ingest,
		queryService:  query,
		logger:        logger,
	}
}

// GET /api/fnols?page&page_size&status&search&date_from&date_to
func (h *APIHandler) ListFNOLsHandler(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page := h.queryService.ListFNOLs(r.Context(), q)
	writeJSON(w, http.StatusOK, page)
}

// GET /api/fnols/{fnolID}
func (h *APIHandler) GetFNOLDetailHandler(w http.ResponseWriter, r *http.Request) {
	fnolID := chi.URLParam(r, "fnolID")

	detail, err := h.queryService.GetFNOLDetail(r.Context(), fnolID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidFNOLID):
			writeError(w, http.StatusBadRequest, "Invalid FNOL ID format: "+fnolID)
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "FNOL "+fnolID+" not found")
		default:
			h.logger.Error("fnol detail lookup failed", "fnol_id", fnolID, "error", err.Error())
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// GET /api/metrics/llm
func (h *APIHandler) LLMMetricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queryService.GetLLMMetricsOverview(r.Context()))
}

// GET /api/analytics/failures
func (h *APIHandler) FailureAnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queryService.GetFailureAnalytics(r.Context()))
}

// GET /api/dashboard/stats
func (h *APIHandler) DashboardStatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queryService.GetDashboardStats(r.Context()))
}

// POST /api/fnol-ingest
func (h *APIHandler) IngestFNOLHandler(w http.ResponseWriter, r *http.Request) {
	var payload core.ParsedEmail
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.ingestService.Ingest(r.Context(), payload)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, core.ErrTimeout):
			writeError(w, http.StatusInternalServerError, "FNOL ingestion timed out")
		default:
			// Raw error text stays in the logs; clients get a generic message.
			writeError(w, http.StatusInternalServerError, "FNOL ingestion failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseListQuery(values url.Values) (core.ListQuery, error) {
	q := core.ListQuery{Page: 1, PageSize: 20}

	if v := values.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return core.ListQuery{}, errors.New("page must be a positive integer")
		}
		q.Page = page
	}
	if v := values.Get("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 1 || size > 100 {
			return core.ListQuery{}, errors.New("page_size must be between 1 and 100")
		}
		q.PageSize = size
	}
	if v := values.Get("status"); v != "" {
		q.Status = &v
	}
	if v := values.Get("search"); v != "" {
		q.Search = &v
	}
	if v := values.Get("date_from"); v != "" {
		t, err := parseTimestamp(v)
		if err != nil {
			return core.ListQuery{}, errors.New("date_from must be RFC3339 or YYYY-MM-DD")
		}
		q.DateFrom = &t
	}
	if v := values.Get("date_to"); v != "" {
		t, err := parseTimestamp(v)
		if err != nil {
			return core.ListQuery{}, errors.New("date_to must be RFC3339 or YYYY-MM-DD")
		}
		q.DateTo = &t
	}
	return q, nil
}

func parseTimestamp(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
