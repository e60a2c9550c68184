package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/fixora/sqlaudit/internal/domain"
)

// StatsService computes the audit counters
type StatsService interface {
	Compute(ctx context.Context) (map[string]int, error)
}

// HistoryService reads runs and actions
type HistoryService interface {
	List(ctx context.Context, filter domain.ActionFilter) ([]*domain.Action, error)
	ListRuns(ctx context.Context, limit int) ([]*domain.AuditRun, error)
}

// AuditHandler serves the read-only audit endpoints
type AuditHandler struct {
	stats     StatsService
	history   HistoryService
	events    EventSource
	heartbeat time.Duration
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(stats StatsService, history HistoryService) *AuditHandler {
	return &AuditHandler{stats: stats, history: history}
}

// RegisterRoutes registers audit routes
func (h *AuditHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/stats", h.GetStats).Methods("GET")
	router.HandleFunc("/runs", h.ListRuns).Methods("GET")
	router.HandleFunc("/actions", h.ListActions).Methods("GET")
	if h.events != nil {
		router.HandleFunc("/actions/stream", h.StreamActions).Methods("GET")
	}
}

// GetStats handles GET /api/v1/stats
func (h *AuditHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Compute(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccessResponse(w, http.StatusOK, "Stats computed successfully", stats)
}

// ListRuns handles GET /api/v1/runs?limit=
func (h *AuditHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}

	runs, err := h.history.ListRuns(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccessResponse(w, http.StatusOK, "Runs retrieved successfully", map[string]interface{}{
		"runs":  runs,
		"total": len(runs),
	})
}

// ListActions handles GET /api/v1/actions?run=&entity=&type=&limit=
func (h *AuditHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var filter domain.ActionFilter

	if raw := query.Get("run"); raw != "" {
		runID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || runID <= 0 {
			writeErrorResponse(w, http.StatusBadRequest, "run", "Run must be a positive number")
			return
		}
		filter.SyncRunID = &runID
	}

	if raw := query.Get("entity"); raw != "" {
		key, err := domain.BuildKey(domain.EntityKey(raw).Parts()...)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "entity", err.Error())
			return
		}
		filter.EntityKey = &key
	}

	if raw := query.Get("type"); raw != "" {
		actionType := domain.ActionType(raw)
		if actionType.Priority() == 0 {
			writeErrorResponse(w, http.StatusBadRequest, "type", "Unknown action type")
			return
		}
		filter.ActionType = &actionType
	}

	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	filter.Limit = limit

	actions, err := h.history.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccessResponse(w, http.StatusOK, "Actions retrieved successfully", map[string]interface{}{
		"actions": actions,
		"total":   len(actions),
	})
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeErrorResponse(w, http.StatusBadRequest, name, "Invalid "+name)
		return 0, false
	}
	return v, true
}
