package httpadapter

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/card-enricher/internal/core/domain"
)

func (rt *Router) adminOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := rt.admin.Overview(r.Context())
	if err != nil {
		rt.writeDomainError(w, r, "admin_overview", err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (rt *Router) adminRetryStage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stage string `json:"stage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	stage, err := domain.ParseStage(req.Stage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result := rt.admin.RetryStage(r.Context(), chi.URLParam(r, "cardID"), stage)
	rt.writeAction(w, "retry_stage", result)
}

func (rt *Router) adminRetryLinkMetadata(w http.ResponseWriter, r *http.Request) {
	result := rt.admin.RetryLinkMetadata(r.Context(), chi.URLParam(r, "cardID"))
	rt.writeAction(w, "retry_link_metadata", result)
}

func (rt *Router) adminRefreshCard(w http.ResponseWriter, r *http.Request) {
	result := rt.admin.RefreshCard(r.Context(), chi.URLParam(r, "cardID"))
	rt.writeAction(w, "refresh_card", result)
}

func (rt *Router) adminBackfillAI(w http.ResponseWriter, r *http.Request) {
	result, err := rt.admin.TriggerAIBackfill(r.Context())
	rt.recordAdmin("backfill_ai", err == nil)
	if err != nil {
		rt.writeDomainError(w, r, "backfill_ai", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) adminBackfillLinks(w http.ResponseWriter, r *http.Request) {
	result, err := rt.admin.TriggerLinkBackfill(r.Context())
	rt.recordAdmin("backfill_links", err == nil)
	if err != nil {
		rt.writeDomainError(w, r, "backfill_links", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) adminCleanup(w http.ResponseWriter, r *http.Request) {
	result, err := rt.admin.TriggerCleanup(r.Context())
	rt.recordAdmin("cleanup", err == nil)
	if err != nil {
		rt.writeDomainError(w, r, "cleanup", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) writeAction(w http.ResponseWriter, action string, result domain.ActionResult) {
	rt.recordAdmin(action, result.Success)
	writeJSON(w, actionStatus(result), result)
}

func (rt *Router) recordAdmin(action string, success bool) {
	if rt.metrics != nil {
		rt.metrics.RecordAdminAction(metricsService, action, success)
	}
}
