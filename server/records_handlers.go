package server

import (
	"errors"
	"net/http"
	"time"

	"groupfm/core/records"
	"groupfm/logger"
	"groupfm/model"
)

// recordsResponse wraps the records row with retry hints for the client.
type recordsResponse struct {
	Status     string               `json:"status"`
	Records    model.SuperlativeMap `json:"records,omitempty"`
	CanRetry   bool                 `json:"canRetry,omitempty"`
	RetryAfter *time.Time           `json:"retryAfter,omitempty"`
}

// GetRecordsHandler serves the current records row. The client distinguishes
// calculating (poll), completed (render), failed (offer retry after the
// cool-down) and none (offer a first calculation).
func (h *APIHandler) GetRecordsHandler(w http.ResponseWriter, r *http.Request) {
	groupID, err := groupIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}

	rec, err := h.recordsRepo.GetByGroupID(groupID)
	if err != nil {
		logger.Error("failed to load records", logger.Int64("groupId", groupID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, recordsResponse{Status: "none", CanRetry: true})
		return
	}

	resp := recordsResponse{
		Status:  rec.Status,
		Records: rec.Records,
	}
	if rec.Status == model.RecordsStatusFailed {
		retryAfter := h.recordsSvc.RetryAfter(rec)
		resp.RetryAfter = &retryAfter
		resp.CanRetry = h.recordsSvc.CheckRetry(rec) == nil
	}
	writeJSON(w, http.StatusOK, resp)
}

// RecalculateRecordsHandler forces a records recalculation when the prior one
// failed and the cool-down has elapsed, or when no row exists yet.
func (h *APIHandler) RecalculateRecordsHandler(w http.ResponseWriter, r *http.Request) {
	groupID, err := groupIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	if !h.requireMember(w, r, groupID) {
		return
	}

	rec, err := h.recordsRepo.GetByGroupID(groupID)
	if err != nil {
		logger.Error("failed to load records", logger.Int64("groupId", groupID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := h.recordsSvc.CheckRetry(rec); err != nil {
		switch {
		case errors.Is(err, records.ErrCalculationRunning):
			writeError(w, http.StatusConflict, "records calculation already running")
		case errors.Is(err, records.ErrNotRetryable):
			writeError(w, http.StatusConflict, "records are up to date")
		case errors.Is(err, records.ErrCoolDownActive):
			retryAfter := h.recordsSvc.RetryAfter(rec)
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error":      "retry cool-down has not elapsed",
				"retryAfter": retryAfter,
			})
		default:
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	req := records.CalculationRequest{
		GroupID:     groupID,
		GeneratedAt: time.Now().UTC(),
		ForceFull:   true,
	}
	if err := h.enqueuer.TriggerRecords(r.Context(), req); err != nil {
		logger.Error("failed to enqueue records calculation", logger.Int64("groupId", groupID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to start records calculation")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"started": true})
}
