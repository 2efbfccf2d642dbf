package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"groupfm/cache"
	"groupfm/logger"
	"groupfm/model"
	"groupfm/repository"

	"github.com/google/uuid"
)

// generationStatusResponse is the poll payload for the generation status
// endpoint.
type generationStatusResponse struct {
	InProgress  bool     `json:"inProgress"`
	CanUpdate   bool     `json:"canUpdate"`
	FailedUsers []string `json:"failedUsers,omitempty"`
	Aborted     *bool    `json:"aborted,omitempty"`
}

// GenerationStatusHandler reports whether a run is active and, once after a
// finished run, the failure report. Reading the report clears it.
func (h *APIHandler) GenerationStatusHandler(w http.ResponseWriter, r *http.Request) {
	groupID, err := groupIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}

	// Snapshot cache keeps polling clients off the primary database. Only
	// payloads without a failure report are cached, so read-once clearing is
	// never skipped.
	if cached, err := h.statusCache.GetStatusSnapshot(r.Context(), groupID); err == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(cached))
		return
	} else if !cache.IsNil(err) {
		logger.Warn("status snapshot read failed", logger.Int64("groupId", groupID), logger.ErrorField(err))
	}

	group, err := h.groupRepo.GetGroupByID(groupID)
	if err != nil {
		logger.Error("failed to load group", logger.Int64("groupId", groupID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if group == nil {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}

	stale := group.GenerationInProgress &&
		group.GenerationStartedAt != nil &&
		time.Since(*group.GenerationStartedAt) > h.cfg.GenerationLockTimeout

	resp := generationStatusResponse{
		InProgress: group.GenerationInProgress,
		CanUpdate:  !group.GenerationInProgress || stale,
	}

	hasReport := !group.GenerationInProgress &&
		(len(group.LastFailedUsers) > 0 || group.LastGenerationAborted != nil)
	if hasReport {
		resp.FailedUsers = group.LastFailedUsers
		resp.Aborted = group.LastGenerationAborted

		writeJSON(w, http.StatusOK, resp)

		// Read-once semantics: the report has been delivered.
		if err := h.groupRepo.ClearFailureReport(groupID); err != nil {
			logger.Error("failed to clear failure report", logger.Int64("groupId", groupID), logger.ErrorField(err))
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)

	if payload, err := json.Marshal(resp); err == nil {
		if err := h.statusCache.SetStatusSnapshot(r.Context(), groupID, string(payload)); err != nil {
			logger.Warn("status snapshot write failed", logger.Int64("groupId", groupID), logger.ErrorField(err))
		}
	}
}

// generateRequest is the optional body of the generation trigger.
type generateRequest struct {
	Weeks int `json:"weeks,omitempty"`
}

// GenerateHandler acquires the generation lock and enqueues a run. Lock
// contention is a normal concurrency signal, answered with 409 rather than
// queued behind the active run.
func (h *APIHandler) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	groupID, err := groupIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	if !h.requireMember(w, r, groupID) {
		return
	}

	group, err := h.groupRepo.GetGroupByID(groupID)
	if err != nil {
		logger.Error("failed to load group", logger.Int64("groupId", groupID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if group == nil {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}

	var req generateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Weeks != 0 {
		claims := ClaimsFromContext(r.Context())
		if claims == nil || !claims.Admin {
			writeError(w, http.StatusForbidden, "week count override requires elevated access")
			return
		}
		if req.Weeks < 1 || req.Weeks > h.cfg.MaxWeeks {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("weeks must be between 1 and %d", h.cfg.MaxWeeks))
			return
		}
	}

	acquired, err := h.locks.Acquire(groupID)
	if err != nil {
		logger.Error("lock acquisition failed", logger.Int64("groupId", groupID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !acquired {
		writeError(w, http.StatusConflict, "generation already in progress")
		return
	}

	if err := h.statusCache.ClearStatusSnapshot(r.Context(), groupID); err != nil {
		logger.Warn("failed to clear status snapshot", logger.Int64("groupId", groupID), logger.ErrorField(err))
	}

	runID := uuid.NewString()
	if err := h.enqueuer.EnqueueGeneration(r.Context(), groupID, req.Weeks, runID); err != nil {
		logger.Error("failed to enqueue generation", logger.Int64("groupId", groupID), logger.ErrorField(err))
		// The run will never start; give the lock back.
		if relErr := h.locks.Release(groupID, nil, false); relErr != nil {
			logger.Error("failed to release lock after enqueue failure", logger.Int64("groupId", groupID), logger.ErrorField(relErr))
		}
		writeError(w, http.StatusInternalServerError, "failed to start generation")
		return
	}

	logger.Info("generation run enqueued",
		logger.String("runId", runID),
		logger.Int64("groupId", groupID),
		logger.Int("weeksOverride", req.Weeks))
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"started": true,
		"runId":   runID,
	})
}

// ChartWeekHandler serves one week's chart entries, optionally filtered by
// chart type. Without a week parameter the most recent generated week is
// served.
func (h *APIHandler) ChartWeekHandler(w http.ResponseWriter, r *http.Request) {
	groupID, err := groupIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}

	var weekStart time.Time
	if raw := r.URL.Query().Get("week"); raw != "" {
		weekStart, err = time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "week must be formatted as YYYY-MM-DD")
			return
		}
	} else {
		last, err := h.chartRepo.GetLastChartWeek(groupID)
		if err != nil {
			logger.Error("failed to load last chart week", logger.Int64("groupId", groupID), logger.ErrorField(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if last == nil {
			writeError(w, http.StatusNotFound, "no charts generated yet")
			return
		}
		weekStart = *last
	}

	entries, err := h.chartRepo.GetEntriesForWeek(groupID, weekStart)
	if err != nil {
		logger.Error("failed to load chart entries", logger.Int64("groupId", groupID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if chartType := r.URL.Query().Get("type"); chartType != "" {
		filtered := make([]*model.ChartEntry, 0, len(entries))
		for _, e := range entries {
			if e.ChartType == chartType {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, "no chart for this week")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"weekStart": weekStart.Format("2006-01-02"),
		"entries":   entries,
	})
}

// entryStatsResponse is the all-time aggregate view of one chart entry.
type entryStatsResponse struct {
	ChartType        string  `json:"chartType"`
	EntryKey         string  `json:"entryKey"`
	Artist           string  `json:"artist"`
	Title            string  `json:"title,omitempty"`
	WeeksAtNumberOne int64   `json:"weeksAtNumberOne"`
	TotalScore       float64 `json:"totalScore"`
	WeeksCharted     int64   `json:"weeksCharted"`
}

// EntryStatsHandler serves one entry's all-time aggregates, cached in Redis
// until the next generation run touches the entry.
func (h *APIHandler) EntryStatsHandler(w http.ResponseWriter, r *http.Request) {
	groupID, err := groupIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}

	chartType := r.URL.Query().Get("type")
	entryKey := r.URL.Query().Get("key")
	if chartType == "" || entryKey == "" {
		writeError(w, http.StatusBadRequest, "type and key query parameters are required")
		return
	}

	if cached, err := h.statusCache.GetEntryStats(r.Context(), groupID, chartType, entryKey); err == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(cached))
		return
	} else if !cache.IsNil(err) {
		logger.Warn("entry stats cache read failed", logger.Int64("groupId", groupID), logger.ErrorField(err))
	}

	aggs, err := h.chartRepo.GetEntryAggregates(groupID, chartType, []string{entryKey})
	if err != nil {
		logger.Error("failed to load entry aggregates", logger.Int64("groupId", groupID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	agg, ok := aggs[repository.AggregateKey(chartType, entryKey)]
	if !ok {
		writeError(w, http.StatusNotFound, "entry has never charted")
		return
	}

	resp := entryStatsResponse{
		ChartType:        agg.ChartType,
		EntryKey:         agg.EntryKey,
		Artist:           agg.Artist,
		Title:            agg.Title,
		WeeksAtNumberOne: agg.WeeksAtNumberOne,
		TotalScore:       agg.TotalScore,
		WeeksCharted:     agg.WeeksCharted,
	}
	writeJSON(w, http.StatusOK, resp)

	if payload, err := json.Marshal(resp); err == nil {
		if err := h.statusCache.SetEntryStats(r.Context(), groupID, chartType, entryKey, string(payload)); err != nil {
			logger.Warn("entry stats cache write failed", logger.Int64("groupId", groupID), logger.ErrorField(err))
		}
	}
}

// GroupStatsHandler serves the all-time aggregate stats row.
func (h *APIHandler) GroupStatsHandler(w http.ResponseWriter, r *http.Request) {
	groupID, err := groupIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}

	stats, err := h.statsRepo.GetGroupStats(groupID)
	if err != nil {
		logger.Error("failed to load group stats", logger.Int64("groupId", groupID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if stats == nil {
		writeError(w, http.StatusNotFound, "no stats computed yet")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
