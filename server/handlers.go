package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"groupfm/config"
	"groupfm/core/auth"
	"groupfm/core/charts"
	"groupfm/core/records"
	"groupfm/logger"
	"groupfm/repository"

	"github.com/gorilla/mux"
)

// contextKey is the private type for request context values.
type contextKey string

const claimsContextKey contextKey = "claims"

// Enqueuer is the background job trigger surface the handlers need. Satisfied
// by jobTrigger.
type Enqueuer interface {
	EnqueueGeneration(ctx context.Context, groupID int64, weeks int, runID string) error
	TriggerRecords(ctx context.Context, req records.CalculationRequest) error
}

// StatusCache caches generation status payloads between polls and per-entry
// stats between runs. Satisfied by cache.EntryStatsCache.
type StatusCache interface {
	GetStatusSnapshot(ctx context.Context, groupID int64) (string, error)
	SetStatusSnapshot(ctx context.Context, groupID int64, payload string) error
	ClearStatusSnapshot(ctx context.Context, groupID int64) error

	GetEntryStats(ctx context.Context, groupID int64, chartType, entryKey string) (string, error)
	SetEntryStats(ctx context.Context, groupID int64, chartType, entryKey, payload string) error
}

// APIHandler handles all API requests.
type APIHandler struct {
	groupRepo   repository.GroupRepository
	chartRepo   repository.ChartRepository
	statsRepo   repository.StatsRepository
	recordsRepo repository.RecordsRepository
	recordsSvc  *records.Service
	locks       *charts.LockManager
	enqueuer    Enqueuer
	statusCache StatusCache
	cfg         *config.Config
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(
	groupRepo repository.GroupRepository,
	chartRepo repository.ChartRepository,
	statsRepo repository.StatsRepository,
	recordsRepo repository.RecordsRepository,
	recordsSvc *records.Service,
	locks *charts.LockManager,
	enqueuer Enqueuer,
	statusCache StatusCache,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		groupRepo:   groupRepo,
		chartRepo:   chartRepo,
		statsRepo:   statsRepo,
		recordsRepo: recordsRepo,
		recordsSvc:  recordsSvc,
		locks:       locks,
		enqueuer:    enqueuer,
		statusCache: statusCache,
		cfg:         cfg,
	}
}

// AuthMiddleware checks for a valid JWT bearer token and stores the claims in
// the request context.
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "authorization header is required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		claims, err := auth.ParseToken(h.cfg.JWTSecret, parts[1])
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// ClaimsFromContext extracts the verified claims placed by AuthMiddleware.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsContextKey).(*auth.Claims)
	return claims
}

// groupIDFromRequest parses the {id} route variable.
func groupIDFromRequest(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// requireMember checks that the caller is a member of the group or an admin.
func (h *APIHandler) requireMember(w http.ResponseWriter, r *http.Request, groupID int64) bool {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	if claims.Admin {
		return true
	}

	members, err := h.groupRepo.GetMemberUsernames(groupID)
	if err != nil {
		logger.Error("failed to load group members", logger.Int64("groupId", groupID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return false
	}
	for _, m := range members {
		if m == claims.Username {
			return true
		}
	}
	writeError(w, http.StatusForbidden, "not a member of this group")
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
