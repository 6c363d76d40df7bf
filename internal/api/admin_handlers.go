package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"trackflow/internal/db"
)

const maxUserActivity = 100

// UserActivityResponse is a user's session timestamps plus the audit
// entries they authored
type UserActivityResponse struct {
	User     *db.User         `json:"user"`
	Activity []db.ActivityLog `json:"activity"`
}

// HandleGetUserActivity returns a user's recent activity across teams
// (admin only)
func (s *Server) HandleGetUserActivity(w http.ResponseWriter, r *http.Request) {
	limit := maxUserActivity
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer", "validation_error")
			return
		}
		limit = min(n, maxUserActivity)
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	target, err := s.db.GetUserByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to get activity")
		return
	}

	logs, err := s.db.ListActivityLogsByActor(ctx, target.ID, limit)
	if err != nil {
		s.respondAppError(w, err, "failed to get activity")
		return
	}

	respondJSON(w, http.StatusOK, UserActivityResponse{User: target, Activity: logs})
}
