package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"trackflow/internal/db"
)

// SetRoleRequest changes a user's global role
type SetRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=admin member"`
}

// HandleListUsers returns every user to admins and the caller's teammates
// to members.
func (s *Server) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	var (
		users []db.User
		err   error
	)
	if isAdmin(user) {
		users, err = s.db.ListUsers(ctx)
	} else {
		var ids []string
		if ids, err = s.db.ListTeammateIDs(ctx, user.ID); err == nil {
			users, err = s.db.ListUsersByIDs(ctx, ids)
		}
	}
	if err != nil {
		s.respondAppError(w, err, "failed to list users")
		return
	}
	respondJSON(w, http.StatusOK, users)
}

// HandleSetUserRole lets an admin promote or demote a user. Admins cannot
// demote themselves.
func (s *Server) HandleSetUserRole(w http.ResponseWriter, r *http.Request) {
	admin := currentUser(r)
	userID := chi.URLParam(r, "id")

	var req SetRoleRequest
	if !decodeValid(w, r, &req) {
		return
	}
	if userID == admin.ID && req.Role != db.RoleAdmin {
		respondError(w, http.StatusBadRequest, "you cannot remove your own admin role", "validation_error")
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	if err := s.db.SetUserRole(ctx, userID, req.Role); err != nil {
		s.respondAppError(w, err, "failed to update role")
		return
	}
	updated, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		s.respondAppError(w, err, "failed to update role")
		return
	}

	s.logger.Info("User role changed",
		zap.String("admin_id", admin.ID),
		zap.String("user_id", userID),
		zap.String("role", req.Role))
	respondJSON(w, http.StatusOK, updated)
}
