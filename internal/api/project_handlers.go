package api

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"trackflow/internal/apperr"
	"trackflow/internal/db"
	"trackflow/internal/notify"
	"trackflow/internal/realtime"
)

// CreateProjectRequest represents the request to create a project
type CreateProjectRequest struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description" validate:"max=5000"`
	Status      string     `json:"status" validate:"omitempty,oneof=not-started in-progress completed on-hold"`
	Priority    string     `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	StartDate   *time.Time `json:"startDate"`
	DueDate     *time.Time `json:"dueDate"`
	Members     []string   `json:"members" validate:"max=100"`
	Color       string     `json:"color" validate:"max=32"`
	Tags        []string   `json:"tags" validate:"max=20,dive,max=50"`
}

// UpdateProjectRequest is a partial project update. Progress is derived from
// the tasks and cannot be set.
type UpdateProjectRequest struct {
	Title        *string    `json:"title" validate:"omitempty,min=1,max=200"`
	Description  *string    `json:"description" validate:"omitempty,max=5000"`
	Status       *string    `json:"status" validate:"omitempty,oneof=not-started in-progress completed on-hold"`
	Priority     *string    `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	StartDate    *time.Time `json:"startDate"`
	DueDate      *time.Time `json:"dueDate"`
	ClearDueDate bool       `json:"clearDueDate"`
	Color        *string    `json:"color" validate:"omitempty,max=32"`
	Tags         *[]string  `json:"tags" validate:"omitempty,max=20,dive,max=50"`
}

// AddProjectMemberRequest adds a user to a project
type AddProjectMemberRequest struct {
	UserID string `json:"userId" validate:"required"`
}

// HandleListProjects lists the projects the caller can see, optionally
// filtered by ?status=.
func (s *Server) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	status := r.URL.Query().Get("status")

	ctx, cancel := s.queryContext(r)
	defer cancel()

	var (
		projects []db.Project
		err      error
	)
	if isAdmin(user) {
		projects, err = s.db.ListProjects(ctx)
	} else {
		projects, err = s.db.ListProjectsForUser(ctx, user.ID)
	}
	if err != nil {
		s.respondAppError(w, err, "failed to list projects")
		return
	}

	if status != "" {
		projects = slices.DeleteFunc(projects, func(p db.Project) bool { return p.Status != status })
	}
	respondJSON(w, http.StatusOK, projects)
}

// HandleCreateProject creates a project owned by the caller
func (s *Server) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req CreateProjectRequest
	if !decodeValid(w, r, &req) {
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		respondError(w, http.StatusBadRequest, "title is required", "validation_error")
		return
	}
	if req.StartDate != nil && req.DueDate != nil && req.DueDate.Before(*req.StartDate) {
		respondError(w, http.StatusBadRequest, "dueDate must not be before startDate", "validation_error")
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	if err := s.checkUsersExist(ctx, req.Members); err != nil {
		s.respondAppError(w, err, "failed to create project")
		return
	}

	project := &db.Project{
		Title:       title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		StartDate:   req.StartDate,
		DueDate:     req.DueDate,
		OwnerID:     user.ID,
		Members:     req.Members,
		Color:       req.Color,
		Tags:        db.StringList(req.Tags),
	}
	if err := s.db.CreateProject(ctx, project); err != nil {
		s.respondAppError(w, err, "failed to create project")
		return
	}

	s.logActivity(ctx, user.ID, db.ActivityProjectCreated,
		user.Name+" created project "+project.Title,
		notify.Entity{Type: "project", ID: project.ID, Name: project.Title})

	respondJSON(w, http.StatusCreated, project)
}

// HandleGetProject returns a single project
func (s *Server) HandleGetProject(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	project, err := s.projectFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to get project")
		return
	}
	respondJSON(w, http.StatusOK, project)
}

// HandleUpdateProject applies a partial update. Owner or admin only.
func (s *Server) HandleUpdateProject(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req UpdateProjectRequest
	if !decodeValid(w, r, &req) {
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	project, err := s.projectFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to update project")
		return
	}
	if !canManageProject(user, project) {
		respondError(w, http.StatusForbidden, "only the project owner can edit the project", "forbidden")
		return
	}

	start := project.StartDate
	if req.StartDate != nil {
		start = req.StartDate
	}
	if start != nil && req.DueDate != nil && req.DueDate.Before(*start) {
		respondError(w, http.StatusBadRequest, "dueDate must not be before startDate", "validation_error")
		return
	}

	updated, err := s.db.UpdateProject(ctx, project.ID, db.ProjectUpdate{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		StartDate:   req.StartDate,
		DueDate:     req.DueDate,
		ClearDue:    req.ClearDueDate,
		Color:       req.Color,
		Tags:        req.Tags,
	})
	if err != nil {
		s.respondAppError(w, err, "failed to update project")
		return
	}

	s.broadcast(realtime.EventProjectUpdated, updated.ID, updated)
	respondJSON(w, http.StatusOK, updated)
}

// HandleDeleteProject removes a project with its tasks, subtasks, comments,
// time logs and files. The database work is one transaction; stored files
// are removed after it commits.
func (s *Server) HandleDeleteProject(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	project, err := s.projectFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to delete project")
		return
	}
	if !canManageProject(user, project) {
		respondError(w, http.StatusForbidden, "only the project owner can delete the project", "forbidden")
		return
	}

	files, err := s.db.DeleteProjectCascade(ctx, project.ID)
	if err != nil {
		s.respondAppError(w, err, "failed to delete project")
		return
	}
	s.removeBlobs(files)

	s.logActivity(ctx, user.ID, db.ActivityProjectDeleted,
		user.Name+" deleted project "+project.Title,
		notify.Entity{Type: "project", ID: project.ID, Name: project.Title})
	s.broadcast(realtime.EventProjectDeleted, project.ID, map[string]string{"id": project.ID})

	s.logger.Info("Project deleted",
		zap.String("project_id", project.ID),
		zap.String("user_id", user.ID),
		zap.Int("files", len(files)))
	respondJSON(w, http.StatusOK, map[string]string{"message": "Project deleted successfully"})
}

// HandleAddProjectMember adds a user to the project. Owner or admin only.
func (s *Server) HandleAddProjectMember(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req AddProjectMemberRequest
	if !decodeValid(w, r, &req) {
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	project, err := s.projectFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to add member")
		return
	}
	if !canManageProject(user, project) {
		respondError(w, http.StatusForbidden, "only the project owner can manage members", "forbidden")
		return
	}
	if err := s.checkUsersExist(ctx, []string{req.UserID}); err != nil {
		s.respondAppError(w, err, "failed to add member")
		return
	}

	if err := s.db.AddProjectMember(ctx, project.ID, req.UserID); err != nil {
		s.respondAppError(w, err, "failed to add member")
		return
	}
	updated, err := s.db.GetProject(ctx, project.ID)
	if err != nil {
		s.respondAppError(w, err, "failed to add member")
		return
	}

	s.broadcast(realtime.EventProjectUpdated, updated.ID, updated)
	respondJSON(w, http.StatusOK, updated)
}

// HandleRemoveProjectMember removes a member. The owner cannot be removed;
// members may remove themselves.
func (s *Server) HandleRemoveProjectMember(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	memberID := chi.URLParam(r, "userId")

	ctx, cancel := s.queryContext(r)
	defer cancel()

	project, err := s.projectFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to remove member")
		return
	}
	if !canManageProject(user, project) && memberID != user.ID {
		respondError(w, http.StatusForbidden, "only the project owner can manage members", "forbidden")
		return
	}
	if memberID == project.OwnerID {
		respondError(w, http.StatusBadRequest, "the project owner cannot be removed", "validation_error")
		return
	}

	if err := s.db.RemoveProjectMember(ctx, project.ID, memberID); err != nil {
		s.respondAppError(w, err, "failed to remove member")
		return
	}
	updated, err := s.db.GetProject(ctx, project.ID)
	if err != nil {
		s.respondAppError(w, err, "failed to remove member")
		return
	}

	s.broadcast(realtime.EventProjectUpdated, updated.ID, updated)
	respondJSON(w, http.StatusOK, updated)
}

// checkUsersExist fails with a validation error naming the first unknown ID.
func (s *Server) checkUsersExist(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	users, err := s.db.ListUsersByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if !slices.ContainsFunc(users, func(u db.User) bool { return u.ID == id }) {
			return apperr.Validation("unknown user " + id)
		}
	}
	return nil
}

// refreshProgress recomputes a project's progress after its tasks changed
// and broadcasts the result.
func (s *Server) refreshProgress(ctx context.Context, projectID string) {
	project, err := s.db.RecomputeProjectProgress(ctx, projectID)
	if err != nil {
		s.logger.Warn("Failed to recompute project progress", zap.String("project_id", projectID), zap.Error(err))
		return
	}
	s.broadcast(realtime.EventProjectUpdated, project.ID, project)
}
