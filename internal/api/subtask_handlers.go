package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"trackflow/internal/apperr"
	"trackflow/internal/db"
	"trackflow/internal/notify"
	"trackflow/internal/realtime"
)

// CreateSubtaskRequest represents the request to create a subtask
type CreateSubtaskRequest struct {
	Title       string `json:"title" validate:"required,max=300"`
	Description string `json:"description" validate:"max=5000"`
	AssigneeID  string `json:"assignee"`
}

// UpdateSubtaskRequest is a partial subtask update
type UpdateSubtaskRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=300"`
	Description *string `json:"description" validate:"omitempty,max=5000"`
	Completed   *bool   `json:"completed"`
	AssigneeID  *string `json:"assignee"`
}

// TaskSubtaskUpdateRequest is the PATCH body on /api/tasks/{id}/subtasks.
// It names the subtask to update.
type TaskSubtaskUpdateRequest struct {
	SubtaskID string `json:"subtaskId" validate:"required"`
	UpdateSubtaskRequest
}

// HandleListSubtasks lists the subtasks of a task
func (s *Server) HandleListSubtasks(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	task, _, err := s.taskFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to list subtasks")
		return
	}
	subtasks, err := s.db.ListSubtasks(ctx, task.ID)
	if err != nil {
		s.respondAppError(w, err, "failed to list subtasks")
		return
	}
	respondJSON(w, http.StatusOK, subtasks)
}

// HandleCreateSubtask adds a subtask. A completed parent task goes back to
// in-progress.
func (s *Server) HandleCreateSubtask(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req CreateSubtaskRequest
	if !decodeValid(w, r, &req) {
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		respondError(w, http.StatusBadRequest, "title is required", "validation_error")
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	task, _, err := s.taskFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to create subtask")
		return
	}
	if req.AssigneeID != "" {
		if err := s.checkUsersExist(ctx, []string{req.AssigneeID}); err != nil {
			s.respondAppError(w, err, "failed to create subtask")
			return
		}
	}

	sub := &db.Subtask{
		TaskID:      task.ID,
		Title:       title,
		Description: req.Description,
		AssigneeID:  req.AssigneeID,
	}
	if err := s.db.CreateSubtask(ctx, sub); err != nil {
		s.respondAppError(w, err, "failed to create subtask")
		return
	}

	if task.Status == db.TaskCompleted {
		reopened, err := s.db.SetTaskStatus(ctx, task.ID, db.TaskInProgress)
		if err != nil {
			s.respondAppError(w, err, "failed to reopen task")
			return
		}
		s.broadcast(realtime.EventTaskUpdated, reopened.ProjectID, reopened)
		s.refreshProgress(ctx, reopened.ProjectID)
	}

	s.logActivity(ctx, user.ID, db.ActivitySubtaskCreated,
		user.Name+" added subtask "+sub.Title+" to "+task.Title,
		notify.Entity{Type: "subtask", ID: sub.ID, Name: sub.Title})
	s.broadcast(realtime.EventSubtaskCreated, task.ProjectID, sub)

	respondJSON(w, http.StatusCreated, sub)
}

// HandleUpdateTaskSubtask updates the subtask named in the body, which must
// belong to the task in the URL.
func (s *Server) HandleUpdateTaskSubtask(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req TaskSubtaskUpdateRequest
	if !decodeValid(w, r, &req) {
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	updated, err := s.updateSubtask(ctx, user, req.SubtaskID, chi.URLParam(r, "id"), req.UpdateSubtaskRequest)
	if err != nil {
		s.respondAppError(w, err, "failed to update subtask")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// HandleGetSubtask returns a single subtask
func (s *Server) HandleGetSubtask(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	sub, _, err := s.subtaskFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to get subtask")
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// HandleUpdateSubtask applies a partial update to a subtask
func (s *Server) HandleUpdateSubtask(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req UpdateSubtaskRequest
	if !decodeValid(w, r, &req) {
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	updated, err := s.updateSubtask(ctx, user, chi.URLParam(r, "id"), "", req)
	if err != nil {
		s.respondAppError(w, err, "failed to update subtask")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// HandleDeleteSubtask removes a subtask
func (s *Server) HandleDeleteSubtask(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	sub, task, err := s.subtaskFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to delete subtask")
		return
	}
	if err := s.db.DeleteSubtask(ctx, sub.ID); err != nil {
		s.respondAppError(w, err, "failed to delete subtask")
		return
	}

	s.broadcast(realtime.EventSubtaskDeleted, task.ProjectID, map[string]string{"id": sub.ID, "task": task.ID})
	respondJSON(w, http.StatusOK, map[string]string{"message": "Subtask deleted successfully"})
}

// subtaskFor loads a subtask and its task, checking project access.
func (s *Server) subtaskFor(ctx context.Context, u *db.User, id string) (*db.Subtask, *db.Task, error) {
	sub, err := s.db.GetSubtask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	task, _, err := s.taskFor(ctx, u, sub.TaskID)
	if err != nil {
		return nil, nil, err
	}
	return sub, task, nil
}

// updateSubtask is shared by both PATCH routes. A non-empty taskID must match
// the subtask's parent.
func (s *Server) updateSubtask(ctx context.Context, u *db.User, id, taskID string, req UpdateSubtaskRequest) (*db.Subtask, error) {
	sub, task, err := s.subtaskFor(ctx, u, id)
	if err != nil {
		return nil, err
	}
	if taskID != "" && sub.TaskID != taskID {
		return nil, apperr.NotFound("subtask not found")
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, apperr.Validation("title cannot be empty")
		}
		req.Title = &title
	}
	if req.AssigneeID != nil && *req.AssigneeID != "" {
		if err := s.checkUsersExist(ctx, []string{*req.AssigneeID}); err != nil {
			return nil, err
		}
	}

	updated, err := s.db.UpdateSubtask(ctx, sub.ID, db.SubtaskUpdate{
		Title:       req.Title,
		Description: req.Description,
		Completed:   req.Completed,
		AssigneeID:  req.AssigneeID,
	})
	if err != nil {
		return nil, err
	}

	if updated.Completed && !sub.Completed {
		s.logActivity(ctx, u.ID, db.ActivitySubtaskCompleted,
			u.Name+" completed subtask "+updated.Title,
			notify.Entity{Type: "subtask", ID: updated.ID, Name: updated.Title})
	}
	s.broadcast(realtime.EventSubtaskUpdated, task.ProjectID, updated)
	return updated, nil
}
