package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"trackflow/internal/apperr"
	"trackflow/internal/db"
	"trackflow/internal/notify"
	"trackflow/internal/realtime"
)

// CreateTaskRequest represents the request to create a task
type CreateTaskRequest struct {
	Title          string     `json:"title" validate:"required,max=300"`
	Description    string     `json:"description" validate:"max=10000"`
	Status         string     `json:"status" validate:"omitempty,oneof=todo in-progress review completed"`
	Priority       string     `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	ProjectID      string     `json:"project" validate:"required"`
	AssigneeID     string     `json:"assignee"`
	DueDate        *time.Time `json:"dueDate"`
	EstimatedHours float64    `json:"estimatedHours" validate:"min=0,max=10000"`
	Tags           []string   `json:"tags" validate:"max=20,dive,max=50"`
}

// UpdateTaskRequest is a partial task update. Actual hours follow the time
// logs and cannot be set.
type UpdateTaskRequest struct {
	Title          *string    `json:"title" validate:"omitempty,min=1,max=300"`
	Description    *string    `json:"description" validate:"omitempty,max=10000"`
	Status         *string    `json:"status" validate:"omitempty,oneof=todo in-progress review completed"`
	Priority       *string    `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	AssigneeID     *string    `json:"assignee"`
	DueDate        *time.Time `json:"dueDate"`
	ClearDueDate   bool       `json:"clearDueDate"`
	EstimatedHours *float64   `json:"estimatedHours" validate:"omitempty,min=0,max=10000"`
	Tags           *[]string  `json:"tags" validate:"omitempty,max=20,dive,max=50"`
}

// HandleListTasks lists tasks filtered by ?project=, ?assignee= and
// ?status=. "me" as assignee means the caller.
func (s *Server) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	q := r.URL.Query()

	filter := db.TaskFilter{
		ProjectID:  q.Get("project"),
		AssigneeID: q.Get("assignee"),
		Status:     q.Get("status"),
	}
	if filter.AssigneeID == "me" {
		filter.AssigneeID = user.ID
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	if filter.ProjectID != "" {
		// A deleted project has no tasks left to list.
		if _, err := s.projectFor(ctx, user, filter.ProjectID); apperr.IsNotFound(err) {
			respondJSON(w, http.StatusOK, []db.Task{})
			return
		} else if err != nil {
			s.respondAppError(w, err, "failed to list tasks")
			return
		}
	} else {
		ids, err := s.visibleProjectIDs(ctx, user)
		if err != nil {
			s.respondAppError(w, err, "failed to list tasks")
			return
		}
		filter.ProjectIDs = ids
	}

	tasks, err := s.db.ListTasks(ctx, filter)
	if err != nil {
		s.respondAppError(w, err, "failed to list tasks")
		return
	}
	respondJSON(w, http.StatusOK, tasks)
}

// HandleCreateTask creates a task in a project the caller can see
func (s *Server) HandleCreateTask(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req CreateTaskRequest
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

	project, err := s.projectFor(ctx, user, req.ProjectID)
	if err != nil {
		s.respondAppError(w, err, "failed to create task")
		return
	}
	if req.AssigneeID != "" {
		if err := s.checkUsersExist(ctx, []string{req.AssigneeID}); err != nil {
			s.respondAppError(w, err, "failed to create task")
			return
		}
	}

	task := &db.Task{
		Title:          title,
		Description:    req.Description,
		Status:         req.Status,
		Priority:       req.Priority,
		ProjectID:      project.ID,
		AssigneeID:     req.AssigneeID,
		CreatorID:      user.ID,
		DueDate:        req.DueDate,
		EstimatedHours: req.EstimatedHours,
		Tags:           db.StringList(req.Tags),
	}
	if err := s.db.CreateTask(ctx, task); err != nil {
		s.respondAppError(w, err, "failed to create task")
		return
	}

	if task.AssigneeID != "" && task.AssigneeID != user.ID {
		s.notifyAssignment(ctx, user, task, project)
	}
	s.logActivity(ctx, user.ID, db.ActivityTaskCreated,
		user.Name+" created task "+task.Title,
		notify.Entity{Type: "task", ID: task.ID, Name: task.Title})
	s.broadcast(realtime.EventTaskCreated, task.ProjectID, task)
	s.refreshProgress(ctx, task.ProjectID)

	respondJSON(w, http.StatusCreated, task)
}

// HandleGetTask returns a single task
func (s *Server) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	task, _, err := s.taskFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to get task")
		return
	}
	respondJSON(w, http.StatusOK, task)
}

// HandleUpdateTask applies a partial update, notifies a new assignee and
// recomputes project progress when the status changes.
func (s *Server) HandleUpdateTask(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req UpdateTaskRequest
	if !decodeValid(w, r, &req) {
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	task, project, err := s.taskFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to update task")
		return
	}
	if req.AssigneeID != nil && *req.AssigneeID != "" {
		if err := s.checkUsersExist(ctx, []string{*req.AssigneeID}); err != nil {
			s.respondAppError(w, err, "failed to update task")
			return
		}
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			respondError(w, http.StatusBadRequest, "title cannot be empty", "validation_error")
			return
		}
		req.Title = &title
	}

	updated, err := s.db.UpdateTask(ctx, task.ID, db.TaskUpdate{
		Title:          req.Title,
		Description:    req.Description,
		Status:         req.Status,
		Priority:       req.Priority,
		AssigneeID:     req.AssigneeID,
		DueDate:        req.DueDate,
		ClearDue:       req.ClearDueDate,
		EstimatedHours: req.EstimatedHours,
		Tags:           req.Tags,
	})
	if err != nil {
		s.respondAppError(w, err, "failed to update task")
		return
	}

	if updated.AssigneeID != "" && updated.AssigneeID != task.AssigneeID && updated.AssigneeID != user.ID {
		s.notifyAssignment(ctx, user, updated, project)
	}
	if updated.Status == db.TaskCompleted && task.Status != db.TaskCompleted {
		s.logActivity(ctx, user.ID, db.ActivityTaskCompleted,
			user.Name+" completed task "+updated.Title,
			notify.Entity{Type: "task", ID: updated.ID, Name: updated.Title})
	}
	s.broadcast(realtime.EventTaskUpdated, updated.ProjectID, updated)
	if updated.Status != task.Status {
		s.refreshProgress(ctx, updated.ProjectID)
	}

	respondJSON(w, http.StatusOK, updated)
}

// HandleDeleteTask removes a task with its subtasks, comments, time logs and
// files. Allowed for the creator, the project owner and admins.
func (s *Server) HandleDeleteTask(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	task, project, err := s.taskFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to delete task")
		return
	}
	if task.CreatorID != user.ID && !canManageProject(user, project) {
		respondError(w, http.StatusForbidden, "only the task creator or project owner can delete this task", "forbidden")
		return
	}

	files, err := s.db.DeleteTaskCascade(ctx, task.ID)
	if err != nil {
		s.respondAppError(w, err, "failed to delete task")
		return
	}
	s.removeBlobs(files)

	s.logActivity(ctx, user.ID, db.ActivityTaskDeleted,
		user.Name+" deleted task "+task.Title,
		notify.Entity{Type: "task", ID: task.ID, Name: task.Title})
	s.broadcast(realtime.EventTaskDeleted, task.ProjectID, map[string]string{"id": task.ID})
	s.refreshProgress(ctx, task.ProjectID)

	respondJSON(w, http.StatusOK, map[string]string{"message": "Task deleted successfully"})
}

func (s *Server) notifyAssignment(ctx context.Context, actor *db.User, task *db.Task, project *db.Project) {
	s.sendNotice(ctx, notify.Notice{
		UserID:  task.AssigneeID,
		Type:    db.NotifyTaskAssignment,
		Title:   "New task assigned",
		Message: actor.Name + " assigned you \"" + task.Title + "\" in " + project.Title,
		Payload: map[string]any{"taskId": task.ID, "projectId": project.ID},
		Link:    "/projects/" + project.ID + "/tasks/" + task.ID,
	})
}
