package api

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"trackflow/internal/apperr"
	"trackflow/internal/db"
	"trackflow/internal/notify"
	"trackflow/internal/realtime"
)

const dateLayout = "2006-01-02"

// CreateTimeLogRequest represents the request to log time against a task
type CreateTimeLogRequest struct {
	Hours            float64    `json:"hours" validate:"gt=0,max=24"`
	Date             *time.Time `json:"date"`
	Description      string     `json:"description" validate:"max=2000"`
	SubtaskID        string     `json:"subtask"`
	IsPomodoro       bool       `json:"isPomodoro"`
	PomodoroSessions int        `json:"pomodoroSessions" validate:"min=0,max=100"`
	BreakMinutes     int        `json:"breakMinutes" validate:"min=0,max=1440"`
	SkippedBreaks    int        `json:"skippedBreaks" validate:"min=0,max=100"`
}

// HandleListTaskTimeLogs lists the time logged against a task
func (s *Server) HandleListTaskTimeLogs(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	task, _, err := s.taskFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to list time logs")
		return
	}
	logs, err := s.db.ListTimeLogs(ctx, db.TimeLogFilter{TaskID: task.ID})
	if err != nil {
		s.respondAppError(w, err, "failed to list time logs")
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

// HandleCreateTimeLog records hours for the caller and updates the task's
// actual hours. Team leaders are asked to approve the entry.
func (s *Server) HandleCreateTimeLog(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req CreateTimeLogRequest
	if !decodeValid(w, r, &req) {
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	task, project, err := s.taskFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to log time")
		return
	}

	entry := &db.TimeLog{
		TaskID:           task.ID,
		ProjectID:        task.ProjectID,
		UserID:           user.ID,
		Hours:            req.Hours,
		Date:             time.Now().UTC(),
		Description:      req.Description,
		IsPomodoro:       req.IsPomodoro,
		PomodoroSessions: req.PomodoroSessions,
		BreakMinutes:     req.BreakMinutes,
		SkippedBreaks:    req.SkippedBreaks,
	}
	if req.Date != nil {
		entry.Date = *req.Date
	}
	if req.SubtaskID != "" {
		sub, err := s.db.GetSubtask(ctx, req.SubtaskID)
		if err != nil || sub.TaskID != task.ID {
			respondError(w, http.StatusBadRequest, "subtask does not belong to this task", "validation_error")
			return
		}
		entry.SubtaskID = sub.ID
		entry.SubtaskTitle = sub.Title
	}

	if err := s.db.CreateTimeLog(ctx, entry); err != nil {
		s.respondAppError(w, err, "failed to log time")
		return
	}
	s.refreshTaskHours(ctx, task.ID)

	s.logActivity(ctx, user.ID, db.ActivityTimeLogged,
		fmt.Sprintf("%s logged %.2fh on %s", user.Name, entry.Hours, task.Title),
		notify.Entity{Type: "timelog", ID: entry.ID, Name: task.Title})
	s.broadcast(realtime.EventTimeLogCreated, task.ProjectID, entry)
	s.requestApproval(ctx, user, entry, task, project)

	respondJSON(w, http.StatusCreated, entry)
}

// HandleDeleteTimeLog removes the time log named by ?id=. Allowed for the
// author, the project owner and admins.
func (s *Server) HandleDeleteTimeLog(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	logID := r.URL.Query().Get("id")
	if logID == "" {
		respondError(w, http.StatusBadRequest, "id is required", "validation_error")
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	task, project, err := s.taskFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to delete time log")
		return
	}
	entry, err := s.db.GetTimeLog(ctx, logID)
	if err != nil {
		s.respondAppError(w, err, "failed to delete time log")
		return
	}
	if entry.TaskID != task.ID {
		respondError(w, http.StatusNotFound, "time log not found", "not_found")
		return
	}
	if entry.UserID != user.ID && !canManageProject(user, project) {
		respondError(w, http.StatusForbidden, "you can only delete your own time logs", "forbidden")
		return
	}

	if err := s.db.DeleteTimeLog(ctx, entry.ID); err != nil {
		s.respondAppError(w, err, "failed to delete time log")
		return
	}
	s.refreshTaskHours(ctx, task.ID)

	s.logActivity(ctx, user.ID, db.ActivityTimeLogDeleted,
		fmt.Sprintf("%s removed %.2fh from %s", user.Name, entry.Hours, task.Title),
		notify.Entity{Type: "timelog", ID: entry.ID, Name: task.Title})
	s.broadcast(realtime.EventTimeLogDeleted, task.ProjectID, map[string]string{"id": entry.ID, "task": task.ID})

	respondJSON(w, http.StatusOK, map[string]string{"message": "Time log deleted successfully"})
}

// HandleListTimeLogs lists time logs across visible projects, filtered by
// ?from=, ?to= (dates, inclusive) and ?user=.
func (s *Server) HandleListTimeLogs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	logs, err := s.queryTimeLogs(ctx, r)
	if err != nil {
		s.respondAppError(w, err, "failed to list time logs")
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

// HandleExportTimeLogs writes the same selection as HandleListTimeLogs as CSV
func (s *Server) HandleExportTimeLogs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	logs, err := s.queryTimeLogs(ctx, r)
	if err != nil {
		s.respondAppError(w, err, "failed to export time logs")
		return
	}

	userIDs := make([]string, 0, len(logs))
	for _, l := range logs {
		userIDs = append(userIDs, l.UserID)
	}
	users, err := s.db.ListUsersByIDs(ctx, userIDs)
	if err != nil {
		s.respondAppError(w, err, "failed to export time logs")
		return
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}
	tasks := map[string]string{}
	projects := map[string]string{}

	rows := make([][]string, 0, len(logs)+1)
	rows = append(rows, []string{"date", "user", "project", "task", "subtask", "hours", "description", "pomodoro_sessions", "approved"})
	for _, l := range logs {
		if _, ok := tasks[l.TaskID]; !ok {
			tasks[l.TaskID] = l.TaskID
			if t, err := s.db.GetTask(ctx, l.TaskID); err == nil {
				tasks[l.TaskID] = t.Title
			}
		}
		if _, ok := projects[l.ProjectID]; !ok {
			projects[l.ProjectID] = l.ProjectID
			if p, err := s.db.GetProject(ctx, l.ProjectID); err == nil {
				projects[l.ProjectID] = p.Title
			}
		}
		rows = append(rows, []string{
			l.Date.Format(dateLayout),
			names[l.UserID],
			projects[l.ProjectID],
			tasks[l.TaskID],
			l.SubtaskTitle,
			strconv.FormatFloat(l.Hours, 'f', 2, 64),
			l.Description,
			strconv.Itoa(l.PomodoroSessions),
			strconv.FormatBool(l.Approved),
		})
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="timelogs.csv"`)
	w.WriteHeader(http.StatusOK)

	if err := csv.NewWriter(w).WriteAll(rows); err != nil {
		s.logger.Warn("Failed to write time log export", zap.Error(err))
	}
}

// HandleApproveTimeLog approves a time log. Allowed for admins, the project
// owner and leaders of a team the author belongs to; nobody but an admin
// approves their own time.
func (s *Server) HandleApproveTimeLog(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	entry, err := s.db.GetTimeLog(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to approve time log")
		return
	}
	if entry.Approved {
		respondError(w, http.StatusConflict, "time log is already approved", "conflict")
		return
	}

	allowed := isAdmin(user)
	if !allowed && entry.UserID != user.ID {
		project, err := s.db.GetProject(ctx, entry.ProjectID)
		if err != nil {
			s.respondAppError(w, err, "failed to approve time log")
			return
		}
		allowed = project.OwnerID == user.ID
		if !allowed {
			allowed, err = s.db.LeadsTeamOf(ctx, user.ID, entry.UserID)
			if err != nil {
				s.respondAppError(w, err, "failed to approve time log")
				return
			}
		}
	}
	if !allowed {
		respondError(w, http.StatusForbidden, "you cannot approve this time log", "forbidden")
		return
	}

	approved, err := s.db.ApproveTimeLog(ctx, entry.ID, user.ID)
	if err != nil {
		s.respondAppError(w, err, "failed to approve time log")
		return
	}
	respondJSON(w, http.StatusOK, approved)
}

// queryTimeLogs applies the list filters and the caller's project visibility.
func (s *Server) queryTimeLogs(ctx context.Context, r *http.Request) ([]db.TimeLog, error) {
	user := currentUser(r)
	q := r.URL.Query()

	filter := db.TimeLogFilter{UserID: q.Get("user")}
	if filter.UserID == "me" {
		filter.UserID = user.ID
	}
	if v := q.Get("from"); v != "" {
		from, _, err := parseDateParam(v)
		if err != nil {
			return nil, apperr.Validation("from must be a date (YYYY-MM-DD) or RFC 3339 time")
		}
		filter.From = from
	}
	if v := q.Get("to"); v != "" {
		to, dateOnly, err := parseDateParam(v)
		if err != nil {
			return nil, apperr.Validation("to must be a date (YYYY-MM-DD) or RFC 3339 time")
		}
		if dateOnly {
			to = to.AddDate(0, 0, 1)
		}
		filter.To = to
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, apperr.Validation("to must not be before from")
	}

	ids, err := s.visibleProjectIDs(ctx, user)
	if err != nil {
		return nil, err
	}
	filter.ProjectIDs = ids
	return s.db.ListTimeLogs(ctx, filter)
}

// parseDateParam accepts YYYY-MM-DD (UTC midnight) or RFC 3339.
func parseDateParam(v string) (time.Time, bool, error) {
	if t, err := time.Parse(dateLayout, v); err == nil {
		return t.UTC(), true, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), false, nil
}

// refreshTaskHours recomputes a task's actual hours from its time logs and
// broadcasts the task.
func (s *Server) refreshTaskHours(ctx context.Context, taskID string) {
	if _, err := s.db.RecomputeTaskHours(ctx, taskID); err != nil {
		s.logger.Warn("Failed to recompute task hours", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	task, err := s.db.GetTask(ctx, taskID)
	if err != nil {
		return
	}
	s.broadcast(realtime.EventTaskUpdated, task.ProjectID, task)
}

// requestApproval notifies the leaders of every team the author belongs to
// about a new entry. Authors without a team need no approval request.
func (s *Server) requestApproval(ctx context.Context, author *db.User, entry *db.TimeLog, task *db.Task, project *db.Project) {
	leaders, err := s.db.ListLeadersOf(ctx, author.ID)
	if err != nil {
		s.logger.Warn("Failed to list team leaders", zap.String("user_id", author.ID), zap.Error(err))
		return
	}
	s.notifier.NotifyAll(ctx, leaders, author.ID, notify.Notice{
		Type:    db.NotifyTimeApproval,
		Title:   "Time log awaiting approval",
		Message: fmt.Sprintf("%s logged %.2fh on %q (%s)", author.Name, entry.Hours, task.Title, project.Title),
		Payload: map[string]any{"timeLogId": entry.ID, "taskId": task.ID, "projectId": project.ID},
		RefID:   entry.ID,
		Link:    "/projects/" + project.ID + "/tasks/" + task.ID,
	})
}
