package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"trackflow/internal/apperr"
	"trackflow/internal/db"
	"trackflow/internal/pomodoro"
)

const maxStatsDays = 90

// RecordSessionRequest reports a session timed by the client
type RecordSessionRequest struct {
	Type      string     `json:"type" validate:"required,oneof=focus break"`
	Status    string     `json:"status" validate:"required,oneof=completed skipped"`
	StartTime time.Time  `json:"startTime" validate:"required"`
	EndTime   *time.Time `json:"endTime" validate:"required"`
	ProjectID string     `json:"project"`
	TaskID    string     `json:"task"`
}

// StartSessionRequest starts a server-timed session
type StartSessionRequest struct {
	Type      string `json:"type" validate:"required,oneof=focus break"`
	ProjectID string `json:"project"`
	TaskID    string `json:"task"`
}

// FinishSessionRequest ends a server-timed session
type FinishSessionRequest struct {
	Status string `json:"status" validate:"required,oneof=completed skipped"`
}

// PomodoroStats sums the daily rollup over a window
type PomodoroStats struct {
	From            string             `json:"from"`
	To              string             `json:"to"`
	FocusCompleted  int                `json:"focusCompleted"`
	FocusSkipped    int                `json:"focusSkipped"`
	BreaksCompleted int                `json:"breaksCompleted"`
	BreaksSkipped   int                `json:"breaksSkipped"`
	FocusMinutes    float64            `json:"focusMinutes"`
	Daily           []db.PomodoroDaily `json:"daily"`
}

// HandleRecordSession stores a client-timed session after checking it is
// plausible
func (s *Server) HandleRecordSession(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req RecordSessionRequest
	if !decodeValid(w, r, &req) {
		return
	}

	sess := &db.PomodoroSession{
		UserID:    user.ID,
		Type:      req.Type,
		Status:    req.Status,
		Source:    db.SourceClient,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	}
	if err := pomodoro.ValidateReported(sess, time.Now()); err != nil {
		s.respondAppError(w, err, "invalid session")
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	if err := s.sessionScope(ctx, user, sess, req.ProjectID, req.TaskID); err != nil {
		s.respondAppError(w, err, "failed to record session")
		return
	}
	if err := s.db.CreatePomodoroSession(ctx, sess); err != nil {
		s.respondAppError(w, err, "failed to record session")
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

// HandleListSessions lists the caller's sessions between ?from= and ?to=
// (dates, inclusive). The default is the last seven days.
func (s *Server) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	q := r.URL.Query()

	to := pomodoro.Day(time.Now()).AddDate(0, 0, 1)
	from := to.AddDate(0, 0, -7)
	if v := q.Get("from"); v != "" {
		t, _, err := parseDateParam(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "from must be a date (YYYY-MM-DD) or RFC 3339 time", "validation_error")
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, dateOnly, err := parseDateParam(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "to must be a date (YYYY-MM-DD) or RFC 3339 time", "validation_error")
			return
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		to = t
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	sessions, err := s.db.ListPomodoroSessions(ctx, user.ID, from, to)
	if err != nil {
		s.respondAppError(w, err, "failed to list sessions")
		return
	}
	respondJSON(w, http.StatusOK, sessions)
}

// HandleStartSession starts a session timed by the server. Only one session
// per user runs at a time.
func (s *Server) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req StartSessionRequest
	if !decodeValid(w, r, &req) {
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	now := time.Now().UTC()
	recent, err := s.db.ListPomodoroSessions(ctx, user.ID, now.Add(-pomodoro.MaxSession), now.Add(pomodoro.ClockSkew))
	if err != nil {
		s.respondAppError(w, err, "failed to start session")
		return
	}
	for _, p := range recent {
		if p.Status == db.SessionRunning {
			respondError(w, http.StatusConflict, "a pomodoro session is already running", "conflict")
			return
		}
	}

	sess := &db.PomodoroSession{
		UserID:    user.ID,
		Type:      req.Type,
		Status:    db.SessionRunning,
		Source:    db.SourceServer,
		StartTime: now,
	}
	if err := s.sessionScope(ctx, user, sess, req.ProjectID, req.TaskID); err != nil {
		s.respondAppError(w, err, "failed to start session")
		return
	}
	if err := s.db.CreatePomodoroSession(ctx, sess); err != nil {
		s.respondAppError(w, err, "failed to start session")
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

// HandleFinishSession ends a running session at the server's clock. A focus
// session finished early is recorded as skipped.
func (s *Server) HandleFinishSession(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req FinishSessionRequest
	if !decodeValid(w, r, &req) {
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	sess, err := s.db.GetPomodoroSession(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to finish session")
		return
	}
	if sess.UserID != user.ID {
		respondError(w, http.StatusNotFound, "pomodoro session not found", "not_found")
		return
	}

	now := time.Now().UTC()
	status, err := pomodoro.Finish(s.pomodoro, sess, req.Status, now)
	if err != nil {
		s.respondAppError(w, err, "failed to finish session")
		return
	}
	finished, err := s.db.FinishPomodoroSession(ctx, sess.ID, status, now)
	if err != nil {
		s.respondAppError(w, err, "failed to finish session")
		return
	}
	respondJSON(w, http.StatusOK, finished)
}

// HandlePomodoroStats summarises the caller's sessions over the last ?days=
// days (default 7), today included
func (s *Server) HandlePomodoroStats(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxStatsDays {
			respondError(w, http.StatusBadRequest, "days must be between 1 and 90", "validation_error")
			return
		}
		days = n
	}

	today := pomodoro.Day(time.Now())
	from := today.AddDate(0, 0, -(days - 1))

	ctx, cancel := s.queryContext(r)
	defer cancel()

	sessions, err := s.db.ListPomodoroSessions(ctx, user.ID, from, today.AddDate(0, 0, 1))
	if err != nil {
		s.respondAppError(w, err, "failed to load pomodoro stats")
		return
	}

	stats := PomodoroStats{
		From:  from.Format(pomodoro.DayFormat),
		To:    today.Format(pomodoro.DayFormat),
		Daily: pomodoro.Summarize(sessions),
	}
	for _, d := range stats.Daily {
		stats.FocusCompleted += d.FocusCompleted
		stats.FocusSkipped += d.FocusSkipped
		stats.BreaksCompleted += d.BreaksCompleted
		stats.BreaksSkipped += d.BreaksSkipped
		stats.FocusMinutes += d.FocusMinutes
	}
	respondJSON(w, http.StatusOK, stats)
}

// sessionScope attaches an optional task or project the user can see. A
// task implies its project.
func (s *Server) sessionScope(ctx context.Context, u *db.User, sess *db.PomodoroSession, projectID, taskID string) error {
	if taskID != "" {
		task, _, err := s.taskFor(ctx, u, taskID)
		if err != nil {
			return err
		}
		if projectID != "" && projectID != task.ProjectID {
			return apperr.Validation("task does not belong to the project")
		}
		sess.TaskID = task.ID
		sess.ProjectID = task.ProjectID
		return nil
	}
	if projectID != "" {
		p, err := s.projectFor(ctx, u, projectID)
		if err != nil {
			return err
		}
		sess.ProjectID = p.ID
	}
	return nil
}
