package db

import (
	"context"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"trackflow/internal/apperr"
)

// Pomodoro session modes and outcomes
const (
	SessionFocus = "focus"
	SessionBreak = "break"

	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionSkipped   = "skipped"

	// SourceServer sessions were timed by the server; SourceClient sessions
	// carry client-reported timestamps.
	SourceServer = "server"
	SourceClient = "client"
)

// PomodoroSession is one focus or break interval.
type PomodoroSession struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user"`
	Type      string     `db:"type" json:"type"`
	Status    string     `db:"status" json:"status"`
	Source    string     `db:"source" json:"source"`
	StartTime time.Time  `db:"start_time" json:"startTime"`
	EndTime   *time.Time `db:"end_time" json:"endTime,omitempty"`
	ProjectID string     `db:"project_id" json:"project,omitempty"`
	TaskID    string     `db:"task_id" json:"task,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
}

var pomodoroColumns = []string{
	"id", "user_id", "type", "status", "source", "start_time", "end_time",
	"project_id", "task_id", "created_at",
}

// Duration is the session length, zero while running.
func (s *PomodoroSession) Duration() time.Duration {
	if s.EndTime == nil {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// PomodoroDaily is the per-user, per-day rollup rebuilt from the session log.
type PomodoroDaily struct {
	UserID          string    `db:"user_id" json:"user"`
	Day             string    `db:"day" json:"day"`
	FocusCompleted  int       `db:"focus_completed" json:"focusCompleted"`
	FocusSkipped    int       `db:"focus_skipped" json:"focusSkipped"`
	BreaksCompleted int       `db:"breaks_completed" json:"breaksCompleted"`
	BreaksSkipped   int       `db:"breaks_skipped" json:"breaksSkipped"`
	FocusMinutes    float64   `db:"focus_minutes" json:"focusMinutes"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

var pomodoroDailyColumns = []string{
	"user_id", "day", "focus_completed", "focus_skipped", "breaks_completed",
	"breaks_skipped", "focus_minutes", "updated_at",
}

// CreatePomodoroSession inserts s.
func (q *Queries) CreatePomodoroSession(ctx context.Context, s *PomodoroSession) error {
	s.ID = newID()
	s.CreatedAt = now()
	s.StartTime = s.StartTime.UTC()
	s.EndTime = utcPtr(s.EndTime)
	if s.Source == "" {
		s.Source = SourceClient
	}

	_, err := q.exec(ctx, q.sb.Insert("pomodoro_sessions").
		Columns(pomodoroColumns...).
		Values(
			s.ID, s.UserID, s.Type, s.Status, s.Source, s.StartTime, s.EndTime,
			s.ProjectID, s.TaskID, s.CreatedAt,
		), "pomodoro session")
	return err
}

// GetPomodoroSession retrieves a session by ID
func (q *Queries) GetPomodoroSession(ctx context.Context, id string) (*PomodoroSession, error) {
	var s PomodoroSession
	err := q.get(ctx, &s, q.sb.Select(pomodoroColumns...).
		From(q.table("pomodoro_sessions")).
		Where(entsql.EQ("id", id)), "pomodoro session")
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// FinishPomodoroSession closes a running session with the given outcome.
func (q *Queries) FinishPomodoroSession(ctx context.Context, id, status string, end time.Time) (*PomodoroSession, error) {
	n, err := q.exec(ctx, q.sb.Update("pomodoro_sessions").
		Set("status", status).
		Set("end_time", end.UTC()).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("status", SessionRunning))), "pomodoro session")
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := q.GetPomodoroSession(ctx, id); err != nil {
			return nil, err
		}
		return nil, apperr.Conflict("pomodoro session is already finished")
	}
	return q.GetPomodoroSession(ctx, id)
}

// ListPomodoroSessions returns sessions started in [from, to), oldest first.
// userID "" lists every user.
func (q *Queries) ListPomodoroSessions(ctx context.Context, userID string, from, to time.Time) ([]PomodoroSession, error) {
	sel := q.sb.Select(pomodoroColumns...).
		From(q.table("pomodoro_sessions")).
		Where(entsql.And(
			entsql.GTE("start_time", from.UTC()),
			entsql.LT("start_time", to.UTC()),
		))
	if userID != "" {
		sel.Where(entsql.EQ("user_id", userID))
	}

	sessions := []PomodoroSession{}
	err := q.list(ctx, &sessions, sel.OrderBy("start_time"), "pomodoro session")
	return sessions, err
}

// UpsertPomodoroDaily writes d, replacing any existing row for the same
// user and day.
func (q *Queries) UpsertPomodoroDaily(ctx context.Context, d *PomodoroDaily) error {
	d.UpdatedAt = now()
	_, err := q.exec(ctx, q.sb.Insert("pomodoro_daily").
		Columns(pomodoroDailyColumns...).
		Values(
			d.UserID, d.Day, d.FocusCompleted, d.FocusSkipped, d.BreaksCompleted,
			d.BreaksSkipped, d.FocusMinutes, d.UpdatedAt,
		).
		OnConflict(
			entsql.ConflictColumns("user_id", "day"),
			entsql.ResolveWithNewValues(),
		), "pomodoro daily")
	return err
}

// DeletePomodoroDaily removes the rollup rows for days in [fromDay, toDay].
func (q *Queries) DeletePomodoroDaily(ctx context.Context, fromDay, toDay string) (int64, error) {
	return q.exec(ctx, q.sb.Delete("pomodoro_daily").
		Where(entsql.And(entsql.GTE("day", fromDay), entsql.LTE("day", toDay))), "pomodoro daily")
}

// ListPomodoroDaily returns a user's rollup rows for days in [fromDay,
// toDay], oldest first. Days are YYYY-MM-DD.
func (q *Queries) ListPomodoroDaily(ctx context.Context, userID, fromDay, toDay string) ([]PomodoroDaily, error) {
	rows := []PomodoroDaily{}
	err := q.list(ctx, &rows, q.sb.Select(pomodoroDailyColumns...).
		From(q.table("pomodoro_daily")).
		Where(entsql.And(
			entsql.EQ("user_id", userID),
			entsql.GTE("day", fromDay),
			entsql.LTE("day", toDay),
		)).
		OrderBy("day"), "pomodoro daily")
	return rows, err
}
