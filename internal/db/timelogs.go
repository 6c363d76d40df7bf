package db

import (
	"context"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

// TimeLog is recorded work against a task.
type TimeLog struct {
	ID               string     `db:"id" json:"id"`
	TaskID           string     `db:"task_id" json:"task"`
	ProjectID        string     `db:"project_id" json:"project"`
	UserID           string     `db:"user_id" json:"user"`
	SubtaskID        string     `db:"subtask_id" json:"subtask,omitempty"`
	SubtaskTitle     string     `db:"subtask_title" json:"subtaskTitle,omitempty"`
	Hours            float64    `db:"hours" json:"hours"`
	Date             time.Time  `db:"date" json:"date"`
	Description      string     `db:"description" json:"description"`
	IsPomodoro       bool       `db:"is_pomodoro" json:"isPomodoro"`
	PomodoroSessions int        `db:"pomodoro_sessions" json:"pomodoroSessions"`
	BreakMinutes     int        `db:"break_minutes" json:"breakMinutes"`
	SkippedBreaks    int        `db:"skipped_breaks" json:"skippedBreaks"`
	Approved         bool       `db:"approved" json:"approved"`
	ApprovedBy       string     `db:"approved_by" json:"approvedBy,omitempty"`
	ApprovedAt       *time.Time `db:"approved_at" json:"approvedAt,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updatedAt"`
}

var timeLogColumns = []string{
	"id", "task_id", "project_id", "user_id", "subtask_id", "subtask_title", "hours",
	"date", "description", "is_pomodoro", "pomodoro_sessions", "break_minutes",
	"skipped_breaks", "approved", "approved_by", "approved_at", "created_at", "updated_at",
}

// TimeLogFilter narrows ListTimeLogs. Zero values do not filter.
type TimeLogFilter struct {
	TaskID     string
	UserID     string
	ProjectIDs []string
	From       time.Time
	To         time.Time
}

// CreateTimeLog inserts l. Date is normalised to UTC so it serialises back
// to the same instant.
func (q *Queries) CreateTimeLog(ctx context.Context, l *TimeLog) error {
	l.ID = newID()
	l.CreatedAt = now()
	l.UpdatedAt = l.CreatedAt
	l.Date = l.Date.UTC()

	_, err := q.exec(ctx, q.sb.Insert("timelogs").
		Columns(timeLogColumns...).
		Values(
			l.ID, l.TaskID, l.ProjectID, l.UserID, l.SubtaskID, l.SubtaskTitle, l.Hours,
			l.Date, l.Description, l.IsPomodoro, l.PomodoroSessions, l.BreakMinutes,
			l.SkippedBreaks, l.Approved, l.ApprovedBy, l.ApprovedAt, l.CreatedAt, l.UpdatedAt,
		), "time log")
	return err
}

// GetTimeLog retrieves a time log by ID
func (q *Queries) GetTimeLog(ctx context.Context, id string) (*TimeLog, error) {
	var l TimeLog
	err := q.get(ctx, &l, q.sb.Select(timeLogColumns...).
		From(q.table("timelogs")).
		Where(entsql.EQ("id", id)), "time log")
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ListTimeLogs returns time logs matching f, most recent date first.
func (q *Queries) ListTimeLogs(ctx context.Context, f TimeLogFilter) ([]TimeLog, error) {
	sel := q.sb.Select(timeLogColumns...).From(q.table("timelogs"))
	if f.TaskID != "" {
		sel.Where(entsql.EQ("task_id", f.TaskID))
	}
	if f.UserID != "" {
		sel.Where(entsql.EQ("user_id", f.UserID))
	}
	if f.ProjectIDs != nil {
		sel.Where(inOrFalse("project_id", f.ProjectIDs))
	}
	if !f.From.IsZero() {
		sel.Where(entsql.GTE("date", f.From.UTC()))
	}
	if !f.To.IsZero() {
		sel.Where(entsql.LT("date", f.To.UTC()))
	}

	logs := []TimeLog{}
	err := q.list(ctx, &logs, sel.OrderBy(entsql.Desc("date"), entsql.Desc("created_at")), "time log")
	return logs, err
}

// DeleteTimeLog removes a time log.
func (q *Queries) DeleteTimeLog(ctx context.Context, id string) error {
	return q.execOne(ctx, q.sb.Delete("timelogs").Where(entsql.EQ("id", id)), "time log")
}

// ApproveTimeLog marks a time log approved by approverID.
func (q *Queries) ApproveTimeLog(ctx context.Context, id, approverID string) (*TimeLog, error) {
	ts := now()
	err := q.execOne(ctx, q.sb.Update("timelogs").
		Set("approved", true).
		Set("approved_by", approverID).
		Set("approved_at", ts).
		Set("updated_at", ts).
		Where(entsql.EQ("id", id)), "time log")
	if err != nil {
		return nil, err
	}
	return q.GetTimeLog(ctx, id)
}

// SetTimeLogPomodoroSessions overwrites the session count of a pomodoro log.
func (q *Queries) SetTimeLogPomodoroSessions(ctx context.Context, id string, sessions int) error {
	return q.execOne(ctx, q.sb.Update("timelogs").
		Set("pomodoro_sessions", sessions).
		Set("updated_at", now()).
		Where(entsql.EQ("id", id)), "time log")
}

// ListPomodoroTimeLogs returns the pomodoro-tagged logs dated in [from, to).
func (q *Queries) ListPomodoroTimeLogs(ctx context.Context, from, to time.Time) ([]TimeLog, error) {
	logs := []TimeLog{}
	err := q.list(ctx, &logs, q.sb.Select(timeLogColumns...).
		From(q.table("timelogs")).
		Where(entsql.And(
			entsql.EQ("is_pomodoro", true),
			entsql.GTE("date", from.UTC()),
			entsql.LT("date", to.UTC()),
		)).
		OrderBy("date"), "time log")
	return logs, err
}
