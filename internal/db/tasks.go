package db

import (
	"context"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

// Task is a unit of work within a project.
type Task struct {
	ID             string     `db:"id" json:"id"`
	Title          string     `db:"title" json:"title"`
	Description    string     `db:"description" json:"description"`
	Status         string     `db:"status" json:"status"`
	Priority       string     `db:"priority" json:"priority"`
	ProjectID      string     `db:"project_id" json:"project"`
	AssigneeID     string     `db:"assignee_id" json:"assignee,omitempty"`
	CreatorID      string     `db:"creator_id" json:"createdBy"`
	DueDate        *time.Time `db:"due_date" json:"dueDate,omitempty"`
	EstimatedHours float64    `db:"estimated_hours" json:"estimatedHours"`
	ActualHours    float64    `db:"actual_hours" json:"actualHours"`
	Tags           StringList `db:"tags" json:"tags"`
	CompletedAt    *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}

var taskColumns = []string{
	"id", "title", "description", "status", "priority", "project_id", "assignee_id",
	"creator_id", "due_date", "estimated_hours", "actual_hours", "tags",
	"completed_at", "created_at", "updated_at",
}

// TaskFilter narrows ListTasks. Empty fields do not filter. ProjectIDs,
// when non-nil, restricts the result to those projects.
type TaskFilter struct {
	ProjectID  string
	AssigneeID string
	Status     string
	ProjectIDs []string
	// Query matches title or description, case-insensitively.
	Query string
	Limit int
}

// TaskUpdate is a partial task update; nil leaves the column untouched.
type TaskUpdate struct {
	Title          *string
	Description    *string
	Status         *string
	Priority       *string
	AssigneeID     *string
	DueDate        *time.Time
	ClearDue       bool
	EstimatedHours *float64
	ActualHours    *float64
	Tags           *[]string
}

// CreateTask inserts t, assigning its ID and timestamps.
func (q *Queries) CreateTask(ctx context.Context, t *Task) error {
	t.ID = newID()
	t.CreatedAt = now()
	t.UpdatedAt = t.CreatedAt
	t.DueDate = utcPtr(t.DueDate)
	if t.Status == "" {
		t.Status = TaskTodo
	}
	if t.Priority == "" {
		t.Priority = "medium"
	}
	if t.Tags == nil {
		t.Tags = StringList{}
	}
	if t.Status == TaskCompleted {
		t.CompletedAt = &t.CreatedAt
	}

	_, err := q.exec(ctx, q.sb.Insert("tasks").
		Columns(taskColumns...).
		Values(
			t.ID, t.Title, t.Description, t.Status, t.Priority, t.ProjectID, t.AssigneeID,
			t.CreatorID, t.DueDate, t.EstimatedHours, t.ActualHours, t.Tags,
			t.CompletedAt, t.CreatedAt, t.UpdatedAt,
		), "task")
	return err
}

// GetTask retrieves a task by ID
func (q *Queries) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	err := q.get(ctx, &t, q.sb.Select(taskColumns...).
		From(q.table("tasks")).
		Where(entsql.EQ("id", id)), "task")
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks returns tasks matching f, newest first.
func (q *Queries) ListTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	sel := q.sb.Select(taskColumns...).From(q.table("tasks"))
	if f.ProjectID != "" {
		sel.Where(entsql.EQ("project_id", f.ProjectID))
	}
	if f.AssigneeID != "" {
		sel.Where(entsql.EQ("assignee_id", f.AssigneeID))
	}
	if f.Status != "" {
		sel.Where(entsql.EQ("status", f.Status))
	}
	if f.ProjectIDs != nil {
		sel.Where(inOrFalse("project_id", f.ProjectIDs))
	}
	if f.Query != "" {
		sel.Where(entsql.Or(
			entsql.ContainsFold("title", f.Query),
			entsql.ContainsFold("description", f.Query),
		))
	}
	if f.Limit > 0 {
		sel.Limit(f.Limit)
	}

	tasks := []Task{}
	err := q.list(ctx, &tasks, sel.OrderBy(entsql.Desc("created_at")), "task")
	return tasks, err
}

// UpdateTask applies a partial update and returns the fresh record.
// Moving into completed stamps completed_at; moving out clears it.
func (q *Queries) UpdateTask(ctx context.Context, id string, upd TaskUpdate) (*Task, error) {
	current, err := q.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	ts := now()
	b := q.sb.Update("tasks").Set("updated_at", ts)
	if upd.Title != nil {
		b.Set("title", *upd.Title)
	}
	if upd.Description != nil {
		b.Set("description", *upd.Description)
	}
	if upd.Status != nil && *upd.Status != current.Status {
		b.Set("status", *upd.Status)
		if *upd.Status == TaskCompleted {
			b.Set("completed_at", ts)
		} else {
			b.SetNull("completed_at")
		}
	}
	if upd.Priority != nil {
		b.Set("priority", *upd.Priority)
	}
	if upd.AssigneeID != nil {
		b.Set("assignee_id", *upd.AssigneeID)
	}
	if upd.ClearDue {
		b.SetNull("due_date")
	} else if upd.DueDate != nil {
		b.Set("due_date", upd.DueDate.UTC())
	}
	if upd.EstimatedHours != nil {
		b.Set("estimated_hours", *upd.EstimatedHours)
	}
	if upd.ActualHours != nil {
		b.Set("actual_hours", *upd.ActualHours)
	}
	if upd.Tags != nil {
		b.Set("tags", StringList(*upd.Tags))
	}

	if err := q.execOne(ctx, b.Where(entsql.EQ("id", id)), "task"); err != nil {
		return nil, err
	}
	return q.GetTask(ctx, id)
}

// SetTaskStatus is UpdateTask for the status alone.
func (q *Queries) SetTaskStatus(ctx context.Context, id, status string) (*Task, error) {
	return q.UpdateTask(ctx, id, TaskUpdate{Status: &status})
}

// DeleteTaskCascade removes a task with its subtasks, comments, time logs
// and file records in one transaction, returning the removed file records.
func (db *DB) DeleteTaskCascade(ctx context.Context, taskID string) ([]File, error) {
	var files []File

	err := db.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.GetTask(ctx, taskID); err != nil {
			return err
		}

		var err error
		if files, err = tx.listFilesWhere(ctx, entsql.EQ("task_id", taskID)); err != nil {
			return err
		}

		for _, table := range []string{"comments", "subtasks", "timelogs", "files"} {
			if _, err := tx.exec(ctx, tx.sb.Delete(table).Where(entsql.EQ("task_id", taskID)), table); err != nil {
				return err
			}
		}

		_, err = tx.exec(ctx, tx.sb.Update("pomodoro_sessions").
			Set("task_id", "").
			Where(entsql.EQ("task_id", taskID)), "pomodoro session")
		if err != nil {
			return err
		}

		return tx.execOne(ctx, tx.sb.Delete("tasks").Where(entsql.EQ("id", taskID)), "task")
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// ListTasksDueBetween returns assigned, unfinished tasks due in [from, to).
func (q *Queries) ListTasksDueBetween(ctx context.Context, from, to time.Time) ([]Task, error) {
	tasks := []Task{}
	err := q.list(ctx, &tasks, q.sb.Select(taskColumns...).
		From(q.table("tasks")).
		Where(entsql.And(
			entsql.GTE("due_date", from.UTC()),
			entsql.LT("due_date", to.UTC()),
			entsql.NEQ("status", TaskCompleted),
			entsql.NEQ("assignee_id", ""),
		)).
		OrderBy("due_date"), "task")
	return tasks, err
}

// RecomputeTaskHours sets actual_hours to the sum of the task's time logs.
func (q *Queries) RecomputeTaskHours(ctx context.Context, taskID string) (float64, error) {
	var sums []struct {
		Hours *float64 `db:"hours"`
	}
	err := q.raw(ctx, &sums, "SELECT SUM(hours) AS hours FROM timelogs WHERE task_id = ?", taskID)
	if err != nil {
		return 0, err
	}

	var total float64
	if len(sums) > 0 && sums[0].Hours != nil {
		total = *sums[0].Hours
	}
	err = q.execOne(ctx, q.sb.Update("tasks").
		Set("actual_hours", total).
		Where(entsql.EQ("id", taskID)), "task")
	return total, err
}

type statusCount struct {
	Status string `db:"status"`
	N      int    `db:"n"`
}

func countsToMap(rows []statusCount) map[string]int {
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out
}

// CountTasksByStatus returns the number of tasks per status in a project.
func (q *Queries) CountTasksByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	var rows []statusCount
	err := q.raw(ctx, &rows,
		"SELECT status, COUNT(*) AS n FROM tasks WHERE project_id = ? GROUP BY status", projectID)
	return countsToMap(rows), err
}

// CountAssignedTasksByStatus returns the number of tasks per status assigned
// to userID.
func (q *Queries) CountAssignedTasksByStatus(ctx context.Context, userID string) (map[string]int, error) {
	var rows []statusCount
	err := q.raw(ctx, &rows,
		"SELECT status, COUNT(*) AS n FROM tasks WHERE assignee_id = ? GROUP BY status", userID)
	return countsToMap(rows), err
}

// CountOverdueTasks counts unfinished tasks assigned to userID that were due
// before at.
func (q *Queries) CountOverdueTasks(ctx context.Context, userID string, at time.Time) (int, error) {
	var n int
	err := q.get(ctx, &n, q.sb.Select(entsql.Count("*")).
		From(q.table("tasks")).
		Where(entsql.And(
			entsql.EQ("assignee_id", userID),
			entsql.NEQ("status", TaskCompleted),
			entsql.LT("due_date", at.UTC()),
		)), "task")
	return n, err
}
