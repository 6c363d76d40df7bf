package db

import (
	"context"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

// Subtask is a checklist item under a task.
type Subtask struct {
	ID          string     `db:"id" json:"id"`
	TaskID      string     `db:"task_id" json:"task"`
	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description"`
	Completed   bool       `db:"completed" json:"completed"`
	AssigneeID  string     `db:"assignee_id" json:"assignee,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
}

var subtaskColumns = []string{
	"id", "task_id", "title", "description", "completed", "assignee_id",
	"completed_at", "created_at", "updated_at",
}

// SubtaskUpdate is a partial subtask update.
type SubtaskUpdate struct {
	Title       *string
	Description *string
	Completed   *bool
	AssigneeID  *string
}

// CreateSubtask inserts s, assigning its ID and timestamps.
func (q *Queries) CreateSubtask(ctx context.Context, s *Subtask) error {
	s.ID = newID()
	s.CreatedAt = now()
	s.UpdatedAt = s.CreatedAt
	if s.Completed {
		s.CompletedAt = &s.CreatedAt
	}

	_, err := q.exec(ctx, q.sb.Insert("subtasks").
		Columns(subtaskColumns...).
		Values(
			s.ID, s.TaskID, s.Title, s.Description, s.Completed, s.AssigneeID,
			s.CompletedAt, s.CreatedAt, s.UpdatedAt,
		), "subtask")
	return err
}

// GetSubtask retrieves a subtask by ID
func (q *Queries) GetSubtask(ctx context.Context, id string) (*Subtask, error) {
	var s Subtask
	err := q.get(ctx, &s, q.sb.Select(subtaskColumns...).
		From(q.table("subtasks")).
		Where(entsql.EQ("id", id)), "subtask")
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSubtasks returns a task's subtasks in creation order.
func (q *Queries) ListSubtasks(ctx context.Context, taskID string) ([]Subtask, error) {
	subtasks := []Subtask{}
	err := q.list(ctx, &subtasks, q.sb.Select(subtaskColumns...).
		From(q.table("subtasks")).
		Where(entsql.EQ("task_id", taskID)).
		OrderBy("created_at"), "subtask")
	return subtasks, err
}

// UpdateSubtask applies a partial update and returns the fresh record.
func (q *Queries) UpdateSubtask(ctx context.Context, id string, upd SubtaskUpdate) (*Subtask, error) {
	ts := now()
	b := q.sb.Update("subtasks").Set("updated_at", ts)
	if upd.Title != nil {
		b.Set("title", *upd.Title)
	}
	if upd.Description != nil {
		b.Set("description", *upd.Description)
	}
	if upd.Completed != nil {
		b.Set("completed", *upd.Completed)
		if *upd.Completed {
			b.Set("completed_at", ts)
		} else {
			b.SetNull("completed_at")
		}
	}
	if upd.AssigneeID != nil {
		b.Set("assignee_id", *upd.AssigneeID)
	}
	if err := q.execOne(ctx, b.Where(entsql.EQ("id", id)), "subtask"); err != nil {
		return nil, err
	}
	return q.GetSubtask(ctx, id)
}

// DeleteSubtask removes a subtask. Time logs keep their subtask title.
func (q *Queries) DeleteSubtask(ctx context.Context, id string) error {
	return q.execOne(ctx, q.sb.Delete("subtasks").Where(entsql.EQ("id", id)), "subtask")
}
