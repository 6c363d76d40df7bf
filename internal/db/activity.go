package db

import (
	"context"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

// Activity types
const (
	ActivityTaskCreated      = "task_created"
	ActivityTaskCompleted    = "task_completed"
	ActivityTaskDeleted      = "task_deleted"
	ActivitySubtaskCreated   = "subtask_created"
	ActivitySubtaskCompleted = "subtask_completed"
	ActivityProjectCreated   = "project_created"
	ActivityProjectDeleted   = "project_deleted"
	ActivityTimeLogged       = "timelog_created"
	ActivityTimeLogDeleted   = "timelog_deleted"
	ActivityMemberJoined     = "member_joined"
	ActivityMemberLeft       = "member_left"
)

// ActivityLog is an append-only audit entry scoped to a team.
type ActivityLog struct {
	ID          string    `db:"id" json:"id"`
	TeamID      string    `db:"team_id" json:"team"`
	ActorID     string    `db:"actor_id" json:"actor"`
	Type        string    `db:"type" json:"type"`
	Description string    `db:"description" json:"description"`
	EntityType  string    `db:"entity_type" json:"entityType,omitempty"`
	EntityID    string    `db:"entity_id" json:"entityId,omitempty"`
	EntityName  string    `db:"entity_name" json:"entityName,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

var activityColumns = []string{
	"id", "team_id", "actor_id", "type", "description", "entity_type",
	"entity_id", "entity_name", "created_at",
}

// CreateActivityLog appends a.
func (q *Queries) CreateActivityLog(ctx context.Context, a *ActivityLog) error {
	a.ID = newID()
	a.CreatedAt = now()
	_, err := q.exec(ctx, q.sb.Insert("activity_logs").
		Columns(activityColumns...).
		Values(
			a.ID, a.TeamID, a.ActorID, a.Type, a.Description, a.EntityType,
			a.EntityID, a.EntityName, a.CreatedAt,
		), "activity log")
	return err
}

// ListActivityLogs returns a team's activity, newest first.
func (q *Queries) ListActivityLogs(ctx context.Context, teamID string, limit, offset int) ([]ActivityLog, error) {
	sel := q.sb.Select(activityColumns...).
		From(q.table("activity_logs")).
		Where(entsql.EQ("team_id", teamID)).
		OrderBy(entsql.Desc("created_at"))
	if limit > 0 {
		sel.Limit(limit)
	}
	if offset > 0 {
		sel.Offset(offset)
	}

	logs := []ActivityLog{}
	err := q.list(ctx, &logs, sel, "activity log")
	return logs, err
}

// ListActivityLogsByActor returns everything one user did across teams,
// newest first.
func (q *Queries) ListActivityLogsByActor(ctx context.Context, actorID string, limit int) ([]ActivityLog, error) {
	sel := q.sb.Select(activityColumns...).
		From(q.table("activity_logs")).
		Where(entsql.EQ("actor_id", actorID)).
		OrderBy(entsql.Desc("created_at"))
	if limit > 0 {
		sel.Limit(limit)
	}

	logs := []ActivityLog{}
	err := q.list(ctx, &logs, sel, "activity log")
	return logs, err
}
