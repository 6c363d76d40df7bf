package db

import (
	"context"
	"strings"
)

// CountProjectsByStatus returns project counts per status. A nil ids counts
// every project; otherwise only the listed ones.
func (q *Queries) CountProjectsByStatus(ctx context.Context, ids []string) (map[string]int, error) {
	var rows []statusCount
	if ids == nil {
		err := q.raw(ctx, &rows, "SELECT status, COUNT(*) AS n FROM projects GROUP BY status")
		return countsToMap(rows), err
	}
	if len(ids) == 0 {
		return map[string]int{}, nil
	}

	query := "SELECT status, COUNT(*) AS n FROM projects WHERE id IN (?" +
		strings.Repeat(", ?", len(ids)-1) + ") GROUP BY status"
	err := q.raw(ctx, &rows, query, anySlice(ids)...)
	return countsToMap(rows), err
}

// ProjectHours is the logged time of one user on one project.
type ProjectHours struct {
	UserID string  `db:"user_id" json:"user"`
	Hours  float64 `db:"hours" json:"hours"`
}

// SumProjectHoursByUser totals a project's logged hours per user.
func (q *Queries) SumProjectHoursByUser(ctx context.Context, projectID string) ([]ProjectHours, error) {
	rows := []ProjectHours{}
	err := q.raw(ctx, &rows,
		"SELECT user_id, SUM(hours) AS hours FROM timelogs WHERE project_id = ? GROUP BY user_id ORDER BY user_id",
		projectID)
	return rows, err
}
