package db

import (
	"context"
	"math"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

// Project is a top-level unit of work.
type Project struct {
	ID          string     `db:"id" json:"id"`
	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description"`
	Status      string     `db:"status" json:"status"`
	Priority    string     `db:"priority" json:"priority"`
	Progress    int        `db:"progress" json:"progress"`
	StartDate   *time.Time `db:"start_date" json:"startDate,omitempty"`
	DueDate     *time.Time `db:"due_date" json:"dueDate,omitempty"`
	OwnerID     string     `db:"owner_id" json:"owner"`
	Members     []string   `db:"-" json:"members"`
	Color       string     `db:"color" json:"color,omitempty"`
	Tags        StringList `db:"tags" json:"tags"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
}

var projectColumns = []string{
	"id", "title", "description", "status", "priority", "progress", "start_date",
	"due_date", "owner_id", "color", "tags", "created_at", "updated_at",
}

// ProjectUpdate is a partial project update; nil leaves the column untouched.
type ProjectUpdate struct {
	Title       *string
	Description *string
	Status      *string
	Priority    *string
	Progress    *int
	StartDate   *time.Time
	DueDate     *time.Time
	ClearDue    bool
	Color       *string
	Tags        *[]string
}

type projectMember struct {
	ProjectID string `db:"project_id"`
	UserID    string `db:"user_id"`
}

// CreateProject inserts p and its member list in one transaction. The owner
// is always a member.
func (db *DB) CreateProject(ctx context.Context, p *Project) error {
	p.ID = newID()
	p.CreatedAt = now()
	p.UpdatedAt = p.CreatedAt
	p.StartDate = utcPtr(p.StartDate)
	p.DueDate = utcPtr(p.DueDate)
	if p.Status == "" {
		p.Status = ProjectNotStarted
	}
	if p.Priority == "" {
		p.Priority = "medium"
	}
	if p.Tags == nil {
		p.Tags = StringList{}
	}
	p.Members = uniqueWith(p.OwnerID, p.Members)

	return db.InTx(ctx, func(tx *Tx) error {
		_, err := tx.exec(ctx, tx.sb.Insert("projects").
			Columns(projectColumns...).
			Values(
				p.ID, p.Title, p.Description, p.Status, p.Priority, p.Progress, p.StartDate,
				p.DueDate, p.OwnerID, p.Color, p.Tags, p.CreatedAt, p.UpdatedAt,
			), "project")
		if err != nil {
			return err
		}
		for _, uid := range p.Members {
			if err := tx.AddProjectMember(ctx, p.ID, uid); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetProject retrieves a project with its member IDs.
func (q *Queries) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := q.get(ctx, &p, q.sb.Select(projectColumns...).
		From(q.table("projects")).
		Where(entsql.EQ("id", id)), "project")
	if err != nil {
		return nil, err
	}
	if p.Members, err = q.ListProjectMembers(ctx, id); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns every project, newest first.
func (q *Queries) ListProjects(ctx context.Context) ([]Project, error) {
	projects := []Project{}
	err := q.list(ctx, &projects, q.sb.Select(projectColumns...).
		From(q.table("projects")).
		OrderBy(entsql.Desc("created_at")), "project")
	if err != nil {
		return nil, err
	}
	return projects, q.attachMembers(ctx, projects)
}

// ListProjectsForUser returns the projects userID owns or is a member of.
func (q *Queries) ListProjectsForUser(ctx context.Context, userID string) ([]Project, error) {
	var ids []string
	err := q.list(ctx, &ids, q.sb.Select("project_id").
		From(q.table("project_members")).
		Where(entsql.EQ("user_id", userID)), "project")
	if err != nil {
		return nil, err
	}

	projects := []Project{}
	err = q.list(ctx, &projects, q.sb.Select(projectColumns...).
		From(q.table("projects")).
		Where(entsql.Or(
			entsql.EQ("owner_id", userID),
			inOrFalse("id", ids),
		)).
		OrderBy(entsql.Desc("created_at")), "project")
	if err != nil {
		return nil, err
	}
	return projects, q.attachMembers(ctx, projects)
}

func (q *Queries) attachMembers(ctx context.Context, projects []Project) error {
	if len(projects) == 0 {
		return nil
	}
	ids := make([]string, len(projects))
	for i := range projects {
		ids[i] = projects[i].ID
	}

	var rows []projectMember
	err := q.list(ctx, &rows, q.sb.Select("project_id", "user_id").
		From(q.table("project_members")).
		Where(entsql.In("project_id", anySlice(ids)...)).
		OrderBy("added_at"), "project member")
	if err != nil {
		return err
	}

	byProject := make(map[string][]string, len(projects))
	for _, r := range rows {
		byProject[r.ProjectID] = append(byProject[r.ProjectID], r.UserID)
	}
	for i := range projects {
		projects[i].Members = byProject[projects[i].ID]
		if projects[i].Members == nil {
			projects[i].Members = []string{}
		}
	}
	return nil
}

// UpdateProject applies a partial update and returns the fresh record.
func (q *Queries) UpdateProject(ctx context.Context, id string, upd ProjectUpdate) (*Project, error) {
	b := q.sb.Update("projects").Set("updated_at", now())
	if upd.Title != nil {
		b.Set("title", *upd.Title)
	}
	if upd.Description != nil {
		b.Set("description", *upd.Description)
	}
	if upd.Status != nil {
		b.Set("status", *upd.Status)
	}
	if upd.Priority != nil {
		b.Set("priority", *upd.Priority)
	}
	if upd.Progress != nil {
		b.Set("progress", *upd.Progress)
	}
	if upd.StartDate != nil {
		b.Set("start_date", upd.StartDate.UTC())
	}
	if upd.ClearDue {
		b.SetNull("due_date")
	} else if upd.DueDate != nil {
		b.Set("due_date", upd.DueDate.UTC())
	}
	if upd.Color != nil {
		b.Set("color", *upd.Color)
	}
	if upd.Tags != nil {
		b.Set("tags", StringList(*upd.Tags))
	}
	if err := q.execOne(ctx, b.Where(entsql.EQ("id", id)), "project"); err != nil {
		return nil, err
	}
	return q.GetProject(ctx, id)
}

// AddProjectMember adds userID to the project; adding an existing member
// is a no-op.
func (q *Queries) AddProjectMember(ctx context.Context, projectID, userID string) error {
	ok, err := q.IsProjectMember(ctx, projectID, userID)
	if err != nil || ok {
		return err
	}
	_, err = q.exec(ctx, q.sb.Insert("project_members").
		Columns("project_id", "user_id", "added_at").
		Values(projectID, userID, now()), "project member")
	return err
}

// RemoveProjectMember removes userID from the project.
func (q *Queries) RemoveProjectMember(ctx context.Context, projectID, userID string) error {
	return q.execOne(ctx, q.sb.Delete("project_members").
		Where(entsql.And(
			entsql.EQ("project_id", projectID),
			entsql.EQ("user_id", userID),
		)), "project member")
}

// ListProjectMembers returns the member user IDs in the order they joined.
func (q *Queries) ListProjectMembers(ctx context.Context, projectID string) ([]string, error) {
	members := []string{}
	err := q.list(ctx, &members, q.sb.Select("user_id").
		From(q.table("project_members")).
		Where(entsql.EQ("project_id", projectID)).
		OrderBy("added_at"), "project member")
	return members, err
}

// IsProjectMember reports whether userID belongs to the project.
func (q *Queries) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	var n int
	err := q.get(ctx, &n, q.sb.Select(entsql.Count("*")).
		From(q.table("project_members")).
		Where(entsql.And(
			entsql.EQ("project_id", projectID),
			entsql.EQ("user_id", userID),
		)), "project member")
	return n > 0, err
}

// DeleteProjectCascade removes a project with its tasks, subtasks, comments,
// time logs, member rows and file records in one transaction. Pomodoro
// sessions survive with their project and task references cleared so the
// daily rollup stays reproducible. The removed file records are returned so
// the caller can delete the blobs once the transaction has committed.
func (db *DB) DeleteProjectCascade(ctx context.Context, projectID string) ([]File, error) {
	var files []File

	err := db.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.GetProject(ctx, projectID); err != nil {
			return err
		}

		var taskIDs []string
		err := tx.list(ctx, &taskIDs, tx.sb.Select("id").
			From(tx.table("tasks")).
			Where(entsql.EQ("project_id", projectID)), "task")
		if err != nil {
			return err
		}

		fileScope := entsql.Or(entsql.EQ("project_id", projectID), inOrFalse("task_id", taskIDs))
		if files, err = tx.listFilesWhere(ctx, fileScope); err != nil {
			return err
		}

		if len(taskIDs) > 0 {
			inTasks := anySlice(taskIDs)
			for _, table := range []string{"comments", "subtasks"} {
				if _, err := tx.exec(ctx, tx.sb.Delete(table).Where(entsql.In("task_id", inTasks...)), table); err != nil {
					return err
				}
			}
		}

		_, err = tx.exec(ctx, tx.sb.Delete("timelogs").
			Where(entsql.Or(entsql.EQ("project_id", projectID), inOrFalse("task_id", taskIDs))), "time log")
		if err != nil {
			return err
		}

		_, err = tx.exec(ctx, tx.sb.Update("pomodoro_sessions").
			Set("project_id", "").
			Set("task_id", "").
			Where(entsql.Or(entsql.EQ("project_id", projectID), inOrFalse("task_id", taskIDs))), "pomodoro session")
		if err != nil {
			return err
		}

		steps := []struct {
			table string
			where *entsql.Predicate
		}{
			{"files", fileScope},
			{"tasks", entsql.EQ("project_id", projectID)},
			{"project_members", entsql.EQ("project_id", projectID)},
			{"projects", entsql.EQ("id", projectID)},
		}
		for _, s := range steps {
			if _, err := tx.exec(ctx, tx.sb.Delete(s.table).Where(s.where), s.table); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// RecomputeProjectProgress derives progress from the task completion ratio
// and moves the status along with it. A project on hold keeps its status.
func (q *Queries) RecomputeProjectProgress(ctx context.Context, projectID string) (*Project, error) {
	p, err := q.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	counts, err := q.CountTasksByStatus(ctx, projectID)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, c := range counts {
		total += c
	}

	progress := 0
	if total > 0 {
		progress = int(math.Round(float64(counts[TaskCompleted]) * 100 / float64(total)))
	}

	status := p.Status
	if status != ProjectOnHold && total > 0 {
		switch {
		case progress == 100:
			status = ProjectCompleted
		case progress > 0 || counts[TaskInProgress] > 0 || counts[TaskReview] > 0:
			status = ProjectInProgress
		default:
			status = ProjectNotStarted
		}
	}

	if progress == p.Progress && status == p.Status {
		return p, nil
	}
	return q.UpdateProject(ctx, projectID, ProjectUpdate{Progress: &progress, Status: &status})
}

// inOrFalse is entsql.In that matches nothing for an empty list.
func inOrFalse(column string, values []string) *entsql.Predicate {
	if len(values) == 0 {
		return entsql.False()
	}
	return entsql.In(column, anySlice(values)...)
}

func uniqueWith(first string, rest []string) []string {
	seen := map[string]bool{first: true}
	out := []string{first}
	for _, v := range rest {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
