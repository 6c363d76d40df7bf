package db

import (
	"context"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

// File is the database record of an uploaded blob.
type File struct {
	ID           string    `db:"id" json:"id"`
	Category     string    `db:"category" json:"category"`
	Filename     string    `db:"filename" json:"filename"`
	OriginalName string    `db:"original_name" json:"originalName"`
	MimeType     string    `db:"mime_type" json:"mimeType"`
	Size         int64     `db:"size" json:"size"`
	OwnerID      string    `db:"owner_id" json:"owner"`
	ProjectID    string    `db:"project_id" json:"project,omitempty"`
	TeamID       string    `db:"team_id" json:"team,omitempty"`
	TaskID       string    `db:"task_id" json:"task,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

var fileColumns = []string{
	"id", "category", "filename", "original_name", "mime_type", "size", "owner_id",
	"project_id", "team_id", "task_id", "created_at",
}

// FileFilter narrows ListFiles. Empty fields do not filter.
type FileFilter struct {
	Category  string
	OwnerID   string
	ProjectID string
	TaskID    string
	TeamID    string
}

// CreateFile inserts the record for an uploaded blob.
func (q *Queries) CreateFile(ctx context.Context, f *File) error {
	f.ID = newID()
	f.CreatedAt = now()
	_, err := q.exec(ctx, q.sb.Insert("files").
		Columns(fileColumns...).
		Values(
			f.ID, f.Category, f.Filename, f.OriginalName, f.MimeType, f.Size, f.OwnerID,
			f.ProjectID, f.TeamID, f.TaskID, f.CreatedAt,
		), "file")
	return err
}

// GetFileByName looks a record up by category and stored filename.
func (q *Queries) GetFileByName(ctx context.Context, category, filename string) (*File, error) {
	var f File
	err := q.get(ctx, &f, q.sb.Select(fileColumns...).
		From(q.table("files")).
		Where(entsql.And(entsql.EQ("category", category), entsql.EQ("filename", filename))), "file")
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFiles returns the records matching f, newest first.
func (q *Queries) ListFiles(ctx context.Context, f FileFilter) ([]File, error) {
	var preds []*entsql.Predicate
	if f.Category != "" {
		preds = append(preds, entsql.EQ("category", f.Category))
	}
	if f.OwnerID != "" {
		preds = append(preds, entsql.EQ("owner_id", f.OwnerID))
	}
	if f.ProjectID != "" {
		preds = append(preds, entsql.EQ("project_id", f.ProjectID))
	}
	if f.TaskID != "" {
		preds = append(preds, entsql.EQ("task_id", f.TaskID))
	}
	if f.TeamID != "" {
		preds = append(preds, entsql.EQ("team_id", f.TeamID))
	}
	if len(preds) == 0 {
		return q.listFilesWhere(ctx, nil)
	}
	return q.listFilesWhere(ctx, entsql.And(preds...))
}

func (q *Queries) listFilesWhere(ctx context.Context, where *entsql.Predicate) ([]File, error) {
	sel := q.sb.Select(fileColumns...).From(q.table("files"))
	if where != nil {
		sel.Where(where)
	}
	files := []File{}
	err := q.list(ctx, &files, sel.OrderBy(entsql.Desc("created_at")), "file")
	return files, err
}

// DeleteFileRecord removes a record by category and stored filename.
func (q *Queries) DeleteFileRecord(ctx context.Context, category, filename string) error {
	return q.execOne(ctx, q.sb.Delete("files").
		Where(entsql.And(entsql.EQ("category", category), entsql.EQ("filename", filename))), "file")
}
