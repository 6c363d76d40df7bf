package db

import (
	"context"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

// Comment is a threaded remark on a task. Content is markdown.
type Comment struct {
	ID          string     `db:"id" json:"id"`
	TaskID      string     `db:"task_id" json:"task"`
	AuthorID    string     `db:"author_id" json:"author"`
	Content     string     `db:"content" json:"content"`
	Mentions    StringList `db:"mentions" json:"mentions"`
	ParentID    string     `db:"parent_id" json:"parent,omitempty"`
	Attachments StringList `db:"attachments" json:"attachments"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
}

var commentColumns = []string{
	"id", "task_id", "author_id", "content", "mentions", "parent_id",
	"attachments", "created_at", "updated_at",
}

// CreateComment inserts c.
func (q *Queries) CreateComment(ctx context.Context, c *Comment) error {
	c.ID = newID()
	c.CreatedAt = now()
	c.UpdatedAt = c.CreatedAt
	if c.Mentions == nil {
		c.Mentions = StringList{}
	}
	if c.Attachments == nil {
		c.Attachments = StringList{}
	}

	_, err := q.exec(ctx, q.sb.Insert("comments").
		Columns(commentColumns...).
		Values(
			c.ID, c.TaskID, c.AuthorID, c.Content, c.Mentions, c.ParentID,
			c.Attachments, c.CreatedAt, c.UpdatedAt,
		), "comment")
	return err
}

// GetComment retrieves a comment by ID
func (q *Queries) GetComment(ctx context.Context, id string) (*Comment, error) {
	var c Comment
	err := q.get(ctx, &c, q.sb.Select(commentColumns...).
		From(q.table("comments")).
		Where(entsql.EQ("id", id)), "comment")
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListComments returns a task's comments oldest first.
func (q *Queries) ListComments(ctx context.Context, taskID string) ([]Comment, error) {
	comments := []Comment{}
	err := q.list(ctx, &comments, q.sb.Select(commentColumns...).
		From(q.table("comments")).
		Where(entsql.EQ("task_id", taskID)).
		OrderBy("created_at"), "comment")
	return comments, err
}

// UpdateCommentContent replaces the content and mention list.
func (q *Queries) UpdateCommentContent(ctx context.Context, id, content string, mentions []string) (*Comment, error) {
	err := q.execOne(ctx, q.sb.Update("comments").
		Set("content", content).
		Set("mentions", StringList(mentions)).
		Set("updated_at", now()).
		Where(entsql.EQ("id", id)), "comment")
	if err != nil {
		return nil, err
	}
	return q.GetComment(ctx, id)
}

// DeleteComment removes a comment and its direct replies.
func (q *Queries) DeleteComment(ctx context.Context, id string) error {
	if _, err := q.exec(ctx, q.sb.Delete("comments").Where(entsql.EQ("parent_id", id)), "comment"); err != nil {
		return err
	}
	return q.execOne(ctx, q.sb.Delete("comments").Where(entsql.EQ("id", id)), "comment")
}
