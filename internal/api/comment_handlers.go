package api

import (
	"bytes"
	"context"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"trackflow/internal/apperr"
	"trackflow/internal/db"
	"trackflow/internal/notify"
	"trackflow/internal/realtime"
)

// Raw HTML in comments is dropped; goldmark only passes it through with
// html.WithUnsafe.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

var mentionPattern = regexp.MustCompile(`(?:^|[^\w.])@([A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,})`)

// CommentResponse is a comment with its rendered markdown
type CommentResponse struct {
	db.Comment
	ContentHTML string `json:"contentHtml"`
}

// CreateCommentRequest represents the request to comment on a task.
// Mentions are user IDs; @email tokens in the content are added to them.
type CreateCommentRequest struct {
	Content     string   `json:"content" validate:"required,max=10000"`
	ParentID    string   `json:"parent"`
	Mentions    []string `json:"mentions" validate:"max=50"`
	Attachments []string `json:"attachments" validate:"max=10,dive,max=200"`
}

// UpdateCommentRequest replaces the content of a comment
type UpdateCommentRequest struct {
	Content  string   `json:"content" validate:"required,max=10000"`
	Mentions []string `json:"mentions" validate:"max=50"`
}

func renderMarkdown(src string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return ""
	}
	return buf.String()
}

func toCommentResponse(c db.Comment) CommentResponse {
	return CommentResponse{Comment: c, ContentHTML: renderMarkdown(c.Content)}
}

// HandleListComments lists the comments on a task, oldest first
func (s *Server) HandleListComments(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	task, _, err := s.taskFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to list comments")
		return
	}
	comments, err := s.db.ListComments(ctx, task.ID)
	if err != nil {
		s.respondAppError(w, err, "failed to list comments")
		return
	}

	resp := make([]CommentResponse, 0, len(comments))
	for _, c := range comments {
		resp = append(resp, toCommentResponse(c))
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleCreateComment adds a comment and notifies mentioned users
func (s *Server) HandleCreateComment(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req CreateCommentRequest
	if !decodeValid(w, r, &req) {
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		respondError(w, http.StatusBadRequest, "content is required", "validation_error")
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	task, project, err := s.taskFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to create comment")
		return
	}
	if req.ParentID != "" {
		parent, err := s.db.GetComment(ctx, req.ParentID)
		if err != nil || parent.TaskID != task.ID {
			respondError(w, http.StatusBadRequest, "parent comment does not belong to this task", "validation_error")
			return
		}
	}

	mentions, err := s.resolveMentions(ctx, content, req.Mentions)
	if err != nil {
		s.respondAppError(w, err, "failed to create comment")
		return
	}

	comment := &db.Comment{
		TaskID:      task.ID,
		AuthorID:    user.ID,
		Content:     content,
		Mentions:    db.StringList(mentions),
		ParentID:    req.ParentID,
		Attachments: db.StringList(req.Attachments),
	}
	if err := s.db.CreateComment(ctx, comment); err != nil {
		s.respondAppError(w, err, "failed to create comment")
		return
	}

	s.notifyMentions(ctx, user, mentions, task, project)
	resp := toCommentResponse(*comment)
	s.broadcast(realtime.EventCommentCreated, task.ProjectID, resp)

	respondJSON(w, http.StatusCreated, resp)
}

// HandleUpdateComment edits a comment. Only the author may edit; newly
// mentioned users are notified.
func (s *Server) HandleUpdateComment(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req UpdateCommentRequest
	if !decodeValid(w, r, &req) {
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		respondError(w, http.StatusBadRequest, "content is required", "validation_error")
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	comment, task, project, err := s.commentFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to update comment")
		return
	}
	if comment.AuthorID != user.ID {
		respondError(w, http.StatusForbidden, "only the author can edit this comment", "forbidden")
		return
	}

	mentions, err := s.resolveMentions(ctx, content, req.Mentions)
	if err != nil {
		s.respondAppError(w, err, "failed to update comment")
		return
	}
	updated, err := s.db.UpdateCommentContent(ctx, comment.ID, content, mentions)
	if err != nil {
		s.respondAppError(w, err, "failed to update comment")
		return
	}

	added := slices.DeleteFunc(slices.Clone(mentions), func(id string) bool {
		return slices.Contains(comment.Mentions, id)
	})
	s.notifyMentions(ctx, user, added, task, project)
	resp := toCommentResponse(*updated)
	s.broadcast(realtime.EventCommentUpdated, task.ProjectID, resp)

	respondJSON(w, http.StatusOK, resp)
}

// HandleDeleteComment removes a comment. Allowed for the author, the
// project owner and admins.
func (s *Server) HandleDeleteComment(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	comment, task, project, err := s.commentFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to delete comment")
		return
	}
	if comment.AuthorID != user.ID && !canManageProject(user, project) {
		respondError(w, http.StatusForbidden, "you cannot delete this comment", "forbidden")
		return
	}
	if err := s.db.DeleteComment(ctx, comment.ID); err != nil {
		s.respondAppError(w, err, "failed to delete comment")
		return
	}

	s.broadcast(realtime.EventCommentDeleted, task.ProjectID, map[string]string{"id": comment.ID, "task": task.ID})
	respondJSON(w, http.StatusOK, map[string]string{"message": "Comment deleted successfully"})
}

func (s *Server) commentFor(ctx context.Context, u *db.User, id string) (*db.Comment, *db.Task, *db.Project, error) {
	c, err := s.db.GetComment(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	task, project, err := s.taskFor(ctx, u, c.TaskID)
	if err != nil {
		return nil, nil, nil, err
	}
	return c, task, project, nil
}

// resolveMentions merges explicit user IDs with @email tokens found in the
// content. Unknown emails are ignored; unknown IDs are a validation error.
func (s *Server) resolveMentions(ctx context.Context, content string, explicit []string) ([]string, error) {
	ids := []string{}
	for _, id := range explicit {
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if err := s.checkUsersExist(ctx, ids); err != nil {
		return nil, err
	}

	for _, m := range mentionPattern.FindAllStringSubmatch(content, -1) {
		u, err := s.db.GetUserByEmail(ctx, m[1])
		if apperr.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !slices.Contains(ids, u.ID) {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

// notifyMentions sends a mention notice to each mentioned user who can see
// the project.
func (s *Server) notifyMentions(ctx context.Context, author *db.User, ids []string, task *db.Task, project *db.Project) {
	if len(ids) == 0 {
		return
	}
	users, err := s.db.ListUsersByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("Failed to load mentioned users", zap.Error(err))
		return
	}
	for i := range users {
		u := &users[i]
		if u.ID == author.ID || !canSeeProject(u, project) {
			continue
		}
		s.sendNotice(ctx, notify.Notice{
			UserID:  u.ID,
			Type:    db.NotifyMention,
			Title:   "You were mentioned",
			Message: author.Name + " mentioned you on \"" + task.Title + "\"",
			Payload: map[string]any{"taskId": task.ID, "projectId": project.ID},
			Link:    "/projects/" + project.ID + "/tasks/" + task.ID,
		})
	}
}
