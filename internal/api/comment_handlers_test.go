package api

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"trackflow/internal/db"
)

func TestHandleCreateComment(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()
	ctx := context.Background()

	owner := ts.CreateTestUser(t, "owner@example.com", "password123")
	member := ts.CreateTestUser(t, "member@example.com", "password123")
	outsider := ts.CreateTestUser(t, "outsider@example.com", "password123")
	project := ts.CreateTestProject(t, owner, "Apollo", member.ID)
	task := ts.CreateTestTask(t, project, owner, "Review")
	path := "/api/tasks/" + task.ID + "/comments"

	t.Run("renders markdown without raw html", func(t *testing.T) {
		rec := ts.Do(t, http.MethodPost, path, CreateCommentRequest{
			Content: "**bold** <script>alert(1)</script>",
		}, owner)
		AssertStatusCode(t, rec.Code, http.StatusCreated)

		var c CommentResponse
		DecodeJSON(t, rec, &c)
		if !strings.Contains(c.ContentHTML, "<strong>bold</strong>") {
			t.Errorf("Expected rendered markdown, got %q", c.ContentHTML)
		}
		if strings.Contains(c.ContentHTML, "<script>") {
			t.Errorf("Raw HTML must not be rendered, got %q", c.ContentHTML)
		}
		if c.Content != "**bold** <script>alert(1)</script>" {
			t.Errorf("Expected the source to be stored as written, got %q", c.Content)
		}
	})

	t.Run("email mention notifies a project member", func(t *testing.T) {
		rec := ts.Do(t, http.MethodPost, path, CreateCommentRequest{
			Content: "ping @member@example.com and @outsider@example.com",
		}, owner)
		AssertStatusCode(t, rec.Code, http.StatusCreated)

		var c CommentResponse
		DecodeJSON(t, rec, &c)
		if len(c.Mentions) != 2 {
			t.Errorf("Expected 2 resolved mentions, got %v", c.Mentions)
		}

		notes, err := ts.DB.ListNotifications(ctx, member.ID, true, 10)
		if err != nil {
			t.Fatalf("ListNotifications failed: %v", err)
		}
		if len(notes) != 1 || notes[0].Type != db.NotifyMention {
			t.Errorf("Expected one mention notification, got %+v", notes)
		}

		// Users who cannot see the project are not told about it.
		if n, _ := ts.DB.CountUnreadNotifications(ctx, outsider.ID); n != 0 {
			t.Errorf("Expected no notification for the outsider, got %d", n)
		}
	})

	tests := []struct {
		name          string
		user          *db.User
		body          CreateCommentRequest
		wantStatus    int
		wantError     string
		wantErrorCode string
	}{
		{"blank content", owner, CreateCommentRequest{Content: "  "}, http.StatusBadRequest, "content is required", "validation_error"},
		{"unknown mention id", owner, CreateCommentRequest{Content: "hi", Mentions: []string{"nobody"}}, http.StatusBadRequest, "unknown user", "validation_error"},
		{"unknown parent", owner, CreateCommentRequest{Content: "hi", ParentID: "missing"}, http.StatusBadRequest, "parent comment does not belong", "validation_error"},
		{"outsider", outsider, CreateCommentRequest{Content: "hi"}, http.StatusForbidden, "", "forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.Do(t, http.MethodPost, path, tt.body, tt.user)
			AssertError(t, rec, tt.wantStatus, tt.wantError, tt.wantErrorCode)
		})
	}
}

func TestCommentParentMustShareTask(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	owner := ts.CreateTestUser(t, "owner@example.com", "password123")
	project := ts.CreateTestProject(t, owner, "Apollo")
	first := ts.CreateTestTask(t, project, owner, "First")
	second := ts.CreateTestTask(t, project, owner, "Second")

	rec := ts.Do(t, http.MethodPost, "/api/tasks/"+first.ID+"/comments", CreateCommentRequest{Content: "root"}, owner)
	AssertStatusCode(t, rec.Code, http.StatusCreated)
	var root CommentResponse
	DecodeJSON(t, rec, &root)

	rec = ts.Do(t, http.MethodPost, "/api/tasks/"+second.ID+"/comments", CreateCommentRequest{Content: "reply", ParentID: root.ID}, owner)
	AssertError(t, rec, http.StatusBadRequest, "parent comment does not belong", "validation_error")

	rec = ts.Do(t, http.MethodPost, "/api/tasks/"+first.ID+"/comments", CreateCommentRequest{Content: "reply", ParentID: root.ID}, owner)
	AssertStatusCode(t, rec.Code, http.StatusCreated)

	rec = ts.Do(t, http.MethodGet, "/api/tasks/"+first.ID+"/comments", nil, owner)
	AssertStatusCode(t, rec.Code, http.StatusOK)
	var comments []CommentResponse
	DecodeJSON(t, rec, &comments)
	if len(comments) != 2 {
		t.Fatalf("Expected 2 comments, got %d", len(comments))
	}
	replies := 0
	for _, c := range comments {
		if c.ParentID == root.ID {
			replies++
		}
	}
	if replies != 1 {
		t.Errorf("Expected 1 reply to the root comment, got %d", replies)
	}
}

func TestUpdateAndDeleteComment(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()
	ctx := context.Background()

	owner := ts.CreateTestUser(t, "owner@example.com", "password123")
	author := ts.CreateTestUser(t, "author@example.com", "password123")
	bystander := ts.CreateTestUser(t, "bystander@example.com", "password123")
	project := ts.CreateTestProject(t, owner, "Apollo", author.ID, bystander.ID)
	task := ts.CreateTestTask(t, project, owner, "Review")

	rec := ts.Do(t, http.MethodPost, "/api/tasks/"+task.ID+"/comments", CreateCommentRequest{Content: "first draft"}, author)
	AssertStatusCode(t, rec.Code, http.StatusCreated)
	var c CommentResponse
	DecodeJSON(t, rec, &c)
	path := "/api/comments/" + c.ID

	rec = ts.Do(t, http.MethodPatch, path, UpdateCommentRequest{Content: "hijacked"}, owner)
	AssertError(t, rec, http.StatusForbidden, "only the author", "forbidden")

	rec = ts.Do(t, http.MethodPatch, path, UpdateCommentRequest{Content: "_final_", Mentions: []string{bystander.ID}}, author)
	AssertStatusCode(t, rec.Code, http.StatusOK)
	var updated CommentResponse
	DecodeJSON(t, rec, &updated)
	if updated.Content != "_final_" || !strings.Contains(updated.ContentHTML, "<em>final</em>") {
		t.Errorf("Unexpected comment after edit: %+v", updated)
	}
	if n, _ := ts.DB.CountUnreadNotifications(ctx, bystander.ID); n != 1 {
		t.Errorf("Expected the newly mentioned user to be notified once, got %d", n)
	}

	// Keeping the same mention does not notify again.
	rec = ts.Do(t, http.MethodPatch, path, UpdateCommentRequest{Content: "final", Mentions: []string{bystander.ID}}, author)
	AssertStatusCode(t, rec.Code, http.StatusOK)
	if n, _ := ts.DB.CountUnreadNotifications(ctx, bystander.ID); n != 1 {
		t.Errorf("Expected no second mention notification, got %d", n)
	}

	rec = ts.Do(t, http.MethodDelete, path, nil, bystander)
	AssertError(t, rec, http.StatusForbidden, "cannot delete", "forbidden")

	// The project owner moderates comments.
	rec = ts.Do(t, http.MethodDelete, path, nil, owner)
	AssertStatusCode(t, rec.Code, http.StatusOK)

	rec = ts.Do(t, http.MethodPatch, path, UpdateCommentRequest{Content: "gone"}, author)
	AssertStatusCode(t, rec.Code, http.StatusNotFound)
}
