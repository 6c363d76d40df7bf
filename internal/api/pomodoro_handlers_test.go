package api

import (
	"net/http"
	"testing"
	"time"

	"trackflow/internal/db"
)

func TestHandleRecordSession(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	user := ts.CreateTestUser(t, "user@example.com", "password123")
	outsider := ts.CreateTestUser(t, "outsider@example.com", "password123")
	project := ts.CreateTestProject(t, outsider, "Private")

	now := time.Now().UTC()
	start := now.Add(-30 * time.Minute)
	end := now.Add(-5 * time.Minute)
	future := now.Add(time.Hour)
	longStart := now.Add(-6 * time.Hour)
	longEnd := now.Add(-time.Hour)
	early := start.Add(-time.Minute)

	tests := []struct {
		name          string
		body          RecordSessionRequest
		wantStatus    int
		wantError     string
		wantErrorCode string
	}{
		{
			name:       "valid focus session",
			body:       RecordSessionRequest{Type: "focus", Status: "completed", StartTime: start, EndTime: &end},
			wantStatus: http.StatusCreated,
		},
		{
			name:          "unknown type",
			body:          RecordSessionRequest{Type: "nap", Status: "completed", StartTime: start, EndTime: &end},
			wantStatus:    http.StatusBadRequest,
			wantError:     "type must be one of",
			wantErrorCode: "validation_error",
		},
		{
			name:          "missing end",
			body:          RecordSessionRequest{Type: "focus", Status: "completed", StartTime: start},
			wantStatus:    http.StatusBadRequest,
			wantError:     "endTime is required",
			wantErrorCode: "validation_error",
		},
		{
			name:          "ends before it starts",
			body:          RecordSessionRequest{Type: "focus", Status: "completed", StartTime: start, EndTime: &early},
			wantStatus:    http.StatusBadRequest,
			wantError:     "endTime must be after startTime",
			wantErrorCode: "validation_error",
		},
		{
			name:          "ends in the future",
			body:          RecordSessionRequest{Type: "break", Status: "skipped", StartTime: start, EndTime: &future},
			wantStatus:    http.StatusBadRequest,
			wantError:     "in the future",
			wantErrorCode: "validation_error",
		},
		{
			name:          "longer than allowed",
			body:          RecordSessionRequest{Type: "focus", Status: "completed", StartTime: longStart, EndTime: &longEnd},
			wantStatus:    http.StatusBadRequest,
			wantError:     "longer than 4 hours",
			wantErrorCode: "validation_error",
		},
		{
			name:          "project the user cannot see",
			body:          RecordSessionRequest{Type: "focus", Status: "completed", StartTime: start, EndTime: &end, ProjectID: project.ID},
			wantStatus:    http.StatusForbidden,
			wantErrorCode: "forbidden",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.Do(t, http.MethodPost, "/api/pomodoro/sessions", tt.body, user)
			if tt.wantErrorCode != "" {
				AssertError(t, rec, tt.wantStatus, tt.wantError, tt.wantErrorCode)
				return
			}
			AssertStatusCode(t, rec.Code, tt.wantStatus)

			var sess db.PomodoroSession
			DecodeJSON(t, rec, &sess)
			if sess.Source != db.SourceClient || sess.UserID != user.ID {
				t.Errorf("Unexpected session: %+v", sess)
			}
		})
	}
}

func TestServerTimedSession(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	user := ts.CreateTestUser(t, "user@example.com", "password123")
	other := ts.CreateTestUser(t, "other@example.com", "password123")
	project := ts.CreateTestProject(t, user, "Apollo")
	task := ts.CreateTestTask(t, project, user, "Focus on this")

	rec := ts.Do(t, http.MethodPost, "/api/pomodoro/sessions/start", StartSessionRequest{Type: "focus", TaskID: task.ID}, user)
	AssertStatusCode(t, rec.Code, http.StatusCreated)
	var sess db.PomodoroSession
	DecodeJSON(t, rec, &sess)
	if sess.Status != db.SessionRunning || sess.Source != db.SourceServer || sess.ProjectID != project.ID {
		t.Fatalf("Unexpected running session: %+v", sess)
	}

	rec = ts.Do(t, http.MethodPost, "/api/pomodoro/sessions/start", StartSessionRequest{Type: "break"}, user)
	AssertError(t, rec, http.StatusConflict, "already running", "conflict")

	finish := "/api/pomodoro/sessions/" + sess.ID + "/finish"

	rec = ts.Do(t, http.MethodPost, finish, FinishSessionRequest{Status: "completed"}, other)
	AssertError(t, rec, http.StatusNotFound, "pomodoro session not found", "not_found")

	// Finishing right away is short of the planned focus length.
	rec = ts.Do(t, http.MethodPost, finish, FinishSessionRequest{Status: "completed"}, user)
	AssertStatusCode(t, rec.Code, http.StatusOK)
	var done db.PomodoroSession
	DecodeJSON(t, rec, &done)
	if done.Status != db.SessionSkipped || done.EndTime == nil {
		t.Errorf("Expected an early finish to be skipped, got %+v", done)
	}

	rec = ts.Do(t, http.MethodPost, finish, FinishSessionRequest{Status: "completed"}, user)
	AssertError(t, rec, http.StatusConflict, "already finished", "conflict")

	rec = ts.Do(t, http.MethodPost, "/api/pomodoro/sessions/start", StartSessionRequest{Type: "break"}, user)
	AssertStatusCode(t, rec.Code, http.StatusCreated)
}

func TestHandlePomodoroStats(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	user := ts.CreateTestUser(t, "user@example.com", "password123")

	now := time.Now().UTC()
	for _, s := range []struct {
		typ, status string
		minutes     int
	}{
		{"focus", "completed", 25},
		{"focus", "skipped", 10},
		{"break", "completed", 5},
	} {
		start := now.Add(-time.Duration(s.minutes+1) * time.Minute)
		end := start.Add(time.Duration(s.minutes) * time.Minute)
		rec := ts.Do(t, http.MethodPost, "/api/pomodoro/sessions", RecordSessionRequest{
			Type: s.typ, Status: s.status, StartTime: start, EndTime: &end,
		}, user)
		AssertStatusCode(t, rec.Code, http.StatusCreated)
	}

	rec := ts.Do(t, http.MethodGet, "/api/pomodoro/stats?days=2", nil, user)
	AssertStatusCode(t, rec.Code, http.StatusOK)

	var stats PomodoroStats
	DecodeJSON(t, rec, &stats)
	if stats.FocusCompleted != 1 || stats.FocusSkipped != 1 || stats.BreaksCompleted != 1 {
		t.Errorf("Unexpected counts: %+v", stats)
	}
	if stats.FocusMinutes < 34.9 || stats.FocusMinutes > 35.1 {
		t.Errorf("Expected 35 focus minutes, got %v", stats.FocusMinutes)
	}

	rec = ts.Do(t, http.MethodGet, "/api/pomodoro/sessions", nil, user)
	AssertStatusCode(t, rec.Code, http.StatusOK)
	var sessions []db.PomodoroSession
	DecodeJSON(t, rec, &sessions)
	if len(sessions) != 3 {
		t.Errorf("Expected 3 sessions, got %d", len(sessions))
	}

	rec = ts.Do(t, http.MethodGet, "/api/pomodoro/stats?days=365", nil, user)
	AssertError(t, rec, http.StatusBadRequest, "days must be between 1 and 90", "validation_error")
}
