package api

import (
	"context"
	"encoding/csv"
	"net/http"
	"strings"
	"testing"
	"time"

	"trackflow/internal/db"
)

func TestTimeLogRoundTrip(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	owner := ts.CreateTestUser(t, "owner@example.com", "password123")
	project := ts.CreateTestProject(t, owner, "Apollo")
	task := ts.CreateTestTask(t, project, owner, "Measure")

	date := time.Date(2026, 3, 14, 9, 30, 0, 0, time.FixedZone("CET", 3600))
	rec := ts.Do(t, http.MethodPost, "/api/tasks/"+task.ID+"/timelog", CreateTimeLogRequest{
		Hours: 2.5, Date: &date, Description: "pairing",
	}, owner)
	AssertStatusCode(t, rec.Code, http.StatusCreated)

	rec = ts.Do(t, http.MethodGet, "/api/tasks/"+task.ID+"/timelog", nil, owner)
	AssertStatusCode(t, rec.Code, http.StatusOK)

	var logs []db.TimeLog
	DecodeJSON(t, rec, &logs)
	if len(logs) != 1 {
		t.Fatalf("Expected 1 time log, got %d", len(logs))
	}
	if logs[0].Hours != 2.5 {
		t.Errorf("Expected hours 2.5, got %v", logs[0].Hours)
	}
	if !logs[0].Date.Equal(date) {
		t.Errorf("Expected date %v, got %v", date, logs[0].Date)
	}

	got, err := ts.DB.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.ActualHours != 2.5 {
		t.Errorf("Expected task actual hours 2.5, got %v", got.ActualHours)
	}
}

func TestHandleCreateTimeLog_Validation(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	owner := ts.CreateTestUser(t, "owner@example.com", "password123")
	project := ts.CreateTestProject(t, owner, "Apollo")
	task := ts.CreateTestTask(t, project, owner, "Measure")
	other := ts.CreateTestTask(t, project, owner, "Other")
	sub := &db.Subtask{TaskID: other.ID, Title: "Elsewhere"}
	if err := ts.DB.CreateSubtask(context.Background(), sub); err != nil {
		t.Fatalf("CreateSubtask failed: %v", err)
	}

	tests := []struct {
		name      string
		body      CreateTimeLogRequest
		wantError string
	}{
		{"zero hours", CreateTimeLogRequest{Hours: 0}, "hours must be greater than 0"},
		{"more than a day", CreateTimeLogRequest{Hours: 25}, "hours must be at most 24"},
		{"subtask of another task", CreateTimeLogRequest{Hours: 1, SubtaskID: sub.ID}, "subtask does not belong to this task"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.Do(t, http.MethodPost, "/api/tasks/"+task.ID+"/timelog", tt.body, owner)
			AssertError(t, rec, http.StatusBadRequest, tt.wantError, "validation_error")
		})
	}
}

func TestHandleDeleteTimeLog(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()
	ctx := context.Background()

	owner := ts.CreateTestUser(t, "owner@example.com", "password123")
	member := ts.CreateTestUser(t, "member@example.com", "password123")
	project := ts.CreateTestProject(t, owner, "Apollo", member.ID)
	task := ts.CreateTestTask(t, project, owner, "Measure")

	entry := &db.TimeLog{TaskID: task.ID, ProjectID: project.ID, UserID: owner.ID, Hours: 3, Date: time.Now()}
	if err := ts.DB.CreateTimeLog(ctx, entry); err != nil {
		t.Fatalf("CreateTimeLog failed: %v", err)
	}

	rec := ts.Do(t, http.MethodDelete, "/api/tasks/"+task.ID+"/timelog", nil, owner)
	AssertError(t, rec, http.StatusBadRequest, "id is required", "validation_error")

	rec = ts.Do(t, http.MethodDelete, "/api/tasks/"+task.ID+"/timelog?id="+entry.ID, nil, member)
	AssertError(t, rec, http.StatusForbidden, "your own time logs", "forbidden")

	rec = ts.Do(t, http.MethodDelete, "/api/tasks/"+task.ID+"/timelog?id="+entry.ID, nil, owner)
	AssertStatusCode(t, rec.Code, http.StatusOK)

	if _, err := ts.DB.GetTimeLog(ctx, entry.ID); err == nil {
		t.Error("Expected time log to be deleted")
	}
}

func TestHandleListTimeLogs_DateRange(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()
	ctx := context.Background()

	owner := ts.CreateTestUser(t, "owner@example.com", "password123")
	project := ts.CreateTestProject(t, owner, "Apollo")
	task := ts.CreateTestTask(t, project, owner, "Measure")

	for _, d := range []time.Time{
		time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC),
		time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC),
	} {
		if err := ts.DB.CreateTimeLog(ctx, &db.TimeLog{TaskID: task.ID, ProjectID: project.ID, UserID: owner.ID, Hours: 1, Date: d}); err != nil {
			t.Fatalf("CreateTimeLog failed: %v", err)
		}
	}

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantCount  int
	}{
		{"no range", "", http.StatusOK, 3},
		{"to is inclusive for dates", "?from=2026-03-01&to=2026-03-02", http.StatusOK, 2},
		{"from only", "?from=2026-03-03", http.StatusOK, 1},
		{"user me", "?user=me", http.StatusOK, 3},
		{"bad date", "?from=yesterday", http.StatusBadRequest, 0},
		{"inverted range", "?from=2026-03-05&to=2026-03-01", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.Do(t, http.MethodGet, "/api/timelogs"+tt.query, nil, owner)
			AssertStatusCode(t, rec.Code, tt.wantStatus)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var logs []db.TimeLog
			DecodeJSON(t, rec, &logs)
			if len(logs) != tt.wantCount {
				t.Errorf("Expected %d time logs, got %d", tt.wantCount, len(logs))
			}
		})
	}

	outsider := ts.CreateTestUser(t, "outsider@example.com", "password123")
	rec := ts.Do(t, http.MethodGet, "/api/timelogs", nil, outsider)
	AssertStatusCode(t, rec.Code, http.StatusOK)
	var none []db.TimeLog
	DecodeJSON(t, rec, &none)
	if len(none) != 0 {
		t.Errorf("Expected outsider to see no time logs, got %d", len(none))
	}
}

func TestHandleExportTimeLogs(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	owner := ts.CreateTestUser(t, "owner@example.com", "password123")
	project := ts.CreateTestProject(t, owner, "Apollo")
	task := ts.CreateTestTask(t, project, owner, "Measure")

	date := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	rec := ts.Do(t, http.MethodPost, "/api/tasks/"+task.ID+"/timelog", CreateTimeLogRequest{
		Hours: 1.25, Date: &date, Description: "review, then fix",
	}, owner)
	AssertStatusCode(t, rec.Code, http.StatusCreated)

	rec = ts.Do(t, http.MethodGet, "/api/timelogs/export", nil, owner)
	AssertStatusCode(t, rec.Code, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Expected CSV content type, got %q", ct)
	}

	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected header and 1 row, got %d rows", len(rows))
	}
	want := []string{"2026-03-14", "owner", "Apollo", "Measure", "", "1.25", "review, then fix", "0", "false"}
	for i, v := range want {
		if rows[1][i] != v {
			t.Errorf("Column %s: expected %q, got %q", rows[0][i], v, rows[1][i])
		}
	}

	rec = ts.Do(t, http.MethodGet, "/api/timelogs/export?from=2020-01-01&to=2020-01-31", nil, owner)
	AssertStatusCode(t, rec.Code, http.StatusOK)
	rows, err = csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV: %v", err)
	}
	if len(rows) != 1 || rows[0][0] != "date" {
		t.Errorf("Expected only the header for an empty range, got %v", rows)
	}
}

func TestHandleApproveTimeLog(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()
	ctx := context.Background()

	owner := ts.CreateTestUser(t, "owner@example.com", "password123")
	member := ts.CreateTestUser(t, "member@example.com", "password123")
	project := ts.CreateTestProject(t, owner, "Apollo", member.ID)
	task := ts.CreateTestTask(t, project, owner, "Measure")

	entry := &db.TimeLog{TaskID: task.ID, ProjectID: project.ID, UserID: member.ID, Hours: 2, Date: time.Now()}
	if err := ts.DB.CreateTimeLog(ctx, entry); err != nil {
		t.Fatalf("CreateTimeLog failed: %v", err)
	}
	path := "/api/timelogs/" + entry.ID + "/approve"

	rec := ts.Do(t, http.MethodPost, path, nil, member)
	AssertError(t, rec, http.StatusForbidden, "cannot approve", "forbidden")

	rec = ts.Do(t, http.MethodPost, path, nil, owner)
	AssertStatusCode(t, rec.Code, http.StatusOK)
	var approved db.TimeLog
	DecodeJSON(t, rec, &approved)
	if !approved.Approved || approved.ApprovedBy != owner.ID || approved.ApprovedAt == nil {
		t.Errorf("Unexpected approved entry: %+v", approved)
	}

	rec = ts.Do(t, http.MethodPost, path, nil, owner)
	AssertError(t, rec, http.StatusConflict, "already approved", "conflict")
}

func TestTimeLogRequestsApprovalFromTeamLeader(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()
	ctx := context.Background()

	leader := ts.CreateTestUser(t, "leader@example.com", "password123")
	member := ts.CreateTestUser(t, "member@example.com", "password123")
	team := &db.Team{Name: "Platform", CreatedBy: leader.ID}
	if err := ts.DB.CreateTeam(ctx, team); err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}
	if err := ts.DB.AddTeamMember(ctx, team.ID, member.ID, db.TeamRoleMember); err != nil {
		t.Fatalf("AddTeamMember failed: %v", err)
	}

	project := ts.CreateTestProject(t, member, "Side project")
	task := ts.CreateTestTask(t, project, member, "Measure")
	rec := ts.Do(t, http.MethodPost, "/api/tasks/"+task.ID+"/timelog", CreateTimeLogRequest{Hours: 1}, member)
	AssertStatusCode(t, rec.Code, http.StatusCreated)
	var entry db.TimeLog
	DecodeJSON(t, rec, &entry)

	notes, err := ts.DB.ListNotifications(ctx, leader.ID, true, 10)
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(notes) != 1 || notes[0].Type != db.NotifyTimeApproval {
		t.Fatalf("Expected one time approval notification, got %+v", notes)
	}

	// The leader is neither admin nor project owner but may approve.
	rec = ts.Do(t, http.MethodPost, "/api/timelogs/"+entry.ID+"/approve", nil, leader)
	AssertStatusCode(t, rec.Code, http.StatusOK)
}

func TestTimeLogApprovalReachesEveryTeamLeader(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()
	ctx := context.Background()

	leadA := ts.CreateTestUser(t, "lead-a@example.com", "password123")
	leadB := ts.CreateTestUser(t, "lead-b@example.com", "password123")
	author := ts.CreateTestUser(t, "author@example.com", "password123")
	for _, team := range []*db.Team{ts.createTeam(t, leadA, "Alpha"), ts.createTeam(t, leadB, "Beta")} {
		if err := ts.DB.AddTeamMember(ctx, team.ID, author.ID, db.TeamRoleMember); err != nil {
			t.Fatalf("AddTeamMember failed: %v", err)
		}
	}

	project := ts.CreateTestProject(t, author, "Apollo")
	task := ts.CreateTestTask(t, project, author, "Measure")
	rec := ts.Do(t, http.MethodPost, "/api/tasks/"+task.ID+"/timelog", CreateTimeLogRequest{Hours: 1}, author)
	AssertStatusCode(t, rec.Code, http.StatusCreated)

	for _, lead := range []*db.User{leadA, leadB} {
		notes, err := ts.DB.ListNotifications(ctx, lead.ID, true, 10)
		if err != nil {
			t.Fatalf("ListNotifications failed: %v", err)
		}
		found := false
		for _, n := range notes {
			found = found || n.Type == db.NotifyTimeApproval
		}
		if !found {
			t.Errorf("Expected %s to get an approval request, got %+v", lead.Email, notes)
		}
	}
}
