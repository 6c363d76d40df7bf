package db

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"trackflow/internal/apperr"
)

func TestCreateUser_EmailCaseInsensitiveConflict(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := &User{Name: "A", Email: "A@X.com", PasswordHash: "h"}
	if err := db.CreateUser(ctx, first); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if first.Email != "a@x.com" {
		t.Errorf("Expected stored email to be lowercased, got %q", first.Email)
	}
	if first.Role != RoleMember {
		t.Errorf("Expected default role member, got %q", first.Role)
	}

	err := db.CreateUser(ctx, &User{Name: "B", Email: "a@X.COM", PasswordHash: "h"})
	if !apperr.IsConflict(err) {
		t.Fatalf("Expected conflict, got %v", err)
	}

	users, err := db.ListUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 {
		t.Errorf("Expected exactly one user, got %d", len(users))
	}
}

func TestUpdateUser_Preferences(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	id := createTestUser(t, db, "prefs@example.com")

	name := "Renamed"
	prefs := DefaultNotificationPreferences()
	prefs.Email = false
	u, err := db.UpdateUser(ctx, id, UserUpdate{Name: &name, NotificationPreferences: &prefs})
	if err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	if u.Name != "Renamed" || u.NotificationPreferences.Email || !u.NotificationPreferences.Mentions {
		t.Errorf("Unexpected user after update: %+v", u)
	}

	if _, err := db.UpdateUser(ctx, "missing", UserUpdate{Name: &name}); !apperr.IsNotFound(err) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestTouchLogin(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	id := createTestUser(t, db, "login@example.com")

	at, err := db.TouchLogin(ctx, id)
	if err != nil {
		t.Fatalf("TouchLogin failed: %v", err)
	}
	u, err := db.GetUserByID(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if u.LastLogin == nil || !u.LastLogin.Equal(at) {
		t.Errorf("LastLogin = %v, want %v", u.LastLogin, at)
	}
}

func seedProject(t *testing.T, db *DB, ownerID string, members ...string) *Project {
	t.Helper()
	p := &Project{Title: "Apollo", OwnerID: ownerID, Members: members}
	if err := db.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	return p
}

func seedTask(t *testing.T, db *DB, projectID, creatorID, status string) *Task {
	t.Helper()
	task := &Task{Title: "Task", ProjectID: projectID, CreatorID: creatorID, AssigneeID: creatorID, Status: status}
	if err := db.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	return task
}

func TestProjectMembers(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "owner@example.com")
	member := createTestUser(t, db, "member@example.com")
	outsider := createTestUser(t, db, "outsider@example.com")

	p := seedProject(t, db, owner, member, owner)
	got, err := db.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Members) != 2 || got.Members[0] != owner {
		t.Errorf("Members = %v, want owner first and no duplicates", got.Members)
	}

	mine, err := db.ListProjectsForUser(ctx, member)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 {
		t.Errorf("Expected member to see 1 project, got %d", len(mine))
	}
	theirs, err := db.ListProjectsForUser(ctx, outsider)
	if err != nil {
		t.Fatal(err)
	}
	if len(theirs) != 0 {
		t.Errorf("Expected outsider to see no projects, got %d", len(theirs))
	}

	if err := db.RemoveProjectMember(ctx, p.ID, member); err != nil {
		t.Fatal(err)
	}
	ok, err := db.IsProjectMember(ctx, p.ID, member)
	if err != nil || ok {
		t.Errorf("IsProjectMember after removal = %v, %v", ok, err)
	}
}

func TestDeleteProjectCascade(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "owner@example.com")
	p := seedProject(t, db, owner)
	other := seedProject(t, db, owner)

	const n = 3
	for i := 0; i < n; i++ {
		task := seedTask(t, db, p.ID, owner, TaskTodo)
		if err := db.CreateTimeLog(ctx, &TimeLog{TaskID: task.ID, ProjectID: p.ID, UserID: owner, Hours: 1, Date: time.Now()}); err != nil {
			t.Fatal(err)
		}
		if err := db.CreateSubtask(ctx, &Subtask{TaskID: task.ID, Title: "s"}); err != nil {
			t.Fatal(err)
		}
		if err := db.CreateComment(ctx, &Comment{TaskID: task.ID, AuthorID: owner, Content: "hi"}); err != nil {
			t.Fatal(err)
		}
		if err := db.CreateFile(ctx, &File{Category: "attachments", Filename: newID() + ".txt", OriginalName: "a.txt", MimeType: "text/plain", OwnerID: owner, TaskID: task.ID}); err != nil {
			t.Fatal(err)
		}
	}
	keep := seedTask(t, db, other.ID, owner, TaskTodo)

	files, err := db.DeleteProjectCascade(ctx, p.ID)
	if err != nil {
		t.Fatalf("DeleteProjectCascade failed: %v", err)
	}
	if len(files) != n {
		t.Errorf("Expected %d removed file records, got %d", n, len(files))
	}

	tasks, err := db.ListTasks(ctx, TaskFilter{ProjectID: p.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Errorf("Expected no tasks left, got %d", len(tasks))
	}

	for table, want := range map[string]int{"timelogs": 0, "subtasks": 0, "comments": 0, "files": 0, "project_members": 1, "tasks": 1} {
		var count int
		if err := db.GetContext(ctx, &count, "SELECT count(*) FROM "+table); err != nil {
			t.Fatal(err)
		}
		if count != want {
			t.Errorf("%s has %d rows, want %d", table, count, want)
		}
	}

	if _, err := db.GetTask(ctx, keep.ID); err != nil {
		t.Errorf("Unrelated task should survive: %v", err)
	}
	if _, err := db.GetProject(ctx, p.ID); !apperr.IsNotFound(err) {
		t.Errorf("Expected project to be gone, got %v", err)
	}
	if _, err := db.DeleteProjectCascade(ctx, p.ID); !apperr.IsNotFound(err) {
		t.Errorf("Expected not found on second delete, got %v", err)
	}
}

func TestUpdateTask_CompletedAt(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "owner@example.com")
	p := seedProject(t, db, owner)
	task := seedTask(t, db, p.ID, owner, TaskTodo)

	done, err := db.SetTaskStatus(ctx, task.ID, TaskCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if done.CompletedAt == nil {
		t.Error("Expected completed_at to be set")
	}

	reopened, err := db.SetTaskStatus(ctx, task.ID, TaskInProgress)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.CompletedAt != nil {
		t.Error("Expected completed_at to be cleared")
	}
}

func TestRecomputeProjectProgress(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "owner@example.com")
	p := seedProject(t, db, owner)

	seedTask(t, db, p.ID, owner, TaskCompleted)
	seedTask(t, db, p.ID, owner, TaskTodo)
	seedTask(t, db, p.ID, owner, TaskTodo)

	got, err := db.RecomputeProjectProgress(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Progress != 33 || got.Status != ProjectInProgress {
		t.Errorf("progress=%d status=%s, want 33 in-progress", got.Progress, got.Status)
	}

	onHold := ProjectOnHold
	if _, err := db.UpdateProject(ctx, p.ID, ProjectUpdate{Status: &onHold}); err != nil {
		t.Fatal(err)
	}
	got, err = db.RecomputeProjectProgress(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != ProjectOnHold {
		t.Errorf("Expected on-hold to be preserved, got %s", got.Status)
	}
}

func TestTimeLogRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "owner@example.com")
	p := seedProject(t, db, owner)
	task := seedTask(t, db, p.ID, owner, TaskTodo)

	date := time.Date(2026, 3, 14, 9, 30, 0, 0, time.FixedZone("EST", -5*3600))
	if err := db.CreateTimeLog(ctx, &TimeLog{TaskID: task.ID, ProjectID: p.ID, UserID: owner, Hours: 2.5, Date: date}); err != nil {
		t.Fatal(err)
	}

	logs, err := db.ListTimeLogs(ctx, TimeLogFilter{TaskID: task.ID, UserID: owner})
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("Expected 1 log, got %d", len(logs))
	}
	if logs[0].Hours != 2.5 {
		t.Errorf("Hours = %v, want 2.5", logs[0].Hours)
	}
	if !logs[0].Date.Equal(date) {
		t.Errorf("Date = %v, want same instant as %v", logs[0].Date, date)
	}

	total, err := db.RecomputeTaskHours(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2.5 {
		t.Errorf("RecomputeTaskHours = %v, want 2.5", total)
	}
}

func TestNotificationRefDedupe(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "n@example.com")

	n := func() *Notification {
		return &Notification{UserID: user, Type: NotifyDeadlineReminder, Title: "Due soon", RefID: "task-1:2026-03-14"}
	}
	if err := db.CreateNotification(ctx, n()); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateNotification(ctx, n()); !apperr.IsConflict(err) {
		t.Errorf("Expected conflict for duplicate ref, got %v", err)
	}
	if err := db.CreateNotification(ctx, &Notification{UserID: user, Type: NotifyMention, Title: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateNotification(ctx, &Notification{UserID: user, Type: NotifyMention, Title: "b"}); err != nil {
		t.Errorf("Notifications without ref must not collide: %v", err)
	}

	unread, err := db.CountUnreadNotifications(ctx, user)
	if err != nil || unread != 3 {
		t.Fatalf("unread = %d, %v; want 3", unread, err)
	}
	if changed, err := db.MarkAllNotificationsRead(ctx, user); err != nil || changed != 3 {
		t.Errorf("MarkAllNotificationsRead = %d, %v", changed, err)
	}
}

func TestTeamsAndRequests(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	leader := createTestUser(t, db, "leader@example.com")
	member := createTestUser(t, db, "member@example.com")

	team := &Team{Name: "Core", CreatedBy: leader}
	if err := db.CreateTeam(ctx, team); err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}
	if ok, err := db.IsTeamLeader(ctx, team.ID, leader); err != nil || !ok {
		t.Fatalf("creator should lead the team: %v %v", ok, err)
	}
	u, _ := db.GetUserByID(ctx, leader)
	if u.TeamRole != TeamRoleLeader {
		t.Errorf("TeamRole = %q, want team_leader", u.TeamRole)
	}

	if _, err := db.GetUserTeamID(ctx, member); !apperr.IsNotFound(err) {
		t.Errorf("Expected not found for user without team, got %v", err)
	}

	req := &JoinRequest{TeamID: team.ID, UserID: member}
	if err := db.CreateJoinRequest(ctx, req); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateJoinRequest(ctx, &JoinRequest{TeamID: team.ID, UserID: member}); !apperr.IsConflict(err) {
		t.Errorf("Expected conflict for second pending request, got %v", err)
	}
	if err := db.RespondJoinRequest(ctx, req.ID, StatusAccepted, leader); err != nil {
		t.Fatal(err)
	}
	if err := db.RespondJoinRequest(ctx, req.ID, StatusDeclined, leader); !apperr.IsConflict(err) {
		t.Errorf("Expected conflict answering twice, got %v", err)
	}

	if err := db.AddTeamMember(ctx, team.ID, member, TeamRoleMember); err != nil {
		t.Fatal(err)
	}
	teamID, err := db.GetUserTeamID(ctx, member)
	if err != nil || teamID != team.ID {
		t.Errorf("GetUserTeamID = %q, %v", teamID, err)
	}
	mates, err := db.ListTeammateIDs(ctx, member)
	if err != nil || len(mates) != 2 {
		t.Errorf("ListTeammateIDs = %v, %v", mates, err)
	}
	if ok, _ := db.LeadsTeamOf(ctx, leader, member); !ok {
		t.Error("Expected leader to lead member's team")
	}

	if err := db.RemoveTeamMember(ctx, team.ID, member); err != nil {
		t.Fatal(err)
	}
	u, _ = db.GetUserByID(ctx, member)
	if u.TeamRole != "" {
		t.Errorf("Expected team role to be cleared, got %q", u.TeamRole)
	}
}

func TestListLeadersOf(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	lead1 := createTestUser(t, db, "lead1@example.com")
	lead2 := createTestUser(t, db, "lead2@example.com")
	member := createTestUser(t, db, "member@example.com")

	if leaders, err := db.ListLeadersOf(ctx, member); err != nil || len(leaders) != 0 {
		t.Fatalf("ListLeadersOf without a team = %v, %v", leaders, err)
	}

	for _, tm := range []struct{ name, leader string }{{"Alpha", lead1}, {"Beta", lead2}} {
		team := &Team{Name: tm.name, CreatedBy: tm.leader}
		if err := db.CreateTeam(ctx, team); err != nil {
			t.Fatal(err)
		}
		if err := db.AddTeamMember(ctx, team.ID, member, TeamRoleMember); err != nil {
			t.Fatal(err)
		}
		if err := db.AddTeamMember(ctx, team.ID, lead1, TeamRoleLeader); err != nil && !apperr.IsConflict(err) {
			t.Fatal(err)
		}
	}

	leaders, err := db.ListLeadersOf(ctx, member)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(leaders)
	want := []string{lead1, lead2}
	sort.Strings(want)
	if strings.Join(leaders, ",") != strings.Join(want, ",") {
		t.Errorf("ListLeadersOf = %v, want %v", leaders, want)
	}
}

func TestInvitations(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	leader := createTestUser(t, db, "leader@example.com")
	team := &Team{Name: "Core", CreatedBy: leader}
	if err := db.CreateTeam(ctx, team); err != nil {
		t.Fatal(err)
	}

	inv := &TeamInvitation{TeamID: team.ID, Email: "New@Example.com", InvitedBy: leader}
	if err := db.CreateInvitation(ctx, inv); err != nil {
		t.Fatalf("CreateInvitation failed: %v", err)
	}
	if inv.Token == "" || inv.Status != StatusPending {
		t.Errorf("Unexpected invitation %+v", inv)
	}
	if err := db.CreateInvitation(ctx, &TeamInvitation{TeamID: team.ID, Email: "new@example.com", InvitedBy: leader}); !apperr.IsConflict(err) {
		t.Errorf("Expected conflict for duplicate pending invitation, got %v", err)
	}

	byToken, err := db.GetInvitationByToken(ctx, inv.Token)
	if err != nil || byToken.ID != inv.ID {
		t.Fatalf("GetInvitationByToken = %v, %v", byToken, err)
	}
	pending, err := db.ListPendingInvitationsForEmail(ctx, "new@example.com")
	if err != nil || len(pending) != 1 {
		t.Errorf("pending = %d, %v", len(pending), err)
	}
	if err := db.RespondInvitation(ctx, inv.ID, StatusAccepted); err != nil {
		t.Fatal(err)
	}
	if err := db.RespondInvitation(ctx, inv.ID, StatusDeclined); !apperr.IsConflict(err) {
		t.Errorf("Expected conflict, got %v", err)
	}
}

func TestPomodoroDailyUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "p@example.com")

	d := &PomodoroDaily{UserID: user, Day: "2026-03-14", FocusCompleted: 2, FocusMinutes: 50}
	if err := db.UpsertPomodoroDaily(ctx, d); err != nil {
		t.Fatal(err)
	}
	d.FocusCompleted = 4
	d.FocusMinutes = 100
	if err := db.UpsertPomodoroDaily(ctx, d); err != nil {
		t.Fatal(err)
	}

	rows, err := db.ListPomodoroDaily(ctx, user, "2026-03-01", "2026-03-31")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].FocusCompleted != 4 || rows[0].FocusMinutes != 100 {
		t.Errorf("rows = %+v", rows)
	}
}

func TestFinishPomodoroSession(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "p@example.com")

	start := time.Now().Add(-25 * time.Minute)
	s := &PomodoroSession{UserID: user, Type: SessionFocus, Status: SessionRunning, Source: SourceServer, StartTime: start}
	if err := db.CreatePomodoroSession(ctx, s); err != nil {
		t.Fatal(err)
	}

	done, err := db.FinishPomodoroSession(ctx, s.ID, SessionCompleted, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != SessionCompleted || done.Duration() < 24*time.Minute {
		t.Errorf("Unexpected finished session %+v", done)
	}
	if _, err := db.FinishPomodoroSession(ctx, s.ID, SessionSkipped, time.Now()); !apperr.IsConflict(err) {
		t.Errorf("Expected conflict finishing twice, got %v", err)
	}
}
