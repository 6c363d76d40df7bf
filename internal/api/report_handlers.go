package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"trackflow/internal/db"
	"trackflow/internal/pomodoro"
)

const dashboardDays = 7

// DayValue is one point of a per-day series
type DayValue struct {
	Day   string  `json:"day"`
	Value float64 `json:"value"`
}

// DashboardResponse is the signed-in user's overview
type DashboardResponse struct {
	ProjectsByStatus    map[string]int `json:"projectsByStatus"`
	MyTasksByStatus     map[string]int `json:"myTasksByStatus"`
	OverdueTasks        int            `json:"overdueTasks"`
	UnreadNotifications int            `json:"unreadNotifications"`
	HoursPerDay         []DayValue     `json:"hoursPerDay"`
	FocusSessionsPerDay []DayValue     `json:"focusSessionsPerDay"`
}

// MemberHours is the time one member logged on a project
type MemberHours struct {
	UserID string  `json:"user"`
	Name   string  `json:"name"`
	Hours  float64 `json:"hours"`
}

// ProjectReport summarises a project's tasks, time and schedule
type ProjectReport struct {
	ProjectID        string         `json:"project"`
	Title            string         `json:"title"`
	Progress         int            `json:"progress"`
	TasksByStatus    map[string]int `json:"tasksByStatus"`
	TotalTasks       int            `json:"totalTasks"`
	EstimatedHours   float64        `json:"estimatedHours"`
	ActualHours      float64        `json:"actualHours"`
	HoursByMember    []MemberHours  `json:"hoursByMember"`
	DueDate          *time.Time     `json:"dueDate,omitempty"`
	BusinessDaysLeft *int           `json:"businessDaysLeft,omitempty"`
	Overdue          bool           `json:"overdue"`
	HolidayCountry   string         `json:"holidayCountry"`
}

// HandleDashboard returns the caller's dashboard figures
func (s *Server) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	now := time.Now().UTC()
	today := pomodoro.Day(now)
	from := today.AddDate(0, 0, -(dashboardDays - 1))
	to := today.AddDate(0, 0, 1)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	ids, err := s.visibleProjectIDs(ctx, user)
	if err != nil {
		s.respondAppError(w, err, "failed to load dashboard")
		return
	}

	var resp DashboardResponse
	if resp.ProjectsByStatus, err = s.db.CountProjectsByStatus(ctx, ids); err != nil {
		s.respondAppError(w, err, "failed to load dashboard")
		return
	}
	if resp.MyTasksByStatus, err = s.db.CountAssignedTasksByStatus(ctx, user.ID); err != nil {
		s.respondAppError(w, err, "failed to load dashboard")
		return
	}
	if resp.OverdueTasks, err = s.db.CountOverdueTasks(ctx, user.ID, now); err != nil {
		s.respondAppError(w, err, "failed to load dashboard")
		return
	}
	if resp.UnreadNotifications, err = s.db.CountUnreadNotifications(ctx, user.ID); err != nil {
		s.respondAppError(w, err, "failed to load dashboard")
		return
	}

	logs, err := s.db.ListTimeLogs(ctx, db.TimeLogFilter{UserID: user.ID, From: from, To: to})
	if err != nil {
		s.respondAppError(w, err, "failed to load dashboard")
		return
	}
	hours := make(map[string]float64, dashboardDays)
	for _, l := range logs {
		hours[l.Date.UTC().Format(pomodoro.DayFormat)] += l.Hours
	}

	sessions, err := s.db.ListPomodoroSessions(ctx, user.ID, from, to)
	if err != nil {
		s.respondAppError(w, err, "failed to load dashboard")
		return
	}
	focus := make(map[string]float64, dashboardDays)
	for _, d := range pomodoro.Summarize(sessions) {
		focus[d.Day] = float64(d.FocusCompleted)
	}

	resp.HoursPerDay = daySeries(from, dashboardDays, hours)
	resp.FocusSessionsPerDay = daySeries(from, dashboardDays, focus)
	respondJSON(w, http.StatusOK, resp)
}

// HandleProjectReport returns task, time and schedule figures for a project
func (s *Server) HandleProjectReport(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	project, err := s.projectFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to load project report")
		return
	}

	report := ProjectReport{
		ProjectID:      project.ID,
		Title:          project.Title,
		Progress:       project.Progress,
		DueDate:        project.DueDate,
		HolidayCountry: s.calendar.Country,
		HoursByMember:  []MemberHours{},
	}
	if report.TasksByStatus, err = s.db.CountTasksByStatus(ctx, project.ID); err != nil {
		s.respondAppError(w, err, "failed to load project report")
		return
	}

	tasks, err := s.db.ListTasks(ctx, db.TaskFilter{ProjectID: project.ID})
	if err != nil {
		s.respondAppError(w, err, "failed to load project report")
		return
	}
	report.TotalTasks = len(tasks)
	for _, t := range tasks {
		report.EstimatedHours += t.EstimatedHours
		report.ActualHours += t.ActualHours
	}

	perUser, err := s.db.SumProjectHoursByUser(ctx, project.ID)
	if err != nil {
		s.respondAppError(w, err, "failed to load project report")
		return
	}
	ids := make([]string, 0, len(perUser))
	for _, h := range perUser {
		ids = append(ids, h.UserID)
	}
	users, err := s.db.ListUsersByIDs(ctx, ids)
	if err != nil {
		s.respondAppError(w, err, "failed to load project report")
		return
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}
	for _, h := range perUser {
		report.HoursByMember = append(report.HoursByMember, MemberHours{UserID: h.UserID, Name: names[h.UserID], Hours: h.Hours})
	}

	if project.DueDate != nil {
		now := time.Now().UTC()
		left := s.calendar.BusinessDays(now, *project.DueDate)
		report.BusinessDaysLeft = &left
		report.Overdue = project.Status != db.ProjectCompleted && now.After(*project.DueDate)
	}
	respondJSON(w, http.StatusOK, report)
}

// daySeries lays values out over n consecutive days from start, filling
// gaps with zero.
func daySeries(start time.Time, n int, values map[string]float64) []DayValue {
	out := make([]DayValue, 0, n)
	for i := range n {
		day := start.AddDate(0, 0, i).Format(pomodoro.DayFormat)
		out = append(out, DayValue{Day: day, Value: values[day]})
	}
	return out
}
