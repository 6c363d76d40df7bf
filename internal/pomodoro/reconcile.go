package pomodoro

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"trackflow/internal/db"
)

// DayFormat is the layout of rollup day keys.
const DayFormat = "2006-01-02"

// Store is the persistence Reconcile needs. Both *db.DB and *db.Tx satisfy
// it.
type Store interface {
	ListPomodoroSessions(ctx context.Context, userID string, from, to time.Time) ([]db.PomodoroSession, error)
	DeletePomodoroDaily(ctx context.Context, fromDay, toDay string) (int64, error)
	UpsertPomodoroDaily(ctx context.Context, d *db.PomodoroDaily) error
	ListPomodoroTimeLogs(ctx context.Context, from, to time.Time) ([]db.TimeLog, error)
	SetTimeLogPomodoroSessions(ctx context.Context, id string, sessions int) error
}

// Result summarises a reconcile run.
type Result struct {
	From            string `json:"from"`
	To              string `json:"to"`
	Sessions        int    `json:"sessions"`
	DailyRows       int    `json:"dailyRows"`
	TimeLogsUpdated int    `json:"timeLogsUpdated"`
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type dayKey struct {
	user string
	day  string
}

// Summarize folds finished sessions into per-user, per-day rows. Running
// sessions are ignored.
func Summarize(sessions []db.PomodoroSession) []db.PomodoroDaily {
	rows := make(map[dayKey]*db.PomodoroDaily)
	for i := range sessions {
		s := &sessions[i]
		if s.Status == db.SessionRunning {
			continue
		}
		k := dayKey{s.UserID, s.StartTime.UTC().Format(DayFormat)}
		row, ok := rows[k]
		if !ok {
			row = &db.PomodoroDaily{UserID: k.user, Day: k.day}
			rows[k] = row
		}

		switch {
		case s.Type == db.SessionFocus && s.Status == db.SessionCompleted:
			row.FocusCompleted++
			row.FocusMinutes += s.Duration().Minutes()
		case s.Type == db.SessionFocus:
			row.FocusSkipped++
			row.FocusMinutes += s.Duration().Minutes()
		case s.Status == db.SessionCompleted:
			row.BreaksCompleted++
		default:
			row.BreaksSkipped++
		}
	}

	out := make([]db.PomodoroDaily, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Reconcile rebuilds the daily rollup for the UTC days from..to inclusive
// from the session log, then corrects the session count stored on each
// pomodoro time log in that range. A log gets the completed focus sessions
// of its user, day and task; when none of that day's sessions name a task
// and the log is the user's only pomodoro log that day, it gets the day's
// total.
func Reconcile(ctx context.Context, store Store, from, to time.Time, logger *zap.Logger) (*Result, error) {
	start := Day(from)
	end := Day(to).AddDate(0, 0, 1)
	if !end.After(start) {
		return nil, fmt.Errorf("reconcile range is empty: %s..%s", from, to)
	}
	res := &Result{From: start.Format(DayFormat), To: end.AddDate(0, 0, -1).Format(DayFormat)}

	sessions, err := store.ListPomodoroSessions(ctx, "", start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	res.Sessions = len(sessions)

	if _, err := store.DeletePomodoroDaily(ctx, res.From, res.To); err != nil {
		return nil, fmt.Errorf("failed to clear daily rollup: %w", err)
	}
	rows := Summarize(sessions)
	for i := range rows {
		if err := store.UpsertPomodoroDaily(ctx, &rows[i]); err != nil {
			return nil, fmt.Errorf("failed to write daily rollup: %w", err)
		}
	}
	res.DailyRows = len(rows)

	logs, err := store.ListPomodoroTimeLogs(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list time logs: %w", err)
	}

	byTask := make(map[dayKey]map[string]int)
	byDay := make(map[dayKey]int)
	tagged := make(map[dayKey]bool)
	for _, s := range sessions {
		if s.Type != db.SessionFocus || s.Status != db.SessionCompleted {
			continue
		}
		k := dayKey{s.UserID, s.StartTime.UTC().Format(DayFormat)}
		byDay[k]++
		if s.TaskID != "" {
			tagged[k] = true
			if byTask[k] == nil {
				byTask[k] = make(map[string]int)
			}
			byTask[k][s.TaskID]++
		}
	}
	logsPerDay := make(map[dayKey]int)
	for _, l := range logs {
		logsPerDay[dayKey{l.UserID, l.Date.UTC().Format(DayFormat)}]++
	}

	for _, l := range logs {
		k := dayKey{l.UserID, l.Date.UTC().Format(DayFormat)}
		want := byTask[k][l.TaskID]
		if !tagged[k] && logsPerDay[k] == 1 {
			want = byDay[k]
		}
		if want == l.PomodoroSessions {
			continue
		}
		if err := store.SetTimeLogPomodoroSessions(ctx, l.ID, want); err != nil {
			return nil, fmt.Errorf("failed to update time log %s: %w", l.ID, err)
		}
		res.TimeLogsUpdated++
	}

	logger.Info("Pomodoro reconcile finished",
		zap.String("from", res.From),
		zap.String("to", res.To),
		zap.Int("sessions", res.Sessions),
		zap.Int("daily_rows", res.DailyRows),
		zap.Int("timelogs_updated", res.TimeLogsUpdated))
	return res, nil
}
