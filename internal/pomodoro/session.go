package pomodoro

import (
	"time"

	"trackflow/internal/apperr"
	"trackflow/internal/db"
)

const (
	// MaxSession bounds a single recorded interval.
	MaxSession = 4 * time.Hour
	// ClockSkew is how far in the future a client end time may lie.
	ClockSkew = time.Minute
)

// ValidateReported checks a session reported by a client. It cannot prove
// the client's timer was honest, only that the record is plausible.
func ValidateReported(s *db.PomodoroSession, now time.Time) error {
	switch s.Type {
	case db.SessionFocus, db.SessionBreak:
	default:
		return apperr.Validation("type must be focus or break")
	}
	switch s.Status {
	case db.SessionCompleted, db.SessionSkipped:
	default:
		return apperr.Validation("status must be completed or skipped")
	}
	if s.StartTime.IsZero() || s.EndTime == nil || s.EndTime.IsZero() {
		return apperr.Validation("startTime and endTime are required")
	}
	if !s.EndTime.After(s.StartTime) {
		return apperr.Validation("endTime must be after startTime")
	}
	if s.EndTime.After(now.Add(ClockSkew)) {
		return apperr.Validation("endTime is in the future")
	}
	if s.EndTime.Sub(s.StartTime) > MaxSession {
		return apperr.Validation("session is longer than 4 hours")
	}
	return nil
}

// Finish closes a server-timed session at now. A focus session cut short of
// its planned length counts as skipped whatever the client asked for.
func Finish(cfg Config, s *db.PomodoroSession, requested string, now time.Time) (string, error) {
	if s.Status != db.SessionRunning {
		return "", apperr.Conflict("pomodoro session is already finished")
	}
	if requested != db.SessionCompleted && requested != db.SessionSkipped {
		return "", apperr.Validation("status must be completed or skipped")
	}
	if requested == db.SessionCompleted && now.Sub(s.StartTime) < cfg.Expected(s.Type)-ClockSkew {
		return db.SessionSkipped, nil
	}
	return requested, nil
}
