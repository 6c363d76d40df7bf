// Package pomodoro holds the focus/break timer, the checks applied to
// client-reported sessions and the daily rollup rebuilt from the session log.
package pomodoro

import (
	"time"

	"trackflow/internal/db"
)

// Config sets the interval lengths.
type Config struct {
	Focus          time.Duration
	ShortBreak     time.Duration
	LongBreak      time.Duration
	LongBreakEvery int
}

// DefaultConfig is 25/5 with a 15 minute break after every fourth focus.
func DefaultConfig() Config {
	return Config{
		Focus:          25 * time.Minute,
		ShortBreak:     5 * time.Minute,
		LongBreak:      15 * time.Minute,
		LongBreakEvery: 4,
	}
}

// Transition is emitted whenever an interval ends, either because it ran
// out or because it was skipped.
type Transition struct {
	Mode    string // the interval that ended
	Status  string // db.SessionCompleted or db.SessionSkipped
	Started time.Time
	Ended   time.Time
	Next    string
}

// Timer alternates between focus and break intervals. It keeps no clock of
// its own: callers advance it with Tick.
type Timer struct {
	cfg            Config
	mode           string
	remaining      time.Duration
	started        time.Time
	elapsed        time.Duration
	completedFocus int
}

// NewTimer starts a focus interval at start.
func NewTimer(cfg Config, start time.Time) *Timer {
	if cfg.LongBreakEvery <= 0 {
		cfg.LongBreakEvery = DefaultConfig().LongBreakEvery
	}
	return &Timer{
		cfg:       cfg,
		mode:      db.SessionFocus,
		remaining: cfg.Focus,
		started:   start,
	}
}

// Mode is the running interval, db.SessionFocus or db.SessionBreak.
func (t *Timer) Mode() string { return t.mode }

// Remaining is the time left in the running interval.
func (t *Timer) Remaining() time.Duration { return t.remaining }

// CompletedFocus counts focus intervals that ran to the end.
func (t *Timer) CompletedFocus() int { return t.completedFocus }

// Tick advances the timer by d. When the interval runs out it returns the
// completed transition and starts the next interval; time beyond the end of
// the interval is not carried over.
func (t *Timer) Tick(d time.Duration) *Transition {
	if d <= 0 {
		return nil
	}
	if d < t.remaining {
		t.remaining -= d
		t.elapsed += d
		return nil
	}
	t.elapsed += t.remaining
	t.remaining = 0
	tr := t.finish(db.SessionCompleted)
	return &tr
}

// Skip ends the running interval now, records it as skipped and starts the
// next one.
func (t *Timer) Skip() Transition {
	return t.finish(db.SessionSkipped)
}

func (t *Timer) finish(status string) Transition {
	ended := t.started.Add(t.elapsed)
	tr := Transition{Mode: t.mode, Status: status, Started: t.started, Ended: ended}

	if t.mode == db.SessionFocus {
		if status == db.SessionCompleted {
			t.completedFocus++
		}
		t.mode = db.SessionBreak
		t.remaining = t.breakLength(status)
	} else {
		t.mode = db.SessionFocus
		t.remaining = t.cfg.Focus
	}

	t.started = ended
	t.elapsed = 0
	tr.Next = t.mode
	return tr
}

func (t *Timer) breakLength(focusStatus string) time.Duration {
	if focusStatus == db.SessionCompleted && t.completedFocus%t.cfg.LongBreakEvery == 0 {
		return t.cfg.LongBreak
	}
	return t.cfg.ShortBreak
}

// Expected is the planned length of an interval of the given mode.
func (c Config) Expected(mode string) time.Duration {
	if mode == db.SessionBreak {
		return c.ShortBreak
	}
	return c.Focus
}

// Complete runs the current interval out immediately and records it as
// completed.
func (t *Timer) Complete() Transition {
	t.elapsed += t.remaining
	t.remaining = 0
	return t.finish(db.SessionCompleted)
}
