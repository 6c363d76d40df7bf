package pomodoro

import (
	"testing"
	"time"

	"trackflow/internal/db"
)

func TestTimer_FullCycle(t *testing.T) {
	cfg := DefaultConfig()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	timer := NewTimer(cfg, start)

	wantBreaks := []time.Duration{cfg.ShortBreak, cfg.ShortBreak, cfg.ShortBreak, cfg.LongBreak, cfg.ShortBreak}
	for i, want := range wantBreaks {
		tr := timer.Tick(cfg.Focus)
		if tr == nil {
			t.Fatalf("focus %d: expected a transition", i+1)
		}
		if tr.Mode != db.SessionFocus || tr.Status != db.SessionCompleted || tr.Next != db.SessionBreak {
			t.Fatalf("focus %d: unexpected transition %+v", i+1, tr)
		}
		if got := timer.Remaining(); got != want {
			t.Errorf("break after focus %d = %v, want %v", i+1, got, want)
		}
		if tr := timer.Tick(timer.Remaining()); tr == nil || tr.Next != db.SessionFocus {
			t.Fatalf("break %d: expected switch back to focus, got %+v", i+1, tr)
		}
	}
	if timer.CompletedFocus() != len(wantBreaks) {
		t.Errorf("CompletedFocus() = %d, want %d", timer.CompletedFocus(), len(wantBreaks))
	}
}

func TestTimer_TickPartial(t *testing.T) {
	timer := NewTimer(DefaultConfig(), time.Now())

	if tr := timer.Tick(10 * time.Minute); tr != nil {
		t.Fatalf("Tick() returned transition before interval ended: %+v", tr)
	}
	if timer.Remaining() != 15*time.Minute {
		t.Errorf("Remaining() = %v, want 15m", timer.Remaining())
	}
	if tr := timer.Tick(0); tr != nil {
		t.Error("Tick(0) should be a no-op")
	}
	if timer.Mode() != db.SessionFocus {
		t.Errorf("Mode() = %q, want focus", timer.Mode())
	}
}

func TestTimer_OverflowNotCarried(t *testing.T) {
	cfg := DefaultConfig()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	timer := NewTimer(cfg, start)

	tr := timer.Tick(cfg.Focus + 3*time.Minute)
	if tr == nil {
		t.Fatal("expected a transition")
	}
	if !tr.Ended.Equal(start.Add(cfg.Focus)) {
		t.Errorf("Ended = %v, want %v", tr.Ended, start.Add(cfg.Focus))
	}
	if timer.Remaining() != cfg.ShortBreak {
		t.Errorf("Remaining() = %v, want full break %v", timer.Remaining(), cfg.ShortBreak)
	}
}

func TestTimer_Skip(t *testing.T) {
	cfg := DefaultConfig()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	timer := NewTimer(cfg, start)

	timer.Tick(5 * time.Minute)
	tr := timer.Skip()
	if tr.Status != db.SessionSkipped || tr.Mode != db.SessionFocus {
		t.Fatalf("Skip() = %+v", tr)
	}
	if !tr.Ended.Equal(start.Add(5 * time.Minute)) {
		t.Errorf("Ended = %v, want 5 minutes after start", tr.Ended)
	}
	if timer.CompletedFocus() != 0 {
		t.Errorf("skipped focus must not count, got %d", timer.CompletedFocus())
	}
	if timer.Mode() != db.SessionBreak || timer.Remaining() != cfg.ShortBreak {
		t.Errorf("after skip: mode %q remaining %v", timer.Mode(), timer.Remaining())
	}

	tr = timer.Skip()
	if tr.Mode != db.SessionBreak || timer.Mode() != db.SessionFocus {
		t.Errorf("skipping a break should return to focus, got %+v", tr)
	}
}

func TestNewTimer_DefaultsLongBreakEvery(t *testing.T) {
	cfg := Config{Focus: time.Minute, ShortBreak: time.Second, LongBreak: 2 * time.Second}
	timer := NewTimer(cfg, time.Now())

	for i := 0; i < 3; i++ {
		timer.Tick(time.Minute)
		timer.Tick(time.Second)
	}
	timer.Tick(time.Minute)
	if timer.Remaining() != 2*time.Second {
		t.Errorf("fourth break = %v, want long break", timer.Remaining())
	}
}
