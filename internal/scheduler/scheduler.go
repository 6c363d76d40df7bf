// Package scheduler runs the periodic background jobs: deadline reminders
// and the nightly pomodoro reconciliation.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"trackflow/internal/db"
	"trackflow/internal/notify"
	"trackflow/internal/pomodoro"
)

const (
	// ReminderWindow is how far ahead deadline reminders look.
	ReminderWindow = 24 * time.Hour
	// ReconcileDays is how many past days the nightly reconcile rebuilds.
	ReconcileDays = 2

	jobTimeout = 5 * time.Minute
)

// Config holds the cron expressions; empty disables a job.
type Config struct {
	ReminderCron  string
	ReconcileCron string
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron     *cron.Cron
	db       *db.DB
	notifier *notify.Service
	logger   *zap.Logger
	now      func() time.Time
}

// New registers the jobs named in cfg. Jobs run in UTC.
func New(cfg Config, database *db.DB, notifier *notify.Service, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		db:       database,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}

	if cfg.ReminderCron != "" {
		if _, err := s.cron.AddFunc(cfg.ReminderCron, s.runReminders); err != nil {
			return nil, fmt.Errorf("invalid reminder schedule %q: %w", cfg.ReminderCron, err)
		}
		logger.Info("Deadline reminders scheduled", zap.String("cron", cfg.ReminderCron))
	}
	if cfg.ReconcileCron != "" {
		if _, err := s.cron.AddFunc(cfg.ReconcileCron, s.runReconcile); err != nil {
			return nil, fmt.Errorf("invalid reconcile schedule %q: %w", cfg.ReconcileCron, err)
		}
		logger.Info("Pomodoro reconcile scheduled", zap.String("cron", cfg.ReconcileCron))
	}
	return s, nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop prevents new runs and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out with jobs still running")
	}
}

func (s *Scheduler) runReminders() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.SendDeadlineReminders(ctx, s.now()); err != nil {
		s.logger.Error("Deadline reminder job failed", zap.Error(err))
	}
}

func (s *Scheduler) runReconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.Reconcile(ctx, s.now()); err != nil {
		s.logger.Error("Pomodoro reconcile job failed", zap.Error(err))
	}
}

// SendDeadlineReminders notifies the assignee of every unfinished task due
// within ReminderWindow of now. A task gets at most one reminder per UTC
// day; running the job twice on the same day sends nothing new.
func (s *Scheduler) SendDeadlineReminders(ctx context.Context, now time.Time) (int, error) {
	tasks, err := s.db.ListTasksDueBetween(ctx, now, now.Add(ReminderWindow))
	if err != nil {
		return 0, fmt.Errorf("failed to list due tasks: %w", err)
	}

	day := now.UTC().Format(pomodoro.DayFormat)
	sent := 0
	for _, t := range tasks {
		rec, err := s.notifier.Notify(ctx, notify.Notice{
			UserID:  t.AssigneeID,
			Type:    db.NotifyDeadlineReminder,
			Title:   "Task due soon",
			Message: fmt.Sprintf("%q is due %s", t.Title, t.DueDate.UTC().Format("Mon Jan 2 15:04 MST")),
			Payload: map[string]any{"taskId": t.ID, "projectId": t.ProjectID},
			RefID:   t.ID + ":" + day,
			Link:    "/tasks/" + t.ID,
		})
		if err != nil {
			s.logger.Warn("Deadline reminder failed", zap.String("task_id", t.ID), zap.Error(err))
			continue
		}
		if rec != nil {
			sent++
		}
	}

	s.logger.Info("Deadline reminders sent", zap.Int("due", len(tasks)), zap.Int("sent", sent))
	return sent, nil
}

// Reconcile rebuilds the pomodoro rollup for the ReconcileDays days before
// now, up to and including today.
func (s *Scheduler) Reconcile(ctx context.Context, now time.Time) (*pomodoro.Result, error) {
	var res *pomodoro.Result
	err := s.db.InTx(ctx, func(tx *db.Tx) error {
		var err error
		res, err = pomodoro.Reconcile(ctx, tx, now.AddDate(0, 0, -ReconcileDays), now, s.logger)
		return err
	})
	return res, err
}
