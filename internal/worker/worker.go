// SPDX-License-Identifier: Apache-2.0

// Package worker drives the automation and notification sweeps on cron
// schedules.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adiadia/crm-automation/internal/automation"
	"github.com/adiadia/crm-automation/internal/notify"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule = "@every 1m"
	sweepTimeout    = 10 * time.Minute
)

type AutomationSweeper interface {
	Sweep(ctx context.Context) (automation.SweepReport, error)
}

type NotificationSweeper interface {
	Sweep(ctx context.Context, now time.Time) (notify.Report, error)
}

type Deps struct {
	Automation    AutomationSweeper
	Notifications NotificationSweeper
	Logger        *slog.Logger
	Now           func() time.Time
	// Schedules use the standard five-field cron syntax or descriptors such
	// as "@every 30s". Empty means DefaultSchedule.
	SweepSchedule  string
	NotifySchedule string
}

type Worker struct {
	automation     AutomationSweeper
	notifications  NotificationSweeper
	logger         *slog.Logger
	now            func() time.Time
	sweepSchedule  string
	notifySchedule string

	// base is the context jobs derive from while Run is active.
	mu   sync.Mutex
	base context.Context
}

func New(deps Deps) *Worker {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	w := &Worker{
		automation:     deps.Automation,
		notifications:  deps.Notifications,
		logger:         l,
		now:            now,
		sweepSchedule:  deps.SweepSchedule,
		notifySchedule: deps.NotifySchedule,
		base:           context.Background(),
	}
	if w.sweepSchedule == "" {
		w.sweepSchedule = DefaultSchedule
	}
	if w.notifySchedule == "" {
		w.notifySchedule = DefaultSchedule
	}
	return w
}

// Run schedules both sweeps and blocks until ctx is done. A sweep still in
// progress when its next tick fires is not started twice.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	w.base = ctx
	w.mu.Unlock()

	logger := cronLogger{logger: w.logger}
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))

	if w.automation != nil {
		if _, err := c.AddFunc(w.sweepSchedule, w.runAutomation); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", w.sweepSchedule, err)
		}
	}
	if w.notifications != nil {
		if _, err := c.AddFunc(w.notifySchedule, w.runNotifications); err != nil {
			return fmt.Errorf("invalid notify schedule %q: %w", w.notifySchedule, err)
		}
	}

	c.Start()
	w.logger.Info("worker started",
		"sweep_schedule", w.sweepSchedule,
		"notify_schedule", w.notifySchedule,
	)

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	w.logger.Info("worker stopped")
	return nil
}

// ProcessOnce runs one automation sweep and one notification sweep.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	var firstErr error
	if w.automation != nil {
		if err := w.sweepAutomation(ctx); err != nil {
			firstErr = err
		}
	}
	if w.notifications != nil {
		if err := w.sweepNotifications(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *Worker) jobContext() (context.Context, context.CancelFunc) {
	w.mu.Lock()
	base := w.base
	w.mu.Unlock()
	return context.WithTimeout(base, sweepTimeout)
}

func (w *Worker) runAutomation() {
	ctx, cancel := w.jobContext()
	defer cancel()
	_ = w.sweepAutomation(ctx)
}

func (w *Worker) runNotifications() {
	ctx, cancel := w.jobContext()
	defer cancel()
	_ = w.sweepNotifications(ctx)
}

func (w *Worker) sweepAutomation(ctx context.Context) error {
	report, err := w.automation.Sweep(ctx)
	if err != nil {
		w.logger.Error("automation sweep failed", "error", err)
		return err
	}
	if report.Claimed > 0 || report.DateEvents > 0 {
		w.logger.Info("automation sweep done",
			"date_events", report.DateEvents,
			"claimed", report.Claimed,
			"completed", report.Completed,
			"suspended", report.Suspended,
			"failed", report.Failed,
			"errors", report.Errors,
		)
	}
	return nil
}

func (w *Worker) sweepNotifications(ctx context.Context) error {
	report, err := w.notifications.Sweep(ctx, w.now().UTC())
	if err != nil {
		w.logger.Error("notification sweep failed", "error", err)
		return err
	}
	if report.FailureCount > 0 {
		w.logger.Warn("notification sweep had failures",
			"sent", report.SuccessCount,
			"failed", report.FailureCount,
		)
	}
	return nil
}

// ValidateSchedule reports whether schedule is accepted by the worker.
func ValidateSchedule(schedule string) error {
	_, err := cron.ParseStandard(schedule)
	return err
}

// cronLogger routes cron's job lifecycle messages to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
