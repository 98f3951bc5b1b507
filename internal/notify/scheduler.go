// SPDX-License-Identifier: Apache-2.0

// Package notify delivers scheduled notifications once their time has come.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/adiadia/crm-automation/internal/mail"
	"github.com/adiadia/crm-automation/internal/metrics"
	"github.com/adiadia/crm-automation/internal/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/adiadia/crm-automation/internal/notify"

	DefaultMaxAttempts  = 5
	defaultBatchSize    = 200
	defaultReclaimAfter = 5 * time.Minute
)

type Deps struct {
	Store  store.NotificationStore
	Sender mail.Sender
	Logger *slog.Logger
	Now    func() time.Time
	// MaxAttempts stops retrying a notification after this many failed sweeps.
	MaxAttempts int
	BatchSize   int
	// ReclaimAfter is how long a claimed notification stays with the sweep
	// that claimed it before another sweep may take it over.
	ReclaimAfter time.Duration
	Tracer       trace.Tracer
}

type Scheduler struct {
	store        store.NotificationStore
	sender       mail.Sender
	logger       *slog.Logger
	now          func() time.Time
	maxAttempts  int
	batchSize    int
	reclaimAfter time.Duration
	tracer       trace.Tracer
}

type Result struct {
	NotificationID uuid.UUID `json:"notification_id"`
	Recipient      string    `json:"recipient"`
	Sent           bool      `json:"sent"`
	Error          string    `json:"error,omitempty"`
}

type Report struct {
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
	Results      []Result `json:"results"`
}

func New(deps Deps) *Scheduler {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}
	s := &Scheduler{
		store:        deps.Store,
		sender:       deps.Sender,
		logger:       l,
		now:          deps.Now,
		maxAttempts:  deps.MaxAttempts,
		batchSize:    deps.BatchSize,
		reclaimAfter: deps.ReclaimAfter,
		tracer:       deps.Tracer,
	}
	if s.sender == nil {
		s.sender = mail.LogSender{Logger: l}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.reclaimAfter <= 0 {
		s.reclaimAfter = defaultReclaimAfter
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s
}

// Sweep claims and sends every unsent notification scheduled at or before
// now. Concurrent sweeps never claim the same notification. A failed send
// records the error and stays unsent; it is retried by later sweeps until
// MaxAttempts is reached.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (Report, error) {
	ctx, span := s.tracer.Start(ctx, "notify.Sweep")
	defer span.End()

	started := time.Now()
	defer func() { metrics.ObserveSweepDuration("notifications", time.Since(started)) }()

	due, err := s.store.ClaimDueNotifications(ctx, domain.NotificationDueQuery{
		Now:         now,
		StaleBefore: now.Add(-s.reclaimAfter),
		MaxAttempts: s.maxAttempts,
		Limit:       s.batchSize,
	})
	if err != nil {
		err = domain.External("entity_store", "claim due notifications", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Report{}, err
	}

	report := Report{Results: make([]Result, 0, len(due))}
	for _, n := range due {
		res := s.deliver(ctx, n)
		if res.Sent {
			report.SuccessCount++
		} else if res.Error != "" {
			report.FailureCount++
		}
		report.Results = append(report.Results, res)
	}

	span.SetAttributes(
		attribute.Int("notifications.sent", report.SuccessCount),
		attribute.Int("notifications.failed", report.FailureCount),
	)
	s.logger.Info("notification sweep finished",
		"due", len(due),
		"sent", report.SuccessCount,
		"failed", report.FailureCount,
	)
	return report, nil
}

func (s *Scheduler) deliver(ctx context.Context, n domain.ScheduledNotification) Result {
	res := Result{NotificationID: n.ID, Recipient: n.Recipient}

	sendErr := s.sender.Send(ctx, mail.Message{To: n.Recipient, Subject: n.Subject, Body: n.Body})
	if sendErr != nil {
		metrics.IncNotification("failed")
		res.Error = sendErr.Error()
		if err := s.store.MarkFailed(ctx, n.ID, n.ClaimToken, res.Error); errors.Is(err, domain.ErrConcurrencyConflict) {
			s.logger.Warn("notification claim lost", "notification_id", n.ID)
		} else if err != nil {
			s.logger.Error("record notification failure failed",
				"notification_id", n.ID,
				"error", err,
			)
		}
		s.logger.Warn("notification send failed",
			"notification_id", n.ID,
			"recipient", n.Recipient,
			"attempt", n.Attempts+1,
			"error", sendErr,
		)
		return res
	}

	marked, err := s.store.MarkSent(ctx, n.ID, s.now().UTC())
	if err != nil {
		// The message went out; a later sweep may send it again.
		metrics.IncNotification("failed")
		res.Error = domain.External("entity_store", "mark sent", err).Error()
		s.logger.Error("mark notification sent failed",
			"notification_id", n.ID,
			"error", err,
		)
		return res
	}
	if !marked {
		s.logger.Info("notification already sent elsewhere", "notification_id", n.ID)
		return res
	}

	metrics.IncNotification("sent")
	res.Sent = true
	return res
}

// Schedule validates and stores a new notification.
func (s *Scheduler) Schedule(ctx context.Context, n domain.ScheduledNotification) (domain.ScheduledNotification, error) {
	n.Recipient = strings.TrimSpace(n.Recipient)
	n.ID = uuid.Nil
	n.Sent = false
	n.SentDate = nil
	n.Error = ""
	n.Attempts = 0
	n.ClaimToken = uuid.Nil
	n.ClaimedAt = nil

	verr := &domain.ValidationError{}
	domain.CheckStruct(verr, "", n)
	if err := verr.Err(); err != nil {
		return domain.ScheduledNotification{}, err
	}

	created, err := s.store.CreateNotification(ctx, n)
	if err != nil {
		return domain.ScheduledNotification{}, domain.External("entity_store", "create notification", err)
	}
	s.logger.Info("notification scheduled",
		"notification_id", created.ID,
		"scheduled_date", created.ScheduledDate,
	)
	return created, nil
}

// Resend clears the recorded error and attempt count of an unsent
// notification so the next sweep tries it again.
func (s *Scheduler) Resend(ctx context.Context, id uuid.UUID) (domain.ScheduledNotification, error) {
	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return domain.ScheduledNotification{}, domain.External("entity_store", "get notification", err)
	}
	if n.Sent {
		verr := &domain.ValidationError{}
		return domain.ScheduledNotification{}, verr.Add("sent", fmt.Sprintf("notification %s was already sent", id))
	}

	if err := s.store.ResetNotification(ctx, id); err != nil {
		return domain.ScheduledNotification{}, domain.External("entity_store", "reset notification", err)
	}
	s.logger.Info("notification reset for resend", "notification_id", id)

	n, err = s.store.GetNotification(ctx, id)
	if err != nil {
		return domain.ScheduledNotification{}, domain.External("entity_store", "get notification", err)
	}
	return n, nil
}

// Failed lists unsent notifications that carry a send error.
func (s *Scheduler) Failed(ctx context.Context, limit int) ([]domain.ScheduledNotification, error) {
	items, err := s.store.ListFailedNotifications(ctx, limit)
	if err != nil {
		return nil, domain.External("entity_store", "list failed notifications", err)
	}
	return items, nil
}
