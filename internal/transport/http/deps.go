// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"time"

	"github.com/adiadia/crm-automation/internal/automation"
	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/adiadia/crm-automation/internal/notify"
	"github.com/adiadia/crm-automation/internal/scoring"
	"github.com/google/uuid"
)

type Automation interface {
	HandleEvent(ctx context.Context, ev domain.Event) (automation.EventReport, error)
	Sweep(ctx context.Context) (automation.SweepReport, error)
	Rescore(ctx context.Context, prospectID uuid.UUID) (scoring.Result, automation.EventReport, error)
	InvalidateWorkflows()
}

type Notifier interface {
	Sweep(ctx context.Context, now time.Time) (notify.Report, error)
	Schedule(ctx context.Context, n domain.ScheduledNotification) (domain.ScheduledNotification, error)
	Resend(ctx context.Context, id uuid.UUID) (domain.ScheduledNotification, error)
	Failed(ctx context.Context, limit int) ([]domain.ScheduledNotification, error)
}

type RunReader interface {
	GetRun(ctx context.Context, id uuid.UUID) (domain.Run, error)
	ListRuns(ctx context.Context, f domain.RunFilter) ([]domain.Run, error)
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
