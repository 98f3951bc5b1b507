// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/adiadia/crm-automation/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCollectionCRUD(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	c := NewCollection[domain.Prospect]("prospect", fixedClock(now))

	created, err := c.Create(ctx, domain.Prospect{ContactName: "Ada Lovelace", Status: domain.StatusNew})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, now, created.CreatedDate)

	got, err := c.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.ContactName)

	updated, err := c.Update(ctx, created.ID, map[string]any{"status": "Qualified", "deal_value": 1200})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQualified, updated.Status)
	require.NotNil(t, updated.DealValue)
	assert.Equal(t, 1200.0, *updated.DealValue)
	assert.Equal(t, "Ada Lovelace", updated.ContactName)

	require.NoError(t, c.Delete(ctx, created.ID))
	_, err = c.Get(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, c.Delete(ctx, created.ID), domain.ErrNotFound)
}

func TestCollectionUpdateRejectsBadPatch(t *testing.T) {
	ctx := context.Background()
	c := NewCollection[domain.Prospect]("prospect", nil)
	p, err := c.Create(ctx, domain.Prospect{ContactName: "Grace"})
	require.NoError(t, err)

	_, err = c.Update(ctx, p.ID, map[string]any{"id": uuid.NewString()})
	assert.Error(t, err)

	_, err = c.Update(ctx, p.ID, map[string]any{"engagement_score": "very high"})
	assert.Error(t, err)

	again, err := c.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.EngagementScore, "failed patch must not be stored")
}

func TestCollectionFilterSortLimit(t *testing.T) {
	ctx := context.Background()
	c := NewCollection[domain.Prospect]("prospect", nil)
	for i, score := range []int{40, 90, 10, 70} {
		status := domain.StatusNew
		if i%2 == 1 {
			status = domain.StatusQualified
		}
		_, err := c.Create(ctx, domain.Prospect{ContactName: "p", EngagementScore: score, Status: status})
		require.NoError(t, err)
	}

	top, err := c.List(ctx, "-engagement_score", 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, 90, top[0].EngagementScore)
	assert.Equal(t, 70, top[1].EngagementScore)

	qualified, err := c.Filter(ctx, store.Query{"status": domain.StatusQualified}, "engagement_score", 0)
	require.NoError(t, err)
	require.Len(t, qualified, 2)
	assert.Equal(t, 70, qualified[0].EngagementScore)
	assert.Equal(t, 90, qualified[1].EngagementScore)

	_, err = c.List(ctx, "score; DROP TABLE", 0)
	assert.Error(t, err)
}

func TestCollectionSortsTimestampsChronologically(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 9, 0, 5, 0, time.UTC)
	current := base
	c := NewCollection[domain.Workflow]("workflow", func() time.Time { return current })

	first, err := c.Create(ctx, domain.Workflow{Name: "whole second"})
	require.NoError(t, err)
	current = base.Add(500 * time.Millisecond)
	second, err := c.Create(ctx, domain.Workflow{Name: "half second later"})
	require.NoError(t, err)
	current = base.Add(time.Second)
	third, err := c.Create(ctx, domain.Workflow{Name: "next second"})
	require.NoError(t, err)

	asc, err := c.List(ctx, "created_date", 0)
	require.NoError(t, err)
	require.Len(t, asc, 3)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID, third.ID}, []uuid.UUID{asc[0].ID, asc[1].ID, asc[2].ID})

	desc, err := c.List(ctx, "-created_date", 1)
	require.NoError(t, err)
	assert.Equal(t, third.ID, desc[0].ID)
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, -1, compareValues("2026-05-04T09:00:05Z", "2026-05-04T09:00:05.5Z"))
	assert.Equal(t, 1, compareValues("2026-05-04T10:00:00+02:00", "2026-05-04T07:59:59Z"))
	assert.Equal(t, 0, compareValues("2026-05-04T09:00:00Z", "2026-05-04T11:00:00+02:00"))
	assert.Equal(t, -1, compareValues("Acme", "Globex"))
	assert.Equal(t, 1, compareValues(2.0, 1.5))
	assert.Equal(t, -1, compareValues(nil, "x"))
}

func TestRunStoreClaimProtocol(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	s := New(fixedClock(now))

	wf, err := s.Workflows.Create(ctx, domain.Workflow{Name: "wf", Active: true})
	require.NoError(t, err)

	claimedAt := now
	run, err := s.Runs.CreateRun(ctx, domain.Run{
		WorkflowID: wf.ID,
		EventID:    "evt-1",
		Status:     domain.RunRunning,
		ClaimToken: uuid.New(),
		ClaimedAt:  &claimedAt,
	})
	require.NoError(t, err)

	_, err = s.Runs.CreateRun(ctx, domain.Run{WorkflowID: wf.ID, EventID: "evt-1"})
	assert.ErrorIs(t, err, domain.ErrDuplicateRun)

	resumeAt := now.Add(48 * time.Hour)
	run.Status = domain.RunSuspended
	run.NextStepIndex = 1
	run.ResumeAt = &resumeAt
	require.NoError(t, s.Runs.SaveRun(ctx, run))

	// A second save with the released token loses.
	assert.ErrorIs(t, s.Runs.SaveRun(ctx, run), domain.ErrConcurrencyConflict)

	due, err := s.Runs.ClaimDueRuns(ctx, domain.DueQuery{Now: now.Add(time.Hour), StaleBefore: now})
	require.NoError(t, err)
	assert.Empty(t, due, "not due before resume_at")

	due, err = s.Runs.ClaimDueRuns(ctx, domain.DueQuery{Now: resumeAt, StaleBefore: now})
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, domain.RunRunning, due[0].Status)

	again, err := s.Runs.ClaimDueRuns(ctx, domain.DueQuery{Now: resumeAt, StaleBefore: now})
	require.NoError(t, err)
	assert.Empty(t, again, "a claimed run is not handed out twice")

	require.NoError(t, s.Runs.CompleteRun(ctx, due[0]))
	stored, err := s.Runs.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, stored.Status)
	assert.Nil(t, stored.ClaimedAt)

	wf, err = s.Workflows.Get(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, wf.ExecutionCount)
}

func TestRunStoreReclaimsStaleClaims(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	s := New(fixedClock(now))

	claimedAt := now.Add(-time.Hour)
	_, err := s.Runs.CreateRun(ctx, domain.Run{
		WorkflowID: uuid.New(),
		EventID:    "evt-stale",
		Status:     domain.RunRunning,
		ClaimToken: uuid.New(),
		ClaimedAt:  &claimedAt,
	})
	require.NoError(t, err)

	due, err := s.Runs.ClaimDueRuns(ctx, domain.DueQuery{Now: now, StaleBefore: now.Add(-30 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestNotificationStoreSentIsPermanent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	s := NewNotificationStore(fixedClock(now))

	n, err := s.CreateNotification(ctx, domain.ScheduledNotification{Recipient: "a@b.co", Subject: "s", ScheduledDate: now})
	require.NoError(t, err)

	claimed, err := s.ClaimDueNotifications(ctx, domain.NotificationDueQuery{Now: now, StaleBefore: now.Add(-time.Minute), MaxAttempts: 1})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, s.MarkFailed(ctx, n.ID, claimed[0].ClaimToken, "smtp down"))
	failed, err := s.ListFailedNotifications(ctx, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].Attempts)
	assert.Nil(t, failed[0].ClaimedAt, "failure releases the claim")

	due, err := s.ClaimDueNotifications(ctx, domain.NotificationDueQuery{Now: now, StaleBefore: now.Add(-time.Minute), MaxAttempts: 1})
	require.NoError(t, err)
	assert.Empty(t, due, "attempt bound reached")

	ok, err := s.MarkSent(ctx, n.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkSent(ctx, n.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.MarkFailed(ctx, n.ID, uuid.New(), "late failure"))
	got, err := s.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, got.Sent)
	assert.Equal(t, now, *got.SentDate)
}

func TestNotificationStoreClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	s := NewNotificationStore(fixedClock(now))
	n, err := s.CreateNotification(ctx, domain.ScheduledNotification{Recipient: "a@b.co", Subject: "s", ScheduledDate: now})
	require.NoError(t, err)

	q := domain.NotificationDueQuery{Now: now, StaleBefore: now.Add(-5 * time.Minute), MaxAttempts: 5}
	first, err := s.ClaimDueNotifications(ctx, q)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := s.ClaimDueNotifications(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, second, "claimed notifications are not handed out twice")

	later := now.Add(10 * time.Minute)
	stolen, err := s.ClaimDueNotifications(ctx, domain.NotificationDueQuery{Now: later, StaleBefore: later.Add(-5 * time.Minute), MaxAttempts: 5})
	require.NoError(t, err)
	require.Len(t, stolen, 1, "stale claims are reclaimed")
	assert.NotEqual(t, first[0].ClaimToken, stolen[0].ClaimToken)

	assert.ErrorIs(t, s.MarkFailed(ctx, n.ID, first[0].ClaimToken, "slow relay"), domain.ErrConcurrencyConflict)
	require.NoError(t, s.MarkFailed(ctx, n.ID, stolen[0].ClaimToken, "relay down"))

	got, err := s.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.Nil(t, got.ClaimedAt)
}
