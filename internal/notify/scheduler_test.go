// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/adiadia/crm-automation/internal/mail"
	"github.com/adiadia/crm-automation/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakySender struct {
	failFor map[string]bool
	sent    []string
}

func (s *flakySender) Send(_ context.Context, msg mail.Message) error {
	if s.failFor[msg.To] {
		return errors.New("mailbox unavailable")
	}
	s.sent = append(s.sent, msg.To)
	return nil
}

var base = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func newScheduler(t *testing.T, sender mail.Sender) (*Scheduler, *memory.NotificationStore) {
	t.Helper()
	st := memory.NewNotificationStore(func() time.Time { return base })
	return New(Deps{
		Store:       st,
		Sender:      sender,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:         func() time.Time { return base },
		MaxAttempts: 2,
	}), st
}

func schedule(t *testing.T, s *Scheduler, to string, at time.Time) domain.ScheduledNotification {
	t.Helper()
	n, err := s.Schedule(context.Background(), domain.ScheduledNotification{
		Recipient:     to,
		Subject:       "Reminder",
		Body:          "Demo tomorrow",
		ScheduledDate: at,
	})
	require.NoError(t, err)
	return n
}

func TestSweepSendsDueNotificationsOnce(t *testing.T) {
	ctx := context.Background()
	sender := &flakySender{}
	s, _ := newScheduler(t, sender)

	for _, to := range []string{"a@x.test", "b@x.test", "c@x.test"} {
		schedule(t, s, to, base.Add(-time.Hour))
	}
	schedule(t, s, "future@x.test", base.Add(time.Hour))

	report, err := s.Sweep(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 3, report.SuccessCount)
	assert.Equal(t, 0, report.FailureCount)
	assert.Len(t, report.Results, 3)

	report, err = s.Sweep(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 0, report.SuccessCount)
	assert.Empty(t, report.Results)
	assert.Len(t, sender.sent, 3)
}

type slowSender struct {
	delay time.Duration
	sent  atomic.Int32
}

func (s *slowSender) Send(ctx context.Context, _ mail.Message) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	s.sent.Add(1)
	return nil
}

func TestConcurrentSweepsSendOnce(t *testing.T) {
	ctx := context.Background()
	sender := &slowSender{delay: 50 * time.Millisecond}
	s, st := newScheduler(t, sender)
	n := schedule(t, s, "once@x.test", base)

	var wg sync.WaitGroup
	reports := make([]Report, 2)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := s.Sweep(ctx, base)
			assert.NoError(t, err)
			reports[i] = report
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), sender.sent.Load())
	assert.Equal(t, 1, reports[0].SuccessCount+reports[1].SuccessCount)

	stored, err := st.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, stored.Sent)
	assert.Nil(t, stored.ClaimedAt)
}

func TestSweepReclaimsStaleClaim(t *testing.T) {
	ctx := context.Background()
	sender := &flakySender{}
	s, st := newScheduler(t, sender)
	n := schedule(t, s, "stuck@x.test", base)

	// A sweep that crashed after claiming leaves the claim behind.
	claimed, err := st.ClaimDueNotifications(ctx, domain.NotificationDueQuery{Now: base, StaleBefore: base, MaxAttempts: 5})
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	report, err := s.Sweep(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, report.Results, "fresh claims belong to their sweep")

	report, err = s.Sweep(ctx, base.Add(defaultReclaimAfter+time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, report.SuccessCount)
	assert.Equal(t, []string{"stuck@x.test"}, sender.sent)

	stored, err := st.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, stored.Sent)
}

func TestSweepRecordsFailureAndStopsAtMaxAttempts(t *testing.T) {
	ctx := context.Background()
	sender := &flakySender{failFor: map[string]bool{"bad@x.test": true}}
	s, st := newScheduler(t, sender)

	bad := schedule(t, s, "bad@x.test", base)
	schedule(t, s, "good@x.test", base)

	report, err := s.Sweep(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SuccessCount)
	assert.Equal(t, 1, report.FailureCount)

	stored, err := st.GetNotification(ctx, bad.ID)
	require.NoError(t, err)
	assert.False(t, stored.Sent)
	assert.Equal(t, "mailbox unavailable", stored.Error)
	assert.Equal(t, 1, stored.Attempts)

	report, err = s.Sweep(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FailureCount)

	report, err = s.Sweep(ctx, base)
	require.NoError(t, err)
	assert.Empty(t, report.Results, "max attempts reached")

	failed, err := s.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, bad.ID, failed[0].ID)
}

func TestResendClearsErrorForAnotherSweep(t *testing.T) {
	ctx := context.Background()
	sender := &flakySender{failFor: map[string]bool{"bad@x.test": true}}
	s, _ := newScheduler(t, sender)
	bad := schedule(t, s, "bad@x.test", base)

	_, err := s.Sweep(ctx, base)
	require.NoError(t, err)

	delete(sender.failFor, "bad@x.test")
	reset, err := s.Resend(ctx, bad.ID)
	require.NoError(t, err)
	assert.Empty(t, reset.Error)
	assert.Equal(t, 0, reset.Attempts)

	report, err := s.Sweep(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SuccessCount)

	_, err = s.Resend(ctx, bad.ID)
	assert.ErrorIs(t, err, domain.ErrValidation, "sent notifications cannot be resent")
}

func TestScheduleValidates(t *testing.T) {
	s, _ := newScheduler(t, &flakySender{})
	_, err := s.Schedule(context.Background(), domain.ScheduledNotification{Recipient: "not-an-email"})
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.True(t, strings.Contains(err.Error(), "recipient"))
	assert.True(t, strings.Contains(err.Error(), "scheduled_date"))
}
