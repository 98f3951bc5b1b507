// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/google/uuid"
)

type NotificationStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]domain.ScheduledNotification
	now   func() time.Time
}

func NewNotificationStore(now func() time.Time) *NotificationStore {
	if now == nil {
		now = time.Now
	}
	return &NotificationStore{
		items: make(map[uuid.UUID]domain.ScheduledNotification),
		now:   now,
	}
}

func (s *NotificationStore) CreateNotification(_ context.Context, n domain.ScheduledNotification) (domain.ScheduledNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedDate.IsZero() {
		n.CreatedDate = s.now().UTC()
	}
	s.items[n.ID] = n
	return n, nil
}

func (s *NotificationStore) GetNotification(_ context.Context, id uuid.UUID) (domain.ScheduledNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return domain.ScheduledNotification{}, fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
	}
	return n, nil
}

// ClaimDueNotifications hands each due notification to exactly one caller
// until the claim is released or goes stale.
func (s *NotificationStore) ClaimDueNotifications(_ context.Context, q domain.NotificationDueQuery) ([]domain.ScheduledNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := s.collect(q.Limit, func(n domain.ScheduledNotification) bool {
		if n.Sent || n.ScheduledDate.After(q.Now) {
			return false
		}
		if q.MaxAttempts > 0 && n.Attempts >= q.MaxAttempts {
			return false
		}
		return n.ClaimedAt == nil || n.ClaimedAt.Before(q.StaleBefore)
	})

	claimedAt := q.Now.UTC()
	for i := range due {
		due[i].ClaimToken = uuid.New()
		due[i].ClaimedAt = &claimedAt
		s.items[due[i].ID] = due[i]
	}
	return due, nil
}

func (s *NotificationStore) ListFailedNotifications(_ context.Context, limit int) ([]domain.ScheduledNotification, error) {
	return s.list(limit, func(n domain.ScheduledNotification) bool {
		return !n.Sent && n.Error != ""
	}), nil
}

func (s *NotificationStore) list(limit int, keep func(domain.ScheduledNotification) bool) []domain.ScheduledNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(limit, keep)
}

// collect expects s.mu to be held.
func (s *NotificationStore) collect(limit int, keep func(domain.ScheduledNotification) bool) []domain.ScheduledNotification {
	out := make([]domain.ScheduledNotification, 0)
	for _, n := range s.items {
		if keep(n) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledDate.Equal(out[j].ScheduledDate) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].ScheduledDate.Before(out[j].ScheduledDate)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *NotificationStore) MarkSent(_ context.Context, id uuid.UUID, sentAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.items[id]
	if !ok {
		return false, fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
	}
	if n.Sent {
		return false, nil
	}
	n.Sent = true
	n.SentDate = &sentAt
	n.ClaimToken = uuid.Nil
	n.ClaimedAt = nil
	s.items[id] = n
	return true, nil
}

func (s *NotificationStore) MarkFailed(_ context.Context, id, claimToken uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.items[id]
	if !ok {
		return fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
	}
	if n.Sent {
		return nil
	}
	if n.ClaimedAt == nil || n.ClaimToken != claimToken {
		return domain.ErrConcurrencyConflict
	}
	n.Error = message
	n.Attempts++
	n.ClaimToken = uuid.Nil
	n.ClaimedAt = nil
	s.items[id] = n
	return nil
}

func (s *NotificationStore) ResetNotification(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.items[id]
	if !ok {
		return fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
	}
	if n.Sent {
		return nil
	}
	n.Error = ""
	n.Attempts = 0
	s.items[id] = n
	return nil
}
