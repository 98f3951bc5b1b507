// SPDX-License-Identifier: Apache-2.0

// Package store defines the entity store contract the automation core runs
// against. Implementations live in store/memory and in repository (Postgres).
package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/google/uuid"
)

// Query is an equality filter over top-level JSON fields of a document.
type Query map[string]any

// Collection is CRUD over one entity type.
//
// Sort is a JSON field name, prefixed with "-" for descending order; an empty
// sort means "-created_date". A non-positive limit means no limit.
type Collection[T any] interface {
	List(ctx context.Context, sort string, limit int) ([]T, error)
	Filter(ctx context.Context, q Query, sort string, limit int) ([]T, error)
	Get(ctx context.Context, id uuid.UUID) (T, error)
	Create(ctx context.Context, doc T) (T, error)
	Update(ctx context.Context, id uuid.UUID, partial map[string]any) (T, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// RunStore persists runs and owns the claim protocol. Every method that
// changes a claimed run compares run.ClaimToken and returns
// domain.ErrConcurrencyConflict when the claim was lost.
type RunStore interface {
	// CreateRun inserts a run already claimed by the caller. It returns
	// domain.ErrDuplicateRun when a run for (EventID, WorkflowID) exists.
	CreateRun(ctx context.Context, run domain.Run) (domain.Run, error)
	ClaimDueRuns(ctx context.Context, q domain.DueQuery) ([]domain.Run, error)
	// SaveRun persists a suspended, failed or canceled run and releases the claim.
	SaveRun(ctx context.Context, run domain.Run) error
	// CompleteRun marks the run completed, releases the claim and increments
	// the owning workflow's execution_count, atomically.
	CompleteRun(ctx context.Context, run domain.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (domain.Run, error)
	ListRuns(ctx context.Context, f domain.RunFilter) ([]domain.Run, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n domain.ScheduledNotification) (domain.ScheduledNotification, error)
	GetNotification(ctx context.Context, id uuid.UUID) (domain.ScheduledNotification, error)
	// ClaimDueNotifications claims unsent notifications selected by q with a
	// fresh ClaimToken. A notification claimed by one caller is not returned
	// to another until the claim is released or older than q.StaleBefore.
	ClaimDueNotifications(ctx context.Context, q domain.NotificationDueQuery) ([]domain.ScheduledNotification, error)
	ListFailedNotifications(ctx context.Context, limit int) ([]domain.ScheduledNotification, error)
	// MarkSent releases the claim and returns false when the notification
	// was already sent.
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error)
	// MarkFailed records a failed attempt and releases the claim. It returns
	// domain.ErrConcurrencyConflict when claimToken no longer holds it.
	MarkFailed(ctx context.Context, id, claimToken uuid.UUID, message string) error
	ResetNotification(ctx context.Context, id uuid.UUID) error
}

// Store bundles every collection the automation core touches.
type Store struct {
	Prospects     Collection[domain.Prospect]
	Tasks         Collection[domain.Task]
	Interactions  Collection[domain.Interaction]
	Outreach      Collection[domain.Outreach]
	Workflows     Collection[domain.Workflow]
	Runs          RunStore
	Notifications NotificationStore
}

const DefaultSort = "-created_date"

var fieldNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ParseSort splits a sort expression into a field name and direction.
func ParseSort(sort string) (field string, desc bool, err error) {
	sort = strings.TrimSpace(sort)
	if sort == "" {
		sort = DefaultSort
	}
	if strings.HasPrefix(sort, "-") {
		desc = true
		sort = sort[1:]
	}
	if !ValidField(sort) {
		return "", false, fmt.Errorf("invalid sort field %q", sort)
	}
	return sort, desc, nil
}

// ValidField reports whether name can be used as a document field in a
// filter, sort or partial update.
func ValidField(name string) bool {
	return fieldNamePattern.MatchString(name)
}
