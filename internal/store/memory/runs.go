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

type runKey struct {
	eventID    string
	workflowID uuid.UUID
}

type RunStore struct {
	mu        sync.Mutex
	runs      map[uuid.UUID]domain.Run
	byEvent   map[runKey]uuid.UUID
	workflows *Collection[domain.Workflow]
	now       func() time.Time
}

func NewRunStore(workflows *Collection[domain.Workflow], now func() time.Time) *RunStore {
	if now == nil {
		now = time.Now
	}
	return &RunStore{
		runs:      make(map[uuid.UUID]domain.Run),
		byEvent:   make(map[runKey]uuid.UUID),
		workflows: workflows,
		now:       now,
	}
}

func (s *RunStore) CreateRun(_ context.Context, run domain.Run) (domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := runKey{eventID: run.EventID, workflowID: run.WorkflowID}
	if _, exists := s.byEvent[key]; exists {
		return domain.Run{}, domain.ErrDuplicateRun
	}

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	now := s.now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	s.runs[run.ID] = run
	s.byEvent[key] = run.ID
	return run, nil
}

func (s *RunStore) ClaimDueRuns(_ context.Context, q domain.DueQuery) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]domain.Run, 0)
	for _, run := range s.runs {
		if claimable(run, q) {
			due = append(due, run)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if q.Limit > 0 && len(due) > q.Limit {
		due = due[:q.Limit]
	}

	claimedAt := q.Now.UTC()
	for i := range due {
		due[i].Status = domain.RunRunning
		due[i].ClaimToken = uuid.New()
		due[i].ClaimedAt = &claimedAt
		due[i].UpdatedAt = claimedAt
		s.runs[due[i].ID] = due[i]
	}
	return due, nil
}

func claimable(run domain.Run, q domain.DueQuery) bool {
	switch run.Status {
	case domain.RunSuspended:
		return run.ClaimedAt == nil && run.ResumeAt != nil && !run.ResumeAt.After(q.Now)
	case domain.RunRunning:
		return run.ClaimedAt != nil && run.ClaimedAt.Before(q.StaleBefore)
	default:
		return false
	}
}

func (s *RunStore) SaveRun(_ context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkClaim(run); err != nil {
		return err
	}
	s.release(&run)
	s.runs[run.ID] = run
	return nil
}

func (s *RunStore) CompleteRun(_ context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkClaim(run); err != nil {
		return err
	}

	run.Status = domain.RunCompleted
	finished := s.now().UTC()
	run.FinishedAt = &finished
	run.ResumeAt = nil
	s.release(&run)

	if s.workflows != nil {
		err := s.workflows.mutate(run.WorkflowID, func(doc document) {
			count, _ := doc["execution_count"].(float64)
			doc["execution_count"] = count + 1
		})
		if err != nil {
			return err
		}
	}
	s.runs[run.ID] = run
	return nil
}

func (s *RunStore) checkClaim(run domain.Run) error {
	stored, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("run %s: %w", run.ID, domain.ErrNotFound)
	}
	if stored.ClaimedAt == nil || stored.ClaimToken != run.ClaimToken {
		return domain.ErrConcurrencyConflict
	}
	return nil
}

func (s *RunStore) release(run *domain.Run) {
	run.ClaimToken = uuid.Nil
	run.ClaimedAt = nil
	run.UpdatedAt = s.now().UTC()
}

func (s *RunStore) GetRun(_ context.Context, id uuid.UUID) (domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	return run, nil
}

func (s *RunStore) ListRuns(_ context.Context, f domain.RunFilter) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Run, 0)
	for _, run := range s.runs {
		if f.Status != "" && run.Status != f.Status {
			continue
		}
		if f.WorkflowID != uuid.Nil && run.WorkflowID != f.WorkflowID {
			continue
		}
		if f.ProspectID != uuid.Nil && run.ProspectID != f.ProspectID {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
