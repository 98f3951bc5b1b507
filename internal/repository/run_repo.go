// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const runColumns = `id, workflow_id, prospect_id, event_id, steps, next_step_index, resume_at, status,
	claim_token, claimed_at, failed_step_index, error, created_at, updated_at, finished_at`

type RunRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewRunRepository(pool *pgxpool.Pool, logger *slog.Logger) *RunRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *RunRepository) CreateRun(ctx context.Context, run domain.Run) (domain.Run, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	steps, err := json.Marshal(stepsOrEmpty(run.Steps))
	if err != nil {
		return domain.Run{}, fmt.Errorf("encode run steps: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO runs (id, workflow_id, prospect_id, event_id, steps, next_step_index, resume_at, status,
		                  claim_token, claimed_at, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		run.ID,
		run.WorkflowID,
		run.ProspectID,
		run.EventID,
		string(steps),
		run.NextStepIndex,
		run.ResumeAt,
		run.Status,
		nullableToken(run.ClaimToken),
		run.ClaimedAt,
		run.Error,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Run{}, domain.ErrDuplicateRun
		}
		r.logger.Error("insert run failed", "run_id", run.ID, "error", err)
		return domain.Run{}, err
	}

	r.logger.Info("run created", "run_id", run.ID, "workflow_id", run.WorkflowID)
	return run, nil
}

// ClaimDueRuns claims suspended runs whose resume time has passed and running
// runs whose claim went stale. Rows locked by a concurrent sweep are skipped.
func (r *RunRepository) ClaimDueRuns(ctx context.Context, q domain.DueQuery) ([]domain.Run, error) {
	var limit *int
	if q.Limit > 0 {
		limit = &q.Limit
	}

	rows, err := r.pool.Query(ctx, `
		WITH due AS (
			SELECT id
			FROM runs
			WHERE (status = $1 AND claimed_at IS NULL AND resume_at <= $3)
			   OR (status = $2 AND claimed_at IS NOT NULL AND claimed_at < $4)
			ORDER BY created_at ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		UPDATE runs r
		SET status = $2,
		    claim_token = gen_random_uuid(),
		    claimed_at = $3,
		    updated_at = $3
		FROM due
		WHERE r.id = due.id
		RETURNING `+prefixed("r.", runColumns),
		domain.RunSuspended,
		domain.RunRunning,
		q.Now,
		q.StaleBefore,
		limit,
	)
	if err != nil {
		r.logger.Error("claim due runs failed", "error", err)
		return nil, err
	}

	runs, err := collectRuns(rows)
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

func (r *RunRepository) SaveRun(ctx context.Context, run domain.Run) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE runs
		SET next_step_index = $3,
		    resume_at = $4,
		    status = $5,
		    failed_step_index = $6,
		    error = $7,
		    finished_at = $8,
		    claim_token = NULL,
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND claim_token = $2
	`,
		run.ID,
		run.ClaimToken,
		run.NextStepIndex,
		run.ResumeAt,
		run.Status,
		run.FailedStepIndex,
		run.Error,
		run.FinishedAt,
	)
	if err != nil {
		r.logger.Error("save run failed", "run_id", run.ID, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.claimLost(ctx, r.pool, run.ID)
	}
	return nil
}

// CompleteRun marks the run completed and bumps the workflow's
// execution_count in one transaction.
func (r *RunRepository) CompleteRun(ctx context.Context, run domain.Run) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE runs
		SET status = $3,
		    next_step_index = $4,
		    resume_at = NULL,
		    claim_token = NULL,
		    claimed_at = NULL,
		    finished_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND claim_token = $2
	`,
		run.ID,
		run.ClaimToken,
		domain.RunCompleted,
		run.NextStepIndex,
	)
	if err != nil {
		r.logger.Error("complete run failed", "run_id", run.ID, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.claimLost(ctx, tx, run.ID)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE workflows
		SET doc = jsonb_set(doc, '{execution_count}',
		                    to_jsonb(COALESCE((doc->>'execution_count')::int, 0) + 1)),
		    updated_date = NOW()
		WHERE id = $1
	`, run.WorkflowID); err != nil {
		r.logger.Error("increment execution count failed",
			"run_id", run.ID,
			"workflow_id", run.WorkflowID,
			"error", err,
		)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit failed", "run_id", run.ID, "error", err)
		return err
	}
	return nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// claimLost distinguishes a missing run from one claimed by someone else.
func (r *RunRepository) claimLost(ctx context.Context, db queryRower, id uuid.UUID) error {
	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM runs WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	r.logger.Warn("run claim lost", "run_id", id)
	return domain.ErrConcurrencyConflict
}

func (r *RunRepository) GetRun(ctx context.Context, id uuid.UUID) (domain.Run, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+runColumns+` FROM runs WHERE id=$1`, id)
	if err != nil {
		r.logger.Error("get run failed", "run_id", id, "error", err)
		return domain.Run{}, err
	}
	runs, err := collectRuns(rows)
	if err != nil {
		return domain.Run{}, err
	}
	if len(runs) == 0 {
		return domain.Run{}, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	return runs[0], nil
}

func (r *RunRepository) ListRuns(ctx context.Context, f domain.RunFilter) ([]domain.Run, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.WorkflowID != uuid.Nil {
		args = append(args, f.WorkflowID)
		where = append(where, fmt.Sprintf("workflow_id = $%d", len(args)))
	}
	if f.ProspectID != uuid.Nil {
		args = append(args, f.ProspectID)
		where = append(where, fmt.Sprintf("prospect_id = $%d", len(args)))
	}

	sql := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at DESC, id ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		r.logger.Error("list runs failed", "error", err)
		return nil, err
	}
	return collectRuns(rows)
}

func collectRuns(rows pgx.Rows) ([]domain.Run, error) {
	defer rows.Close()

	out := make([]domain.Run, 0)
	for rows.Next() {
		var (
			run   domain.Run
			steps []byte
			token *uuid.UUID
		)
		if err := rows.Scan(
			&run.ID,
			&run.WorkflowID,
			&run.ProspectID,
			&run.EventID,
			&steps,
			&run.NextStepIndex,
			&run.ResumeAt,
			&run.Status,
			&token,
			&run.ClaimedAt,
			&run.FailedStepIndex,
			&run.Error,
			&run.CreatedAt,
			&run.UpdatedAt,
			&run.FinishedAt,
		); err != nil {
			return nil, err
		}
		if len(steps) > 0 {
			if err := json.Unmarshal(steps, &run.Steps); err != nil {
				return nil, fmt.Errorf("decode steps of run %s: %w", run.ID, err)
			}
		}
		if token != nil {
			run.ClaimToken = *token
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func stepsOrEmpty(steps []domain.Step) []domain.Step {
	if steps == nil {
		return []domain.Step{}
	}
	return steps
}

func nullableToken(token uuid.UUID) *uuid.UUID {
	if token == uuid.Nil {
		return nil
	}
	return &token
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
