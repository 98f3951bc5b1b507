// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const notificationColumns = `id, recipient, subject, body, prospect_id, scheduled_date, sent,
	sent_date, error, attempts, claim_token, claimed_at, created_date`

type NotificationRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewNotificationRepository(pool *pgxpool.Pool, logger *slog.Logger) *NotificationRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *NotificationRepository) CreateNotification(ctx context.Context, n domain.ScheduledNotification) (domain.ScheduledNotification, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedDate.IsZero() {
		n.CreatedDate = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (id, recipient, subject, body, prospect_id, scheduled_date,
		                           sent, sent_date, error, attempts, created_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		n.ID,
		n.Recipient,
		n.Subject,
		n.Body,
		n.ProspectID,
		n.ScheduledDate,
		n.Sent,
		n.SentDate,
		n.Error,
		n.Attempts,
		n.CreatedDate,
	)
	if err != nil {
		r.logger.Error("insert notification failed", "notification_id", n.ID, "error", err)
		return domain.ScheduledNotification{}, err
	}
	return n, nil
}

func (r *NotificationRepository) GetNotification(ctx context.Context, id uuid.UUID) (domain.ScheduledNotification, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id=$1`, id)
	if err != nil {
		return domain.ScheduledNotification{}, err
	}
	items, err := collectNotifications(rows)
	if err != nil {
		return domain.ScheduledNotification{}, err
	}
	if len(items) == 0 {
		return domain.ScheduledNotification{}, fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
	}
	return items[0], nil
}

// ClaimDueNotifications claims due notifications with a fresh token. Rows
// locked by a concurrent sweep are skipped.
func (r *NotificationRepository) ClaimDueNotifications(ctx context.Context, q domain.NotificationDueQuery) ([]domain.ScheduledNotification, error) {
	var limit *int
	if q.Limit > 0 {
		limit = &q.Limit
	}
	rows, err := r.pool.Query(ctx, `
		WITH due AS (
			SELECT id
			FROM notifications
			WHERE sent = FALSE
			  AND scheduled_date <= $1
			  AND ($3 <= 0 OR attempts < $3)
			  AND (claimed_at IS NULL OR claimed_at < $2)
			ORDER BY scheduled_date ASC, id ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		UPDATE notifications n
		SET claim_token = gen_random_uuid(),
		    claimed_at = $1
		FROM due
		WHERE n.id = due.id
		RETURNING `+prefixed("n.", notificationColumns),
		q.Now,
		q.StaleBefore,
		q.MaxAttempts,
		limit,
	)
	if err != nil {
		r.logger.Error("claim due notifications failed", "error", err)
		return nil, err
	}

	items, err := collectNotifications(rows)
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ScheduledDate.Equal(items[j].ScheduledDate) {
			return items[i].ID.String() < items[j].ID.String()
		}
		return items[i].ScheduledDate.Before(items[j].ScheduledDate)
	})
	return items, nil
}

func (r *NotificationRepository) ListFailedNotifications(ctx context.Context, limit int) ([]domain.ScheduledNotification, error) {
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE sent = FALSE AND error <> ''
		ORDER BY scheduled_date ASC, id ASC
		LIMIT $1
	`, limitArg)
	if err != nil {
		r.logger.Error("list failed notifications failed", "error", err)
		return nil, err
	}
	return collectNotifications(rows)
}

// MarkSent only touches unsent rows, so sent stays permanent.
func (r *NotificationRepository) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET sent = TRUE, sent_date = $2, claim_token = NULL, claimed_at = NULL
		WHERE id = $1 AND sent = FALSE
	`, id, sentAt)
	if err != nil {
		r.logger.Error("mark notification sent failed", "notification_id", id, "error", err)
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, r.ensureExists(ctx, id)
	}
	return true, nil
}

func (r *NotificationRepository) MarkFailed(ctx context.Context, id, claimToken uuid.UUID, message string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET error = $3, attempts = attempts + 1, claim_token = NULL, claimed_at = NULL
		WHERE id = $1 AND claim_token = $2 AND sent = FALSE
	`, id, claimToken, message)
	if err != nil {
		r.logger.Error("mark notification failed failed", "notification_id", id, "error", err)
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var sent bool
	err = r.pool.QueryRow(ctx, `SELECT sent FROM notifications WHERE id=$1`, id).Scan(&sent)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
	case err != nil:
		return err
	case sent:
		return nil
	}
	r.logger.Warn("notification claim lost", "notification_id", id)
	return domain.ErrConcurrencyConflict
}

func (r *NotificationRepository) ResetNotification(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET error = '', attempts = 0
		WHERE id = $1 AND sent = FALSE
	`, id)
	if err != nil {
		r.logger.Error("reset notification failed", "notification_id", id, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.ensureExists(ctx, id)
	}
	return nil
}

func (r *NotificationRepository) ensureExists(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM notifications WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func collectNotifications(rows pgx.Rows) ([]domain.ScheduledNotification, error) {
	defer rows.Close()

	out := make([]domain.ScheduledNotification, 0)
	for rows.Next() {
		var (
			n     domain.ScheduledNotification
			token *uuid.UUID
		)
		if err := rows.Scan(
			&n.ID,
			&n.Recipient,
			&n.Subject,
			&n.Body,
			&n.ProspectID,
			&n.ScheduledDate,
			&n.Sent,
			&n.SentDate,
			&n.Error,
			&n.Attempts,
			&token,
			&n.ClaimedAt,
			&n.CreatedDate,
		); err != nil {
			return nil, err
		}
		if token != nil {
			n.ClaimToken = *token
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
