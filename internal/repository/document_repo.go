// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/adiadia/crm-automation/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DocumentRepository stores one entity type as JSONB documents in a table
// created by migrations/001_documents.sql.
type DocumentRepository[T any] struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger
}

func NewDocumentRepository[T any](pool *pgxpool.Pool, table string, logger *slog.Logger) *DocumentRepository[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentRepository[T]{
		pool:   pool,
		table:  pgx.Identifier{table}.Sanitize(),
		logger: logger,
	}
}

func (r *DocumentRepository[T]) List(ctx context.Context, sort string, limit int) ([]T, error) {
	return r.Filter(ctx, nil, sort, limit)
}

func (r *DocumentRepository[T]) Filter(ctx context.Context, q store.Query, sort string, limit int) ([]T, error) {
	field, desc, err := store.ParseSort(sort)
	if err != nil {
		return nil, err
	}
	for key := range q {
		if !store.ValidField(key) {
			return nil, fmt.Errorf("invalid filter field %q", key)
		}
	}

	filter := "{}"
	if len(q) > 0 {
		b, err := json.Marshal(q)
		if err != nil {
			return nil, fmt.Errorf("encode filter: %w", err)
		}
		filter = string(b)
	}

	direction := "ASC"
	if desc {
		direction = "DESC"
	}
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT doc
		FROM %s
		WHERE doc @> $1::jsonb
		ORDER BY %s %s NULLS LAST, id ASC
		LIMIT $2
	`, r.table, orderExpr(field), direction), filter, limitArg)
	if err != nil {
		r.logger.Error("filter documents failed", "table", r.table, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s document: %w", r.table, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// orderExpr maps a validated field name to a sortable SQL expression. Date
// fields are compared as timestamps, not as their string encoding.
func orderExpr(field string) string {
	switch {
	case field == "id" || field == "created_date" || field == "updated_date":
		return field
	case strings.HasSuffix(field, "_date") || strings.HasSuffix(field, "_at"):
		return fmt.Sprintf("NULLIF(doc->>'%s', '')::timestamptz", field)
	default:
		return fmt.Sprintf("doc->'%s'", field)
	}
}

func (r *DocumentRepository[T]) Get(ctx context.Context, id uuid.UUID) (T, error) {
	var zero T
	var raw []byte
	err := r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT doc FROM %s WHERE id=$1`, r.table),
		id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, fmt.Errorf("%s %s: %w", r.table, id, domain.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("get document failed", "table", r.table, "id", id, "error", err)
		return zero, err
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, fmt.Errorf("decode %s document: %w", r.table, err)
	}
	return v, nil
}

func (r *DocumentRepository[T]) Create(ctx context.Context, v T) (T, error) {
	var zero T
	doc, err := toDocument(v)
	if err != nil {
		return zero, err
	}

	id, _ := uuid.Parse(fmt.Sprint(doc["id"]))
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := time.Now().UTC()
	doc["id"] = id.String()
	created := now
	if s, ok := doc["created_date"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil && !t.IsZero() {
			created = t
		}
	}
	doc["created_date"] = created.Format(time.RFC3339Nano)
	if _, ok := doc["updated_date"]; ok {
		doc["updated_date"] = now.Format(time.RFC3339Nano)
	}

	out, encoded, err := decodeDocument[T](doc)
	if err != nil {
		return zero, err
	}

	if _, err := r.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, doc, created_date, updated_date) VALUES ($1, $2::jsonb, $3, $4)`, r.table),
		id, encoded, created, now,
	); err != nil {
		r.logger.Error("insert document failed", "table", r.table, "id", id, "error", err)
		return zero, err
	}
	return out, nil
}

// Update merges partial into the stored document. The merged document must
// still decode as T, otherwise nothing is written.
func (r *DocumentRepository[T]) Update(ctx context.Context, id uuid.UUID, partial map[string]any) (T, error) {
	var zero T
	patch, err := toDocument(partial)
	if err != nil {
		return zero, err
	}
	for field := range patch {
		if field == "id" || !store.ValidField(field) {
			return zero, fmt.Errorf("%s: field %q cannot be updated", r.table, field)
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return zero, err
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT doc FROM %s WHERE id=$1 FOR UPDATE`, r.table),
		id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, fmt.Errorf("%s %s: %w", r.table, id, domain.ErrNotFound)
	}
	if err != nil {
		return zero, err
	}

	var current map[string]any
	if err := json.Unmarshal(raw, &current); err != nil {
		return zero, fmt.Errorf("decode %s document: %w", r.table, err)
	}
	for k, v := range patch {
		current[k] = v
	}
	now := time.Now().UTC()
	if _, ok := current["updated_date"]; ok {
		current["updated_date"] = now.Format(time.RFC3339Nano)
	}

	out, encoded, err := decodeDocument[T](current)
	if err != nil {
		return zero, fmt.Errorf("%s: apply update: %w", r.table, err)
	}

	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET doc=$2::jsonb, updated_date=$3 WHERE id=$1`, r.table),
		id, encoded, now,
	); err != nil {
		r.logger.Error("update document failed", "table", r.table, "id", id, "error", err)
		return zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit failed", "table", r.table, "id", id, "error", err)
		return zero, err
	}
	return out, nil
}

func (r *DocumentRepository[T]) Delete(ctx context.Context, id uuid.UUID) error {
	cmd, err := r.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=$1`, r.table), id)
	if err != nil {
		r.logger.Error("delete document failed", "table", r.table, "id", id, "error", err)
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", r.table, id, domain.ErrNotFound)
	}
	return nil
}

func toDocument(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	doc := make(map[string]any)
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// decodeDocument returns doc as T together with its JSON text.
func decodeDocument[T any](doc map[string]any) (T, string, error) {
	var v T
	b, err := json.Marshal(doc)
	if err != nil {
		return v, "", err
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, "", err
	}
	return v, string(b), nil
}
