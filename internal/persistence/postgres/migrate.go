// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	embeddedmigrations "github.com/adiadia/crm-automation/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaMigrationLockID int64 = 0x43524d5f4d494752 // "CRM_MIGR"

// tableColumns lists the columns the automation core reads or writes outside
// the JSONB document of each table.
type tableColumns struct {
	Table   string
	Columns []string
}

var requiredSchema = []tableColumns{
	{Table: "prospects", Columns: []string{"id", "doc", "created_date", "updated_date"}},
	{Table: "tasks", Columns: []string{"id", "doc", "created_date", "updated_date"}},
	{Table: "interactions", Columns: []string{"id", "doc", "created_date", "updated_date"}},
	{Table: "outreach", Columns: []string{"id", "doc", "created_date", "updated_date"}},
	{Table: "workflows", Columns: []string{"id", "doc", "created_date", "updated_date"}},
	{Table: "runs", Columns: []string{"event_id", "steps", "next_step_index", "resume_at", "claim_token", "claimed_at"}},
	{Table: "notifications", Columns: []string{"scheduled_date", "sent", "attempts", "claim_token", "claimed_at"}},
}

type SchemaHealthChecker struct {
	pool *pgxpool.Pool
}

func NewSchemaHealthChecker(pool *pgxpool.Pool) *SchemaHealthChecker {
	return &SchemaHealthChecker{pool: pool}
}

func (h *SchemaHealthChecker) Check(ctx context.Context) error {
	return SchemaReady(ctx, h.pool)
}

// EnsureSchema applies pending embedded migrations under a cluster-wide
// advisory lock, so concurrently starting api and worker processes migrate
// once. An applied migration whose file changed afterwards is an error.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if pool == nil {
		return errors.New("nil database pool")
	}
	if logger == nil {
		logger = slog.Default()
	}

	files, err := embeddedmigrations.Ordered()
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	if len(files) == 0 {
		return errors.New("no embedded migrations found")
	}

	started := time.Now()
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection for migrations: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, schemaMigrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, schemaMigrationLockID); err != nil {
			logger.Error("migration unlock failed", "error", err)
		}
	}()

	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return err
	}

	pending := 0
	for _, file := range files {
		sum := checksum(file.SQL)
		if recorded, ok := applied[file.Name]; ok {
			if recorded != "" && recorded != sum {
				return fmt.Errorf("migration %s changed after it was applied", file.Name)
			}
			continue
		}

		if err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, file.SQL, pgx.QueryExecModeSimpleProtocol); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)`,
				file.Name, sum)
			return err
		}); err != nil {
			return fmt.Errorf("apply migration %s: %w", file.Name, err)
		}
		logger.Info("migration applied", "file", file.Name)
		pending++
	}

	logger.Info("schema up to date",
		"applied", pending,
		"total", len(files),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return SchemaReady(ctx, pool)
}

// appliedMigrations returns applied file names with their recorded checksum.
// Rows written before checksums were tracked carry an empty checksum.
func appliedMigrations(ctx context.Context, conn *pgxpool.Conn) (map[string]string, error) {
	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT ''
	`, pgx.QueryExecModeSimpleProtocol); err != nil {
		return nil, fmt.Errorf("prepare schema_migrations: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT filename, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var name, sum string
		if err := rows.Scan(&name, &sum); err != nil {
			return nil, err
		}
		applied[name] = sum
	}
	return applied, rows.Err()
}

func checksum(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}

// SchemaReady reports every table or column the automation core needs that
// the database lacks.
func SchemaReady(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("nil database pool")
	}

	tables := make([]string, 0, len(requiredSchema))
	for _, t := range requiredSchema {
		tables = append(tables, t.Table)
	}

	rows, err := pool.Query(ctx, `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = ANY($1)
	`, tables)
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	defer rows.Close()

	present := make(map[string][]string)
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return fmt.Errorf("inspect schema: %w", err)
		}
		present[table] = append(present[table], column)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}

	return missingSchema(requiredSchema, present)
}

func missingSchema(required []tableColumns, present map[string][]string) error {
	var missingTables, missingColumns []string
	for _, t := range required {
		columns, ok := present[t.Table]
		if !ok {
			missingTables = append(missingTables, t.Table)
			continue
		}
		for _, c := range t.Columns {
			if !slices.Contains(columns, c) {
				missingColumns = append(missingColumns, t.Table+"."+c)
			}
		}
	}

	var errs []error
	if len(missingTables) > 0 {
		errs = append(errs, fmt.Errorf("required tables missing: %v", missingTables))
	}
	if len(missingColumns) > 0 {
		errs = append(errs, fmt.Errorf("required columns missing: %v", missingColumns))
	}
	return errors.Join(errs...)
}
