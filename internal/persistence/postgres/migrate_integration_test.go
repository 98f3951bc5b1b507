//go:build integration

// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestEnsureSchemaBootstrapsEmptyDatabase(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("crm_bootstrap"),
		tcpostgres.WithUsername("crm"),
		tcpostgres.WithPassword("crm"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("skip integration test: cannot start postgres container (%v)", err)
	}
	defer func() {
		_ = container.Terminate(context.Background())
	}()

	databaseURL, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	pool, err := NewPool(ctx, databaseURL, 4)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	defer pool.Close()

	if err := SchemaReady(ctx, pool); err == nil {
		t.Fatal("expected empty database to be reported as not ready")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := EnsureSchema(ctx, pool, logger); err != nil {
		t.Fatalf("ensure schema first run: %v", err)
	}
	if err := EnsureSchema(ctx, pool, logger); err != nil {
		t.Fatalf("ensure schema second run: %v", err)
	}
	if err := NewSchemaHealthChecker(pool).Check(ctx); err != nil {
		t.Fatalf("schema ready check: %v", err)
	}

	assertMigrationCount(t, ctx, pool)

	if _, err := pool.Exec(ctx, `UPDATE schema_migrations SET checksum = 'edited' WHERE filename = '001_documents.sql'`); err != nil {
		t.Fatalf("tamper checksum: %v", err)
	}
	err = EnsureSchema(ctx, pool, logger)
	if err == nil || !strings.Contains(err.Error(), "001_documents.sql changed") {
		t.Fatalf("expected changed migration to be rejected got %v", err)
	}

	if _, err := pool.Exec(ctx, `ALTER TABLE notifications DROP COLUMN claim_token`); err != nil {
		t.Fatalf("drop column: %v", err)
	}
	err = SchemaReady(ctx, pool)
	if err == nil || !strings.Contains(err.Error(), "notifications.claim_token") {
		t.Fatalf("expected missing claim_token column got %v", err)
	}
}

func assertMigrationCount(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()

	var applied int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if applied != 4 {
		t.Fatalf("expected 4 applied migrations got %d", applied)
	}
}
