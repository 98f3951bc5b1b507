// SPDX-License-Identifier: Apache-2.0

// Package repository implements the entity store on Postgres through pgx.
package repository

import (
	"log/slog"

	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/adiadia/crm-automation/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewStore wires every collection onto pool.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) store.Store {
	return store.Store{
		Prospects:     NewDocumentRepository[domain.Prospect](pool, "prospects", logger),
		Tasks:         NewDocumentRepository[domain.Task](pool, "tasks", logger),
		Interactions:  NewDocumentRepository[domain.Interaction](pool, "interactions", logger),
		Outreach:      NewDocumentRepository[domain.Outreach](pool, "outreach", logger),
		Workflows:     NewDocumentRepository[domain.Workflow](pool, "workflows", logger),
		Runs:          NewRunRepository(pool, logger),
		Notifications: NewNotificationRepository(pool, logger),
	}
}
