// SPDX-License-Identifier: Apache-2.0

// Package bootstrap wires configuration into a running automation core: the
// entity store, the dedup ledger, the mail sender, the engine and the
// notification scheduler. cmd/api, cmd/worker and cmd/crmctl share it.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adiadia/crm-automation/internal/automation"
	"github.com/adiadia/crm-automation/internal/config"
	"github.com/adiadia/crm-automation/internal/dedup"
	"github.com/adiadia/crm-automation/internal/mail"
	"github.com/adiadia/crm-automation/internal/notify"
	"github.com/adiadia/crm-automation/internal/persistence/postgres"
	"github.com/adiadia/crm-automation/internal/repository"
	"github.com/adiadia/crm-automation/internal/scoring"
	"github.com/adiadia/crm-automation/internal/store"
	"github.com/adiadia/crm-automation/internal/store/memory"
	"github.com/adiadia/crm-automation/internal/trigger"
)

type HealthChecker interface {
	Check(ctx context.Context) error
}

type App struct {
	Store    store.Store
	Engine   *automation.Engine
	Notifier *notify.Scheduler
	// Health is nil for the in-memory store.
	Health HealthChecker

	closers []func()
}

// Build opens every backend named by cfg. The caller must Close the App.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{}

	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store; data is lost on exit")
		app.Store = memory.New(time.Now)
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		app.closers = append(app.closers, pool.Close)

		if cfg.AutoMigrate {
			err = postgres.EnsureSchema(ctx, pool, logger)
		} else {
			err = postgres.SchemaReady(ctx, pool)
		}
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("db schema: %w", err)
		}
		app.Store = repository.NewStore(pool, logger)
		app.Health = postgres.NewSchemaHealthChecker(pool)
	}

	ledger, err := newLedger(ctx, cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	if closer, ok := ledger.(*dedup.Redis); ok {
		app.closers = append(app.closers, func() {
			if err := closer.Close(); err != nil {
				logger.Warn("close redis ledger failed", "error", err)
			}
		})
	}

	sender := newSender(cfg, logger)

	// A Config built without Load carries no profile; scoring then uses its
	// default ICP.
	var profile *scoring.Profile
	if p := cfg.ScoringProfile; len(p.CompanySizes)+len(p.RevenueBuckets)+len(p.Industries)+len(p.Services) > 0 {
		profile = &p
	}

	app.Engine = automation.New(automation.Deps{
		Store:  app.Store,
		Sender: sender,
		Ledger: ledger,
		Scorer: scoring.NewService(scoring.Deps{
			Prospects:    app.Store.Prospects,
			Interactions: app.Store.Interactions,
			Outreach:     app.Store.Outreach,
			Profile:      profile,
			Logger:       logger,
		}),
		Logger:           logger,
		Concurrency:      cfg.SweepConcurrency,
		BatchSize:        cfg.SweepBatchSize,
		ReclaimAfter:     cfg.ReclaimAfter,
		WorkflowCacheTTL: cfg.WorkflowCacheTTL,
	})
	app.Notifier = notify.New(notify.Deps{
		Store:        app.Store.Notifications,
		Sender:       sender,
		Logger:       logger,
		MaxAttempts:  cfg.NotifyMaxAttempts,
		ReclaimAfter: cfg.ReclaimAfter,
	})
	return app, nil
}

// Close releases backends in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newLedger(ctx context.Context, cfg config.Config, logger *slog.Logger) (trigger.Ledger, error) {
	if cfg.RedisURL == "" {
		return dedup.NewMemory(cfg.DedupTTL), nil
	}
	ledger, err := dedup.DialRedis(ctx, cfg.RedisURL, cfg.DedupTTL)
	if err != nil {
		return nil, fmt.Errorf("redis ledger: %w", err)
	}
	logger.Info("using redis dedup ledger", "ttl", cfg.DedupTTL)
	return ledger, nil
}

func newSender(cfg config.Config, logger *slog.Logger) mail.Sender {
	if cfg.MailWebhookURL == "" {
		logger.Info("mail webhook not configured; emails are logged only")
		return mail.LogSender{Logger: logger}
	}
	return mail.NewHTTPSender(mail.HTTPConfig{
		URL:    cfg.MailWebhookURL,
		Secret: cfg.MailWebhookSecret,
		From:   cfg.MailFrom,
		Logger: logger,
	})
}
