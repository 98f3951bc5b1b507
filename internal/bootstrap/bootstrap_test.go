// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/adiadia/crm-automation/internal/config"
	"github.com/adiadia/crm-automation/internal/dedup"
	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/adiadia/crm-automation/internal/mail"
	"github.com/adiadia/crm-automation/internal/scoring"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() config.Config {
	return config.Config{
		Store:            config.StoreMemory,
		DedupTTL:         time.Hour,
		WorkflowCacheTTL: -1,
	}
}

func TestBuildMemoryStore(t *testing.T) {
	ctx := context.Background()
	app, err := Build(ctx, memoryConfig(), discardLogger())
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.Health)
	require.NotNil(t, app.Engine)
	require.NotNil(t, app.Notifier)

	prospect, err := app.Store.Prospects.Create(ctx, domain.Prospect{ContactName: "Ada Lovelace", Email: "ada@x.test"})
	require.NoError(t, err)
	_, err = app.Store.Workflows.Create(ctx, domain.Workflow{
		Name:          "won",
		Active:        true,
		TriggerType:   domain.TriggerStatusChange,
		TriggerConfig: domain.TriggerConfig{ToStatus: string(domain.StatusWon)},
		Steps:         []domain.Step{{Action: domain.CreateTaskAction{Title: "Kickoff with {{first_name}}"}}},
	})
	require.NoError(t, err)

	report, err := app.Engine.HandleEvent(ctx, domain.Event{
		ID:         "evt-" + uuid.NewString(),
		Type:       domain.TriggerStatusChange,
		ProspectID: prospect.ID,
		NewStatus:  string(domain.StatusWon),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Matched)

	tasks, err := app.Store.Tasks.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Kickoff with Ada", tasks[0].Title)
}

func TestBuildUsesConfiguredScoringProfile(t *testing.T) {
	ctx := context.Background()
	retail := domain.Prospect{ContactName: "Rita", Email: "rita@shop.test", Industry: "Retail"}

	defaults, err := Build(ctx, memoryConfig(), discardLogger())
	require.NoError(t, err)
	defer defaults.Close()
	p, err := defaults.Store.Prospects.Create(ctx, retail)
	require.NoError(t, err)
	res, _, err := defaults.Engine.Rescore(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.FitScore, "retail is outside the default profile")

	cfg := memoryConfig()
	cfg.ScoringProfile = scoring.Profile{Industries: []string{"Retail"}}
	custom, err := Build(ctx, cfg, discardLogger())
	require.NoError(t, err)
	defer custom.Close()
	p, err = custom.Store.Prospects.Create(ctx, retail)
	require.NoError(t, err)
	res, _, err = custom.Engine.Rescore(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, scoring.FitScore(retail, cfg.ScoringProfile), res.FitScore)
	assert.Greater(t, res.FitScore, 0)
}

func TestBuildRejectsUnreachableRedis(t *testing.T) {
	cfg := memoryConfig()
	cfg.RedisURL = "redis://127.0.0.1:1/0"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Build(ctx, cfg, discardLogger())
	require.Error(t, err)
}

func TestBuildRejectsUnreachablePostgres(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store = config.StorePostgres
	cfg.DatabaseURL = "://not-a-url"

	_, err := Build(context.Background(), cfg, discardLogger())
	require.Error(t, err)
}

func TestNewLedgerDefaultsToMemory(t *testing.T) {
	ledger, err := newLedger(context.Background(), memoryConfig(), discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &dedup.Memory{}, ledger)
}

func TestNewSender(t *testing.T) {
	assert.IsType(t, mail.LogSender{}, newSender(memoryConfig(), discardLogger()))

	cfg := memoryConfig()
	cfg.MailWebhookURL = "https://mail.example.test/send"
	assert.IsType(t, &mail.HTTPSender{}, newSender(cfg, discardLogger()))
}
