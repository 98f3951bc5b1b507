// SPDX-License-Identifier: Apache-2.0

// Package automation runs workflows: it starts runs for matched events,
// executes their steps in order, persists wait_days suspensions and resumes
// due runs on each sweep.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adiadia/crm-automation/internal/dedup"
	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/adiadia/crm-automation/internal/mail"
	"github.com/adiadia/crm-automation/internal/metrics"
	"github.com/adiadia/crm-automation/internal/scoring"
	"github.com/adiadia/crm-automation/internal/store"
	"github.com/adiadia/crm-automation/internal/trigger"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/adiadia/crm-automation/internal/automation"

	defaultConcurrency      = 4
	defaultBatchSize        = 100
	defaultReclaimAfter     = 5 * time.Minute
	defaultWorkflowCacheTTL = 30 * time.Second

	activeWorkflowsKey = "active"
)

type Deps struct {
	Store  store.Store
	Sender mail.Sender
	// Ledger defaults to an in-process dedup.Memory.
	Ledger trigger.Ledger
	// Scorer defaults to a scoring.Service over Store.
	Scorer       *scoring.Service
	Logger       *slog.Logger
	Now          func() time.Time
	Concurrency  int
	BatchSize    int
	ReclaimAfter time.Duration
	// WorkflowCacheTTL bounds how stale the active workflow list may be.
	// A negative value disables caching.
	WorkflowCacheTTL time.Duration
	Tracer           trace.Tracer
}

type Engine struct {
	store        store.Store
	sender       mail.Sender
	ledger       trigger.Ledger
	scorer       *scoring.Service
	logger       *slog.Logger
	now          func() time.Time
	concurrency  int
	batchSize    int
	reclaimAfter time.Duration
	cacheTTL     time.Duration
	workflows    *gocache.Cache
	tracer       trace.Tracer
}

func New(deps Deps) *Engine {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		store:        deps.Store,
		sender:       deps.Sender,
		ledger:       deps.Ledger,
		scorer:       deps.Scorer,
		logger:       l,
		now:          now,
		concurrency:  deps.Concurrency,
		batchSize:    deps.BatchSize,
		reclaimAfter: deps.ReclaimAfter,
		cacheTTL:     deps.WorkflowCacheTTL,
		tracer:       deps.Tracer,
	}
	if e.sender == nil {
		e.sender = mail.LogSender{Logger: l}
	}
	if e.ledger == nil {
		e.ledger = dedup.NewMemory(dedup.DefaultTTL)
	}
	if e.scorer == nil {
		e.scorer = scoring.NewService(scoring.Deps{
			Prospects:    deps.Store.Prospects,
			Interactions: deps.Store.Interactions,
			Outreach:     deps.Store.Outreach,
			Logger:       l,
			Now:          now,
		})
	}
	if e.concurrency <= 0 {
		e.concurrency = defaultConcurrency
	}
	if e.batchSize <= 0 {
		e.batchSize = defaultBatchSize
	}
	if e.reclaimAfter <= 0 {
		e.reclaimAfter = defaultReclaimAfter
	}
	if e.cacheTTL == 0 {
		e.cacheTTL = defaultWorkflowCacheTTL
	}
	if e.cacheTTL > 0 {
		e.workflows = gocache.New(e.cacheTTL, 2*e.cacheTTL)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e
}

// InvalidateWorkflows drops the cached active workflow list. Callers that
// save workflows invoke it so new definitions match immediately.
func (e *Engine) InvalidateWorkflows() {
	if e.workflows != nil {
		e.workflows.Delete(activeWorkflowsKey)
	}
}

// activeWorkflows lists active workflows in creation order.
func (e *Engine) activeWorkflows(ctx context.Context) ([]domain.Workflow, error) {
	if e.workflows != nil {
		if cached, ok := e.workflows.Get(activeWorkflowsKey); ok {
			return cached.([]domain.Workflow), nil
		}
	}

	wfs, err := e.store.Workflows.Filter(ctx, store.Query{"active": true}, "created_date", 0)
	if err != nil {
		return nil, domain.External("entity_store", "list workflows", err)
	}
	if e.workflows != nil {
		e.workflows.SetDefault(activeWorkflowsKey, wfs)
	}
	return wfs, nil
}

// HandleEvent evaluates the event against every active workflow and starts
// one run per match. Runs execute synchronously until they complete, fail or
// suspend. Per-run failures are reported in the result, not returned.
func (e *Engine) HandleEvent(ctx context.Context, ev domain.Event) (EventReport, error) {
	ctx, span := e.tracer.Start(ctx, "automation.HandleEvent", trace.WithAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.type", string(ev.Type)),
	))
	defer span.End()

	if err := validateEvent(ev); err != nil {
		return EventReport{}, err
	}

	wfs, err := e.activeWorkflows(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return EventReport{}, err
	}

	report, err := e.handleEvent(ctx, ev, wfs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Int("workflows.matched", report.Matched))
	return report, err
}

func validateEvent(ev domain.Event) error {
	verr := &domain.ValidationError{}
	if ev.ID == "" {
		verr.Add("id", "is required")
	}
	if ev.Type == "" {
		verr.Add("type", "is required")
	}
	if ev.ProspectID == uuid.Nil && ev.Prospect == nil {
		verr.Add("prospect_id", "is required")
	}
	return verr.Err()
}

func (e *Engine) handleEvent(ctx context.Context, ev domain.Event, wfs []domain.Workflow) (EventReport, error) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = e.now().UTC()
	}
	if ev.Prospect == nil {
		p, err := e.store.Prospects.Get(ctx, ev.ProspectID)
		if err != nil {
			return EventReport{}, domain.External("entity_store", "get prospect", err)
		}
		ev.Prospect = &p
	}
	if ev.ProspectID == uuid.Nil {
		ev.ProspectID = ev.Prospect.ID
	}

	matched := trigger.Evaluate(ev, wfs)
	if e.workflows != nil && len(matched) > 0 {
		matched = e.confirm(ctx, ev, matched)
	}
	report := EventReport{EventID: ev.ID, Matched: len(matched), Results: make([]RunResult, 0, len(matched))}
	for _, wf := range matched {
		metrics.IncWorkflowMatch(wf.TriggerType)
		report.Results = append(report.Results, e.startRun(ctx, ev, wf))
	}

	if len(matched) > 0 {
		e.logger.Info("event evaluated",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"prospect_id", ev.ProspectID,
			"matched", len(matched),
		)
	}
	return report, nil
}

// confirm rereads cached matches so a workflow deactivated, deleted or edited
// by another process since the list was cached never starts a run. A read
// error keeps the cached definition; the run store still guards duplicates.
func (e *Engine) confirm(ctx context.Context, ev domain.Event, matched []domain.Workflow) []domain.Workflow {
	out := make([]domain.Workflow, 0, len(matched))
	stale := false
	for _, wf := range matched {
		current, err := e.store.Workflows.Get(ctx, wf.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			stale = true
			continue
		case err != nil:
			e.logger.Warn("reread workflow failed", "workflow_id", wf.ID, "error", err)
			out = append(out, wf)
			continue
		}
		if !current.UpdatedDate.Equal(wf.UpdatedDate) {
			stale = true
		}
		if len(trigger.Evaluate(ev, []domain.Workflow{current})) == 0 {
			e.logger.Debug("cached workflow no longer matches", "workflow_id", wf.ID, "event_id", ev.ID)
			continue
		}
		out = append(out, current)
	}
	if stale {
		e.InvalidateWorkflows()
	}
	return out
}

func (e *Engine) startRun(ctx context.Context, ev domain.Event, wf domain.Workflow) RunResult {
	res := RunResult{WorkflowID: wf.ID, ProspectID: ev.ProspectID, EventID: ev.ID}

	key := trigger.DedupKey(ev.ID, wf.ID)
	first, err := e.ledger.Claim(ctx, key)
	if err != nil {
		// The run store's unique index still rejects duplicates.
		e.logger.Warn("dedup ledger unavailable", "key", key, "error", err)
		first = true
	}
	if !first {
		res.Outcome = OutcomeDuplicate
		return res
	}

	now := e.now().UTC()
	run, err := e.store.Runs.CreateRun(ctx, domain.Run{
		WorkflowID: wf.ID,
		ProspectID: ev.ProspectID,
		EventID:    ev.ID,
		Steps:      wf.Steps,
		Status:     domain.RunRunning,
		ClaimToken: uuid.New(),
		ClaimedAt:  &now,
	})
	if errors.Is(err, domain.ErrDuplicateRun) {
		res.Outcome = OutcomeDuplicate
		return res
	}
	if err != nil {
		if relErr := e.ledger.Release(ctx, key); relErr != nil {
			e.logger.Warn("dedup release failed", "key", key, "error", relErr)
		}
		e.logger.Error("create run failed",
			"workflow_id", wf.ID,
			"event_id", ev.ID,
			"error", err,
		)
		res.Outcome = OutcomeError
		res.Error = domain.External("entity_store", "create run", err).Error()
		return res
	}

	metrics.IncRunStatus(domain.RunRunning)
	e.logger.Info("run started",
		"run_id", run.ID,
		"workflow_id", wf.ID,
		"prospect_id", run.ProspectID,
		"event_id", ev.ID,
	)
	return e.execute(ctx, run, &wf, ev.Prospect)
}

// Rescore recomputes a prospect's scores and offers the result to
// score_threshold workflows.
func (e *Engine) Rescore(ctx context.Context, prospectID uuid.UUID) (scoring.Result, EventReport, error) {
	p, res, err := e.scorer.Rescore(ctx, prospectID)
	if err != nil {
		return scoring.Result{}, EventReport{}, err
	}

	report, err := e.HandleEvent(ctx, domain.Event{
		ID:         scoreEventID(p),
		Type:       domain.TriggerScoreThreshold,
		ProspectID: p.ID,
		OccurredAt: e.now().UTC(),
		Prospect:   &p,
	})
	return res, report, err
}

// scoreEventID is stable for identical scores, so rescoring without a change
// never starts a second run.
func scoreEventID(p domain.Prospect) string {
	deal := "-"
	if p.DealValue != nil {
		deal = fmt.Sprintf("%g", *p.DealValue)
	}
	return fmt.Sprintf("score:%s:%d:%d:%d:%d:%s",
		p.ID, p.FitScore, p.EngagementScore, p.ProspectScore, p.Probability, deal)
}
