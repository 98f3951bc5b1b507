// SPDX-License-Identifier: Apache-2.0

package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/adiadia/crm-automation/internal/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// Sweep emits date_based events whose date has been reached, then claims and
// resumes due runs. Runs of one prospect execute sequentially; different
// prospects execute concurrently up to the configured limit.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	ctx, span := e.tracer.Start(ctx, "automation.Sweep")
	defer span.End()

	started := time.Now()
	defer func() { metrics.ObserveSweepDuration("automation", time.Since(started)) }()

	now := e.now().UTC()
	report := SweepReport{Results: make([]RunResult, 0)}

	events, dateResults, err := e.ScanDates(ctx, now)
	if err != nil {
		// Resuming due runs does not depend on the date scan.
		e.logger.Error("date scan failed", "error", err)
	}
	report.DateEvents = events
	for _, res := range dateResults {
		report.add(res)
	}

	claimStarted := time.Now()
	due, err := e.store.Runs.ClaimDueRuns(ctx, domain.DueQuery{
		Now:         now,
		StaleBefore: now.Add(-e.reclaimAfter),
		Limit:       e.batchSize,
	})
	metrics.ObserveRunClaimLatency(time.Since(claimStarted))
	if err != nil {
		err = domain.External("entity_store", "claim due runs", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	report.Claimed = len(due)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for _, group := range groupByProspect(due) {
		g.Go(func() error {
			for _, run := range group {
				res := e.execute(ctx, run, nil, nil)
				mu.Lock()
				report.add(res)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("runs.claimed", report.Claimed),
		attribute.Int("runs.completed", report.Completed),
		attribute.Int("runs.failed", report.Failed),
	)
	e.logger.Info("automation sweep finished",
		"date_events", report.DateEvents,
		"claimed", report.Claimed,
		"completed", report.Completed,
		"suspended", report.Suspended,
		"failed", report.Failed,
		"canceled", report.Canceled,
		"skipped", report.Skipped,
	)
	return report, nil
}

// groupByProspect keeps claim order within each prospect.
func groupByProspect(runs []domain.Run) [][]domain.Run {
	index := make(map[uuid.UUID]int)
	groups := make([][]domain.Run, 0)
	for _, run := range runs {
		i, ok := index[run.ProspectID]
		if !ok {
			i = len(groups)
			index[run.ProspectID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], run)
	}
	return groups
}

// ScanDates offers a date_based event for every prospect date watched by an
// active workflow and returns how many of them started at least one run.
// Event ids embed the field, prospect and date, so a date is only ever acted
// on once per workflow.
func (e *Engine) ScanDates(ctx context.Context, now time.Time) (int, []RunResult, error) {
	wfs, err := e.activeWorkflows(ctx)
	if err != nil {
		return 0, nil, err
	}

	watched := make(map[string]bool)
	dateWorkflows := make([]domain.Workflow, 0)
	for _, wf := range wfs {
		if wf.TriggerType == domain.TriggerDateBased && wf.Runnable() {
			watched[wf.TriggerConfig.DateField] = true
			dateWorkflows = append(dateWorkflows, wf)
		}
	}
	if len(dateWorkflows) == 0 {
		return 0, nil, nil
	}

	prospects, err := e.store.Prospects.List(ctx, "created_date", 0)
	if err != nil {
		return 0, nil, domain.External("entity_store", "list prospects", err)
	}

	events := 0
	results := make([]RunResult, 0)
	for _, p := range prospects {
		for _, field := range []string{domain.DateFieldNextFollowUp, domain.DateFieldExpectedClose, domain.DateFieldLastContact} {
			if !watched[field] {
				continue
			}
			at := p.DateField(field)
			if at == nil {
				continue
			}

			snapshot := p
			ev := domain.Event{
				ID:         DateEventID(field, p.ID, *at),
				Type:       domain.TriggerDateBased,
				ProspectID: p.ID,
				DateField:  field,
				DateValue:  at,
				OccurredAt: now,
				Prospect:   &snapshot,
			}
			report, err := e.handleEvent(ctx, ev, dateWorkflows)
			if err != nil {
				e.logger.Warn("date event failed", "event_id", ev.ID, "error", err)
				continue
			}
			fresh := false
			for _, res := range report.Results {
				if res.Outcome != OutcomeDuplicate {
					results = append(results, res)
					fresh = true
				}
			}
			if fresh {
				events++
			}
		}
	}
	return events, results, nil
}

func DateEventID(field string, prospectID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("date:%s:%s:%s", field, prospectID, at.UTC().Format("2006-01-02"))
}
