// SPDX-License-Identifier: Apache-2.0

package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/adiadia/crm-automation/internal/mail"
	"github.com/adiadia/crm-automation/internal/metrics"
)

// execute advances a claimed run from its next step over the step list the
// run started with. wf and prospect may be nil, in which case they are loaded
// from the store; the workflow is only consulted for its active flag.
func (e *Engine) execute(ctx context.Context, run domain.Run, wf *domain.Workflow, prospect *domain.Prospect) RunResult {
	if wf == nil {
		loaded, err := e.store.Workflows.Get(ctx, run.WorkflowID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return e.cancel(ctx, run, "workflow deleted")
		case err != nil:
			return e.abandon(run, domain.External("entity_store", "get workflow", err))
		}
		wf = &loaded
	}
	if !wf.Active {
		return e.cancel(ctx, run, "workflow deactivated")
	}

	if prospect == nil {
		loaded, err := e.store.Prospects.Get(ctx, run.ProspectID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return e.fail(ctx, run, run.NextStepIndex, fmt.Errorf("prospect %s: %w", run.ProspectID, domain.ErrNotFound))
		case err != nil:
			return e.abandon(run, domain.External("entity_store", "get prospect", err))
		}
		prospect = &loaded
	}

	steps := run.Steps
	if len(steps) == 0 {
		steps = wf.Steps
	}
	for i := run.NextStepIndex; i < len(steps); i++ {
		step := steps[i]

		if wait, ok := step.Action.(domain.WaitDaysAction); ok {
			metrics.IncStep(domain.ActionWaitDays, "ok")
			return e.suspend(ctx, run, i+1, wait.Days)
		}

		if err := e.apply(ctx, run, wf, prospect, step.Action); err != nil {
			metrics.IncStep(step.Type(), "error")
			return e.fail(ctx, run, i, err)
		}
		metrics.IncStep(step.Type(), "ok")
		run.NextStepIndex = i + 1
	}

	return e.complete(ctx, run)
}

// apply performs one non-wait step. prospect is refreshed in place when the
// step changes it.
func (e *Engine) apply(ctx context.Context, run domain.Run, wf *domain.Workflow, prospect *domain.Prospect, action domain.Action) error {
	now := e.now().UTC()
	vars := TemplateVars(*prospect)
	workflowID := wf.ID

	switch a := action.(type) {
	case domain.CreateTaskAction:
		task := domain.Task{
			ProspectID:  run.ProspectID,
			Title:       Render(a.Title, vars),
			Description: Render(a.Description, vars),
			TaskType:    a.TaskType,
			Priority:    a.Priority,
			Status:      domain.TaskPending,
			DueDate:     now.AddDate(0, 0, a.DueInDays),
			AssignedTo:  a.AssignedTo,
			Automated:   true,
			WorkflowID:  &workflowID,
		}
		if task.TaskType == "" {
			task.TaskType = domain.TaskTypeFollowUp
		}
		if task.Priority == "" {
			task.Priority = domain.TaskPriorityMedium
		}
		if task.AssignedTo == "" {
			task.AssignedTo = prospect.AssignedTo
		}
		if _, err := e.store.Tasks.Create(ctx, task); err != nil {
			return domain.External("entity_store", "create task", err)
		}
		return nil

	case domain.SendEmailAction:
		to := strings.TrimSpace(Render(a.To, vars))
		if to == "" {
			to = strings.TrimSpace(prospect.Email)
		}
		if to == "" {
			return errors.New("send_email: prospect has no email address")
		}
		msg := mail.Message{
			To:      to,
			Subject: Render(a.Subject, vars),
			Body:    Render(a.Body, vars),
		}
		if err := e.sender.Send(ctx, msg); err != nil {
			return domain.External("email_sender", "send", err)
		}

		updated, err := e.store.Prospects.Update(ctx, prospect.ID, map[string]any{"last_contact_date": now})
		if err != nil {
			e.logger.Warn("record last contact failed",
				"run_id", run.ID,
				"prospect_id", prospect.ID,
				"error", err,
			)
			return nil
		}
		*prospect = updated
		return nil

	case domain.UpdateProspectAction:
		updated, err := e.store.Prospects.Update(ctx, prospect.ID, a.Fields)
		if err != nil {
			return domain.External("entity_store", "update prospect", err)
		}
		*prospect = updated
		return nil

	case domain.CreateInteractionAction:
		interaction := domain.Interaction{
			ProspectID:      run.ProspectID,
			InteractionType: a.InteractionType,
			Outcome:         a.Outcome,
			Sentiment:       a.Sentiment,
			Notes:           Render(a.Notes, vars),
			InteractionDate: now,
			Automated:       true,
			WorkflowID:      &workflowID,
		}
		if _, err := e.store.Interactions.Create(ctx, interaction); err != nil {
			return domain.External("entity_store", "create interaction", err)
		}
		return nil

	case domain.WaitDaysAction:
		return errors.New("wait_days must be handled by the run loop")

	default:
		return &domain.UnknownActionError{ActionType: fmt.Sprintf("%T", action)}
	}
}

func (e *Engine) suspend(ctx context.Context, run domain.Run, next, days int) RunResult {
	resumeAt := e.now().UTC().Add(time.Duration(days) * 24 * time.Hour)
	run.NextStepIndex = next
	run.ResumeAt = &resumeAt
	run.Status = domain.RunSuspended

	if res, ok := e.save(ctx, run); !ok {
		return res
	}
	e.logger.Info("run suspended",
		"run_id", run.ID,
		"next_step_index", next,
		"resume_at", resumeAt,
	)
	return result(run, OutcomeSuspended)
}

func (e *Engine) fail(ctx context.Context, run domain.Run, stepIndex int, cause error) RunResult {
	finished := e.now().UTC()
	run.Status = domain.RunFailed
	run.FailedStepIndex = &stepIndex
	run.Error = cause.Error()
	run.ResumeAt = nil
	run.FinishedAt = &finished

	if res, ok := e.save(ctx, run); !ok {
		return res
	}
	e.logger.Error("run failed",
		"run_id", run.ID,
		"workflow_id", run.WorkflowID,
		"failed_step_index", stepIndex,
		"error", cause,
	)
	return result(run, OutcomeFailed)
}

func (e *Engine) cancel(ctx context.Context, run domain.Run, reason string) RunResult {
	finished := e.now().UTC()
	run.Status = domain.RunCanceled
	run.Error = reason
	run.ResumeAt = nil
	run.FinishedAt = &finished

	if res, ok := e.save(ctx, run); !ok {
		return res
	}
	e.logger.Info("run canceled", "run_id", run.ID, "reason", reason)
	return result(run, OutcomeCanceled)
}

func (e *Engine) complete(ctx context.Context, run domain.Run) RunResult {
	run.Status = domain.RunCompleted
	run.ResumeAt = nil

	if err := e.store.Runs.CompleteRun(ctx, run); err != nil {
		return e.saveFailed(run, err)
	}
	metrics.IncRunStatus(domain.RunCompleted)
	e.logger.Info("run completed",
		"run_id", run.ID,
		"workflow_id", run.WorkflowID,
		"prospect_id", run.ProspectID,
	)
	return result(run, OutcomeCompleted)
}

// save persists a suspended, failed or canceled run. The second result is
// false when the returned RunResult already describes a save failure.
func (e *Engine) save(ctx context.Context, run domain.Run) (RunResult, bool) {
	if err := e.store.Runs.SaveRun(ctx, run); err != nil {
		return e.saveFailed(run, err), false
	}
	metrics.IncRunStatus(run.Status)
	return RunResult{}, true
}

func (e *Engine) saveFailed(run domain.Run, err error) RunResult {
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		e.logger.Warn("run claim lost", "run_id", run.ID, "status", run.Status)
		res := result(run, OutcomeSkipped)
		res.Status = ""
		return res
	}
	return e.abandon(run, domain.External("entity_store", "save run", err))
}

// abandon leaves the run claimed; the claim goes stale and a later sweep
// picks the run up again.
func (e *Engine) abandon(run domain.Run, err error) RunResult {
	e.logger.Error("run left for reclaim",
		"run_id", run.ID,
		"workflow_id", run.WorkflowID,
		"error", err,
	)
	res := result(run, OutcomeError)
	res.Status = ""
	res.Error = err.Error()
	return res
}

func result(run domain.Run, outcome Outcome) RunResult {
	return RunResult{
		RunID:           run.ID,
		WorkflowID:      run.WorkflowID,
		ProspectID:      run.ProspectID,
		EventID:         run.EventID,
		Outcome:         outcome,
		Status:          run.Status,
		NextStepIndex:   run.NextStepIndex,
		FailedStepIndex: run.FailedStepIndex,
		Error:           run.Error,
	}
}
