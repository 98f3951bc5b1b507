// SPDX-License-Identifier: Apache-2.0

// Package trigger matches domain events against workflow definitions.
package trigger

import (
	"strings"
	"time"

	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/google/uuid"
)

// Evaluate returns, in input order, the workflows the event starts. Only
// active workflows with at least one step are considered.
func Evaluate(ev domain.Event, workflows []domain.Workflow) []domain.Workflow {
	matched := make([]domain.Workflow, 0, len(workflows))
	for _, wf := range workflows {
		if !wf.Runnable() || wf.TriggerType != ev.Type {
			continue
		}
		if Matches(ev, wf.TriggerType, wf.TriggerConfig) {
			matched = append(matched, wf)
		}
	}
	return matched
}

// Matches evaluates one trigger predicate against an event of the same type.
func Matches(ev domain.Event, typ domain.TriggerType, cfg domain.TriggerConfig) bool {
	switch typ {
	case domain.TriggerStatusChange:
		if cfg.ToStatus == "" || ev.NewStatus != cfg.ToStatus {
			return false
		}
		return cfg.FromStatus == "" || ev.OldStatus == cfg.FromStatus
	case domain.TriggerScoreThreshold:
		if ev.Prospect == nil || cfg.Threshold == nil {
			return false
		}
		v, ok := ev.Prospect.ScoreField(cfg.ScoreField)
		return ok && v >= *cfg.Threshold
	case domain.TriggerInteractionAdded:
		return optionalEqual(cfg.InteractionType, ev.InteractionType)
	case domain.TriggerTaskCompleted:
		return optionalEqual(cfg.TaskType, ev.TaskType)
	case domain.TriggerDateBased:
		if cfg.DateField == "" || ev.DateField != cfg.DateField || ev.DateValue == nil {
			return false
		}
		return DateReached(*ev.DateValue, cfg.OffsetDays, ev.OccurredAt)
	default:
		return false
	}
}

// DateReached reports whether at (shifted by offsetDays) is at or before now.
func DateReached(at time.Time, offsetDays int, now time.Time) bool {
	target := at.AddDate(0, 0, offsetDays)
	return !now.Before(target)
}

func optionalEqual(want, got string) bool {
	want = strings.TrimSpace(want)
	return want == "" || strings.EqualFold(want, strings.TrimSpace(got))
}

// DedupKey identifies the single run an event may start for a workflow.
func DedupKey(eventID string, workflowID uuid.UUID) string {
	return eventID + "|" + workflowID.String()
}
