// SPDX-License-Identifier: Apache-2.0

package automation

import (
	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/google/uuid"
)

// Outcome is what one attempt to start or advance a run produced.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSuspended Outcome = "suspended"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
	// OutcomeDuplicate means the event already started a run of the workflow.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeSkipped means another sweep owns the run.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeError means the run could not be advanced because a store call
	// failed outside any step; the claim expires and a later sweep retries.
	OutcomeError Outcome = "error"
)

type RunResult struct {
	RunID           uuid.UUID        `json:"run_id"`
	WorkflowID      uuid.UUID        `json:"workflow_id"`
	ProspectID      uuid.UUID        `json:"prospect_id"`
	EventID         string           `json:"event_id,omitempty"`
	Outcome         Outcome          `json:"outcome"`
	Status          domain.RunStatus `json:"status,omitempty"`
	NextStepIndex   int              `json:"next_step_index"`
	FailedStepIndex *int             `json:"failed_step_index,omitempty"`
	Error           string           `json:"error,omitempty"`
}

type EventReport struct {
	EventID string      `json:"event_id"`
	Matched int         `json:"matched"`
	Results []RunResult `json:"results"`
}

// Count returns how many results have the given outcome.
func (r EventReport) Count(o Outcome) int {
	return countOutcome(r.Results, o)
}

type SweepReport struct {
	DateEvents int         `json:"date_events"`
	Claimed    int         `json:"claimed"`
	Completed  int         `json:"completed"`
	Suspended  int         `json:"suspended"`
	Failed     int         `json:"failed"`
	Canceled   int         `json:"canceled"`
	Skipped    int         `json:"skipped"`
	Errors     int         `json:"errors"`
	Results    []RunResult `json:"results"`
}

func (r *SweepReport) add(res RunResult) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case OutcomeCompleted:
		r.Completed++
	case OutcomeSuspended:
		r.Suspended++
	case OutcomeFailed:
		r.Failed++
	case OutcomeCanceled:
		r.Canceled++
	case OutcomeSkipped, OutcomeDuplicate:
		r.Skipped++
	case OutcomeError:
		r.Errors++
	}
}

func countOutcome(results []RunResult, o Outcome) int {
	n := 0
	for _, r := range results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}
