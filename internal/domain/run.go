// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunSuspended RunStatus = "SUSPENDED"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunCanceled  RunStatus = "CANCELED"
)

// Terminal reports whether no further step of the run may execute.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCanceled:
		return true
	default:
		return false
	}
}

// Run is one execution of a workflow for one prospect, started by one event.
type Run struct {
	ID              uuid.UUID  `json:"id"`
	WorkflowID      uuid.UUID  `json:"workflow_id"`
	ProspectID      uuid.UUID  `json:"prospect_id"`
	EventID         string     `json:"event_id"`
	// Steps is the workflow's step list as it was when the run started.
	// Later edits of the workflow never reach a run already in flight.
	Steps           []Step     `json:"steps,omitempty"`
	NextStepIndex   int        `json:"next_step_index"`
	ResumeAt        *time.Time `json:"resume_at,omitempty"`
	Status          RunStatus  `json:"status"`
	ClaimToken      uuid.UUID  `json:"-"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
	FailedStepIndex *int       `json:"failed_step_index,omitempty"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// RunFilter narrows ListRuns. Zero values mean "any".
type RunFilter struct {
	Status     RunStatus
	WorkflowID uuid.UUID
	ProspectID uuid.UUID
	Limit      int
}

// DueQuery selects runs a sweep may claim: suspended runs whose resume time
// has passed, and running runs whose claim is older than StaleBefore.
type DueQuery struct {
	Now         time.Time
	StaleBefore time.Time
	Limit       int
}
