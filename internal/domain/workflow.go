// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type TriggerType string

const (
	TriggerStatusChange     TriggerType = "status_change"
	TriggerDateBased        TriggerType = "date_based"
	TriggerScoreThreshold   TriggerType = "score_threshold"
	TriggerInteractionAdded TriggerType = "interaction_added"
	TriggerTaskCompleted    TriggerType = "task_completed"
)

// TriggerConfig carries the predicate fields of every trigger type; only the
// fields of the workflow's trigger_type are read.
type TriggerConfig struct {
	ToStatus        string   `json:"to_status,omitempty"        yaml:"to_status,omitempty"`
	FromStatus      string   `json:"from_status,omitempty"      yaml:"from_status,omitempty"`
	DateField       string   `json:"date_field,omitempty"       yaml:"date_field,omitempty"`
	OffsetDays      int      `json:"offset_days,omitempty"      yaml:"offset_days,omitempty"`
	ScoreField      string   `json:"score_field,omitempty"      yaml:"score_field,omitempty"`
	Threshold       *float64 `json:"threshold,omitempty"        yaml:"threshold,omitempty"`
	InteractionType string   `json:"interaction_type,omitempty" yaml:"interaction_type,omitempty"`
	TaskType        string   `json:"task_type,omitempty"        yaml:"task_type,omitempty"`
}

type Workflow struct {
	ID             uuid.UUID     `json:"id"`
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	Active         bool          `json:"active"`
	TriggerType    TriggerType   `json:"trigger_type"`
	TriggerConfig  TriggerConfig `json:"trigger_config"`
	Steps          []Step        `json:"steps"`
	ExecutionCount int           `json:"execution_count"`
	CreatedDate    time.Time     `json:"created_date"`
	UpdatedDate    time.Time     `json:"updated_date"`
}

// Runnable reports whether the workflow may start new runs.
func (w Workflow) Runnable() bool {
	return w.Active && len(w.Steps) > 0
}

// Date fields a date_based trigger may watch.
const (
	DateFieldNextFollowUp  = "next_follow_up_date"
	DateFieldExpectedClose = "expected_close_date"
	DateFieldLastContact   = "last_contact_date"
)

// Score fields a score_threshold trigger may compare.
const (
	ScoreFieldEngagement  = "engagement_score"
	ScoreFieldFit         = "fit_score"
	ScoreFieldProspect    = "prospect_score"
	ScoreFieldProbability = "probability"
	ScoreFieldDealValue   = "deal_value"
)
