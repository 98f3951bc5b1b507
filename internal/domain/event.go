// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is a domain event offered to the trigger evaluator. ID identifies the
// physical event; redelivering the same ID never starts a second run of the
// same workflow.
type Event struct {
	ID              string      `json:"id"`
	Type            TriggerType `json:"type"`
	ProspectID      uuid.UUID   `json:"prospect_id"`
	NewStatus       string      `json:"new_status,omitempty"`
	OldStatus       string      `json:"old_status,omitempty"`
	InteractionType string      `json:"interaction_type,omitempty"`
	TaskType        string      `json:"task_type,omitempty"`
	DateField       string      `json:"date_field,omitempty"`
	DateValue       *time.Time  `json:"date_value,omitempty"`
	OccurredAt      time.Time   `json:"occurred_at"`
	Prospect        *Prospect   `json:"prospect,omitempty"`
}
