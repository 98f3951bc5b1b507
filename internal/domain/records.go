// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type Interaction struct {
	ID              uuid.UUID  `json:"id"`
	ProspectID      uuid.UUID  `json:"prospect_id"`
	InteractionType string     `json:"interaction_type"`
	Outcome         string     `json:"outcome,omitempty"`
	Sentiment       string     `json:"sentiment,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	InteractionDate time.Time  `json:"interaction_date"`
	Automated       bool       `json:"automated"`
	WorkflowID      *uuid.UUID `json:"workflow_id,omitempty"`
	CreatedDate     time.Time  `json:"created_date"`
}

// Outreach is one outbound touch (email sequence message, LinkedIn note)
// and how the prospect reacted to it.
type Outreach struct {
	ID          uuid.UUID `json:"id"`
	ProspectID  uuid.UUID `json:"prospect_id"`
	Channel     string    `json:"channel"`
	Status      string    `json:"status"`
	SentDate    time.Time `json:"sent_date"`
	CreatedDate time.Time `json:"created_date"`
}

const (
	OutreachSent    = "sent"
	OutreachOpened  = "opened"
	OutreachReplied = "replied"
	OutreachBounced = "bounced"
)

type Task struct {
	ID          uuid.UUID  `json:"id"`
	ProspectID  uuid.UUID  `json:"prospect_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	TaskType    string     `json:"task_type"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	DueDate     time.Time  `json:"due_date"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	Automated   bool       `json:"automated"`
	WorkflowID  *uuid.UUID `json:"workflow_id,omitempty"`
	CreatedDate time.Time  `json:"created_date"`
}

const (
	TaskPending   = "pending"
	TaskCompleted = "completed"

	TaskPriorityMedium = "medium"
	TaskTypeFollowUp   = "follow_up"
)

type ScheduledNotification struct {
	ID            uuid.UUID  `json:"id"`
	Recipient     string     `json:"recipient"      validate:"required,email"`
	Subject       string     `json:"subject"        validate:"required"`
	Body          string     `json:"body"`
	ProspectID    *uuid.UUID `json:"prospect_id,omitempty"`
	ScheduledDate time.Time  `json:"scheduled_date" validate:"required"`
	Sent          bool       `json:"sent"`
	SentDate      *time.Time `json:"sent_date,omitempty"`
	Error         string     `json:"error,omitempty"`
	Attempts      int        `json:"attempts"`
	ClaimToken    uuid.UUID  `json:"-"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	CreatedDate   time.Time  `json:"created_date"`
}

// NotificationDueQuery selects notifications a sweep may claim: unsent, due
// by Now, under MaxAttempts failures, and unclaimed or claimed before
// StaleBefore.
type NotificationDueQuery struct {
	Now         time.Time
	StaleBefore time.Time
	MaxAttempts int
	Limit       int
}
