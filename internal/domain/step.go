// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"fmt"
)

type ActionType string

const (
	ActionCreateTask        ActionType = "create_task"
	ActionSendEmail         ActionType = "send_email"
	ActionUpdateProspect    ActionType = "update_prospect"
	ActionWaitDays          ActionType = "wait_days"
	ActionCreateInteraction ActionType = "create_interaction"
)

// Action is the typed configuration of one step. The concrete types below are
// the only implementations; executors switch over them exhaustively.
type Action interface {
	ActionType() ActionType
}

type CreateTaskAction struct {
	Title       string `json:"title"                 validate:"required,max=200"`
	Description string `json:"description,omitempty"`
	TaskType    string `json:"task_type,omitempty"   validate:"omitempty,oneof=call email meeting follow_up proposal other"`
	Priority    string `json:"priority,omitempty"    validate:"omitempty,oneof=low medium high urgent"`
	DueInDays   int    `json:"due_in_days,omitempty" validate:"gte=0,lte=365"`
	AssignedTo  string `json:"assigned_to,omitempty"`
}

type SendEmailAction struct {
	To      string `json:"to,omitempty"`
	Subject string `json:"subject"      validate:"required"`
	Body    string `json:"body"         validate:"required"`
}

type UpdateProspectAction struct {
	Fields map[string]any `json:"fields" validate:"required,min=1"`
}

type WaitDaysAction struct {
	Days int `json:"days" validate:"required,gte=1,lte=365"`
}

type CreateInteractionAction struct {
	InteractionType string `json:"interaction_type"    validate:"required,oneof=call email meeting note linkedin other"`
	Outcome         string `json:"outcome,omitempty"`
	Sentiment       string `json:"sentiment,omitempty" validate:"omitempty,oneof=positive neutral negative"`
	Notes           string `json:"notes,omitempty"`
}

func (CreateTaskAction) ActionType() ActionType        { return ActionCreateTask }
func (SendEmailAction) ActionType() ActionType         { return ActionSendEmail }
func (UpdateProspectAction) ActionType() ActionType    { return ActionUpdateProspect }
func (WaitDaysAction) ActionType() ActionType          { return ActionWaitDays }
func (CreateInteractionAction) ActionType() ActionType { return ActionCreateInteraction }

// UnmarshalJSON accepts the flat field map used by the workflow builder, e.g.
// {"fields": {...}} or directly {"status": "Qualified"}.
func (a *UpdateProspectAction) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if nested, ok := raw["fields"].(map[string]any); ok && len(raw) == 1 {
		a.Fields = nested
		return nil
	}
	a.Fields = raw
	return nil
}

// Step is one ordered unit of a workflow. On the wire it is
// {"action_type": "...", "action_config": {...}}.
type Step struct {
	Action Action
}

type stepWire struct {
	ActionType   ActionType      `json:"action_type"`
	ActionConfig json.RawMessage `json:"action_config"`
}

func (s Step) Type() ActionType {
	if s.Action == nil {
		return ""
	}
	return s.Action.ActionType()
}

func (s Step) MarshalJSON() ([]byte, error) {
	if s.Action == nil {
		return nil, fmt.Errorf("step has no action")
	}
	cfg, err := json.Marshal(s.Action)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stepWire{ActionType: s.Action.ActionType(), ActionConfig: cfg})
}

func (s *Step) UnmarshalJSON(b []byte) error {
	var w stepWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	action, err := DecodeAction(w.ActionType, w.ActionConfig)
	if err != nil {
		return err
	}
	s.Action = action
	return nil
}

// DecodeAction builds the typed action for actionType from its raw config.
func DecodeAction(actionType ActionType, cfg json.RawMessage) (Action, error) {
	if len(cfg) == 0 || string(cfg) == "null" {
		cfg = json.RawMessage(`{}`)
	}

	var (
		action Action
		err    error
	)
	switch actionType {
	case ActionCreateTask:
		var a CreateTaskAction
		err = json.Unmarshal(cfg, &a)
		action = a
	case ActionSendEmail:
		var a SendEmailAction
		err = json.Unmarshal(cfg, &a)
		action = a
	case ActionUpdateProspect:
		var a UpdateProspectAction
		err = json.Unmarshal(cfg, &a)
		action = a
	case ActionWaitDays:
		var a WaitDaysAction
		err = json.Unmarshal(cfg, &a)
		action = a
	case ActionCreateInteraction:
		var a CreateInteractionAction
		err = json.Unmarshal(cfg, &a)
		action = a
	default:
		return nil, &UnknownActionError{ActionType: string(actionType)}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s config: %w", actionType, err)
	}
	return action, nil
}

type UnknownActionError struct {
	ActionType string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action_type %q", e.ActionType)
}
