// SPDX-License-Identifier: Apache-2.0

// Package workflowdef decodes and validates workflow definitions supplied by
// the workflow builder (JSON) or by operators (YAML).
package workflowdef

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/adiadia/crm-automation/internal/domain"
	"gopkg.in/yaml.v3"
)

type definition struct {
	Name          string               `json:"name"`
	Description   string               `json:"description"`
	Active        *bool                `json:"active"`
	TriggerType   domain.TriggerType   `json:"trigger_type"`
	TriggerConfig domain.TriggerConfig `json:"trigger_config"`
	Steps         []json.RawMessage    `json:"steps"`
}

// Decode parses a JSON definition and validates it. Identity and counters
// (id, execution_count, dates) are never taken from the wire. A definition
// without "active" is active.
func Decode(raw []byte) (domain.Workflow, error) {
	if err := checkSchema(raw); err != nil {
		return domain.Workflow{}, err
	}

	var def definition
	if err := json.Unmarshal(raw, &def); err != nil {
		verr := &domain.ValidationError{}
		return domain.Workflow{}, verr.Add("(root)", err.Error())
	}

	wf := domain.Workflow{
		Name:          strings.TrimSpace(def.Name),
		Description:   def.Description,
		Active:        def.Active == nil || *def.Active,
		TriggerType:   def.TriggerType,
		TriggerConfig: def.TriggerConfig,
		Steps:         make([]domain.Step, 0, len(def.Steps)),
	}

	verr := &domain.ValidationError{}
	for i, rawStep := range def.Steps {
		var step domain.Step
		if err := json.Unmarshal(rawStep, &step); err != nil {
			var unknown *domain.UnknownActionError
			if errors.As(err, &unknown) {
				verr.Add(fmt.Sprintf("steps[%d].action_type", i), err.Error())
			} else {
				verr.Add(fmt.Sprintf("steps[%d].action_config", i), err.Error())
			}
			continue
		}
		wf.Steps = append(wf.Steps, step)
	}
	if err := verr.Err(); err != nil {
		return domain.Workflow{}, err
	}

	if err := Validate(wf); err != nil {
		return domain.Workflow{}, err
	}
	return wf, nil
}

// ReplacementFields decodes a full JSON definition sent to replace a stored
// workflow and returns it as a partial update. "active" is only part of the
// update when the definition carries it, so replacing a deactivated workflow
// never switches it back on implicitly.
func ReplacementFields(raw []byte) (map[string]any, error) {
	wf, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	var presence struct {
		Active *bool `json:"active"`
	}
	if err := json.Unmarshal(raw, &presence); err != nil {
		verr := &domain.ValidationError{}
		return nil, verr.Add("(root)", err.Error())
	}

	fields := map[string]any{
		"name":           wf.Name,
		"description":    wf.Description,
		"trigger_type":   wf.TriggerType,
		"trigger_config": wf.TriggerConfig,
		"steps":          wf.Steps,
	}
	if presence.Active != nil {
		fields["active"] = *presence.Active
	}
	return fields, nil
}

// DecodeYAML accepts the same document written as YAML.
func DecodeYAML(raw []byte) (domain.Workflow, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		verr := &domain.ValidationError{}
		return domain.Workflow{}, verr.Add("(root)", "invalid YAML: "+err.Error())
	}

	asJSON, err := json.Marshal(normalizeYAML(doc))
	if err != nil {
		verr := &domain.ValidationError{}
		return domain.Workflow{}, verr.Add("(root)", err.Error())
	}
	return Decode(asJSON)
}

// DecodeFile picks the decoder from the file extension.
func DecodeFile(name string, raw []byte) (domain.Workflow, error) {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") {
		return DecodeYAML(raw)
	}
	return Decode(raw)
}

// normalizeYAML turns mappings with non-string keys into JSON-compatible maps.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			t[k] = normalizeYAML(inner)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[fmt.Sprint(k)] = normalizeYAML(inner)
		}
		return out
	case []any:
		for i, inner := range t {
			t[i] = normalizeYAML(inner)
		}
		return t
	default:
		return v
	}
}
