// SPDX-License-Identifier: Apache-2.0

package workflowdef

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/adiadia/crm-automation/internal/store"
)

const maxOffsetDays = 365

var statuses = map[domain.ProspectStatus]bool{
	domain.StatusNew:         true,
	domain.StatusContacted:   true,
	domain.StatusQualified:   true,
	domain.StatusProposal:    true,
	domain.StatusNegotiation: true,
	domain.StatusWon:         true,
	domain.StatusLost:        true,
}

var dateFields = map[string]bool{
	domain.DateFieldNextFollowUp:  true,
	domain.DateFieldExpectedClose: true,
	domain.DateFieldLastContact:   true,
}

var scoreFields = map[string]bool{
	domain.ScoreFieldEngagement:  true,
	domain.ScoreFieldFit:         true,
	domain.ScoreFieldProspect:    true,
	domain.ScoreFieldProbability: true,
	domain.ScoreFieldDealValue:   true,
}

// Validate checks a decoded workflow. It returns a *domain.ValidationError
// listing every problem found.
func Validate(wf domain.Workflow) error {
	verr := &domain.ValidationError{}

	if strings.TrimSpace(wf.Name) == "" {
		verr.Add("name", "is required")
	}
	validateTrigger(verr, wf.TriggerType, wf.TriggerConfig)

	if len(wf.Steps) == 0 {
		verr.Add("steps", "at least one step is required")
	}
	for i, step := range wf.Steps {
		validateStep(verr, fmt.Sprintf("steps[%d]", i), step)
	}
	return verr.Err()
}

func validateTrigger(verr *domain.ValidationError, typ domain.TriggerType, cfg domain.TriggerConfig) {
	switch typ {
	case domain.TriggerStatusChange:
		if cfg.ToStatus == "" {
			verr.Add("trigger_config.to_status", "is required")
		} else if !statuses[domain.ProspectStatus(cfg.ToStatus)] {
			verr.Add("trigger_config.to_status", fmt.Sprintf("unknown status %q", cfg.ToStatus))
		}
		if cfg.FromStatus != "" && !statuses[domain.ProspectStatus(cfg.FromStatus)] {
			verr.Add("trigger_config.from_status", fmt.Sprintf("unknown status %q", cfg.FromStatus))
		}
	case domain.TriggerDateBased:
		if !dateFields[cfg.DateField] {
			verr.Add("trigger_config.date_field", fmt.Sprintf("must be one of %s", keys(dateFields)))
		}
		if cfg.OffsetDays < -maxOffsetDays || cfg.OffsetDays > maxOffsetDays {
			verr.Add("trigger_config.offset_days", fmt.Sprintf("must be within ±%d", maxOffsetDays))
		}
	case domain.TriggerScoreThreshold:
		if !scoreFields[cfg.ScoreField] {
			verr.Add("trigger_config.score_field", fmt.Sprintf("must be one of %s", keys(scoreFields)))
		}
		if cfg.Threshold == nil {
			verr.Add("trigger_config.threshold", "is required")
		}
	case domain.TriggerInteractionAdded, domain.TriggerTaskCompleted:
	case "":
		verr.Add("trigger_type", "is required")
	default:
		verr.Add("trigger_type", fmt.Sprintf("unknown trigger_type %q", typ))
	}
}

func validateStep(verr *domain.ValidationError, prefix string, step domain.Step) {
	if step.Action == nil {
		verr.Add(prefix+".action_type", "is required")
		return
	}

	domain.CheckStruct(verr, prefix+".action_config.", step.Action)

	if a, ok := step.Action.(domain.UpdateProspectAction); ok {
		for field, value := range a.Fields {
			path := prefix + ".action_config." + field
			switch {
			case !store.ValidField(field) || !domain.UpdatableProspectFields[field]:
				verr.Add(path, "field cannot be updated by a workflow")
			case field == "status":
				s, _ := value.(string)
				if !statuses[domain.ProspectStatus(s)] {
					verr.Add(path, fmt.Sprintf("unknown status %v", value))
				}
			default:
				if err := checkProspectValue(field, value); err != nil {
					verr.Add(path, err.Error())
				}
			}
		}
	}
}

// checkProspectValue decodes {field: value} into a Prospect the way the
// entity store applies a partial update, so a value of the wrong type is
// rejected before any run reaches it.
func checkProspectValue(field string, value any) error {
	raw, err := json.Marshal(map[string]any{field: value})
	if err != nil {
		return fmt.Errorf("unsupported value: %w", err)
	}
	var p domain.Prospect
	if err := json.Unmarshal(raw, &p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("must be a %s, got %s", typeErr.Type, typeErr.Value)
		}
		return fmt.Errorf("invalid value: %w", err)
	}
	return nil
}

func keys(m map[string]bool) string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return strings.Join(out, ", ")
}
