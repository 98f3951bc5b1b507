// SPDX-License-Identifier: Apache-2.0

package workflowdef

import (
	"fmt"
	"sync"

	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/xeipuuv/gojsonschema"
)

const definitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "trigger_type", "steps"],
  "properties": {
    "name": {"type": "string"},
    "description": {"type": "string"},
    "active": {"type": "boolean"},
    "trigger_type": {
      "enum": ["status_change", "date_based", "score_threshold", "interaction_added", "task_completed"]
    },
    "trigger_config": {
      "type": "object",
      "properties": {
        "to_status": {"type": "string"},
        "from_status": {"type": "string"},
        "date_field": {"type": "string"},
        "offset_days": {"type": "integer"},
        "score_field": {"type": "string"},
        "threshold": {"type": "number"},
        "interaction_type": {"type": "string"},
        "task_type": {"type": "string"}
      }
    },
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["action_type"],
        "properties": {
          "action_type": {
            "enum": ["create_task", "send_email", "update_prospect", "wait_days", "create_interaction"]
          },
          "action_config": {"type": "object"}
        }
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(definitionSchema))
})

// checkSchema validates the raw JSON document shape before it is decoded.
func checkSchema(raw []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile definition schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		verr := &domain.ValidationError{}
		return verr.Add("(root)", "invalid JSON: "+err.Error())
	}
	if result.Valid() {
		return nil
	}

	verr := &domain.ValidationError{}
	for _, re := range result.Errors() {
		verr.Add(re.Field(), re.Description())
	}
	return verr
}
