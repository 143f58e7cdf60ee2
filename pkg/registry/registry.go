// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"

	"followup-dispatcher/internal/common/validation"
)

// Find returns the activity registered for taskType.
func (r *ActivityRegistry) Find(taskType string) (*Activity, bool) {
	for i := range r.Activities {
		if r.Activities[i].TaskType == taskType {
			return &r.Activities[i], true
		}
	}
	return nil, false
}

// ValidateInput checks raw job variables against the activity's input schema.
// Empty variables are validated as an empty object.
func (a *Activity) ValidateInput(raw string) (*validation.ValidationResult, error) {
	var doc interface{} = map[string]interface{}{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode variables: %w", err)
		}
	}
	if a.InputSchema == nil {
		return &validation.ValidationResult{Valid: true}, nil
	}
	return validation.ValidateDocument(a.InputSchema, doc), nil
}

// Marshal renders the registry as indented JSON for publishing.
func (r *ActivityRegistry) Marshal() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
