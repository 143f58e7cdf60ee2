package followupdispatch

import (
	apperrors "followup-dispatcher/internal/common/errors"
	"followup-dispatcher/pkg/registry"
)

// Activity is the published contract of the followup-dispatch job. Process
// variables other than campaignId pass through untouched.
var Activity = registry.Activity{
	ID:          "campaign.followup-dispatch",
	DisplayName: "Dispatch follow-up emails",
	Description: "Runs one pass of the follow-up campaign: evaluates every application, sends due stage 2 and stage 3 emails and records the send markers.",
	Category:    "campaign",
	Version:     "1.0.0",
	TaskType:    TaskType,
	InputSchema: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"campaignId": map[string]interface{}{"type": "string", "minLength": 1},
		},
	},
	OutputSchema: map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"runId", "status", "records", "stage2Sent", "stage3Sent", "failures"},
		"properties": map[string]interface{}{
			"runId":        map[string]interface{}{"type": "string"},
			"status":       map[string]interface{}{"type": "string", "enum": []interface{}{StatusCompleted, StatusCompletedWithFailures}},
			"records":      map[string]interface{}{"type": "integer"},
			"stage2Sent":   map[string]interface{}{"type": "integer"},
			"stage3Sent":   map[string]interface{}{"type": "integer"},
			"deduplicated": map[string]interface{}{"type": "integer"},
			"failures":     map[string]interface{}{"type": "integer"},
			"failureCodes": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"finishedAt":   map[string]interface{}{"type": "string"},
		},
	},
	ErrorCodes: []string{
		apperrors.BPMNErrorMapping[apperrors.ErrCodeRecordFetchFailed],
		apperrors.BPMNErrorMapping[apperrors.ErrCodeConfigInvalid],
	},
	Timeout: "15m",
	Retries: 3,
	Tags:    []string{"email", "ses", "scholarship"},
}

// Registry lists the activities this service implements.
func Registry() *registry.ActivityRegistry {
	return &registry.ActivityRegistry{
		Version:    "1.0.0",
		Activities: []registry.Activity{Activity},
	}
}
