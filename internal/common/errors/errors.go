// Package errors provides the standardized error type shared by the dispatch
// loop, the record stores and the job triggers.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Fatal for a run.
	ErrCodeRecordFetchFailed ErrorCode = "RECORD_FETCH_FAILED"
	ErrCodeConfigInvalid     ErrorCode = "CONFIG_INVALID"

	// Recoverable, isolated to one (record, stage).
	ErrCodeTierNotFound           ErrorCode = "TIER_NOT_FOUND"
	ErrCodeInvalidTimestamp       ErrorCode = "INVALID_TIMESTAMP"
	ErrCodeTemplateLoadFailed     ErrorCode = "TEMPLATE_LOAD_FAILED"
	ErrCodeTemplateRenderFailed   ErrorCode = "TEMPLATE_RENDER_FAILED"
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeMarkerUpdateFailed     ErrorCode = "MARKER_UPDATE_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// IsFatal reports whether the error must abort the whole run.
func (e *StandardError) IsFatal() bool {
	return e.Code == ErrCodeRecordFetchFailed || e.Code == ErrCodeConfigInvalid
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message string, cause error, retryable bool, metadata map[string]interface{}) *StandardError {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewRecordFetchFailedError is returned when the campaign's record list
// cannot be obtained in full.
func NewRecordFetchFailedError(campaign string, err error) *StandardError {
	return newError(ErrCodeRecordFetchFailed, "Failed to fetch campaign records", err, true,
		map[string]interface{}{"campaign": campaign})
}

// NewConfigInvalidError creates a non-retryable configuration error.
func NewConfigInvalidError(details string) *StandardError {
	return newError(ErrCodeConfigInvalid, "Invalid configuration", stderrors.New(details), false, nil)
}

// NewTierNotFoundError is a data error: the record's assistance tier has no pricing entry.
func NewTierNotFoundError(tier string) *StandardError {
	return newError(ErrCodeTierNotFound, "Invalid assistance value",
		fmt.Errorf("no pricing entry for tier %q", tier), false,
		map[string]interface{}{"tier": tier})
}

// NewInvalidTimestampError is a data error for a present but unparseable timestamp.
func NewInvalidTimestampError(field, value string, err error) *StandardError {
	return newError(ErrCodeInvalidTimestamp, "Malformed timestamp",
		fmt.Errorf("%s=%q: %w", field, value, err), false,
		map[string]interface{}{"field": field})
}

// NewTemplateLoadFailedError wraps a template asset read failure.
func NewTemplateLoadFailedError(name string, err error) *StandardError {
	return newError(ErrCodeTemplateLoadFailed, "Failed to load template", err, true,
		map[string]interface{}{"template": name})
}

// NewTemplateRenderFailedError wraps a render failure.
func NewTemplateRenderFailedError(details string) *StandardError {
	return newError(ErrCodeTemplateRenderFailed, "Failed to render template", stderrors.New(details), false, nil)
}

// NewNotificationSendFailedError wraps a transport rejection.
func NewNotificationSendFailedError(stage string, err error) *StandardError {
	return newError(ErrCodeNotificationSendFailed, "Failed to send notification", err, true,
		map[string]interface{}{"stage": stage})
}

// NewMarkerUpdateFailedError wraps a failure writing a stage sent-marker.
func NewMarkerUpdateFailedError(stage string, err error) *StandardError {
	return newError(ErrCodeMarkerUpdateFailed, "Failed to record stage as sent", err, true,
		map[string]interface{}{"stage": stage})
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeRecordFetchFailed:      "FOLLOWUP_RECORD_FETCH_FAILED",
	ErrCodeConfigInvalid:          "FOLLOWUP_CONFIG_INVALID",
	ErrCodeTierNotFound:           "FOLLOWUP_TIER_NOT_FOUND",
	ErrCodeInvalidTimestamp:       "FOLLOWUP_INVALID_TIMESTAMP",
	ErrCodeTemplateLoadFailed:     "FOLLOWUP_TEMPLATE_LOAD_FAILED",
	ErrCodeTemplateRenderFailed:   "FOLLOWUP_TEMPLATE_RENDER_FAILED",
	ErrCodeNotificationSendFailed: "FOLLOWUP_NOTIFICATION_SEND_FAILED",
	ErrCodeMarkerUpdateFailed:     "FOLLOWUP_MARKER_UPDATE_FAILED",
}

// GetRetryCount returns the recommended job retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeRecordFetchFailed:
		return 3
	case ErrCodeNotificationSendFailed,
		ErrCodeMarkerUpdateFailed,
		ErrCodeTemplateLoadFailed:
		return 1
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// Normalize returns err as a *StandardError, wrapping foreign errors as INTERNAL_ERROR.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return newError(ErrCodeInternal, "Unexpected error", err, false, nil)
}

// CodeOf returns the error code carried by err, or INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	if se := Normalize(err); se != nil {
		return se.Code
	}
	return ""
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "RECORD") || strings.Contains(codeStr, "MARKER"):
		return "STORE"
	case strings.Contains(codeStr, "TEMPLATE"):
		return "TEMPLATE"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "TIER") || strings.Contains(codeStr, "TIMESTAMP"):
		return "DATA"
	case strings.Contains(codeStr, "CONFIG"):
		return "CONFIG"
	default:
		return "OTHER"
	}
}
