package models

import "time"

// ActionLogStatus is the outcome of one action execution attempt.
type ActionLogStatus string

const (
	ActionLogSuccess ActionLogStatus = "SUCCESS"
	ActionLogFailed  ActionLogStatus = "FAILED"
)

// ActionLog is the append-only audit record of one action execution attempt,
// written after every device dispatch whether it succeeded or not.
type ActionLog struct {
	ID               string          `json:"id"`
	ActionID         string          `json:"action_id"`
	OrderID          string          `json:"order_id"`
	StepID           string          `json:"step_id"`
	DeviceID         *string         `json:"device_id,omitempty"`
	Status           ActionLogStatus `json:"status"`
	RequestPayload   string          `json:"request_payload,omitempty"`
	ResponsePayload  string          `json:"response_payload,omitempty"`
	ActualValue      string          `json:"actual_value,omitempty"`
	ValidationResult *bool           `json:"validation_result,omitempty"`
	DurationMillis   int64           `json:"duration_millis"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	ExecutedBy       string          `json:"executed_by"`
	ExecutedAt       time.Time       `json:"executed_at"`
}
