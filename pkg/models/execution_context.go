package models

// ExecutionContext identifies who is advancing which order where. Every
// engine operation carries one.
type ExecutionContext struct {
	OrderID       string `json:"order_id"       validate:"required"`
	StepID        string `json:"step_id"        validate:"required"`
	WorkstationID string `json:"workstation_id" validate:"required"`
	SessionID     string `json:"session_id"`
	ExecutedBy    string `json:"executed_by"    validate:"required"`
}
