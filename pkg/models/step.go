package models

import "time"

// ActionType classifies what an action does when its step executes.
type ActionType string

const (
	ActionTypeDeviceRead    ActionType = "DEVICE_READ"    // Read a value from a networked device
	ActionTypeDeviceWrite   ActionType = "DEVICE_WRITE"   // Write a value to a networked device
	ActionTypeBarcodeScan   ActionType = "BARCODE_SCAN"   // Operator-scanned value capture
	ActionTypeManualConfirm ActionType = "MANUAL_CONFIRM" // Operator confirmation, no device involved
)

// IsDeviceBound reports whether the action type dispatches to the Device Gateway.
func (t ActionType) IsDeviceBound() bool {
	return t == ActionTypeDeviceRead || t == ActionTypeDeviceWrite
}

// ProcessStep is one ordered stage of a process, bound to a workstation.
// Sequence is unique within the parent process.
type ProcessStep struct {
	ID            string        `json:"id"`
	ProcessID     string        `json:"process_id"`
	Name          string        `json:"name"     validate:"required"`
	Sequence      int           `json:"sequence" validate:"min=1"`
	WorkstationID string        `json:"workstation_id"`
	Actions       []*StepAction `json:"actions,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// StepAction is one device or logical operation within a step.
// Sequence is unique within the owning step.
type StepAction struct {
	ID             string     `json:"id"`
	StepID         string     `json:"step_id"`
	Name           string     `json:"name"`
	Sequence       int        `json:"sequence" validate:"min=1"`
	Type           ActionType `json:"type"`
	DeviceID       *string    `json:"device_id,omitempty"`
	Address        string     `json:"address,omitempty"`
	DataType       string     `json:"data_type,omitempty"`
	ExpectedValue  string     `json:"expected_value,omitempty"`
	ValidationRule string     `json:"validation_rule,omitempty"`
	Required       bool       `json:"required"`
	TimeoutSeconds int        `json:"timeout_seconds"`
	RetryCount     int        `json:"retry_count"`
}

// Device identifies a networked device an action can read from or write to.
type Device struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"` // plc, scanner, screwdriver
	IPAddress string `json:"ip_address"`
	Port      int    `json:"port"`
	PLCType   string `json:"plc_type,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
}
