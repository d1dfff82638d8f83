// Package models defines the core domain models for production order tracking
// and workstation-session orchestration.
package models

import "time"

// OrderStatus represents the lifecycle state of a production order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"     // Created, no step started yet
	OrderStatusInProgress OrderStatus = "IN_PROGRESS" // At least one step started
	OrderStatusCompleted  OrderStatus = "COMPLETED"   // All steps finished successfully
	OrderStatusFailed     OrderStatus = "FAILED"      // A step was completed with failure
	OrderStatusCancelled  OrderStatus = "CANCELLED"   // Forced off the line by an operator
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed || s == OrderStatusCancelled
}

// Order represents one production run tracked through a process.
//
// CurrentStepID and CurrentStationID are cleared rather than failing reads
// when they point at entities that no longer exist.
type Order struct {
	ID               string      `json:"id"`
	OrderNumber      string      `json:"order_number"      validate:"required"`
	ProductionNumber string      `json:"production_number" validate:"required"`
	Quantity         int         `json:"quantity"          validate:"min=1"`
	Status           OrderStatus `json:"status"`
	ProcessID        string      `json:"process_id"`
	CurrentStepID    *string     `json:"current_step_id,omitempty"`
	CurrentStationID *string     `json:"current_station_id,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
}

// OrderStatusHistory is one row of the append-only status transition ledger.
type OrderStatusHistory struct {
	ID         string      `json:"id"`
	OrderID    string      `json:"order_id"`
	FromStatus OrderStatus `json:"from_status"`
	ToStatus   OrderStatus `json:"to_status"`
	ChangedBy  string      `json:"changed_by"`
	ChangedAt  time.Time   `json:"changed_at"`
	Reason     string      `json:"reason,omitempty"`
}
