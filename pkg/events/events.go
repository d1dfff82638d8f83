// Package events defines event types for order and session lifecycle
// notifications consumed by monitoring dashboards.
package events

import (
	"time"

	"github.com/mesworks/mescore/pkg/models"
)

type EventType string

const Topic = "mescore.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Order lifecycle events.
	OrderStepStartedEvent     EventType = "order.step.started"
	OrderActionExecutedEvent  EventType = "order.action.executed"
	OrderCompletedEvent       EventType = "order.completed"
	OrderFailedEvent          EventType = "order.failed"
	OrderCancelledEvent       EventType = "order.cancelled"

	// Session lifecycle events.
	SessionLoggedInEvent  EventType = "session.logged_in"
	SessionLoggedOutEvent EventType = "session.logged_out"
	SessionTakenOverEvent EventType = "session.taken_over"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type OrderStepStarted struct {
	BaseEvent

	OrderID       string `json:"order_id"`
	StepID        string `json:"step_id"`
	WorkstationID string `json:"workstation_id"`
	StartedBy     string `json:"started_by"`
}

func (e OrderStepStarted) GetType() EventType {
	return OrderStepStartedEvent
}

type OrderActionExecuted struct {
	BaseEvent

	OrderID          string                 `json:"order_id"`
	StepID           string                 `json:"step_id"`
	ActionID         string                 `json:"action_id"`
	Status           models.ActionLogStatus `json:"status"`
	ValidationResult *bool                  `json:"validation_result,omitempty"`
	Duration         time.Duration          `json:"duration"`
}

func (e OrderActionExecuted) GetType() EventType {
	return OrderActionExecutedEvent
}

type OrderCompleted struct {
	BaseEvent

	OrderID     string    `json:"order_id"`
	CompletedBy string    `json:"completed_by"`
	CompletedAt time.Time `json:"completed_at"`
}

func (e OrderCompleted) GetType() EventType {
	return OrderCompletedEvent
}

type OrderFailed struct {
	BaseEvent

	OrderID       string `json:"order_id"`
	StepID        string `json:"step_id"`
	WorkstationID string `json:"workstation_id"`
	Reason        string `json:"reason"`
}

func (e OrderFailed) GetType() EventType {
	return OrderFailedEvent
}

type OrderCancelled struct {
	BaseEvent

	OrderID     string `json:"order_id"`
	CancelledBy string `json:"cancelled_by"`
	Reason      string `json:"reason,omitempty"`
}

func (e OrderCancelled) GetType() EventType {
	return OrderCancelledEvent
}

type SessionLoggedIn struct {
	BaseEvent

	SessionID     string `json:"session_id"`
	WorkstationID string `json:"workstation_id"`
	Username      string `json:"username"`
}

func (e SessionLoggedIn) GetType() EventType {
	return SessionLoggedInEvent
}

type SessionLoggedOut struct {
	BaseEvent

	SessionID     string                          `json:"session_id"`
	WorkstationID string                          `json:"workstation_id"`
	Username      string                          `json:"username"`
	Reason        models.SessionTerminationReason `json:"reason"`
}

func (e SessionLoggedOut) GetType() EventType {
	return SessionLoggedOutEvent
}

type SessionTakenOver struct {
	BaseEvent

	SessionID     string `json:"session_id"`
	WorkstationID string `json:"workstation_id"`
	DeposedUser   string `json:"deposed_user"`
	TakenOverBy   string `json:"taken_over_by"`
}

func (e SessionTakenOver) GetType() EventType {
	return SessionTakenOverEvent
}
