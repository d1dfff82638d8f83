// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrOrderNotFound indicates an order was not found by the given identifier.
	ErrOrderNotFound = errors.New("order not found")

	// ErrStepNotFound indicates a process step was not found by the given identifier.
	ErrStepNotFound = errors.New("step not found")

	// ErrActionNotFound indicates a step action was not found by the given identifier.
	ErrActionNotFound = errors.New("action not found")

	// ErrDeviceNotFound indicates a device was not found by the given identifier.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrWorkstationNotFound indicates a workstation was not found by the given identifier.
	ErrWorkstationNotFound = errors.New("workstation not found")

	// ErrSessionNotFound indicates a session does not exist or is no longer active.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionConflict indicates another session is already active on the workstation.
	ErrSessionConflict = errors.New("workstation already has an active session")

	// ErrStatusConflict indicates the order's status changed under a concurrent transition.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// OrderError wraps order-related errors with additional context.
type OrderError struct {
	Op      string // Operation being performed (e.g., "GetByID", "TransitionStatus")
	OrderID string // Order ID if applicable
	Err     error  // Underlying error
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("%s operation failed for order %s: %v", e.Op, e.OrderID, e.Err)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

func (e *OrderError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewOrderError creates a new order error with context.
func NewOrderError(op, orderID string, err error) *OrderError {
	return &OrderError{
		Op:      op,
		OrderID: orderID,
		Err:     err,
	}
}

// SessionError wraps session-related errors with additional context.
type SessionError struct {
	Op            string // Operation being performed
	SessionID     string // Session ID if applicable
	WorkstationID string // Workstation ID if applicable
	Err           error  // Underlying error
}

func (e *SessionError) Error() string {
	target := e.SessionID
	if e.WorkstationID != "" {
		target = fmt.Sprintf("workstation %s", e.WorkstationID)
	}

	return fmt.Sprintf("%s operation failed for session %s: %v", e.Op, target, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func (e *SessionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewSessionError creates a new session error with context.
func NewSessionError(op, sessionID string, err error) *SessionError {
	return &SessionError{
		Op:        op,
		SessionID: sessionID,
		Err:       err,
	}
}

// NewWorkstationSessionError creates a new session error scoped to a workstation.
func NewWorkstationSessionError(op, workstationID string, err error) *SessionError {
	return &SessionError{
		Op:            op,
		WorkstationID: workstationID,
		Err:           err,
	}
}

// IsOrderNotFound checks if an error indicates an order was not found.
func IsOrderNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}

// IsStepNotFound checks if an error indicates a step was not found.
func IsStepNotFound(err error) bool {
	return errors.Is(err, ErrStepNotFound)
}

// IsActionNotFound checks if an error indicates an action was not found.
func IsActionNotFound(err error) bool {
	return errors.Is(err, ErrActionNotFound)
}

// IsDeviceNotFound checks if an error indicates a device was not found.
func IsDeviceNotFound(err error) bool {
	return errors.Is(err, ErrDeviceNotFound)
}

// IsWorkstationNotFound checks if an error indicates a workstation was not found.
func IsWorkstationNotFound(err error) bool {
	return errors.Is(err, ErrWorkstationNotFound)
}

// IsSessionNotFound checks if an error indicates a session was not found or inactive.
func IsSessionNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}

// IsSessionConflict checks if an error indicates a live session blocked the operation.
func IsSessionConflict(err error) bool {
	return errors.Is(err, ErrSessionConflict)
}

// IsStatusConflict checks if an error indicates a concurrent status transition won.
func IsStatusConflict(err error) bool {
	return errors.Is(err, ErrStatusConflict)
}
