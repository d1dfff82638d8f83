// Package services implements the session manager and the workflow
// execution engine on top of the persistence and gateway layers.
package services

import (
	"errors"
	"fmt"

	"github.com/mesworks/mescore/pkg/gateway"
	"github.com/mesworks/mescore/pkg/persistence"
)

// Validation errors (4xx, never retried automatically).
var (
	ErrOrderNotFound       = persistence.ErrOrderNotFound
	ErrStepNotFound        = persistence.ErrStepNotFound
	ErrActionNotFound      = persistence.ErrActionNotFound
	ErrDeviceNotFound      = persistence.ErrDeviceNotFound
	ErrWorkstationNotFound = persistence.ErrWorkstationNotFound

	// ErrOrderTerminal indicates the order is in a terminal status and cannot advance.
	ErrOrderTerminal = errors.New("order is in a terminal status")

	// ErrOrderNotInProgress indicates a step completion was requested before any step started.
	ErrOrderNotInProgress = errors.New("order has no step in progress")

	// ErrWorkstationMismatch indicates the step is not bound to the requesting workstation.
	ErrWorkstationMismatch = errors.New("step is not bound to this workstation")

	// ErrDeviceNotConfigured indicates a device-bound action has no device reference or address.
	ErrDeviceNotConfigured = errors.New("action has no device configured")

	// ErrSessionTerminated indicates the session was logged out or expired;
	// the client must stop and log in again.
	ErrSessionTerminated = errors.New("session terminated")
)

// Conflict errors (409, prompt the operator).
var (
	ErrSessionConflict = persistence.ErrSessionConflict

	// ErrSessionTakenOver indicates another operator forcibly took the workstation.
	ErrSessionTakenOver = errors.New("session taken over")
)

// Infrastructure errors (retryable, distinct from invalid requests).
var (
	ErrDeviceUnavailable = gateway.ErrDeviceUnavailable
	ErrStatusConflict    = persistence.ErrStatusConflict

	// ErrAuditWriteFailed indicates an action attempt ran but its ActionLog
	// row could not be written; the attempt is not durably recorded.
	ErrAuditWriteFailed = errors.New("failed to record action log")
)

// TakenOverError carries the identity of the operator who took the workstation.
type TakenOverError struct {
	By string
}

func (e *TakenOverError) Error() string {
	return fmt.Sprintf("session taken over by %s", e.By)
}

func (e *TakenOverError) Is(target error) bool {
	return target == ErrSessionTakenOver
}

// IsNotFoundError checks if an error refers to an entity that does not exist.
func IsNotFoundError(err error) bool {
	return persistence.IsOrderNotFound(err) ||
		persistence.IsStepNotFound(err) ||
		persistence.IsActionNotFound(err) ||
		persistence.IsDeviceNotFound(err) ||
		persistence.IsWorkstationNotFound(err) ||
		persistence.IsSessionNotFound(err)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400/404.
func IsValidationError(err error) bool {
	return IsNotFoundError(err) ||
		errors.Is(err, ErrOrderTerminal) ||
		errors.Is(err, ErrOrderNotInProgress) ||
		errors.Is(err, ErrWorkstationMismatch) ||
		errors.Is(err, ErrDeviceNotConfigured) ||
		errors.Is(err, ErrSessionTerminated)
}

// IsConflictError checks if an error is a conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return persistence.IsSessionConflict(err) ||
		errors.Is(err, ErrSessionTakenOver)
}

// IsInfrastructureError checks if an error means the infrastructure, not the
// request, failed: callers may retry.
func IsInfrastructureError(err error) bool {
	return errors.Is(err, ErrDeviceUnavailable) ||
		persistence.IsStatusConflict(err) ||
		errors.Is(err, ErrAuditWriteFailed)
}
