// Package persistence defines the storage interfaces consumed by the session
// manager and the workflow execution engine.
//
// Every check-then-act primitive (session acquire, takeover, status
// transition with its history append) is a single repository method so each
// implementation can run it as one transaction. That transaction boundary is
// the only cross-call coordination point in the system.
package persistence

import (
	"context"
	"time"

	"github.com/mesworks/mescore/pkg/models"
)

// Persistence is the durable store handle passed down to services.
type Persistence interface {
	Orders() OrderRepository
	Steps() StepRepository
	Workstations() WorkstationRepository
	Sessions() SessionRepository
	ActionLogs() ActionLogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// OrderRepository stores production orders and their status history.
type OrderRepository interface {
	// GetByID returns nil, nil when no order matches.
	GetByID(ctx context.Context, id string) (*models.Order, error)

	Save(ctx context.Context, order *models.Order) error

	// TransitionStatus persists the order's mutated fields and appends the
	// history row in one transaction. The order row is matched against
	// entry.FromStatus; a concurrent transition surfaces as
	// ErrStatusConflict and nothing is written.
	TransitionStatus(ctx context.Context, order *models.Order, entry *models.OrderStatusHistory) error

	// History returns the most recent transitions first.
	History(ctx context.Context, orderID string, limit int) ([]*models.OrderStatusHistory, error)

	// ListByWorkstation returns orders currently positioned at the
	// workstation, most recently touched first, bounded by limit.
	ListByWorkstation(ctx context.Context, workstationID string, limit int) ([]*models.Order, error)
}

// StepRepository stores process steps, their actions, and device records.
type StepRepository interface {
	// GetByID returns the step with its actions loaded, or nil, nil.
	GetByID(ctx context.Context, id string) (*models.ProcessStep, error)

	// NextStep returns the step following the given sequence within a
	// process, or nil, nil when the sequence is the last.
	NextStep(ctx context.Context, processID string, afterSequence int) (*models.ProcessStep, error)

	Save(ctx context.Context, step *models.ProcessStep) error

	GetDevice(ctx context.Context, id string) (*models.Device, error)
	SaveDevice(ctx context.Context, device *models.Device) error
}

// WorkstationRepository stores physical workstations.
type WorkstationRepository interface {
	// GetByID returns nil, nil when no workstation matches.
	GetByID(ctx context.Context, id string) (*models.Workstation, error)

	Save(ctx context.Context, workstation *models.Workstation) error
	SetStatus(ctx context.Context, id string, status models.WorkstationStatus) error
}

// SessionRepository stores workstation sessions. Sessions are never deleted.
type SessionRepository interface {
	GetByID(ctx context.Context, id string) (*models.WorkstationSession, error)

	// ActiveByWorkstation returns the session with active=true and
	// logout_time null for the workstation, or nil, nil.
	ActiveByWorkstation(ctx context.Context, workstationID string) (*models.WorkstationSession, error)

	// Acquire creates a new active session for the workstation in one
	// transaction. An existing active session past the timeout is expired
	// inside the same transaction; a live one makes Acquire fail with
	// ErrSessionConflict.
	Acquire(ctx context.Context, workstationID, username string, timeout time.Duration, now time.Time) (*models.WorkstationSession, error)

	// Touch updates last_activity for an active session. ErrSessionNotFound
	// when the session does not exist or is no longer active.
	Touch(ctx context.Context, sessionID string, now time.Time) error

	// Terminate deactivates the session recording why. Terminating an
	// already-inactive session is a no-op.
	Terminate(ctx context.Context, sessionID string, reason models.SessionTerminationReason, by string, now time.Time) error

	// TerminateActiveForWorkstation deactivates every active session on the
	// workstation in one transaction and returns them. Used by takeover so a
	// racing heartbeat either completes before or observes the marker after.
	TerminateActiveForWorkstation(ctx context.Context, workstationID string, reason models.SessionTerminationReason, by string, now time.Time) ([]*models.WorkstationSession, error)

	// ExpireOlderThan deactivates active sessions whose last activity is at
	// or before the cutoff and returns them. Reaper primitive; idempotent.
	ExpireOlderThan(ctx context.Context, cutoff time.Time, now time.Time) ([]*models.WorkstationSession, error)
}

// ActionLogRepository stores the append-only action execution audit trail.
type ActionLogRepository interface {
	Append(ctx context.Context, entry *models.ActionLog) error

	// ListByOrder returns the most recent attempts first.
	ListByOrder(ctx context.Context, orderID string, limit int) ([]*models.ActionLog, error)
}
