package models

import "time"

// WorkstationStatus is the liveness status of a physical workstation.
type WorkstationStatus string

const (
	WorkstationOnline  WorkstationStatus = "online"
	WorkstationOffline WorkstationStatus = "offline"
)

// Workstation is a physical location identified by a human-assigned code.
// It holds zero or one active session at any instant.
type Workstation struct {
	ID        string            `json:"id"`
	Code      string            `json:"code" validate:"required"`
	Name      string            `json:"name"`
	Status    WorkstationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// SessionTerminationReason says why a session stopped being active.
type SessionTerminationReason string

const (
	SessionExpired   SessionTerminationReason = "expired"
	SessionLoggedOut SessionTerminationReason = "logged_out"
	SessionTakenOver SessionTerminationReason = "taken_over"
)

// WorkstationSession represents one operator's exclusive occupancy of a
// workstation. Rows are never deleted; termination flips Active off and
// records the reason. Invariant: per workstation at most one row has
// Active=true and LogoutTime=nil.
type WorkstationSession struct {
	ID            string                    `json:"id"`
	WorkstationID string                    `json:"workstation_id"`
	Username      string                    `json:"username"`
	LoginTime     time.Time                 `json:"login_time"`
	LastActivity  time.Time                 `json:"last_activity"`
	LogoutTime    *time.Time                `json:"logout_time,omitempty"`
	Active        bool                      `json:"active"`
	Termination   *SessionTerminationReason `json:"termination,omitempty"`
	TerminatedBy  string                    `json:"terminated_by,omitempty"`
	Settings      map[string]any            `json:"settings,omitempty"`
}

// ExpiredBy reports whether the session's last activity is older than the
// given timeout at the given instant.
func (s *WorkstationSession) ExpiredBy(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivity) >= timeout
}
