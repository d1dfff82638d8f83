package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mesworks/mescore/pkg/eventbus"
	"github.com/mesworks/mescore/pkg/events"
	"github.com/mesworks/mescore/pkg/models"
	"github.com/mesworks/mescore/pkg/persistence"
)

// DefaultSessionTimeout is how long a session may stay idle before any
// caller may treat it as abandoned.
const DefaultSessionTimeout = 2 * time.Hour

// SessionNotifier is the gateway surface the session manager needs: telling
// the device layer an operator left. Best effort, fire and forget.
type SessionNotifier interface {
	NotifySessionEnded(ctx context.Context, workstationID, username string)
}

// Session enforces workstation-session exclusivity and liveness.
//
// All check-then-act steps run inside single repository primitives, so
// concurrent logins, heartbeats, and takeovers serialize on the store's
// transactions rather than on in-process locks.
type Session struct {
	persistence persistence.Persistence
	notifier    SessionNotifier
	eventBus    eventbus.EventPublisher
	timeout     time.Duration
	logger      *slog.Logger
}

// NewSession creates a new session manager. notifier and eventBus may be nil.
func NewSession(p persistence.Persistence, notifier SessionNotifier, eventBus eventbus.EventPublisher, timeout time.Duration, logger *slog.Logger) *Session {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}

	return &Session{
		persistence: p,
		notifier:    notifier,
		eventBus:    eventBus,
		timeout:     timeout,
		logger:      logger,
	}
}

// CheckResult reports whether a workstation can accept a login.
type CheckResult struct {
	CanLogin      bool                       `json:"can_login"`
	ActiveSession *models.WorkstationSession `json:"active_session,omitempty"`
}

// Check reports whether the workstation is free. A stale active session is
// expired as part of the check; the expiry predicate lives in the store's
// UPDATE so two concurrent checkers cannot both observe "can log in" and a
// racing heartbeat cannot be expired after refreshing itself.
func (s *Session) Check(ctx context.Context, workstationID string) (*CheckResult, error) {
	active, err := s.persistence.Sessions().ActiveByWorkstation(ctx, workstationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active session: %w", err)
	}

	if active == nil {
		return &CheckResult{CanLogin: true}, nil
	}

	now := time.Now().UTC()

	if !active.ExpiredBy(now, s.timeout) {
		return &CheckResult{CanLogin: false, ActiveSession: active}, nil
	}

	expired, err := s.persistence.Sessions().ExpireOlderThan(ctx, now.Add(-s.timeout), now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire stale session: %w", err)
	}

	for _, session := range expired {
		s.logger.InfoContext(ctx, "Expired stale session during check",
			"session_id", session.ID, "workstation_id", session.WorkstationID, "username", session.Username)
		s.publishLoggedOut(ctx, session, models.SessionExpired)
	}

	return &CheckResult{CanLogin: true}, nil
}

// Login creates a new active session. The acquire re-validates exclusivity
// inside its own transaction, so a session that became active between a
// Check and this call surfaces as ErrSessionConflict.
func (s *Session) Login(ctx context.Context, workstationID, username string) (*models.WorkstationSession, error) {
	workstation, err := s.persistence.Workstations().GetByID(ctx, workstationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workstation: %w", err)
	}

	if workstation == nil {
		return nil, ErrWorkstationNotFound
	}

	now := time.Now().UTC()

	session, err := s.persistence.Sessions().Acquire(ctx, workstationID, username, s.timeout, now)
	if err != nil {
		return nil, err
	}

	err = s.persistence.Workstations().SetStatus(ctx, workstationID, models.WorkstationOnline)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to mark workstation online", "workstation_id", workstationID, "error", err)
	}

	s.publish(ctx, session.ID, events.SessionLoggedIn{
		BaseEvent:     s.baseEvent(events.SessionLoggedInEvent),
		SessionID:     session.ID,
		WorkstationID: workstationID,
		Username:      username,
	})

	return session, nil
}

// Heartbeat refreshes the session's last activity. A deposed session fails
// with TakenOverError naming the new operator; an expired or logged-out one
// fails with ErrSessionTerminated. Both mean the client must stop working.
func (s *Session) Heartbeat(ctx context.Context, sessionID string) error {
	err := s.persistence.Sessions().Touch(ctx, sessionID, time.Now().UTC())
	if err == nil {
		return nil
	}

	if !persistence.IsSessionNotFound(err) {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	// Inactive or missing: classify why occupancy was lost.
	session, getErr := s.persistence.Sessions().GetByID(ctx, sessionID)
	if getErr != nil {
		return fmt.Errorf("failed to load session: %w", getErr)
	}

	if session != nil && session.Termination != nil && *session.Termination == models.SessionTakenOver {
		return &TakenOverError{By: session.TerminatedBy}
	}

	return ErrSessionTerminated
}

// LogoutRequest addresses a logout by session or by workstation. When both
// are given the workstation wins.
type LogoutRequest struct {
	SessionID     string
	WorkstationID string
}

// Logout deactivates the matching active session and flips the workstation
// offline. Idempotent: no matching session is a success. The gateway is
// notified best-effort; notification failure never aborts the logout.
func (s *Session) Logout(ctx context.Context, req LogoutRequest) error {
	session, err := s.resolveSession(ctx, req)
	if err != nil {
		return err
	}

	if session == nil || !session.Active || session.LogoutTime != nil {
		return nil
	}

	now := time.Now().UTC()

	err = s.persistence.Sessions().Terminate(ctx, session.ID, models.SessionLoggedOut, session.Username, now)
	if err != nil {
		return fmt.Errorf("failed to terminate session: %w", err)
	}

	err = s.persistence.Workstations().SetStatus(ctx, session.WorkstationID, models.WorkstationOffline)
	if err != nil && !persistence.IsWorkstationNotFound(err) {
		s.logger.ErrorContext(ctx, "Failed to mark workstation offline", "workstation_id", session.WorkstationID, "error", err)
	}

	if s.notifier != nil {
		s.notifier.NotifySessionEnded(ctx, session.WorkstationID, session.Username)
	}

	s.publishLoggedOut(ctx, session, models.SessionLoggedOut)

	return nil
}

// TakeoverResult reports what a takeover did.
type TakeoverResult struct {
	// Proceeded is true when the caller may log in (no live session remains).
	Proceeded bool `json:"proceeded"`

	// DeposedSessions lists the sessions terminated by the takeover, for audit.
	// On a dry run it lists the conflicting session without mutating it.
	DeposedSessions []*models.WorkstationSession `json:"deposed_sessions,omitempty"`
}

// Takeover forcibly ends occupancy of a workstation. With forceLogout false
// it is a dry run reporting the conflicting session. The forced path marks
// every stray active session on the workstation inside one transaction, so
// a concurrent heartbeat from the deposed operator either completes before
// the takeover or observes the marker after it, never in between.
func (s *Session) Takeover(ctx context.Context, workstationID, newUsername string, forceLogout bool) (*TakeoverResult, error) {
	active, err := s.persistence.Sessions().ActiveByWorkstation(ctx, workstationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active session: %w", err)
	}

	if active == nil {
		return &TakeoverResult{Proceeded: true}, nil
	}

	if !forceLogout {
		return &TakeoverResult{Proceeded: false, DeposedSessions: []*models.WorkstationSession{active}}, nil
	}

	now := time.Now().UTC()

	deposed, err := s.persistence.Sessions().TerminateActiveForWorkstation(ctx, workstationID, models.SessionTakenOver, newUsername, now)
	if err != nil {
		return nil, fmt.Errorf("failed to take over workstation: %w", err)
	}

	for _, session := range deposed {
		s.logger.InfoContext(ctx, "Session taken over",
			"session_id", session.ID, "workstation_id", workstationID,
			"deposed_user", session.Username, "taken_over_by", newUsername)

		s.publish(ctx, session.ID, events.SessionTakenOver{
			BaseEvent:     s.baseEvent(events.SessionTakenOverEvent),
			SessionID:     session.ID,
			WorkstationID: workstationID,
			DeposedUser:   session.Username,
			TakenOverBy:   newUsername,
		})
	}

	return &TakeoverResult{Proceeded: true, DeposedSessions: deposed}, nil
}

// ExpireStale terminates every session idle past the timeout and flips the
// owning workstations offline. Safe to run concurrently; the staleness
// predicate is in the store's UPDATE.
func (s *Session) ExpireStale(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	expired, err := s.persistence.Sessions().ExpireOlderThan(ctx, now.Add(-s.timeout), now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale sessions: %w", err)
	}

	for _, session := range expired {
		s.logger.InfoContext(ctx, "Expired stale session",
			"session_id", session.ID, "workstation_id", session.WorkstationID, "username", session.Username)

		err = s.persistence.Workstations().SetStatus(ctx, session.WorkstationID, models.WorkstationOffline)
		if err != nil && !persistence.IsWorkstationNotFound(err) {
			s.logger.ErrorContext(ctx, "Failed to mark workstation offline", "workstation_id", session.WorkstationID, "error", err)
		}

		s.publishLoggedOut(ctx, session, models.SessionExpired)
	}

	return len(expired), nil
}

// HealthCheck checks the health of the persistence layer.
func (s *Session) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (s *Session) resolveSession(ctx context.Context, req LogoutRequest) (*models.WorkstationSession, error) {
	if req.WorkstationID != "" {
		session, err := s.persistence.Sessions().ActiveByWorkstation(ctx, req.WorkstationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load active session: %w", err)
		}

		return session, nil
	}

	if req.SessionID != "" {
		session, err := s.persistence.Sessions().GetByID(ctx, req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}

		return session, nil
	}

	return nil, nil
}

func (s *Session) baseEvent(eventType events.EventType) events.BaseEvent {
	return events.BaseEvent{
		ID:        uuidString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

func (s *Session) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.eventBus == nil {
		return
	}

	err := s.eventBus.Publish(ctx, key, event)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (s *Session) publishLoggedOut(ctx context.Context, session *models.WorkstationSession, reason models.SessionTerminationReason) {
	s.publish(ctx, session.ID, events.SessionLoggedOut{
		BaseEvent:     s.baseEvent(events.SessionLoggedOutEvent),
		SessionID:     session.ID,
		WorkstationID: session.WorkstationID,
		Username:      session.Username,
		Reason:        reason,
	})
}
