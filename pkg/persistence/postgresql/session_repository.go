package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mesworks/mescore/pkg/models"
	"github.com/mesworks/mescore/pkg/persistence"
)

// SessionRepository handles workstation session database operations.
//
// The exclusivity invariant (one active session per workstation) is enforced
// twice: row locks inside Acquire/TerminateActiveForWorkstation, and the
// partial unique index uq_workstation_sessions_active as a backstop.
type SessionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *sql.DB, logger *slog.Logger) *SessionRepository {
	return &SessionRepository{db: db, logger: logger}
}

const sessionColumns = `
	id
  , workstation_id
  , username
  , login_time
  , last_activity
  , logout_time
  , active
  , termination_reason
  , terminated_by
  , settings
`

// GetByID returns a session by its ID, or nil when no session matches.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.WorkstationSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM workstation_sessions WHERE id = $1`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	return session, nil
}

// ActiveByWorkstation returns the single active session for the workstation,
// or nil when none exists.
func (r *SessionRepository) ActiveByWorkstation(ctx context.Context, workstationID string) (*models.WorkstationSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM workstation_sessions
		WHERE workstation_id = $1 AND active AND logout_time IS NULL
	`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, workstationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan active session: %w", err)
	}

	return session, nil
}

// Acquire creates a new active session in one transaction. An existing
// active session past the timeout is expired inside the same transaction;
// a live one fails the acquire with ErrSessionConflict.
func (r *SessionRepository) Acquire(ctx context.Context, workstationID, username string, timeout time.Duration, now time.Time) (*models.WorkstationSession, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Lock the active row (if any) so two concurrent acquires serialize.
	lockQuery := `SELECT ` + sessionColumns + `
		FROM workstation_sessions
		WHERE workstation_id = $1 AND active AND logout_time IS NULL
		FOR UPDATE
	`

	existing, err := scanSession(tx.QueryRowContext(ctx, lockQuery, workstationID))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to lock active session: %w", err)
	}

	err = nil

	if existing != nil {
		if !existing.ExpiredBy(now, timeout) {
			err = persistence.NewWorkstationSessionError("Acquire", workstationID, persistence.ErrSessionConflict)

			return nil, err
		}

		expireQuery := `
			UPDATE workstation_sessions
			SET active = false, logout_time = $1, termination_reason = $2
			WHERE id = $3
		`

		_, err = tx.ExecContext(ctx, expireQuery, now, models.SessionExpired, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to expire stale session: %w", err)
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	session := &models.WorkstationSession{
		ID:            id.String(),
		WorkstationID: workstationID,
		Username:      username,
		LoginTime:     now,
		LastActivity:  now,
		Active:        true,
	}

	insertQuery := `
		INSERT INTO workstation_sessions (id, workstation_id, username, login_time, last_activity, active)
		VALUES ($1, $2, $3, $4, $5, true)
	`

	_, err = tx.ExecContext(ctx, insertQuery, session.ID, workstationID, username, now, now)
	if err != nil {
		// The partial unique index catches a racing insert that slipped past
		// the row lock (no row existed to lock yet).
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			err = persistence.NewWorkstationSessionError("Acquire", workstationID, persistence.ErrSessionConflict)

			return nil, err
		}

		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return session, nil
}

// Touch updates last_activity for an active session.
func (r *SessionRepository) Touch(ctx context.Context, sessionID string, now time.Time) error {
	query := `
		UPDATE workstation_sessions
		SET last_activity = $1
		WHERE id = $2 AND active AND logout_time IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, now, sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewSessionError("Touch", sessionID, persistence.ErrSessionNotFound)
	}

	return nil
}

// Terminate deactivates one session recording why. Already-inactive
// sessions are left untouched.
func (r *SessionRepository) Terminate(ctx context.Context, sessionID string, reason models.SessionTerminationReason, by string, now time.Time) error {
	query := `
		UPDATE workstation_sessions
		SET active = false, logout_time = $1, termination_reason = $2, terminated_by = $3
		WHERE id = $4 AND active AND logout_time IS NULL
	`

	_, err := r.db.ExecContext(ctx, query, now, reason, by, sessionID)
	if err != nil {
		return fmt.Errorf("failed to terminate session: %w", err)
	}

	return nil
}

// TerminateActiveForWorkstation deactivates every active session on the
// workstation in one statement and returns the deposed sessions.
func (r *SessionRepository) TerminateActiveForWorkstation(ctx context.Context, workstationID string, reason models.SessionTerminationReason, by string, now time.Time) ([]*models.WorkstationSession, error) {
	query := `
		UPDATE workstation_sessions
		SET active = false, logout_time = $1, termination_reason = $2, terminated_by = $3
		WHERE workstation_id = $4 AND active AND logout_time IS NULL
		RETURNING ` + sessionColumns

	rows, err := r.db.QueryContext(ctx, query, now, reason, by, workstationID)
	if err != nil {
		return nil, fmt.Errorf("failed to terminate workstation sessions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	return collectSessions(rows)
}

// ExpireOlderThan deactivates active sessions with last activity at or
// before the cutoff and returns them.
func (r *SessionRepository) ExpireOlderThan(ctx context.Context, cutoff time.Time, now time.Time) ([]*models.WorkstationSession, error) {
	query := `
		UPDATE workstation_sessions
		SET active = false, logout_time = $1, termination_reason = $2
		WHERE active AND logout_time IS NULL AND last_activity <= $3
		RETURNING ` + sessionColumns

	rows, err := r.db.QueryContext(ctx, query, now, models.SessionExpired, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to expire sessions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	return collectSessions(rows)
}

func collectSessions(rows *sql.Rows) ([]*models.WorkstationSession, error) {
	sessions := make([]*models.WorkstationSession, 0)

	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		sessions = append(sessions, session)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

func scanSession(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkstationSession, error) {
	var (
		session      models.WorkstationSession
		termination  sql.NullString
		terminatedBy sql.NullString
		settingsJSON []byte
	)

	err := scanner.Scan(
		&session.ID,
		&session.WorkstationID,
		&session.Username,
		&session.LoginTime,
		&session.LastActivity,
		&session.LogoutTime,
		&session.Active,
		&termination,
		&terminatedBy,
		&settingsJSON,
	)
	if err != nil {
		return nil, err
	}

	if termination.Valid {
		reason := models.SessionTerminationReason(termination.String)
		session.Termination = &reason
	}

	session.TerminatedBy = terminatedBy.String

	if settingsJSON != nil {
		err := json.Unmarshal(settingsJSON, &session.Settings)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal session settings: %w", err)
		}
	}

	return &session, nil
}
