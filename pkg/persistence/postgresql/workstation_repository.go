package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mesworks/mescore/pkg/models"
	"github.com/mesworks/mescore/pkg/persistence"
)

// WorkstationRepository handles workstation database operations.
type WorkstationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkstationRepository creates a new workstation repository.
func NewWorkstationRepository(db *sql.DB, logger *slog.Logger) *WorkstationRepository {
	return &WorkstationRepository{db: db, logger: logger}
}

// GetByID returns a workstation by its ID, or nil when no workstation matches.
func (r *WorkstationRepository) GetByID(ctx context.Context, id string) (*models.Workstation, error) {
	query := `SELECT id, code, name, status, created_at FROM workstations WHERE id = $1`

	var workstation models.Workstation

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&workstation.ID,
		&workstation.Code,
		&workstation.Name,
		&workstation.Status,
		&workstation.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan workstation: %w", err)
	}

	return &workstation, nil
}

// Save inserts or updates a workstation row.
func (r *WorkstationRepository) Save(ctx context.Context, workstation *models.Workstation) error {
	if workstation.CreatedAt.IsZero() {
		workstation.CreatedAt = time.Now().UTC()
	}

	if workstation.Status == "" {
		workstation.Status = models.WorkstationOffline
	}

	query := `
		INSERT INTO workstations (id, code, name, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			name = EXCLUDED.name,
			status = EXCLUDED.status
	`

	_, err := r.db.ExecContext(ctx, query,
		workstation.ID,
		workstation.Code,
		workstation.Name,
		workstation.Status,
		workstation.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workstation: %w", err)
	}

	return nil
}

// SetStatus updates the liveness status of a workstation.
func (r *WorkstationRepository) SetStatus(ctx context.Context, id string, status models.WorkstationStatus) error {
	result, err := r.db.ExecContext(ctx, "UPDATE workstations SET status = $1 WHERE id = $2", status, id)
	if err != nil {
		return fmt.Errorf("failed to update workstation status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrWorkstationNotFound
	}

	return nil
}
