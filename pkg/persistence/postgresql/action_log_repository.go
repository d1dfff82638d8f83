package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mesworks/mescore/pkg/models"
)

// ActionLogRepository handles the append-only action execution audit trail.
type ActionLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewActionLogRepository creates a new action log repository.
func NewActionLogRepository(db *sql.DB, logger *slog.Logger) *ActionLogRepository {
	return &ActionLogRepository{db: db, logger: logger}
}

// Append inserts one attempt row. Rows are never updated or deleted.
func (r *ActionLogRepository) Append(ctx context.Context, entry *models.ActionLog) error {
	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate action log ID: %w", err)
		}

		entry.ID = id.String()
	}

	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO action_logs (id, action_id, order_id, step_id, device_id, status,
			request_payload, response_payload, actual_value, validation_result,
			duration_millis, error_message, executed_by, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.ActionID,
		entry.OrderID,
		entry.StepID,
		entry.DeviceID,
		entry.Status,
		entry.RequestPayload,
		entry.ResponsePayload,
		entry.ActualValue,
		entry.ValidationResult,
		entry.DurationMillis,
		entry.ErrorMessage,
		entry.ExecutedBy,
		entry.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append action log: %w", err)
	}

	return nil
}

// ListByOrder returns the most recent attempts first.
func (r *ActionLogRepository) ListByOrder(ctx context.Context, orderID string, limit int) ([]*models.ActionLog, error) {
	query := `
		SELECT id, action_id, order_id, step_id, device_id, status,
			request_payload, response_payload, actual_value, validation_result,
			duration_millis, error_message, executed_by, executed_at
		FROM action_logs
		WHERE order_id = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, orderID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query action logs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.ActionLog, 0)

	for rows.Next() {
		var (
			entry    models.ActionLog
			deviceID sql.NullString
		)

		err := rows.Scan(
			&entry.ID,
			&entry.ActionID,
			&entry.OrderID,
			&entry.StepID,
			&deviceID,
			&entry.Status,
			&entry.RequestPayload,
			&entry.ResponsePayload,
			&entry.ActualValue,
			&entry.ValidationResult,
			&entry.DurationMillis,
			&entry.ErrorMessage,
			&entry.ExecutedBy,
			&entry.ExecutedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action log: %w", err)
		}

		if deviceID.Valid {
			entry.DeviceID = &deviceID.String
		}

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating action logs: %w", err)
	}

	return entries, nil
}
