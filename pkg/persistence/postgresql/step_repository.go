package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mesworks/mescore/pkg/models"
)

// StepRepository handles process step, action, and device database operations.
type StepRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStepRepository creates a new step repository.
func NewStepRepository(db *sql.DB, logger *slog.Logger) *StepRepository {
	return &StepRepository{db: db, logger: logger}
}

// GetByID returns a step with its actions loaded, or nil when no step matches.
func (r *StepRepository) GetByID(ctx context.Context, id string) (*models.ProcessStep, error) {
	query := `
		SELECT id, process_id, name, sequence, workstation_id, created_at
		FROM process_steps
		WHERE id = $1
	`

	step, err := scanStep(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan step: %w", err)
	}

	err = r.loadActions(ctx, step)
	if err != nil {
		return nil, err
	}

	return step, nil
}

// NextStep returns the step following the given sequence within a process,
// or nil when none remains.
func (r *StepRepository) NextStep(ctx context.Context, processID string, afterSequence int) (*models.ProcessStep, error) {
	query := `
		SELECT id, process_id, name, sequence, workstation_id, created_at
		FROM process_steps
		WHERE process_id = $1 AND sequence > $2
		ORDER BY sequence ASC
		LIMIT 1
	`

	step, err := scanStep(r.db.QueryRowContext(ctx, query, processID, afterSequence))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan next step: %w", err)
	}

	return step, nil
}

// Save inserts or updates a step together with its actions.
func (r *StepRepository) Save(ctx context.Context, step *models.ProcessStep) error {
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stepQuery := `
		INSERT INTO process_steps (id, process_id, name, sequence, workstation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			sequence = EXCLUDED.sequence,
			workstation_id = EXCLUDED.workstation_id
	`

	_, err = tx.ExecContext(ctx, stepQuery,
		step.ID,
		step.ProcessID,
		step.Name,
		step.Sequence,
		nullString(step.WorkstationID),
		step.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM step_actions WHERE step_id = $1", step.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing actions: %w", err)
	}

	for _, action := range step.Actions {
		actionQuery := `
			INSERT INTO step_actions (id, step_id, name, sequence, action_type, device_id,
				address, data_type, expected_value, validation_rule, required, timeout_seconds, retry_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`

		_, err = tx.ExecContext(ctx, actionQuery,
			action.ID,
			step.ID,
			action.Name,
			action.Sequence,
			action.Type,
			action.DeviceID,
			action.Address,
			action.DataType,
			action.ExpectedValue,
			action.ValidationRule,
			action.Required,
			action.TimeoutSeconds,
			action.RetryCount,
		)
		if err != nil {
			return fmt.Errorf("failed to save action: %w", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetDevice returns a device by its ID, or nil when no device matches.
func (r *StepRepository) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	query := `
		SELECT id, name, device_type, ip_address, port, plc_type, protocol
		FROM devices
		WHERE id = $1
	`

	var (
		device            models.Device
		plcType, protocol sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&device.ID,
		&device.Name,
		&device.Type,
		&device.IPAddress,
		&device.Port,
		&plcType,
		&protocol,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan device: %w", err)
	}

	device.PLCType = plcType.String
	device.Protocol = protocol.String

	return &device, nil
}

// SaveDevice inserts or updates a device row.
func (r *StepRepository) SaveDevice(ctx context.Context, device *models.Device) error {
	query := `
		INSERT INTO devices (id, name, device_type, ip_address, port, plc_type, protocol)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			device_type = EXCLUDED.device_type,
			ip_address = EXCLUDED.ip_address,
			port = EXCLUDED.port,
			plc_type = EXCLUDED.plc_type,
			protocol = EXCLUDED.protocol
	`

	_, err := r.db.ExecContext(ctx, query,
		device.ID,
		device.Name,
		device.Type,
		device.IPAddress,
		device.Port,
		nullString(device.PLCType),
		nullString(device.Protocol),
	)
	if err != nil {
		return fmt.Errorf("failed to save device: %w", err)
	}

	return nil
}

func (r *StepRepository) loadActions(ctx context.Context, step *models.ProcessStep) error {
	query := `
		SELECT id, step_id, name, sequence, action_type, device_id,
			address, data_type, expected_value, validation_rule, required, timeout_seconds, retry_count
		FROM step_actions
		WHERE step_id = $1
		ORDER BY sequence ASC
	`

	rows, err := r.db.QueryContext(ctx, query, step.ID)
	if err != nil {
		return fmt.Errorf("failed to query step actions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	var actions []*models.StepAction

	for rows.Next() {
		var action models.StepAction

		err := rows.Scan(
			&action.ID,
			&action.StepID,
			&action.Name,
			&action.Sequence,
			&action.Type,
			&action.DeviceID,
			&action.Address,
			&action.DataType,
			&action.ExpectedValue,
			&action.ValidationRule,
			&action.Required,
			&action.TimeoutSeconds,
			&action.RetryCount,
		)
		if err != nil {
			return fmt.Errorf("failed to scan action: %w", err)
		}

		actions = append(actions, &action)
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("error iterating actions: %w", err)
	}

	step.Actions = actions

	return nil
}

func scanStep(scanner interface {
	Scan(dest ...any) error
}) (*models.ProcessStep, error) {
	var (
		step          models.ProcessStep
		workstationID sql.NullString
	)

	err := scanner.Scan(
		&step.ID,
		&step.ProcessID,
		&step.Name,
		&step.Sequence,
		&workstationID,
		&step.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	step.WorkstationID = workstationID.String

	return &step, nil
}
