package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mesworks/mescore/pkg/models"
	"github.com/mesworks/mescore/pkg/persistence"
)

// OrderRepository handles order and status-history database operations.
type OrderRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewOrderRepository creates a new order repository.
func NewOrderRepository(db *sql.DB, logger *slog.Logger) *OrderRepository {
	return &OrderRepository{db: db, logger: logger}
}

const orderColumns = `
	id
  , order_number
  , production_number
  , quantity
  , status
  , process_id
  , current_step_id
  , current_station_id
  , created_at
  , started_at
  , completed_at
`

// GetByID returns an order by its ID, or nil when no order matches.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	return order, nil
}

// Save inserts or updates an order row.
func (r *OrderRepository) Save(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate order ID: %w", err)
		}

		order.ID = id.String()
	}

	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}

	query := `
		INSERT INTO orders (id, order_number, production_number, quantity, status,
			process_id, current_step_id, current_station_id, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			order_number = EXCLUDED.order_number,
			production_number = EXCLUDED.production_number,
			quantity = EXCLUDED.quantity,
			status = EXCLUDED.status,
			process_id = EXCLUDED.process_id,
			current_step_id = EXCLUDED.current_step_id,
			current_station_id = EXCLUDED.current_station_id,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`

	_, err := r.db.ExecContext(ctx, query,
		order.ID,
		order.OrderNumber,
		order.ProductionNumber,
		order.Quantity,
		order.Status,
		nullString(order.ProcessID),
		order.CurrentStepID,
		order.CurrentStationID,
		order.CreatedAt,
		order.StartedAt,
		order.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}

	return nil
}

// TransitionStatus writes the order mutation and its history row in one
// transaction. The UPDATE is guarded by entry.FromStatus so a concurrent
// transition loses with ErrStatusConflict and writes nothing.
func (r *OrderRepository) TransitionStatus(ctx context.Context, order *models.Order, entry *models.OrderStatusHistory) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	updateQuery := `
		UPDATE orders SET
			status = $1,
			current_step_id = $2,
			current_station_id = $3,
			started_at = $4,
			completed_at = $5
		WHERE id = $6 AND status = $7
	`

	result, err := tx.ExecContext(ctx, updateQuery,
		order.Status,
		order.CurrentStepID,
		order.CurrentStationID,
		order.StartedAt,
		order.CompletedAt,
		order.ID,
		entry.FromStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		err = persistence.NewOrderError("TransitionStatus", order.ID, persistence.ErrStatusConflict)

		return err
	}

	if entry.ID == "" {
		id, idErr := uuid.NewV7()
		if idErr != nil {
			err = fmt.Errorf("failed to generate history ID: %w", idErr)

			return err
		}

		entry.ID = id.String()
	}

	historyQuery := `
		INSERT INTO order_status_history (id, order_id, from_status, to_status, changed_by, changed_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = tx.ExecContext(ctx, historyQuery,
		entry.ID,
		entry.OrderID,
		entry.FromStatus,
		entry.ToStatus,
		entry.ChangedBy,
		entry.ChangedAt,
		entry.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// History returns the most recent status transitions first.
func (r *OrderRepository) History(ctx context.Context, orderID string, limit int) ([]*models.OrderStatusHistory, error) {
	query := `
		SELECT id, order_id, from_status, to_status, changed_by, changed_at, reason
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY changed_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, orderID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.OrderStatusHistory, 0)

	for rows.Next() {
		var entry models.OrderStatusHistory

		err := rows.Scan(
			&entry.ID,
			&entry.OrderID,
			&entry.FromStatus,
			&entry.ToStatus,
			&entry.ChangedBy,
			&entry.ChangedAt,
			&entry.Reason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating status history: %w", err)
	}

	return entries, nil
}

// ListByWorkstation returns orders positioned at the workstation, most
// recently touched first.
func (r *OrderRepository) ListByWorkstation(ctx context.Context, workstationID string, limit int) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE current_station_id = $1
		ORDER BY started_at DESC NULLS LAST, created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, workstationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query workstation orders: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	orders := make([]*models.Order, 0)

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}

		orders = append(orders, order)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return orders, nil
}

func scanOrder(scanner interface {
	Scan(dest ...any) error
}) (*models.Order, error) {
	var (
		order     models.Order
		processID sql.NullString
	)

	err := scanner.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.ProductionNumber,
		&order.Quantity,
		&order.Status,
		&processID,
		&order.CurrentStepID,
		&order.CurrentStationID,
		&order.CreatedAt,
		&order.StartedAt,
		&order.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	order.ProcessID = processID.String

	return &order, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
