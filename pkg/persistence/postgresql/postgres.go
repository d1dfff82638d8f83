// Package postgresql provides the PostgreSQL persistence implementation for
// orders, steps, sessions, and the audit trail.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/mesworks/mescore/pkg/persistence"
	"github.com/mesworks/mescore/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	orders       *OrderRepository
	steps        *StepRepository
	workstations *WorkstationRepository
	sessions     *SessionRepository
	actionLogs   *ActionLogRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and runs migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:           database,
		logger:       logger,
		orders:       NewOrderRepository(database, logger),
		steps:        NewStepRepository(database, logger),
		workstations: NewWorkstationRepository(database, logger),
		sessions:     NewSessionRepository(database, logger),
		actionLogs:   NewActionLogRepository(database, logger),
	}, nil
}

// Orders returns the order repository.
func (p *Persistence) Orders() persistence.OrderRepository { return p.orders }

// Steps returns the step repository.
func (p *Persistence) Steps() persistence.StepRepository { return p.steps }

// Workstations returns the workstation repository.
func (p *Persistence) Workstations() persistence.WorkstationRepository { return p.workstations }

// Sessions returns the session repository.
func (p *Persistence) Sessions() persistence.SessionRepository { return p.sessions }

// ActionLogs returns the action log repository.
func (p *Persistence) ActionLogs() persistence.ActionLogRepository { return p.actionLogs }

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
