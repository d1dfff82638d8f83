//go:build integration
// +build integration

package postgresql

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/mesworks/mescore/pkg/models"
	"github.com/mesworks/mescore/pkg/persistence"
)

var postgresContainer *postgres.PostgresContainer

func TestMain(m *testing.M) {
	code := m.Run()

	if postgresContainer != nil {
		_ = postgresContainer.Terminate(context.Background())
	}

	os.Exit(code)
}

// setupTestDB creates a test PostgreSQL database with the schema applied.
func setupTestDB(t *testing.T) (*Persistence, context.Context) {
	ctx := context.Background()

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error
		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("mescore_test"),
			postgres.WithUsername("mescore"),
			postgres.WithPassword("mescore"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	cleanupDB(t, databaseURL)

	t.Cleanup(func() {
		_ = p.Close(ctx)
	})

	return p, ctx
}

func cleanupDB(t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	_, err = db.ExecContext(context.Background(),
		"TRUNCATE TABLE action_logs, workstation_sessions, order_status_history, orders, step_actions, process_steps, devices, workstations")
	require.NoError(t, err)
}

func seedWorkstation(t *testing.T, ctx context.Context, p *Persistence, id string) {
	t.Helper()

	require.NoError(t, p.Workstations().Save(ctx, &models.Workstation{
		ID:   id,
		Code: "C-" + id,
		Name: "Station " + id,
	}))
}

func TestSessionAcquireConflictAndExpiry(t *testing.T) {
	p, ctx := setupTestDB(t)

	seedWorkstation(t, ctx, p, "ws-1")

	now := time.Now().UTC()

	session, err := p.Sessions().Acquire(ctx, "ws-1", "alice", time.Hour, now)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.True(t, session.Active)

	// A live occupant blocks the second acquire.
	_, err = p.Sessions().Acquire(ctx, "ws-1", "bob", time.Hour, now)
	require.Error(t, err)
	assert.True(t, persistence.IsSessionConflict(err))

	// Once stale, the occupant is expired inside the same acquire.
	later := now.Add(2 * time.Hour)

	replacement, err := p.Sessions().Acquire(ctx, "ws-1", "bob", time.Hour, later)
	require.NoError(t, err)
	assert.Equal(t, "bob", replacement.Username)

	old, err := p.Sessions().GetByID(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.False(t, old.Active)
	require.NotNil(t, old.Termination)
	assert.Equal(t, models.SessionExpired, *old.Termination)
}

func TestSessionTouchAndTerminate(t *testing.T) {
	p, ctx := setupTestDB(t)

	seedWorkstation(t, ctx, p, "ws-1")

	now := time.Now().UTC()

	session, err := p.Sessions().Acquire(ctx, "ws-1", "alice", time.Hour, now)
	require.NoError(t, err)

	require.NoError(t, p.Sessions().Touch(ctx, session.ID, now.Add(time.Minute)))

	refreshed, err := p.Sessions().GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(time.Minute), refreshed.LastActivity, time.Second)

	require.NoError(t, p.Sessions().Terminate(ctx, session.ID, models.SessionLoggedOut, "alice", now.Add(2*time.Minute)))

	// Touching a terminated session fails; terminating again is a no-op.
	err = p.Sessions().Touch(ctx, session.ID, now.Add(3*time.Minute))
	assert.True(t, persistence.IsSessionNotFound(err))

	require.NoError(t, p.Sessions().Terminate(ctx, session.ID, models.SessionExpired, "", now.Add(4*time.Minute)))

	final, err := p.Sessions().GetByID(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, final.Termination)
	assert.Equal(t, models.SessionLoggedOut, *final.Termination)
}

func TestSessionTakeoverPrimitive(t *testing.T) {
	p, ctx := setupTestDB(t)

	seedWorkstation(t, ctx, p, "ws-1")

	now := time.Now().UTC()

	session, err := p.Sessions().Acquire(ctx, "ws-1", "alice", time.Hour, now)
	require.NoError(t, err)

	deposed, err := p.Sessions().TerminateActiveForWorkstation(ctx, "ws-1", models.SessionTakenOver, "bob", now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, deposed, 1)
	assert.Equal(t, session.ID, deposed[0].ID)
	assert.Equal(t, "bob", deposed[0].TerminatedBy)

	active, err := p.Sessions().ActiveByWorkstation(ctx, "ws-1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestSessionExpireOlderThan(t *testing.T) {
	p, ctx := setupTestDB(t)

	seedWorkstation(t, ctx, p, "ws-1")
	seedWorkstation(t, ctx, p, "ws-2")

	base := time.Now().UTC().Add(-3 * time.Hour)

	stale, err := p.Sessions().Acquire(ctx, "ws-1", "alice", time.Hour, base)
	require.NoError(t, err)

	fresh, err := p.Sessions().Acquire(ctx, "ws-2", "bob", time.Hour, time.Now().UTC())
	require.NoError(t, err)

	expired, err := p.Sessions().ExpireOlderThan(ctx, time.Now().UTC().Add(-time.Hour), time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)

	still, err := p.Sessions().GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, still.Active)
}

func TestOrderTransitionStatusGuard(t *testing.T) {
	p, ctx := setupTestDB(t)

	order := &models.Order{
		ID:               "ord-1",
		OrderNumber:      "ORD-1001",
		ProductionNumber: "PN-7",
		Quantity:         5,
		Status:           models.OrderStatusPending,
		ProcessID:        "proc-1",
	}
	require.NoError(t, p.Orders().Save(ctx, order))

	now := time.Now().UTC()

	order.Status = models.OrderStatusInProgress
	order.StartedAt = &now

	err := p.Orders().TransitionStatus(ctx, order, &models.OrderStatusHistory{
		ID:         "h-1",
		OrderID:    order.ID,
		FromStatus: models.OrderStatusPending,
		ToStatus:   models.OrderStatusInProgress,
		ChangedBy:  "alice",
		ChangedAt:  now,
	})
	require.NoError(t, err)

	// A transition asserting the old status loses.
	order.Status = models.OrderStatusCancelled

	err = p.Orders().TransitionStatus(ctx, order, &models.OrderStatusHistory{
		ID:         "h-2",
		OrderID:    order.ID,
		FromStatus: models.OrderStatusPending,
		ToStatus:   models.OrderStatusCancelled,
		ChangedBy:  "bob",
		ChangedAt:  now,
	})
	require.Error(t, err)
	assert.True(t, persistence.IsStatusConflict(err))

	history, err := p.Orders().History(ctx, order.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.OrderStatusInProgress, history[0].ToStatus)
}

func TestStepRoundTripAndNextStep(t *testing.T) {
	p, ctx := setupTestDB(t)

	seedWorkstation(t, ctx, p, "ws-1")

	require.NoError(t, p.Steps().SaveDevice(ctx, &models.Device{
		ID:        "dev-1",
		Name:      "PLC",
		Type:      "plc",
		IPAddress: "10.0.0.8",
		Port:      102,
		PLCType:   "s7-1500",
		Protocol:  "s7",
	}))

	deviceID := "dev-1"

	require.NoError(t, p.Steps().Save(ctx, &models.ProcessStep{
		ID:            "step-1",
		ProcessID:     "proc-1",
		Name:          "Mount",
		Sequence:      1,
		WorkstationID: "ws-1",
		Actions: []*models.StepAction{
			{
				ID:            "act-1",
				StepID:        "step-1",
				Name:          "Read sensor",
				Sequence:      1,
				Type:          models.ActionTypeDeviceRead,
				DeviceID:      &deviceID,
				Address:       "DB1.DBW0",
				ExpectedValue: "1",
				Required:      true,
			},
		},
	}))
	require.NoError(t, p.Steps().Save(ctx, &models.ProcessStep{
		ID:        "step-2",
		ProcessID: "proc-1",
		Name:      "Inspect",
		Sequence:  2,
	}))

	step, err := p.Steps().GetByID(ctx, "step-1")
	require.NoError(t, err)
	require.NotNil(t, step)
	require.Len(t, step.Actions, 1)
	assert.Equal(t, "DB1.DBW0", step.Actions[0].Address)

	next, err := p.Steps().NextStep(ctx, "proc-1", 1)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "step-2", next.ID)

	last, err := p.Steps().NextStep(ctx, "proc-1", 2)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestActionLogAppendAndList(t *testing.T) {
	p, ctx := setupTestDB(t)

	require.NoError(t, p.Orders().Save(ctx, &models.Order{
		ID:               "ord-1",
		OrderNumber:      "ORD-1001",
		ProductionNumber: "PN-7",
		Quantity:         1,
		Status:           models.OrderStatusInProgress,
		ProcessID:        "proc-1",
	}))

	for i, status := range []models.ActionLogStatus{models.ActionLogFailed, models.ActionLogSuccess} {
		require.NoError(t, p.ActionLogs().Append(ctx, &models.ActionLog{
			ActionID:   "act-1",
			OrderID:    "ord-1",
			StepID:     "step-1",
			Status:     status,
			ExecutedBy: "alice",
			ExecutedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}

	logs, err := p.ActionLogs().ListByOrder(ctx, "ord-1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	// Most recent attempt first.
	assert.Equal(t, models.ActionLogSuccess, logs[0].Status)
	assert.Equal(t, models.ActionLogFailed, logs[1].Status)
}
