// Package memory provides a mutex-guarded in-memory persistence
// implementation for unit tests and local development. Each check-then-act
// primitive holds the store lock for its whole duration, matching the
// transactional guarantees the SQL implementation gets from the database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mesworks/mescore/pkg/models"
	"github.com/mesworks/mescore/pkg/persistence"
)

// Persistence implements the persistence layer in process memory.
type Persistence struct {
	mu sync.Mutex

	orders       map[string]*models.Order
	history      map[string][]*models.OrderStatusHistory
	steps        map[string]*models.ProcessStep
	devices      map[string]*models.Device
	workstations map[string]*models.Workstation
	sessions     map[string]*models.WorkstationSession
	actionLogs   map[string][]*models.ActionLog
}

// NewPersistence creates an empty in-memory persistence layer.
func NewPersistence() *Persistence {
	return &Persistence{
		orders:       make(map[string]*models.Order),
		history:      make(map[string][]*models.OrderStatusHistory),
		steps:        make(map[string]*models.ProcessStep),
		devices:      make(map[string]*models.Device),
		workstations: make(map[string]*models.Workstation),
		sessions:     make(map[string]*models.WorkstationSession),
		actionLogs:   make(map[string][]*models.ActionLog),
	}
}

// Orders returns the order repository.
func (p *Persistence) Orders() persistence.OrderRepository { return (*orderRepository)(p) }

// Steps returns the step repository.
func (p *Persistence) Steps() persistence.StepRepository { return (*stepRepository)(p) }

// Workstations returns the workstation repository.
func (p *Persistence) Workstations() persistence.WorkstationRepository {
	return (*workstationRepository)(p)
}

// Sessions returns the session repository.
func (p *Persistence) Sessions() persistence.SessionRepository { return (*sessionRepository)(p) }

// ActionLogs returns the action log repository.
func (p *Persistence) ActionLogs() persistence.ActionLogRepository { return (*actionLogRepository)(p) }

// HealthCheck always succeeds for the in-memory store.
func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (p *Persistence) Close(_ context.Context) error { return nil }

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}

	return id.String()
}

type orderRepository Persistence

func (r *orderRepository) GetByID(_ context.Context, id string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, nil
	}

	clone := *order

	return &clone, nil
}

func (r *orderRepository) Save(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order.ID == "" {
		order.ID = newID()
	}

	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}

	clone := *order
	r.orders[order.ID] = &clone

	return nil
}

func (r *orderRepository) TransitionStatus(_ context.Context, order *models.Order, entry *models.OrderStatusHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	if !ok {
		return persistence.NewOrderError("TransitionStatus", order.ID, persistence.ErrOrderNotFound)
	}

	if stored.Status != entry.FromStatus {
		return persistence.NewOrderError("TransitionStatus", order.ID, persistence.ErrStatusConflict)
	}

	if entry.ID == "" {
		entry.ID = newID()
	}

	clone := *order
	r.orders[order.ID] = &clone

	entryClone := *entry
	r.history[order.ID] = append(r.history[order.ID], &entryClone)

	return nil
}

func (r *orderRepository) History(_ context.Context, orderID string, limit int) ([]*models.OrderStatusHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.history[orderID]

	out := make([]*models.OrderStatusHistory, 0, len(entries))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		clone := *entries[i]
		out = append(out, &clone)
	}

	return out, nil
}

func (r *orderRepository) ListByWorkstation(_ context.Context, workstationID string, limit int) ([]*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]*models.Order, 0)

	for _, order := range r.orders {
		if order.CurrentStationID != nil && *order.CurrentStationID == workstationID {
			clone := *order
			matched = append(matched, &clone)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		ti := matched[i].CreatedAt
		if matched[i].StartedAt != nil {
			ti = *matched[i].StartedAt
		}

		tj := matched[j].CreatedAt
		if matched[j].StartedAt != nil {
			tj = *matched[j].StartedAt
		}

		return ti.After(tj)
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

type stepRepository Persistence

func (r *stepRepository) GetByID(_ context.Context, id string) (*models.ProcessStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	step, ok := r.steps[id]
	if !ok {
		return nil, nil
	}

	clone := *step

	return &clone, nil
}

func (r *stepRepository) NextStep(_ context.Context, processID string, afterSequence int) (*models.ProcessStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next *models.ProcessStep

	for _, step := range r.steps {
		if step.ProcessID != processID || step.Sequence <= afterSequence {
			continue
		}

		if next == nil || step.Sequence < next.Sequence {
			next = step
		}
	}

	if next == nil {
		return nil, nil
	}

	clone := *next

	return &clone, nil
}

func (r *stepRepository) Save(_ context.Context, step *models.ProcessStep) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if step.ID == "" {
		step.ID = newID()
	}

	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}

	clone := *step
	r.steps[step.ID] = &clone

	return nil
}

func (r *stepRepository) GetDevice(_ context.Context, id string) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[id]
	if !ok {
		return nil, nil
	}

	clone := *device

	return &clone, nil
}

func (r *stepRepository) SaveDevice(_ context.Context, device *models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if device.ID == "" {
		device.ID = newID()
	}

	clone := *device
	r.devices[device.ID] = &clone

	return nil
}

type workstationRepository Persistence

func (r *workstationRepository) GetByID(_ context.Context, id string) (*models.Workstation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	workstation, ok := r.workstations[id]
	if !ok {
		return nil, nil
	}

	clone := *workstation

	return &clone, nil
}

func (r *workstationRepository) Save(_ context.Context, workstation *models.Workstation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if workstation.ID == "" {
		workstation.ID = newID()
	}

	if workstation.Status == "" {
		workstation.Status = models.WorkstationOffline
	}

	if workstation.CreatedAt.IsZero() {
		workstation.CreatedAt = time.Now().UTC()
	}

	clone := *workstation
	r.workstations[workstation.ID] = &clone

	return nil
}

func (r *workstationRepository) SetStatus(_ context.Context, id string, status models.WorkstationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	workstation, ok := r.workstations[id]
	if !ok {
		return persistence.ErrWorkstationNotFound
	}

	workstation.Status = status

	return nil
}

type sessionRepository Persistence

func (r *sessionRepository) GetByID(_ context.Context, id string) (*models.WorkstationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}

	clone := *session

	return &clone, nil
}

func (r *sessionRepository) ActiveByWorkstation(_ context.Context, workstationID string) (*models.WorkstationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session := r.activeLocked(workstationID)
	if session == nil {
		return nil, nil
	}

	clone := *session

	return &clone, nil
}

func (r *sessionRepository) Acquire(_ context.Context, workstationID, username string, timeout time.Duration, now time.Time) (*models.WorkstationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := r.activeLocked(workstationID); existing != nil {
		if !existing.ExpiredBy(now, timeout) {
			return nil, persistence.NewWorkstationSessionError("Acquire", workstationID, persistence.ErrSessionConflict)
		}

		terminateLocked(existing, models.SessionExpired, "", now)
	}

	session := &models.WorkstationSession{
		ID:            newID(),
		WorkstationID: workstationID,
		Username:      username,
		LoginTime:     now,
		LastActivity:  now,
		Active:        true,
	}

	r.sessions[session.ID] = session

	clone := *session

	return &clone, nil
}

func (r *sessionRepository) Touch(_ context.Context, sessionID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok || !session.Active || session.LogoutTime != nil {
		return persistence.NewSessionError("Touch", sessionID, persistence.ErrSessionNotFound)
	}

	session.LastActivity = now

	return nil
}

func (r *sessionRepository) Terminate(_ context.Context, sessionID string, reason models.SessionTerminationReason, by string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok || !session.Active || session.LogoutTime != nil {
		return nil
	}

	terminateLocked(session, reason, by, now)

	return nil
}

func (r *sessionRepository) TerminateActiveForWorkstation(_ context.Context, workstationID string, reason models.SessionTerminationReason, by string, now time.Time) ([]*models.WorkstationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deposed := make([]*models.WorkstationSession, 0)

	for _, session := range r.sessions {
		if session.WorkstationID != workstationID || !session.Active || session.LogoutTime != nil {
			continue
		}

		terminateLocked(session, reason, by, now)

		clone := *session
		deposed = append(deposed, &clone)
	}

	return deposed, nil
}

func (r *sessionRepository) ExpireOlderThan(_ context.Context, cutoff time.Time, now time.Time) ([]*models.WorkstationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	expired := make([]*models.WorkstationSession, 0)

	for _, session := range r.sessions {
		if !session.Active || session.LogoutTime != nil || session.LastActivity.After(cutoff) {
			continue
		}

		terminateLocked(session, models.SessionExpired, "", now)

		clone := *session
		expired = append(expired, &clone)
	}

	return expired, nil
}

func (r *sessionRepository) activeLocked(workstationID string) *models.WorkstationSession {
	for _, session := range r.sessions {
		if session.WorkstationID == workstationID && session.Active && session.LogoutTime == nil {
			return session
		}
	}

	return nil
}

func terminateLocked(session *models.WorkstationSession, reason models.SessionTerminationReason, by string, now time.Time) {
	logout := now
	session.Active = false
	session.LogoutTime = &logout
	session.Termination = &reason
	session.TerminatedBy = by
}

type actionLogRepository Persistence

func (r *actionLogRepository) Append(_ context.Context, entry *models.ActionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == "" {
		entry.ID = newID()
	}

	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = time.Now().UTC()
	}

	clone := *entry
	r.actionLogs[entry.OrderID] = append(r.actionLogs[entry.OrderID], &clone)

	return nil
}

func (r *actionLogRepository) ListByOrder(_ context.Context, orderID string, limit int) ([]*models.ActionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.actionLogs[orderID]

	out := make([]*models.ActionLog, 0, len(entries))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		clone := *entries[i]
		out = append(out, &clone)
	}

	return out, nil
}
