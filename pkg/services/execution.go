package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mesworks/mescore/pkg/eventbus"
	"github.com/mesworks/mescore/pkg/events"
	"github.com/mesworks/mescore/pkg/gateway"
	"github.com/mesworks/mescore/pkg/models"
	"github.com/mesworks/mescore/pkg/otelhelper"
	"github.com/mesworks/mescore/pkg/persistence"
)

const (
	defaultActionTimeout = 5 * time.Second

	defaultTaskLimit = 20
	maxTaskLimit     = 100

	stateHistoryLimit = 50
	stateLogLimit     = 50
)

// DeviceExecutor performs one device operation attempt. Satisfied by
// gateway.Client; tests substitute their own.
type DeviceExecutor interface {
	Execute(ctx context.Context, request gateway.ExecuteRequest) (*gateway.ExecuteResult, error)
}

// Execution advances production orders through their process steps.
//
// Device calls never run inside a store transaction: the engine reads,
// dispatches, then records. The ActionLog row is appended after every
// dispatch, succeeded or not, so the audit trail survives gateway outages.
type Execution struct {
	persistence persistence.Persistence
	devices     DeviceExecutor
	eventBus    eventbus.EventPublisher
	validator   *validator.Validate
	tracer      trace.Tracer
	logger      *slog.Logger
}

// NewExecution creates a new execution engine. devices and eventBus may be nil.
func NewExecution(p persistence.Persistence, devices DeviceExecutor, eventBus eventbus.EventPublisher, logger *slog.Logger) *Execution {
	return &Execution{
		persistence: p,
		devices:     devices,
		eventBus:    eventBus,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
		tracer:      otel.Tracer("mescore.execution"),
		logger:      logger,
	}
}

// ActionResult is the outcome of one action execution attempt as reported to
// the client. RetryCount echoes the action's configured budget so the client
// owns the retry loop.
type ActionResult struct {
	ActionID         string                 `json:"action_id"`
	Status           models.ActionLogStatus `json:"status"`
	ActualValue      string                 `json:"actual_value,omitempty"`
	ValidationResult *bool                  `json:"validation_result,omitempty"`
	DurationMillis   int64                  `json:"duration_millis"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	RetryCount       int                    `json:"retry_count"`
}

// ExecutionState is the read-only projection of where an order stands.
type ExecutionState struct {
	Order       *models.Order                `json:"order"`
	CurrentStep *models.ProcessStep          `json:"current_step,omitempty"`
	History     []*models.OrderStatusHistory `json:"history"`
	RecentLogs  []*models.ActionLog          `json:"recent_logs"`
}

// StartStep positions the order on a step. A PENDING order transitions to
// IN_PROGRESS with exactly one history row; a step started on an already
// running order only moves the position pointers.
func (e *Execution) StartStep(ctx context.Context, execCtx models.ExecutionContext) (*models.Order, error) {
	err := e.validator.Struct(execCtx)
	if err != nil {
		return nil, fmt.Errorf("invalid execution context: %w", err)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "execution.start_step",
		attribute.String(otelhelper.OrderIDKey, execCtx.OrderID),
		attribute.String(otelhelper.StepIDKey, execCtx.StepID),
		attribute.String(otelhelper.WorkstationIDKey, execCtx.WorkstationID),
	)
	defer span.End()

	order, step, err := e.loadOrderAndStep(ctx, execCtx)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if step.WorkstationID != "" && step.WorkstationID != execCtx.WorkstationID {
		otelhelper.SetError(span, ErrWorkstationMismatch)

		return nil, fmt.Errorf("%w: step %s belongs to workstation %s", ErrWorkstationMismatch, step.ID, step.WorkstationID)
	}

	now := time.Now().UTC()
	fromStatus := order.Status

	order.CurrentStepID = &step.ID
	order.CurrentStationID = &execCtx.WorkstationID

	if fromStatus == models.OrderStatusPending {
		order.Status = models.OrderStatusInProgress
		order.StartedAt = &now

		err = e.persistence.Orders().TransitionStatus(ctx, order, &models.OrderStatusHistory{
			ID:         uuidString(),
			OrderID:    order.ID,
			FromStatus: fromStatus,
			ToStatus:   models.OrderStatusInProgress,
			ChangedBy:  execCtx.ExecutedBy,
			ChangedAt:  now,
			Reason:     fmt.Sprintf("step %q started", step.Name),
		})
	} else {
		err = e.persistence.Orders().Save(ctx, order)
	}

	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.logger.InfoContext(ctx, "Step started",
		"order_id", order.ID, "step_id", step.ID, "workstation_id", execCtx.WorkstationID, "started_by", execCtx.ExecutedBy)

	e.publish(ctx, order.ID, events.OrderStepStarted{
		BaseEvent:     e.baseEvent(events.OrderStepStartedEvent),
		OrderID:       order.ID,
		StepID:        step.ID,
		WorkstationID: execCtx.WorkstationID,
		StartedBy:     execCtx.ExecutedBy,
	})

	return order, nil
}

// ExecuteAction performs one attempt of a single action and records it.
// Device-bound actions dispatch to the gateway with the action's own timeout;
// the others validate operator input locally. A gateway-reported failure or a
// failed validation is a FAILED result with a nil error; only an unreachable
// gateway returns ErrDeviceUnavailable, after the attempt is logged. When the
// ActionLog append itself fails the result comes back with ErrAuditWriteFailed,
// since the audit trail is the durable record of the attempt.
func (e *Execution) ExecuteAction(ctx context.Context, execCtx models.ExecutionContext, actionID string, parameters map[string]any) (*ActionResult, error) {
	err := e.validator.Struct(execCtx)
	if err != nil {
		return nil, fmt.Errorf("invalid execution context: %w", err)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "execution.execute_action",
		attribute.String(otelhelper.OrderIDKey, execCtx.OrderID),
		attribute.String(otelhelper.StepIDKey, execCtx.StepID),
		attribute.String(otelhelper.ActionIDKey, actionID),
	)
	defer span.End()

	order, step, err := e.loadOrderAndStep(ctx, execCtx)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	action := findAction(step, actionID)
	if action == nil {
		otelhelper.SetError(span, ErrActionNotFound)

		return nil, fmt.Errorf("%w: %s in step %s", ErrActionNotFound, actionID, step.ID)
	}

	span.SetAttributes(attribute.String(otelhelper.ActionTypeKey, string(action.Type)))

	var (
		result  *ActionResult
		execErr error
	)

	if action.Type.IsDeviceBound() {
		result, execErr = e.executeDeviceAction(ctx, order, action, execCtx, parameters)
	} else {
		result, execErr = e.executeLocalAction(ctx, order, action, execCtx, parameters)
	}

	// No result means the attempt never ran (device not configured, device
	// lookup failed): nothing to publish or report beyond the error.
	if result == nil {
		otelhelper.SetError(span, execErr)

		return nil, execErr
	}

	e.publish(ctx, order.ID, events.OrderActionExecuted{
		BaseEvent:        e.baseEvent(events.OrderActionExecutedEvent),
		OrderID:          order.ID,
		StepID:           step.ID,
		ActionID:         action.ID,
		Status:           result.Status,
		ValidationResult: result.ValidationResult,
		Duration:         time.Duration(result.DurationMillis) * time.Millisecond,
	})

	if execErr != nil {
		otelhelper.SetError(span, execErr)
	}

	return result, execErr
}

// CompleteStep records the outcome of the order's current step. Success on
// the last step of the process completes the order; failure fails it while
// keeping the position pointers for diagnosis.
func (e *Execution) CompleteStep(ctx context.Context, execCtx models.ExecutionContext, success bool, notes string) (*models.Order, error) {
	err := e.validator.Struct(execCtx)
	if err != nil {
		return nil, fmt.Errorf("invalid execution context: %w", err)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "execution.complete_step",
		attribute.String(otelhelper.OrderIDKey, execCtx.OrderID),
		attribute.String(otelhelper.StepIDKey, execCtx.StepID),
		attribute.Bool("mescore.step.success", success),
	)
	defer span.End()

	order, step, err := e.loadOrderAndStep(ctx, execCtx)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if order.Status != models.OrderStatusInProgress {
		otelhelper.SetError(span, ErrOrderNotInProgress)

		return nil, fmt.Errorf("%w: order %s is %s", ErrOrderNotInProgress, order.ID, order.Status)
	}

	now := time.Now().UTC()
	fromStatus := order.Status

	if !success {
		order.Status = models.OrderStatusFailed

		reason := notes
		if reason == "" {
			reason = fmt.Sprintf("step %q failed", step.Name)
		}

		err = e.persistence.Orders().TransitionStatus(ctx, order, &models.OrderStatusHistory{
			ID:         uuidString(),
			OrderID:    order.ID,
			FromStatus: fromStatus,
			ToStatus:   models.OrderStatusFailed,
			ChangedBy:  execCtx.ExecutedBy,
			ChangedAt:  now,
			Reason:     reason,
		})
		if err != nil {
			otelhelper.SetError(span, err)

			return nil, err
		}

		e.publish(ctx, order.ID, events.OrderFailed{
			BaseEvent:     e.baseEvent(events.OrderFailedEvent),
			OrderID:       order.ID,
			StepID:        step.ID,
			WorkstationID: execCtx.WorkstationID,
			Reason:        reason,
		})

		return order, nil
	}

	next, err := e.persistence.Steps().NextStep(ctx, order.ProcessID, step.Sequence)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to resolve next step: %w", err)
	}

	order.CurrentStepID = nil

	if next != nil {
		// More steps remain; the order stays running and waits for the
		// next StartStep from whichever workstation owns that step.
		err = e.persistence.Orders().Save(ctx, order)
		if err != nil {
			otelhelper.SetError(span, err)

			return nil, err
		}

		return order, nil
	}

	order.Status = models.OrderStatusCompleted
	order.CurrentStationID = nil
	order.CompletedAt = &now

	err = e.persistence.Orders().TransitionStatus(ctx, order, &models.OrderStatusHistory{
		ID:         uuidString(),
		OrderID:    order.ID,
		FromStatus: fromStatus,
		ToStatus:   models.OrderStatusCompleted,
		ChangedBy:  execCtx.ExecutedBy,
		ChangedAt:  now,
		Reason:     fmt.Sprintf("step %q completed", step.Name),
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.logger.InfoContext(ctx, "Order completed",
		"order_id", order.ID, "order_number", order.OrderNumber, "completed_by", execCtx.ExecutedBy)

	e.publish(ctx, order.ID, events.OrderCompleted{
		BaseEvent:   e.baseEvent(events.OrderCompletedEvent),
		OrderID:     order.ID,
		CompletedBy: execCtx.ExecutedBy,
		CompletedAt: now,
	})

	return order, nil
}

// Cancel forces a non-terminal order off the line.
func (e *Execution) Cancel(ctx context.Context, orderID, cancelledBy, reason string) (*models.Order, error) {
	order, err := e.persistence.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	if order == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	if order.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: order %s is %s", ErrOrderTerminal, order.ID, order.Status)
	}

	now := time.Now().UTC()
	fromStatus := order.Status
	order.Status = models.OrderStatusCancelled

	err = e.persistence.Orders().TransitionStatus(ctx, order, &models.OrderStatusHistory{
		ID:         uuidString(),
		OrderID:    order.ID,
		FromStatus: fromStatus,
		ToStatus:   models.OrderStatusCancelled,
		ChangedBy:  cancelledBy,
		ChangedAt:  now,
		Reason:     reason,
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, order.ID, events.OrderCancelled{
		BaseEvent:   e.baseEvent(events.OrderCancelledEvent),
		OrderID:     order.ID,
		CancelledBy: cancelledBy,
		Reason:      reason,
	})

	return order, nil
}

// State returns the order's execution projection: current position, status
// history, and recent action attempts. Dangling position references are
// dropped from the projection without touching the stored row.
func (e *Execution) State(ctx context.Context, orderID string) (*ExecutionState, error) {
	order, err := e.persistence.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	if order == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	state := &ExecutionState{Order: order}

	if order.CurrentStepID != nil {
		step, err := e.persistence.Steps().GetByID(ctx, *order.CurrentStepID)
		if err != nil {
			return nil, fmt.Errorf("failed to load current step: %w", err)
		}

		if step == nil {
			order.CurrentStepID = nil
		} else {
			state.CurrentStep = step
		}
	}

	if order.CurrentStationID != nil {
		workstation, err := e.persistence.Workstations().GetByID(ctx, *order.CurrentStationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load current workstation: %w", err)
		}

		if workstation == nil {
			order.CurrentStationID = nil
		}
	}

	state.History, err = e.persistence.Orders().History(ctx, orderID, stateHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load status history: %w", err)
	}

	state.RecentLogs, err = e.persistence.ActionLogs().ListByOrder(ctx, orderID, stateLogLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load action logs: %w", err)
	}

	return state, nil
}

// WorkstationTasks lists the orders currently positioned at a workstation.
func (e *Execution) WorkstationTasks(ctx context.Context, workstationID string, limit int) ([]*models.Order, error) {
	workstation, err := e.persistence.Workstations().GetByID(ctx, workstationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workstation: %w", err)
	}

	if workstation == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkstationNotFound, workstationID)
	}

	if limit <= 0 {
		limit = defaultTaskLimit
	}

	if limit > maxTaskLimit {
		limit = maxTaskLimit
	}

	return e.persistence.Orders().ListByWorkstation(ctx, workstationID, limit)
}

func (e *Execution) executeDeviceAction(ctx context.Context, order *models.Order, action *models.StepAction, execCtx models.ExecutionContext, parameters map[string]any) (*ActionResult, error) {
	if action.DeviceID == nil || *action.DeviceID == "" || action.Address == "" {
		return nil, fmt.Errorf("%w: action %s", ErrDeviceNotConfigured, action.ID)
	}

	device, err := e.persistence.Steps().GetDevice(ctx, *action.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load device: %w", err)
	}

	if device == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, *action.DeviceID)
	}

	request := gateway.ExecuteRequest{
		DeviceID:   device.ID,
		DeviceType: device.Type,
		DeviceInfo: gateway.DeviceInfo{
			IPAddress: device.IPAddress,
			Port:      device.Port,
			PLCType:   device.PLCType,
			Protocol:  device.Protocol,
		},
		Operation: gateway.Operation{
			Type:       operationType(action.Type),
			Address:    action.Address,
			Value:      writeValue(action, parameters),
			DataType:   action.DataType,
			Parameters: parameters,
		},
		Timestamp: time.Now().UTC(),
	}

	timeout := defaultActionTimeout
	if action.TimeoutSeconds > 0 {
		timeout = time.Duration(action.TimeoutSeconds) * time.Second
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	gwResult, gwErr := e.devices.Execute(callCtx, request)
	duration := time.Since(start)

	entry := &models.ActionLog{
		ID:             uuidString(),
		ActionID:       action.ID,
		OrderID:        order.ID,
		StepID:         action.StepID,
		DeviceID:       action.DeviceID,
		RequestPayload: marshalPayload(request),
		DurationMillis: duration.Milliseconds(),
		ExecutedBy:     execCtx.ExecutedBy,
		ExecutedAt:     start.UTC(),
	}

	result := &ActionResult{
		ActionID:       action.ID,
		DurationMillis: duration.Milliseconds(),
		RetryCount:     action.RetryCount,
	}

	switch {
	case gwErr != nil && gateway.IsDeviceUnavailable(gwErr):
		entry.Status = models.ActionLogFailed
		entry.ErrorMessage = gwErr.Error()
		result.Status = models.ActionLogFailed
		result.ErrorMessage = gwErr.Error()

		if logErr := e.appendLog(ctx, entry); logErr != nil {
			return result, logErr
		}

		return result, fmt.Errorf("action %s: %w", action.ID, gwErr)

	case gwErr != nil:
		// The gateway answered and reported failure: a normal outcome, not
		// an infrastructure error.
		entry.Status = models.ActionLogFailed
		entry.ErrorMessage = gwErr.Error()
		result.Status = models.ActionLogFailed
		result.ErrorMessage = gwErr.Error()

		if gwResult != nil {
			entry.ResponsePayload = marshalPayload(gwResult)
		}

		return result, e.appendLog(ctx, entry)
	}

	actual := gwResult.Data.Value
	validation := validateValue(actual, action.ExpectedValue, action.ValidationRule)

	entry.ResponsePayload = marshalPayload(gwResult)
	entry.ActualValue = actual
	entry.ValidationResult = validation
	result.ActualValue = actual
	result.ValidationResult = validation

	if validation != nil && !*validation {
		entry.Status = models.ActionLogFailed
		entry.ErrorMessage = fmt.Sprintf("value %q did not satisfy expectation %q", actual, action.ExpectedValue)
		result.Status = models.ActionLogFailed
		result.ErrorMessage = entry.ErrorMessage
	} else {
		entry.Status = models.ActionLogSuccess
		result.Status = models.ActionLogSuccess
	}

	return result, e.appendLog(ctx, entry)
}

func (e *Execution) executeLocalAction(ctx context.Context, order *models.Order, action *models.StepAction, execCtx models.ExecutionContext, parameters map[string]any) (*ActionResult, error) {
	start := time.Now()

	actual := stringParameter(parameters, "value")
	validation := validateValue(actual, action.ExpectedValue, action.ValidationRule)

	entry := &models.ActionLog{
		ID:               uuidString(),
		ActionID:         action.ID,
		OrderID:          order.ID,
		StepID:           action.StepID,
		Status:           models.ActionLogSuccess,
		RequestPayload:   marshalPayload(parameters),
		ActualValue:      actual,
		ValidationResult: validation,
		DurationMillis:   time.Since(start).Milliseconds(),
		ExecutedBy:       execCtx.ExecutedBy,
		ExecutedAt:       start.UTC(),
	}

	result := &ActionResult{
		ActionID:         action.ID,
		Status:           models.ActionLogSuccess,
		ActualValue:      actual,
		ValidationResult: validation,
		DurationMillis:   entry.DurationMillis,
		RetryCount:       action.RetryCount,
	}

	if validation != nil && !*validation {
		entry.Status = models.ActionLogFailed
		entry.ErrorMessage = fmt.Sprintf("value %q did not satisfy expectation %q", actual, action.ExpectedValue)
		result.Status = models.ActionLogFailed
		result.ErrorMessage = entry.ErrorMessage
	}

	return result, e.appendLog(ctx, entry)
}

func (e *Execution) loadOrderAndStep(ctx context.Context, execCtx models.ExecutionContext) (*models.Order, *models.ProcessStep, error) {
	order, err := e.persistence.Orders().GetByID(ctx, execCtx.OrderID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load order: %w", err)
	}

	if order == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrOrderNotFound, execCtx.OrderID)
	}

	if order.Status.IsTerminal() {
		return nil, nil, fmt.Errorf("%w: order %s is %s", ErrOrderTerminal, order.ID, order.Status)
	}

	step, err := e.persistence.Steps().GetByID(ctx, execCtx.StepID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load step: %w", err)
	}

	if step == nil || step.ProcessID != order.ProcessID {
		return nil, nil, fmt.Errorf("%w: %s in process %s", ErrStepNotFound, execCtx.StepID, order.ProcessID)
	}

	return order, step, nil
}

// appendLog writes the audit row. The row is the durable record of the
// attempt, so a failed append surfaces as an infrastructure error alongside
// the result already in hand.
func (e *Execution) appendLog(ctx context.Context, entry *models.ActionLog) error {
	err := e.persistence.ActionLogs().Append(ctx, entry)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to append action log",
			"action_id", entry.ActionID, "order_id", entry.OrderID, "error", err)

		return fmt.Errorf("%w: %v", ErrAuditWriteFailed, err)
	}

	return nil
}

func (e *Execution) baseEvent(eventType events.EventType) events.BaseEvent {
	return events.BaseEvent{
		ID:        uuidString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

func (e *Execution) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	err := e.eventBus.Publish(ctx, key, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func findAction(step *models.ProcessStep, actionID string) *models.StepAction {
	for _, action := range step.Actions {
		if action.ID == actionID {
			return action
		}
	}

	return nil
}

func operationType(actionType models.ActionType) string {
	if actionType == models.ActionTypeDeviceWrite {
		return "write"
	}

	return "read"
}

// writeValue resolves the value to send on a DEVICE_WRITE: an explicit
// request parameter wins over the configured expected value.
func writeValue(action *models.StepAction, parameters map[string]any) string {
	if action.Type != models.ActionTypeDeviceWrite {
		return ""
	}

	if value := stringParameter(parameters, "value"); value != "" {
		return value
	}

	return action.ExpectedValue
}

// validateValue compares the observed value against the action's expectation.
// nil means the action carries no expectation. The default rule is exact
// equality; "contains" and "not_empty" are the other supported rules.
func validateValue(actual, expected, rule string) *bool {
	if expected == "" && rule == "" {
		return nil
	}

	var ok bool

	switch rule {
	case "contains":
		ok = strings.Contains(actual, expected)
	case "not_empty":
		ok = strings.TrimSpace(actual) != ""
	default:
		ok = actual == expected
	}

	return &ok
}

func stringParameter(parameters map[string]any, key string) string {
	if parameters == nil {
		return ""
	}

	switch value := parameters[key].(type) {
	case string:
		return value
	case fmt.Stringer:
		return value.String()
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%v", value), ".0")
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", value)
	}
}

func marshalPayload(payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}

	return string(data)
}

func uuidString() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
