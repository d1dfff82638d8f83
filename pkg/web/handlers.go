// Package web provides HTTP handlers and REST API endpoints for session and
// order execution management.
package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/mesworks/mescore/pkg/services"
)

type APIHandlers struct {
	sessionService   *services.Session
	executionService *services.Execution
	validator        *validator.Validate
}

func NewAPIHandlers(
	sessionService *services.Session,
	executionService *services.Execution,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		sessionService:   sessionService,
		executionService: executionService,
		validator:        validator,
	}
}

// RegisterRoutes wires the API surface onto the app.
func RegisterRoutes(app *fiber.App, h *APIHandlers) {
	sessions := app.Group("/sessions")
	sessions.Get("/check/:workstationId", h.CheckSession)
	sessions.Post("/login", h.Login)
	sessions.Post("/:id/heartbeat", h.Heartbeat)
	sessions.Post("/logout", h.Logout)
	sessions.Post("/takeover", h.Takeover)

	app.Post("/workflow", h.Workflow)

	orders := app.Group("/orders")
	orders.Get("/:id/state", h.OrderState)
	orders.Post("/:id/cancel", h.CancelOrder)

	app.Get("/workstations/:id/tasks", h.WorkstationTasks)
	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) CheckSession(c fiber.Ctx) error {
	workstationID := c.Params("workstationId")
	if workstationID == "" {
		return badRequest(c, "Workstation ID is required")
	}

	result, err := h.sessionService.Check(c.Context(), workstationID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":       true,
		"canLogin":      result.CanLogin,
		"activeSession": result.ActiveSession,
	})
}

func (h *APIHandlers) Login(c fiber.Ctx) error {
	var req LoginRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	session, err := h.sessionService.Login(c.Context(), req.WorkstationID, req.Username)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(SessionResponse{
		Success: true,
		Session: session,
	})
}

// Heartbeat answers 200 while the session is alive. A lost session answers
// 401 with a machine-readable code and shouldLogout so the workstation
// client stops the operator UI instead of retrying.
func (h *APIHandlers) Heartbeat(c fiber.Ctx) error {
	sessionID := c.Params("id")
	if sessionID == "" {
		return badRequest(c, "Session ID is required")
	}

	err := h.sessionService.Heartbeat(c.Context(), sessionID)
	if err == nil {
		return c.JSON(SessionResponse{Success: true})
	}

	var takenOver *services.TakenOverError
	if errors.As(err, &takenOver) {
		return c.Status(fiber.StatusUnauthorized).JSON(SessionResponse{
			Success:      false,
			Error:        CodeSessionTakenOver,
			Message:      takenOver.Error(),
			ShouldLogout: true,
		})
	}

	if errors.Is(err, services.ErrSessionTerminated) {
		return c.Status(fiber.StatusUnauthorized).JSON(SessionResponse{
			Success:      false,
			Error:        CodeSessionTerminated,
			Message:      "session expired or logged out",
			ShouldLogout: true,
		})
	}

	return handleServiceError(c, err)
}

func (h *APIHandlers) Logout(c fiber.Ctx) error {
	var req LogoutRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if req.SessionID == "" && req.WorkstationID == "" {
		return badRequest(c, "Either sessionId or workstationId is required")
	}

	err := h.sessionService.Logout(c.Context(), services.LogoutRequest{
		SessionID:     req.SessionID,
		WorkstationID: req.WorkstationID,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(SessionResponse{Success: true})
}

func (h *APIHandlers) Takeover(c fiber.Ctx) error {
	var req TakeoverRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.sessionService.Takeover(c.Context(), req.WorkstationID, req.Username, req.ForceLogout)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":         true,
		"proceeded":       result.Proceeded,
		"deposedSessions": result.DeposedSessions,
	})
}

// Workflow dispatches step operations by action name, mirroring the single
// command endpoint the workstation clients talk to.
func (h *APIHandlers) Workflow(c fiber.Ctx) error {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execCtx := req.executionContext()

	switch req.Action {
	case WorkflowActionStartStep:
		order, err := h.executionService.StartStep(c.Context(), execCtx)
		if err != nil {
			return handleServiceError(c, err)
		}

		return c.JSON(fiber.Map{"success": true, "order": order})

	case WorkflowActionExecuteAction:
		if req.ActionID == "" {
			return badRequest(c, "actionId is required for executeAction")
		}

		result, err := h.executionService.ExecuteAction(c.Context(), execCtx, req.ActionID, req.Parameters)
		if err != nil {
			return handleServiceError(c, err)
		}

		return c.JSON(fiber.Map{"success": true, "result": result})

	case WorkflowActionCompleteStep:
		if req.Success == nil {
			return badRequest(c, "success is required for completeStep")
		}

		order, err := h.executionService.CompleteStep(c.Context(), execCtx, *req.Success, req.Notes)
		if err != nil {
			return handleServiceError(c, err)
		}

		return c.JSON(fiber.Map{"success": true, "order": order})

	default:
		return badRequest(c, "Unknown workflow action: "+req.Action)
	}
}

func (h *APIHandlers) OrderState(c fiber.Ctx) error {
	orderID := c.Params("id")
	if orderID == "" {
		return badRequest(c, "Order ID is required")
	}

	state, err := h.executionService.State(c.Context(), orderID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			return notFound(c, "Order not found")
		}

		return internalError(c, err)
	}

	return c.JSON(state)
}

func (h *APIHandlers) CancelOrder(c fiber.Ctx) error {
	orderID := c.Params("id")
	if orderID == "" {
		return badRequest(c, "Order ID is required")
	}

	var req struct {
		CancelledBy string `json:"cancelledBy" validate:"required"`
		Reason      string `json:"reason,omitempty"`
	}

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	order, err := h.executionService.Cancel(c.Context(), orderID, req.CancelledBy, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "order": order})
}

func (h *APIHandlers) WorkstationTasks(c fiber.Ctx) error {
	workstationID := c.Params("id")
	if workstationID == "" {
		return badRequest(c, "Workstation ID is required")
	}

	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit: "+limitStr)
		}

		limit = parsed
	}

	tasks, err := h.executionService.WorkstationTasks(c.Context(), workstationID, limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"tasks":   tasks,
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.sessionService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "MES core API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "MES core API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
