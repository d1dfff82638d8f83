// Package web provides HTTP request and response types for the execution API.
package web

import "github.com/mesworks/mescore/pkg/models"

func (r WorkflowRequest) executionContext() models.ExecutionContext {
	return models.ExecutionContext{
		OrderID:       r.OrderID,
		StepID:        r.StepID,
		WorkstationID: r.WorkstationID,
		SessionID:     r.SessionID,
		ExecutedBy:    r.ExecutedBy,
	}
}

// Session error codes returned to workstation clients. Clients switch on
// these to decide whether to stop the operator UI.
const (
	CodeSessionTerminated = "SESSION_TERMINATED"
	CodeSessionTakenOver  = "SESSION_TAKEN_OVER"
)

// Workflow dispatch actions accepted by POST /workflow.
const (
	WorkflowActionStartStep     = "startStep"
	WorkflowActionExecuteAction = "executeAction"
	WorkflowActionCompleteStep  = "completeStep"
)

// LoginRequest represents the request body for opening a session.
type LoginRequest struct {
	WorkstationID string `json:"workstationId" validate:"required"`
	Username      string `json:"username"      validate:"required"`
}

// LogoutRequest represents the request body for closing a session. Either
// field addresses the session; workstationId wins when both are given.
type LogoutRequest struct {
	SessionID     string `json:"sessionId,omitempty"`
	WorkstationID string `json:"workstationId,omitempty"`
}

// TakeoverRequest represents the request body for taking over a workstation.
// With ForceLogout false the call is a dry run reporting the occupant.
type TakeoverRequest struct {
	WorkstationID string `json:"workstationId" validate:"required"`
	Username      string `json:"username"      validate:"required"`
	ForceLogout   bool   `json:"forceLogout"`
}

// WorkflowRequest is the dispatch envelope for POST /workflow.
type WorkflowRequest struct {
	Action        string         `json:"action"        validate:"required,oneof=startStep executeAction completeStep"`
	OrderID       string         `json:"orderId"       validate:"required"`
	StepID        string         `json:"stepId"        validate:"required"`
	WorkstationID string         `json:"workstationId" validate:"required"`
	SessionID     string         `json:"sessionId"`
	ExecutedBy    string         `json:"executedBy"    validate:"required"`
	ActionID      string         `json:"actionId"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Success       *bool          `json:"success,omitempty"`
	Notes         string         `json:"notes,omitempty"`
}

// SessionResponse is the uniform envelope for session endpoints.
type SessionResponse struct {
	Success      bool                       `json:"success"`
	Session      *models.WorkstationSession `json:"session,omitempty"`
	Error        string                     `json:"error,omitempty"`
	Message      string                     `json:"message,omitempty"`
	ShouldLogout bool                       `json:"shouldLogout,omitempty"`
}
