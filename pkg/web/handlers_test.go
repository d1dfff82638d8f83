package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesworks/mescore/pkg/models"
	"github.com/mesworks/mescore/pkg/persistence/memory"
	"github.com/mesworks/mescore/pkg/services"
	"github.com/mesworks/mescore/pkg/web"
)

func boolPtr(b bool) *bool { return &b }

func setupTestApp(t *testing.T) (*fiber.App, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	logger := slog.Default()

	sessionService := services.NewSession(store, nil, nil, time.Hour, logger)
	executionService := services.NewExecution(store, nil, nil, logger)
	v := validator.New(validator.WithRequiredStructEnabled())

	handlers := web.NewAPIHandlers(sessionService, executionService, v)

	app := fiber.New()
	web.RegisterRoutes(app, handlers)

	seedStore(t, store)

	return app, store
}

func seedStore(t *testing.T, store *memory.Persistence) {
	t.Helper()

	ctx := context.Background()

	require.NoError(t, store.Workstations().Save(ctx, &models.Workstation{
		ID:   "ws-1",
		Code: "WS-01",
		Name: "Assembly 1",
	}))

	require.NoError(t, store.Steps().Save(ctx, &models.ProcessStep{
		ID:            "step-1",
		ProcessID:     "proc-1",
		Name:          "Tighten housing",
		Sequence:      1,
		WorkstationID: "ws-1",
		Actions: []*models.StepAction{
			{
				ID:       "act-confirm",
				StepID:   "step-1",
				Name:     "Confirm fixture",
				Sequence: 1,
				Type:     models.ActionTypeManualConfirm,
				Required: true,
			},
		},
	}))

	require.NoError(t, store.Orders().Save(ctx, &models.Order{
		ID:               "ord-1",
		OrderNumber:      "ORD-1001",
		ProductionNumber: "PN-7",
		Quantity:         5,
		Status:           models.OrderStatusPending,
		ProcessID:        "proc-1",
	}))
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, path, reader)
	require.NoError(t, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	responseBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp, responseBody
}

func login(t *testing.T, app *fiber.App, workstationID, username string) *models.WorkstationSession {
	t.Helper()

	resp, body := doJSON(t, app, http.MethodPost, "/sessions/login", web.LoginRequest{
		WorkstationID: workstationID,
		Username:      username,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var sessionResp web.SessionResponse

	require.NoError(t, json.Unmarshal(body, &sessionResp))
	require.NotNil(t, sessionResp.Session)

	return sessionResp.Session
}

func TestSessionEndpoints(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/sessions/check/ws-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var check struct {
		CanLogin bool `json:"canLogin"`
	}

	require.NoError(t, json.Unmarshal(body, &check))
	assert.True(t, check.CanLogin)

	session := login(t, app, "ws-1", "alice")

	// Occupied now.
	resp, body = doJSON(t, app, http.MethodGet, "/sessions/check/ws-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &check))
	assert.False(t, check.CanLogin)

	// Second login conflicts.
	resp, _ = doJSON(t, app, http.MethodPost, "/sessions/login", web.LoginRequest{
		WorkstationID: "ws-1",
		Username:      "bob",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Heartbeat keeps the session alive.
	resp, _ = doJSON(t, app, http.MethodPost, "/sessions/"+session.ID+"/heartbeat", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Logout, then the heartbeat reports termination with shouldLogout.
	resp, _ = doJSON(t, app, http.MethodPost, "/sessions/logout", web.LogoutRequest{SessionID: session.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodPost, "/sessions/"+session.ID+"/heartbeat", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var heartbeat web.SessionResponse

	require.NoError(t, json.Unmarshal(body, &heartbeat))
	assert.False(t, heartbeat.Success)
	assert.Equal(t, web.CodeSessionTerminated, heartbeat.Error)
	assert.True(t, heartbeat.ShouldLogout)
}

func TestHeartbeatAfterTakeover(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	session := login(t, app, "ws-1", "alice")

	resp, body := doJSON(t, app, http.MethodPost, "/sessions/takeover", web.TakeoverRequest{
		WorkstationID: "ws-1",
		Username:      "bob",
		ForceLogout:   true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = doJSON(t, app, http.MethodPost, "/sessions/"+session.ID+"/heartbeat", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var heartbeat web.SessionResponse

	require.NoError(t, json.Unmarshal(body, &heartbeat))
	assert.Equal(t, web.CodeSessionTakenOver, heartbeat.Error)
	assert.True(t, heartbeat.ShouldLogout)
	assert.Contains(t, heartbeat.Message, "bob")
}

func TestTakeoverDryRun(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	login(t, app, "ws-1", "alice")

	resp, body := doJSON(t, app, http.MethodPost, "/sessions/takeover", web.TakeoverRequest{
		WorkstationID: "ws-1",
		Username:      "bob",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Proceeded       bool                         `json:"proceeded"`
		DeposedSessions []*models.WorkstationSession `json:"deposedSessions"`
	}

	require.NoError(t, json.Unmarshal(body, &result))
	assert.False(t, result.Proceeded)
	require.Len(t, result.DeposedSessions, 1)
	assert.Equal(t, "alice", result.DeposedSessions[0].Username)
}

func TestWorkflowDispatch(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	tests := []struct {
		name           string
		request        web.WorkflowRequest
		expectedStatus int
	}{
		{
			name: "start step",
			request: web.WorkflowRequest{
				Action:        web.WorkflowActionStartStep,
				OrderID:       "ord-1",
				StepID:        "step-1",
				WorkstationID: "ws-1",
				ExecutedBy:    "alice",
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "execute manual action",
			request: web.WorkflowRequest{
				Action:        web.WorkflowActionExecuteAction,
				OrderID:       "ord-1",
				StepID:        "step-1",
				WorkstationID: "ws-1",
				ExecutedBy:    "alice",
				ActionID:      "act-confirm",
				Parameters:    map[string]any{"value": "ok"},
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "execute action without action id",
			request: web.WorkflowRequest{
				Action:        web.WorkflowActionExecuteAction,
				OrderID:       "ord-1",
				StepID:        "step-1",
				WorkstationID: "ws-1",
				ExecutedBy:    "alice",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "complete step without outcome",
			request: web.WorkflowRequest{
				Action:        web.WorkflowActionCompleteStep,
				OrderID:       "ord-1",
				StepID:        "step-1",
				WorkstationID: "ws-1",
				ExecutedBy:    "alice",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "complete step",
			request: web.WorkflowRequest{
				Action:        web.WorkflowActionCompleteStep,
				OrderID:       "ord-1",
				StepID:        "step-1",
				WorkstationID: "ws-1",
				ExecutedBy:    "alice",
				Success:       boolPtr(true),
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "unknown order",
			request: web.WorkflowRequest{
				Action:        web.WorkflowActionStartStep,
				OrderID:       "ord-missing",
				StepID:        "step-1",
				WorkstationID: "ws-1",
				ExecutedBy:    "alice",
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name: "invalid action name",
			request: web.WorkflowRequest{
				Action:        "teleport",
				OrderID:       "ord-1",
				StepID:        "step-1",
				WorkstationID: "ws-1",
				ExecutedBy:    "alice",
			},
			expectedStatus: http.StatusBadRequest,
		},
	}

	// Order matters: these run against one app to walk the order through its
	// lifecycle.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, app, http.MethodPost, "/workflow", tt.request)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode, string(body))
		})
	}
}

func TestWorkstationMismatchIsRejected(t *testing.T) {
	t.Parallel()

	app, store := setupTestApp(t)

	require.NoError(t, store.Workstations().Save(context.Background(), &models.Workstation{
		ID:   "ws-2",
		Code: "WS-02",
		Name: "Testing 1",
	}))

	resp, body := doJSON(t, app, http.MethodPost, "/workflow", web.WorkflowRequest{
		Action:        web.WorkflowActionStartStep,
		OrderID:       "ord-1",
		StepID:        "step-1",
		WorkstationID: "ws-2",
		ExecutedBy:    "alice",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
}

func TestOrderStateEndpoint(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/workflow", web.WorkflowRequest{
		Action:        web.WorkflowActionStartStep,
		OrderID:       "ord-1",
		StepID:        "step-1",
		WorkstationID: "ws-1",
		ExecutedBy:    "alice",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodGet, "/orders/ord-1/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state services.ExecutionState

	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, models.OrderStatusInProgress, state.Order.Status)
	require.NotNil(t, state.CurrentStep)
	assert.Equal(t, "step-1", state.CurrentStep.ID)
	assert.Len(t, state.History, 1)

	resp, _ = doJSON(t, app, http.MethodGet, "/orders/ord-missing/state", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelOrderEndpoint(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/orders/ord-1/cancel", map[string]any{
		"cancelledBy": "admin",
		"reason":      "material recall",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result struct {
		Order *models.Order `json:"order"`
	}

	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, models.OrderStatusCancelled, result.Order.Status)

	// Cancelling again hits the terminal guard.
	resp, _ = doJSON(t, app, http.MethodPost, "/orders/ord-1/cancel", map[string]any{
		"cancelledBy": "admin",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWorkstationTasksEndpoint(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/workflow", web.WorkflowRequest{
		Action:        web.WorkflowActionStartStep,
		OrderID:       "ord-1",
		StepID:        "step-1",
		WorkstationID: "ws-1",
		ExecutedBy:    "alice",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodGet, "/workstations/ws-1/tasks?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tasks struct {
		Tasks []*models.Order `json:"tasks"`
	}

	require.NoError(t, json.Unmarshal(body, &tasks))
	require.Len(t, tasks.Tasks, 1)
	assert.Equal(t, "ord-1", tasks.Tasks[0].ID)

	resp, _ = doJSON(t, app, http.MethodGet, "/workstations/ws-missing/tasks", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/workstations/ws-1/tasks?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status string `json:"status"`
	}

	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health.Status)
}
