// Package gateway provides the HTTP client for the device-communication
// service that executes physical reads and writes against PLCs, scanners,
// and screwdriver controllers.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultTimeout = 5 * time.Second

var (
	// ErrDeviceUnavailable is returned when the gateway is unreachable or the
	// call exceeds its timeout.
	ErrDeviceUnavailable = errors.New("device gateway unavailable")

	// ErrOperationFailed is returned when the gateway answered but reported a
	// failed device operation.
	ErrOperationFailed = errors.New("device operation failed")
)

// DeviceInfo carries the network coordinates of the target device.
type DeviceInfo struct {
	IPAddress string `json:"ipAddress"`
	Port      int    `json:"port"`
	PLCType   string `json:"plcType,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
}

// Operation describes the single read or write to perform.
type Operation struct {
	Type       string         `json:"type"`
	Address    string         `json:"address"`
	Value      string         `json:"value,omitempty"`
	DataType   string         `json:"dataType,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ExecuteRequest is the wire format for POST /devices/execute.
type ExecuteRequest struct {
	DeviceID   string     `json:"deviceId"`
	DeviceType string     `json:"deviceType"`
	DeviceInfo DeviceInfo `json:"deviceInfo"`
	Operation  Operation  `json:"operation"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ExecuteResult is the gateway's answer to one operation.
type ExecuteResult struct {
	Success bool `json:"success"`
	Data    struct {
		Value  string `json:"value"`
		Status string `json:"status"`
	} `json:"data"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client talks to the device gateway. One Execute call performs exactly one
// device operation attempt; retry belongs to the caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a gateway client with the 5 second per-call budget.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: logger,
	}
}

// Execute dispatches one device operation and returns the typed result.
// Transport failures and timeouts surface as ErrDeviceUnavailable; a gateway
// answer with success=false or a non-2xx status surfaces as
// ErrOperationFailed carrying the gateway's message.
func (c *Client) Execute(ctx context.Context, request ExecuteRequest) (*ExecuteResult, error) {
	if request.Timestamp.IsZero() {
		request.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execute request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/devices/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create execute request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("device gateway call failed: %w: %w", ErrDeviceUnavailable, err)
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	var result ExecuteResult

	err = json.Unmarshal(body, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &result, fmt.Errorf("%w: gateway returned status %d: %s", ErrOperationFailed, resp.StatusCode, gatewayMessage(&result))
	}

	if !result.Success {
		return &result, fmt.Errorf("%w: %s", ErrOperationFailed, gatewayMessage(&result))
	}

	return &result, nil
}

// NotifySessionEnded tells the gateway an operator session ended so it can
// release device reservations. Best effort: failures are logged, never
// propagated.
func (c *Client) NotifySessionEnded(ctx context.Context, workstationID, username string) {
	payload, err := json.Marshal(map[string]string{
		"workstationId": workstationID,
		"username":      username,
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to marshal session-ended notification", "error", err)

		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions/ended", bytes.NewReader(payload))
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to create session-ended notification", "error", err)

		return
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "session-ended notification failed", "workstation_id", workstationID, "error", err)

		return
	}

	err = resp.Body.Close()
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to close response body", "error", err)
	}
}

// IsDeviceUnavailable checks if an error indicates the gateway could not be reached in time.
func IsDeviceUnavailable(err error) bool {
	return errors.Is(err, ErrDeviceUnavailable)
}

// IsOperationFailed checks if an error indicates the gateway reported a failed operation.
func IsOperationFailed(err error) bool {
	return errors.Is(err, ErrOperationFailed)
}

func gatewayMessage(result *ExecuteResult) string {
	if result.Error != "" {
		return result.Error
	}

	if result.Message != "" {
		return result.Message
	}

	return "no detail provided"
}
