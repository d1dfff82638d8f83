package gateway_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesworks/mescore/pkg/gateway"
)

func testClient(t *testing.T, handler http.HandlerFunc) *gateway.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return gateway.NewClient(server.URL, slog.Default())
}

func executeRequest() gateway.ExecuteRequest {
	return gateway.ExecuteRequest{
		DeviceID:   "dev-1",
		DeviceType: "plc",
		DeviceInfo: gateway.DeviceInfo{
			IPAddress: "10.0.0.8",
			Port:      102,
			PLCType:   "s7-1500",
			Protocol:  "s7",
		},
		Operation: gateway.Operation{
			Type:     "read",
			Address:  "DB1.DBW0",
			DataType: "int",
		},
	}
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/devices/execute", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req gateway.ExecuteRequest

		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "dev-1", req.DeviceID)
		assert.Equal(t, "read", req.Operation.Type)
		assert.False(t, req.Timestamp.IsZero())

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"value":"42","status":"ok"}}`))
	})

	result, err := client.Execute(context.Background(), executeRequest())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "42", result.Data.Value)
}

func TestExecuteOperationFailed(t *testing.T) {
	t.Parallel()

	client := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"address out of range"}`))
	})

	result, err := client.Execute(context.Background(), executeRequest())
	require.Error(t, err)
	assert.True(t, gateway.IsOperationFailed(err))
	assert.False(t, gateway.IsDeviceUnavailable(err))
	assert.Contains(t, err.Error(), "address out of range")
	require.NotNil(t, result)
}

func TestExecuteNon2xxStatus(t *testing.T) {
	t.Parallel()

	client := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"message":"gateway crashed"}`))
	})

	_, err := client.Execute(context.Background(), executeRequest())
	require.Error(t, err)
	assert.True(t, gateway.IsOperationFailed(err))
	assert.Contains(t, err.Error(), "500")
}

func TestExecuteTransportFailure(t *testing.T) {
	t.Parallel()

	client := gateway.NewClient("http://127.0.0.1:1", slog.Default())

	_, err := client.Execute(context.Background(), executeRequest())
	require.Error(t, err)
	assert.True(t, gateway.IsDeviceUnavailable(err))
	assert.False(t, gateway.IsOperationFailed(err))
}

func TestNotifySessionEndedBestEffort(t *testing.T) {
	t.Parallel()

	var called atomic.Bool

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/ended", r.URL.Path)

		var payload map[string]string

		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "ws-1", payload["workstationId"])
		assert.Equal(t, "alice", payload["username"])

		called.Store(true)
		w.WriteHeader(http.StatusNoContent)
	})

	client.NotifySessionEnded(context.Background(), "ws-1", "alice")
	assert.True(t, called.Load())

	// Unreachable gateway must not panic or propagate.
	down := gateway.NewClient("http://127.0.0.1:1", slog.Default())
	down.NotifySessionEnded(context.Background(), "ws-1", "alice")
}
