package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesworks/mescore/pkg/config"
	"github.com/mesworks/mescore/pkg/models"
	"github.com/mesworks/mescore/pkg/persistence/memory"
)

const samplePlantConfig = `
workstations:
  - id: ws-1
    code: WS-01
    name: Assembly 1

devices:
  - id: dev-1
    name: Torque Controller
    type: screwdriver
    ip_address: 10.0.0.5
    port: 4545
    protocol: open-protocol

steps:
  - id: step-1
    process_id: proc-1
    name: Tighten housing
    sequence: 1
    workstation_id: ws-1
    actions:
      - id: act-1
        name: Read torque result
        sequence: 1
        type: DEVICE_READ
        device_id: dev-1
        address: DB10.DBW4
        data_type: int
        expected_value: "1"
        required: true
        timeout_seconds: 2
        retry_count: 3
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "plant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadPlantConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadPlantConfig(writeConfig(t, samplePlantConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Workstations, 1)
	assert.Equal(t, "WS-01", cfg.Workstations[0].Code)
	require.Len(t, cfg.Devices, 1)
	assert.Equal(t, 4545, cfg.Devices[0].Port)
	require.Len(t, cfg.Steps, 1)
	require.Len(t, cfg.Steps[0].Actions, 1)
	assert.Equal(t, "DEVICE_READ", cfg.Steps[0].Actions[0].Type)
}

func TestLoadPlantConfigErrors(t *testing.T) {
	t.Parallel()

	_, err := config.LoadPlantConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = config.LoadPlantConfig(writeConfig(t, "workstations: {not: a list}"))
	require.Error(t, err)
}

func TestSeed(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadPlantConfig(writeConfig(t, samplePlantConfig))
	require.NoError(t, err)

	store := memory.NewPersistence()
	ctx := context.Background()

	require.NoError(t, cfg.Seed(ctx, store))

	workstation, err := store.Workstations().GetByID(ctx, "ws-1")
	require.NoError(t, err)
	require.NotNil(t, workstation)
	assert.Equal(t, "Assembly 1", workstation.Name)

	device, err := store.Steps().GetDevice(ctx, "dev-1")
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.Equal(t, "open-protocol", device.Protocol)

	step, err := store.Steps().GetByID(ctx, "step-1")
	require.NoError(t, err)
	require.NotNil(t, step)
	require.Len(t, step.Actions, 1)
	assert.Equal(t, models.ActionTypeDeviceRead, step.Actions[0].Type)
	require.NotNil(t, step.Actions[0].DeviceID)
	assert.Equal(t, "dev-1", *step.Actions[0].DeviceID)

	// Re-seeding is an upsert, not a duplicate.
	require.NoError(t, cfg.Seed(ctx, store))

	step, err = store.Steps().GetByID(ctx, "step-1")
	require.NoError(t, err)
	require.Len(t, step.Actions, 1)
}
