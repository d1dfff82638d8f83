// Package config provides plant master-data loading: workstations, devices,
// and process definitions seeded into the store at startup.
package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mesworks/mescore/pkg/models"
	"github.com/mesworks/mescore/pkg/persistence"
)

// PlantConfigFile is the structure of the plant.yaml file.
type PlantConfigFile struct {
	Workstations []WorkstationConfig `yaml:"workstations"`
	Devices      []DeviceConfig      `yaml:"devices"`
	Steps        []StepConfig        `yaml:"steps"`
}

// WorkstationConfig describes one physical workstation.
type WorkstationConfig struct {
	ID   string `yaml:"id"`
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// DeviceConfig describes one networked device.
type DeviceConfig struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	IPAddress string `yaml:"ip_address"`
	Port      int    `yaml:"port"`
	PLCType   string `yaml:"plc_type"`
	Protocol  string `yaml:"protocol"`
}

// StepConfig describes one process step and its actions.
type StepConfig struct {
	ID            string         `yaml:"id"`
	ProcessID     string         `yaml:"process_id"`
	Name          string         `yaml:"name"`
	Sequence      int            `yaml:"sequence"`
	WorkstationID string         `yaml:"workstation_id"`
	Actions       []ActionConfig `yaml:"actions"`
}

// ActionConfig describes one action within a step.
type ActionConfig struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	Sequence       int    `yaml:"sequence"`
	Type           string `yaml:"type"`
	DeviceID       string `yaml:"device_id"`
	Address        string `yaml:"address"`
	DataType       string `yaml:"data_type"`
	ExpectedValue  string `yaml:"expected_value"`
	ValidationRule string `yaml:"validation_rule"`
	Required       bool   `yaml:"required"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	RetryCount     int    `yaml:"retry_count"`
}

// LoadPlantConfig reads and parses a plant configuration file.
func LoadPlantConfig(path string) (*PlantConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plant config %s: %w", path, err)
	}

	var configFile PlantConfigFile

	err = yaml.Unmarshal(data, &configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plant config: %w", err)
	}

	return &configFile, nil
}

// Seed upserts the configured master data into the store. Existing rows with
// the same IDs are overwritten; orders and sessions are never touched.
func (f *PlantConfigFile) Seed(ctx context.Context, p persistence.Persistence) error {
	for _, workstation := range f.Workstations {
		err := p.Workstations().Save(ctx, &models.Workstation{
			ID:   workstation.ID,
			Code: workstation.Code,
			Name: workstation.Name,
		})
		if err != nil {
			return fmt.Errorf("failed to seed workstation %s: %w", workstation.ID, err)
		}
	}

	for _, device := range f.Devices {
		err := p.Steps().SaveDevice(ctx, &models.Device{
			ID:        device.ID,
			Name:      device.Name,
			Type:      device.Type,
			IPAddress: device.IPAddress,
			Port:      device.Port,
			PLCType:   device.PLCType,
			Protocol:  device.Protocol,
		})
		if err != nil {
			return fmt.Errorf("failed to seed device %s: %w", device.ID, err)
		}
	}

	for _, step := range f.Steps {
		actions := make([]*models.StepAction, 0, len(step.Actions))

		for _, action := range step.Actions {
			modelAction := &models.StepAction{
				ID:             action.ID,
				StepID:         step.ID,
				Name:           action.Name,
				Sequence:       action.Sequence,
				Type:           models.ActionType(action.Type),
				Address:        action.Address,
				DataType:       action.DataType,
				ExpectedValue:  action.ExpectedValue,
				ValidationRule: action.ValidationRule,
				Required:       action.Required,
				TimeoutSeconds: action.TimeoutSeconds,
				RetryCount:     action.RetryCount,
			}

			if action.DeviceID != "" {
				deviceID := action.DeviceID
				modelAction.DeviceID = &deviceID
			}

			actions = append(actions, modelAction)
		}

		err := p.Steps().Save(ctx, &models.ProcessStep{
			ID:            step.ID,
			ProcessID:     step.ProcessID,
			Name:          step.Name,
			Sequence:      step.Sequence,
			WorkstationID: step.WorkstationID,
			Actions:       actions,
		})
		if err != nil {
			return fmt.Errorf("failed to seed step %s: %w", step.ID, err)
		}
	}

	return nil
}
