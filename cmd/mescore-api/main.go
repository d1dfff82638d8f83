package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/mesworks/mescore/pkg/cmd"
	"github.com/mesworks/mescore/pkg/config"
	"github.com/mesworks/mescore/pkg/gateway"
	"github.com/mesworks/mescore/pkg/log"
	"github.com/mesworks/mescore/pkg/otelhelper"
	"github.com/mesworks/mescore/pkg/services"
)

const defaultPort = 9080

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "mescore-api",
		Usage:                 "Run the manufacturing execution backend",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres://... or memory://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "gateway-url",
				Usage:    "Base URL of the device gateway",
				Required: true,
				Sources:  cli.EnvVars("GATEWAY_URL"),
			},
			&cli.DurationFlag{
				Name:    "session-timeout",
				Usage:   "Idle time after which a workstation session expires",
				Value:   services.DefaultSessionTimeout,
				Sources: cli.EnvVars("SESSION_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "plant-config",
				Usage:   "Optional plant.yaml with workstations, devices, and process steps to seed",
				Sources: cli.EnvVars("PLANT_CONFIG"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP (endpoint from the standard OTEL_EXPORTER_OTLP_* variables)",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing MES core API")

			if command.Bool("tracing") {
				// Installs the global tracer provider; the engine picks it
				// up when it creates its spans.
				_, err := otelhelper.NewTracer(ctx, "mescore-api")
				if err != nil {
					return fmt.Errorf("failed to initialize tracing: %w", err)
				}

				logger.InfoContext(ctx, "Tracing enabled")
			}

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			if path := command.String("plant-config"); path != "" {
				plant, err := config.LoadPlantConfig(path)
				if err != nil {
					return err
				}

				err = plant.Seed(ctx, persistence)
				if err != nil {
					return err
				}

				logger.InfoContext(ctx, "Seeded plant master data", "path", path,
					"workstations", len(plant.Workstations), "devices", len(plant.Devices), "steps", len(plant.Steps))
			}

			gatewayClient := gateway.NewClient(command.String("gateway-url"), logger)

			api := NewAPI(
				logger,
				persistence,
				gatewayClient,
				eventBus,
				command.Duration("session-timeout"),
			)

			err := api.Start(ctx, command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
