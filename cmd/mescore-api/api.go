// Package main provides the MES core API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/mesworks/mescore/pkg/eventbus"
	"github.com/mesworks/mescore/pkg/gateway"
	"github.com/mesworks/mescore/pkg/persistence"
	"github.com/mesworks/mescore/pkg/services"
	"github.com/mesworks/mescore/pkg/web"
)

type API struct {
	logger         *slog.Logger
	persistence    persistence.Persistence
	gatewayClient  *gateway.Client
	eventBus       eventbus.EventBus
	sessionTimeout time.Duration
	validate       *validator.Validate

	reaper *services.SessionReaper
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	gatewayClient *gateway.Client,
	eventBus eventbus.EventBus,
	sessionTimeout time.Duration,
) *API {
	return &API{
		logger:         logger,
		persistence:    persistence,
		gatewayClient:  gatewayClient,
		eventBus:       eventBus,
		sessionTimeout: sessionTimeout,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	var (
		notifier services.SessionNotifier
		devices  services.DeviceExecutor
	)

	if a.gatewayClient != nil {
		notifier = a.gatewayClient
		devices = a.gatewayClient
	}

	sessionService := services.NewSession(a.persistence, notifier, a.eventBus, a.sessionTimeout, a.logger)
	executionService := services.NewExecution(a.persistence, devices, a.eventBus, a.logger)

	a.reaper = services.NewSessionReaper(sessionService, a.logger)

	handlers := web.NewAPIHandlers(sessionService, executionService, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("MES Core API")
	})

	web.RegisterRoutes(app, handlers)

	return app
}

func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	err := a.reaper.Start(ctx)
	if err != nil {
		return err
	}

	defer a.reaper.Stop()

	return app.Listen(":" + strconv.Itoa(port))
}
