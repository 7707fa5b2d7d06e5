// Package main provides the Timelock API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/timelock/pkg/eventbus"
	"github.com/dukex/timelock/pkg/persistence"
	"github.com/dukex/timelock/pkg/services"
	"github.com/dukex/timelock/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	releaseService := services.NewRelease(a.persistence, a.eventBus, nil, a.logger)
	queryService := services.NewQuery(a.persistence)
	statisticsService := services.NewStatistics(a.persistence)
	templateService := services.NewTemplate(a.persistence, nil)

	handlers := web.NewAPIHandlers(releaseService, queryService, statisticsService, templateService, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Timelock API")
	})

	app.Get("/health", handlers.HealthCheck)

	identity := web.NewIdentityMiddleware()

	r := app.Group("/releases", identity)
	r.Get("/", handlers.ListReleases)
	r.Post("/", handlers.CreateRelease)
	r.Get("/statistics", handlers.GetStatistics)
	r.Post("/from-template/:id", handlers.CreateReleaseFromTemplate)
	r.Get("/:id", handlers.GetRelease)
	r.Get("/:id/history", handlers.GetReleaseHistory)
	r.Post("/:id/schedule", handlers.ScheduleRelease)
	r.Post("/:id/approve", handlers.ApproveRelease)
	r.Post("/:id/execute", handlers.ExecuteRelease)
	r.Post("/:id/cancel", handlers.CancelRelease)

	tmpl := app.Group("/templates", identity)
	tmpl.Get("/", handlers.ListTemplates)
	tmpl.Post("/", handlers.CreateTemplate)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
