package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/lookup"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/registry"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/web"
)

type API struct {
	logger   *slog.Logger
	registry *registry.Registry
	lookups  *lookup.Service
	validate *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	registry *registry.Registry,
	lookups *lookup.Service,
) *API {
	return &API{
		logger:   logger,
		registry: registry,
		lookups:  lookups,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.registry, a.lookups, a.validate, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Databricks Nodes API")
	})

	n := app.Group("/nodes")
	n.Get("/", handlers.GetNodeTypes)
	n.Get("/:type", handlers.GetNodeType)
	n.Post("/:type/execute", handlers.ExecuteNode)

	app.Get("/lookups/:resource", handlers.GetLookup)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	a.logger.Info("Starting API server", "port", port)

	return app.Listen(":" + strconv.Itoa(port))
}
