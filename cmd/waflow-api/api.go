// Package main provides the Waflow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/waflow/waflow/pkg/eventbus"
	"github.com/waflow/waflow/pkg/persistence"
	"github.com/waflow/waflow/pkg/services"
	"github.com/waflow/waflow/pkg/web"
)

type API struct {
	logger             *slog.Logger
	persistence        persistence.Persistence
	eventBus           eventbus.EventBus
	validate           *validator.Validate
	webhookVerifyToken string
	defaultChatbotID   string
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	webhookVerifyToken string,
	defaultChatbotID string,
) *API {
	return &API{
		logger:             logger,
		persistence:        persistence,
		eventBus:           eventBus,
		validate:           validator.New(validator.WithRequiredStructEnabled()),
		webhookVerifyToken: webhookVerifyToken,
		defaultChatbotID:   defaultChatbotID,
	}
}

func (a *API) App() *fiber.App {
	chatbotService := services.NewChatbot(a.persistence)
	activationService := services.NewActivation(a.persistence)

	handlers := web.NewAPIHandlers(chatbotService, activationService, a.persistence, a.validate)
	webhooks := web.NewWebhookHandlers(a.eventBus, a.logger, a.webhookVerifyToken, a.defaultChatbotID)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Waflow API")
	})

	b := app.Group("/chatbots")
	b.Get("/", handlers.GetChatbots)
	b.Post("/", handlers.CreateChatbot)
	b.Post("/import", handlers.ImportChatbot)
	b.Get("/:id", handlers.GetChatbot)
	b.Patch("/:id", handlers.UpdateChatbot)
	b.Delete("/:id", handlers.DeleteChatbot)
	b.Post("/:id/activate", handlers.ActivateChatbot)
	b.Post("/:id/archive", handlers.ArchiveChatbot)
	b.Get("/:id/export", handlers.ExportChatbot)

	app.Get("/conversations/:id/contexts", handlers.GetConversationContexts)
	app.Get("/contexts/:id", handlers.GetContext)
	app.Post("/contexts/search", handlers.SearchContextsByOutput)

	app.Get("/webhooks/whatsapp", webhooks.Verify)
	app.Post("/webhooks/whatsapp", webhooks.Receive)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
