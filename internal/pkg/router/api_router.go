package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/verigate/verigate/app/controllers"
	"github.com/verigate/verigate/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// Client-facing v1 routes, API key required
	v1 := api.Group("/v1", middleware.ClientAPIKeyMiddleware())
	v1.Post("/sessions", controllers.HandleCreateSessionAPI)
	v1.Get("/sessions/:id", controllers.HandleGetSessionAPI)

	// Inbound provider webhook authenticates by payload, not API key
	app.Post("/webhooks/provider", controllers.HandleProviderWebhook)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
