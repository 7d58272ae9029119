package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/verigate/verigate/app/controllers"
	"github.com/verigate/verigate/internal/pkg/middleware"
)

type InternalRouter struct {
}

func (h InternalRouter) InstallRouter(app *fiber.App) {
	internal := app.Group("/internal", middleware.InternalAuthMiddleware())

	internal.Post("/billing/run", controllers.HandleInternalBillingRun)
	internal.Post("/sessions/expire", controllers.HandleInternalExpirySweep)
}

func NewInternalRouter() *InternalRouter {
	return &InternalRouter{}
}
