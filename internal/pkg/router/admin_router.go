package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/verigate/verigate/app/controllers"
	"github.com/verigate/verigate/internal/pkg/middleware"
)

type AdminRouter struct {
}

func (h AdminRouter) InstallRouter(app *fiber.App) {
	admin := app.Group("/admin", middleware.AdminAuthMiddleware())

	admin.Post("/invoices/generate", controllers.HandleAdminGenerateInvoice)
	admin.Post("/invoices/preview", controllers.HandleAdminPreviewInvoice)
	admin.Post("/invoices/cleanup", controllers.HandleAdminCleanupInvoices)
	admin.Post("/invoices/:id/void", controllers.HandleAdminVoidInvoice)
	admin.Post("/invoices/:id/regenerate", controllers.HandleAdminRegenerateInvoice)
	admin.Get("/invoices", controllers.HandleAdminListInvoices)

	admin.Post("/payments", controllers.HandleAdminRecordPayment)
	admin.Get("/payments", controllers.HandleAdminListPayments)
	admin.Post("/payments/:id/notify", controllers.HandleAdminNotifyPaid)

	admin.Post("/clients", controllers.HandleAdminCreateClient)
	admin.Put("/clients/:id/tiers", controllers.HandleAdminReplaceTiers)
	admin.Post("/clients/:id/topup", controllers.HandleAdminTopup)
	admin.Post("/clients/:id/rotate-key", controllers.HandleAdminRotateAPIKey)
	admin.Get("/clients/:id/ledger", controllers.HandleAdminListLedger)
}

func NewAdminRouter() *AdminRouter {
	return &AdminRouter{}
}
