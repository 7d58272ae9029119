package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// HandleInternalBillingRun is the scheduled billing trigger: it expires
// overdue sessions and then generates invoices for all active clients.
// Security: internal secret required via router middleware
func HandleInternalBillingRun(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	expired, err := services.Verification.ExpireOverdue(ctx)
	if err != nil {
		log.Errorf("billing run: expiry sweep failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Expiry sweep failed"})
	}

	report, err := services.Invoicing.GenerateAll(ctx, "scheduler")
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Invoice run failed"})
	}

	return c.JSON(fiber.Map{
		"success":          true,
		"sessions_expired": expired,
		"invoices":         report,
	})
}

// HandleInternalExpirySweep expires overdue sessions without touching
// invoices, for callers that schedule the sweep more often than billing.
// Security: internal secret required via router middleware
func HandleInternalExpirySweep(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	expired, err := services.Verification.ExpireOverdue(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Expiry sweep failed"})
	}
	return c.JSON(fiber.Map{"success": true, "sessions_expired": expired})
}
