package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/verigate/verigate/internal/pkg/clientcontext"
	"github.com/verigate/verigate/internal/pkg/invoicing"
)

type invoiceRequest struct {
	ClientID uint   `json:"client_id"`
	EndDate  string `json:"end_date"`
}

// HandleAdminGenerateInvoice generates the next invoice for one client.
// Security: admin token required via router middleware
func HandleAdminGenerateInvoice(c *fiber.Ctx) error {
	var req invoiceRequest
	if err := c.BodyParser(&req); err != nil || req.ClientID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "client_id is required"})
	}
	endDate, err := parseDate(req.EndDate)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "end_date must be YYYY-MM-DD"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	invoice, err := services.Invoicing.Generate(ctx, req.ClientID, endDate, clientcontext.GetAdminName(c))
	if err != nil {
		if errors.Is(err, invoicing.ErrNoBillablePeriod) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no_billable_period", "message": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Invoice generation failed"})
	}
	return c.Status(fiber.StatusCreated).JSON(invoice)
}

// HandleAdminPreviewInvoice computes the next invoice without persisting it.
// Security: admin token required via router middleware
func HandleAdminPreviewInvoice(c *fiber.Ctx) error {
	var req invoiceRequest
	if err := c.BodyParser(&req); err != nil || req.ClientID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "client_id is required"})
	}
	endDate, err := parseDate(req.EndDate)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "end_date must be YYYY-MM-DD"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	invoice, err := services.Invoicing.Preview(ctx, req.ClientID, endDate)
	if err != nil {
		if errors.Is(err, invoicing.ErrNoBillablePeriod) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no_billable_period", "message": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Invoice preview failed"})
	}
	return c.JSON(invoice)
}

// HandleAdminVoidInvoice voids one invoice, restoring any invoice it
// superseded.
// Security: admin token required via router middleware
func HandleAdminVoidInvoice(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid invoice id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := services.Invoicing.Void(ctx, uint(id), clientcontext.GetAdminName(c)); err != nil {
		switch {
		case errors.Is(err, invoicing.ErrInvoicePaid):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "invoice_paid", "message": err.Error()})
		case errors.Is(err, invoicing.ErrInvoiceVoid):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "invoice_void", "message": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Void failed"})
	}
	return c.JSON(fiber.Map{"success": true})
}

// HandleAdminRegenerateInvoice replaces a wrong invoice with a recomputed one
// over the same period.
// Security: admin token required via router middleware
func HandleAdminRegenerateInvoice(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid invoice id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	invoice, err := services.Invoicing.Regenerate(ctx, uint(id), clientcontext.GetAdminName(c))
	if err != nil {
		switch {
		case errors.Is(err, invoicing.ErrInvoicePaid):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "invoice_paid", "message": err.Error()})
		case errors.Is(err, invoicing.ErrInvoiceVoid):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "invoice_void", "message": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Regeneration failed"})
	}
	return c.Status(fiber.StatusCreated).JSON(invoice)
}

// HandleAdminListInvoices lists invoices, optionally filtered by client.
// Security: admin token required via router middleware
func HandleAdminListInvoices(c *fiber.Ctx) error {
	clientID := uint(c.QueryInt("client_id", 0))
	limit := c.QueryInt("limit", 100)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	invoices, err := services.Invoicing.ListInvoices(ctx, clientID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Listing failed"})
	}
	return c.JSON(fiber.Map{"invoices": invoices})
}

// HandleAdminCleanupInvoices bulk-deletes invoices that never became payable.
// Security: admin token required via router middleware
func HandleAdminCleanupInvoices(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	deleted, err := services.Invoicing.CleanupStale(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Cleanup failed"})
	}
	return c.JSON(fiber.Map{"success": true, "deleted": deleted})
}

// parseDate parses an optional YYYY-MM-DD value; empty means unset.
func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", value)
}
