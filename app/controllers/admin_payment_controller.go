package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/verigate/verigate/internal/pkg/clientcontext"
	"github.com/verigate/verigate/internal/pkg/dispatch"
	"github.com/verigate/verigate/internal/pkg/invoicing"
)

type recordPaymentRequest struct {
	InvoiceID     uint   `json:"invoice_id"`
	AmountCredits int64  `json:"amount_credits"`
	PaymentDate   string `json:"payment_date"`
	Method        string `json:"method"`
	ExternalRef   string `json:"external_ref"`
	Notes         string `json:"notes"`
}

// HandleAdminRecordPayment records money received against an invoice.
// Security: admin token required via router middleware
func HandleAdminRecordPayment(c *fiber.Ctx) error {
	var req recordPaymentRequest
	if err := c.BodyParser(&req); err != nil || req.InvoiceID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invoice_id is required"})
	}
	paymentDate, err := parseDate(req.PaymentDate)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "payment_date must be YYYY-MM-DD"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	input := invoicing.PaymentInput{
		InvoiceID:     req.InvoiceID,
		AmountCredits: req.AmountCredits,
		PaymentDate:   paymentDate,
		Method:        req.Method,
		ExternalRef:   req.ExternalRef,
		RecordedBy:    clientcontext.GetAdminName(c),
		Notes:         req.Notes,
	}
	if err := input.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": err.Error()})
	}

	payment, err := services.Invoicing.RecordPayment(ctx, input)
	if err != nil {
		switch {
		case errors.Is(err, invoicing.ErrInvalidAmount):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
		case errors.Is(err, invoicing.ErrPaymentExceedsDue):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "overpayment", "message": err.Error()})
		case errors.Is(err, invoicing.ErrInvoiceVoid):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "invoice_void", "message": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Recording payment failed"})
	}
	return c.Status(fiber.StatusCreated).JSON(payment)
}

// HandleAdminListPayments lists payments, optionally filtered by client.
// Security: admin token required via router middleware
func HandleAdminListPayments(c *fiber.Ctx) error {
	clientID := uint(c.QueryInt("client_id", 0))
	limit := c.QueryInt("limit", 100)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	payments, err := services.Invoicing.ListPayments(ctx, clientID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Listing failed"})
	}
	return c.JSON(fiber.Map{"payments": payments})
}

// HandleAdminNotifyPaid delivers the invoice.paid webhook for a recorded
// payment synchronously, so the operator sees the delivery outcome.
// Security: admin token required via router middleware
func HandleAdminNotifyPaid(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid payment id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, payload, err := services.Invoicing.PaidNotification(ctx, uint(id))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "payment not found"})
	}
	if client.WebhookURL == "" {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no_webhook_url", "message": "client has no webhook URL configured"})
	}

	if err := services.Dispatcher.NotifySync(ctx, client.WebhookURL, client.WebhookSecret, dispatch.EventInvoicePaid, payload); err != nil {
		log.Warnf("mark-as-paid delivery to client %d failed: %v", client.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "delivery_failed", "message": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true})
}
