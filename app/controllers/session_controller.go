package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/verigate/verigate/app/models"
	"github.com/verigate/verigate/internal/pkg/clientcontext"
	"github.com/verigate/verigate/internal/pkg/ledger"
	"github.com/verigate/verigate/internal/pkg/verification"
)

type createSessionRequest struct {
	ReferenceID string `json:"reference_id"`
	ProductID   string `json:"product_id"`
	SuccessURL  string `json:"success_url"`
	FailURL     string `json:"fail_url"`
	Metadata    string `json:"metadata"`
	TTLSeconds  int    `json:"ttl_seconds"`
}

// HandleCreateSessionAPI creates a verification session for the
// authenticated client.
// Security: API key required via router middleware
func HandleCreateSessionAPI(c *fiber.Ctx) error {
	client := clientcontext.GetClientContext(c)
	if client.ClientID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req createSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	session, err := services.Verification.CreateSession(ctx, verification.CreateInput{
		ClientID:    client.ClientID,
		ProductID:   req.ProductID,
		ReferenceID: req.ReferenceID,
		SuccessURL:  req.SuccessURL,
		FailURL:     req.FailURL,
		Metadata:    req.Metadata,
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		switch {
		case errors.Is(err, verification.ErrInvalidReferenceID):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
		case errors.Is(err, verification.ErrClientInactive):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Client inactive"})
		case ledger.IsInsufficientCredit(err):
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "insufficient_credit", "message": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Session creation failed"})
	}

	return c.Status(fiber.StatusCreated).JSON(sessionResponse(session))
}

// HandleGetSessionAPI returns one session owned by the authenticated client.
// Security: API key required via router middleware
func HandleGetSessionAPI(c *fiber.Ctx) error {
	client := clientcontext.GetClientContext(c)
	if client.ClientID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "id missing"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	session, err := services.Verification.Session(ctx, id)
	if err != nil {
		if errors.Is(err, verification.ErrSessionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "session not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Session lookup failed"})
	}
	if session.ClientID != client.ClientID {
		// Do not leak existence
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "session not found"})
	}

	return c.JSON(sessionResponse(session))
}

func sessionResponse(s *models.VerificationSession) fiber.Map {
	resp := fiber.Map{
		"id":           s.ID,
		"reference_id": s.ReferenceID,
		"product_id":   s.ProductID,
		"status":       s.Status,
		"result":       s.Result,
		"expires_at":   s.ExpiresAt.UTC().Format(time.RFC3339),
		"created_at":   s.CreatedAt.UTC().Format(time.RFC3339),
	}
	if s.RejectReason != "" {
		resp["reject_reason"] = s.RejectReason
	}
	if s.Billed {
		resp["billed_credits"] = s.BilledCredits
	}
	if s.WebhookAttempts > 0 {
		resp["webhook_delivered"] = s.WebhookDelivered
		resp["webhook_attempts"] = s.WebhookAttempts
		if s.WebhookDeliveredAt != nil {
			resp["webhook_delivered_at"] = s.WebhookDeliveredAt.UTC().Format(time.RFC3339)
		}
		if s.WebhookLastError != "" {
			resp["webhook_last_error"] = s.WebhookLastError
		}
	}
	return resp
}
