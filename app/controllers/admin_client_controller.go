package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/verigate/verigate/app/models"
	"github.com/verigate/verigate/internal/pkg/clientcontext"
	"github.com/verigate/verigate/internal/pkg/database"
	"github.com/verigate/verigate/internal/pkg/ledger"
	"github.com/verigate/verigate/internal/pkg/pricing"
)

type createClientRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	WebhookURL     string `json:"webhook_url"`
	AllowOverdraft bool   `json:"allow_overdraft"`
}

// HandleAdminCreateClient registers a new API client, issuing its API key and
// webhook secret. Both secrets are returned exactly once.
// Security: admin token required via router middleware
func HandleAdminCreateClient(c *fiber.Ctx) error {
	var req createClientRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}

	client := models.Client{
		Name:           req.Name,
		Email:          req.Email,
		Status:         models.STATUS_ACTIVE,
		WebhookURL:     req.WebhookURL,
		AllowOverdraft: req.AllowOverdraft,
	}
	if err := client.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	rawKey, err := client.IssueAPIKey()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key generation failed"})
	}
	if err := client.GenerateWebhookSecret(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Webhook secret generation failed"})
	}

	if err := database.GetDB().Create(&client).Error; err != nil {
		log.Errorf("client creation failed: %v", err)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Client could not be created"})
	}

	log.Infof("client %d (%s) created by %s", client.ID, client.Name, clientcontext.GetAdminName(c))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"client":         client,
		"api_key":        rawKey,
		"webhook_secret": client.WebhookSecret,
	})
}

type replaceTiersRequest struct {
	ProductID string              `json:"product_id"`
	Tiers     []pricing.TierInput `json:"tiers"`
}

// HandleAdminReplaceTiers swaps a client's pricing tier set atomically.
// Security: admin token required via router middleware
func HandleAdminReplaceTiers(c *fiber.Ctx) error {
	clientID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || clientID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid client id"})
	}

	var req replaceTiersRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := services.Pricing.ReplaceTiers(ctx, uint(clientID), req.ProductID, req.Tiers); err != nil {
		if errors.Is(err, pricing.ErrInvalidTierDefinition) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Tier replacement failed"})
	}
	return c.JSON(fiber.Map{"success": true})
}

type topupRequest struct {
	ProductID   string `json:"product_id"`
	Amount      int64  `json:"amount"`
	EntryType   string `json:"entry_type"`
	Description string `json:"description"`
	ReferenceID string `json:"reference_id"`
}

// HandleAdminTopup appends a manual credit entry (top-up, adjustment, refund
// or included allowance) to a client's ledger.
// Security: admin token required via router middleware
func HandleAdminTopup(c *fiber.Ctx) error {
	clientID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || clientID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid client id"})
	}

	var req topupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	entryType := req.EntryType
	if entryType == "" {
		entryType = models.LedgerEntryTopup
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	entry, err := services.Ledger.Append(ctx, ledger.AppendInput{
		ClientID:    uint(clientID),
		ProductID:   req.ProductID,
		Amount:      req.Amount,
		EntryType:   entryType,
		ReferenceID: req.ReferenceID,
		Description: req.Description,
		Actor:       clientcontext.GetAdminName(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrZeroAmount), errors.Is(err, ledger.ErrUnknownEntryType):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Ledger append failed"})
	}
	return c.Status(fiber.StatusCreated).JSON(entry)
}

// HandleAdminRotateAPIKey revokes the client's current API key and issues a
// fresh one. The new key is returned exactly once.
// Security: admin token required via router middleware
func HandleAdminRotateAPIKey(c *fiber.Ctx) error {
	clientID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || clientID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid client id"})
	}

	db := database.GetDB()
	var client models.Client
	if err := db.First(&client, uint(clientID)).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "client not found"})
	}

	client.RevokeAPIKey()
	rawKey, err := client.IssueAPIKey()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key generation failed"})
	}
	if err := db.Save(&client).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Saving API key failed"})
	}

	log.Infof("API key for client %d rotated by %s", client.ID, clientcontext.GetAdminName(c))
	return c.JSON(fiber.Map{"api_key": rawKey, "api_key_prefix": client.APIKeyPrefix})
}

// HandleAdminListLedger returns the most recent ledger entries for a client.
// Security: admin token required via router middleware
func HandleAdminListLedger(c *fiber.Ctx) error {
	clientID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || clientID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid client id"})
	}
	productID := c.Query("product_id", models.DefaultProductID)
	limit := c.QueryInt("limit", 100)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	balance, err := services.Ledger.Balance(ctx, uint(clientID), productID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Balance lookup failed"})
	}
	entries, err := services.Ledger.Entries(ctx, uint(clientID), productID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Listing failed"})
	}
	return c.JSON(fiber.Map{"balance": balance, "entries": entries})
}
