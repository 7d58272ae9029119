package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/verigate/verigate/internal/pkg/provider"
	"github.com/verigate/verigate/internal/pkg/verification"
)

// HandleProviderWebhook ingests verification outcome events from the
// provider. Replayed payloads are acknowledged without side effects.
func HandleProviderWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	evt, err := provider.ParseEvent(rawBody, services.ProviderDecryptor)
	if err != nil {
		if errors.Is(err, provider.ErrNoDecryptor) {
			log.Error("provider webhook: encrypted envelope received without a configured decryptor")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Decryption unavailable"})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed payload"})
	}

	if services.ProviderVerifier != nil {
		if err := services.ProviderVerifier.VerifySignature([]byte(evt.RawJSON), evt.Signature, evt.RequestTime); err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid signature"})
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := services.Verification.ProcessProviderEvent(ctx, evt); err != nil {
		switch {
		case errors.Is(err, verification.ErrSessionNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "unknown reference"})
		case errors.Is(err, verification.ErrUnknownProviderStatus):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
		}
		log.Errorf("provider webhook for ref %s failed: %v", evt.ReferenceID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Event processing failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true})
}
