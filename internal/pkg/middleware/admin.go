package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/verigate/verigate/app/models"
	"github.com/verigate/verigate/internal/pkg/clientcontext"
	"github.com/verigate/verigate/internal/pkg/database"
	"github.com/verigate/verigate/internal/pkg/env"
)

// AdminAuthMiddleware authenticates operators by the X-Admin-Token header
// against the stored token hash.
func AdminAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := strings.TrimSpace(c.Get("X-Admin-Token"))
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing admin token"})
		}

		db := database.GetDB()
		if db == nil {
			log.Error("admin middleware: database unavailable")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
		}

		hash := models.HashAPIKey(token)
		var admin models.Admin
		err := db.Where("api_token_hash = ? AND api_token_hash <> ''", hash).First(&admin).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid admin token"})
			}
			log.Errorf("admin token lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Token verification failed"})
		}

		now := time.Now()
		if err := db.Model(&models.Admin{}).
			Where("id = ?", admin.ID).
			Updates(map[string]any{"last_seen_at": now}).Error; err != nil {
			log.Warnf("failed to update last-seen timestamp for admin %d: %v", admin.ID, err)
		}

		c.Locals(clientcontext.KeyAdminID, admin.ID)
		c.Locals(clientcontext.KeyAdminName, admin.Name)

		return c.Next()
	}
}

// InternalAuthMiddleware guards scheduler endpoints with the pre-shared
// X-Internal-Secret header.
func InternalAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		secret := env.GetEnv("INTERNAL_API_SECRET", "")
		if secret == "" {
			log.Error("internal middleware: INTERNAL_API_SECRET is not configured")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Internal API disabled"})
		}

		given := strings.TrimSpace(c.Get("X-Internal-Secret"))
		if subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid internal secret"})
		}

		return c.Next()
	}
}
