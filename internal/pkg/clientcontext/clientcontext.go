package clientcontext

import "github.com/gofiber/fiber/v2"

// ClientContext represents the authenticated API client for a request
type ClientContext struct {
	ClientID       uint   `json:"client_id"`
	Name           string `json:"name"`
	AllowOverdraft bool   `json:"allow_overdraft"`
}

// GetClientContext retrieves the client context from fiber context
// Returns a zero context if none is set
func GetClientContext(c *fiber.Ctx) ClientContext {
	if ctx := c.Locals(ContextKey); ctx != nil {
		return ctx.(ClientContext)
	}
	return ClientContext{}
}

// GetClientID returns the authenticated client's ID, or 0 if unauthenticated
func GetClientID(c *fiber.Ctx) uint {
	return GetClientContext(c).ClientID
}

// GetAdminName returns the authenticated admin's display name, or empty string
func GetAdminName(c *fiber.Ctx) string {
	if name := c.Locals(KeyAdminName); name != nil {
		if s, ok := name.(string); ok {
			return s
		}
	}
	return ""
}
