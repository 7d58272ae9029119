package clientcontext

// Shared Locals keys used across controllers and middlewares
const (
	ContextKey   = "CLIENT_CONTEXT"
	KeyClientID  = "client_id"
	KeyAdminID   = "admin_id"
	KeyAdminName = "admin_name"
)
