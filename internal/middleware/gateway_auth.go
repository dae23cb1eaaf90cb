package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/framebooth/api/pkg/response"
)

// GatewayAuthMiddleware trusts identity headers set by the edge gateway's
// ForwardAuth step. Only usable when the service is unreachable directly.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing gateway identity")
		}
		c.Locals("userId", userID)
		c.Locals("workspaceId", c.Get("X-Workspace-Id"))
		c.Locals("email", c.Get("X-User-Email"))
		return c.Next()
	}
}
