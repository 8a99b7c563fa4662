package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/veoflow/api/pkg/response"
)

// GatewayAuthMiddleware reads the identity a ForwardAuth gateway resolved
// through GET /auth/verify from the X-User-* headers.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}
		setIdentity(c, userID, c.Get("X-User-Email"), c.Get("X-User-Name"))
		return c.Next()
	}
}
