package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/veoflow/api/internal/middleware"
)

// AuthHandler answers ForwardAuth checks for an API gateway
type AuthHandler struct {
	auth *middleware.AuthMiddleware
}

func NewAuthHandler(auth *middleware.AuthMiddleware) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Verify handles GET /auth/verify
// @Summary      ForwardAuth check
// @Description  200 with X-User-Id, X-User-Email and X-User-Name on a valid bearer token, 401 otherwise
// @Tags         Auth
// @Success      200
// @Failure      401
// @Router       /auth/verify [get]
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	tokenString, ok := middleware.BearerToken(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	id, err := h.auth.Identify(tokenString)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Set("X-User-Id", id.UserID)
	c.Set("X-User-Email", id.Email)
	c.Set("X-User-Name", id.Name)
	return c.SendStatus(fiber.StatusOK)
}
