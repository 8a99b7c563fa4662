package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/veoflow/api/internal/auth"
	"github.com/veoflow/api/pkg/response"
)

// ErrAuthNotConfigured means neither an OIDC issuer nor a JWT secret is set
var ErrAuthNotConfigured = errors.New("authentication not configured")

const (
	localUserID = "userId"
	localEmail  = "email"
	localName   = "name"
)

// AuthMiddleware authenticates bearer tokens with the OIDC verifier and,
// when a secret is configured, legacy HMAC tokens.
type AuthMiddleware struct {
	verifier  auth.TokenVerifier
	jwtSecret string
}

// NewAuthMiddleware accepts OIDC tokens, legacy tokens, or both depending
// on which of verifier and jwtSecret are set.
func NewAuthMiddleware(verifier auth.TokenVerifier, jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:  verifier,
		jwtSecret: jwtSecret,
	}
}

// Identity is the authenticated caller
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Identify validates tokenString with the OIDC verifier first and falls
// back to legacy HMAC tokens when a secret is configured.
func (m *AuthMiddleware) Identify(tokenString string) (*Identity, error) {
	if m.verifier != nil {
		claims, err := m.verifier.Validate(tokenString)
		if err == nil {
			return &Identity{UserID: claims.UserID, Email: claims.Email, Name: claims.Name}, nil
		}
		if m.jwtSecret == "" {
			return nil, err
		}
	}

	if m.jwtSecret != "" {
		claims, err := auth.ValidateLegacyToken(tokenString, m.jwtSecret)
		if err != nil {
			return nil, err
		}
		return &Identity{UserID: claims.UserID, Email: claims.Email}, nil
	}

	return nil, ErrAuthNotConfigured
}

// Authenticate validates the token from the Authorization header. WebSocket
// clients that cannot set headers may pass it as ?token=.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, ok := BearerToken(c)
		if !ok {
			return response.Unauthorized(c, "Missing or malformed authorization header")
		}

		id, err := m.Identify(tokenString)
		if errors.Is(err, ErrAuthNotConfigured) {
			return response.Unauthorized(c, "Authentication not configured")
		}
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		setIdentity(c, id.UserID, id.Email, id.Name)
		return c.Next()
	}
}

// BearerToken extracts the token from the Authorization header or the
// token query parameter.
func BearerToken(c *fiber.Ctx) (string, bool) {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		if token := c.Query("token"); token != "" {
			return token, true
		}
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func setIdentity(c *fiber.Ctx, userID, email, name string) {
	c.Locals(localUserID, userID)
	c.Locals(localEmail, email)
	c.Locals(localName, name)
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals(localUserID).(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts user email from context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals(localEmail).(string); ok {
		return email
	}
	return ""
}
