package middleware

import (
	"errors"
	"strings"

	"github.com/quizforge/api/utils/response"
	"github.com/quizforge/api/utils/sharetoken"

	"github.com/gofiber/fiber/v2"
)

// ShareTokenMiddleware guards routes that expose a document to holders of a
// signed share token instead of the document owner.
type ShareTokenMiddleware struct {
	tokens *sharetoken.Manager
}

// NewShareTokenMiddleware creates a new share token middleware
func NewShareTokenMiddleware(tokens *sharetoken.Manager) *ShareTokenMiddleware {
	return &ShareTokenMiddleware{
		tokens: tokens,
	}
}

// Required validates the share token and confirms it matches the fingerprint
// route parameter. The token is read from the Authorization header, the
// X-Share-Token header, or the token query parameter, in that order, so that
// both API clients and plain shared links work.
func (m *ShareTokenMiddleware) Required() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := extractShareToken(c)
		if tokenString == "" {
			return response.Unauthorized(c, "Missing share token")
		}

		fingerprint := c.Params("fingerprint")
		if fingerprint == "" {
			return response.BadRequest(c, "Missing document fingerprint")
		}

		claims, err := m.tokens.ValidateFor(tokenString, fingerprint)
		if err != nil {
			switch {
			case errors.Is(err, sharetoken.ErrExpiredToken):
				return response.Unauthorized(c, "Share token has expired")
			case errors.Is(err, sharetoken.ErrWrongDocument):
				return response.Forbidden(c, "Share token is for a different document")
			default:
				return response.Unauthorized(c, "Invalid share token")
			}
		}

		c.Locals("share_fingerprint", claims.Fingerprint)
		c.Locals("share_token_id", claims.ID)

		return c.Next()
	}
}

// Valid checks the share token is well formed and unexpired without binding
// it to a route parameter. Handlers behind it read the document identity from
// the request body and must cross-check it against the share_fingerprint
// local themselves.
func (m *ShareTokenMiddleware) Valid() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := extractShareToken(c)
		if tokenString == "" {
			return response.Unauthorized(c, "Missing share token")
		}

		claims, err := m.tokens.Validate(tokenString)
		if err != nil {
			if errors.Is(err, sharetoken.ErrExpiredToken) {
				return response.Unauthorized(c, "Share token has expired")
			}
			return response.Unauthorized(c, "Invalid share token")
		}

		c.Locals("share_fingerprint", claims.Fingerprint)
		c.Locals("share_token_id", claims.ID)

		return c.Next()
	}
}

func extractShareToken(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}

	if header := c.Get("X-Share-Token"); header != "" {
		return header
	}

	return c.Query("token")
}
