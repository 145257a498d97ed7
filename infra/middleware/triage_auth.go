// Package middleware provides the fiber middleware for the operational
// surface: API-key auth and the shared error handler.
package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"triage_server/pkg/response"
)

const apiKeyHeader = "X-API-Key"

// RequireAPIKey guards an endpoint group with a static key, compared in
// constant time. With no key configured the guard fails closed in
// production and open otherwise.
func RequireAPIKey(key string, production bool) fiber.Handler {
	keyBytes := []byte(key)

	return func(c *fiber.Ctx) error {
		if key == "" {
			if production {
				return response.Forbidden(c, "endpoint disabled: no API key configured")
			}
			return c.Next()
		}

		presented := c.Get(apiKeyHeader)
		if subtle.ConstantTimeCompare([]byte(presented), keyBytes) != 1 {
			return response.Unauthorized(c, "invalid API key")
		}
		return c.Next()
	}
}
