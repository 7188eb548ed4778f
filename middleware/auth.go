// middleware/auth.go
package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Locals keys set by CallerContextMiddleware.
const (
	CallerAddressKey = "caller_address"
	CallerRolesKey   = "caller_roles"
)

// CallerContextMiddleware extracts the wallet address and roles the Gateway
// asserted for the caller. Anonymous reads are allowed; RequireCaller guards
// mutations.
func CallerContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		address := strings.TrimSpace(c.Get("X-Wallet-Address"))

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(CallerAddressKey, address)
		c.Locals(CallerRolesKey, roles)
		return c.Next()
	}
}

// Caller returns the caller address, empty for anonymous requests.
func Caller(c *fiber.Ctx) string {
	address, _ := c.Locals(CallerAddressKey).(string)
	return address
}

// HasRole reports whether the Gateway granted role to the caller.
func HasRole(c *fiber.Ctx, role string) bool {
	roles, _ := c.Locals(CallerRolesKey).([]string)
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// RequireCaller rejects requests without a caller address.
func RequireCaller() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if Caller(c) == "" {
			log.Printf("❌ [CALLER_CTX] X-Wallet-Address required but missing: %s %s", c.Method(), c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-Wallet-Address: request must come through gateway with a wallet",
				"code":  "unauthenticated",
			})
		}
		return c.Next()
	}
}

// RequireRole rejects callers lacking role.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !HasRole(c, role) {
			log.Printf("🚫 [CALLER_CTX] %q lacks role %s for %s", Caller(c), role, c.Path())
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": role + " role required",
				"code":  "unauthorized",
			})
		}
		return c.Next()
	}
}
