package middleware

import (
	"github.com/gofiber/fiber/v3"
)

const (
	// Competency permissions
	ReadCompetencyPermission    = "read:competency"
	ReadAllCompetencyPermission = "read:competency:all"
	WriteCompetencyPermission   = "write:competency"
	AdminCompetencyPermission   = "admin:competency"

	// Adaptation permissions
	ReadAdaptationPermission = "read:adaptation"

	// Admin permissions (for backward compatibility)
	AdminPermission   = "admin"
	ManagerPermission = "manager"
)

// UserIDHeader is set by the gateway after authentication.
const UserIDHeader = "X-User-ID"

// RequireUser rejects requests that reach a protected route without the
// gateway-injected user header.
func RequireUser() fiber.Handler {
	return func(c fiber.Ctx) error {
		if c.Get(UserIDHeader) == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing user identity",
			})
		}
		return c.Next()
	}
}

// RequireOwnerOrElevated allows a user to access only their own resources
// unless they carry an admin or manager permission.
func RequireOwnerOrElevated(paramName string) fiber.Handler {
	return func(c fiber.Ctx) error {
		currentUserID := c.Get(UserIDHeader)
		if currentUserID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing user identity",
			})
		}

		targetUserID := c.Params(paramName)
		if targetUserID == "" || targetUserID == currentUserID {
			return c.Next()
		}

		permissions := c.Get("X-User-Permissions")
		if hasAnyPermission(permissions, AdminPermission, ManagerPermission, ReadAllCompetencyPermission) {
			return c.Next()
		}

		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "You can only access your own competency data",
		})
	}
}

func hasAnyPermission(permissions string, required ...string) bool {
	for _, p := range required {
		if containsPermission(permissions, p) {
			return true
		}
	}
	return false
}

// containsPermission matches whole entries in the comma-separated header.
func containsPermission(permissions, required string) bool {
	start := 0
	for i := 0; i <= len(permissions); i++ {
		if i == len(permissions) || permissions[i] == ',' {
			if permissions[start:i] == required {
				return true
			}
			start = i + 1
		}
	}
	return false
}
