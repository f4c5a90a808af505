package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"docingest/internal/auth"
	"docingest/internal/logging"
)

// IdentityLocalKey is the Fiber locals key holding the verified auth.Identity.
const IdentityLocalKey = "identity"

// Authenticate verifies the bearer credential with the identity service and
// stores the resulting identity for downstream handlers. Rejections surface
// as *fiber.Error so the global error handler renders the envelope.
func Authenticate(v auth.Verifier, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		token := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
		id, err := v.Verify(ctx, token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
			}
			logging.FromContext(ctx, log).Warn("identity_unavailable",
				zap.String("component", "auth"),
				logging.Redacted("credential", token),
				zap.Error(err),
			)
			return fiber.NewError(fiber.StatusServiceUnavailable, "identity service unavailable")
		}
		c.Locals(IdentityLocalKey, id)
		return c.Next()
	}
}

// IdentityFrom returns the identity stored by Authenticate.
func IdentityFrom(c *fiber.Ctx) (auth.Identity, bool) {
	id, ok := c.Locals(IdentityLocalKey).(auth.Identity)
	return id, ok
}
