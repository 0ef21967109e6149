package auth

import (
	"slices"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-orchestrator/internal/domain"
	apperrors "github.com/spec-kit/ticket-orchestrator/pkg/util/errorutil"
)

// RequireRole must run after AuthMiddleware.Handle. With no roles listed any
// authenticated operator passes.
func RequireRole(allowed ...domain.OperatorRole) fiber.Handler {
	allowed = slices.Clone(allowed)
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if len(allowed) > 0 && !slices.Contains(allowed, principal.Operator.Role) {
			return apperrors.NewForbidden("operator role " + string(principal.Operator.Role) + " may not change the roster")
		}
		return c.Next()
	}
}
