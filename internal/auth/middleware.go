package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-orchestrator/internal/domain"
	apperrors "github.com/spec-kit/ticket-orchestrator/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Principal is the operator attached to an authenticated request.
type Principal struct {
	Operator domain.Operator
}

// AuthMiddleware guards the roster-mutating routes.
type AuthMiddleware struct {
	tokens *TokenManager
}

func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle requires "Authorization: Bearer <token>" and stores the Principal.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if header == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return apperrors.NewUnauthorized("expected a bearer token")
	}

	claims, err := m.tokens.ParseToken(strings.TrimSpace(token))
	if err != nil {
		return apperrors.NewUnauthorized("invalid or expired token")
	}

	c.Locals(principalKey, &Principal{Operator: domain.Operator{
		ID:    claims.Subject,
		Email: claims.Email,
		Role:  claims.Role,
	}})
	return c.Next()
}

// PrincipalFromContext returns the operator stored by Handle.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	principal, ok := c.Locals(principalKey).(*Principal)
	return principal, ok && principal != nil
}
