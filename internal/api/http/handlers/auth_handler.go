package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-orchestrator/internal/api/dto"
	"github.com/spec-kit/ticket-orchestrator/internal/service"
	apperrors "github.com/spec-kit/ticket-orchestrator/pkg/util/errorutil"
)

// AuthHandler exposes operator login.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: authService}
}

// OperatorLogin handles POST /auth/operator/login.
func (h *AuthHandler) OperatorLogin(c *fiber.Ctx) error {
	var req dto.OperatorLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	op, token, exp, err := h.auth.LoginOperator(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"operator": fiber.Map{
				"id":    op.ID,
				"email": op.Email,
				"role":  op.Role,
			},
			"auth": dto.AuthResponse{Token: token, ExpiresAt: exp},
		},
	})
}
