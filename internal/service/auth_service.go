package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-orchestrator/internal/auth"
	"github.com/spec-kit/ticket-orchestrator/internal/config"
	"github.com/spec-kit/ticket-orchestrator/internal/domain"
	apperrors "github.com/spec-kit/ticket-orchestrator/pkg/util/errorutil"
)

// AuthService authenticates the configured operator account.
type AuthService struct {
	email        string
	passwordHash string
	tokenMgr     *auth.TokenManager
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, tokens *auth.TokenManager) *AuthService {
	return &AuthService{
		email:        strings.ToLower(strings.TrimSpace(cfg.OperatorEmail)),
		passwordHash: cfg.OperatorPasswordHash,
		tokenMgr:     tokens,
	}
}

// LoginOperator verifies credentials and issues an access token.
func (s *AuthService) LoginOperator(_ context.Context, email, password string) (domain.Operator, string, time.Time, error) {
	if s.email == "" || s.passwordHash == "" {
		return domain.Operator{}, "", time.Time{}, apperrors.NewForbidden("operator login disabled")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email != s.email {
		return domain.Operator{}, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	if err := auth.ComparePassword(s.passwordHash, password); err != nil {
		return domain.Operator{}, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}

	op := domain.Operator{
		ID:    uuid.NewSHA1(uuid.NameSpaceURL, []byte("operator:"+email)).String(),
		Email: email,
		Role:  domain.OperatorRoleAdmin,
	}
	token, exp, err := s.tokenMgr.GenerateToken(op)
	if err != nil {
		return domain.Operator{}, "", time.Time{}, apperrors.NewInternalError(err)
	}
	return op, token, exp, nil
}
