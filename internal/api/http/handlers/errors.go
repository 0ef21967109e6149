package handlers

import (
	"errors"

	"github.com/spec-kit/ticket-orchestrator/internal/assignment"
	"github.com/spec-kit/ticket-orchestrator/internal/repository"
	"github.com/spec-kit/ticket-orchestrator/internal/service"
	apperrors "github.com/spec-kit/ticket-orchestrator/pkg/util/errorutil"
)

// mapError translates pipeline sentinels into API errors.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrInvalidTicket), errors.Is(err, assignment.ErrInvalidAgent):
		return apperrors.NewValidationError(err.Error(), nil)
	case errors.Is(err, service.ErrIntakeClosed):
		return apperrors.NewUnavailable("intake closed", err)
	case errors.Is(err, service.ErrTicketNotFound):
		return apperrors.NewNotFound("ticket", nil)
	case errors.Is(err, assignment.ErrAgentNotFound):
		return apperrors.NewNotFound("agent", nil)
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("resource", nil)
	case errors.Is(err, assignment.ErrNoEligibleAgent):
		return apperrors.NewNoEligibleAgent("", err)
	}
	return apperrors.MapError(err)
}
