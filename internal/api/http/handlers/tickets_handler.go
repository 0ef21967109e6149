package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-orchestrator/internal/api/dto"
	"github.com/spec-kit/ticket-orchestrator/internal/service"
	apperrors "github.com/spec-kit/ticket-orchestrator/pkg/util/errorutil"
)

// TicketsHandler exposes ticket intake and status lookup.
type TicketsHandler struct {
	orchestrator *service.Orchestrator
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(orchestrator *service.Orchestrator) *TicketsHandler {
	return &TicketsHandler{orchestrator: orchestrator}
}

// Submit POST /tickets.
func (h *TicketsHandler) Submit(c *fiber.Ctx) error {
	var req dto.SubmitTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.TicketID) == "" || strings.TrimSpace(req.Text) == "" {
		return apperrors.NewValidationError("ticket_id and text required", nil)
	}

	result, err := h.orchestrator.Submit(c.UserContext(), req.TicketID, req.Text)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusAccepted).JSON(dto.SubmitTicketResponse{
		Status:   "accepted",
		TicketID: result.TicketID,
	})
}

// Status GET /tickets/:id/status.
func (h *TicketsHandler) Status(c *fiber.Ctx) error {
	result, err := h.orchestrator.Status(c.UserContext(), c.Params("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(result)
}
