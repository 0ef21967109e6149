package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-orchestrator/internal/api/dto"
	"github.com/spec-kit/ticket-orchestrator/internal/dedup"
	"github.com/spec-kit/ticket-orchestrator/internal/repository"
	apperrors "github.com/spec-kit/ticket-orchestrator/pkg/util/errorutil"
)

// IncidentsHandler lists master incidents.
type IncidentsHandler struct {
	dedup   *dedup.Engine
	archive repository.IncidentRepository
}

// NewIncidentsHandler constructs handler. archive may be nil.
func NewIncidentsHandler(engine *dedup.Engine, archive repository.IncidentRepository) *IncidentsHandler {
	return &IncidentsHandler{dedup: engine, archive: archive}
}

// List GET /incidents.
func (h *IncidentsHandler) List(c *fiber.Ctx) error {
	incidents := h.dedup.Incidents()
	items := make([]dto.IncidentResponse, 0, len(incidents))
	for _, inc := range incidents {
		items = append(items, dto.NewIncidentResponse(inc))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Get GET /incidents/:id. Incidents past retention are served from the archive.
func (h *IncidentsHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	if inc, ok := h.dedup.Incident(id); ok {
		return c.JSON(fiber.Map{"data": dto.NewIncidentResponse(inc)})
	}
	if h.archive != nil {
		inc, err := h.archive.GetByID(c.UserContext(), id)
		if err == nil {
			return c.JSON(fiber.Map{"data": dto.NewIncidentResponse(*inc)})
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return mapError(err)
		}
	}
	return apperrors.NewNotFound("incident", map[string]any{"id": id})
}
