package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-orchestrator/internal/api/dto"
	"github.com/spec-kit/ticket-orchestrator/internal/assignment"
	apperrors "github.com/spec-kit/ticket-orchestrator/pkg/util/errorutil"
)

const defaultRecentDecisions = 20

// AgentsHandler exposes the agent registry and routing history.
type AgentsHandler struct {
	engine *assignment.Engine
}

// NewAgentsHandler constructs handler.
func NewAgentsHandler(engine *assignment.Engine) *AgentsHandler {
	return &AgentsHandler{engine: engine}
}

// List GET /agents.
func (h *AgentsHandler) List(c *fiber.Ctx) error {
	agents := h.engine.Agents()
	items := make([]dto.AgentResponse, 0, len(agents))
	for _, a := range agents {
		items = append(items, dto.NewAgentResponse(a))
	}
	return c.JSON(fiber.Map{"agents": items})
}

// Upsert POST /agents.
func (h *AgentsHandler) Upsert(c *fiber.Ctx) error {
	var req dto.UpsertAgentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	agent, err := h.engine.Register(c.UserContext(), req.ToDomain())
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewAgentResponse(agent)})
}

// Delete DELETE /agents/:id.
func (h *AgentsHandler) Delete(c *fiber.Ctx) error {
	if err := h.engine.Deregister(c.UserContext(), c.Params("id")); err != nil {
		return mapError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// SetActive PATCH /agents/:id/active.
func (h *AgentsHandler) SetActive(c *fiber.Ctx) error {
	var req dto.SetAgentActiveRequest
	if err := c.BodyParser(&req); err != nil || req.Active == nil {
		return apperrors.NewValidationError("active required", nil)
	}
	agent, err := h.engine.SetActive(c.UserContext(), c.Params("id"), *req.Active)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.NewAgentResponse(agent)})
}

// Release POST /agents/:id/release reports a resolved ticket.
func (h *AgentsHandler) Release(c *fiber.Ctx) error {
	id := c.Params("id")
	released, err := h.engine.Release(c.UserContext(), id)
	if err != nil {
		return mapError(err)
	}
	agent, _ := h.engine.Agent(id)
	return c.JSON(fiber.Map{"data": fiber.Map{
		"released": released,
		"agent":    dto.NewAgentResponse(agent),
	}})
}

// RoutingStats GET /routing/stats.
func (h *AgentsHandler) RoutingStats(c *fiber.Ctx) error {
	return c.JSON(h.engine.Stats())
}

// RoutingRecent GET /routing/recent?n=20.
func (h *AgentsHandler) RoutingRecent(c *fiber.Ctx) error {
	n := c.QueryInt("n", defaultRecentDecisions)
	if n <= 0 {
		return apperrors.NewValidationError("n must be positive", nil)
	}
	return c.JSON(fiber.Map{"decisions": h.engine.Recent(n)})
}
