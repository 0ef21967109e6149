package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-orchestrator/internal/breaker"
	"github.com/spec-kit/ticket-orchestrator/internal/dedup"
	"github.com/spec-kit/ticket-orchestrator/internal/observability"
	"github.com/spec-kit/ticket-orchestrator/internal/service"
)

// OpsHandler serves breaker statistics and pipeline counters.
type OpsHandler struct {
	breaker      *breaker.Breaker
	metrics      *observability.Metrics
	orchestrator *service.Orchestrator
	dedup        *dedup.Engine
}

// NewOpsHandler constructs handler.
func NewOpsHandler(b *breaker.Breaker, metrics *observability.Metrics, orchestrator *service.Orchestrator, engine *dedup.Engine) *OpsHandler {
	return &OpsHandler{breaker: b, metrics: metrics, orchestrator: orchestrator, dedup: engine}
}

// BreakerStats GET /breaker/stats.
func (h *OpsHandler) BreakerStats(c *fiber.Ctx) error {
	return c.JSON(h.breaker.Stats())
}

// Metrics GET /metrics.
func (h *OpsHandler) Metrics(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"counters":    h.metrics.Snapshot(),
		"queue_depth": h.orchestrator.QueueDepth(),
		"window_size": h.dedup.WindowSize(),
	})
}
