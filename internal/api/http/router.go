package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-orchestrator/internal/api/http/handlers"
	"github.com/spec-kit/ticket-orchestrator/internal/auth"
	"github.com/spec-kit/ticket-orchestrator/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Incidents      *handlers.IncidentsHandler
	Agents         *handlers.AgentsHandler
	Ops            *handlers.OpsHandler
	Auth           *handlers.AuthHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/health", cfg.Health.Ready)

	app.Post("/tickets", cfg.Tickets.Submit)
	app.Get("/tickets/:id/status", cfg.Tickets.Status)
	app.Post("/submit", cfg.Tickets.Submit)
	app.Get("/status/:id", cfg.Tickets.Status)

	app.Get("/incidents", cfg.Incidents.List)
	app.Get("/incidents/:id", cfg.Incidents.Get)

	app.Get("/breaker/stats", cfg.Ops.BreakerStats)
	app.Get("/metrics", cfg.Ops.Metrics)

	app.Get("/agents", cfg.Agents.List)
	app.Get("/routing/stats", cfg.Agents.RoutingStats)
	app.Get("/routing/recent", cfg.Agents.RoutingRecent)

	authGroup := app.Group("/auth")
	authGroup.Post("/operator/login", cfg.Auth.OperatorLogin)

	requireAdmin := auth.RequireRole(domain.OperatorRoleAdmin)
	admin := func(h fiber.Handler) []fiber.Handler {
		return []fiber.Handler{cfg.AuthMiddleware.Handle, requireAdmin, h}
	}
	app.Post("/agents", admin(cfg.Agents.Upsert)...)
	app.Delete("/agents/:id", admin(cfg.Agents.Delete)...)
	app.Patch("/agents/:id/active", admin(cfg.Agents.SetActive)...)
	app.Post("/agents/:id/release", admin(cfg.Agents.Release)...)
}
