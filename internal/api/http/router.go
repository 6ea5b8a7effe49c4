package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/idesk/helpdesk/internal/api/http/handlers"
	"github.com/idesk/helpdesk/internal/auth"
	"github.com/idesk/helpdesk/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Metrics        *handlers.MetricsHandler
	Policies       *handlers.SLAPolicyHandler
	Tickets        *handlers.TicketSLAHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Metrics.Snapshot)

	adminOnly := auth.RequireStaffRole(domain.StaffRoleAdmin)
	anyStaff := auth.RequireStaffRole()

	admin := app.Group("/admin/sla", cfg.AuthMiddleware.Handle, adminOnly)
	admin.Get("/policies", cfg.Policies.List)
	admin.Post("/policies/reset", cfg.Policies.Reset)
	admin.Put("/policies/:priority", cfg.Policies.Upsert)
	admin.Delete("/policies/:priority", cfg.Policies.Remove)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	tickets.Post("/", auth.RequireUser(), cfg.Tickets.CreateTicket)
	tickets.Get("/", anyStaff, cfg.Tickets.ListTickets)
	tickets.Get("/:id/sla", anyStaff, cfg.Tickets.GetSLA)
	tickets.Get("/:id/history", anyStaff, cfg.Tickets.ListHistory)
	tickets.Post("/:id/status", anyStaff, cfg.Tickets.ChangeStatus)
	tickets.Post("/:id/priority", anyStaff, cfg.Tickets.ChangePriority)
	tickets.Post("/:id/first-response", anyStaff, cfg.Tickets.RecordFirstResponse)
	tickets.Post("/:id/sla/breach-override", adminOnly, cfg.Tickets.BreachOverride)
}
