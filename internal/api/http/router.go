package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/sapphire/support-core/internal/api/http/handlers"
	"github.com/sapphire/support-core/internal/auth"
	"github.com/sapphire/support-core/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Cases          *handlers.CasesHandler
	Onboarding     *handlers.OnboardingHandler
	Intake         *handlers.IntakeHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))

	v1 := app.Group("/v1", cfg.AuthMiddleware.Handle)
	anyRole := auth.RequireRole(auth.RoleSystem, auth.RoleAgent, auth.RoleOps)
	opsOnly := auth.RequireRole(auth.RoleOps)
	system := auth.RequireRole(auth.RoleSystem, auth.RoleOps)

	cases := v1.Group("/cases", anyRole)
	cases.Post("/", cfg.Cases.CreateCase)
	cases.Get("/:id", cfg.Cases.GetCase)
	cases.Post("/:id/transition", cfg.Cases.TransitionCase)
	cases.Post("/:id/first-response", cfg.Cases.RecordFirstResponse)
	cases.Post("/:id/reopen", cfg.Cases.ReopenCase)
	cases.Get("/:id/sla", cfg.Cases.GetSLAStatus)
	cases.Get("/:id/events", cfg.Cases.ListEvents)

	onboarding := v1.Group("/onboarding")
	onboarding.Post("/", system, cfg.Onboarding.Start)
	onboarding.Get("/:tenant_id", anyRole, cfg.Onboarding.GetStatus)
	onboarding.Post("/:tenant_id/steps", anyRole, cfg.Onboarding.AdvanceStep)
	onboarding.Post("/:tenant_id/complete", anyRole, cfg.Onboarding.Complete)
	onboarding.Post("/:tenant_id/pause", opsOnly, cfg.Onboarding.Pause)
	onboarding.Post("/:tenant_id/resume", opsOnly, cfg.Onboarding.Resume)
	onboarding.Post("/:tenant_id/fail", opsOnly, cfg.Onboarding.Fail)

	tenants := v1.Group("/tenants")
	tenants.Get("/:id/cases", anyRole, cfg.Cases.ListTenantCases)
	tenants.Get("/:id/events", anyRole, cfg.Cases.ListTenantEvents)
	tenants.Post("/:id/tier", opsOnly, cfg.Onboarding.ChangeTier)

	v1.Post("/intake", system, cfg.Intake.ProcessIntake)
}
