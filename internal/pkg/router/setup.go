package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/TenantDesk/app/repository"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/audit"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/auditexport"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/billing"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/tenant"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the services the HTTP layer is built on
type Dependencies struct {
	Repositories  *repository.Repositories
	Tenants       *tenant.Router
	Billing       *billing.Service
	Recorder      *audit.Recorder
	Exporter      *auditexport.Exporter // nil when the export is disabled
	WebhookSecret string
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewHttpRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
