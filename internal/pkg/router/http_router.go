package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/TenantDesk/app/controllers"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/middleware"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/oauth"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/session"
)

type HttpRouter struct {
	deps Dependencies

	auth        *controllers.AuthController
	oauth       *controllers.OAuthController
	admin       *controllers.AdminController
	domains     *controllers.DomainController
	users       *controllers.UserController
	packages    *controllers.PackageController
	subscribers *controllers.SubscriberController
	activity    *controllers.ActivityLogController
	webhooks    *controllers.WebhookController
	health      *controllers.HealthController
}

func (h *HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	if session.GetSessionStore() == nil {
		session.NewSessionStore()
	}

	// init oauth providers
	oauth.Setup()

	controllers.RegisterFormDecoders()

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	h.registerPublicRoutes(app)
	h.registerCSRFProtectedRoutes(app)
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	repos := deps.Repositories
	return &HttpRouter{
		deps:        deps,
		auth:        controllers.NewAuthController(repos, deps.Tenants),
		oauth:       controllers.NewOAuthController(repos, deps.Tenants),
		admin:       controllers.NewAdminController(repos),
		domains:     controllers.NewDomainController(repos, deps.Tenants, deps.Recorder),
		users:       controllers.NewUserController(repos, deps.Recorder),
		packages:    controllers.NewPackageController(deps.Billing),
		subscribers: controllers.NewSubscriberController(deps.Billing),
		activity:    controllers.NewActivityLogController(repos, deps.Exporter),
		webhooks:    controllers.NewWebhookController(deps.Billing, deps.WebhookSecret),
		health:      controllers.NewHealthController(),
	}
}

// requireDomain resolves the session's tenant connection
func (h *HttpRouter) requireDomain() fiber.Handler {
	return middleware.RequireDomain(h.deps.Tenants, h.deps.Repositories.Domain)
}
