package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/middleware"
)

func (h *HttpRouter) registerAdminRoutes(group fiber.Router) {
	adminGroup := group.Group("/admin", middleware.RequireAuth)
	adminGroup.Get("/", h.admin.HandleDashboard)

	// Domain selection is open to every operator
	adminGroup.Get("/domains/select", h.domains.HandleSelect)
	adminGroup.Post("/domains/:id/select", h.domains.HandleSet)

	domains := adminGroup.Group("/domains", middleware.RequirePermission(models.PERMISSION_MANAGE_DOMAINS))
	domains.Get("/", h.domains.HandleIndex)
	domains.Get("/create", h.domains.HandleCreate)
	domains.Post("/", h.domains.HandleStore)
	domains.Get("/:id/edit", h.domains.HandleEdit)
	domains.Post("/:id", h.domains.HandleUpdate)
	domains.Post("/:id/delete", h.domains.HandleDelete)

	users := adminGroup.Group("/users", middleware.RequirePermission(models.PERMISSION_MANAGE_USERS))
	users.Get("/", h.users.HandleIndex)
	users.Get("/create", h.users.HandleCreate)
	users.Post("/", h.users.HandleStore)
	users.Get("/:id/edit", h.users.HandleEdit)
	users.Post("/:id", h.users.HandleUpdate)
	users.Post("/:id/delete", h.users.HandleDelete)

	// Tenant scoped sections need an active domain
	packages := adminGroup.Group("/packages", middleware.RequirePermission(models.PERMISSION_MANAGE_PACKAGES), h.requireDomain())
	packages.Get("/", h.packages.HandleIndex)
	packages.Get("/create", h.packages.HandleCreate)
	packages.Post("/", h.packages.HandleStore)
	packages.Get("/:id", h.packages.HandleShow)
	packages.Get("/:id/edit", h.packages.HandleEdit)
	packages.Post("/:id", h.packages.HandleUpdate)
	packages.Post("/:id/delete", h.packages.HandleDelete)
	packages.Post("/:id/roles/assign", h.packages.HandleAssignRole)
	packages.Post("/:id/roles/remove", h.packages.HandleRemoveRole)

	subscribers := adminGroup.Group("/subscribers", middleware.RequirePermission(models.PERMISSION_MANAGE_SUBSCRIBERS), h.requireDomain())
	subscribers.Get("/", h.subscribers.HandleIndex)
	subscribers.Get("/create", h.subscribers.HandleCreate)
	subscribers.Post("/", h.subscribers.HandleStore)
	subscribers.Get("/:id", h.subscribers.HandleShow)
	subscribers.Post("/:id", h.subscribers.HandleUpdate)
	subscribers.Post("/:id/delete", h.subscribers.HandleDelete)
	subscribers.Post("/:id/subscriptions/:subscription/cancel", h.subscribers.HandleCancelSubscription)

	logs := adminGroup.Group("/activity-logs", middleware.RequirePermission(models.PERMISSION_VIEW_LOGS), h.requireDomain())
	logs.Get("/", h.activity.HandleIndex)
	logs.Post("/export", h.activity.HandleExport)
}
