package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"github.com/ManuelReschke/TenantDesk/app/repository"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/usercontext"
)

// AdminController handles admin-related HTTP requests using repository pattern
type AdminController struct {
	repos *repository.Repositories
}

// NewAdminController creates a new admin controller with repository dependencies
func NewAdminController(repos *repository.Repositories) *AdminController {
	return &AdminController{
		repos: repos,
	}
}

// HandleDashboard shows totals and the operator's active domain
func (ac *AdminController) HandleDashboard(c *fiber.Ctx) error {
	totalUsers, err := ac.repos.User.Count()
	if err != nil {
		return respondError(c, apperror.Fatal(err), "/login", nil)
	}
	domains, err := ac.repos.Domain.List()
	if err != nil {
		return respondError(c, apperror.Fatal(err), "/login", nil)
	}

	data := fiber.Map{
		"total_users":   totalUsers,
		"total_domains": len(domains),
	}

	userCtx := usercontext.GetUserContext(c)
	if userCtx.DomainID != 0 {
		for i := range domains {
			if domains[i].ID == userCtx.DomainID {
				data["domain"] = domains[i]
				break
			}
		}
		if userCtx.Can(models.PERMISSION_VIEW_LOGS) {
			recent, err := ac.repos.ActivityLog.ListByDomain(userCtx.DomainID, 0, 10)
			if err != nil {
				return respondError(c, apperror.Fatal(err), "/login", nil)
			}
			data["recent_activity"] = recent
		}
	}
	return render(c, "admin.dashboard", data)
}
