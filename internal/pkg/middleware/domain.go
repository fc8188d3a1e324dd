package middleware

import (
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/TenantDesk/app/repository"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/flash"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/session"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/tenant"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/usercontext"
)

// DomainSelectPath is where operators pick their active domain
const DomainSelectPath = "/admin/domains/select"

// RequireDomain resolves the session's domain and makes its database
// connection available to the handlers. The connection stays open until
// the request is done. Requests without a usable domain are sent to the
// domain selection.
func RequireDomain(router *tenant.Router, domains repository.DomainRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		domainID, ok := session.GetDomainID(c)
		if !ok {
			return selectDomain(c, apperror.ErrNoTenantSelected.Message)
		}

		sid, err := session.ID(c)
		if err != nil {
			return selectDomain(c, apperror.ErrNoTenantSelected.Message)
		}

		domain, err := domains.GetByID(domainID)
		if err != nil || !domain.IsActive {
			router.Release(sid)
			_ = session.ClearDomainID(c)
			return selectDomain(c, "The selected domain is no longer available")
		}

		conn, done, err := router.Acquire(usercontext.RequestContext(c), sid, domain)
		if err != nil {
			fiberlog.Warnf("[Tenant] Session domain %d could not be activated: %v", domainID, err)
			_ = session.ClearDomainID(c)
			return selectDomain(c, err.Error())
		}

		defer done()

		usercontext.SetConnection(c, conn)
		return c.Next()
	}
}

func selectDomain(c *fiber.Ctx, message string) error {
	if WantsJSON(c) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"code":     apperror.KindNoTenantSelected,
			"message":  message,
			"redirect": DomainSelectPath,
		})
	}
	return flash.Warning(c, message).Redirect(DomainSelectPath, fiber.StatusSeeOther)
}
