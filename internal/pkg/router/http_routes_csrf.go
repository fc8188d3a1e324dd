package router

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"

	"github.com/ManuelReschke/TenantDesk/internal/pkg/env"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/middleware"
)

var errMissingCSRFToken = errors.New("missing csrf token")

// csrfExtractor accepts the token from the form field or the X-CSRF-Token header
func csrfExtractor(c *fiber.Ctx) (string, error) {
	if token := c.FormValue("_csrf"); token != "" {
		return token, nil
	}
	if token := c.Get("X-CSRF-Token"); token != "" {
		return token, nil
	}
	return "", errMissingCSRFToken
}

func (h *HttpRouter) registerCSRFProtectedRoutes(app *fiber.App) {
	csrfConf := csrf.Config{
		Extractor:      csrfExtractor,
		ContextKey:     "csrf",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		Expiration:     1 * time.Hour,
		CookieSecure:   !env.IsDev(),
		Next: func(c *fiber.Ctx) bool {
			// cross-site forms cannot send a JSON body without a preflight
			return strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON)
		},
	}

	group := app.Group("", csrf.New(csrfConf))
	group.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect("/admin", fiber.StatusSeeOther)
	})
	group.Get("/login", h.auth.HandleLogin)
	group.Post("/login", h.auth.HandleLogin)
	group.Post("/logout", middleware.RequireAuth, h.auth.HandleLogout)

	h.registerAdminRoutes(group)
}
