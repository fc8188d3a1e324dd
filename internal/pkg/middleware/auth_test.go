package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/usercontext"
)

// as installs a fake operator in front of the guarded handler
func as(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if role != "" {
			c.Locals(usercontext.KeyUserContext, usercontext.UserContext{
				UserID:     1,
				Username:   "Operator",
				Role:       role,
				IsLoggedIn: true,
				IsAdmin:    role == models.ROLE_ADMIN,
			})
		}
		return c.Next()
	}
}

func ok(c *fiber.Ctx) error {
	return c.SendString("ok")
}

func TestRequireAuth(t *testing.T) {
	tests := []struct {
		name     string
		role     string
		json     bool
		status   int
		location string
	}{
		{"anonymous page", "", false, fiber.StatusSeeOther, "/login"},
		{"anonymous json", "", true, fiber.StatusUnauthorized, ""},
		{"operator", models.ROLE_MANAGER, false, fiber.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/admin", as(tt.role), RequireAuth, ok)

			req := httptest.NewRequest(fiber.MethodGet, "/admin", nil)
			if tt.json {
				req.Header.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.location, resp.Header.Get(fiber.HeaderLocation))
		})
	}
}

func TestRequirePermission(t *testing.T) {
	tests := []struct {
		name       string
		role       string
		permission string
		status     int
	}{
		{"admin manages users", models.ROLE_ADMIN, models.PERMISSION_MANAGE_USERS, fiber.StatusOK},
		{"manager cannot manage users", models.ROLE_MANAGER, models.PERMISSION_MANAGE_USERS, fiber.StatusForbidden},
		{"manager manages packages", models.ROLE_MANAGER, models.PERMISSION_MANAGE_PACKAGES, fiber.StatusOK},
		{"manager cannot manage domains", models.ROLE_MANAGER, models.PERMISSION_MANAGE_DOMAINS, fiber.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/guarded", as(tt.role), RequirePermission(tt.permission), ok)

			req := httptest.NewRequest(fiber.MethodGet, "/guarded", nil)
			req.Header.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestWantsJSON(t *testing.T) {
	app := fiber.New()
	app.Post("/", func(c *fiber.Ctx) error {
		if WantsJSON(c) {
			return c.SendString("json")
		}
		return c.SendString("html")
	})

	for header, value := range map[string]string{
		fiber.HeaderAccept:      "application/json, text/plain",
		fiber.HeaderContentType: "application/json; charset=utf-8",
	} {
		req := httptest.NewRequest(fiber.MethodPost, "/", nil)
		req.Header.Set(header, value)
		resp, err := app.Test(req)
		require.NoError(t, err)
		buf := make([]byte, 4)
		n, _ := resp.Body.Read(buf)
		assert.Equal(t, "json", string(buf[:n]), header)
	}
}
