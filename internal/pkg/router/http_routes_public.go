package router

import (
	"github.com/gofiber/fiber/v2"
)

func (h *HttpRouter) registerPublicRoutes(app *fiber.App) {
	app.Get("/health", h.health.HandleHealth)

	// Social OAuth, restricted to existing operators
	app.Get("/auth/:provider", h.oauth.HandleBegin)
	app.Get("/auth/:provider/callback", h.oauth.HandleCallback)

	// Billing provider webhooks (no CSRF, signature-verified in controller)
	app.Post("/webhooks/stripe", h.webhooks.HandleStripe)
}
