package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/billing"
)

const webhookTimeout = 15 * time.Second

// WebhookController receives billing gateway events
type WebhookController struct {
	billing *billing.Service
	secret  string
}

func NewWebhookController(svc *billing.Service, secret string) *WebhookController {
	return &WebhookController{billing: svc, secret: secret}
}

// HandleStripe verifies and processes a Stripe event. Failures that a
// redelivery could fix answer 5xx so Stripe retries them.
func (wc *WebhookController) HandleStripe(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.BodyRaw()...)

	evt, err := billing.ParseStripeWebhook(payload, c.Get("Stripe-Signature"), wc.secret)
	if err != nil {
		fiberlog.Warnf("[Billing] Rejected webhook: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	if err := wc.billing.HandleWebhookEvent(ctx, evt); err != nil {
		switch apperror.KindOf(err) {
		case apperror.KindNotFound, apperror.KindValidation:
			// retrying cannot help, the event stays recorded with its error
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
		}
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
