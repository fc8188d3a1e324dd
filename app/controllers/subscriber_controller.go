package controllers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/TenantDesk/internal/pkg/billing"
)

// SubscriberController manages the gateway customers of the active domain
type SubscriberController struct {
	billing *billing.Service
}

func NewSubscriberController(svc *billing.Service) *SubscriberController {
	return &SubscriberController{billing: svc}
}

// HandleIndex lists subscribers tagged with the active domain
func (sc *SubscriberController) HandleIndex(c *fiber.Ctx) error {
	conn, err := tenantConnection(c)
	if err != nil {
		return respondError(c, err, "/admin", nil)
	}
	subscribers, err := sc.billing.ListSubscribers(requestContext(c), conn)
	if err != nil {
		return respondError(c, err, "/admin", nil)
	}
	return render(c, "subscribers.index", fiber.Map{"subscribers": subscribers})
}

// HandleCreate returns the packages a new subscriber can be put on
func (sc *SubscriberController) HandleCreate(c *fiber.Ctx) error {
	conn, err := tenantConnection(c)
	if err != nil {
		return respondError(c, err, "/admin/subscribers", nil)
	}
	packages, err := sc.billing.ListPackages(requestContext(c), conn)
	if err != nil {
		return respondError(c, err, "/admin/subscribers", nil)
	}
	return render(c, "subscribers.create", fiber.Map{"packages": packages})
}

// HandleStore creates the customer and its subscription or invoice
func (sc *SubscriberController) HandleStore(c *fiber.Ctx) error {
	var in billing.SubscriberInput
	if err := bind(c, &in); err != nil {
		return respondError(c, err, "/admin/subscribers/create", nil)
	}
	conn, err := tenantConnection(c)
	if err != nil {
		return respondError(c, err, "/admin/subscribers/create", in)
	}

	view, err := sc.billing.CreateSubscriber(requestContext(c), conn, in)
	if err != nil {
		return respondError(c, err, "/admin/subscribers/create", in)
	}
	return respondSuccess(c, fmt.Sprintf("Subscriber %s created successfully", view.Name), "/admin/subscribers", view)
}

// HandleShow returns one subscriber with its subscriptions
func (sc *SubscriberController) HandleShow(c *fiber.Ctx) error {
	conn, err := tenantConnection(c)
	if err != nil {
		return respondError(c, err, "/admin/subscribers", nil)
	}
	view, err := sc.billing.GetSubscriber(requestContext(c), conn, c.Params("id"))
	if err != nil {
		return respondError(c, err, "/admin/subscribers", nil)
	}
	return render(c, "subscribers.show", fiber.Map{"subscriber": view})
}

// HandleUpdate changes the billing profile
func (sc *SubscriberController) HandleUpdate(c *fiber.Ctx) error {
	customerID := c.Params("id")
	back := "/admin/subscribers/" + customerID

	var in billing.SubscriberProfile
	if err := bind(c, &in); err != nil {
		return respondError(c, err, back, nil)
	}
	conn, err := tenantConnection(c)
	if err != nil {
		return respondError(c, err, back, in)
	}

	view, err := sc.billing.UpdateSubscriber(requestContext(c), conn, customerID, in)
	if err != nil {
		return respondError(c, err, back, in)
	}
	return respondSuccess(c, "Subscriber updated successfully", back, view)
}

// HandleDelete cancels the subscriptions and removes the customer
func (sc *SubscriberController) HandleDelete(c *fiber.Ctx) error {
	conn, err := tenantConnection(c)
	if err != nil {
		return respondError(c, err, "/admin/subscribers", nil)
	}
	if err := sc.billing.DeleteSubscriber(requestContext(c), conn, c.Params("id")); err != nil {
		return respondError(c, err, "/admin/subscribers", nil)
	}
	return respondSuccess(c, "Subscriber deleted successfully", "/admin/subscribers", nil)
}

type cancelForm struct {
	Immediate bool `json:"immediate" form:"immediate"`
}

// HandleCancelSubscription cancels now or at the end of the period
func (sc *SubscriberController) HandleCancelSubscription(c *fiber.Ctx) error {
	back := "/admin/subscribers/" + c.Params("id")

	var form cancelForm
	if err := bind(c, &form); err != nil {
		return respondError(c, err, back, nil)
	}
	conn, err := tenantConnection(c)
	if err != nil {
		return respondError(c, err, back, nil)
	}

	sub, err := sc.billing.CancelSubscription(requestContext(c), conn, c.Params("subscription"), form.Immediate)
	if err != nil {
		return respondError(c, err, back, nil)
	}
	msg := "Subscription will end with the current period"
	if form.Immediate {
		msg = "Subscription canceled"
	}
	return respondSuccess(c, msg, back, sub)
}
