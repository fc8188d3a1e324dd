package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/audit"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/tenant"
)

const modelTypeSubscriber = "Subscriber"

// SubscriberView is a gateway customer with its subscriptions and the
// package each subscription maps to in the active domain. Invoices are only
// loaded for a single subscriber.
type SubscriberView struct {
	Customer
	Subscriptions []SubscriptionView `json:"subscriptions"`
	Invoice       *Invoice           `json:"invoice,omitempty"`
	Invoices      []Invoice          `json:"invoices,omitempty"`
}

type SubscriptionView struct {
	Subscription
	PackageID   *uint  `json:"package_id,omitempty"`
	PackageName string `json:"package_name,omitempty"`
}

// ListSubscribers returns the gateway customers tagged with the active domain
func (s *Service) ListSubscribers(ctx context.Context, conn *tenant.Connection) ([]SubscriberView, error) {
	if err := requireConnection(conn); err != nil {
		return nil, err
	}
	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()

	customers, err := s.gateway.ListCustomersForTenant(gctx, conn.Domain.TenantID())
	if err != nil {
		return nil, asGatewayError("list customers", err)
	}
	index, err := s.priceIndex(ctx, conn)
	if err != nil {
		return nil, err
	}

	out := make([]SubscriberView, 0, len(customers))
	for _, c := range customers {
		if c.TenantID() != conn.Domain.TenantID() {
			continue
		}
		subs, err := s.gateway.ListSubscriptions(gctx, SubscriptionFilter{CustomerID: c.ID})
		if err != nil {
			return nil, asGatewayError("list subscriptions", err)
		}
		out = append(out, SubscriberView{Customer: c, Subscriptions: index.views(subs)})
	}
	return out, nil
}

// GetSubscriber loads one customer with subscriptions and invoices.
// Customers of other domains are reported as missing.
func (s *Service) GetSubscriber(ctx context.Context, conn *tenant.Connection, customerID string) (*SubscriberView, error) {
	if err := requireConnection(conn); err != nil {
		return nil, err
	}
	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()

	c, err := s.tenantCustomer(gctx, conn, customerID)
	if err != nil {
		return nil, err
	}
	subs, err := s.gateway.ListSubscriptions(gctx, SubscriptionFilter{CustomerID: c.ID})
	if err != nil {
		return nil, asGatewayError("list subscriptions", err)
	}
	index, err := s.priceIndex(ctx, conn)
	if err != nil {
		return nil, err
	}

	// the page still shows without invoices
	invoices, err := s.gateway.ListInvoices(gctx, c.ID)
	if err != nil {
		fiberlog.Warnf("[Billing] Could not load invoices of customer %s: %v", c.ID, err)
	}
	if invoices == nil {
		invoices = []Invoice{}
	}
	return &SubscriberView{Customer: *c, Subscriptions: index.views(subs), Invoices: invoices}, nil
}

// CreateSubscriber creates the gateway customer and then either a
// subscription or a finalized unit invoice. The customer is deleted again
// when the second step fails.
func (s *Service) CreateSubscriber(ctx context.Context, conn *tenant.Connection, in SubscriberInput) (*SubscriberView, error) {
	if err := requireConnection(conn); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	pkg, err := NewRepository(conn.DB.WithContext(ctx)).FindPackage(in.PackageID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.Validation(map[string]string{"package_id": "selected package does not exist"})
	}
	if err != nil {
		return nil, apperror.Fatal(err)
	}
	priceID := pkg.PriceIDFor(in.BillingCycle)
	if priceID == "" {
		return nil, apperror.Validation(map[string]string{"billing_cycle": "is not offered by the selected package"})
	}

	key := s.newKey()
	meta := map[string]string{MetaPackageID: formatID(pkg.ID)}
	if actor := audit.OriginFrom(ctx).ActorID; actor != nil {
		meta[MetaCreatedBy] = formatID(*actor)
	}

	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()

	custIn := in.customerInput(conn.Domain.TenantID(), meta)
	custIn.IdempotencyKey = key
	customer, err := s.gateway.CreateCustomer(gctx, custIn)
	if err != nil {
		return nil, s.finish("create_subscriber", conn, asGatewayError("create customer", err))
	}

	view := &SubscriberView{Customer: *customer, Subscriptions: []SubscriptionView{}}
	tagged := map[string]string{
		MetaTenantID:  conn.Domain.TenantID(),
		MetaPackageID: formatID(pkg.ID),
	}

	if in.BillingCycle == models.BILLING_TYPE_UNIT {
		units := in.Units
		invoice, err := s.gateway.CreateUnitInvoice(gctx, InvoiceInput{
			CustomerID:     customer.ID,
			Amount:         ToMinorUnits(pkg.Price()) * int64(units),
			Currency:       conn.Domain.GatewayCurrency(),
			Description:    fmt.Sprintf("%s (%d units)", pkg.Name, units),
			Metadata:       tagged,
			IdempotencyKey: key,
		})
		if err != nil {
			s.discardCustomer(ctx, customer.ID)
			return nil, s.finish("create_subscriber", conn, asGatewayError("create invoice", err))
		}
		view.Invoice = invoice
	} else {
		sub, err := s.gateway.CreateSubscription(gctx, SubscriptionInput{
			CustomerID:     customer.ID,
			PriceID:        priceID,
			StartAt:        in.SubscriptionStart,
			Metadata:       tagged,
			IdempotencyKey: key,
		})
		if err != nil {
			s.discardCustomer(ctx, customer.ID)
			return nil, s.finish("create_subscriber", conn, asGatewayError("create subscription", err))
		}
		id := pkg.ID
		view.Subscriptions = append(view.Subscriptions, SubscriptionView{
			Subscription: *sub,
			PackageID:    &id,
			PackageName:  pkg.Name,
		})
	}

	fiberlog.Infof("[Billing] Created subscriber %s for package %d in domain %d", customer.ID, pkg.ID, conn.DomainID())
	s.audit.Record(ctx, audit.Entry{
		DomainID:    domainRef(conn),
		Action:      models.ACTION_CREATE,
		Description: fmt.Sprintf("Created subscriber %q for package %q", customer.Name, pkg.Name),
		ModelType:   modelTypeSubscriber,
		ModelID:     customer.ID,
		New:         view,
	})
	return view, s.finish("create_subscriber", conn, nil)
}

// UpdateSubscriber changes the billing profile of a customer
func (s *Service) UpdateSubscriber(ctx context.Context, conn *tenant.Connection, customerID string, in SubscriberProfile) (*SubscriberView, error) {
	if err := requireConnection(conn); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()

	before, err := s.tenantCustomer(gctx, conn, customerID)
	if err != nil {
		return nil, err
	}
	custIn := in.customerInput(conn.Domain.TenantID(), nil)
	after, err := s.gateway.UpdateCustomer(gctx, customerID, custIn)
	if err != nil {
		return nil, s.finish("update_subscriber", conn, asGatewayError("update customer", err))
	}

	s.audit.Record(ctx, audit.Entry{
		DomainID:    domainRef(conn),
		Action:      models.ACTION_UPDATE,
		Description: fmt.Sprintf("Updated subscriber %q", after.Name),
		ModelType:   modelTypeSubscriber,
		ModelID:     customerID,
		Old:         before,
		New:         after,
	})
	return &SubscriberView{Customer: *after, Subscriptions: []SubscriptionView{}}, s.finish("update_subscriber", conn, nil)
}

// DeleteSubscriber cancels every open subscription immediately and then
// deletes the customer
func (s *Service) DeleteSubscriber(ctx context.Context, conn *tenant.Connection, customerID string) error {
	if err := requireConnection(conn); err != nil {
		return err
	}
	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()

	c, err := s.tenantCustomer(gctx, conn, customerID)
	if err != nil {
		return err
	}
	subs, err := s.gateway.ListSubscriptions(gctx, SubscriptionFilter{CustomerID: customerID})
	if err != nil {
		return s.finish("delete_subscriber", conn, asGatewayError("list subscriptions", err))
	}
	for _, sub := range subs {
		if !isCancellableStatus(sub.Status) {
			continue
		}
		if _, err := s.gateway.CancelSubscription(gctx, sub.ID, true); err != nil {
			return s.finish("delete_subscriber", conn, asGatewayError("cancel subscription", err))
		}
	}
	if err := s.gateway.DeleteCustomer(gctx, customerID); err != nil {
		return s.finish("delete_subscriber", conn, asGatewayError("delete customer", err))
	}

	fiberlog.Infof("[Billing] Deleted subscriber %s of domain %d", customerID, conn.DomainID())
	s.audit.Record(ctx, audit.Entry{
		DomainID:    domainRef(conn),
		Action:      models.ACTION_DELETE,
		Description: fmt.Sprintf("Deleted subscriber %q", c.Name),
		ModelType:   modelTypeSubscriber,
		ModelID:     customerID,
		Old:         SubscriberView{Customer: *c, Subscriptions: viewsWithoutPackages(subs)},
	})
	return s.finish("delete_subscriber", conn, nil)
}

// CancelSubscription ends a subscription of a customer in the active domain,
// either now or at the end of the current period
func (s *Service) CancelSubscription(ctx context.Context, conn *tenant.Connection, subscriptionID string, immediate bool) (*Subscription, error) {
	if err := requireConnection(conn); err != nil {
		return nil, err
	}
	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()

	sub, err := s.gateway.GetSubscription(gctx, subscriptionID)
	if err != nil {
		if apperror.IsKind(err, apperror.KindNotFound) {
			return nil, apperror.NotFound("subscription %s not found", subscriptionID)
		}
		return nil, asGatewayError("get subscription", err)
	}
	if _, err := s.tenantCustomer(gctx, conn, sub.CustomerID); err != nil {
		if apperror.IsKind(err, apperror.KindNotFound) {
			return nil, apperror.NotFound("subscription %s not found", subscriptionID)
		}
		return nil, err
	}
	if !isCancellableStatus(sub.Status) {
		return nil, apperror.Conflict("subscription %s is already %s", subscriptionID, sub.Status)
	}

	cancelled, err := s.gateway.CancelSubscription(gctx, subscriptionID, immediate)
	if err != nil {
		return nil, s.finish("cancel_subscription", conn, asGatewayError("cancel subscription", err))
	}

	when := "at period end"
	if immediate {
		when = "immediately"
	}
	s.audit.Record(ctx, audit.Entry{
		DomainID:    domainRef(conn),
		Action:      models.ACTION_CANCEL,
		Description: fmt.Sprintf("Cancelled subscription %s %s", subscriptionID, when),
		ModelType:   "Subscription",
		ModelID:     subscriptionID,
		Old:         sub,
		New:         cancelled,
	})
	return cancelled, s.finish("cancel_subscription", conn, nil)
}

// tenantCustomer loads a customer and hides customers of other domains
func (s *Service) tenantCustomer(ctx context.Context, conn *tenant.Connection, customerID string) (*Customer, error) {
	c, err := s.gateway.GetCustomer(ctx, customerID)
	if err != nil {
		if apperror.IsKind(err, apperror.KindNotFound) {
			return nil, apperror.NotFound("subscriber %s not found", customerID)
		}
		return nil, asGatewayError("get customer", err)
	}
	if c.TenantID() != conn.Domain.TenantID() {
		return nil, apperror.NotFound("subscriber %s not found", customerID)
	}
	return c, nil
}

// discardCustomer removes a customer whose subscription could not be created
func (s *Service) discardCustomer(ctx context.Context, customerID string) {
	gctx, cancel := s.gatewayContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.gateway.DeleteCustomer(gctx, customerID); err != nil {
		fiberlog.Errorf("[Billing] Failed to delete customer %s after failed signup: %v", customerID, err)
		reportFatal(err, "orphaned billing customer", map[string]interface{}{"customer_id": customerID})
	}
}

type packageRef struct {
	id   uint
	name string
}

type priceIndex map[string]packageRef

// priceIndex maps every gateway price id of the domain to its package
func (s *Service) priceIndex(ctx context.Context, conn *tenant.Connection) (priceIndex, error) {
	pkgs, err := NewRepository(conn.DB.WithContext(ctx)).ListPackages()
	if err != nil {
		return nil, apperror.Fatal(err)
	}
	index := make(priceIndex)
	for _, p := range pkgs {
		for _, id := range p.PriceIDs() {
			index[id] = packageRef{id: p.ID, name: p.Name}
		}
	}
	return index, nil
}

func (idx priceIndex) views(subs []Subscription) []SubscriptionView {
	out := make([]SubscriptionView, 0, len(subs))
	for _, sub := range subs {
		v := SubscriptionView{Subscription: sub}
		for _, priceID := range sub.PriceIDs {
			if ref, ok := idx[priceID]; ok {
				id := ref.id
				v.PackageID = &id
				v.PackageName = ref.name
				break
			}
		}
		if v.PackageID == nil {
			if raw := sub.Metadata[MetaPackageID]; raw != "" {
				if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
					pid := uint(id)
					v.PackageID = &pid
				}
			}
		}
		out = append(out, v)
	}
	return out
}

func viewsWithoutPackages(subs []Subscription) []SubscriptionView {
	return priceIndex(nil).views(subs)
}
