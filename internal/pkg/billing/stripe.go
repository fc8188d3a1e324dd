package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/invoiceitem"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/product"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/env"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/metrics"
)

const (
	defaultGatewayTimeout = 20 * time.Second
	unitInvoiceDueDays    = 30
	listLimit             = 100
)

// StripeConfig configures the Stripe gateway
type StripeConfig struct {
	SecretKey string
	// MeterID enables metered recurring prices for unit billing. Without it
	// unit packages get a one-time per-unit price used for invoicing.
	MeterID string
	Timeout time.Duration
	// BaseURL overrides the API endpoint
	BaseURL string
}

// StripeConfigFromEnv reads the gateway settings from the environment
func StripeConfigFromEnv() StripeConfig {
	return StripeConfig{
		SecretKey: env.GetEnv("STRIPE_SECRET_KEY", ""),
		MeterID:   env.GetEnv("STRIPE_METER_ID", ""),
		Timeout:   env.GetEnvSeconds("BILLING_TIMEOUT_SECONDS", defaultGatewayTimeout),
	}
}

// StripeGateway implements Gateway on the Stripe API
type StripeGateway struct {
	products      *product.Client
	prices        *price.Client
	customers     *customer.Client
	subscriptions *subscription.Client
	invoices      *invoice.Client
	invoiceItems  *invoiceitem.Client
	meterID       string
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(2),
		EnableTelemetry:   stripe.Bool(false),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	return &StripeGateway{
		products:      &product.Client{B: backend, Key: cfg.SecretKey},
		prices:        &price.Client{B: backend, Key: cfg.SecretKey},
		customers:     &customer.Client{B: backend, Key: cfg.SecretKey},
		subscriptions: &subscription.Client{B: backend, Key: cfg.SecretKey},
		invoices:      &invoice.Client{B: backend, Key: cfg.SecretKey},
		invoiceItems:  &invoiceitem.Client{B: backend, Key: cfg.SecretKey},
		meterID:       cfg.MeterID,
	}
}

// CreateProduct creates the product and the single price for its billing
// type. If the price cannot be created the product is archived again.
func (g *StripeGateway) CreateProduct(ctx context.Context, spec ProductSpec) (*ProductResult, error) {
	params := &stripe.ProductParams{
		Name:   stripe.String(spec.Name),
		Active: stripe.Bool(true),
	}
	if spec.Description != "" {
		params.Description = stripe.String(spec.Description)
	}
	params.Context = ctx
	for k, v := range spec.Metadata {
		params.AddMetadata(k, v)
	}
	if spec.IdempotencyKey != "" {
		params.SetIdempotencyKey(spec.IdempotencyKey + ":product")
	}

	prod, err := g.products.New(params)
	metrics.ObserveGateway("create_product", err)
	if err != nil {
		return nil, gatewayError("create product", err)
	}

	priceID, err := g.createPrice(ctx, prod.ID, spec)
	metrics.ObserveGateway("create_price", err)
	if err != nil {
		if archiveErr := g.ArchiveProduct(context.WithoutCancel(ctx), prod.ID); archiveErr != nil {
			fiberlog.Errorf("[Billing] Orphaned product %s after failed price creation: %v", prod.ID, archiveErr)
		}
		return nil, gatewayError("create price", err)
	}

	return &ProductResult{
		ProductID: prod.ID,
		Prices:    map[string]string{spec.BillingType: priceID},
	}, nil
}

func (g *StripeGateway) createPrice(ctx context.Context, productID string, spec ProductSpec) (string, error) {
	params := &stripe.PriceParams{
		Product:    stripe.String(productID),
		UnitAmount: stripe.Int64(spec.Amount),
		Currency:   stripe.String(strings.ToLower(spec.Currency)),
		Nickname:   stripe.String(spec.Name + " (" + spec.BillingType + ")"),
	}
	switch {
	case spec.BillingType != models.BILLING_TYPE_UNIT:
		params.Recurring = &stripe.PriceRecurringParams{
			Interval: stripe.String(recurringInterval(spec.BillingType)),
		}
	case g.meterID != "":
		params.Recurring = &stripe.PriceRecurringParams{
			Interval:  stripe.String("month"),
			UsageType: stripe.String("metered"),
			Meter:     stripe.String(g.meterID),
		}
	}
	params.Context = ctx
	for k, v := range spec.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddMetadata(MetaBillingType, spec.BillingType)
	if spec.IdempotencyKey != "" {
		params.SetIdempotencyKey(spec.IdempotencyKey + ":price:" + spec.BillingType)
	}

	p, err := g.prices.New(params)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func (g *StripeGateway) UpdateProduct(ctx context.Context, productID string, update ProductUpdate) error {
	params := &stripe.ProductParams{
		Name:        stripe.String(update.Name),
		Description: stripe.String(update.Description),
		Active:      stripe.Bool(update.Active),
	}
	params.Context = ctx
	for k, v := range update.Metadata {
		params.AddMetadata(k, v)
	}

	_, err := g.products.Update(productID, params)
	metrics.ObserveGateway("update_product", err)
	if err != nil {
		return gatewayError("update product", err)
	}
	return nil
}

// ArchiveProduct deactivates the product. Products are never deleted so
// historical invoices stay queryable.
func (g *StripeGateway) ArchiveProduct(ctx context.Context, productID string) error {
	params := &stripe.ProductParams{Active: stripe.Bool(false)}
	params.Context = ctx

	_, err := g.products.Update(productID, params)
	metrics.ObserveGateway("archive_product", err)
	if err != nil {
		return gatewayError("archive product", err)
	}
	return nil
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error) {
	params := customerParams(in)
	params.Context = ctx
	if in.TaxID != "" {
		params.TaxIDData = []*stripe.CustomerTaxIDDataParams{
			{Type: stripe.String("eu_vat"), Value: stripe.String(in.TaxID)},
		}
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey + ":customer")
	}

	c, err := g.customers.New(params)
	metrics.ObserveGateway("create_customer", err)
	if err != nil {
		return nil, gatewayError("create customer", err)
	}
	return toCustomer(c), nil
}

func (g *StripeGateway) UpdateCustomer(ctx context.Context, customerID string, in CustomerInput) (*Customer, error) {
	params := customerParams(in)
	params.Context = ctx

	c, err := g.customers.Update(customerID, params)
	metrics.ObserveGateway("update_customer", err)
	if err != nil {
		return nil, gatewayError("update customer", err)
	}
	return toCustomer(c), nil
}

func (g *StripeGateway) DeleteCustomer(ctx context.Context, customerID string) error {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	_, err := g.customers.Del(customerID, params)
	metrics.ObserveGateway("delete_customer", err)
	if err != nil {
		return gatewayError("delete customer", err)
	}
	return nil
}

func (g *StripeGateway) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.AddExpand("tax_ids")

	c, err := g.customers.Get(customerID, params)
	metrics.ObserveGateway("get_customer", err)
	if err != nil {
		return nil, gatewayError("get customer", err)
	}
	if c.Deleted {
		return nil, apperror.NotFound("subscriber %s not found", customerID)
	}
	return toCustomer(c), nil
}

// ListCustomersForTenant searches customers by their tenant metadata tag
func (g *StripeGateway) ListCustomersForTenant(ctx context.Context, tenantID string) ([]Customer, error) {
	params := &stripe.CustomerSearchParams{}
	params.Context = ctx
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", MetaTenantID, escapeSearchValue(tenantID))
	params.Limit = stripe.Int64(listLimit)

	var out []Customer
	iter := g.customers.Search(params)
	for iter.Next() {
		out = append(out, *toCustomer(iter.Customer()))
	}
	err := iter.Err()
	metrics.ObserveGateway("list_customers", err)
	if err != nil {
		return nil, gatewayError("list customers", err)
	}
	return out, nil
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, in SubscriptionInput) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(in.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(in.PriceID)},
		},
	}
	if in.StartAt != nil {
		params.BillingCycleAnchor = stripe.Int64(in.StartAt.Unix())
		params.ProrationBehavior = stripe.String("none")
	}
	params.Context = ctx
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey + ":subscription")
	}

	s, err := g.subscriptions.New(params)
	metrics.ObserveGateway("create_subscription", err)
	if err != nil {
		return nil, gatewayError("create subscription", err)
	}
	return toSubscription(s), nil
}

// CancelSubscription cancels now, or flags the subscription to end with the current period
func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) (*Subscription, error) {
	var (
		s   *stripe.Subscription
		err error
	)
	if immediate {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		s, err = g.subscriptions.Cancel(subscriptionID, params)
	} else {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		s, err = g.subscriptions.Update(subscriptionID, params)
	}
	metrics.ObserveGateway("cancel_subscription", err)
	if err != nil {
		return nil, gatewayError("cancel subscription", err)
	}
	return toSubscription(s), nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	s, err := g.subscriptions.Get(subscriptionID, params)
	metrics.ObserveGateway("get_subscription", err)
	if err != nil {
		return nil, gatewayError("get subscription", err)
	}
	return toSubscription(s), nil
}

func (g *StripeGateway) ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]Subscription, error) {
	params := &stripe.SubscriptionListParams{}
	params.Context = ctx
	params.Limit = stripe.Int64(listLimit)
	if filter.CustomerID != "" {
		params.Customer = stripe.String(filter.CustomerID)
	}
	if filter.PriceID != "" {
		params.Price = stripe.String(filter.PriceID)
	}
	if filter.Status != "" {
		params.Status = stripe.String(filter.Status)
	}

	var out []Subscription
	iter := g.subscriptions.List(params)
	for iter.Next() {
		out = append(out, *toSubscription(iter.Subscription()))
	}
	err := iter.Err()
	metrics.ObserveGateway("list_subscriptions", err)
	if err != nil {
		return nil, gatewayError("list subscriptions", err)
	}
	return out, nil
}

// CreateUnitInvoice bills a fixed amount through a pending invoice item and
// a finalized send_invoice invoice.
func (g *StripeGateway) CreateUnitInvoice(ctx context.Context, in InvoiceInput) (*Invoice, error) {
	itemParams := &stripe.InvoiceItemParams{
		Customer:    stripe.String(in.CustomerID),
		Amount:      stripe.Int64(in.Amount),
		Currency:    stripe.String(strings.ToLower(in.Currency)),
		Description: stripe.String(in.Description),
	}
	itemParams.Context = ctx
	for k, v := range in.Metadata {
		itemParams.AddMetadata(k, v)
	}
	if in.IdempotencyKey != "" {
		itemParams.SetIdempotencyKey(in.IdempotencyKey + ":invoice-item")
	}
	_, err := g.invoiceItems.New(itemParams)
	metrics.ObserveGateway("create_invoice_item", err)
	if err != nil {
		return nil, gatewayError("create invoice item", err)
	}

	invParams := &stripe.InvoiceParams{
		Customer:                    stripe.String(in.CustomerID),
		AutoAdvance:                 stripe.Bool(true),
		CollectionMethod:            stripe.String("send_invoice"),
		DaysUntilDue:                stripe.Int64(unitInvoiceDueDays),
		PendingInvoiceItemsBehavior: stripe.String("include"),
	}
	invParams.Context = ctx
	for k, v := range in.Metadata {
		invParams.AddMetadata(k, v)
	}
	if in.IdempotencyKey != "" {
		invParams.SetIdempotencyKey(in.IdempotencyKey + ":invoice")
	}
	inv, err := g.invoices.New(invParams)
	metrics.ObserveGateway("create_invoice", err)
	if err != nil {
		return nil, gatewayError("create invoice", err)
	}

	finalizeParams := &stripe.InvoiceFinalizeInvoiceParams{}
	finalizeParams.Context = ctx
	inv, err = g.invoices.FinalizeInvoice(inv.ID, finalizeParams)
	metrics.ObserveGateway("finalize_invoice", err)
	if err != nil {
		return nil, gatewayError("finalize invoice", err)
	}

	return toInvoice(inv), nil
}

// ListInvoices returns the newest invoices of a customer
func (g *StripeGateway) ListInvoices(ctx context.Context, customerID string) ([]Invoice, error) {
	params := &stripe.InvoiceListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	params.Limit = stripe.Int64(listLimit)

	var out []Invoice
	iter := g.invoices.List(params)
	for len(out) < listLimit && iter.Next() {
		out = append(out, *toInvoice(iter.Invoice()))
	}
	err := iter.Err()
	metrics.ObserveGateway("list_invoices", err)
	if err != nil {
		return nil, gatewayError("list invoices", err)
	}
	return out, nil
}

func customerParams(in CustomerInput) *stripe.CustomerParams {
	params := &stripe.CustomerParams{
		Name:  stripe.String(in.Name),
		Email: stripe.String(in.Email),
	}
	if in.Phone != "" {
		params.Phone = stripe.String(in.Phone)
	}
	if in.Address != (Address{}) {
		params.Address = &stripe.AddressParams{
			Line1:      stripe.String(in.Address.Line1),
			City:       stripe.String(in.Address.City),
			PostalCode: stripe.String(in.Address.PostalCode),
			Country:    stripe.String(in.Address.Country),
		}
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	return params
}

func toCustomer(c *stripe.Customer) *Customer {
	out := &Customer{
		ID:       c.ID,
		Name:     c.Name,
		Email:    c.Email,
		Phone:    c.Phone,
		Metadata: c.Metadata,
		Created:  time.Unix(c.Created, 0),
	}
	if c.Address != nil {
		out.Address = Address{
			Line1:      c.Address.Line1,
			City:       c.Address.City,
			PostalCode: c.Address.PostalCode,
			Country:    c.Address.Country,
		}
	}
	if c.TaxIDs != nil {
		for _, t := range c.TaxIDs.Data {
			out.TaxIDs = append(out.TaxIDs, t.Value)
		}
	}
	return out
}

func toSubscription(s *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Metadata:          s.Metadata,
		Created:           time.Unix(s.Created, 0),
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil {
		for _, item := range s.Items.Data {
			if item.Price != nil {
				out.PriceIDs = append(out.PriceIDs, item.Price.ID)
			}
		}
	}
	return out
}

func toInvoice(inv *stripe.Invoice) *Invoice {
	out := &Invoice{
		ID:         inv.ID,
		Number:     inv.Number,
		Status:     string(inv.Status),
		AmountDue:  inv.AmountDue,
		AmountPaid: inv.AmountPaid,
		Currency:   string(inv.Currency),
		HostedURL:  inv.HostedInvoiceURL,
		Created:    time.Unix(inv.Created, 0),
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	return out
}

// gatewayError classifies a Stripe failure. Missing resources become NotFound.
func gatewayError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
		return apperror.Wrap(err, apperror.KindNotFound, op+": resource not found")
	}
	return apperror.Gateway(op, err)
}

func escapeSearchValue(v string) string {
	return strings.ReplaceAll(v, "'", `\'`)
}
