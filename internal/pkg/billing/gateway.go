package billing

import (
	"context"
	"time"
)

// Gateway is the external subscription-billing service of record. Every
// object created for a tenant carries the tenant id in its metadata.
type Gateway interface {
	CreateProduct(ctx context.Context, spec ProductSpec) (*ProductResult, error)
	UpdateProduct(ctx context.Context, productID string, update ProductUpdate) error
	ArchiveProduct(ctx context.Context, productID string) error

	CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error)
	UpdateCustomer(ctx context.Context, customerID string, in CustomerInput) (*Customer, error)
	DeleteCustomer(ctx context.Context, customerID string) error
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	ListCustomersForTenant(ctx context.Context, tenantID string) ([]Customer, error)

	CreateSubscription(ctx context.Context, in SubscriptionInput) (*Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) (*Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]Subscription, error)

	CreateUnitInvoice(ctx context.Context, in InvoiceInput) (*Invoice, error)
	ListInvoices(ctx context.Context, customerID string) ([]Invoice, error)
}

const (
	MetaTenantID    = "tenant_id"
	MetaPackageID   = "package_id"
	MetaUserID      = "user_id"
	MetaCreatedBy   = "created_by"
	MetaPremium     = "premium"
	MetaBillingType = "billing_type"
)

// ProductSpec describes a product and the single price for its billing type
type ProductSpec struct {
	Name           string
	Description    string
	BillingType    string
	Amount         int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// ProductResult maps billing cycles to the created price ids
type ProductResult struct {
	ProductID string
	Prices    map[string]string
}

type ProductUpdate struct {
	Name        string
	Description string
	Active      bool
	Metadata    map[string]string
}

type Address struct {
	Line1      string `json:"line1,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

type CustomerInput struct {
	Name           string
	Email          string
	Phone          string
	Address        Address
	TaxID          string
	Metadata       map[string]string
	IdempotencyKey string
}

// Customer is a subscriber as stored by the gateway
type Customer struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Email    string            `json:"email"`
	Phone    string            `json:"phone,omitempty"`
	Address  Address           `json:"address"`
	TaxIDs   []string          `json:"tax_ids,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Created  time.Time         `json:"created"`
}

// TenantID returns the tenant tag of the customer
func (c *Customer) TenantID() string {
	return c.Metadata[MetaTenantID]
}

type SubscriptionInput struct {
	CustomerID     string
	PriceID        string
	StartAt        *time.Time
	Metadata       map[string]string
	IdempotencyKey string
}

type Subscription struct {
	ID                string            `json:"id"`
	CustomerID        string            `json:"customer_id"`
	Status            string            `json:"status"`
	PriceIDs          []string          `json:"price_ids"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Created           time.Time         `json:"created"`
}

// HasPrice reports whether any subscription item uses one of priceIDs
func (s *Subscription) HasPrice(priceIDs ...string) bool {
	for _, have := range s.PriceIDs {
		for _, want := range priceIDs {
			if have == want {
				return true
			}
		}
	}
	return false
}

type SubscriptionFilter struct {
	CustomerID string
	PriceID    string
	Status     string
}

type InvoiceInput struct {
	CustomerID     string
	Amount         int64
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

type Invoice struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id,omitempty"`
	Number     string    `json:"number,omitempty"`
	Status     string    `json:"status"`
	AmountDue  int64     `json:"amount_due"`
	AmountPaid int64     `json:"amount_paid"`
	Currency   string    `json:"currency"`
	HostedURL  string    `json:"hosted_url,omitempty"`
	Created    time.Time `json:"created"`
}
