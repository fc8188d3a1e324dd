package billing

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"github.com/ManuelReschke/TenantDesk/app/repository"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/audit"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/tenant"
)

// fakeGateway keeps gateway objects in memory. Setting fail[op] makes that
// operation return the error.
type fakeGateway struct {
	mu sync.Mutex

	seq           int
	specs         []ProductSpec
	updates       map[string]ProductUpdate
	archived      []string
	customers     map[string]*Customer
	subscriptions map[string]*Subscription
	invoices      []InvoiceInput
	issued        []Invoice
	deleted       []string
	fail          map[string]error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		updates:       map[string]ProductUpdate{},
		customers:     map[string]*Customer{},
		subscriptions: map[string]*Subscription{},
		fail:          map[string]error{},
	}
}

func (g *fakeGateway) next(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_%d", prefix, g.seq)
}

func (g *fakeGateway) failure(op string) error {
	if err, ok := g.fail[op]; ok {
		return apperror.Gateway(op, err)
	}
	return nil
}

func (g *fakeGateway) CreateProduct(_ context.Context, spec ProductSpec) (*ProductResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failure("create_product"); err != nil {
		return nil, err
	}
	g.specs = append(g.specs, spec)
	return &ProductResult{
		ProductID: g.next("prod"),
		Prices:    map[string]string{spec.BillingType: g.next("price")},
	}, nil
}

func (g *fakeGateway) UpdateProduct(_ context.Context, productID string, update ProductUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failure("update_product"); err != nil {
		return err
	}
	g.updates[productID] = update
	return nil
}

func (g *fakeGateway) ArchiveProduct(_ context.Context, productID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failure("archive_product"); err != nil {
		return err
	}
	g.archived = append(g.archived, productID)
	return nil
}

func (g *fakeGateway) CreateCustomer(_ context.Context, in CustomerInput) (*Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failure("create_customer"); err != nil {
		return nil, err
	}
	c := &Customer{
		ID:       g.next("cus"),
		Name:     in.Name,
		Email:    in.Email,
		Phone:    in.Phone,
		Address:  in.Address,
		Metadata: in.Metadata,
	}
	if in.TaxID != "" {
		c.TaxIDs = []string{in.TaxID}
	}
	g.customers[c.ID] = c
	cp := *c
	return &cp, nil
}

func (g *fakeGateway) UpdateCustomer(_ context.Context, customerID string, in CustomerInput) (*Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failure("update_customer"); err != nil {
		return nil, err
	}
	c, ok := g.customers[customerID]
	if !ok {
		return nil, apperror.NotFound("customer %s", customerID)
	}
	c.Name, c.Email, c.Phone, c.Address = in.Name, in.Email, in.Phone, in.Address
	for k, v := range in.Metadata {
		c.Metadata[k] = v
	}
	cp := *c
	return &cp, nil
}

func (g *fakeGateway) DeleteCustomer(_ context.Context, customerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failure("delete_customer"); err != nil {
		return err
	}
	delete(g.customers, customerID)
	g.deleted = append(g.deleted, customerID)
	return nil
}

func (g *fakeGateway) GetCustomer(_ context.Context, customerID string) (*Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.customers[customerID]
	if !ok {
		return nil, apperror.NotFound("customer %s", customerID)
	}
	cp := *c
	return &cp, nil
}

func (g *fakeGateway) ListCustomersForTenant(_ context.Context, tenantID string) ([]Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failure("list_customers"); err != nil {
		return nil, err
	}
	var out []Customer
	for i := 1; i <= g.seq; i++ {
		if c, ok := g.customers[fmt.Sprintf("cus_%d", i)]; ok && c.TenantID() == tenantID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (g *fakeGateway) CreateSubscription(_ context.Context, in SubscriptionInput) (*Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failure("create_subscription"); err != nil {
		return nil, err
	}
	s := &Subscription{
		ID:         g.next("sub"),
		CustomerID: in.CustomerID,
		Status:     "active",
		PriceIDs:   []string{in.PriceID},
		Metadata:   in.Metadata,
	}
	g.subscriptions[s.ID] = s
	cp := *s
	return &cp, nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, subscriptionID string, immediate bool) (*Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failure("cancel_subscription"); err != nil {
		return nil, err
	}
	s, ok := g.subscriptions[subscriptionID]
	if !ok {
		return nil, apperror.NotFound("subscription %s", subscriptionID)
	}
	if immediate {
		s.Status = "canceled"
	} else {
		s.CancelAtPeriodEnd = true
	}
	cp := *s
	return &cp, nil
}

func (g *fakeGateway) GetSubscription(_ context.Context, subscriptionID string) (*Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failure("get_subscription"); err != nil {
		return nil, err
	}
	s, ok := g.subscriptions[subscriptionID]
	if !ok {
		return nil, apperror.NotFound("subscription %s", subscriptionID)
	}
	cp := *s
	return &cp, nil
}

// setStatus stores or updates a subscription as the gateway sees it
func (g *fakeGateway) setStatus(subscriptionID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.subscriptions[subscriptionID]; ok {
		s.Status = status
		return
	}
	g.subscriptions[subscriptionID] = &Subscription{ID: subscriptionID, Status: status}
}

func (g *fakeGateway) ListSubscriptions(_ context.Context, filter SubscriptionFilter) ([]Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failure("list_subscriptions"); err != nil {
		return nil, err
	}
	var out []Subscription
	for i := 1; i <= g.seq; i++ {
		s, ok := g.subscriptions[fmt.Sprintf("sub_%d", i)]
		if !ok {
			continue
		}
		if filter.CustomerID != "" && s.CustomerID != filter.CustomerID {
			continue
		}
		if filter.PriceID != "" && !s.HasPrice(filter.PriceID) {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (g *fakeGateway) CreateUnitInvoice(_ context.Context, in InvoiceInput) (*Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failure("create_invoice"); err != nil {
		return nil, err
	}
	g.invoices = append(g.invoices, in)
	inv := Invoice{ID: g.next("in"), CustomerID: in.CustomerID, Status: "open", AmountDue: in.Amount, Currency: in.Currency}
	g.issued = append(g.issued, inv)
	return &inv, nil
}

func (g *fakeGateway) ListInvoices(_ context.Context, customerID string) ([]Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failure("list_invoices"); err != nil {
		return nil, err
	}
	var out []Invoice
	for _, inv := range g.issued {
		if inv.CustomerID == customerID {
			out = append(out, inv)
		}
	}
	return out, nil
}

// addSubscription stores a subscription as if it was created elsewhere
func (g *fakeGateway) addSubscription(customerID, priceID, status string) *Subscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := &Subscription{ID: g.next("sub"), CustomerID: customerID, Status: status, PriceIDs: []string{priceID}}
	g.subscriptions[s.ID] = s
	return s
}

func openSQLite(t *testing.T, path string, tables ...interface{}) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(tables...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

var seededPermissions = []string{
	models.PERMISSION_MANAGE_DOMAINS,
	models.PERMISSION_MANAGE_PACKAGES,
	models.PERMISSION_MANAGE_SUBSCRIBERS,
	models.PERMISSION_MANAGE_USERS,
	models.PERMISSION_VIEW_REPORTS,
	models.PERMISSION_VIEW_LOGS,
}

type fixture struct {
	gateway *fakeGateway
	service *Service
	conn    *tenant.Connection
	central *gorm.DB
	dir     string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()

	central := openSQLite(t, filepath.Join(dir, "central.db"), models.CentralModels()...)
	tenantDB := openSQLite(t, filepath.Join(dir, "tenant.db"), models.TenantModels()...)
	for _, name := range seededPermissions {
		require.NoError(t, tenantDB.Create(&models.Permission{Name: name, GuardName: models.GUARD_WEB}).Error)
	}

	domain := models.Domain{
		ID:         1,
		Name:       "Acme",
		Hostname:   "acme.example.com",
		DBHost:     "localhost",
		DBName:     "tenant",
		DBUsername: "acme",
		IsActive:   true,
		Currency:   "USD",
	}
	require.NoError(t, central.Create(&domain).Error)

	gw := newFakeGateway()
	keys := 0
	opts = append([]Option{WithIdempotencyKeys(func() string {
		keys++
		return fmt.Sprintf("key-%d", keys)
	})}, opts...)
	svc := NewService(gw, audit.NewRecorder(repository.NewActivityLogRepository(central)), opts...)

	return &fixture{
		gateway: gw,
		service: svc,
		conn:    &tenant.Connection{Domain: domain, DB: tenantDB},
		central: central,
		dir:     dir,
	}
}

func (f *fixture) count(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.DB.Model(model).Count(&n).Error)
	return n
}

func (f *fixture) auditLogs(t *testing.T) []models.ActivityLog {
	t.Helper()
	var logs []models.ActivityLog
	require.NoError(t, f.central.Order("id").Find(&logs).Error)
	return logs
}

func (f *fixture) permissionID(t *testing.T, name string) uint {
	t.Helper()
	var p models.Permission
	require.NoError(t, f.conn.DB.Where("name = ?", name).First(&p).Error)
	return p.ID
}

func floatPtr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }

func uintPtr(v uint) *uint { return &v }

func proMonthly() PackageInput {
	return PackageInput{
		Name:         "Pro",
		Description:  "For growing teams",
		BillingType:  models.BILLING_TYPE_MONTHLY,
		MonthlyPrice: floatPtr(29.00),
		MaxQueries:   intPtr(1000),
		IsActive:     true,
		Features:     []FeatureInput{{Name: "Priority support", IsIncluded: true}},
	}
}
