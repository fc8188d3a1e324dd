package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"github.com/ManuelReschke/TenantDesk/app/repository"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/tenant"
)

const testWebhookSecret = "whsec_test"

func subscriptionEventPayload(eventID, eventType, status string, packageID uint) []byte {
	return []byte(fmt.Sprintf(`{
  "id": %q,
  "object": "event",
  "type": %q,
  "api_version": "2025-06-30.basil",
  "data": {
    "object": {
      "id": "sub_hook",
      "object": "subscription",
      "status": %q,
      "customer": "cus_hook",
      "metadata": {"tenant_id": "1", "package_id": "%d", "user_id": "42"},
      "items": {"object": "list", "data": [{"id": "si_1", "object": "subscription_item", "price": {"id": "price_hook", "object": "price"}}]}
    }
  }
}`, eventID, eventType, status, packageID))
}

func signedEvent(t *testing.T, payload []byte) *WebhookEvent {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	evt, err := ParseStripeWebhook(signed.Payload, signed.Header, testWebhookSecret)
	require.NoError(t, err)
	return evt
}

func webhookFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := newFixture(t)
	router := tenant.NewRouter(tenant.SQLiteOpener(f.dir))
	t.Cleanup(router.Close)

	opts = append([]Option{WithWebhookStore(
		repository.NewWebhookEventRepository(f.central),
		repository.NewDomainRepository(f.central),
		router,
	)}, opts...)
	for _, opt := range opts {
		opt(f.service)
	}
	return f
}

func TestParseStripeWebhook(t *testing.T) {
	evt := signedEvent(t, subscriptionEventPayload("evt_1", EventSubscriptionCreated, "active", 3))
	assert.Equal(t, "evt_1", evt.ID)
	assert.Equal(t, EventSubscriptionCreated, evt.Type)
	require.NotNil(t, evt.Subscription)
	assert.Equal(t, "sub_hook", evt.Subscription.ID)
	assert.Equal(t, "cus_hook", evt.Subscription.CustomerID)
	assert.Equal(t, []string{"price_hook"}, evt.Subscription.PriceIDs)
	assert.Equal(t, "42", evt.Subscription.Metadata[MetaUserID])

	_, err := ParseStripeWebhook([]byte(`{"id":"evt_2"}`), "t=1,v1=deadbeef", testWebhookSecret)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	_, err = ParseStripeWebhook([]byte(`{}`), "", "")
	assert.Error(t, err)
}

func TestWebhookSyncsPackageRole(t *testing.T) {
	f := webhookFixture(t)
	in := proMonthly()
	in.RoleName = "pro"
	in.Permissions = []uint{f.permissionID(t, models.PERMISSION_VIEW_REPORTS)}
	pkg, err := f.service.CreatePackage(context.Background(), f.conn, in)
	require.NoError(t, err)

	f.gateway.setStatus("sub_hook", "active")
	created := signedEvent(t, subscriptionEventPayload("evt_created", EventSubscriptionCreated, "active", pkg.ID))
	require.NoError(t, f.service.HandleWebhookEvent(context.Background(), created))

	var grants []models.UserRole
	require.NoError(t, f.conn.DB.Find(&grants).Error)
	require.Len(t, grants, 1)
	assert.Equal(t, uint(42), grants[0].UserID)
	assert.Equal(t, *pkg.RoleID, grants[0].RoleID)

	var stored models.BillingWebhookEvent
	require.NoError(t, f.central.Where("provider_event_id = ?", "evt_created").First(&stored).Error)
	assert.NotNil(t, stored.ProcessedAt)
	assert.Empty(t, stored.ProcessingError)
	require.NotNil(t, stored.DomainID)
	assert.Equal(t, uint(1), *stored.DomainID)

	// redelivery is ignored
	require.NoError(t, f.service.HandleWebhookEvent(context.Background(), created))
	var events int64
	require.NoError(t, f.central.Model(&models.BillingWebhookEvent{}).Count(&events).Error)
	assert.Equal(t, int64(1), events)

	f.gateway.setStatus("sub_hook", "canceled")
	deleted := signedEvent(t, subscriptionEventPayload("evt_deleted", EventSubscriptionDeleted, "canceled", pkg.ID))
	require.NoError(t, f.service.HandleWebhookEvent(context.Background(), deleted))
	assert.Zero(t, f.count(t, &models.UserRole{}))
}

func TestWebhookPastDueKeepsRoleAndUnpaidRevokes(t *testing.T) {
	f := webhookFixture(t)
	in := proMonthly()
	in.RoleName = "pro"
	in.Permissions = []uint{f.permissionID(t, models.PERMISSION_VIEW_REPORTS)}
	pkg, err := f.service.CreatePackage(context.Background(), f.conn, in)
	require.NoError(t, err)

	for i, status := range []string{"active", "past_due"} {
		f.gateway.setStatus("sub_hook", status)
		evt := signedEvent(t, subscriptionEventPayload(fmt.Sprintf("evt_%d", i), EventSubscriptionUpdated, status, pkg.ID))
		require.NoError(t, f.service.HandleWebhookEvent(context.Background(), evt))
		assert.Equal(t, int64(1), f.count(t, &models.UserRole{}), status)
	}

	f.gateway.setStatus("sub_hook", "unpaid")
	evt := signedEvent(t, subscriptionEventPayload("evt_unpaid", EventSubscriptionUpdated, "unpaid", pkg.ID))
	require.NoError(t, f.service.HandleWebhookEvent(context.Background(), evt))
	assert.Zero(t, f.count(t, &models.UserRole{}))
}

func TestLateUpdateDoesNotRestoreCanceledRole(t *testing.T) {
	f := webhookFixture(t)
	in := proMonthly()
	in.RoleName = "pro"
	in.Permissions = []uint{f.permissionID(t, models.PERMISSION_VIEW_REPORTS)}
	pkg, err := f.service.CreatePackage(context.Background(), f.conn, in)
	require.NoError(t, err)

	f.gateway.setStatus("sub_hook", "active")
	created := signedEvent(t, subscriptionEventPayload("evt_created", EventSubscriptionCreated, "active", pkg.ID))
	require.NoError(t, f.service.HandleWebhookEvent(context.Background(), created))
	require.Equal(t, int64(1), f.count(t, &models.UserRole{}))

	f.gateway.setStatus("sub_hook", "canceled")
	deleted := signedEvent(t, subscriptionEventPayload("evt_deleted", EventSubscriptionDeleted, "canceled", pkg.ID))
	require.NoError(t, f.service.HandleWebhookEvent(context.Background(), deleted))

	// the older update is delivered last
	late := signedEvent(t, subscriptionEventPayload("evt_updated", EventSubscriptionUpdated, "active", pkg.ID))
	require.NoError(t, f.service.HandleWebhookEvent(context.Background(), late))
	assert.Zero(t, f.count(t, &models.UserRole{}))
}

func TestWebhookUnknownToGatewayGrantsNothing(t *testing.T) {
	f := webhookFixture(t)
	in := proMonthly()
	in.RoleName = "pro"
	in.Permissions = []uint{f.permissionID(t, models.PERMISSION_VIEW_REPORTS)}
	pkg, err := f.service.CreatePackage(context.Background(), f.conn, in)
	require.NoError(t, err)

	evt := signedEvent(t, subscriptionEventPayload("evt_ghost", EventSubscriptionCreated, "active", pkg.ID))
	require.NoError(t, f.service.HandleWebhookEvent(context.Background(), evt))
	assert.Zero(t, f.count(t, &models.UserRole{}))
}

func TestWebhookGatewayFailureIsRetried(t *testing.T) {
	f := webhookFixture(t)
	in := proMonthly()
	in.RoleName = "pro"
	in.Permissions = []uint{f.permissionID(t, models.PERMISSION_VIEW_REPORTS)}
	pkg, err := f.service.CreatePackage(context.Background(), f.conn, in)
	require.NoError(t, err)

	f.gateway.setStatus("sub_hook", "active")
	f.gateway.fail["get_subscription"] = errors.New("timeout")
	evt := signedEvent(t, subscriptionEventPayload("evt_retry", EventSubscriptionCreated, "active", pkg.ID))
	err = f.service.HandleWebhookEvent(context.Background(), evt)
	assert.Equal(t, apperror.KindGateway, apperror.KindOf(err))
	assert.Zero(t, f.count(t, &models.UserRole{}))

	delete(f.gateway.fail, "get_subscription")
	require.NoError(t, f.service.HandleWebhookEvent(context.Background(), evt))
	assert.Equal(t, int64(1), f.count(t, &models.UserRole{}))
}

func TestWebhookIgnoresUnrelatedEvents(t *testing.T) {
	f := webhookFixture(t)
	evt := signedEvent(t, []byte(`{"id":"evt_inv","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1","object":"invoice"}}}`))
	require.NoError(t, f.service.HandleWebhookEvent(context.Background(), evt))

	var stored models.BillingWebhookEvent
	require.NoError(t, f.central.Where("provider_event_id = ?", "evt_inv").First(&stored).Error)
	assert.NotNil(t, stored.ProcessedAt)
	assert.Nil(t, stored.DomainID)
}

func TestWebhookUnknownPackageIsRecordedAsFailure(t *testing.T) {
	f := webhookFixture(t)
	evt := signedEvent(t, subscriptionEventPayload("evt_missing", EventSubscriptionCreated, "active", 77))

	err := f.service.HandleWebhookEvent(context.Background(), evt)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	var stored models.BillingWebhookEvent
	require.NoError(t, f.central.Where("provider_event_id = ?", "evt_missing").First(&stored).Error)
	assert.Contains(t, stored.ProcessingError, "package 77 not found")
}

type stubLocker struct {
	ok       bool
	released int
}

func (l *stubLocker) Lock(_ context.Context, _ string, _ time.Duration) (func(), bool, error) {
	if !l.ok {
		return nil, false, nil
	}
	return func() { l.released++ }, true, nil
}

func TestWebhookHonoursLock(t *testing.T) {
	busy := &stubLocker{ok: false}
	f := webhookFixture(t, WithLocker(busy))
	evt := signedEvent(t, subscriptionEventPayload("evt_locked", EventSubscriptionCreated, "active", 1))
	require.NoError(t, f.service.HandleWebhookEvent(context.Background(), evt))

	var events int64
	require.NoError(t, f.central.Model(&models.BillingWebhookEvent{}).Count(&events).Error)
	assert.Zero(t, events)

	free := &stubLocker{ok: true}
	WithLocker(free)(f.service)
	evt = signedEvent(t, []byte(`{"id":"evt_free","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1","object":"invoice"}}}`))
	require.NoError(t, f.service.HandleWebhookEvent(context.Background(), evt))
	assert.Equal(t, 1, free.released)
}

func TestWebhookWithoutStore(t *testing.T) {
	f := newFixture(t)
	err := f.service.HandleWebhookEvent(context.Background(), &WebhookEvent{ID: "evt"})
	assert.Error(t, err)
}
