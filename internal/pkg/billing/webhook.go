package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"github.com/ManuelReschke/TenantDesk/app/repository"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/tenant"
)

const (
	ProviderStripe = "stripe"

	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"

	webhookLockTTL = time.Minute
)

// Connector opens a standalone connection to a domain database
type Connector interface {
	Open(ctx context.Context, domain *models.Domain) (*tenant.Connection, error)
}

// Locker serializes work on a key across processes. The returned release
// function must be called when ok is true.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// WithWebhookStore enables webhook processing
func WithWebhookStore(events repository.WebhookEventRepository, domains repository.DomainRepository, connector Connector) Option {
	return func(s *Service) {
		s.events = events
		s.domains = domains
		s.connector = connector
	}
}

// WithLocker guards concurrent deliveries of the same webhook event
func WithLocker(l Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

// WebhookEvent is a verified gateway event
type WebhookEvent struct {
	ID           string
	Type         string
	Payload      []byte
	Subscription *Subscription
}

// ParseStripeWebhook verifies the Stripe-Signature header and decodes the event
func ParseStripeWebhook(payload []byte, signature, secret string) (*WebhookEvent, error) {
	if secret == "" {
		return nil, apperror.New(apperror.KindValidation, "webhook secret is not configured")
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, apperror.Wrap(err, apperror.KindValidation, "invalid webhook signature")
	}

	out := &WebhookEvent{ID: evt.ID, Type: string(evt.Type), Payload: payload}
	if strings.HasPrefix(out.Type, "customer.subscription.") && evt.Data != nil {
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, apperror.Wrap(err, apperror.KindValidation, "invalid subscription payload")
		}
		out.Subscription = toSubscription(&sub)
	}
	return out, nil
}

// HandleWebhookEvent records the event once and keeps package roles of
// tenant users in line with their subscription state. Events that were
// already processed are ignored.
func (s *Service) HandleWebhookEvent(ctx context.Context, evt *WebhookEvent) error {
	if s.events == nil {
		return apperror.New(apperror.KindFatal, "webhook processing is not configured")
	}
	if evt == nil || evt.ID == "" {
		return apperror.Validation(map[string]string{"id": "is required"})
	}

	if s.locker != nil {
		release, ok, err := s.locker.Lock(ctx, "webhook:"+ProviderStripe+":"+evt.ID, webhookLockTTL)
		if err != nil {
			fiberlog.Warnf("[Billing] Webhook lock for %s unavailable: %v", evt.ID, err)
		} else if !ok {
			fiberlog.Infof("[Billing] Webhook %s is being processed elsewhere", evt.ID)
			return nil
		} else {
			defer release()
		}
	}

	record := &models.BillingWebhookEvent{
		Provider:        ProviderStripe,
		ProviderEventID: evt.ID,
		EventType:       evt.Type,
		PayloadJSON:     string(evt.Payload),
	}
	if evt.Subscription != nil {
		if id, err := parseID(evt.Subscription.Metadata[MetaTenantID]); err == nil {
			record.DomainID = &id
		}
	}
	created, stored, err := s.events.CreateIfNotExists(record)
	if err != nil {
		return apperror.Fatal(err)
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		fiberlog.Infof("[Billing] Skipping duplicate webhook %s (%s)", evt.ID, evt.Type)
		return nil
	}

	procErr := s.processWebhook(ctx, evt)
	msg := ""
	if procErr != nil {
		msg = procErr.Error()
		fiberlog.Errorf("[Billing] Webhook %s (%s) failed: %v", evt.ID, evt.Type, procErr)
	}
	if err := s.events.MarkProcessed(stored.ID, msg); err != nil {
		fiberlog.Errorf("[Billing] Failed to mark webhook %s processed: %v", evt.ID, err)
	}
	return procErr
}

func (s *Service) processWebhook(ctx context.Context, evt *WebhookEvent) error {
	switch evt.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
	default:
		return nil
	}
	sub := evt.Subscription
	if sub == nil {
		return nil
	}

	domainID, err1 := parseID(sub.Metadata[MetaTenantID])
	packageID, err2 := parseID(sub.Metadata[MetaPackageID])
	userID, err3 := parseID(sub.Metadata[MetaUserID])
	if err1 != nil || err2 != nil || err3 != nil {
		// only subscriptions bound to a tenant user carry a role
		return nil
	}
	if s.domains == nil || s.connector == nil {
		return apperror.New(apperror.KindFatal, "tenant lookup is not configured")
	}

	domain, err := s.domains.GetByID(domainID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.NotFound("domain %d not found", domainID)
	}
	if err != nil {
		return apperror.Fatal(err)
	}
	conn, err := s.connector.Open(ctx, domain)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			fiberlog.Warnf("[Billing] Closing webhook connection to domain %d: %v", domainID, cerr)
		}
	}()

	status := sub.Status
	if evt.Type != EventSubscriptionDeleted {
		// deliveries can arrive out of order, the gateway has the last word
		status, err = s.currentStatus(ctx, sub.ID)
		if err != nil {
			return err
		}
		if status != sub.Status {
			fiberlog.Infof("[Billing] Webhook %s reports %s as %s, gateway has %s", evt.ID, sub.ID, sub.Status, status)
		}
	}

	if evt.Type == EventSubscriptionDeleted || !isEntitlingStatus(status) {
		return s.RemovePackageRole(ctx, conn, userID, packageID)
	}
	return s.AssignPackageRole(ctx, conn, userID, packageID)
}

// currentStatus reads the subscription status from the gateway. A
// subscription the gateway does not know has no status.
func (s *Service) currentStatus(ctx context.Context, subscriptionID string) (string, error) {
	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()

	sub, err := s.gateway.GetSubscription(gctx, subscriptionID)
	if apperror.IsKind(err, apperror.KindNotFound) {
		return "", nil
	}
	if err != nil {
		return "", asGatewayError("get subscription", err)
	}
	return sub.Status, nil
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint(id), nil
}
