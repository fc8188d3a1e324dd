package billing

import (
	"context"
	"errors"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TenantDesk/app/repository"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/audit"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/metrics"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/monitoring"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/tenant"
)

// reportFatal hands unexpected coordinator failures to operational monitoring
var reportFatal = monitoring.CaptureError

// Service coordinates packages and subscribers across the tenant database
// and the billing gateway. Every tenant-scoped call takes the active
// connection explicitly.
type Service struct {
	gateway        Gateway
	audit          *audit.Recorder
	gatewayTimeout time.Duration
	newKey         func() string

	events    repository.WebhookEventRepository
	domains   repository.DomainRepository
	connector Connector
	locker    Locker
}

type Option func(*Service)

// WithGatewayTimeout bounds every gateway call made by the service
func WithGatewayTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.gatewayTimeout = d
		}
	}
}

// WithIdempotencyKeys replaces the generator of gateway idempotency keys
func WithIdempotencyKeys(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newKey = fn
		}
	}
}

// NewService creates a billing service
func NewService(gateway Gateway, recorder *audit.Recorder, opts ...Option) *Service {
	s := &Service{
		gateway:        gateway,
		audit:          recorder,
		gatewayTimeout: defaultGatewayTimeout,
		newKey:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// gatewayContext derives the deadline used for one gateway call
func (s *Service) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.gatewayTimeout)
}

func requireConnection(conn *tenant.Connection) error {
	if conn == nil || conn.DB == nil {
		return apperror.ErrNoTenantSelected
	}
	return nil
}

func domainRef(conn *tenant.Connection) *uint {
	id := conn.DomainID()
	return &id
}

// asGatewayError classifies any failure of a gateway call as a gateway error
func asGatewayError(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperror.IsKind(err, apperror.KindGateway) {
		return err
	}
	return apperror.Gateway(op, err)
}

// finish classifies err, counts the operation and reports fatal failures
func (s *Service) finish(op string, conn *tenant.Connection, err error) error {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) && !apperror.IsKind(err, apperror.KindNotFound) {
			err = apperror.Wrap(err, apperror.KindNotFound, "record not found")
		}
		err = apperror.Fatal(err)
		if apperror.KindOf(err) == apperror.KindFatal {
			extras := map[string]interface{}{"operation": op}
			if conn != nil {
				extras["domain_id"] = conn.DomainID()
			}
			fiberlog.Errorf("[Billing] %s failed: %v", op, err)
			reportFatal(err, "billing operation failed", extras)
		}
	}
	metrics.ObservePackageOperation(op, err)
	return err
}
