package repository

import (
	"time"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for operator user database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	EmailExists(email string, excludeID uint) (bool, error)
	Update(user *models.User) error
	Delete(id uint) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
	CountByCurrentDomain(domainID uint) (int64, error)
	SetCurrentDomain(userID uint, domainID *uint) error
	TouchLastLogin(userID uint) error
}

// DomainRepository defines the interface for tenant registry operations
type DomainRepository interface {
	Create(domain *models.Domain) error
	GetByID(id uint) (*models.Domain, error)
	GetByHostname(hostname string) (*models.Domain, error)
	HostnameExists(hostname string, excludeID uint) (bool, error)
	Update(domain *models.Domain) error
	Delete(id uint) error
	List() ([]models.Domain, error)
	ListActive() ([]models.Domain, error)
}

// ActivityLogRepository defines append and read operations for audit entries
type ActivityLogRepository interface {
	Create(entry *models.ActivityLog) error
	ListByDomain(domainID uint, offset, limit int) ([]models.ActivityLog, error)
	CountByDomain(domainID uint) (int64, error)
	ListRange(domainID *uint, from, to time.Time) ([]models.ActivityLog, error)
}

// WebhookEventRepository persists billing webhook events idempotently
type WebhookEventRepository interface {
	CreateIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	User         UserRepository
	Domain       DomainRepository
	ActivityLog  ActivityLogRepository
	WebhookEvent WebhookEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Domain:       NewDomainRepository(db),
		ActivityLog:  NewActivityLogRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
	}
}
