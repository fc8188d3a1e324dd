package repository

import (
	"github.com/ManuelReschke/TenantDesk/app/models"
	"gorm.io/gorm"
)

type domainRepository struct {
	db *gorm.DB
}

// NewDomainRepository creates a new domain repository instance
func NewDomainRepository(db *gorm.DB) DomainRepository {
	return &domainRepository{db: db}
}

func (r *domainRepository) Create(domain *models.Domain) error {
	return r.db.Create(domain).Error
}

func (r *domainRepository) GetByID(id uint) (*models.Domain, error) {
	var domain models.Domain
	if err := r.db.First(&domain, id).Error; err != nil {
		return nil, err
	}
	return &domain, nil
}

func (r *domainRepository) GetByHostname(hostname string) (*models.Domain, error) {
	var domain models.Domain
	if err := r.db.Where("domain = ?", hostname).First(&domain).Error; err != nil {
		return nil, err
	}
	return &domain, nil
}

func (r *domainRepository) HostnameExists(hostname string, excludeID uint) (bool, error) {
	var count int64
	q := r.db.Model(&models.Domain{}).Where("domain = ?", hostname)
	if excludeID > 0 {
		q = q.Where("id <> ?", excludeID)
	}
	err := q.Count(&count).Error
	return count > 0, err
}

func (r *domainRepository) Update(domain *models.Domain) error {
	return r.db.Save(domain).Error
}

func (r *domainRepository) Delete(id uint) error {
	return r.db.Delete(&models.Domain{}, id).Error
}

func (r *domainRepository) List() ([]models.Domain, error) {
	var domains []models.Domain
	err := r.db.Order("name ASC").Find(&domains).Error
	return domains, err
}

func (r *domainRepository) ListActive() ([]models.Domain, error) {
	var domains []models.Domain
	err := r.db.Where("is_active = ?", true).Order("name ASC").Find(&domains).Error
	return domains, err
}
