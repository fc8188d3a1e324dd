package repository

import (
	"time"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"gorm.io/gorm"
)

type activityLogRepository struct {
	db *gorm.DB
}

// NewActivityLogRepository creates a new activity log repository instance
func NewActivityLogRepository(db *gorm.DB) ActivityLogRepository {
	return &activityLogRepository{db: db}
}

// Create appends an entry. Entries are never updated or deleted.
func (r *activityLogRepository) Create(entry *models.ActivityLog) error {
	return r.db.Create(entry).Error
}

func (r *activityLogRepository) ListByDomain(domainID uint, offset, limit int) ([]models.ActivityLog, error) {
	var entries []models.ActivityLog
	err := r.db.Where("domain_id = ?", domainID).
		Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&entries).Error
	return entries, err
}

func (r *activityLogRepository) CountByDomain(domainID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.ActivityLog{}).Where("domain_id = ?", domainID).Count(&count).Error
	return count, err
}

// ListRange returns entries in [from, to) in chronological order, optionally limited to one domain
func (r *activityLogRepository) ListRange(domainID *uint, from, to time.Time) ([]models.ActivityLog, error) {
	var entries []models.ActivityLog
	q := r.db.Where("created_at >= ? AND created_at < ?", from, to)
	if domainID != nil {
		q = q.Where("domain_id = ?", *domainID)
	}
	err := q.Order("created_at ASC, id ASC").Find(&entries).Error
	return entries, err
}
