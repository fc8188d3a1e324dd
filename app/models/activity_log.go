package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	ACTION_CREATE = "create"
	ACTION_UPDATE = "update"
	ACTION_DELETE = "delete"
	ACTION_SELECT = "select"
	ACTION_CANCEL = "cancel"
)

// ErrActivityLogImmutable is returned when an existing entry would be changed
var ErrActivityLogImmutable = errors.New("activity log entries are append-only")

// ActivityLog is an append-only audit entry stored in the central database
type ActivityLog struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      *uint     `gorm:"index" json:"user_id"`
	DomainID    *uint     `gorm:"index" json:"domain_id"`
	Action      string    `gorm:"type:varchar(20);not null;index" json:"action"`
	Description string    `gorm:"type:text" json:"description"`
	ModelType   string    `gorm:"type:varchar(100)" json:"model_type"`
	ModelID     string    `gorm:"type:varchar(191)" json:"model_id"`
	OldValues   *string   `gorm:"type:json" json:"old_values,omitempty"`
	NewValues   *string   `gorm:"type:json" json:"new_values,omitempty"`
	IPAddress   string    `gorm:"type:varchar(45)" json:"ip_address"`
	UserAgent   string    `gorm:"type:text" json:"user_agent"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (ActivityLog) TableName() string {
	return "activity_logs"
}

func (l *ActivityLog) BeforeUpdate(tx *gorm.DB) error {
	return ErrActivityLogImmutable
}

func (l *ActivityLog) BeforeDelete(tx *gorm.DB) error {
	return ErrActivityLogImmutable
}
