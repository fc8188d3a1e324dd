package models

import (
	"time"

	"gorm.io/gorm"
)

// Role is an authorization grant in a tenant database
type Role struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(125);not null;uniqueIndex" json:"name"`
	GuardName string    `gorm:"type:varchar(125);not null" json:"guard_name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Role) TableName() string {
	return "roles"
}

type Permission struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(125);not null;uniqueIndex" json:"name"`
	GuardName string    `gorm:"type:varchar(125);not null" json:"guard_name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Permission) TableName() string {
	return "permissions"
}

type RolePermission struct {
	RoleID       uint `gorm:"primaryKey;autoIncrement:false" json:"role_id"`
	PermissionID uint `gorm:"primaryKey;autoIncrement:false" json:"permission_id"`
}

func (RolePermission) TableName() string {
	return "role_permissions"
}

// PackageRole binds at most one role to a package
type PackageRole struct {
	PackageID uint `gorm:"primaryKey;autoIncrement:false" json:"package_id"`
	RoleID    uint `gorm:"not null;index" json:"role_id"`
}

func (PackageRole) TableName() string {
	return "package_roles"
}

// UserRole grants a role to a tenant user
type UserRole struct {
	UserID uint `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	RoleID uint `gorm:"primaryKey;autoIncrement:false" json:"role_id"`
}

func (UserRole) TableName() string {
	return "user_roles"
}

const GUARD_WEB = "web"

// CentralModels lists the tables of the central application database
func CentralModels() []interface{} {
	return []interface{}{
		&User{},
		&Domain{},
		&ActivityLog{},
		&BillingWebhookEvent{},
	}
}

// TenantModels lists the tables of every tenant database
func TenantModels() []interface{} {
	return []interface{}{
		&Package{},
		&PackageFeature{},
		&Role{},
		&Permission{},
		&RolePermission{},
		&PackageRole{},
		&UserRole{},
	}
}

// SeedPermissions makes sure every operator permission exists in a tenant
// database. The SQL migrations insert the same rows.
func SeedPermissions(db *gorm.DB) error {
	for _, name := range AllPermissions() {
		p := Permission{Name: name, GuardName: GUARD_WEB}
		if err := db.Where(Permission{Name: name}).FirstOrCreate(&p).Error; err != nil {
			return err
		}
	}
	return nil
}
