package models

import (
	"time"

	"github.com/ManuelReschke/TenantDesk/internal/pkg/validation"
	"golang.org/x/crypto/bcrypt"
)

const (
	ROLE_ADMIN   = "admin"
	ROLE_MANAGER = "manager"
)

const (
	PERMISSION_MANAGE_DOMAINS     = "manage domains"
	PERMISSION_MANAGE_PACKAGES    = "manage packages"
	PERMISSION_MANAGE_SUBSCRIBERS = "manage subscribers"
	PERMISSION_MANAGE_USERS       = "manage users"
	PERMISSION_VIEW_REPORTS       = "view reports"
	PERMISSION_VIEW_LOGS          = "view logs"
)

var rolePermissions = map[string][]string{
	ROLE_ADMIN: {
		PERMISSION_MANAGE_DOMAINS,
		PERMISSION_MANAGE_PACKAGES,
		PERMISSION_MANAGE_SUBSCRIBERS,
		PERMISSION_MANAGE_USERS,
		PERMISSION_VIEW_REPORTS,
		PERMISSION_VIEW_LOGS,
	},
	ROLE_MANAGER: {
		PERMISSION_MANAGE_PACKAGES,
		PERMISSION_MANAGE_SUBSCRIBERS,
		PERMISSION_VIEW_REPORTS,
		PERMISSION_VIEW_LOGS,
	},
}

// User is an operator of the admin panel
type User struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Name            string     `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email           string     `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Password        string     `gorm:"type:text" json:"-" validate:"required,min=6"`
	Role            string     `gorm:"type:varchar(50);default:'manager'" json:"role" validate:"oneof=admin manager"`
	CurrentDomainID *uint      `gorm:"index" json:"current_domain_id"`
	LastLoginAt     *time.Time `gorm:"type:timestamp;default:null" json:"last_login_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) Validate() error {
	return validation.Struct(u)
}

func CreateUser(name string, email string, password string, role string) (*User, error) {
	pw, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Name:     name,
		Email:    email,
		Password: pw,
		Role:     role,
	}

	err = u.Validate()
	if err != nil {
		return nil, err
	}

	return u, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

	return string(bytes), err
}

// CheckPasswordHash compares the given password with the stored hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	return err == nil
}

// CheckPassword verifies if the provided password matches the user's stored password
func (u *User) CheckPassword(password string) bool {
	return CheckPasswordHash(password, u.Password)
}

// SetPassword hashes and sets a new password for the user
func (u *User) SetPassword(password string) error {
	hashedPassword, err := HashPassword(password)
	if err != nil {
		return err
	}
	u.Password = hashedPassword
	return nil
}

// IsAdmin reports whether the operator has the admin role
func (u *User) IsAdmin() bool {
	return u.Role == ROLE_ADMIN
}

// Can reports whether the operator role grants the permission
func (u *User) Can(permission string) bool {
	return RoleCan(u.Role, permission)
}

// AllPermissions lists every permission an operator role can hold
func AllPermissions() []string {
	return []string{
		PERMISSION_MANAGE_DOMAINS,
		PERMISSION_MANAGE_PACKAGES,
		PERMISSION_MANAGE_SUBSCRIBERS,
		PERMISSION_MANAGE_USERS,
		PERMISSION_VIEW_REPORTS,
		PERMISSION_VIEW_LOGS,
	}
}

// RoleCan reports whether role grants permission
func RoleCan(role, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}
