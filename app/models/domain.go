package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/TenantDesk/internal/pkg/validation"
)

// Domain is a tenant with its own dedicated database
type Domain struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"type:varchar(255);not null" json:"name" validate:"required,max=255"`
	Hostname     string    `gorm:"column:domain;type:varchar(255);not null;uniqueIndex" json:"domain" validate:"required,max=255,hostname_rfc1123"`
	DBHost       string    `gorm:"column:db_host;type:varchar(255);not null" form:"db_host" json:"-" validate:"required,max=255"`
	DBName       string    `gorm:"column:db_name;type:varchar(255);not null" form:"db_name" json:"-" validate:"required,max=255"`
	DBUsername   string    `gorm:"column:db_username;type:varchar(255);not null" form:"db_username" json:"-" validate:"required,max=255"`
	DBPassword   string    `gorm:"column:db_password;type:varchar(255)" form:"db_password" json:"-" validate:"max=255"`
	IsActive     bool      `gorm:"not null" json:"is_active"`
	Currency     string    `gorm:"type:varchar(3);default:'USD'" json:"currency" validate:"omitempty,max=3"`
	CountryCode  string    `gorm:"type:varchar(2)" json:"country_code" validate:"omitempty,len=2"`
	LanguageCode string    `gorm:"type:varchar(5)" json:"language_code" validate:"omitempty,max=5"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Domain) TableName() string {
	return "domains"
}

func (d *Domain) Validate() error {
	return validation.Struct(d)
}

// TenantID is the identifier written into billing gateway metadata
func (d *Domain) TenantID() string {
	return strconv.FormatUint(uint64(d.ID), 10)
}

// GatewayCurrency returns the lowercase ISO currency used for gateway amounts
func (d *Domain) GatewayCurrency() string {
	c := strings.ToLower(strings.TrimSpace(d.Currency))
	if c == "" {
		return "usd"
	}
	return c
}

// ConnectionFingerprint changes whenever any connection parameter changes
func (d *Domain) ConnectionFingerprint() string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		d.DBHost, d.DBName, d.DBUsername, d.DBPassword,
	}, "\x00")))
	return hex.EncodeToString(sum[:])
}

// HasConnectionParams reports whether the minimum connection parameters are set
func (d *Domain) HasConnectionParams() bool {
	return strings.TrimSpace(d.DBHost) != "" &&
		strings.TrimSpace(d.DBName) != "" &&
		strings.TrimSpace(d.DBUsername) != ""
}
