package models

import (
	"encoding/json"
	"time"
)

const (
	BILLING_TYPE_MONTHLY = "monthly"
	BILLING_TYPE_YEARLY  = "yearly"
	BILLING_TYPE_UNIT    = "unit"
)

// Package is a purchasable billing plan stored in a tenant database
type Package struct {
	ID                   uint             `gorm:"primaryKey" json:"id"`
	Name                 string           `gorm:"type:varchar(255);not null" json:"name"`
	Description          string           `gorm:"type:text" json:"description"`
	BillingType          string           `gorm:"type:varchar(20);not null;index" json:"billing_type"`
	MonthlyPrice         *float64         `gorm:"type:decimal(10,2)" json:"monthly_price,omitempty"`
	YearlyPrice          *float64         `gorm:"type:decimal(10,2)" json:"yearly_price,omitempty"`
	UnitPrice            *float64         `gorm:"type:decimal(10,2)" json:"unit_price,omitempty"`
	QueryLimit           *int             `json:"max_queries,omitempty"`
	IsPremium            bool             `gorm:"not null" json:"is_premium"`
	IsActive             bool             `gorm:"not null" json:"is_active"`
	FeaturesMetadata     *string          `gorm:"type:json" json:"features_metadata,omitempty"`
	StripeProductID      string           `gorm:"type:varchar(191);index" json:"stripe_product_id"`
	StripeMonthlyPriceID string           `gorm:"type:varchar(191)" json:"stripe_monthly_price_id,omitempty"`
	StripeYearlyPriceID  string           `gorm:"type:varchar(191)" json:"stripe_yearly_price_id,omitempty"`
	StripeUnitPriceID    string           `gorm:"type:varchar(191)" json:"stripe_unit_price_id,omitempty"`
	Features             []PackageFeature `gorm:"foreignKey:PackageID" json:"features"`
	CreatedAt            time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Package) TableName() string {
	return "packages"
}

// Price returns the price field that matches the billing type
func (p *Package) Price() float64 {
	var v *float64
	switch p.BillingType {
	case BILLING_TYPE_MONTHLY:
		v = p.MonthlyPrice
	case BILLING_TYPE_YEARLY:
		v = p.YearlyPrice
	case BILLING_TYPE_UNIT:
		v = p.UnitPrice
	}
	if v == nil {
		return 0
	}
	return *v
}

// PriceIDFor returns the gateway price id stored for a billing cycle
func (p *Package) PriceIDFor(cycle string) string {
	switch cycle {
	case BILLING_TYPE_MONTHLY:
		return p.StripeMonthlyPriceID
	case BILLING_TYPE_YEARLY:
		return p.StripeYearlyPriceID
	case BILLING_TYPE_UNIT:
		return p.StripeUnitPriceID
	}
	return ""
}

// SetPriceID stores the gateway price id for a billing cycle
func (p *Package) SetPriceID(cycle, priceID string) {
	switch cycle {
	case BILLING_TYPE_MONTHLY:
		p.StripeMonthlyPriceID = priceID
	case BILLING_TYPE_YEARLY:
		p.StripeYearlyPriceID = priceID
	case BILLING_TYPE_UNIT:
		p.StripeUnitPriceID = priceID
	}
}

// PriceIDs lists all stored gateway price ids
func (p *Package) PriceIDs() []string {
	ids := make([]string, 0, 3)
	for _, id := range []string{p.StripeMonthlyPriceID, p.StripeYearlyPriceID, p.StripeUnitPriceID} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// PackageFeature is a named capability listed under a package
type PackageFeature struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PackageID  uint      `gorm:"not null;index" json:"package_id"`
	Name       string    `gorm:"type:varchar(255);not null" json:"name"`
	IsIncluded bool      `gorm:"not null" json:"is_included"`
	SortOrder  int       `gorm:"not null" json:"order"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PackageFeature) TableName() string {
	return "package_features"
}

// FeatureSummary is the cached feature entry kept in the package metadata blob
type FeatureSummary struct {
	ID         uint   `json:"id"`
	Name       string `json:"name"`
	IsIncluded bool   `json:"is_included"`
	Order      int    `json:"order"`
}

// PackageMetadata is a denormalized cache of features and role. The
// package_features and package_roles tables are authoritative.
type PackageMetadata struct {
	Features      []FeatureSummary `json:"features"`
	RoleID        *uint            `json:"role_id,omitempty"`
	RoleName      string           `json:"role_name,omitempty"`
	PermissionIDs []uint           `json:"permission_ids,omitempty"`
}

// Encode returns the JSON form stored in packages.features_metadata
func (m PackageMetadata) Encode() (*string, error) {
	if m.Features == nil {
		m.Features = []FeatureSummary{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// DecodeMetadata parses the cached metadata blob, returning an empty value for nil
func (p *Package) DecodeMetadata() (PackageMetadata, error) {
	var m PackageMetadata
	if p.FeaturesMetadata == nil || *p.FeaturesMetadata == "" {
		return m, nil
	}
	err := json.Unmarshal([]byte(*p.FeaturesMetadata), &m)
	return m, err
}
