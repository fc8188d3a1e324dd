package billing

import (
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/validation"
)

// FeatureInput is one feature row of the package form. ID is set for
// features that already exist.
type FeatureInput struct {
	ID         *uint  `json:"id" form:"id"`
	Name       string `json:"name" form:"name" validate:"required,max=255"`
	IsIncluded bool   `json:"included" form:"included"`
}

// PackageInput is the operator payload for creating or updating a package
type PackageInput struct {
	Name         string         `json:"name" form:"name" validate:"required,max=100"`
	Description  string         `json:"description" form:"description"`
	BillingType  string         `json:"billing_type" form:"billing_type"`
	MonthlyPrice *float64       `json:"monthly_price" form:"monthly_price"`
	YearlyPrice  *float64       `json:"yearly_price" form:"yearly_price"`
	UnitPrice    *float64       `json:"unit_price" form:"unit_price"`
	MaxQueries   *int           `json:"max_queries" form:"max_queries" validate:"omitempty,min=1"`
	IsPremium    bool           `json:"is_premium" form:"is_premium"`
	IsActive     bool           `json:"is_active" form:"is_active"`
	Features     []FeatureInput `json:"features" form:"features" validate:"dive"`
	Permissions  []uint         `json:"permissions" form:"permissions"`
	RoleName     string         `json:"role_name" form:"role_name" validate:"max=255"`
}

func (in *PackageInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.RoleName = strings.TrimSpace(in.RoleName)
	in.BillingType = strings.ToLower(strings.TrimSpace(in.BillingType))
	for i := range in.Features {
		in.Features[i].Name = strings.TrimSpace(in.Features[i].Name)
	}
	in.Permissions = uniqueIDs(in.Permissions)
}

// price returns the price field matching the billing type
func (in *PackageInput) price() *float64 {
	switch in.BillingType {
	case models.BILLING_TYPE_MONTHLY:
		return in.MonthlyPrice
	case models.BILLING_TYPE_YEARLY:
		return in.YearlyPrice
	case models.BILLING_TYPE_UNIT:
		return in.UnitPrice
	}
	return nil
}

// wantsRole reports whether the payload asks for a package role
func (in *PackageInput) wantsRole() bool {
	return in.RoleName != "" && len(in.Permissions) > 0
}

// validateForUpdate checks the fields an update may change
func (in *PackageInput) validateForUpdate() error {
	in.normalize()
	if fields := validation.Fields(validation.Struct(in)); len(fields) > 0 {
		return apperror.Validation(fields)
	}
	return nil
}

// validateForCreate additionally checks the billing type and its price
func (in *PackageInput) validateForCreate() error {
	err := in.validateForUpdate()
	fields := apperror.FieldsOf(err)
	if fields == nil {
		fields = map[string]string{}
	}

	switch in.BillingType {
	case models.BILLING_TYPE_MONTHLY, models.BILLING_TYPE_YEARLY, models.BILLING_TYPE_UNIT:
		key := in.BillingType + "_price"
		p := in.price()
		switch {
		case p == nil:
			fields[key] = "is required"
		case *p < 0:
			fields[key] = "must be at least 0"
		}
	case "":
		fields["billing_type"] = "is required"
	default:
		fields["billing_type"] = "must be one of monthly, yearly, unit"
	}

	if len(fields) > 0 {
		return apperror.Validation(fields)
	}
	return nil
}

// SubscriberProfile holds the billing profile fields kept by the gateway
type SubscriberProfile struct {
	CompanyName string `json:"company_name" form:"company_name" validate:"required,max=255"`
	Email       string `json:"email" form:"email" validate:"required,email,max=255"`
	Phone       string `json:"phone" form:"phone" validate:"max=50"`
	Address     string `json:"address" form:"address" validate:"max=255"`
	City        string `json:"city" form:"city" validate:"max=255"`
	PostalCode  string `json:"postal_code" form:"postal_code" validate:"max=20"`
	Country     string `json:"country" form:"country" validate:"omitempty,len=2"`
	TaxID       string `json:"tax_id" form:"tax_id" validate:"max=50"`
}

func (p *SubscriberProfile) normalize() {
	p.CompanyName = strings.TrimSpace(p.CompanyName)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.Phone = strings.TrimSpace(p.Phone)
	p.Address = strings.TrimSpace(p.Address)
	p.City = strings.TrimSpace(p.City)
	p.PostalCode = strings.TrimSpace(p.PostalCode)
	p.Country = strings.ToUpper(strings.TrimSpace(p.Country))
	p.TaxID = strings.TrimSpace(p.TaxID)
}

func (p *SubscriberProfile) validate() error {
	p.normalize()
	if fields := validation.Fields(validation.Struct(p)); len(fields) > 0 {
		return apperror.Validation(fields)
	}
	return nil
}

func (p *SubscriberProfile) customerInput(tenantID string, metadata map[string]string) CustomerInput {
	meta := map[string]string{MetaTenantID: tenantID}
	for k, v := range metadata {
		meta[k] = v
	}
	return CustomerInput{
		Name:  p.CompanyName,
		Email: p.Email,
		Phone: p.Phone,
		Address: Address{
			Line1:      p.Address,
			City:       p.City,
			PostalCode: p.PostalCode,
			Country:    p.Country,
		},
		TaxID:    p.TaxID,
		Metadata: meta,
	}
}

// SubscriberInput is the operator payload for a new subscriber
type SubscriberInput struct {
	SubscriberProfile
	PackageID         uint       `json:"package_id" form:"package_id" validate:"required"`
	BillingCycle      string     `json:"billing_cycle" form:"billing_cycle" validate:"required,oneof=monthly yearly unit"`
	Units             int        `json:"units" form:"units" validate:"gte=0"`
	SubscriptionStart *time.Time `json:"subscription_start" form:"subscription_start"`
}

func (in *SubscriberInput) validate() error {
	in.SubscriberProfile.normalize()
	in.BillingCycle = strings.ToLower(strings.TrimSpace(in.BillingCycle))

	fields := validation.Fields(validation.Struct(in))
	if fields == nil {
		fields = map[string]string{}
	}
	if in.BillingCycle == models.BILLING_TYPE_UNIT && in.Units < 1 {
		fields["units"] = "must be at least 1"
	}
	if in.SubscriptionStart != nil && in.BillingCycle == models.BILLING_TYPE_UNIT {
		fields["subscription_start"] = "is not supported for unit billing"
	}
	if len(fields) > 0 {
		return apperror.Validation(fields)
	}
	return nil
}

func uniqueIDs(ids []uint) []uint {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func formatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
