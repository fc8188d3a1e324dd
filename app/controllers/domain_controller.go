package controllers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"github.com/ManuelReschke/TenantDesk/app/repository"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/audit"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/session"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/tenant"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/usercontext"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/validation"
)

// DomainController manages the tenant registry and the operator's active domain
type DomainController struct {
	domains  repository.DomainRepository
	users    repository.UserRepository
	router   *tenant.Router
	recorder *audit.Recorder
}

func NewDomainController(repos *repository.Repositories, router *tenant.Router, recorder *audit.Recorder) *DomainController {
	return &DomainController{
		domains:  repos.Domain,
		users:    repos.User,
		router:   router,
		recorder: recorder,
	}
}

// domainForm is the operator payload for a domain. The password is only
// replaced when a new one is sent.
type domainForm struct {
	Name         string `json:"name" form:"name"`
	Hostname     string `json:"domain" form:"domain"`
	DBHost       string `json:"db_host" form:"db_host"`
	DBName       string `json:"db_name" form:"db_name"`
	DBUsername   string `json:"db_username" form:"db_username"`
	DBPassword   string `json:"db_password" form:"db_password"`
	IsActive     bool   `json:"is_active" form:"is_active"`
	Currency     string `json:"currency" form:"currency"`
	CountryCode  string `json:"country_code" form:"country_code"`
	LanguageCode string `json:"language_code" form:"language_code"`
}

func (f domainForm) apply(d *models.Domain) {
	d.Name = strings.TrimSpace(f.Name)
	d.Hostname = strings.ToLower(strings.TrimSpace(f.Hostname))
	d.DBHost = strings.TrimSpace(f.DBHost)
	d.DBName = strings.TrimSpace(f.DBName)
	d.DBUsername = strings.TrimSpace(f.DBUsername)
	if f.DBPassword != "" {
		d.DBPassword = f.DBPassword
	}
	d.IsActive = f.IsActive
	d.Currency = strings.ToUpper(strings.TrimSpace(f.Currency))
	if d.Currency == "" {
		d.Currency = "USD"
	}
	d.CountryCode = strings.ToUpper(strings.TrimSpace(f.CountryCode))
	d.LanguageCode = strings.TrimSpace(f.LanguageCode)
}

// old returns the form without the secret for refilling
func (f domainForm) old() domainForm {
	f.DBPassword = ""
	return f
}

func (dc *DomainController) validate(d *models.Domain) error {
	fields := validation.Fields(d.Validate())
	if fields == nil {
		fields = map[string]string{}
	}
	if d.Hostname != "" {
		taken, err := dc.domains.HostnameExists(d.Hostname, d.ID)
		if err != nil {
			return apperror.Fatal(err)
		}
		if taken {
			fields["domain"] = "has already been taken"
		}
	}
	if len(fields) > 0 {
		return apperror.Validation(fields)
	}
	return nil
}

func (dc *DomainController) find(c *fiber.Ctx) (*models.Domain, error) {
	id, err := paramID(c, "id")
	if err != nil {
		return nil, apperror.NotFound("domain not found")
	}
	domain, err := dc.domains.GetByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("domain %d not found", id)
	}
	if err != nil {
		return nil, apperror.Fatal(err)
	}
	return domain, nil
}

// HandleIndex lists all domains
func (dc *DomainController) HandleIndex(c *fiber.Ctx) error {
	domains, err := dc.domains.List()
	if err != nil {
		return respondError(c, apperror.Fatal(err), "/admin", nil)
	}
	return render(c, "domains.index", fiber.Map{"domains": domains})
}

// HandleCreate shows the empty domain form
func (dc *DomainController) HandleCreate(c *fiber.Ctx) error {
	return render(c, "domains.create", fiber.Map{"domain": domainForm{IsActive: true, Currency: "USD"}})
}

// HandleStore creates a domain
func (dc *DomainController) HandleStore(c *fiber.Ctx) error {
	var form domainForm
	if err := bind(c, &form); err != nil {
		return respondError(c, err, "/admin/domains/create", nil)
	}

	domain := &models.Domain{}
	form.apply(domain)
	if err := dc.validate(domain); err != nil {
		return respondError(c, err, "/admin/domains/create", form.old())
	}
	if err := dc.domains.Create(domain); err != nil {
		return respondError(c, apperror.Fatal(err), "/admin/domains/create", form.old())
	}

	id := domain.ID
	dc.recorder.Record(requestContext(c), audit.Entry{
		DomainID:    &id,
		Action:      models.ACTION_CREATE,
		Description: fmt.Sprintf("Created domain %s", domain.Name),
		ModelType:   "Domain",
		ModelID:     domain.TenantID(),
		New:         domain,
	})
	return respondSuccess(c, "Domain created successfully", "/admin/domains", domain)
}

// HandleEdit shows one domain
func (dc *DomainController) HandleEdit(c *fiber.Ctx) error {
	domain, err := dc.find(c)
	if err != nil {
		return respondError(c, err, "/admin/domains", nil)
	}
	return render(c, "domains.edit", fiber.Map{"domain": domain})
}

// HandleUpdate changes a domain. Sessions using the old connection
// parameters are released.
func (dc *DomainController) HandleUpdate(c *fiber.Ctx) error {
	domain, err := dc.find(c)
	if err != nil {
		return respondError(c, err, "/admin/domains", nil)
	}
	back := fmt.Sprintf("/admin/domains/%d/edit", domain.ID)

	var form domainForm
	if err := bind(c, &form); err != nil {
		return respondError(c, err, back, nil)
	}

	before := *domain
	form.apply(domain)
	if err := dc.validate(domain); err != nil {
		return respondError(c, err, back, form.old())
	}
	if err := dc.domains.Update(domain); err != nil {
		return respondError(c, apperror.Fatal(err), back, form.old())
	}
	if before.ConnectionFingerprint() != domain.ConnectionFingerprint() || !domain.IsActive {
		dc.router.ReleaseDomain(domain.ID)
	}

	id := domain.ID
	dc.recorder.Record(requestContext(c), audit.Entry{
		DomainID:    &id,
		Action:      models.ACTION_UPDATE,
		Description: fmt.Sprintf("Updated domain %s", domain.Name),
		ModelType:   "Domain",
		ModelID:     domain.TenantID(),
		Old:         before,
		New:         domain,
	})
	return respondSuccess(c, "Domain updated successfully", "/admin/domains", domain)
}

// HandleDelete removes a domain unless a user still works in it
func (dc *DomainController) HandleDelete(c *fiber.Ctx) error {
	domain, err := dc.find(c)
	if err != nil {
		return respondError(c, err, "/admin/domains", nil)
	}

	inUse, err := dc.users.CountByCurrentDomain(domain.ID)
	if err != nil {
		return respondError(c, apperror.Fatal(err), "/admin/domains", nil)
	}
	if inUse > 0 {
		return respondError(c, apperror.Conflict("domain %s is the current domain of %d user(s) and cannot be deleted", domain.Name, inUse), "/admin/domains", nil)
	}

	if err := dc.domains.Delete(domain.ID); err != nil {
		return respondError(c, apperror.Fatal(err), "/admin/domains", nil)
	}
	dc.router.ReleaseDomain(domain.ID)

	id := domain.ID
	dc.recorder.Record(requestContext(c), audit.Entry{
		DomainID:    &id,
		Action:      models.ACTION_DELETE,
		Description: fmt.Sprintf("Deleted domain %s", domain.Name),
		ModelType:   "Domain",
		ModelID:     domain.TenantID(),
		Old:         domain,
	})
	return respondSuccess(c, "Domain deleted successfully", "/admin/domains", nil)
}

// HandleSelect lists the domains an operator can switch to
func (dc *DomainController) HandleSelect(c *fiber.Ctx) error {
	domains, err := dc.domains.ListActive()
	if err != nil {
		return respondError(c, apperror.Fatal(err), "/admin", nil)
	}
	current, _ := session.GetDomainID(c)
	return render(c, "domains.select", fiber.Map{"domains": domains, "current_domain_id": current})
}

// HandleSet activates a domain for the operator's session
func (dc *DomainController) HandleSet(c *fiber.Ctx) error {
	domain, err := dc.find(c)
	if err != nil {
		return respondError(c, err, "/admin/domains/select", nil)
	}
	if !domain.IsActive {
		return respondError(c, apperror.Conflict("domain %s is not active", domain.Name), "/admin/domains/select", nil)
	}

	sid, err := session.ID(c)
	if err != nil {
		return respondError(c, apperror.Fatal(err), "/admin/domains/select", nil)
	}
	// Activation failures leave the session without a domain
	if _, err := dc.router.Activate(requestContext(c), sid, domain); err != nil {
		_ = session.ClearDomainID(c)
		return respondError(c, err, "/admin/domains/select", nil)
	}
	if err := session.SetDomainID(c, domain.ID); err != nil {
		dc.router.Release(sid)
		return respondError(c, apperror.Fatal(err), "/admin/domains/select", nil)
	}

	id := domain.ID
	if userID := usercontext.GetUserID(c); userID != 0 {
		if err := dc.users.SetCurrentDomain(userID, &id); err != nil {
			return respondError(c, apperror.Fatal(err), "/admin/domains/select", nil)
		}
	}
	return respondSuccess(c, fmt.Sprintf("Switched to domain %s", domain.Name), "/admin/packages", domain)
}
