package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/audit"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/tenant"
)

const modelTypePackage = "Package"

// PackageDetails is a package together with its role binding
type PackageDetails struct {
	models.Package
	RoleID        *uint  `json:"role_id,omitempty"`
	RoleName      string `json:"role_name,omitempty"`
	PermissionIDs []uint `json:"permission_ids"`
}

// ListPackages returns all packages of the active domain
func (s *Service) ListPackages(ctx context.Context, conn *tenant.Connection) ([]models.Package, error) {
	if err := requireConnection(conn); err != nil {
		return nil, err
	}
	pkgs, err := NewRepository(conn.DB.WithContext(ctx)).ListPackages()
	if err != nil {
		return nil, apperror.Fatal(err)
	}
	return pkgs, nil
}

// GetPackage loads a package with its features and role
func (s *Service) GetPackage(ctx context.Context, conn *tenant.Connection, id uint) (*PackageDetails, error) {
	if err := requireConnection(conn); err != nil {
		return nil, err
	}
	return loadDetails(NewRepository(conn.DB.WithContext(ctx)), id)
}

// ListPermissions returns the permissions a package role may be granted
func (s *Service) ListPermissions(ctx context.Context, conn *tenant.Connection) ([]models.Permission, error) {
	if err := requireConnection(conn); err != nil {
		return nil, err
	}
	perms, err := NewRepository(conn.DB.WithContext(ctx)).ListPermissions()
	if err != nil {
		return nil, apperror.Fatal(err)
	}
	return perms, nil
}

// CreatePackage stores a package with its features and optional role, then
// mirrors it as a gateway product. Nothing is kept when the gateway fails,
// and the product is archived again when the local write fails after it.
func (s *Service) CreatePackage(ctx context.Context, conn *tenant.Connection, in PackageInput) (*PackageDetails, error) {
	if err := requireConnection(conn); err != nil {
		return nil, err
	}
	if err := in.validateForCreate(); err != nil {
		return nil, err
	}
	db := conn.DB.WithContext(ctx)
	if err := checkPermissions(NewRepository(db), in.Permissions); err != nil {
		return nil, err
	}

	var created *PackageDetails
	var productID string
	err := db.Transaction(func(tx *gorm.DB) error {
		repo := NewRepository(tx)

		pkg := &models.Package{
			Name:        in.Name,
			Description: in.Description,
			BillingType: in.BillingType,
			IsPremium:   in.IsPremium,
			IsActive:    in.IsActive,
		}
		switch in.BillingType {
		case models.BILLING_TYPE_MONTHLY:
			pkg.MonthlyPrice = in.MonthlyPrice
		case models.BILLING_TYPE_YEARLY:
			pkg.YearlyPrice = in.YearlyPrice
		case models.BILLING_TYPE_UNIT:
			pkg.UnitPrice = in.UnitPrice
		}
		if in.BillingType != models.BILLING_TYPE_UNIT {
			pkg.QueryLimit = in.MaxQueries
		}
		if err := repo.CreatePackage(pkg); err != nil {
			return err
		}

		role, err := syncPackageRole(repo, pkg.ID, nil, in)
		if err != nil {
			return err
		}

		for i, f := range in.Features {
			feature := &models.PackageFeature{
				PackageID:  pkg.ID,
				Name:       f.Name,
				IsIncluded: f.IsIncluded,
				SortOrder:  i,
			}
			if err := repo.CreateFeature(feature); err != nil {
				return err
			}
			pkg.Features = append(pkg.Features, *feature)
		}

		details := newDetails(pkg, role, in.Permissions)
		if err := cacheMetadata(details); err != nil {
			return err
		}
		pkg = &details.Package

		key := s.newKey()
		gctx, cancel := s.gatewayContext(ctx)
		defer cancel()
		result, err := s.gateway.CreateProduct(gctx, ProductSpec{
			Name:           pkg.Name,
			Description:    pkg.Description,
			BillingType:    pkg.BillingType,
			Amount:         ToMinorUnits(pkg.Price()),
			Currency:       conn.Domain.GatewayCurrency(),
			Metadata:       productMetadata(ctx, conn, pkg),
			IdempotencyKey: key,
		})
		if err != nil {
			return asGatewayError("create product", err)
		}

		productID = result.ProductID
		pkg.StripeProductID = result.ProductID
		for cycle, priceID := range result.Prices {
			pkg.SetPriceID(cycle, priceID)
		}
		if err := repo.SavePackage(pkg); err != nil {
			return err
		}
		created = details
		return nil
	})
	if err != nil {
		if productID != "" {
			s.revertProduct(ctx, conn, "archive product "+productID, func(gctx context.Context) error {
				return s.gateway.ArchiveProduct(gctx, productID)
			})
		}
		return nil, s.finish("create", conn, err)
	}

	fiberlog.Infof("[Billing] Created package %d (%s) for domain %d as product %s",
		created.ID, created.Name, conn.DomainID(), created.StripeProductID)
	s.audit.Record(ctx, audit.Entry{
		DomainID:    domainRef(conn),
		Action:      models.ACTION_CREATE,
		Description: fmt.Sprintf("Created package %q", created.Name),
		ModelType:   modelTypePackage,
		ModelID:     formatID(created.ID),
		New:         created,
	})
	return created, s.finish("create", conn, nil)
}

// UpdatePackage changes the mutable package fields, reconciles features and
// the role, then pushes the change to the gateway product. The previous
// product fields are pushed back when the local write fails afterwards.
// Billing type and prices are fixed after creation.
func (s *Service) UpdatePackage(ctx context.Context, conn *tenant.Connection, id uint, in PackageInput) (*PackageDetails, error) {
	if err := requireConnection(conn); err != nil {
		return nil, err
	}
	if err := in.validateForUpdate(); err != nil {
		return nil, err
	}
	db := conn.DB.WithContext(ctx)
	if err := checkPermissions(NewRepository(db), in.Permissions); err != nil {
		return nil, err
	}

	var before, after *PackageDetails
	pushed := false
	err := db.Transaction(func(tx *gorm.DB) error {
		repo := NewRepository(tx)

		current, err := loadDetails(repo, id)
		if err != nil {
			return err
		}
		before = current.clone()
		pkg := &current.Package

		pkg.Name = in.Name
		pkg.Description = in.Description
		pkg.IsPremium = in.IsPremium
		pkg.IsActive = in.IsActive
		if pkg.BillingType == models.BILLING_TYPE_UNIT {
			pkg.QueryLimit = nil
		} else {
			pkg.QueryLimit = in.MaxQueries
		}

		features, err := reconcileFeatures(repo, pkg, in.Features)
		if err != nil {
			return err
		}
		pkg.Features = features

		role, err := syncPackageRole(repo, pkg.ID, current.RoleID, in)
		if err != nil {
			return err
		}

		var permissionIDs []uint
		if role != nil {
			permissionIDs = in.Permissions
		}
		after = newDetails(pkg, role, permissionIDs)
		if err := cacheMetadata(after); err != nil {
			return err
		}

		if after.StripeProductID == "" {
			fiberlog.Warnf("[Billing] Package %d of domain %d has no gateway product, skipping sync", pkg.ID, conn.DomainID())
		} else {
			gctx, cancel := s.gatewayContext(ctx)
			defer cancel()
			err = s.gateway.UpdateProduct(gctx, after.StripeProductID, productUpdate(ctx, conn, &after.Package))
			if err != nil {
				return asGatewayError("update product", err)
			}
			pushed = true
		}
		return repo.SavePackage(&after.Package)
	})
	if err != nil {
		if pushed {
			s.revertProduct(ctx, conn, "restore product "+before.StripeProductID, func(gctx context.Context) error {
				return s.gateway.UpdateProduct(gctx, before.StripeProductID, productUpdate(ctx, conn, &before.Package))
			})
		}
		return nil, s.finish("update", conn, err)
	}

	s.audit.Record(ctx, audit.Entry{
		DomainID:    domainRef(conn),
		Action:      models.ACTION_UPDATE,
		Description: fmt.Sprintf("Updated package %q", after.Name),
		ModelType:   modelTypePackage,
		ModelID:     formatID(after.ID),
		Old:         before,
		New:         after,
	})
	return after, s.finish("update", conn, nil)
}

// DeletePackage removes a package nobody is subscribed to and archives its
// gateway product. The gateway product is never hard deleted, and it is
// restored when the package cannot be removed after archiving.
func (s *Service) DeletePackage(ctx context.Context, conn *tenant.Connection, id uint) error {
	if err := requireConnection(conn); err != nil {
		return err
	}
	db := conn.DB.WithContext(ctx)

	existing, err := loadDetails(NewRepository(db), id)
	if err != nil {
		return s.finish("delete", conn, err)
	}
	inUse, err := s.hasActiveSubscribers(ctx, &existing.Package)
	if err != nil {
		return s.finish("delete", conn, err)
	}
	if inUse {
		return s.finish("delete", conn,
			apperror.Conflict("package %q has active subscribers and cannot be deleted", existing.Name))
	}

	var before *PackageDetails
	archived := false
	err = db.Transaction(func(tx *gorm.DB) error {
		repo := NewRepository(tx)

		current, err := loadDetails(repo, id)
		if err != nil {
			return err
		}
		before = current

		if current.RoleID != nil {
			if err := repo.DeleteRole(*current.RoleID); err != nil {
				return err
			}
		}
		if err := repo.DeletePackageRole(id); err != nil {
			return err
		}
		if err := repo.DeleteFeatures(id, nil); err != nil {
			return err
		}

		if current.StripeProductID != "" {
			gctx, cancel := s.gatewayContext(ctx)
			defer cancel()
			if err := s.gateway.ArchiveProduct(gctx, current.StripeProductID); err != nil {
				return asGatewayError("archive product", err)
			}
			archived = true
		}
		return repo.DeletePackage(id)
	})
	if err != nil {
		if archived {
			s.revertProduct(ctx, conn, "reactivate product "+before.StripeProductID, func(gctx context.Context) error {
				return s.gateway.UpdateProduct(gctx, before.StripeProductID, productUpdate(ctx, conn, &before.Package))
			})
		}
		return s.finish("delete", conn, err)
	}

	fiberlog.Infof("[Billing] Deleted package %d of domain %d, archived product %s",
		id, conn.DomainID(), before.StripeProductID)
	s.audit.Record(ctx, audit.Entry{
		DomainID:    domainRef(conn),
		Action:      models.ACTION_DELETE,
		Description: fmt.Sprintf("Deleted package %q", before.Name),
		ModelType:   modelTypePackage,
		ModelID:     formatID(id),
		Old:         before,
	})
	return s.finish("delete", conn, nil)
}

// hasActiveSubscribers asks the gateway whether any entitling subscription
// still uses one of the package prices
func (s *Service) hasActiveSubscribers(ctx context.Context, pkg *models.Package) (bool, error) {
	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()
	for _, priceID := range pkg.PriceIDs() {
		subs, err := s.gateway.ListSubscriptions(gctx, SubscriptionFilter{PriceID: priceID})
		if err != nil {
			return false, asGatewayError("list subscriptions", err)
		}
		for _, sub := range subs {
			if isEntitlingStatus(sub.Status) {
				return true, nil
			}
		}
	}
	return false, nil
}

func loadDetails(repo Repository, id uint) (*PackageDetails, error) {
	pkg, err := repo.FindPackage(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("package %d not found", id)
	}
	if err != nil {
		return nil, apperror.Fatal(err)
	}

	roleID, err := repo.PackageRoleID(id)
	if err != nil {
		return nil, apperror.Fatal(err)
	}
	var role *models.Role
	var permissionIDs []uint
	if roleID != nil {
		if role, err = repo.FindRole(*roleID); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.Fatal(err)
		}
		if role != nil {
			if permissionIDs, err = repo.PermissionIDs(role.ID); err != nil {
				return nil, apperror.Fatal(err)
			}
		}
	}
	return newDetails(pkg, role, permissionIDs), nil
}

func newDetails(pkg *models.Package, role *models.Role, permissionIDs []uint) *PackageDetails {
	d := &PackageDetails{Package: *pkg, PermissionIDs: []uint{}}
	if d.Features == nil {
		d.Features = []models.PackageFeature{}
	}
	if role != nil {
		id := role.ID
		d.RoleID = &id
		d.RoleName = role.Name
		d.PermissionIDs = append(d.PermissionIDs, permissionIDs...)
	}
	return d
}

func (d *PackageDetails) clone() *PackageDetails {
	c := *d
	c.Features = append([]models.PackageFeature{}, d.Features...)
	c.PermissionIDs = append([]uint{}, d.PermissionIDs...)
	if d.QueryLimit != nil {
		v := *d.QueryLimit
		c.QueryLimit = &v
	}
	if d.FeaturesMetadata != nil {
		v := *d.FeaturesMetadata
		c.FeaturesMetadata = &v
	}
	return &c
}

// reconcileFeatures updates payload features with a known id in place,
// inserts the rest and deletes stored features missing from the payload
func reconcileFeatures(repo Repository, pkg *models.Package, inputs []FeatureInput) ([]models.PackageFeature, error) {
	existing := make(map[uint]models.PackageFeature, len(pkg.Features))
	for _, f := range pkg.Features {
		existing[f.ID] = f
	}

	out := make([]models.PackageFeature, 0, len(inputs))
	keep := make([]uint, 0, len(inputs))
	for i, in := range inputs {
		if in.ID != nil {
			if f, ok := existing[*in.ID]; ok {
				f.Name = in.Name
				f.IsIncluded = in.IsIncluded
				f.SortOrder = i
				if err := repo.SaveFeature(&f); err != nil {
					return nil, err
				}
				delete(existing, f.ID)
				keep = append(keep, f.ID)
				out = append(out, f)
				continue
			}
		}
		f := models.PackageFeature{
			PackageID:  pkg.ID,
			Name:       in.Name,
			IsIncluded: in.IsIncluded,
			SortOrder:  i,
		}
		if err := repo.CreateFeature(&f); err != nil {
			return nil, err
		}
		keep = append(keep, f.ID)
		out = append(out, f)
	}

	if err := repo.DeleteFeatures(pkg.ID, keep); err != nil {
		return nil, err
	}
	return out, nil
}

// checkPermissions rejects permission ids that do not exist
func checkPermissions(repo Repository, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	perms, err := repo.FindPermissions(ids)
	if err != nil {
		return apperror.Fatal(err)
	}
	if len(perms) != len(ids) {
		return apperror.Validation(map[string]string{"permissions": "contains unknown permissions"})
	}
	return nil
}

// cacheMetadata refreshes the denormalized features_metadata blob
func cacheMetadata(d *PackageDetails) error {
	meta := models.PackageMetadata{
		Features:      make([]models.FeatureSummary, 0, len(d.Features)),
		RoleID:        d.RoleID,
		RoleName:      d.RoleName,
		PermissionIDs: d.PermissionIDs,
	}
	for _, f := range d.Features {
		meta.Features = append(meta.Features, models.FeatureSummary{
			ID:         f.ID,
			Name:       f.Name,
			IsIncluded: f.IsIncluded,
			Order:      f.SortOrder,
		})
	}
	encoded, err := meta.Encode()
	if err != nil {
		return err
	}
	d.FeaturesMetadata = encoded
	return nil
}

func productMetadata(ctx context.Context, conn *tenant.Connection, pkg *models.Package) map[string]string {
	meta := map[string]string{
		MetaTenantID:    conn.Domain.TenantID(),
		MetaPackageID:   formatID(pkg.ID),
		MetaBillingType: pkg.BillingType,
		MetaPremium:     strconv.FormatBool(pkg.IsPremium),
	}
	if actor := audit.OriginFrom(ctx).ActorID; actor != nil {
		meta[MetaCreatedBy] = formatID(*actor)
	}
	return meta
}

func productUpdate(ctx context.Context, conn *tenant.Connection, pkg *models.Package) ProductUpdate {
	return ProductUpdate{
		Name:        pkg.Name,
		Description: pkg.Description,
		Active:      pkg.IsActive,
		Metadata:    productMetadata(ctx, conn, pkg),
	}
}

// revertProduct undoes a gateway change whose local write failed. It runs
// detached from the request so a cancelled request still cleans up.
func (s *Service) revertProduct(ctx context.Context, conn *tenant.Connection, op string, fn func(context.Context) error) {
	gctx, cancel := s.gatewayContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := fn(gctx); err != nil {
		fiberlog.Errorf("[Billing] Failed to %s after failed local write: %v", op, err)
		reportFatal(err, "billing product out of sync", map[string]interface{}{
			"operation": op,
			"domain_id": conn.DomainID(),
		})
		return
	}
	fiberlog.Warnf("[Billing] Reverted gateway change after failed local write: %s", op)
}
