package billing

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/TenantDesk/app/models"
)

// Repository provides the tenant database operations used by the billing service.
type Repository interface {
	ListPackages() ([]models.Package, error)
	ListActivePackages() ([]models.Package, error)
	FindPackage(id uint) (*models.Package, error)
	FindPackageByPriceID(priceID string) (*models.Package, error)
	CreatePackage(pkg *models.Package) error
	SavePackage(pkg *models.Package) error
	DeletePackage(id uint) error

	CreateFeature(feature *models.PackageFeature) error
	SaveFeature(feature *models.PackageFeature) error
	DeleteFeatures(packageID uint, keepIDs []uint) error

	ListPermissions() ([]models.Permission, error)
	FindPermissions(ids []uint) ([]models.Permission, error)
	PermissionIDs(roleID uint) ([]uint, error)

	FindRole(id uint) (*models.Role, error)
	FindRoleByName(name string) (*models.Role, error)
	CreateRole(role *models.Role) error
	SaveRole(role *models.Role) error
	DeleteRole(roleID uint) error
	ReplaceRolePermissions(roleID uint, permissionIDs []uint) error

	PackageRoleID(packageID uint) (*uint, error)
	SetPackageRole(packageID, roleID uint) error
	DeletePackageRole(packageID uint) error

	AssignUserRole(userID, roleID uint) error
	RemoveUserRole(userID, roleID uint) error
	UserHasRole(userID, roleID uint) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a tenant billing repository backed by GORM. Pass a
// transaction handle to scope every call to that transaction.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func orderedFeatures(db *gorm.DB) *gorm.DB {
	return db.Order("sort_order ASC, id ASC")
}

func (r *gormRepository) ListPackages() ([]models.Package, error) {
	var pkgs []models.Package
	err := r.db.Preload("Features", orderedFeatures).Order("id ASC").Find(&pkgs).Error
	return pkgs, err
}

func (r *gormRepository) ListActivePackages() ([]models.Package, error) {
	var pkgs []models.Package
	err := r.db.Preload("Features", orderedFeatures).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&pkgs).Error
	return pkgs, err
}

func (r *gormRepository) FindPackage(id uint) (*models.Package, error) {
	var pkg models.Package
	if err := r.db.Preload("Features", orderedFeatures).First(&pkg, id).Error; err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (r *gormRepository) FindPackageByPriceID(priceID string) (*models.Package, error) {
	var pkg models.Package
	err := r.db.Where("stripe_monthly_price_id = ? OR stripe_yearly_price_id = ? OR stripe_unit_price_id = ?", priceID, priceID, priceID).
		First(&pkg).Error
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (r *gormRepository) CreatePackage(pkg *models.Package) error {
	return r.db.Omit(clause.Associations).Create(pkg).Error
}

func (r *gormRepository) SavePackage(pkg *models.Package) error {
	return r.db.Omit(clause.Associations).Save(pkg).Error
}

func (r *gormRepository) DeletePackage(id uint) error {
	res := r.db.Delete(&models.Package{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormRepository) CreateFeature(feature *models.PackageFeature) error {
	return r.db.Create(feature).Error
}

func (r *gormRepository) SaveFeature(feature *models.PackageFeature) error {
	return r.db.Save(feature).Error
}

// DeleteFeatures removes the package's features whose id is not in keepIDs
func (r *gormRepository) DeleteFeatures(packageID uint, keepIDs []uint) error {
	q := r.db.Where("package_id = ?", packageID)
	if len(keepIDs) > 0 {
		q = q.Where("id NOT IN ?", keepIDs)
	}
	return q.Delete(&models.PackageFeature{}).Error
}

func (r *gormRepository) ListPermissions() ([]models.Permission, error) {
	var perms []models.Permission
	err := r.db.Order("name ASC").Find(&perms).Error
	return perms, err
}

func (r *gormRepository) FindPermissions(ids []uint) ([]models.Permission, error) {
	var perms []models.Permission
	if len(ids) == 0 {
		return perms, nil
	}
	err := r.db.Where("id IN ?", ids).Order("id ASC").Find(&perms).Error
	return perms, err
}

func (r *gormRepository) PermissionIDs(roleID uint) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.RolePermission{}).
		Where("role_id = ?", roleID).
		Order("permission_id ASC").
		Pluck("permission_id", &ids).Error
	return ids, err
}

func (r *gormRepository) FindRole(id uint) (*models.Role, error) {
	var role models.Role
	if err := r.db.First(&role, id).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *gormRepository) FindRoleByName(name string) (*models.Role, error) {
	var role models.Role
	if err := r.db.Where("name = ?", name).First(&role).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *gormRepository) CreateRole(role *models.Role) error {
	return r.db.Create(role).Error
}

func (r *gormRepository) SaveRole(role *models.Role) error {
	return r.db.Save(role).Error
}

// DeleteRole removes the role together with every join row referencing it
func (r *gormRepository) DeleteRole(roleID uint) error {
	if err := r.db.Where("role_id = ?", roleID).Delete(&models.RolePermission{}).Error; err != nil {
		return err
	}
	if err := r.db.Where("role_id = ?", roleID).Delete(&models.UserRole{}).Error; err != nil {
		return err
	}
	if err := r.db.Where("role_id = ?", roleID).Delete(&models.PackageRole{}).Error; err != nil {
		return err
	}
	return r.db.Delete(&models.Role{}, roleID).Error
}

func (r *gormRepository) ReplaceRolePermissions(roleID uint, permissionIDs []uint) error {
	if err := r.db.Where("role_id = ?", roleID).Delete(&models.RolePermission{}).Error; err != nil {
		return err
	}
	if len(permissionIDs) == 0 {
		return nil
	}
	rows := make([]models.RolePermission, 0, len(permissionIDs))
	for _, id := range permissionIDs {
		rows = append(rows, models.RolePermission{RoleID: roleID, PermissionID: id})
	}
	return r.db.Create(&rows).Error
}

func (r *gormRepository) PackageRoleID(packageID uint) (*uint, error) {
	var pr models.PackageRole
	err := r.db.Where("package_id = ?", packageID).First(&pr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pr.RoleID, nil
}

func (r *gormRepository) SetPackageRole(packageID, roleID uint) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "package_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role_id"}),
	}).Create(&models.PackageRole{PackageID: packageID, RoleID: roleID}).Error
}

func (r *gormRepository) DeletePackageRole(packageID uint) error {
	return r.db.Where("package_id = ?", packageID).Delete(&models.PackageRole{}).Error
}

func (r *gormRepository) AssignUserRole(userID, roleID uint) error {
	return r.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.UserRole{UserID: userID, RoleID: roleID}).Error
}

func (r *gormRepository) RemoveUserRole(userID, roleID uint) error {
	return r.db.Where("user_id = ? AND role_id = ?", userID, roleID).Delete(&models.UserRole{}).Error
}

func (r *gormRepository) UserHasRole(userID, roleID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.UserRole{}).
		Where("user_id = ? AND role_id = ?", userID, roleID).
		Count(&count).Error
	return count > 0, err
}
