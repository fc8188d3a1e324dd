package billing

import (
	"context"
	"errors"
	"fmt"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/audit"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/tenant"
)

func roleNameTaken() error {
	return apperror.Validation(map[string]string{"role_name": "has already been taken"})
}

// syncPackageRole creates, renames or removes the package role so that it
// matches the payload. It returns the resulting role, or nil without one.
func syncPackageRole(repo Repository, packageID uint, currentRoleID *uint, in PackageInput) (*models.Role, error) {
	if !in.wantsRole() {
		if currentRoleID != nil {
			if err := repo.DeleteRole(*currentRoleID); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	var role *models.Role
	if currentRoleID != nil {
		existing, err := repo.FindRole(*currentRoleID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		role = existing
	}

	if other, err := repo.FindRoleByName(in.RoleName); err == nil {
		if role == nil || other.ID != role.ID {
			return nil, roleNameTaken()
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if role == nil {
		role = &models.Role{Name: in.RoleName, GuardName: models.GUARD_WEB}
		if err := repo.CreateRole(role); err != nil {
			return nil, err
		}
	} else if role.Name != in.RoleName {
		role.Name = in.RoleName
		if err := repo.SaveRole(role); err != nil {
			return nil, err
		}
	}

	if err := repo.ReplaceRolePermissions(role.ID, in.Permissions); err != nil {
		return nil, err
	}
	if err := repo.SetPackageRole(packageID, role.ID); err != nil {
		return nil, err
	}
	return role, nil
}

// AssignPackageRole grants the package role to a tenant user. Packages
// without a role grant nothing.
func (s *Service) AssignPackageRole(ctx context.Context, conn *tenant.Connection, userID, packageID uint) error {
	return s.changeUserRole(ctx, conn, userID, packageID, true)
}

// RemovePackageRole revokes the package role from a tenant user
func (s *Service) RemovePackageRole(ctx context.Context, conn *tenant.Connection, userID, packageID uint) error {
	return s.changeUserRole(ctx, conn, userID, packageID, false)
}

func (s *Service) changeUserRole(ctx context.Context, conn *tenant.Connection, userID, packageID uint, grant bool) error {
	if err := requireConnection(conn); err != nil {
		return err
	}
	if userID == 0 {
		return apperror.Validation(map[string]string{"user_id": "is required"})
	}
	repo := NewRepository(conn.DB.WithContext(ctx))

	if _, err := repo.FindPackage(packageID); errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.NotFound("package %d not found", packageID)
	} else if err != nil {
		return apperror.Fatal(err)
	}
	roleID, err := repo.PackageRoleID(packageID)
	if err != nil {
		return apperror.Fatal(err)
	}
	if roleID == nil {
		return nil
	}

	has, err := repo.UserHasRole(userID, *roleID)
	if err != nil {
		return apperror.Fatal(err)
	}
	if has == grant {
		return nil
	}

	action, verb := models.ACTION_CREATE, "Granted"
	if grant {
		err = repo.AssignUserRole(userID, *roleID)
	} else {
		action, verb = models.ACTION_DELETE, "Revoked"
		err = repo.RemoveUserRole(userID, *roleID)
	}
	if err != nil {
		return apperror.Fatal(err)
	}

	fiberlog.Infof("[Billing] %s role %d of package %d for user %d in domain %d", verb, *roleID, packageID, userID, conn.DomainID())
	entry := audit.Entry{
		DomainID:    domainRef(conn),
		Action:      action,
		Description: fmt.Sprintf("%s package %d role for user %d", verb, packageID, userID),
		ModelType:   "UserRole",
		ModelID:     fmt.Sprintf("%d:%d", userID, *roleID),
	}
	if grant {
		entry.New = models.UserRole{UserID: userID, RoleID: *roleID}
	} else {
		entry.Old = models.UserRole{UserID: userID, RoleID: *roleID}
	}
	s.audit.Record(ctx, entry)
	return nil
}
