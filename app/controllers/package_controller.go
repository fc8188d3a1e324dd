package controllers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/TenantDesk/internal/pkg/billing"
)

// PackageController manages the billing packages of the active domain
type PackageController struct {
	billing *billing.Service
}

func NewPackageController(svc *billing.Service) *PackageController {
	return &PackageController{billing: svc}
}

// HandleIndex lists the packages of the active domain
func (pc *PackageController) HandleIndex(c *fiber.Ctx) error {
	conn, err := tenantConnection(c)
	if err != nil {
		return respondError(c, err, "/admin", nil)
	}
	packages, err := pc.billing.ListPackages(requestContext(c), conn)
	if err != nil {
		return respondError(c, err, "/admin", nil)
	}
	return render(c, "packages.index", fiber.Map{"packages": packages, "domain": conn.Domain})
}

// HandleCreate returns what the package form needs
func (pc *PackageController) HandleCreate(c *fiber.Ctx) error {
	conn, err := tenantConnection(c)
	if err != nil {
		return respondError(c, err, "/admin/packages", nil)
	}
	permissions, err := pc.billing.ListPermissions(requestContext(c), conn)
	if err != nil {
		return respondError(c, err, "/admin/packages", nil)
	}
	return render(c, "packages.create", fiber.Map{
		"permissions":   permissions,
		"billing_types": []string{"monthly", "yearly", "unit"},
		"currency":      conn.Domain.Currency,
	})
}

// HandleStore creates a package and its gateway product
func (pc *PackageController) HandleStore(c *fiber.Ctx) error {
	var in billing.PackageInput
	if err := bind(c, &in); err != nil {
		return respondError(c, err, "/admin/packages/create", nil)
	}
	conn, err := tenantConnection(c)
	if err != nil {
		return respondError(c, err, "/admin/packages/create", in)
	}

	pkg, err := pc.billing.CreatePackage(requestContext(c), conn, in)
	if err != nil {
		return respondError(c, err, "/admin/packages/create", in)
	}
	return respondSuccess(c, fmt.Sprintf("Package %s created successfully", pkg.Name), "/admin/packages", pkg)
}

// HandleShow returns one package with features and role
func (pc *PackageController) HandleShow(c *fiber.Ctx) error {
	conn, err := tenantConnection(c)
	if err != nil {
		return respondError(c, err, "/admin/packages", nil)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err, "/admin/packages", nil)
	}
	pkg, err := pc.billing.GetPackage(requestContext(c), conn, id)
	if err != nil {
		return respondError(c, err, "/admin/packages", nil)
	}
	return render(c, "packages.show", fiber.Map{"package": pkg})
}

// HandleEdit returns one package together with the selectable permissions
func (pc *PackageController) HandleEdit(c *fiber.Ctx) error {
	conn, err := tenantConnection(c)
	if err != nil {
		return respondError(c, err, "/admin/packages", nil)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err, "/admin/packages", nil)
	}
	ctx := requestContext(c)
	pkg, err := pc.billing.GetPackage(ctx, conn, id)
	if err != nil {
		return respondError(c, err, "/admin/packages", nil)
	}
	permissions, err := pc.billing.ListPermissions(ctx, conn)
	if err != nil {
		return respondError(c, err, "/admin/packages", nil)
	}
	return render(c, "packages.edit", fiber.Map{"package": pkg, "permissions": permissions})
}

// HandleUpdate changes a package and its gateway product
func (pc *PackageController) HandleUpdate(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err, "/admin/packages", nil)
	}
	back := fmt.Sprintf("/admin/packages/%d/edit", id)

	var in billing.PackageInput
	if err := bind(c, &in); err != nil {
		return respondError(c, err, back, nil)
	}
	conn, err := tenantConnection(c)
	if err != nil {
		return respondError(c, err, back, in)
	}

	pkg, err := pc.billing.UpdatePackage(requestContext(c), conn, id, in)
	if err != nil {
		return respondError(c, err, back, in)
	}
	return respondSuccess(c, fmt.Sprintf("Package %s updated successfully", pkg.Name), "/admin/packages", pkg)
}

// HandleDelete archives the gateway product and removes the package
func (pc *PackageController) HandleDelete(c *fiber.Ctx) error {
	conn, err := tenantConnection(c)
	if err != nil {
		return respondError(c, err, "/admin/packages", nil)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err, "/admin/packages", nil)
	}
	if err := pc.billing.DeletePackage(requestContext(c), conn, id); err != nil {
		return respondError(c, err, "/admin/packages", nil)
	}
	return respondSuccess(c, "Package deleted successfully", "/admin/packages", nil)
}

type packageRoleForm struct {
	UserID uint `json:"user_id" form:"user_id"`
}

// HandleAssignRole grants the package role to a tenant user
func (pc *PackageController) HandleAssignRole(c *fiber.Ctx) error {
	return pc.changeRole(c, true)
}

// HandleRemoveRole revokes the package role from a tenant user
func (pc *PackageController) HandleRemoveRole(c *fiber.Ctx) error {
	return pc.changeRole(c, false)
}

func (pc *PackageController) changeRole(c *fiber.Ctx, assign bool) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err, "/admin/packages", nil)
	}
	back := fmt.Sprintf("/admin/packages/%d", id)

	var form packageRoleForm
	if err := bind(c, &form); err != nil {
		return respondError(c, err, back, nil)
	}
	conn, err := tenantConnection(c)
	if err != nil {
		return respondError(c, err, back, form)
	}

	ctx := requestContext(c)
	if assign {
		err = pc.billing.AssignPackageRole(ctx, conn, form.UserID, id)
	} else {
		err = pc.billing.RemovePackageRole(ctx, conn, form.UserID, id)
	}
	if err != nil {
		return respondError(c, err, back, form)
	}
	if assign {
		return respondSuccess(c, "Package role assigned", back, nil)
	}
	return respondSuccess(c, "Package role removed", back, nil)
}
