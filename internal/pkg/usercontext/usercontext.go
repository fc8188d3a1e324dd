package usercontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/tenant"
)

// UserContext represents the complete user context for a request
type UserContext struct {
	UserID     uint   `json:"user_id"`
	Username   string `json:"username"`
	Role       string `json:"role"`
	IsLoggedIn bool   `json:"is_logged_in"`
	IsAdmin    bool   `json:"is_admin"`
	DomainID   uint   `json:"domain_id,omitempty"`
}

// Can reports whether the operator's role grants permission
func (u UserContext) Can(permission string) bool {
	return u.IsLoggedIn && models.RoleCan(u.Role, permission)
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return ctx
	}
	return UserContext{IsLoggedIn: false, IsAdmin: false}
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// IsAdmin checks if the current user is an admin
func IsAdmin(c *fiber.Ctx) bool {
	return GetUserContext(c).IsAdmin
}

// GetUserID returns the current user's ID, or 0 if not logged in
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}

// GetUsername returns the current user's username, or empty string if not logged in
func GetUsername(c *fiber.Ctx) string {
	return GetUserContext(c).Username
}

// SetConnection stores the active tenant connection for the request
func SetConnection(c *fiber.Ctx, conn *tenant.Connection) {
	c.Locals(KeyTenant, conn)
	uc := GetUserContext(c)
	uc.DomainID = conn.DomainID()
	c.Locals(KeyUserContext, uc)
}

// Connection returns the tenant connection resolved for the request
func Connection(c *fiber.Ctx) (*tenant.Connection, error) {
	if conn, ok := c.Locals(KeyTenant).(*tenant.Connection); ok && conn != nil {
		return conn, nil
	}
	return nil, apperror.ErrNoTenantSelected
}
