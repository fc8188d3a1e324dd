package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	gothfiber "github.com/shareed2k/goth_fiber"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TenantDesk/app/repository"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/tenant"
)

// OAuthController signs operators in through an external identity provider
type OAuthController struct {
	users  repository.UserRepository
	router *tenant.Router
}

func NewOAuthController(repos *repository.Repositories, router *tenant.Router) *OAuthController {
	return &OAuthController{users: repos.User, router: router}
}

// HandleBegin redirects to the provider named in the route
func (oc *OAuthController) HandleBegin(c *fiber.Ctx) error {
	return gothfiber.BeginAuthHandler(c)
}

// HandleCallback completes the provider flow. Only operators whose email
// is already registered are let in; accounts are never created here.
func (oc *OAuthController) HandleCallback(c *fiber.Ctx) error {
	u, err := gothfiber.CompleteUserAuth(c)
	if err != nil {
		fiberlog.Warnf("[OAuth] Provider flow failed: %v", err)
		return respondError(c, apperror.New(apperror.KindValidation, "Sign in with the provider failed"), "/login", nil)
	}

	email := strings.ToLower(strings.TrimSpace(u.Email))
	if email == "" {
		return respondError(c, apperror.New(apperror.KindValidation, "The provider did not share an email address"), "/login", nil)
	}
	user, err := oc.users.GetByEmail(email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return respondError(c, apperror.New(apperror.KindValidation, "No operator account exists for "+email), "/login", nil)
	}
	if err != nil {
		return respondError(c, apperror.Fatal(err), "/login", nil)
	}

	if err := startSession(c, user, oc.router); err != nil {
		return respondError(c, apperror.Fatal(err), "/login", nil)
	}
	if err := oc.users.TouchLastLogin(user.ID); err != nil {
		fiberlog.Warnf("[OAuth] Could not update last login of user %d: %v", user.ID, err)
	}
	return respondSuccess(c, "Welcome back, "+user.Name, "/admin", nil)
}
