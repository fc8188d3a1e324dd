package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"github.com/ManuelReschke/TenantDesk/app/repository"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/flash"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/session"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/tenant"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/usercontext"
)

// AuthController logs operators in and out
type AuthController struct {
	users  repository.UserRepository
	router *tenant.Router
}

func NewAuthController(repos *repository.Repositories, router *tenant.Router) *AuthController {
	return &AuthController{users: repos.User, router: router}
}

type loginForm struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// HandleLogin shows the login page and checks submitted credentials
func (ac *AuthController) HandleLogin(c *fiber.Ctx) error {
	if c.Method() != fiber.MethodPost {
		if usercontext.IsLoggedIn(c) {
			return c.Redirect("/admin", fiber.StatusSeeOther)
		}
		return render(c, "auth.login", nil)
	}

	var form loginForm
	if err := bind(c, &form); err != nil {
		return respondError(c, err, "/login", nil)
	}
	form.Email = strings.ToLower(strings.TrimSpace(form.Email))

	// do not tell which of the two was wrong
	failed := apperror.New(apperror.KindValidation, "There is a problem with the login process")
	user, err := ac.users.GetByEmail(form.Email)
	if err != nil || !user.CheckPassword(form.Password) {
		return respondError(c, failed, "/login", loginForm{Email: form.Email})
	}

	if err := startSession(c, user, ac.router); err != nil {
		return respondError(c, apperror.Fatal(err), "/login", nil)
	}
	if err := ac.users.TouchLastLogin(user.ID); err != nil {
		fiberlog.Warnf("[Auth] Could not update last login of user %d: %v", user.ID, err)
	}
	return respondSuccess(c, "Welcome back, "+user.Name, "/admin", nil)
}

// startSession stores the operator on a fresh session and restores the
// domain the operator worked in last. The connection of the previous
// session id is released.
func startSession(c *fiber.Ctx, user *models.User, router *tenant.Router) error {
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return err
	}
	if router != nil {
		router.Release(sess.ID())
	}
	if err := sess.Regenerate(); err != nil {
		return err
	}
	sess.Set(usercontext.AuthKey, true)
	sess.Set(usercontext.KeyUserID, user.ID)
	sess.Set(usercontext.KeyUsername, user.Name)
	sess.Set(usercontext.KeyRole, user.Role)
	if user.CurrentDomainID != nil {
		sess.Set(session.KeyDomainID, strconvUint(*user.CurrentDomainID))
	}
	return sess.Save()
}

// HandleLogout ends the session and releases its tenant connection
func (ac *AuthController) HandleLogout(c *fiber.Ctx) error {
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return flash.Error(c, "logged out (no session)", nil, nil).Redirect("/login", fiber.StatusSeeOther)
	}
	ac.router.Release(sess.ID())

	if err := sess.Destroy(); err != nil {
		return respondError(c, apperror.Fatal(err), "/login", nil)
	}
	c.Locals(usercontext.KeyFromProtected, false)
	return respondSuccess(c, "Bye bye!", "/login", nil)
}
