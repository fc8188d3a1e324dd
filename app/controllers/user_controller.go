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
	"github.com/ManuelReschke/TenantDesk/internal/pkg/usercontext"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/validation"
)

// UserController manages the operators of the admin panel
type UserController struct {
	users    repository.UserRepository
	recorder *audit.Recorder
}

func NewUserController(repos *repository.Repositories, recorder *audit.Recorder) *UserController {
	return &UserController{users: repos.User, recorder: recorder}
}

type userForm struct {
	Name     string `json:"name" form:"name"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	Role     string `json:"role" form:"role"`
}

func (f userForm) old() userForm {
	f.Password = ""
	return f
}

func (uc *UserController) save(user *models.User, form userForm, create bool) error {
	user.Name = strings.TrimSpace(form.Name)
	user.Email = strings.ToLower(strings.TrimSpace(form.Email))
	user.Role = strings.TrimSpace(form.Role)
	if user.Role == "" {
		user.Role = models.ROLE_MANAGER
	}

	fields := map[string]string{}
	if create || form.Password != "" {
		if len(form.Password) < 6 {
			fields["password"] = "must be at least 6 characters"
		} else if err := user.SetPassword(form.Password); err != nil {
			return apperror.Fatal(err)
		}
	}
	for k, v := range validation.Fields(user.Validate()) {
		if _, ok := fields[k]; !ok && k != "password" {
			fields[k] = v
		}
	}
	if user.Email != "" {
		taken, err := uc.users.EmailExists(user.Email, user.ID)
		if err != nil {
			return apperror.Fatal(err)
		}
		if taken {
			fields["email"] = "has already been taken"
		}
	}
	if len(fields) > 0 {
		return apperror.Validation(fields)
	}

	if create {
		return apperror.Fatal(uc.users.Create(user))
	}
	return apperror.Fatal(uc.users.Update(user))
}

func (uc *UserController) find(c *fiber.Ctx) (*models.User, error) {
	id, err := paramID(c, "id")
	if err != nil {
		return nil, apperror.NotFound("user not found")
	}
	user, err := uc.users.GetByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("user %d not found", id)
	}
	return user, apperror.Fatal(err)
}

// HandleIndex lists operators page by page
func (uc *UserController) HandleIndex(c *fiber.Ctx) error {
	p, offset := page(c)
	users, err := uc.users.List(offset, defaultPageSize)
	if err != nil {
		return respondError(c, apperror.Fatal(err), "/admin", nil)
	}
	total, err := uc.users.Count()
	if err != nil {
		return respondError(c, apperror.Fatal(err), "/admin", nil)
	}
	return render(c, "users.index", fiber.Map{"users": users, "page": p, "total": total, "per_page": defaultPageSize})
}

// HandleCreate shows the empty user form
func (uc *UserController) HandleCreate(c *fiber.Ctx) error {
	return render(c, "users.create", fiber.Map{"roles": []string{models.ROLE_ADMIN, models.ROLE_MANAGER}})
}

// HandleStore creates an operator
func (uc *UserController) HandleStore(c *fiber.Ctx) error {
	var form userForm
	if err := bind(c, &form); err != nil {
		return respondError(c, err, "/admin/users/create", nil)
	}
	user := &models.User{}
	if err := uc.save(user, form, true); err != nil {
		return respondError(c, err, "/admin/users/create", form.old())
	}

	uc.recorder.Record(requestContext(c), audit.Entry{
		Action:      models.ACTION_CREATE,
		Description: fmt.Sprintf("Created user %s", user.Email),
		ModelType:   "User",
		ModelID:     fmt.Sprint(user.ID),
		New:         user,
	})
	return respondSuccess(c, "User created successfully", "/admin/users", user)
}

// HandleEdit shows one operator
func (uc *UserController) HandleEdit(c *fiber.Ctx) error {
	user, err := uc.find(c)
	if err != nil {
		return respondError(c, err, "/admin/users", nil)
	}
	return render(c, "users.edit", fiber.Map{"user_record": user, "roles": []string{models.ROLE_ADMIN, models.ROLE_MANAGER}})
}

// HandleUpdate changes an operator. An empty password keeps the current one.
func (uc *UserController) HandleUpdate(c *fiber.Ctx) error {
	user, err := uc.find(c)
	if err != nil {
		return respondError(c, err, "/admin/users", nil)
	}
	back := fmt.Sprintf("/admin/users/%d/edit", user.ID)

	var form userForm
	if err := bind(c, &form); err != nil {
		return respondError(c, err, back, nil)
	}
	before := *user
	if err := uc.save(user, form, false); err != nil {
		return respondError(c, err, back, form.old())
	}

	uc.recorder.Record(requestContext(c), audit.Entry{
		Action:      models.ACTION_UPDATE,
		Description: fmt.Sprintf("Updated user %s", user.Email),
		ModelType:   "User",
		ModelID:     fmt.Sprint(user.ID),
		Old:         before,
		New:         user,
	})
	return respondSuccess(c, "User updated successfully", "/admin/users", user)
}

// HandleDelete removes an operator other than the current one
func (uc *UserController) HandleDelete(c *fiber.Ctx) error {
	user, err := uc.find(c)
	if err != nil {
		return respondError(c, err, "/admin/users", nil)
	}
	if user.ID == usercontext.GetUserID(c) {
		return respondError(c, apperror.Conflict("you cannot delete your own account"), "/admin/users", nil)
	}
	if err := uc.users.Delete(user.ID); err != nil {
		return respondError(c, apperror.Fatal(err), "/admin/users", nil)
	}

	uc.recorder.Record(requestContext(c), audit.Entry{
		Action:      models.ACTION_DELETE,
		Description: fmt.Sprintf("Deleted user %s", user.Email),
		ModelType:   "User",
		ModelID:     fmt.Sprint(user.ID),
		Old:         user,
	})
	return respondSuccess(c, "User deleted successfully", "/admin/users", nil)
}
