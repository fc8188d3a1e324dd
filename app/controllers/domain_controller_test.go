package controllers

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	fibersession "github.com/gofiber/fiber/v2/middleware/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"github.com/ManuelReschke/TenantDesk/app/repository"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/audit"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/middleware"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/session"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/tenant"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/usercontext"
)

const sessionCookie = "session_id"

// adminFixture is a central database with one operator, an active and an
// inactive domain, and a tenant database for the active one
type adminFixture struct {
	central  *gorm.DB
	repos    *repository.Repositories
	router   *tenant.Router
	recorder *audit.Recorder
	user     models.User
	app      *fiber.App
}

func openTestDB(t *testing.T, path string, migrate ...interface{}) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(migrate...))
	return db
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	dir := t.TempDir()

	central := openTestDB(t, filepath.Join(dir, "central.db"), models.CentralModels()...)
	for _, d := range []models.Domain{
		{ID: 1, Name: "Acme", Hostname: "acme.example.com", DBHost: "localhost", DBName: "acme", DBUsername: "acme", Currency: "EUR", IsActive: true},
		{ID: 2, Name: "Dormant", Hostname: "dormant.example.com", DBHost: "localhost", DBName: "dormant", DBUsername: "dormant", IsActive: false},
	} {
		require.NoError(t, central.Create(&d).Error)
	}
	user := models.User{Name: "Operator", Email: "ops@example.com", Password: "x", Role: models.ROLE_ADMIN}
	require.NoError(t, central.Create(&user).Error)

	tenantDB := openTestDB(t, filepath.Join(dir, "acme.db"), models.TenantModels()...)
	sqlDB, err := tenantDB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	sessionStore(t)

	repos := repository.NewRepositories(central)
	recorder := audit.NewRecorder(repos.ActivityLog)
	router := tenant.NewRouter(tenant.SQLiteOpener(dir), tenant.WithObserver(recorder.DomainSelected))
	t.Cleanup(router.Close)

	f := &adminFixture{central: central, repos: repos, router: router, recorder: recorder, user: user}
	f.app = fiber.New()
	f.app.Use(func(c *fiber.Ctx) error {
		c.Locals(usercontext.KeyUserContext, usercontext.UserContext{
			UserID:     user.ID,
			Username:   user.Name,
			Role:       user.Role,
			IsLoggedIn: true,
			IsAdmin:    true,
		})
		return c.Next()
	})
	dc := NewDomainController(repos, router, recorder)
	f.app.Post("/admin/domains/:id/set", dc.HandleSet)
	return f
}

// sessionStore installs an in-memory session store for the test
func sessionStore(t *testing.T) {
	t.Helper()
	session.UseStore(fibersession.New())
	t.Cleanup(func() { session.UseStore(nil) })
}

func send(t *testing.T, app *fiber.App, req *http.Request, cookies ...*http.Cookie) *http.Response {
	t.Helper()
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func cookieNamed(cookies []*http.Cookie, name string) *http.Cookie {
	for _, ck := range cookies {
		if ck.Name == name {
			return ck
		}
	}
	return nil
}

// selectDomain switches a new session to domain id and returns its cookie
func (f *adminFixture) selectDomain(t *testing.T, id string) *http.Cookie {
	t.Helper()
	resp := send(t, f.app, httptest.NewRequest(fiber.MethodPost, "/admin/domains/"+id+"/set", nil))
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/admin/packages", resp.Header.Get(fiber.HeaderLocation))
	ck := cookieNamed(resp.Cookies(), sessionCookie)
	require.NotNil(t, ck)
	return ck
}

func TestHandleSetActivatesDomain(t *testing.T) {
	f := newAdminFixture(t)
	ck := f.selectDomain(t, "1")

	conn, err := f.router.Current(ck.Value)
	require.NoError(t, err)
	assert.Equal(t, "Acme", conn.Domain.Name)

	var stored models.User
	require.NoError(t, f.central.First(&stored, f.user.ID).Error)
	require.NotNil(t, stored.CurrentDomainID)
	assert.Equal(t, uint(1), *stored.CurrentDomainID)

	var logs []models.ActivityLog
	require.NoError(t, f.central.Where("action = ?", models.ACTION_SELECT).Find(&logs).Error)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].DomainID)
	assert.Equal(t, uint(1), *logs[0].DomainID)
	require.NotNil(t, logs[0].UserID)
	assert.Equal(t, f.user.ID, *logs[0].UserID)
}

func TestHandleSetRejectsInactiveDomain(t *testing.T) {
	f := newAdminFixture(t)

	req := httptest.NewRequest(fiber.MethodPost, "/admin/domains/2/set", nil)
	req.Header.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	resp := send(t, f.app, req)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(apperror.KindConflict), decodeBody(t, resp.Body)["code"])

	resp = send(t, f.app, httptest.NewRequest(fiber.MethodPost, "/admin/domains/9/set", nil))
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, middleware.DomainSelectPath, resp.Header.Get(fiber.HeaderLocation))

	var stored models.User
	require.NoError(t, f.central.First(&stored, f.user.ID).Error)
	assert.Nil(t, stored.CurrentDomainID)
}

func TestStartSessionReleasesPreviousConnection(t *testing.T) {
	f := newAdminFixture(t)
	f.app.Post("/login", func(c *fiber.Ctx) error {
		if err := startSession(c, &f.user, f.router); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	before := f.selectDomain(t, "1")
	_, err := f.router.Current(before.Value)
	require.NoError(t, err)

	resp := send(t, f.app, httptest.NewRequest(fiber.MethodPost, "/login", nil), before)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	after := cookieNamed(resp.Cookies(), sessionCookie)
	require.NotNil(t, after)
	assert.NotEqual(t, before.Value, after.Value)

	_, err = f.router.Current(before.Value)
	assert.ErrorIs(t, err, apperror.ErrNoTenantSelected)
}
