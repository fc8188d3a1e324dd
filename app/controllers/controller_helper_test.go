package controllers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/flash"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/middleware"
)

func TestStatusFor(t *testing.T) {
	cases := map[apperror.Kind]int{
		apperror.KindValidation:       fiber.StatusUnprocessableEntity,
		apperror.KindNotFound:         fiber.StatusNotFound,
		apperror.KindConflict:         fiber.StatusConflict,
		apperror.KindNoTenantSelected: fiber.StatusConflict,
		apperror.KindConnection:       fiber.StatusConflict,
		apperror.KindGateway:          fiber.StatusBadGateway,
		apperror.KindFatal:            fiber.StatusInternalServerError,
	}
	for kind, want := range cases {
		t.Run(string(kind), func(t *testing.T) {
			assert.Equal(t, want, statusFor(kind))
		})
	}
}

func TestMessageFor(t *testing.T) {
	assert.Equal(t, "Something went wrong, please try again", messageFor(errors.New("dial tcp: refused")))
	assert.Equal(t, "Please correct the highlighted fields", messageFor(apperror.Validation(map[string]string{"name": "is required"})))
	assert.Equal(t, "Sign in failed", messageFor(apperror.New(apperror.KindValidation, "Sign in failed")))
	assert.Equal(t, "package 3 not found", messageFor(apperror.NotFound("package %d not found", 3)))
	assert.Contains(t, messageFor(apperror.Gateway("create product", errors.New("card declined"))), "card declined")
}

func errorApp(err error) *fiber.App {
	app := fiber.New()
	app.Post("/thing", func(c *fiber.Ctx) error {
		return respondError(c, err, "/things/create", nil)
	})
	return app
}

func decodeBody(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func TestRespondErrorJSON(t *testing.T) {
	app := errorApp(apperror.Validation(map[string]string{"name": "is required"}))
	req := httptest.NewRequest(fiber.MethodPost, "/thing", nil)
	req.Header.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, string(apperror.KindValidation), body["code"])
	assert.Equal(t, map[string]any{"name": "is required"}, body["fields"])
	assert.Nil(t, body["redirect"])
}

func TestRespondErrorNoTenantJSON(t *testing.T) {
	app := errorApp(apperror.ErrNoTenantSelected)
	req := httptest.NewRequest(fiber.MethodPost, "/thing", strings.NewReader(`{}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, middleware.DomainSelectPath, decodeBody(t, resp.Body)["redirect"])
}

func TestRespondErrorFormRedirects(t *testing.T) {
	t.Run("back to the form", func(t *testing.T) {
		resp, err := errorApp(apperror.Conflict("in use")).Test(httptest.NewRequest(fiber.MethodPost, "/thing", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/things/create", resp.Header.Get(fiber.HeaderLocation))
	})
	t.Run("to the domain selection", func(t *testing.T) {
		resp, err := errorApp(apperror.ErrNoTenantSelected).Test(httptest.NewRequest(fiber.MethodPost, "/thing", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, middleware.DomainSelectPath, resp.Header.Get(fiber.HeaderLocation))
	})
}

func TestRespondSuccessJSONCreated(t *testing.T) {
	app := fiber.New()
	app.Post("/thing", func(c *fiber.Ctx) error {
		return respondSuccess(c, "Created", "/things", fiber.Map{"id": 7})
	})
	req := httptest.NewRequest(fiber.MethodPost, "/thing", nil)
	req.Header.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	body := decodeBody(t, resp.Body)
	assert.Equal(t, "Created", body["message"])
	assert.Equal(t, "/things", body["redirect"])
}

func TestBind(t *testing.T) {
	type form struct {
		Name string `json:"name" form:"name"`
	}
	app := fiber.New()
	app.Post("/bind", func(c *fiber.Ctx) error {
		var f form
		if err := bind(c, &f); err != nil {
			return c.Status(statusFor(apperror.KindOf(err))).SendString(err.Error())
		}
		return c.SendString(f.Name)
	})

	req := httptest.NewRequest(fiber.MethodPost, "/bind", strings.NewReader(`{"name":"Pro"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "Pro", string(raw))

	resp, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/bind", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(fiber.MethodPost, "/bind", strings.NewReader(`{"name":`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
}

func TestDateParam(t *testing.T) {
	d, err := dateParam("2026-10-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), d)

	_, err = dateParam("01.10.2026")
	assert.Error(t, err)
}

type checkboxForm struct {
	Name     string `form:"name"`
	Included bool   `form:"included"`
}

func checkboxApp() *fiber.App {
	RegisterFormDecoders()
	app := fiber.New()
	app.Post("/packages", func(c *fiber.Ctx) error {
		var f checkboxForm
		if err := bind(c, &f); err != nil {
			return respondError(c, err, "/packages/create", nil)
		}
		return c.JSON(f)
	})
	app.Get("/packages/create", func(c *fiber.Ctx) error {
		return render(c, "packages.create", nil)
	})
	return app
}

func postForm(body string) *http.Request {
	req := httptest.NewRequest(fiber.MethodPost, "/packages", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
	return req
}

func TestBindAcceptsCheckboxValues(t *testing.T) {
	app := checkboxApp()
	for value, want := range map[string]bool{"on": true, "1": true, "true": true, "off": false, "": false} {
		resp, err := app.Test(postForm("name=Pro&included=" + value))
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode, value)

		var got checkboxForm
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Equal(t, want, got.Included, value)
		assert.Equal(t, "Pro", got.Name)
	}
}

func TestUnparsableFormKeepsRawInput(t *testing.T) {
	app := checkboxApp()

	resp, err := app.Test(postForm("name=Pro&included=maybe&password=secret"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/packages/create", resp.Header.Get(fiber.HeaderLocation))

	req := httptest.NewRequest(fiber.MethodGet, "/packages/create", nil)
	for _, ck := range resp.Cookies() {
		req.AddCookie(ck)
	}
	resp, err = app.Test(req)
	require.NoError(t, err)

	var page struct {
		Flash flash.Message `json:"flash"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	assert.Equal(t, "error", page.Flash.Type)
	assert.Equal(t, "could not be parsed", page.Flash.Fields["body"])
	assert.Equal(t, "Pro", page.Flash.Old["name"])
	assert.Equal(t, "maybe", page.Flash.Old["included"])
	assert.NotContains(t, page.Flash.Old, "password")
}
