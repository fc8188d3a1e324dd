package controllers

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/flash"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/middleware"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/tenant"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/usercontext"
)

const defaultPageSize = 25

// statusFor maps an error kind to the HTTP status of JSON responses
func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindValidation:
		return fiber.StatusUnprocessableEntity
	case apperror.KindNotFound:
		return fiber.StatusNotFound
	case apperror.KindConflict:
		return fiber.StatusConflict
	case apperror.KindNoTenantSelected, apperror.KindConnection:
		return fiber.StatusConflict
	case apperror.KindGateway:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// messageFor is the operator facing text of an error. Unexpected errors
// never leak their details.
func messageFor(err error) string {
	kind := apperror.KindOf(err)
	switch kind {
	case apperror.KindFatal:
		return "Something went wrong, please try again"
	case apperror.KindValidation:
		if len(apperror.FieldsOf(err)) > 0 {
			return "Please correct the highlighted fields"
		}
	case apperror.KindGateway:
		return err.Error()
	}
	var ae *apperror.Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}

// respondError reports a failed operation. Form submissions are redirected
// back with the error, the field messages and the submitted input. Without a
// parsed input the raw form values are kept. A missing tenant always leads
// to the domain selection.
func respondError(c *fiber.Ctx, err error, back string, old any) error {
	kind := apperror.KindOf(err)
	if kind == apperror.KindFatal {
		fiberlog.Errorf("[HTTP] %s %s failed: %v", c.Method(), c.Path(), err)
	}

	if middleware.WantsJSON(c) {
		body := fiber.Map{"code": kind, "message": messageFor(err)}
		if fields := apperror.FieldsOf(err); len(fields) > 0 {
			body["fields"] = fields
		}
		if kind == apperror.KindNoTenantSelected || kind == apperror.KindConnection {
			body["redirect"] = middleware.DomainSelectPath
		}
		return c.Status(statusFor(kind)).JSON(body)
	}

	if kind == apperror.KindNoTenantSelected || kind == apperror.KindConnection {
		return flash.Warning(c, messageFor(err)).Redirect(middleware.DomainSelectPath, fiber.StatusSeeOther)
	}
	if old == nil {
		if raw := formInput(c); len(raw) > 0 {
			old = raw
		}
	}
	return flash.Error(c, messageFor(err), apperror.FieldsOf(err), old).Redirect(back, fiber.StatusSeeOther)
}

// formInput collects the posted form values, leaving out secrets
func formInput(c *fiber.Ctx) map[string]string {
	out := map[string]string{}
	c.Request().PostArgs().VisitAll(func(key, value []byte) {
		k := string(key)
		if strings.Contains(k, "password") || strings.Contains(k, "csrf") {
			return
		}
		out[k] = string(value)
	})
	return out
}

// respondSuccess redirects form submissions with a success message and
// answers JSON clients with the resulting data
func respondSuccess(c *fiber.Ctx, message, to string, data any) error {
	if middleware.WantsJSON(c) {
		status := fiber.StatusOK
		if c.Method() == fiber.MethodPost && data != nil {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(fiber.Map{"message": message, "data": data, "redirect": to})
	}
	return flash.Success(c, message).Redirect(to, fiber.StatusSeeOther)
}

// render answers a page request. Without a template layer the page model
// is sent as JSON together with a pending flash message.
func render(c *fiber.Ctx, view string, data fiber.Map) error {
	if data == nil {
		data = fiber.Map{}
	}
	data["view"] = view
	data["user"] = usercontext.GetUserContext(c)
	if token, ok := c.Locals("csrf").(string); ok && token != "" {
		data["csrf"] = token
	}
	if msg, ok := flash.Read(c); ok {
		data["flash"] = msg
	}
	return c.JSON(data)
}

// bind parses the request body into dst. An empty body leaves dst unchanged.
func bind(c *fiber.Ctx, dst any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(dst); err != nil {
		return apperror.Validation(map[string]string{"body": "could not be parsed"})
	}
	return nil
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil || id == 0 {
		return 0, apperror.NotFound("%s not found", name)
	}
	return uint(id), nil
}

func page(c *fiber.Ctx) (int, int) {
	p := c.QueryInt("page", 1)
	if p < 1 {
		p = 1
	}
	return p, (p - 1) * defaultPageSize
}

func strconvUint(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}

func tenantConnection(c *fiber.Ctx) (*tenant.Connection, error) {
	return usercontext.Connection(c)
}

func requestContext(c *fiber.Ctx) context.Context {
	return usercontext.RequestContext(c)
}

// dateParam parses a YYYY-MM-DD form or query value
func dateParam(raw string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", raw, time.UTC)
}

// checkboxValue reads the values browsers send for checked boxes
func checkboxValue(value string) reflect.Value {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "yes", "true", "1":
		return reflect.ValueOf(true)
	case "", "off", "no", "false", "0":
		return reflect.ValueOf(false)
	}
	return reflect.Value{}
}

// RegisterFormDecoders teaches the form parser about date and checkbox fields
func RegisterFormDecoders() {
	fiber.SetParserDecoder(fiber.ParserConfig{
		IgnoreUnknownKeys: true,
		ZeroEmpty:         true,
		ParserType: []fiber.ParserType{{
			Customtype: false,
			Converter:  checkboxValue,
		}, {
			Customtype: time.Time{},
			Converter: func(value string) reflect.Value {
				if t, err := dateParam(value); err == nil {
					return reflect.ValueOf(t)
				}
				if t, err := time.Parse(time.RFC3339, value); err == nil {
					return reflect.ValueOf(t)
				}
				return reflect.Value{}
			},
		}},
	})
}
