package flash

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	sflash "github.com/sujit-baniya/flash"
)

// Flash message key in locals
const FlashKey = "flash"

const (
	keyType    = "type"
	keyMessage = "message"
	keyFields  = "fields"
	keyOld     = "old"
)

// Message is a flash message as read back on the next request
type Message struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Old     map[string]any    `json:"old,omitempty"`
}

// Set sets a flash message for the current request only
func Set(c *fiber.Ctx, message fiber.Map) {
	c.Locals(FlashKey, message)
}

// Get retrieves the flash message of the current request, falling back to
// the cookie written by the previous one
func Get(c *fiber.Ctx) fiber.Map {
	if m, ok := c.Locals(FlashKey).(fiber.Map); ok {
		return m
	}
	return sflash.Get(c)
}

// Success stores a success message for the next request
func Success(c *fiber.Ctx, message string) *fiber.Ctx {
	return sflash.WithSuccess(c, fiber.Map{keyType: "success", keyMessage: message})
}

// Warning stores a warning for the next request
func Warning(c *fiber.Ctx, message string) *fiber.Ctx {
	return sflash.WithInfo(c, fiber.Map{keyType: "warning", keyMessage: message})
}

// Error stores an error for the next request together with field messages
// and the submitted form values so the form can be filled again.
// Flash values travel as strings, so both maps are stored as JSON.
func Error(c *fiber.Ctx, message string, fields map[string]string, old any) *fiber.Ctx {
	fm := fiber.Map{keyType: "error", keyMessage: message}
	if len(fields) > 0 {
		if b, err := json.Marshal(fields); err == nil {
			fm[keyFields] = string(b)
		}
	}
	if old != nil {
		if b, err := json.Marshal(old); err == nil && string(b) != "null" {
			fm[keyOld] = string(b)
		}
	}
	return sflash.WithError(c, fm)
}

// Read decodes the flash message of the request. ok is false when there is none.
func Read(c *fiber.Ctx) (Message, bool) {
	return decode(Get(c))
}

func decode(fm fiber.Map) (Message, bool) {
	if len(fm) == 0 {
		return Message{}, false
	}
	m := Message{
		Type:    stringOf(fm[keyType]),
		Message: stringOf(fm[keyMessage]),
	}
	if raw := stringOf(fm[keyFields]); raw != "" {
		_ = json.Unmarshal([]byte(raw), &m.Fields)
	}
	if raw := stringOf(fm[keyOld]); raw != "" {
		_ = json.Unmarshal([]byte(raw), &m.Old)
	}
	return m, m.Message != "" || len(m.Fields) > 0
}

func stringOf(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
