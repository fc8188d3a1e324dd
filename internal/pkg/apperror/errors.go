package apperror

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error for the operator-facing outcome mapping
type Kind string

const (
	KindValidation       Kind = "VALIDATION_FAILED"
	KindNotFound         Kind = "NOT_FOUND"
	KindConflict         Kind = "CONFLICT"
	KindConnection       Kind = "TENANT_CONNECTION_FAILED"
	KindNoTenantSelected Kind = "NO_TENANT_SELECTED"
	KindGateway          Kind = "BILLING_GATEWAY_FAILED"
	KindFatal            Kind = "FATAL"
)

// Error represents a classified application error
type Error struct {
	Kind    Kind              `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Err     error             `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+e.Fields[k])
		}
		return e.Message + " (" + strings.Join(parts, ", ") + ")"
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNoTenantSelected) works on wrapped copies
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// ErrNoTenantSelected is returned for tenant-scoped work without an active domain
var ErrNoTenantSelected = &Error{Kind: KindNoTenantSelected, Message: "no domain selected"}

// New creates a new Error
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap wraps an error with a kind and message
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation returns a validation error carrying per-field messages
func Validation(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Connection(err error, format string, args ...any) *Error {
	return &Error{Kind: KindConnection, Message: fmt.Sprintf(format, args...), Err: err}
}

// Gateway wraps a billing gateway failure for the named operation
func Gateway(op string, err error) *Error {
	return &Error{Kind: KindGateway, Message: "failed to synchronize with billing gateway (" + op + ")", Err: err}
}

// Fatal wraps an unexpected error. Already classified errors are returned unchanged.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: KindFatal, Message: "unexpected error", Err: err}
}

// KindOf returns the kind of err, or KindFatal for unclassified errors
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindFatal
}

// FieldsOf returns field messages of a validation error, or nil
func FieldsOf(err error) map[string]string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Fields
	}
	return nil
}

// IsKind reports whether err is classified as kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
