package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation(map[string]string{"name": "required"}), KindValidation},
		{"not found", NotFound("package %d not found", 4), KindNotFound},
		{"wrapped conflict", fmt.Errorf("delete: %w", Conflict("busy")), KindConflict},
		{"gateway", Gateway("create product", errors.New("boom")), KindGateway},
		{"plain error", errors.New("boom"), KindFatal},
		{"no tenant", ErrNoTenantSelected, KindNoTenantSelected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestErrNoTenantSelectedMatchesWrappedCopies(t *testing.T) {
	err := fmt.Errorf("list packages: %w", ErrNoTenantSelected)
	assert.True(t, errors.Is(err, ErrNoTenantSelected))
	assert.False(t, errors.Is(NotFound("x"), ErrNoTenantSelected))
}

func TestFatalKeepsClassifiedErrors(t *testing.T) {
	gw := Gateway("archive product", errors.New("timeout"))
	assert.Same(t, gw, Fatal(gw))

	f := Fatal(errors.New("disk full"))
	assert.Equal(t, KindFatal, KindOf(f))
	assert.Nil(t, Fatal(nil))
}

func TestErrorMessages(t *testing.T) {
	gw := Gateway("create product", errors.New("card_declined"))
	assert.Equal(t, "failed to synchronize with billing gateway (create product): card_declined", gw.Error())

	v := Validation(map[string]string{"name": "is required", "billing_type": "is invalid"})
	assert.Equal(t, "validation failed (billing_type: is invalid, name: is required)", v.Error())
	assert.Equal(t, "is required", FieldsOf(fmt.Errorf("x: %w", v))["name"])
}
